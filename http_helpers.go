package main

import (
	"io"

	http "github.com/bogdanfinn/fhttp"
)

// PseudoHeaderOrder is the HTTP/2 pseudo-header order OkHttp emits. It must
// match the order baked into the TLS profile.
var PseudoHeaderOrder = []string{
	":method",
	":path",
	":authority",
	":scheme",
}

// readResponseBody decompresses and reads the full response body.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response) ([]byte, error) {
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}
