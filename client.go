package main

import (
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// AppProfile bundles a TLS client profile with the app identity headers sent
// alongside it.
type AppProfile struct {
	TLSProfile profiles.ClientProfile
	UserAgent  string
	Platform   string
	VName      string
}

// DefaultProfile is the default app profile used for new clients.
// Set to SklandAndroidProfile in tls_okhttp.go.
var DefaultProfile = SklandAndroidProfile

// NewClient builds the HTTP client every API call runs through. The timeout
// is the per-call ceiling feeding the retry budget; there is no other
// cancellation path.
func NewClient(logger tls_client.Logger, proxyURL string, timeoutSeconds int) (tls_client.HttpClient, error) {
	return NewClientWithProfile(logger, proxyURL, timeoutSeconds, DefaultProfile.TLSProfile)
}

func NewClientWithProfile(logger tls_client.Logger, proxyURL string, timeoutSeconds int, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(timeoutSeconds),
		tls_client.WithClientProfile(profile),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(jar),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}
