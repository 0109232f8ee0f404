package main

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// signedHeader is the header subset covered by the signature. Field order
// matters: the server re-serializes these fields in this exact key order and
// compares digests, so the struct must marshal as platform, timestamp, dId,
// vName with no spacing.
type signedHeader struct {
	Platform  string `json:"platform"`
	Timestamp string `json:"timestamp"`
	DID       string `json:"dId"`
	VName     string `json:"vName"`
}

// Signer computes the Sign header value the API silently expects on every
// authenticated call. One Signer serves one device identity; the secret
// rotates with the credential chain and is supplied per call.
type Signer struct {
	Platform string
	VName    string
	DeviceID string
}

// NewSigner creates a Signer bound to a device identity.
func NewSigner(deviceID string) *Signer {
	return &Signer{
		Platform: AppPlatform,
		VName:    AppVName,
		DeviceID: deviceID,
	}
}

// Sign computes the signature over one request. payload is the raw JSON body
// for POST and the raw encoded query string for GET. The scheme is
// hex(MD5(hex(HMAC-SHA256(canonical, secret)))): the HMAC digest is hex
// encoded before the MD5 pass, both encodings lowercase. Any deviation in
// method casing, field order, or encoding gets a silent rejection from the
// server rather than an explicit signature error.
func (s *Signer) Sign(method, path, payload, timestamp, secret string) string {
	header := signedHeader{
		Platform:  s.Platform,
		Timestamp: timestamp,
		DID:       s.DeviceID,
		VName:     s.VName,
	}
	headerJSON, _ := json.Marshal(header)

	canonical := strings.ToUpper(method) + path + payload + timestamp + string(headerJSON)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	hmacHex := hex.EncodeToString(mac.Sum(nil))

	sum := md5.Sum([]byte(hmacHex))
	return hex.EncodeToString(sum[:])
}

// Timestamp returns the current Unix timestamp in seconds as a string, the
// granularity the signature scheme expects.
func Timestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
