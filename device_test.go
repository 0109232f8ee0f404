package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"testing"
)

const testAppSecret = "0123456789abcdef"

func newTestFactory(t *testing.T) *DeviceFactory {
	t.Helper()
	f, err := NewDeviceFactory(testAppSecret, defaultAttestKeyPEM)
	if err != nil {
		t.Fatalf("failed to create device factory: %v", err)
	}
	return f
}

func TestNewDeviceFactoryRejectsBadSecret(t *testing.T) {
	for _, secret := range []string{"", "short", "0123456789abcde", "0123456789abcdefg"} {
		_, err := NewDeviceFactory(secret, defaultAttestKeyPEM)
		if err == nil {
			t.Errorf("secret %q (%d bytes) accepted, want error", secret, len(secret))
			continue
		}
		if !IsFatalError(err) {
			t.Errorf("secret %q: error not fatal: %v", secret, err)
		}
	}
}

func TestNewDeviceFactoryRejectsBadAttestKey(t *testing.T) {
	tests := []struct {
		name string
		pem  string
	}{
		{"empty", ""},
		{"not_pem", "definitely not a key"},
		{"corrupt_block", "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDeviceFactory(testAppSecret, tt.pem)
			if err == nil {
				t.Fatal("bad attestation key accepted, want error")
			}
			if !IsFatalError(err) {
				t.Errorf("error not fatal: %v", err)
			}
		})
	}
}

func TestDefaultAttestKeyParses(t *testing.T) {
	if _, err := NewDeviceFactory(testAppSecret, defaultAttestKeyPEM); err != nil {
		t.Fatalf("embedded attestation key does not parse: %v", err)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	f := newTestFactory(t)

	identity, err := f.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(identity.ID) != 33 || identity.ID[0] != 'B' {
		t.Errorf("device id %q, want 'B' plus 32 hex chars", identity.ID)
	}
	if _, err := hex.DecodeString(identity.ID[1:]); err != nil {
		t.Errorf("device id suffix is not hex: %q", identity.ID)
	}

	fp, err := f.Decode(identity.Payload)
	if err != nil {
		t.Fatalf("Decode failed on freshly generated payload: %v", err)
	}

	if fp.OS != "Android" {
		t.Errorf("fingerprint os = %q, want Android", fp.OS)
	}
	if fp.Platform != AppPlatform {
		t.Errorf("fingerprint platform = %q, want %q", fp.Platform, AppPlatform)
	}
	if fp.AppVersion != AppVName {
		t.Errorf("fingerprint appVersion = %q, want %q", fp.AppVersion, AppVName)
	}
	if fp.Brand == "" || fp.Model == "" || fp.Resolution == "" || fp.SessionID == "" {
		t.Errorf("fingerprint has empty attributes: %+v", fp)
	}
	if fp.Density == 0 || fp.InstallID == "" || len(fp.SensorHash) != 32 {
		t.Errorf("fingerprint missing device detail: %+v", fp)
	}
	if fp.BootTime >= fp.GeneratedAt {
		t.Errorf("boot time %d not before generation time %d", fp.BootTime, fp.GeneratedAt)
	}
}

func TestGenerateProducesDistinctIdentities(t *testing.T) {
	f := newTestFactory(t)

	a, err := f.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	b, err := f.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if a.ID == b.ID {
		t.Errorf("two generations produced the same device id %s", a.ID)
	}
	for _, identity := range []*DeviceIdentity{a, b} {
		if _, err := f.Decode(identity.Payload); err != nil {
			t.Errorf("payload for %s fails validation: %v", identity.ID, err)
		}
	}
}

func TestDecodeRejectsTampering(t *testing.T) {
	f := newTestFactory(t)

	identity, err := f.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	blob, err := base64.StdEncoding.DecodeString(identity.Payload)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}

	flip := func(i int) string {
		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[i] ^= 0x01
		return base64.StdEncoding.EncodeToString(tampered)
	}

	t.Run("ciphertext_bit_flip", func(t *testing.T) {
		if _, err := f.Decode(flip(0)); err == nil {
			t.Error("tampered ciphertext passed validation")
		}
	})

	t.Run("checksum_bit_flip", func(t *testing.T) {
		if _, err := f.Decode(flip(len(blob) - 1)); err == nil {
			t.Error("tampered checksum passed validation")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString(blob[:8])
		if _, err := f.Decode(short); err == nil {
			t.Error("truncated payload passed validation")
		}
	})

	t.Run("not_base64", func(t *testing.T) {
		if _, err := f.Decode("%%%not-base64%%%"); err == nil {
			t.Error("non-base64 payload passed validation")
		}
	})
}

func TestDecodeWrongSecret(t *testing.T) {
	f := newTestFactory(t)
	other, err := NewDeviceFactory("fedcba9876543210", defaultAttestKeyPEM)
	if err != nil {
		t.Fatalf("failed to create second factory: %v", err)
	}

	identity, err := f.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := other.Decode(identity.Payload); err == nil {
		t.Error("payload decoded under a different app secret")
	}
}

func TestAttestRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	f, err := NewDeviceFactory(testAppSecret, pubPEM)
	if err != nil {
		t.Fatalf("failed to create factory with test key: %v", err)
	}

	const deviceID = "B4c9a1f0e2d3c4b5a69788796a5b4c3d2"
	sealed, err := f.Attest(deviceID)
	if err != nil {
		t.Fatalf("Attest failed: %v", err)
	}

	ct, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("attestation is not base64: %v", err)
	}
	plain, err := rsa.DecryptPKCS1v15(nil, key, ct)
	if err != nil {
		t.Fatalf("attestation does not decrypt: %v", err)
	}

	id, nonce, found := strings.Cut(string(plain), "|")
	if !found {
		t.Fatalf("attestation message %q missing separator", plain)
	}
	if id != deviceID {
		t.Errorf("attested device id = %q, want %q", id, deviceID)
	}
	if len(nonce) != 16 {
		t.Errorf("nonce %q, want 16 hex chars", nonce)
	}
	if _, err := hex.DecodeString(nonce); err != nil {
		t.Errorf("nonce is not hex: %q", nonce)
	}

	// Nonce and RSA blinding both randomize; a repeat must not reproduce it.
	again, err := f.Attest(deviceID)
	if err != nil {
		t.Fatalf("second Attest failed: %v", err)
	}
	if again == sealed {
		t.Error("two attestations produced identical ciphertext")
	}
}
