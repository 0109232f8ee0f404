package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

const (
	grantOKBody = `{"status":0,"msg":"OK","data":{"code":"authcode123","uid":"999"}}`
	credOKBody  = `{"code":0,"message":"OK","data":{"cred":"cred-abc","userId":"42","token":"credtoken-xyz"}}`
)

func newTestExchanger(t *testing.T, responses ...scriptedResponse) (*Exchanger, *scriptedTransport, *DeviceIdentity) {
	t.Helper()
	factory := newTestFactory(t)
	identity, err := factory.Generate()
	if err != nil {
		t.Fatalf("failed to generate device identity: %v", err)
	}

	transport := &scriptedTransport{t: t, responses: responses}
	api := NewSklandClient(transport, NewSigner(identity.ID), NewRetrier(1, nil), noopLogger{})
	return NewExchanger(api, factory, identity, noopLogger{}), transport, identity
}

func TestObtain(t *testing.T) {
	exchanger, transport, identity := newTestExchanger(t,
		scriptedResponse{body: grantOKBody},
		scriptedResponse{body: credOKBody},
	)
	fixedNow := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	exchanger.now = func() time.Time { return fixedNow }

	cred, err := exchanger.Obtain("account-token-value")
	if err != nil {
		t.Fatalf("Obtain failed: %v", err)
	}

	if cred.AuthorizationCode != "authcode123" {
		t.Errorf("AuthorizationCode = %q", cred.AuthorizationCode)
	}
	if cred.SessionCredential != "cred-abc" || cred.CredentialToken != "credtoken-xyz" {
		t.Errorf("credential pair = %q / %q", cred.SessionCredential, cred.CredentialToken)
	}
	if cred.UserID != "42" {
		t.Errorf("UserID = %q", cred.UserID)
	}
	if want := fixedNow.Add(credentialTTL); !cred.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", cred.ExpiresAt, want)
	}

	if len(transport.requests) != 2 {
		t.Fatalf("made %d requests, want 2", len(transport.requests))
	}

	grant := transport.requests[0]
	if grant.path != oauthGrantPath {
		t.Errorf("first call hit %s, want %s", grant.path, oauthGrantPath)
	}
	var body grantRequest
	if err := json.Unmarshal([]byte(grant.body), &body); err != nil {
		t.Fatalf("grant body is not JSON: %v", err)
	}
	if body.DeviceAttest == "" {
		t.Error("grant body missing device attestation")
	}
	if body.DeviceFp != identity.Payload {
		t.Error("grant body does not carry the device fingerprint payload")
	}

	gen := transport.requests[1]
	if gen.path != generateCredPath {
		t.Errorf("second call hit %s, want %s", gen.path, generateCredPath)
	}
	if want := `{"code":"authcode123","kind":1}`; gen.body != want {
		t.Errorf("cred body %s, want %s", gen.body, want)
	}

	// Both legs sign with the account token; the issued credential token only
	// takes over afterwards.
	for i, req := range transport.requests {
		ts := headerValue(req.header, "Timestamp")
		want := NewSigner(identity.ID).Sign(req.method, req.path, req.body, ts, "account-token-value")
		if got := headerValue(req.header, "Sign"); got != want {
			t.Errorf("request %d signature mismatch\ngot:  %s\nwant: %s", i+1, got, want)
		}
	}
}

func TestObtainGrantFailure(t *testing.T) {
	exchanger, transport, _ := newTestExchanger(t,
		scriptedResponse{body: `{"status":100,"msg":"token invalid","data":null}`},
	)

	_, err := exchanger.Obtain("account-token-value")
	if err == nil || !strings.Contains(err.Error(), "obtain authorization code") {
		t.Fatalf("got %v, want wrapped grant failure", err)
	}
	if len(transport.requests) != 1 {
		t.Errorf("made %d requests, want 1 (chain must stop at the failed leg)", len(transport.requests))
	}
}

func TestObtainCredFailureKeepsClassification(t *testing.T) {
	exchanger, _, _ := newTestExchanger(t,
		scriptedResponse{body: grantOKBody},
		scriptedResponse{body: `{"code":10002,"message":"login expired","data":null}`},
	)

	_, err := exchanger.Obtain("account-token-value")
	if err == nil || !strings.Contains(err.Error(), "generate credential") {
		t.Fatalf("got %v, want wrapped credential failure", err)
	}
	if !IsAuthRejection(err) {
		t.Error("wrapping hid the auth rejection from errors.As")
	}
}

func TestEnsure(t *testing.T) {
	t.Run("valid_credential_reused", func(t *testing.T) {
		exchanger, transport, _ := newTestExchanger(t)

		cred := testCred()
		got, err := exchanger.Ensure("account-token-value", cred)
		if err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
		if got != cred {
			t.Error("valid credential was replaced")
		}
		if len(transport.requests) != 0 {
			t.Errorf("made %d requests, want 0", len(transport.requests))
		}
	})

	t.Run("expired_credential_refreshed", func(t *testing.T) {
		exchanger, transport, _ := newTestExchanger(t,
			scriptedResponse{body: grantOKBody},
			scriptedResponse{body: credOKBody},
		)

		stale := testCred()
		stale.ExpiresAt = time.Now().Add(-time.Minute)

		got, err := exchanger.Ensure("account-token-value", stale)
		if err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
		if got == stale {
			t.Error("expired credential was kept")
		}
		if len(transport.requests) != 2 {
			t.Errorf("made %d requests, want 2", len(transport.requests))
		}
	})

	t.Run("nil_credential_obtained", func(t *testing.T) {
		exchanger, transport, _ := newTestExchanger(t,
			scriptedResponse{body: grantOKBody},
			scriptedResponse{body: credOKBody},
		)

		got, err := exchanger.Ensure("account-token-value", nil)
		if err != nil {
			t.Fatalf("Ensure failed: %v", err)
		}
		if got == nil {
			t.Fatal("Ensure returned nil credential")
		}
		if len(transport.requests) != 2 {
			t.Errorf("made %d requests, want 2", len(transport.requests))
		}
	})
}

func TestCredentialExpired(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	cred := &CredentialSet{ExpiresAt: now.Add(credentialTTL)}

	if cred.Expired(now) {
		t.Error("fresh credential reported expired")
	}
	if cred.Expired(now.Add(credentialTTL - time.Second)) {
		t.Error("credential expired one second early")
	}
	if !cred.Expired(now.Add(credentialTTL)) {
		t.Error("credential not expired at the boundary")
	}
	if !cred.Expired(now.Add(credentialTTL + time.Hour)) {
		t.Error("credential not expired past the boundary")
	}
}
