package main

import (
	"fmt"
	"time"
)

// credentialTTL is how long an issued credential is trusted before the chain
// re-runs proactively. The API sends no expiry of its own; six hours is well
// inside observed server-side validity.
const credentialTTL = 6 * time.Hour

// CredentialSet is the session material issued for one account token. It is
// valid only for the token that produced it, owned by the orchestration step
// processing that token, and never reused across tokens.
type CredentialSet struct {
	AuthorizationCode string
	SessionCredential string
	CredentialToken   string
	UserID            string
	ExpiresAt         time.Time
}

// Expired reports whether the credential should be refreshed before use.
func (cs *CredentialSet) Expired(now time.Time) bool {
	return !now.Before(cs.ExpiresAt)
}

// Exchanger drives the chain from a raw account token to a usable credential
// set: token -> authorization code -> credential pair.
type Exchanger struct {
	api      *SklandClient
	factory  *DeviceFactory
	identity *DeviceIdentity
	logger   Logger
	now      func() time.Time
}

// NewExchanger creates an Exchanger bound to one device identity.
func NewExchanger(api *SklandClient, factory *DeviceFactory, identity *DeviceIdentity, logger Logger) *Exchanger {
	return &Exchanger{
		api:      api,
		factory:  factory,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Obtain runs the full exchange for token and returns a fresh credential set
// stamped with a client-side expiry.
func (e *Exchanger) Obtain(token string) (*CredentialSet, error) {
	attest, err := e.factory.Attest(e.identity.ID)
	if err != nil {
		return nil, fmt.Errorf("device attest: %w", err)
	}

	grant, err := e.api.GrantCode(token, attest, e.identity.Payload)
	if err != nil {
		return nil, fmt.Errorf("obtain authorization code: %w", err)
	}
	e.logger.Log("authorization code issued for %s", MaskToken(token))

	cred, err := e.api.GenerateCred(grant.Code, token)
	if err != nil {
		return nil, fmt.Errorf("generate credential: %w", err)
	}

	expiresAt := e.now().Add(credentialTTL)
	e.logger.Log("credential issued (user %s, valid until %s)", cred.UserID, expiresAt.Format(time.RFC3339))

	return &CredentialSet{
		AuthorizationCode: grant.Code,
		SessionCredential: cred.Cred,
		CredentialToken:   cred.Token,
		UserID:            cred.UserID,
		ExpiresAt:         expiresAt,
	}, nil
}

// Ensure returns cred unchanged while it is still valid and re-runs the
// exchange when it has expired.
func (e *Exchanger) Ensure(token string, cred *CredentialSet) (*CredentialSet, error) {
	if cred != nil && !cred.Expired(e.now()) {
		return cred, nil
	}
	if cred != nil {
		e.logger.Log("credential expired, refreshing")
	}
	return e.Obtain(token)
}
