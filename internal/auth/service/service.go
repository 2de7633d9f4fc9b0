// Package service implements the auth domain operations: password login with
// account lockout, WebAuthn ceremonies, and session token issuance.
package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/wglabs/lifeos/internal/auth/passkey"
	"github.com/wglabs/lifeos/internal/auth/session"
	"github.com/wglabs/lifeos/internal/auth/storage"
	"github.com/wglabs/lifeos/internal/auth/user"
	"github.com/wglabs/lifeos/internal/platform/id"
)

const (
	// failedLoginThreshold is how many wrong passwords lock an account.
	failedLoginThreshold = 5
	// lockoutDuration is how long a locked account stays locked.
	lockoutDuration = 15 * time.Minute
	// biometricTrustWindow is how long a WebAuthn verification vouches for a
	// biometric login. The window is deliberately short: the verify call and
	// the login call happen back to back in the same client flow.
	biometricTrustWindow = 30 * time.Second
)

// Store is the persistence surface the auth service needs.
type Store interface {
	storage.UserStore
	storage.CredentialStore
	storage.ChallengeStore
}

type webauthnProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type assertionParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// AuthService coordinates password and WebAuthn authentication over the
// stores and the relying-party provider.
type AuthService struct {
	store           Store
	sessions        *session.Issuer
	passkeyConfig   passkey.Config
	loginPolicy     storage.FailedLoginPolicy
	webAuthn        webauthnProvider
	webAuthnInitErr error
	parser          assertionParser
	clock           func() time.Time
	idGenerator     func() (string, error)
}

// NewAuthService builds a service with defaults for the auth package.
//
// Defaults are intentionally assembled here so transport handlers can treat
// this as the canonical auth domain entrypoint.
func NewAuthService(store Store, sessions *session.Issuer) *AuthService {
	config := passkey.LoadConfigFromEnv()
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
	})
	return &AuthService{
		store:         store,
		sessions:      sessions,
		passkeyConfig: config,
		loginPolicy: storage.FailedLoginPolicy{
			LockThreshold: failedLoginThreshold,
			LockFor:       lockoutDuration,
		},
		webAuthn:        webAuthn,
		webAuthnInitErr: err,
		parser:          defaultParser{},
		clock:           time.Now,
		idGenerator:     id.NewID,
	}
}

// webauthnUser adapts a user record and its stored credentials to the
// relying-party library's user contract.
type webauthnUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.user.Email
}

func (u *webauthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *AuthService) loadWebAuthnUser(ctx context.Context, base user.User) (*webauthnUser, error) {
	records, err := s.store.ListCredentialsByUser(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	credentials, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: base, credentials: credentials}, nil
}

func decodeStoredCredentials(records []user.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		rawID, err := decodeCredentialID(record.ID)
		if err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.ID, err)
		}
		transports := make([]protocol.AuthenticatorTransport, 0, len(record.Transports))
		for _, transport := range record.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(transport))
		}
		credentials = append(credentials, webauthn.Credential{
			ID:        rawID,
			PublicKey: record.PublicKey,
			Transport: transports,
			Flags: webauthn.CredentialFlags{
				BackupEligible: record.BackupEligible,
				BackupState:    record.BackupState,
			},
			Authenticator: webauthn.Authenticator{
				SignCount: record.Counter,
			},
		})
	}
	return credentials, nil
}

func credentialFromWebAuthn(userID string, credential webauthn.Credential, now time.Time) user.Credential {
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	return user.Credential{
		ID:             encodeCredentialID(credential.ID),
		UserID:         userID,
		PublicKey:      credential.PublicKey,
		Counter:        credential.Authenticator.SignCount,
		Transports:     transports,
		BackupEligible: credential.Flags.BackupEligible,
		BackupState:    credential.Flags.BackupState,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(user.NormalizeCredentialID(encoded))
}
