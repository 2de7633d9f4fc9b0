package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/wglabs/lifeos/internal/auth/passkey"
	"github.com/wglabs/lifeos/internal/auth/session"
	"github.com/wglabs/lifeos/internal/auth/storage"
	"github.com/wglabs/lifeos/internal/auth/user"
	apperrors "github.com/wglabs/lifeos/internal/platform/errors"
)

// BeginWebAuthnRegistration starts a credential registration ceremony for an
// existing account and returns the creation options for the browser.
//
// Any prior registration challenge for the account is discarded: at most one
// registration is in flight per user.
func (s *AuthService) BeginWebAuthnRegistration(ctx context.Context, email string) (*protocol.CredentialCreation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	account, err := s.lookupAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	waUser, err := s.loadWebAuthnUser(ctx, account)
	if err != nil {
		return nil, err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(waUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(waUser.credentials).CredentialDescriptors()))
	}

	creation, sessionData, err := s.webAuthn.BeginRegistration(waUser, options...)
	if err != nil {
		return nil, fmt.Errorf("begin webauthn registration: %w", err)
	}

	if err := s.store.DeleteChallengesForUser(ctx, account.ID, string(passkey.ChallengeKindRegistration)); err != nil {
		return nil, err
	}
	if err := s.storeChallenge(ctx, account.ID, passkey.ChallengeKindRegistration, sessionData); err != nil {
		return nil, err
	}
	return creation, nil
}

// WebAuthnRegistrationResult is a completed credential registration.
type WebAuthnRegistrationResult struct {
	User         user.User
	CredentialID string
}

// FinishWebAuthnRegistration verifies an attestation response against the
// account's outstanding challenge and stores the new credential.
//
// The challenge is consumed before verification runs, so a response can never
// be replayed: a second attempt with the same challenge fails as missing.
func (s *AuthService) FinishWebAuthnRegistration(ctx context.Context, email string, response []byte) (WebAuthnRegistrationResult, error) {
	if err := s.ready(); err != nil {
		return WebAuthnRegistrationResult{}, err
	}
	if len(response) == 0 {
		return WebAuthnRegistrationResult{}, apperrors.New(apperrors.CodeInvalidInput, "credential response is required")
	}

	account, err := s.lookupAccount(ctx, email)
	if err != nil {
		return WebAuthnRegistrationResult{}, err
	}

	now := s.clock().UTC()
	challenge, err := s.store.ConsumeChallengeForUser(ctx, account.ID, string(passkey.ChallengeKindRegistration), now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return WebAuthnRegistrationResult{}, errChallengeMissing()
		}
		return WebAuthnRegistrationResult{}, err
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return WebAuthnRegistrationResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, "parse credential response", err)
	}

	waUser, err := s.loadWebAuthnUser(ctx, account)
	if err != nil {
		return WebAuthnRegistrationResult{}, err
	}
	credential, err := s.webAuthn.CreateCredential(waUser, s.sessionFromChallenge(challenge), parsed)
	if err != nil {
		return WebAuthnRegistrationResult{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "verify registration response", err)
	}

	record := credentialFromWebAuthn(account.ID, *credential, now)
	if err := s.store.PutCredential(ctx, record); err != nil {
		return WebAuthnRegistrationResult{}, err
	}
	if err := s.store.EnableBiometrics(ctx, account.ID, now); err != nil {
		return WebAuthnRegistrationResult{}, err
	}

	account.BiometricEnabled = true
	return WebAuthnRegistrationResult{User: account, CredentialID: record.ID}, nil
}

// BeginWebAuthnAuthentication starts an assertion ceremony.
//
// With an email the options name the account's registered credentials. With
// an empty email the ceremony is passwordless: the browser picks a
// discoverable credential and the account is resolved from the user handle
// when the assertion comes back.
func (s *AuthService) BeginWebAuthnAuthentication(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(email) == "" {
		assertion, sessionData, err := s.webAuthn.BeginDiscoverableLogin()
		if err != nil {
			return nil, fmt.Errorf("begin discoverable login: %w", err)
		}
		if err := s.storeChallenge(ctx, "", passkey.ChallengeKindAuthentication, sessionData); err != nil {
			return nil, err
		}
		return assertion, nil
	}

	account, err := s.lookupAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	waUser, err := s.loadWebAuthnUser(ctx, account)
	if err != nil {
		return nil, err
	}
	if !account.BiometricEnabled || len(waUser.credentials) == 0 {
		return nil, apperrors.New(apperrors.CodeCredentialNotFound, "no credentials registered for this account")
	}

	assertion, sessionData, err := s.webAuthn.BeginLogin(waUser)
	if err != nil {
		return nil, fmt.Errorf("begin webauthn login: %w", err)
	}

	if err := s.store.DeleteChallengesForUser(ctx, account.ID, string(passkey.ChallengeKindAuthentication)); err != nil {
		return nil, err
	}
	if err := s.storeChallenge(ctx, account.ID, passkey.ChallengeKindAuthentication, sessionData); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishWebAuthnAuthentication verifies an assertion, opens the biometric
// trust window, and issues a session token.
//
// The outstanding challenge is consumed before the credential is even looked
// at; missing-challenge and unknown-credential failures are reported as
// distinct codes so the client can restart the right ceremony.
func (s *AuthService) FinishWebAuthnAuthentication(ctx context.Context, email string, response []byte) (AuthResult, error) {
	if err := s.ready(); err != nil {
		return AuthResult{}, err
	}
	if s.sessions == nil {
		return AuthResult{}, apperrors.New(apperrors.CodeUnknown, "session issuer is not configured")
	}
	if len(response) == 0 {
		return AuthResult{}, apperrors.New(apperrors.CodeInvalidInput, "credential response is required")
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return AuthResult{}, apperrors.Wrap(apperrors.CodeInvalidInput, "parse credential response", err)
	}

	account, challenge, err := s.resolveAssertionAccount(ctx, email, parsed)
	if err != nil {
		return AuthResult{}, err
	}

	records, err := s.store.ListCredentialsByUser(ctx, account.ID)
	if err != nil {
		return AuthResult{}, err
	}
	stored, err := matchCredential(records, parsed)
	if err != nil {
		return AuthResult{}, err
	}
	credentials, err := decodeStoredCredentials(records)
	if err != nil {
		return AuthResult{}, err
	}
	waUser := &webauthnUser{user: account, credentials: credentials}

	validated, err := s.validateAssertion(ctx, waUser, challenge, parsed)
	if err != nil {
		return AuthResult{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "verify authentication response", err)
	}

	now := s.clock().UTC()
	if validated.Authenticator.CloneWarning {
		if flagErr := s.store.FlagCredentialCloned(ctx, stored.ID, now); flagErr != nil {
			return AuthResult{}, flagErr
		}
		return AuthResult{}, apperrors.New(apperrors.CodeVerificationFailed, "credential signature counter regressed")
	}

	if err := s.store.UpdateCredentialCounter(ctx, stored.ID, validated.Authenticator.SignCount, now); err != nil {
		return AuthResult{}, err
	}
	if err := s.store.MarkBiometricVerified(ctx, account.ID, now, now.Add(s.sessions.TTL())); err != nil {
		return AuthResult{}, err
	}

	account.BiometricEnabled = true
	payload := session.PayloadFromUser(account)
	token, err := s.sessions.Issue(payload)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, User: payload}, nil
}

// resolveAssertionAccount finds the account behind an assertion and consumes
// its challenge. Email-keyed ceremonies use the account's own challenge row;
// passwordless ceremonies resolve the account from the authenticator's user
// handle and consume the newest user-less challenge.
func (s *AuthService) resolveAssertionAccount(ctx context.Context, email string, parsed *protocol.ParsedCredentialAssertionData) (user.User, storage.Challenge, error) {
	now := s.clock().UTC()

	if strings.TrimSpace(email) != "" {
		account, err := s.lookupAccount(ctx, email)
		if err != nil {
			return user.User{}, storage.Challenge{}, err
		}
		challenge, err := s.store.ConsumeChallengeForUser(ctx, account.ID, string(passkey.ChallengeKindAuthentication), now)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return user.User{}, storage.Challenge{}, errChallengeMissing()
			}
			return user.User{}, storage.Challenge{}, err
		}
		return account, challenge, nil
	}

	userHandle := strings.TrimSpace(string(parsed.Response.UserHandle))
	if userHandle == "" {
		return user.User{}, storage.Challenge{}, apperrors.New(apperrors.CodeInvalidCredentials, "assertion carries no user handle")
	}
	account, err := s.store.GetUser(ctx, userHandle)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, storage.Challenge{}, errInvalidCredentials()
		}
		return user.User{}, storage.Challenge{}, err
	}

	challenge, err := s.store.ConsumeLatestChallenge(ctx, string(passkey.ChallengeKindAuthentication), now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, storage.Challenge{}, errChallengeMissing()
		}
		return user.User{}, storage.Challenge{}, err
	}
	return account, challenge, nil
}

// validateAssertion delegates signature verification to the relying-party
// library. Passwordless ceremonies carry no user id in the reconstructed
// session, so they go through the discoverable validator with the account
// already resolved.
func (s *AuthService) validateAssertion(ctx context.Context, waUser *webauthnUser, challenge storage.Challenge, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	sessionData := s.sessionFromChallenge(challenge)
	if challenge.UserID != "" {
		return s.webAuthn.ValidateLogin(waUser, sessionData, parsed)
	}

	handler := func(_, _ []byte) (webauthn.User, error) {
		return waUser, nil
	}
	_, credential, err := s.webAuthn.ValidatePasskeyLogin(handler, sessionData, parsed)
	return credential, err
}

// matchCredential finds the stored record for the asserted credential id,
// comparing with base64 padding stripped because browsers and libraries
// disagree on whether to include it.
func matchCredential(records []user.Credential, parsed *protocol.ParsedCredentialAssertionData) (user.Credential, error) {
	assertedID := encodeCredentialID(parsed.RawID)
	for _, record := range records {
		if record.MatchesID(assertedID) {
			return record, nil
		}
	}
	return user.Credential{}, apperrors.New(apperrors.CodeCredentialNotFound, "credential is not registered for this account")
}

// sessionFromChallenge rebuilds the relying-party session from a stored
// challenge row.
func (s *AuthService) sessionFromChallenge(challenge storage.Challenge) webauthn.SessionData {
	data := webauthn.SessionData{
		Challenge: challenge.Challenge,
		Expires:   challenge.ExpiresAt,
	}
	if challenge.UserID != "" {
		data.UserID = []byte(challenge.UserID)
	}
	return data
}

func (s *AuthService) storeChallenge(ctx context.Context, userID string, kind passkey.ChallengeKind, sessionData *webauthn.SessionData) error {
	if sessionData == nil {
		return fmt.Errorf("session data is required")
	}
	challengeID, err := s.idGenerator()
	if err != nil {
		return fmt.Errorf("generate challenge id: %w", err)
	}
	now := s.clock().UTC()
	return s.store.PutChallenge(ctx, storage.Challenge{
		ID:        challengeID,
		UserID:    userID,
		Kind:      string(kind),
		Challenge: sessionData.Challenge,
		CreatedAt: now,
		ExpiresAt: now.Add(s.passkeyConfig.ChallengeTTL),
	})
}

// lookupAccount resolves an email to an account. Unknown emails come back as
// generic invalid credentials so WebAuthn endpoints cannot enumerate
// accounts either.
func (s *AuthService) lookupAccount(ctx context.Context, email string) (user.User, error) {
	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return user.User{}, errInvalidCredentials()
	}
	account, err := s.store.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, errInvalidCredentials()
		}
		return user.User{}, err
	}
	return account, nil
}

func (s *AuthService) ready() error {
	if s.store == nil {
		return apperrors.New(apperrors.CodeUnknown, "auth store is not configured")
	}
	if s.webAuthnInitErr != nil || s.webAuthn == nil {
		return apperrors.New(apperrors.CodeUnknown, "webauthn configuration is not available")
	}
	if s.parser == nil {
		return apperrors.New(apperrors.CodeUnknown, "webauthn parser is not configured")
	}
	return nil
}

func errChallengeMissing() error {
	return apperrors.New(apperrors.CodeChallengeExpiredOrMissing, "challenge has expired or was already used")
}
