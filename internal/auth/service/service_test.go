package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/wglabs/lifeos/internal/auth/storage"
	"github.com/wglabs/lifeos/internal/auth/user"
)

type fakeStore struct {
	users       map[string]user.User
	credentials map[string]user.Credential
	challenges  map[string]storage.Challenge

	putUserErr error
	getUserErr error
	listErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]user.User),
		credentials: make(map[string]user.Credential),
		challenges:  make(map[string]storage.Challenge),
	}
}

func (s *fakeStore) PutUser(_ context.Context, u user.User) error {
	if s.putUserErr != nil {
		return s.putUserErr
	}
	s.users[u.ID] = u
	return nil
}

func (s *fakeStore) GetUser(_ context.Context, userID string) (user.User, error) {
	if s.getUserErr != nil {
		return user.User{}, s.getUserErr
	}
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	if s.getUserErr != nil {
		return user.User{}, s.getUserErr
	}
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (s *fakeStore) RecordFailedLogin(_ context.Context, userID string, policy storage.FailedLoginPolicy, now time.Time) (user.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= policy.LockThreshold {
		u.Locked = true
		until := now.Add(policy.LockFor)
		u.LockedUntil = &until
	}
	u.UpdatedAt = now
	s.users[userID] = u
	return u, nil
}

func (s *fakeStore) ResetLoginState(_ context.Context, userID string, now time.Time) error {
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.FailedLoginAttempts = 0
	u.Locked = false
	u.LockedUntil = nil
	u.LastActivity = &now
	s.users[userID] = u
	return nil
}

func (s *fakeStore) MarkBiometricVerified(_ context.Context, userID string, verifiedAt time.Time, sessionExpiresAt time.Time) error {
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.LastBiometricVerification = &verifiedAt
	u.SessionExpiresAt = &sessionExpiresAt
	s.users[userID] = u
	return nil
}

func (s *fakeStore) EnableBiometrics(_ context.Context, userID string, verifiedAt time.Time) error {
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.BiometricEnabled = true
	u.LastBiometricVerification = &verifiedAt
	s.users[userID] = u
	return nil
}

func (s *fakeStore) ClearBiometricTrust(_ context.Context, userID string, now time.Time) error {
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.LastBiometricVerification = nil
	u.LastActivity = &now
	s.users[userID] = u
	return nil
}

func (s *fakeStore) PutCredential(_ context.Context, credential user.Credential) error {
	s.credentials[credential.ID] = credential
	return nil
}

func (s *fakeStore) GetCredential(_ context.Context, credentialID string) (user.Credential, error) {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return user.Credential{}, storage.ErrNotFound
	}
	return credential, nil
}

func (s *fakeStore) ListCredentialsByUser(_ context.Context, userID string) ([]user.Credential, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	credentials := make([]user.Credential, 0)
	for _, credential := range s.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, credential)
		}
	}
	sort.Slice(credentials, func(i, j int) bool { return credentials[i].ID < credentials[j].ID })
	return credentials, nil
}

func (s *fakeStore) UpdateCredentialCounter(_ context.Context, credentialID string, counter uint32, usedAt time.Time) error {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	credential.Counter = counter
	credential.LastUsedAt = &usedAt
	s.credentials[credentialID] = credential
	return nil
}

func (s *fakeStore) FlagCredentialCloned(_ context.Context, credentialID string, flaggedAt time.Time) error {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	credential.CloneWarning = true
	credential.UpdatedAt = flaggedAt
	s.credentials[credentialID] = credential
	return nil
}

func (s *fakeStore) DeleteCredential(_ context.Context, credentialID string) error {
	delete(s.credentials, credentialID)
	return nil
}

func (s *fakeStore) PutChallenge(_ context.Context, challenge storage.Challenge) error {
	s.challenges[challenge.ID] = challenge
	return nil
}

func (s *fakeStore) ConsumeChallengeForUser(_ context.Context, userID string, kind string, now time.Time) (storage.Challenge, error) {
	var (
		found storage.Challenge
		ok    bool
	)
	for _, challenge := range s.challenges {
		if challenge.UserID != userID || challenge.Kind != kind || !challenge.ExpiresAt.After(now) {
			continue
		}
		if !ok || challenge.CreatedAt.After(found.CreatedAt) {
			found = challenge
			ok = true
		}
	}
	if !ok {
		return storage.Challenge{}, storage.ErrNotFound
	}
	delete(s.challenges, found.ID)
	return found, nil
}

func (s *fakeStore) ConsumeLatestChallenge(_ context.Context, kind string, now time.Time) (storage.Challenge, error) {
	return s.ConsumeChallengeForUser(context.Background(), "", kind, now)
}

func (s *fakeStore) DeleteChallengesForUser(_ context.Context, userID string, kind string) error {
	for id, challenge := range s.challenges {
		if challenge.UserID == userID && challenge.Kind == kind {
			delete(s.challenges, id)
		}
	}
	return nil
}

func (s *fakeStore) DeleteExpiredChallenges(_ context.Context, now time.Time) error {
	for id, challenge := range s.challenges {
		if !challenge.ExpiresAt.After(now) {
			delete(s.challenges, id)
		}
	}
	return nil
}

type fakeProvider struct {
	credential           *webauthn.Credential
	beginRegistrationErr error
	beginLoginErr        error
	createErr            error
	validateErr          error

	lastSession webauthn.SessionData
}

func (f *fakeProvider) BeginRegistration(_ webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if f.beginRegistrationErr != nil {
		return nil, nil, f.beginRegistrationErr
	}
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "reg-challenge"}, nil
}

func (f *fakeProvider) CreateCredential(_ webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	f.lastSession = session
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.credential != nil {
		return f.credential, nil
	}
	return &webauthn.Credential{ID: []byte("cred")}, nil
}

func (f *fakeProvider) BeginLogin(_ webauthn.User, _ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginLoginErr != nil {
		return nil, nil, f.beginLoginErr
	}
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "login-challenge"}, nil
}

func (f *fakeProvider) BeginDiscoverableLogin(_ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginLoginErr != nil {
		return nil, nil, f.beginLoginErr
	}
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "anon-challenge"}, nil
}

func (f *fakeProvider) ValidateLogin(_ webauthn.User, session webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	f.lastSession = session
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	if f.credential != nil {
		return f.credential, nil
	}
	return &webauthn.Credential{ID: []byte("cred")}, nil
}

func (f *fakeProvider) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	f.lastSession = session
	if f.validateErr != nil {
		return nil, nil, f.validateErr
	}
	resolved, err := handler(nil, nil)
	if err != nil {
		return nil, nil, err
	}
	if f.credential != nil {
		return resolved, f.credential, nil
	}
	return resolved, &webauthn.Credential{ID: []byte("cred")}, nil
}

type fakeParser struct {
	creation  *protocol.ParsedCredentialCreationData
	assertion *protocol.ParsedCredentialAssertionData
	err       error
}

func (f *fakeParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.creation != nil {
		return f.creation, nil
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (f *fakeParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.assertion != nil {
		return f.assertion, nil
	}
	return &protocol.ParsedCredentialAssertionData{}, nil
}

func assertionFor(rawID []byte, userHandle string) *protocol.ParsedCredentialAssertionData {
	parsed := &protocol.ParsedCredentialAssertionData{}
	parsed.RawID = rawID
	parsed.Response.UserHandle = []byte(userHandle)
	return parsed
}

func encodeRawID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func sequentialIDs() func() (string, error) {
	counter := 0
	return func() (string, error) {
		counter++
		return fmt.Sprintf("id-%d", counter), nil
	}
}
