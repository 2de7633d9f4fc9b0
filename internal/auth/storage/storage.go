// Package storage defines the persistence contracts for the auth service.
package storage

import (
	"context"
	"time"

	"github.com/wglabs/lifeos/internal/auth/user"
	"github.com/wglabs/lifeos/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// FailedLoginPolicy controls the atomic failed-login update.
type FailedLoginPolicy struct {
	LockThreshold int
	LockFor       time.Duration
}

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	// RecordFailedLogin increments the failed-login counter and applies the
	// lockout policy in a single conditional update, returning the user as
	// written. Concurrent wrong-password attempts must serialize on this.
	RecordFailedLogin(ctx context.Context, userID string, policy FailedLoginPolicy, now time.Time) (user.User, error)
	// ResetLoginState clears the failed-login counter and lock fields and
	// stamps last activity after a successful password login.
	ResetLoginState(ctx context.Context, userID string, now time.Time) error
	// MarkBiometricVerified stamps the biometric trust window and session
	// expiry after a successful WebAuthn authentication.
	MarkBiometricVerified(ctx context.Context, userID string, verifiedAt time.Time, sessionExpiresAt time.Time) error
	// EnableBiometrics flips the biometric flag after the first successful
	// credential registration.
	EnableBiometrics(ctx context.Context, userID string, verifiedAt time.Time) error
	// ClearBiometricTrust drops the verification timestamp once a biometric
	// login has spent it. The trust window is single-use.
	ClearBiometricTrust(ctx context.Context, userID string, now time.Time) error
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	PutCredential(ctx context.Context, credential user.Credential) error
	GetCredential(ctx context.Context, credentialID string) (user.Credential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]user.Credential, error)
	// UpdateCredentialCounter replaces the stored signature counter and
	// stamps last use.
	UpdateCredentialCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time) error
	// FlagCredentialCloned marks a credential whose counter regressed.
	FlagCredentialCloned(ctx context.Context, credentialID string, flaggedAt time.Time) error
	DeleteCredential(ctx context.Context, credentialID string) error
}

// Challenge is one outstanding single-use WebAuthn nonce.
//
// UserID is empty for passwordless ceremonies: the account is resolved from
// the authenticator's user handle only after the assertion comes back, so the
// row must not name an account up front.
type Challenge struct {
	ID        string
	UserID    string
	Kind      string
	Challenge string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ChallengeStore persists single-use WebAuthn challenges.
//
// Consume operations delete the row and return it in one statement; a
// challenge is never observable twice.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, challenge Challenge) error
	// ConsumeChallengeForUser deletes and returns the newest non-expired
	// challenge of the given kind for a user. ErrNotFound when none exists.
	ConsumeChallengeForUser(ctx context.Context, userID string, kind string, now time.Time) (Challenge, error)
	// ConsumeLatestChallenge deletes and returns the newest non-expired
	// user-less challenge of the given kind, irrespective of which ceremony
	// created it. ErrNotFound when none exists.
	ConsumeLatestChallenge(ctx context.Context, kind string, now time.Time) (Challenge, error)
	// DeleteChallengesForUser drops a user's outstanding challenges of one
	// kind so at most one is pending per ceremony.
	DeleteChallengesForUser(ctx context.Context, userID string, kind string) error
	DeleteExpiredChallenges(ctx context.Context, now time.Time) error
}
