// Package user provides auth user and credential records.
package user

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/wglabs/lifeos/internal/platform/errors"
	"github.com/wglabs/lifeos/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeUserEmptyEmail, "email is required")
	// ErrInvalidEmail indicates an email that does not parse as an address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeUserInvalidEmail, "email is invalid")
	// ErrWeakPassword indicates a password below the minimum length.
	ErrWeakPassword = apperrors.New(apperrors.CodeUserWeakPassword, "password must be at least 8 characters")
)

// Role names the coarse authorization tier stored on the user record.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

const minPasswordLength = 8

// User represents an authenticated identity record.
//
// Lockout and biometric fields are mutated only by the authenticator and the
// WebAuthn ceremonies; everything else is set at registration.
type User struct {
	ID                        string
	Email                     string
	PasswordHash              string
	Role                      string
	Active                    bool
	FailedLoginAttempts       int
	Locked                    bool
	LockedUntil               *time.Time
	BiometricEnabled          bool
	LastBiometricVerification *time.Time
	LastActivity              *time.Time
	SessionExpiresAt          *time.Time
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// LockedNow reports whether the account lockout window is still open at now.
func (u User) LockedNow(now time.Time) bool {
	return u.Locked && u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Credential represents one registered WebAuthn authenticator.
//
// The ID is an opaque base64 identifier; comparisons must ignore trailing
// padding because encode and decode libraries disagree about it.
type Credential struct {
	ID             string
	UserID         string
	PublicKey      []byte
	Counter        uint32
	Transports     []string
	BackupEligible bool
	BackupState    bool
	CloneWarning   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// MatchesID reports whether the credential's id equals other after trailing
// base64 padding is stripped from both sides.
func (c Credential) MatchesID(other string) bool {
	return NormalizeCredentialID(c.ID) == NormalizeCredentialID(other)
}

// NormalizeCredentialID strips trailing base64 padding from a credential id.
func NormalizeCredentialID(credentialID string) string {
	return strings.TrimRight(strings.TrimSpace(credentialID), "=")
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Role         string
}

// NormalizeEmail trims and lowercases an address after validating it.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmptyEmail
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

// ValidatePassword enforces the minimum password policy before hashing.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// The service layer treats this as the canonical point where untrusted
// registration data becomes a stable identity used by every auth path.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return User{}, err
	}
	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = RoleMember
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:           userID,
		Email:        email,
		PasswordHash: input.PasswordHash,
		Role:         role,
		Active:       true,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}, nil
}
