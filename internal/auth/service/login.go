package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wglabs/lifeos/internal/auth/session"
	"github.com/wglabs/lifeos/internal/auth/storage"
	"github.com/wglabs/lifeos/internal/auth/user"
	apperrors "github.com/wglabs/lifeos/internal/platform/errors"
)

// LoginMethod selects how a login request is checked.
type LoginMethod string

const (
	// LoginMethodPassword checks the submitted password against the stored
	// hash and counts failures toward lockout.
	LoginMethodPassword LoginMethod = "password"
	// LoginMethodBiometric accepts a login on the strength of a WebAuthn
	// verification completed within the trust window. No password required.
	LoginMethodBiometric LoginMethod = "biometric"
)

// RegisterInput carries a new account request.
type RegisterInput struct {
	Email    string
	Password string
	Role     string
}

// AuthResult is a successful authentication: a signed session token plus the
// identity it names.
type AuthResult struct {
	Token string
	User  session.Payload
}

// Register creates an account with a hashed password.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (user.User, error) {
	if s.store == nil {
		return user.User{}, apperrors.New(apperrors.CodeUnknown, "user store is not configured")
	}

	if err := user.ValidatePassword(input.Password); err != nil {
		return user.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := user.CreateUser(user.CreateUserInput{
		Email:        input.Email,
		PasswordHash: string(hash),
		Role:         input.Role,
	}, s.clock, s.idGenerator)
	if err != nil {
		return user.User{}, err
	}

	if err := s.store.PutUser(ctx, created); err != nil {
		return user.User{}, err
	}
	return created, nil
}

// Login authenticates an email with either a password or a recent biometric
// verification and issues a session token.
//
// Unknown emails and wrong passwords return the same error so the endpoint
// cannot be used to enumerate accounts. Lockout and inactive states are
// distinguishable: the account holder already knows the account exists.
func (s *AuthService) Login(ctx context.Context, email, password string, method LoginMethod) (AuthResult, error) {
	if s.store == nil {
		return AuthResult{}, apperrors.New(apperrors.CodeUnknown, "user store is not configured")
	}
	if s.sessions == nil {
		return AuthResult{}, apperrors.New(apperrors.CodeUnknown, "session issuer is not configured")
	}

	normalized, err := user.NormalizeEmail(email)
	if err != nil {
		return AuthResult{}, errInvalidCredentials()
	}

	account, err := s.store.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AuthResult{}, errInvalidCredentials()
		}
		return AuthResult{}, err
	}

	now := s.clock().UTC()
	if account.LockedNow(now) {
		return AuthResult{}, errAccountLocked(account, now)
	}
	if !account.Active {
		return AuthResult{}, apperrors.New(apperrors.CodeAccountInactive, "account is deactivated")
	}

	switch method {
	case LoginMethodBiometric:
		if err := s.checkBiometricTrust(account, now); err != nil {
			return AuthResult{}, err
		}
		if err := s.store.ClearBiometricTrust(ctx, account.ID, now); err != nil {
			return AuthResult{}, err
		}
	case LoginMethodPassword, "":
		if strings.TrimSpace(password) == "" {
			return AuthResult{}, errInvalidCredentials()
		}
		if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
			return AuthResult{}, s.recordFailure(ctx, account, now)
		}
		if err := s.store.ResetLoginState(ctx, account.ID, now); err != nil {
			return AuthResult{}, err
		}
	default:
		return AuthResult{}, apperrors.New(apperrors.CodeInvalidInput, "unsupported login method")
	}

	payload := session.PayloadFromUser(account)
	token, err := s.sessions.Issue(payload)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, User: payload}, nil
}

// recordFailure counts a wrong password and reports lockout when the attempt
// crossed the threshold. The counter update is atomic in the store, so two
// racing failures cannot both observe the pre-lock count.
func (s *AuthService) recordFailure(ctx context.Context, account user.User, now time.Time) error {
	updated, err := s.store.RecordFailedLogin(ctx, account.ID, s.loginPolicy, now)
	if err != nil {
		return err
	}
	if updated.LockedNow(now) {
		return errAccountLocked(updated, now)
	}
	return errInvalidCredentials()
}

func (s *AuthService) checkBiometricTrust(account user.User, now time.Time) error {
	if !account.BiometricEnabled || account.LastBiometricVerification == nil {
		return errInvalidCredentials()
	}
	if now.Sub(*account.LastBiometricVerification) > biometricTrustWindow {
		return errInvalidCredentials()
	}
	return nil
}

func errInvalidCredentials() error {
	return apperrors.New(apperrors.CodeInvalidCredentials, "invalid email or password")
}

func errAccountLocked(account user.User, now time.Time) error {
	const message = "account is locked due to too many failed login attempts"
	if account.LockedUntil == nil {
		return apperrors.New(apperrors.CodeAccountLocked, message)
	}
	remaining := account.LockedUntil.Sub(now)
	minutes := int(remaining.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return apperrors.WithMetadata(apperrors.CodeAccountLocked, message, map[string]string{
		"locked_until":          account.LockedUntil.UTC().Format(time.RFC3339),
		"retry_after_minutes":   strconv.Itoa(minutes),
		"failed_login_attempts": strconv.Itoa(account.FailedLoginAttempts),
	})
}
