package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wglabs/lifeos/internal/auth/storage"
	"github.com/wglabs/lifeos/internal/auth/user"
	apperrors "github.com/wglabs/lifeos/internal/platform/errors"
)

const userColumns = `id, email, password_hash, role, is_active,
	failed_login_attempts, is_locked, locked_until,
	biometric_enabled, last_biometric_verification, last_activity,
	session_expires_at, created_at, updated_at`

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	email = excluded.email,
	password_hash = excluded.password_hash,
	role = excluded.role,
	is_active = excluded.is_active,
	failed_login_attempts = excluded.failed_login_attempts,
	is_locked = excluded.is_locked,
	locked_until = excluded.locked_until,
	biometric_enabled = excluded.biometric_enabled,
	last_biometric_verification = excluded.last_biometric_verification,
	last_activity = excluded.last_activity,
	session_expires_at = excluded.session_expires_at,
	updated_at = excluded.updated_at`,
		u.ID, u.Email, u.PasswordHash, u.Role, boolToInt(u.Active),
		u.FailedLoginAttempts, boolToInt(u.Locked), optionalMillis(u.LockedUntil),
		boolToInt(u.BiometricEnabled), optionalMillis(u.LastBiometricVerification),
		optionalMillis(u.LastActivity), optionalMillis(u.SessionExpiresAt),
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
			return apperrors.New(apperrors.CodeUserEmailTaken, "email is already registered")
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

// GetUserByEmail fetches a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(email) == "" {
		return user.User{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// RecordFailedLogin bumps the failed-login counter and applies the lockout
// policy in one conditional update so concurrent wrong-password attempts
// serialize in the database instead of racing a read-modify-write.
func (s *Store) RecordFailedLogin(ctx context.Context, userID string, policy storage.FailedLoginPolicy, now time.Time) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}
	if policy.LockThreshold <= 0 {
		return user.User{}, fmt.Errorf("lock threshold must be positive")
	}

	lockedUntil := toMillis(now.Add(policy.LockFor))
	row := s.sqlDB.QueryRowContext(ctx, `
UPDATE users SET
	failed_login_attempts = failed_login_attempts + 1,
	is_locked = CASE WHEN failed_login_attempts + 1 >= ?2 THEN 1 ELSE is_locked END,
	locked_until = CASE WHEN failed_login_attempts + 1 >= ?2 THEN ?3 ELSE locked_until END,
	updated_at = ?4
WHERE id = ?1
RETURNING `+userColumns,
		userID, policy.LockThreshold, lockedUntil, toMillis(now),
	)
	return scanUser(row)
}

// ResetLoginState clears lockout bookkeeping after a successful password login.
func (s *Store) ResetLoginState(ctx context.Context, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET
	failed_login_attempts = 0,
	is_locked = 0,
	locked_until = NULL,
	last_activity = ?2,
	updated_at = ?2
WHERE id = ?1`,
		userID, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}
	return requireRow(result)
}

// MarkBiometricVerified stamps the biometric trust window and session expiry.
func (s *Store) MarkBiometricVerified(ctx context.Context, userID string, verifiedAt time.Time, sessionExpiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET
	last_biometric_verification = ?2,
	last_activity = ?2,
	session_expires_at = ?3,
	updated_at = ?2
WHERE id = ?1`,
		userID, toMillis(verifiedAt), toMillis(sessionExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("mark biometric verified: %w", err)
	}
	return requireRow(result)
}

// EnableBiometrics turns the biometric flag on after credential registration.
func (s *Store) EnableBiometrics(ctx context.Context, userID string, verifiedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET
	biometric_enabled = 1,
	last_biometric_verification = ?2,
	updated_at = ?2
WHERE id = ?1`,
		userID, toMillis(verifiedAt),
	)
	if err != nil {
		return fmt.Errorf("enable biometrics: %w", err)
	}
	return requireRow(result)
}

// ClearBiometricTrust drops the verification timestamp after a biometric
// login spends it.
func (s *Store) ClearBiometricTrust(ctx context.Context, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET
	last_biometric_verification = NULL,
	last_activity = ?2,
	updated_at = ?2
WHERE id = ?1`,
		userID, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("clear biometric trust: %w", err)
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var (
		u           user.User
		active      int64
		locked      int64
		biometric   int64
		lockedUntil sql.NullInt64
		lastBio     sql.NullInt64
		lastAct     sql.NullInt64
		sessExp     sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &active,
		&u.FailedLoginAttempts, &locked, &lockedUntil,
		&biometric, &lastBio, &lastAct,
		&sessExp, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}

	u.Active = active != 0
	u.Locked = locked != 0
	u.BiometricEnabled = biometric != 0
	u.LockedUntil = optionalTime(lockedUntil)
	u.LastBiometricVerification = optionalTime(lastBio)
	u.LastActivity = optionalTime(lastAct)
	u.SessionExpiresAt = optionalTime(sessExp)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func optionalMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func optionalTime(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	restored := fromMillis(value.Int64)
	return &restored
}
