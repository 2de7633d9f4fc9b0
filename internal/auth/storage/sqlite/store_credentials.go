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
)

const credentialColumns = `credential_id, user_id, public_key, counter,
	transports, backup_eligible, backup_state, clone_warning,
	created_at, updated_at, last_used_at`

// PutCredential inserts or replaces a WebAuthn credential.
func (s *Store) PutCredential(ctx context.Context, credential user.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credential.ID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("credential user id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("credential public key is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO webauthn_credentials (`+credentialColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(credential_id) DO UPDATE SET
	public_key = excluded.public_key,
	counter = excluded.counter,
	transports = excluded.transports,
	backup_eligible = excluded.backup_eligible,
	backup_state = excluded.backup_state,
	clone_warning = excluded.clone_warning,
	updated_at = excluded.updated_at,
	last_used_at = excluded.last_used_at`,
		credential.ID, credential.UserID, credential.PublicKey, credential.Counter,
		strings.Join(credential.Transports, ","),
		boolToInt(credential.BackupEligible), boolToInt(credential.BackupState),
		boolToInt(credential.CloneWarning),
		toMillis(credential.CreatedAt), toMillis(credential.UpdatedAt),
		optionalMillis(credential.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential fetches a credential by its exact stored id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (user.Credential, error) {
	if err := ctx.Err(); err != nil {
		return user.Credential{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.Credential{}, err
	}
	if strings.TrimSpace(credentialID) == "" {
		return user.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM webauthn_credentials WHERE credential_id = ?`,
		credentialID,
	)
	return scanCredential(row)
}

// ListCredentialsByUser returns a user's credentials ordered by creation.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]user.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM webauthn_credentials
WHERE user_id = ? ORDER BY created_at ASC, credential_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []user.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialCounter replaces the signature counter and stamps last use.
func (s *Store) UpdateCredentialCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE webauthn_credentials SET
	counter = ?2,
	last_used_at = ?3,
	updated_at = ?3
WHERE credential_id = ?1`,
		credentialID, counter, toMillis(usedAt),
	)
	if err != nil {
		return fmt.Errorf("update credential counter: %w", err)
	}
	return requireRow(result)
}

// FlagCredentialCloned marks a credential whose signature counter regressed.
func (s *Store) FlagCredentialCloned(ctx context.Context, credentialID string, flaggedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE webauthn_credentials SET
	clone_warning = 1,
	updated_at = ?2
WHERE credential_id = ?1`,
		credentialID, toMillis(flaggedAt),
	)
	if err != nil {
		return fmt.Errorf("flag credential cloned: %w", err)
	}
	return requireRow(result)
}

// DeleteCredential removes a credential by id.
func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM webauthn_credentials WHERE credential_id = ?`, credentialID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return requireRow(result)
}

func scanCredential(row rowScanner) (user.Credential, error) {
	var (
		credential     user.Credential
		transports     string
		backupEligible int64
		backupState    int64
		cloned         int64
		createdAt      int64
		updatedAt      int64
		lastUsed       sql.NullInt64
	)
	err := row.Scan(
		&credential.ID, &credential.UserID, &credential.PublicKey, &credential.Counter,
		&transports, &backupEligible, &backupState, &cloned,
		&createdAt, &updatedAt, &lastUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.Credential{}, storage.ErrNotFound
		}
		return user.Credential{}, fmt.Errorf("scan credential: %w", err)
	}

	if transports != "" {
		credential.Transports = strings.Split(transports, ",")
	}
	credential.BackupEligible = backupEligible != 0
	credential.BackupState = backupState != 0
	credential.CloneWarning = cloned != 0
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	credential.LastUsedAt = optionalTime(lastUsed)
	return credential, nil
}
