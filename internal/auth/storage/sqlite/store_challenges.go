package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wglabs/lifeos/internal/auth/storage"
)

const challengeColumns = `id, user_id, kind, challenge, created_at, expires_at`

// PutChallenge stores one outstanding WebAuthn challenge.
func (s *Store) PutChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(challenge.ID) == "" {
		return fmt.Errorf("challenge id is required")
	}
	if strings.TrimSpace(challenge.Kind) == "" {
		return fmt.Errorf("challenge kind is required")
	}
	if strings.TrimSpace(challenge.Challenge) == "" {
		return fmt.Errorf("challenge value is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO webauthn_challenges (`+challengeColumns+`)
VALUES (?, ?, ?, ?, ?, ?)`,
		challenge.ID, nullableString(challenge.UserID), challenge.Kind,
		challenge.Challenge, toMillis(challenge.CreatedAt), toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

// ConsumeChallengeForUser deletes and returns the newest live challenge of
// one kind for a user. The delete and read happen in one statement so the
// same challenge can never verify two assertions.
func (s *Store) ConsumeChallengeForUser(ctx context.Context, userID string, kind string, now time.Time) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Challenge{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return storage.Challenge{}, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(kind) == "" {
		return storage.Challenge{}, fmt.Errorf("challenge kind is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM webauthn_challenges
WHERE id = (
	SELECT id FROM webauthn_challenges
	WHERE user_id = ?1 AND kind = ?2 AND expires_at > ?3
	ORDER BY created_at DESC, id DESC
	LIMIT 1
)
RETURNING `+challengeColumns,
		userID, kind, toMillis(now),
	)
	return scanChallenge(row)
}

// ConsumeLatestChallenge deletes and returns the newest live user-less
// challenge of one kind. Passwordless assertions carry no account hint, so
// the row is matched by recency alone.
func (s *Store) ConsumeLatestChallenge(ctx context.Context, kind string, now time.Time) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Challenge{}, err
	}
	if strings.TrimSpace(kind) == "" {
		return storage.Challenge{}, fmt.Errorf("challenge kind is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
DELETE FROM webauthn_challenges
WHERE id = (
	SELECT id FROM webauthn_challenges
	WHERE user_id IS NULL AND kind = ?1 AND expires_at > ?2
	ORDER BY created_at DESC, id DESC
	LIMIT 1
)
RETURNING `+challengeColumns,
		kind, toMillis(now),
	)
	return scanChallenge(row)
}

// DeleteChallengesForUser drops a user's outstanding challenges of one kind.
func (s *Store) DeleteChallengesForUser(ctx context.Context, userID string, kind string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(kind) == "" {
		return fmt.Errorf("challenge kind is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM webauthn_challenges WHERE user_id = ? AND kind = ?`,
		userID, kind,
	)
	if err != nil {
		return fmt.Errorf("delete challenges: %w", err)
	}
	return nil
}

// DeleteExpiredChallenges removes challenges past their expiry.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM webauthn_challenges WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired challenges: %w", err)
	}
	return nil
}

func scanChallenge(row rowScanner) (storage.Challenge, error) {
	var (
		challenge storage.Challenge
		userID    sql.NullString
		createdAt int64
		expiresAt int64
	)
	err := row.Scan(&challenge.ID, &userID, &challenge.Kind, &challenge.Challenge, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("scan challenge: %w", err)
	}

	challenge.UserID = userID.String
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	return challenge, nil
}

func nullableString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
