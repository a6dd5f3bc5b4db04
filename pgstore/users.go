package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	wardAuth "github.com/MrEthical07/wardAuth"
	"github.com/jackc/pgx/v5"
)

// Users is the credential store over the users table.
type Users struct {
	db DB
}

var (
	_ wardAuth.UserStore           = (*Users)(nil)
	_ wardAuth.PasswordHashUpdater = (*Users)(nil)
)

func NewUsers(db DB) *Users {
	return &Users{db: db}
}

// FindByUsername matches case-insensitively and returns
// wardAuth.ErrUserNotFound when no row exists.
func (s *Users) FindByUsername(ctx context.Context, username string) (*wardAuth.UserRecord, error) {
	var (
		u      wardAuth.UserRecord
		locked *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash, failed_login_count, locked_until, is_active
		FROM users WHERE lower(username) = lower($1)`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FailedLoginCount, &locked, &u.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wardAuth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if locked != nil {
		u.LockedUntil = *locked
	}
	return &u, nil
}

func (s *Users) RecordFailedAttempt(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		UPDATE users SET failed_login_count = failed_login_count + 1, updated_at = now()
		WHERE id = $1 RETURNING failed_login_count`, userID,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wardAuth.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record failed attempt: %w", err)
	}
	return n, nil
}

// ResetFailedAttempts clears the counter and any lock.
func (s *Users) ResetFailedAttempts(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET failed_login_count = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1 AND (failed_login_count <> 0 OR locked_until IS NOT NULL)`, userID)
	if err != nil {
		return fmt.Errorf("reset failed attempts: %w", err)
	}
	return nil
}

func (s *Users) LockAccount(ctx context.Context, userID string, until time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET locked_until = $2, updated_at = now() WHERE id = $1`, userID, until.UTC())
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return wardAuth.ErrUserNotFound
	}
	return nil
}

func (s *Users) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

// Create inserts a user. It is used by seeding and tests; account
// administration lives outside this module.
func (s *Users) Create(ctx context.Context, u wardAuth.UserRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, is_active) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.IsActive)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
