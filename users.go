package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	errUsernameTaken      = errors.New("USERNAME_TAKEN")
	errInvalidUsername    = errors.New("INVALID_USERNAME")
	errInvalidPassword    = errors.New("INVALID_PASSWORD")
	errInvalidDisplayName = errors.New("INVALID_DISPLAY_NAME")
)

func createUser(ctx context.Context, db *sql.DB, ledger *RewardLedger, username string, password string, email string, displayName string) (*User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if len(username) < 3 || len(username) > 32 || !isValidSlug(username) {
		return nil, errInvalidUsername
	}
	if len(password) < 8 || len(password) > 128 {
		return nil, errInvalidPassword
	}
	if displayName == "" {
		displayName = username
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	userID := uuid.New().String()
	now := time.Now().UTC()

	// The user row and the zeroed balance row commit together; a user
	// without a balance is unrepresentable.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (
			user_id,
			username,
			email,
			password_hash,
			display_name,
			role,
			active,
			created_at,
			last_login_at
		)
		VALUES ($1, $2, $3, $4, $5, 'user', TRUE, $6, $6)
	`, userID, username, nullableString(email), hash, displayName, now)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, errUsernameTaken
		}
		return nil, err
	}

	if err := ledger.createBalanceTx(ctx, tx, userID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &User{
		UserID:      userID,
		Username:    username,
		Email:       email,
		DisplayName: displayName,
		Role:        "user",
		Active:      true,
	}, nil
}

func authenticateUser(ctx context.Context, db *sql.DB, username string, password string) (*User, error) {
	username = strings.TrimSpace(strings.ToLower(username))

	var u User
	var email sql.NullString
	var hash string
	err := db.QueryRowContext(ctx, `
		SELECT user_id, username, email, password_hash, display_name, role, active
		FROM users
		WHERE username = $1
	`, username).Scan(&u.UserID, &u.Username, &email, &hash, &u.DisplayName, &u.Role, &u.Active)
	if err == sql.ErrNoRows {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = email.String
	}
	u.Role = normalizeRole(u.Role)

	if !verifyPassword(hash, password) {
		return nil, errInvalidCredentials
	}
	if !u.Active {
		return nil, errAccountDisabled
	}

	_, _ = db.ExecContext(ctx, `
		UPDATE users
		SET last_login_at = NOW()
		WHERE user_id = $1
	`, u.UserID)

	return &u, nil
}

func updateUserProfile(ctx context.Context, db *sql.DB, userID string, displayName string, email string, bio string, avatarURL string) error {
	if displayName == "" {
		return errInvalidDisplayName
	}
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET display_name = $2,
			email = $3,
			bio = $4,
			avatar_url = $5
		WHERE user_id = $1
	`, userID, displayName, nullableString(email), nullableString(bio), nullableString(avatarURL))
	return err
}

// deactivateUser soft-disables the account. The balance row stays; the
// ledger never deletes balances.
func deactivateUser(ctx context.Context, db *sql.DB, userID string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE users
		SET active = FALSE
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errNotFound
	}
	revokeUserRefreshTokens(db, userID)
	return nil
}

func setUserRole(ctx context.Context, db *sql.DB, userID string, role string) error {
	role = normalizeRole(role)
	result, err := db.ExecContext(ctx, `
		UPDATE users
		SET role = $2
		WHERE user_id = $1
	`, userID, role)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errNotFound
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
