package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const startupAdvisoryLockID int64 = 731920465

const adminBootstrapSettingKey = "admin_bootstrap_complete"

// acquireStartupLock serializes first-boot work across replicas. The
// returned conn pins the advisory lock; closing it releases the lock.
func acquireStartupLock(ctx context.Context, db *sql.DB) (*sql.Conn, bool, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, startupAdvisoryLockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return conn, true, nil
}

// ensureBootstrapAdmin creates the initial admin account when no admin
// exists yet. Once any admin exists the bootstrap is sealed and the
// configured password is ignored.
func ensureBootstrapAdmin(ctx context.Context, db *sql.DB, ledger *RewardLedger, cfg Config) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	bootstrapComplete := false
	var bootstrapValue string
	if err := tx.QueryRowContext(ctx, `
		SELECT value
		FROM global_settings
		WHERE key = $1
		FOR UPDATE
	`, adminBootstrapSettingKey).Scan(&bootstrapValue); err == nil {
		bootstrapComplete = strings.ToLower(strings.TrimSpace(bootstrapValue)) == "true"
	} else if err != sql.ErrNoRows {
		return err
	}

	var adminID string
	adminErr := tx.QueryRowContext(ctx, `
		SELECT user_id
		FROM users
		WHERE role = 'admin'
		LIMIT 1
		FOR UPDATE
	`).Scan(&adminID)
	if adminErr == nil {
		if !bootstrapComplete {
			if err := sealBootstrapTx(ctx, tx); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Debug().Msg("admin bootstrap: admin already exists, skipping")
		return nil
	}
	if adminErr != sql.ErrNoRows {
		return adminErr
	}
	if bootstrapComplete {
		return errors.New("bootstrap sealed but no admin exists; refusing to start")
	}

	password := strings.TrimSpace(cfg.AdminBootstrapPassword)
	if password == "" {
		return errors.New("ADMIN_BOOTSTRAP_PASSWORD required for first boot")
	}
	if len(password) < 8 || len(password) > 128 {
		return errors.New("ADMIN_BOOTSTRAP_PASSWORD must be 8-128 characters")
	}

	userID := uuid.New().String()
	passwordHash, err := hashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id, username, password_hash, display_name, role, active, created_at, last_login_at)
		VALUES ($1, 'admin', $2, 'Administrator', 'admin', TRUE, $3, $3)
	`, userID, passwordHash, now); err != nil {
		return err
	}

	if err := ledger.createBalanceTx(ctx, tx, userID, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO admin_audit_log (admin_user_id, action_type, scope_type, scope_id, reason, created_at)
		VALUES ($1, 'admin_bootstrap', 'user', $1, 'first boot', $2)
	`, userID, now); err != nil {
		return err
	}

	if err := sealBootstrapTx(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Info().Str("username", "admin").Msg("admin bootstrap: created initial admin account")
	return nil
}

func sealBootstrapTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO global_settings (key, value, updated_at)
		VALUES ($1, 'true', NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, adminBootstrapSettingKey)
	return err
}
