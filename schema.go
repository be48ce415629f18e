package main

import (
	"database/sql"
)

func ensureSchema(db *sql.DB) error {

	// users + balances
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			last_login_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		ALTER TABLE users
			ADD COLUMN IF NOT EXISTS bio TEXT;
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		ALTER TABLE users
			ADD COLUMN IF NOT EXISTS avatar_url TEXT;
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS user_balances (
			user_id TEXT PRIMARY KEY,
			total_points BIGINT NOT NULL DEFAULT 0 CHECK (total_points >= 0),
			current_streak BIGINT NOT NULL DEFAULT 0,
			longest_streak BIGINT NOT NULL DEFAULT 0,
			last_streak_date DATE,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			issued_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ,
			user_agent TEXT,
			ip TEXT
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id
		ON refresh_tokens (user_id, revoked_at);
	`)
	if err != nil {
		return err
	}

	// habits
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS habits (
			habit_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			category TEXT,
			points INT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_habits_user_id
		ON habits (user_id);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS habit_progress (
			habit_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			streak BIGINT NOT NULL DEFAULT 0,
			total_completions BIGINT NOT NULL DEFAULT 0,
			last_completed TIMESTAMPTZ
		);
	`)
	if err != nil {
		return err
	}

	// events
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			org_id TEXT,
			created_by TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			location TEXT,
			starts_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			points INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'upcoming',
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS event_participants (
			event_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL,
			attended BOOLEAN NOT NULL DEFAULT FALSE,
			attended_at TIMESTAMPTZ,
			PRIMARY KEY (event_id, user_id)
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS event_credits (
			event_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			credited_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (event_id, user_id, reason)
		);
	`)
	if err != nil {
		return err
	}

	// organizations + store
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS organizations (
			org_id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS org_members (
			org_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (org_id, user_id)
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			product_id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			points_cost INT NOT NULL,
			stock INT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS purchase_log (
			id BIGSERIAL PRIMARY KEY,
			product_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			quantity INT NOT NULL,
			points_cost INT NOT NULL,
			points_spent BIGINT NOT NULL,
			points_before BIGINT NOT NULL,
			points_after BIGINT NOT NULL,
			stock_after INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// communities + posts
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS communities (
			community_id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			created_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS community_members (
			community_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (community_id, user_id)
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS posts (
			post_id TEXT PRIMARY KEY,
			community_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			content TEXT NOT NULL,
			total_appreciation_points BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS post_appreciations (
			id BIGSERIAL PRIMARY KEY,
			post_id TEXT NOT NULL,
			from_user TEXT NOT NULL,
			points INT NOT NULL CHECK (points >= 1 AND points <= 100),
			message TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_post_appreciations_post_id
		ON post_appreciations (post_id);
	`)
	if err != nil {
		return err
	}

	// reward ledger audit log
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS points_ledger_log (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			reference_id TEXT,
			amount BIGINT NOT NULL,
			points_before BIGINT NOT NULL,
			points_after BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_points_ledger_log_user_id
		ON points_ledger_log (user_id, created_at);
	`)
	if err != nil {
		return err
	}

	// daily check-in claims
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS checkin_claims (
			user_id TEXT PRIMARY KEY,
			last_claim_at TIMESTAMPTZ NOT NULL,
			claim_count BIGINT NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return err
	}

	// notifications
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT,
			target_role TEXT NOT NULL DEFAULT 'user',
			category TEXT NOT NULL DEFAULT 'general',
			message TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT 'info',
			link TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS notification_reads (
			notification_id BIGINT NOT NULL,
			user_id TEXT NOT NULL,
			read_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (notification_id, user_id)
		);
	`)
	if err != nil {
		return err
	}

	// activity telemetry
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS activity_log (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT,
			event_type TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS user_feedback (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT,
			rating INT,
			message TEXT NOT NULL,
			context JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// auth rate limiting
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS auth_rate_limits (
			ip TEXT NOT NULL,
			action TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			attempt_count INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (ip, action)
		);
	`)
	if err != nil {
		return err
	}

	// settings + admin audit
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS global_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS admin_audit_log (
			id BIGSERIAL PRIMARY KEY,
			admin_user_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			scope_type TEXT NOT NULL,
			scope_id TEXT,
			reason TEXT,
			details TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	return nil
}
