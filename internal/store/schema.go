package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables this service owns. Idempotent, run at startup.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL UNIQUE,
			id_no BIGINT NOT NULL UNIQUE,
			first_name TEXT NOT NULL,
			middle_name TEXT,
			last_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			security_question TEXT NOT NULL DEFAULT '',
			security_answer_hash TEXT NOT NULL DEFAULT '',
			security_exempt BOOLEAN NOT NULL DEFAULT FALSE,
			account_status TEXT NOT NULL DEFAULT 'active',
			role TEXT NOT NULL DEFAULT 'customer',
			failed_login_attempts INT NOT NULL DEFAULT 0,
			last_login_attempt TIMESTAMPTZ,
			otp TEXT,
			otp_expiry TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_otp ON accounts (otp) WHERE otp IS NOT NULL;

		CREATE TABLE IF NOT EXISTS event_outbox (
			id BIGSERIAL PRIMARY KEY,
			exchange TEXT NOT NULL,
			routing_key TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processing_started_at TIMESTAMPTZ,
			published_at TIMESTAMPTZ,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_event_outbox_due
			ON event_outbox (next_attempt_at) WHERE status = 'pending';
	`)
	return err
}
