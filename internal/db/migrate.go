package db

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              SERIAL PRIMARY KEY,
	email           TEXT NOT NULL UNIQUE,
	first_name      TEXT NOT NULL DEFAULT '',
	last_name       TEXT NOT NULL DEFAULT '',
	department      TEXT NOT NULL DEFAULT '',
	organization_id INTEGER,
	role            TEXT NOT NULL DEFAULT 'user'
);

CREATE TABLE IF NOT EXISTS templates (
	id         SERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'general',
	subject    TEXT NOT NULL DEFAULT '',
	body_html  TEXT NOT NULL,
	action_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS training_modules (
	id       SERIAL PRIMARY KEY,
	title    TEXT NOT NULL,
	category TEXT NOT NULL,
	active   BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS campaigns (
	id                    SERIAL PRIMARY KEY,
	name                  TEXT NOT NULL,
	kind                  TEXT NOT NULL,
	status                TEXT NOT NULL,
	template_id           INTEGER NOT NULL REFERENCES templates(id),
	remediation_module_id INTEGER REFERENCES training_modules(id),
	scheduled_at          TIMESTAMPTZ,
	sent_count            INTEGER NOT NULL DEFAULT 0,
	opened_count          INTEGER NOT NULL DEFAULT 0,
	clicked_count         INTEGER NOT NULL DEFAULT 0,
	submitted_count       INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at            TIMESTAMPTZ,
	completed_at          TIMESTAMPTZ,
	updated_at            TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_campaigns_status_scheduled ON campaigns (status, scheduled_at);

CREATE TABLE IF NOT EXISTS targets (
	id               SERIAL PRIMARY KEY,
	campaign_id      INTEGER NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	user_id          INTEGER NOT NULL REFERENCES users(id),
	token            TEXT NOT NULL UNIQUE,
	sent             BOOLEAN NOT NULL DEFAULT FALSE,
	sent_at          TIMESTAMPTZ,
	opened           BOOLEAN NOT NULL DEFAULT FALSE,
	opened_at        TIMESTAMPTZ,
	clicked          BOOLEAN NOT NULL DEFAULT FALSE,
	clicked_at       TIMESTAMPTZ,
	submitted        BOOLEAN NOT NULL DEFAULT FALSE,
	submitted_at     TIMESTAMPTZ,
	click_ip         TEXT NOT NULL DEFAULT '',
	click_user_agent TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (campaign_id, user_id)
);

CREATE TABLE IF NOT EXISTS training_failures (
	id          UUID PRIMARY KEY,
	user_id     INTEGER NOT NULL REFERENCES users(id),
	campaign_id INTEGER NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	target_id   INTEGER NOT NULL UNIQUE,
	category    TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS training_sessions (
	id         UUID PRIMARY KEY,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	module_id  INTEGER NOT NULL REFERENCES training_modules(id),
	status     TEXT NOT NULL,
	progress   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_training_sessions_reassigned
	ON training_sessions (user_id, module_id) WHERE status = 'reassigned';
`

// RunMigrations ensures required tables exist. This keeps the service
// self-contained without an external migration step.
func RunMigrations(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
