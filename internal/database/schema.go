package database

// Schema for the event store. The wider product owns migrations for the
// organization/billing tables; the pipeline only needs the tables below and
// applies them idempotently at startup.
const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contact_identifiers (
	contact_id TEXT NOT NULL REFERENCES contacts(id),
	channel    TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (contact_id, channel)
);

CREATE TABLE IF NOT EXISTS provider_credentials (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	channel         TEXT NOT NULL,
	provider        TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 100,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	config          JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS provider_identities (
	id            TEXT PRIMARY KEY,
	credential_id TEXT NOT NULL REFERENCES provider_credentials(id),
	identifier    TEXT NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE (credential_id, identifier)
);

CREATE TABLE IF NOT EXISTS messages (
	id                    TEXT PRIMARY KEY,
	organization_id       TEXT NOT NULL,
	contact_id            TEXT NOT NULL REFERENCES contacts(id),
	channel               TEXT NOT NULL,
	payload               JSONB NOT NULL,
	delivered_identity_id TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS message_events (
	id               TEXT PRIMARY KEY,
	message_id       TEXT NOT NULL REFERENCES messages(id),
	identity_id      TEXT NOT NULL REFERENCES provider_identities(id),
	status           TEXT NOT NULL,
	attempt_number   INTEGER NOT NULL,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	response_time_ms BIGINT,
	error_code       TEXT,
	error_message    TEXT,
	error_category   TEXT,
	error_retryable  BOOLEAN,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_message_events_message ON message_events(message_id);
CREATE INDEX IF NOT EXISTS idx_message_events_status_created ON message_events(status, created_at);
CREATE INDEX IF NOT EXISTS idx_provider_identities_identifier ON provider_identities(identifier);
`
