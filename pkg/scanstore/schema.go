// Package scanstore implements C4: the Postgres-backed durable record of
// scan sessions, scan logs, the per-ticket cache, and fraud attempts,
// plus retention sweeps and statistics queries. Grounded on
// pkg/api/postgres_idempotency.go's `$1`-placeholder SQL; the ticket-cache
// upsert is a `SELECT ... FOR UPDATE` followed by an INSERT or UPDATE
// rather than `ON CONFLICT`.
package scanstore

// Schema is the relational schema spec.md §6 names. Applying it is the
// caller's responsibility (migration tooling is out of scope for this
// engine); Store assumes these tables already exist.
const Schema = `
CREATE TABLE IF NOT EXISTS scan_sessions (
	id              TEXT PRIMARY KEY,
	uid             TEXT NOT NULL UNIQUE,
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ,
	scan_operator_id TEXT NOT NULL,
	event_id        TEXT,
	location        TEXT,
	device_info     TEXT
);

CREATE TABLE IF NOT EXISTS scan_logs (
	id                TEXT PRIMARY KEY,
	uid               TEXT NOT NULL UNIQUE,
	scan_session_id   TEXT,
	scanned_at        TIMESTAMPTZ NOT NULL,
	result            TEXT NOT NULL,
	location          TEXT,
	device_id         TEXT,
	ticket_id         TEXT NOT NULL,
	event_id          TEXT,
	ticket_data       JSONB,
	validation_details JSONB,
	fraud_flags       JSONB,
	created_by        TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scanned_tickets_cache (
	ticket_id      TEXT PRIMARY KEY,
	first_scan_at  TIMESTAMPTZ NOT NULL,
	last_scan_at   TIMESTAMPTZ NOT NULL,
	scan_count     INTEGER NOT NULL DEFAULT 0,
	scan_locations JSONB NOT NULL DEFAULT '[]',
	is_blocked     BOOLEAN NOT NULL DEFAULT FALSE,
	block_reason   TEXT,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS fraud_attempts (
	id           TEXT PRIMARY KEY,
	uid          TEXT NOT NULL UNIQUE,
	scan_log_id  TEXT NOT NULL REFERENCES scan_logs(id),
	fraud_type   TEXT NOT NULL,
	severity     TEXT NOT NULL,
	details      JSONB,
	ip_address   TEXT,
	user_agent   TEXT,
	blocked      BOOLEAN NOT NULL DEFAULT FALSE,
	created_by   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
