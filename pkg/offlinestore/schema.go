package offlinestore

const schema = `
CREATE TABLE IF NOT EXISTS offline_tickets (
	ticket_id   TEXT PRIMARY KEY,
	event_id    TEXT,
	ticket_type TEXT,
	issued_at   DATETIME,
	expires_at  DATETIME,
	active      INTEGER,
	scan_count  INTEGER,
	max_scans   INTEGER,
	synced_at   DATETIME
);

CREATE TABLE IF NOT EXISTS offline_scan_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id  TEXT NOT NULL,
	scan_id    TEXT NOT NULL,
	timestamp  DATETIME,
	location   TEXT,
	device_id  TEXT
);

CREATE TABLE IF NOT EXISTS pending_sync (
	pending_sync_id TEXT PRIMARY KEY,
	ticket_id       TEXT,
	action_type     TEXT,
	payload         BLOB,
	attempts        INTEGER,
	last_error      TEXT,
	created_at      DATETIME,
	last_attempt_at DATETIME
);

CREATE TABLE IF NOT EXISTS dead_letter (
	pending_sync_id  TEXT PRIMARY KEY,
	ticket_id        TEXT,
	action_type      TEXT,
	payload          BLOB,
	attempts         INTEGER,
	last_error       TEXT,
	created_at       DATETIME,
	last_attempt_at  DATETIME,
	dead_lettered_at DATETIME
);
`
