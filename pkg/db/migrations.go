package db

// migrationsSQL is idempotent; statements are split on ';' so none may
// contain a literal semicolon.
const migrationsSQL = `
CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	title       TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	source      TEXT,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_source
	ON records(source) WHERE source IS NOT NULL AND source != '';

CREATE TABLE IF NOT EXISTS proposals (
	id                 TEXT PRIMARY KEY,
	record_id          INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	proposed_title     TEXT NOT NULL DEFAULT '',
	proposed_body      TEXT NOT NULL,
	model              TEXT NOT NULL DEFAULT '',
	prompt_tokens      INTEGER NOT NULL DEFAULT 0,
	completion_tokens  INTEGER NOT NULL DEFAULT 0,
	latency_ms         INTEGER NOT NULL DEFAULT 0,
	generated_at       DATETIME NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending'
	                   CHECK (status IN ('pending', 'approved', 'rejected')),
	reason             TEXT NOT NULL DEFAULT '',
	decided_at         DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_one_pending
	ON proposals(record_id) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_proposals_status
	ON proposals(status, record_id);
`
