package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. Versions are
// sequential starting from 1. Timestamps are stored as Unix milliseconds.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_id        TEXT UNIQUE,
	sender             TEXT NOT NULL DEFAULT '',
	sender_name        TEXT NOT NULL DEFAULT '',
	subject            TEXT NOT NULL DEFAULT '',
	timestamp          INTEGER NOT NULL,
	thread_id          TEXT NOT NULL DEFAULT '',
	message_id         TEXT NOT NULL DEFAULT '',
	in_reply_to        TEXT NOT NULL DEFAULT '',
	plain_text         TEXT NOT NULL DEFAULT '',
	html_text          TEXT,
	attachments        TEXT NOT NULL DEFAULT '[]',
	category           TEXT NOT NULL DEFAULT 'Algemene vraag',
	urgency            TEXT NOT NULL DEFAULT 'medium',
	extracted_info     TEXT,
	suggested_response TEXT NOT NULL DEFAULT '',
	read_status        INTEGER NOT NULL DEFAULT 0,
	starred            INTEGER NOT NULL DEFAULT 0,
	response_status    TEXT NOT NULL DEFAULT 'pending',
	source             TEXT NOT NULL DEFAULT 'email',
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE messages ADD COLUMN priority TEXT NOT NULL DEFAULT 'medium';
ALTER TABLE messages ADD COLUMN notes TEXT NOT NULL DEFAULT '';
ALTER TABLE messages ADD COLUMN archived INTEGER NOT NULL DEFAULT 0;

UPDATE messages SET priority = urgency;

CREATE INDEX IF NOT EXISTS idx_messages_active ON messages(archived, read_status);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
