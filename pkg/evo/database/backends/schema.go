package backends

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaDDL creates the Evo tables. The DDL is portable between SQLite and
// PostgreSQL; timestamps are stored as RFC 3339 text.
//
// server_configs is written by the dashboard and read by the pipeline.
// user_memories holds one row per (server, user). NULL columns mean the
// field was never written, which lets merge-upserts keep untouched fields.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS server_configs (
    server_id                TEXT PRIMARY KEY,
    bot_name                 TEXT,
    designated_channel       TEXT,
    personality_override     TEXT,
    ai_model                 TEXT NOT NULL DEFAULT '',
    encrypted_api_key        TEXT NOT NULL DEFAULT '',
    encrypted_backup_api_key TEXT NOT NULL DEFAULT '',
    custom_avatar_url        TEXT,
    updated_at               TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_memories (
    server_id            TEXT NOT NULL,
    user_id              TEXT NOT NULL,
    conversation_history TEXT,
    personal_summary     TEXT,
    gossip_summary       TEXT,
    updated_at           TEXT NOT NULL,
    PRIMARY KEY (server_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_user_memories_server ON user_memories(server_id);
`

// GetSchema returns the schema DDL.
func GetSchema() string {
	return schemaDDL
}
