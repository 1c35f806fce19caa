package migration

// ChatV2LegacySignal: the reference source checks for a
// "chat_v2_migrations"-named legacy table; this core's business-table
// signal is the sessions table itself.
var ChatV2LegacySignal = LegacySignal{Tables: []string{"chat_v2_sessions"}}

var ChatV2IntermediateTables = []string{"chat_v2_sessions_new", "chat_v2_messages_new"}

// ChatV2Migrations is the chat_v2 (chat sessions) database's migration
// set. Sessions reference indexed files, which is why this database
// depends on vfs (see dbid.Dependencies).
var ChatV2Migrations = Set{
	{
		Version: 1,
		Name:    "create_chat_v2_core",
		SQL: `
CREATE TABLE IF NOT EXISTS chat_v2_sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_v2_messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_v2_blocks (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	kind       TEXT NOT NULL,
	content    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_v2_messages_session_id ON chat_v2_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_chat_v2_blocks_message_id ON chat_v2_blocks(message_id);
`,
		Checksum: "chatv2-0001-k7l8m9",
		Contract: Contract{Tables: []TableContract{
			{Name: "chat_v2_sessions", Columns: []ColumnContract{{Name: "id", PK: true}, {Name: "title", NotNull: true}}},
			{Name: "chat_v2_messages", Columns: []ColumnContract{{Name: "id", PK: true}, {Name: "session_id", NotNull: true}}, Indexes: []string{"idx_chat_v2_messages_session_id"}},
			{Name: "chat_v2_blocks", Columns: []ColumnContract{{Name: "id", PK: true}, {Name: "message_id", NotNull: true}}, Indexes: []string{"idx_chat_v2_blocks_message_id"}},
		}},
	},
	{
		Version: 2,
		Name:    "add_chat_v2_session_groups",
		SQL: `
CREATE TABLE IF NOT EXISTS chat_v2_session_groups (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
ALTER TABLE chat_v2_sessions ADD COLUMN group_id TEXT;
`,
		Checksum: "chatv2-0002-n1o2p3",
		Signature: &Signature{
			Tables:  []string{"chat_v2_session_groups"},
			Columns: []TableColumn{{Table: "chat_v2_sessions", Column: "group_id"}},
		},
		Contract: Contract{Tables: []TableContract{
			{Name: "chat_v2_session_groups", Columns: []ColumnContract{{Name: "id", PK: true}}},
			{Name: "chat_v2_sessions", Columns: []ColumnContract{{Name: "group_id"}}},
		}},
	},
	{
		Version: 3,
		Name:    "add_chat_v2_file_references",
		SQL:     `ALTER TABLE chat_v2_messages ADD COLUMN referenced_file_id TEXT`,
		Checksum: "chatv2-0003-q4r5s6",
		Contract: Contract{Tables: []TableContract{
			{Name: "chat_v2_messages", Columns: []ColumnContract{{Name: "referenced_file_id"}}},
		}},
	},
	{
		Version: 4,
		Name:    "create_chat_v2_change_log",
		SQL: `
CREATE TABLE IF NOT EXISTS __change_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name  TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	operation   TEXT NOT NULL,
	changed_at  TEXT NOT NULL,
	sync_version INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_change_log_sync_version ON __change_log(sync_version);
CREATE TRIGGER IF NOT EXISTS trg_chat_v2_sessions_ai AFTER INSERT ON chat_v2_sessions BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('chat_v2_sessions', NEW.id, 'INSERT', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_chat_v2_sessions_au AFTER UPDATE ON chat_v2_sessions BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('chat_v2_sessions', NEW.id, 'UPDATE', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_chat_v2_sessions_ad AFTER DELETE ON chat_v2_sessions BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('chat_v2_sessions', OLD.id, 'DELETE', datetime('now'));
END;
`,
		Checksum:   "chatv2-0004-t7u8v9",
		Idempotent: true,
		Contract: Contract{Tables: []TableContract{
			{Name: "__change_log", Columns: []ColumnContract{{Name: "id", PK: true}}},
			{Name: "chat_v2_sessions", Triggers: []string{"trg_chat_v2_sessions_ai", "trg_chat_v2_sessions_au", "trg_chat_v2_sessions_ad"}},
		}},
	},
	{
		Version: 5,
		Name:    "add_chat_v2_sessions_sync_fields",
		SQL: `
ALTER TABLE chat_v2_sessions ADD COLUMN device_id TEXT;
ALTER TABLE chat_v2_sessions ADD COLUMN local_version INTEGER DEFAULT 0;
ALTER TABLE chat_v2_sessions ADD COLUMN deleted_at TEXT;
CREATE INDEX IF NOT EXISTS idx_chat_v2_sessions_local_version ON chat_v2_sessions(local_version);
`,
		Checksum: "chatv2-0005-w1x2y3",
		Signature: &Signature{
			Columns: []TableColumn{
				{Table: "chat_v2_sessions", Column: "device_id"},
				{Table: "chat_v2_sessions", Column: "local_version"},
				{Table: "chat_v2_sessions", Column: "deleted_at"},
			},
		},
		Contract: Contract{Tables: []TableContract{
			{Name: "chat_v2_sessions", Columns: []ColumnContract{
				{Name: "device_id"}, {Name: "local_version", Default: "0", HasDefault: true}, {Name: "deleted_at"},
			}, Indexes: []string{"idx_chat_v2_sessions_local_version"}},
		}},
	},
}
