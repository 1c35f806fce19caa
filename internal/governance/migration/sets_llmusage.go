package migration

// LLMUsageLegacySignal: the reference source's llm_usage database predates
// the framework via a plain "logs" table.
var LLMUsageLegacySignal = LegacySignal{Tables: []string{"logs"}}

var LLMUsageIntermediateTables = []string{"llm_usage_daily_new"}

// LLMUsageMigrations is the llm_usage (LLM call accounting) database's
// migration set. It carries the spec's composite-primary-key table,
// llm_usage_daily, keyed (date, caller_type, model, provider).
var LLMUsageMigrations = Set{
	{
		Version: 1,
		Name:    "create_logs",
		SQL: `
CREATE TABLE IF NOT EXISTS logs (
	id         TEXT PRIMARY KEY,
	caller_type TEXT NOT NULL,
	model      TEXT NOT NULL,
	provider   TEXT NOT NULL,
	tokens_in  INTEGER NOT NULL DEFAULT 0,
	tokens_out INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`,
		Checksum: "llm-0001-y4z5a6",
		Contract: Contract{Tables: []TableContract{
			{Name: "logs", Columns: []ColumnContract{
				{Name: "id", PK: true},
				{Name: "caller_type", NotNull: true},
				{Name: "model", NotNull: true},
				{Name: "provider", NotNull: true},
			}},
		}},
	},
	{
		Version: 2,
		Name:    "create_llm_usage_daily",
		SQL: `
CREATE TABLE IF NOT EXISTS llm_usage_daily (
	date        TEXT NOT NULL,
	caller_type TEXT NOT NULL,
	model       TEXT NOT NULL,
	provider    TEXT NOT NULL,
	tokens_in   INTEGER NOT NULL DEFAULT 0,
	tokens_out  INTEGER NOT NULL DEFAULT 0,
	call_count  INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (date, caller_type, model, provider)
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_daily_updated_at ON llm_usage_daily(updated_at);
`,
		Checksum: "llm-0002-b7c8d9",
		Contract: Contract{Tables: []TableContract{
			{Name: "llm_usage_daily", Columns: []ColumnContract{
				{Name: "date", PK: true, NotNull: true},
				{Name: "caller_type", PK: true, NotNull: true},
				{Name: "model", PK: true, NotNull: true},
				{Name: "provider", PK: true, NotNull: true},
			}, Indexes: []string{"idx_llm_usage_daily_updated_at"}},
		}},
	},
	{
		Version: 3,
		Name:    "create_llm_usage_change_log",
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
CREATE TRIGGER IF NOT EXISTS trg_llm_usage_daily_ai AFTER INSERT ON llm_usage_daily BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at)
	VALUES ('llm_usage_daily', json_object('date', NEW.date, 'caller_type', NEW.caller_type, 'model', NEW.model, 'provider', NEW.provider), 'INSERT', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_llm_usage_daily_au AFTER UPDATE ON llm_usage_daily BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at)
	VALUES ('llm_usage_daily', json_object('date', NEW.date, 'caller_type', NEW.caller_type, 'model', NEW.model, 'provider', NEW.provider), 'UPDATE', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_llm_usage_daily_ad AFTER DELETE ON llm_usage_daily BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at)
	VALUES ('llm_usage_daily', json_object('date', OLD.date, 'caller_type', OLD.caller_type, 'model', OLD.model, 'provider', OLD.provider), 'DELETE', datetime('now'));
END;
`,
		Checksum:   "llm-0003-e1f2g3",
		Idempotent: true,
		Contract: Contract{Tables: []TableContract{
			{Name: "__change_log", Columns: []ColumnContract{{Name: "id", PK: true}}},
			{Name: "llm_usage_daily", Triggers: []string{"trg_llm_usage_daily_ai", "trg_llm_usage_daily_au", "trg_llm_usage_daily_ad"}},
		}},
	},
	{
		Version: 4,
		Name:    "add_llm_usage_daily_sync_fields",
		SQL: `
ALTER TABLE llm_usage_daily ADD COLUMN device_id TEXT;
ALTER TABLE llm_usage_daily ADD COLUMN local_version INTEGER DEFAULT 0;
ALTER TABLE llm_usage_daily ADD COLUMN deleted_at TEXT;
CREATE INDEX IF NOT EXISTS idx_llm_usage_daily_local_version ON llm_usage_daily(local_version);
CREATE INDEX IF NOT EXISTS idx_llm_usage_daily_device_id ON llm_usage_daily(device_id);
CREATE INDEX IF NOT EXISTS idx_llm_usage_daily_device_version ON llm_usage_daily(device_id, local_version);
`,
		Checksum: "llm-0004-h4i5j6",
		Signature: &Signature{
			Columns: []TableColumn{
				{Table: "llm_usage_daily", Column: "device_id"},
				{Table: "llm_usage_daily", Column: "local_version"},
				{Table: "llm_usage_daily", Column: "deleted_at"},
			},
		},
		Contract: Contract{Tables: []TableContract{
			{Name: "llm_usage_daily", Columns: []ColumnContract{
				{Name: "device_id"}, {Name: "local_version", Default: "0", HasDefault: true}, {Name: "deleted_at"},
			}, Indexes: []string{
				"idx_llm_usage_daily_local_version",
				"idx_llm_usage_daily_device_id",
				"idx_llm_usage_daily_device_version",
			}},
		}},
	},
}
