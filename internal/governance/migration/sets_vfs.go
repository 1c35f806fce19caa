package migration

// VFSLegacySignal detects a pre-framework vfs database: any database that
// has a "files" table but lacks the framework's own history table (named
// "vfs_schema_history" in the reference source; this core uses a single
// shared history table name across databases, so the signal is the
// business table alone).
var VFSLegacySignal = LegacySignal{Tables: []string{"files"}}

// VFSIntermediateTables lists carcass tables left over from failed
// copy-swap migrations against the vfs index.
var VFSIntermediateTables = []string{
	"vfs_index_segments_new",
	"vfs_index_units_new",
	"vfs_blobs_new",
}

// VFSMigrations is the vfs database's migration set: the virtual file
// index, its change log, and a sync-fields backfill, the shapes the
// reference source repairs under pre_repair_vfs_*.
var VFSMigrations = Set{
	{
		Version: 1,
		Name:    "create_files",
		SQL: `
CREATE TABLE IF NOT EXISTS folders (
	id         TEXT PRIMARY KEY,
	parent_id  TEXT,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	id         TEXT PRIMARY KEY,
	folder_id  TEXT NOT NULL,
	path       TEXT NOT NULL,
	content_hash TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_folder_id ON files(folder_id);
`,
		Checksum: "vfs-0001-a1b2c3",
		Contract: Contract{Tables: []TableContract{
			{Name: "folders", Columns: []ColumnContract{
				{Name: "id", Type: "TEXT", PK: true},
				{Name: "name", Type: "TEXT", NotNull: true},
			}},
			{Name: "files", Columns: []ColumnContract{
				{Name: "id", Type: "TEXT", PK: true},
				{Name: "folder_id", Type: "TEXT", NotNull: true},
				{Name: "path", Type: "TEXT", NotNull: true},
			}, Indexes: []string{"idx_files_folder_id"}},
		}},
	},
	{
		Version: 2,
		Name:    "add_files_processing_status",
		SQL:     `ALTER TABLE files ADD COLUMN processing_status TEXT DEFAULT 'pending'`,
		Checksum: "vfs-0002-d4e5f6",
		Contract: Contract{Tables: []TableContract{
			{Name: "files", Columns: []ColumnContract{
				{Name: "processing_status", Type: "TEXT", Default: "'pending'", HasDefault: true},
			}},
		}},
	},
	{
		Version: 3,
		Name:    "create_vfs_change_log",
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
CREATE TRIGGER IF NOT EXISTS trg_files_ai AFTER INSERT ON files BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('files', NEW.id, 'INSERT', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_files_au AFTER UPDATE ON files BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('files', NEW.id, 'UPDATE', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_files_ad AFTER DELETE ON files BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('files', OLD.id, 'DELETE', datetime('now'));
END;
`,
		Checksum: "vfs-0003-g7h8i9",
		Idempotent: true,
		Contract: Contract{Tables: []TableContract{
			{Name: "__change_log", Columns: []ColumnContract{
				{Name: "id", PK: true},
				{Name: "sync_version", NotNull: true},
			}, Indexes: []string{"idx_change_log_sync_version"}},
			{Name: "files", Triggers: []string{"trg_files_ai", "trg_files_au", "trg_files_ad"}},
		}},
	},
	{
		Version: 4,
		Name:    "add_files_sync_fields",
		SQL: `
ALTER TABLE files ADD COLUMN device_id TEXT;
ALTER TABLE files ADD COLUMN local_version INTEGER DEFAULT 0;
ALTER TABLE files ADD COLUMN deleted_at TEXT;
CREATE INDEX IF NOT EXISTS idx_files_local_version ON files(local_version);
CREATE INDEX IF NOT EXISTS idx_files_deleted_at ON files(deleted_at);
`,
		Checksum: "vfs-0004-j1k2l3",
		Signature: &Signature{
			Columns: []TableColumn{
				{Table: "files", Column: "device_id"},
				{Table: "files", Column: "local_version"},
				{Table: "files", Column: "deleted_at"},
			},
		},
		Contract: Contract{Tables: []TableContract{
			{Name: "files", Columns: []ColumnContract{
				{Name: "device_id"},
				{Name: "local_version", Default: "0", HasDefault: true},
				{Name: "deleted_at"},
			}, Indexes: []string{"idx_files_local_version", "idx_files_deleted_at"}},
		}},
	},
}
