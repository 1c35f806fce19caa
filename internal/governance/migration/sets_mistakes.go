package migration

// MistakesLegacySignal detects a pre-framework mistakes database: the
// reference source ships this database pre-populated with "mistakes" and
// "anki_cards" tables from an earlier, framework-less version.
var MistakesLegacySignal = LegacySignal{Tables: []string{"mistakes", "anki_cards"}}

var MistakesIntermediateTables = []string{"questions_new", "answer_submissions_new"}

// MistakesMigrations is the mistakes (spaced-repetition review) database's
// migration set.
var MistakesMigrations = Set{
	{
		Version: 1,
		Name:    "create_questions",
		SQL: `
CREATE TABLE IF NOT EXISTS mistakes (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS questions (
	id         TEXT PRIMARY KEY,
	mistake_id TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_mistake_id ON questions(mistake_id);
`,
		Checksum: "mistakes-0001-m1n2o3",
		Contract: Contract{Tables: []TableContract{
			{Name: "mistakes", Columns: []ColumnContract{{Name: "id", PK: true}}},
			{Name: "questions", Columns: []ColumnContract{
				{Name: "id", PK: true},
				{Name: "mistake_id", NotNull: true},
				{Name: "prompt", NotNull: true},
			}, Indexes: []string{"idx_questions_mistake_id"}},
		}},
	},
	{
		Version: 2,
		Name:    "add_questions_review_fields",
		SQL: `
ALTER TABLE questions ADD COLUMN next_review_at TEXT;
ALTER TABLE questions ADD COLUMN ease_factor REAL DEFAULT 2.5;
ALTER TABLE questions ADD COLUMN interval_days INTEGER DEFAULT 0;
CREATE TABLE IF NOT EXISTS answer_submissions (
	id          TEXT PRIMARY KEY,
	question_id TEXT NOT NULL,
	correct     INTEGER NOT NULL,
	answered_at TEXT NOT NULL
);
`,
		Checksum: "mistakes-0002-p4q5r6",
		Signature: &Signature{
			Columns: []TableColumn{
				{Table: "questions", Column: "next_review_at"},
				{Table: "questions", Column: "ease_factor"},
				{Table: "questions", Column: "interval_days"},
			},
		},
		Contract: Contract{Tables: []TableContract{
			{Name: "questions", Columns: []ColumnContract{
				{Name: "next_review_at"},
				{Name: "ease_factor", Default: "2.5", HasDefault: true},
				{Name: "interval_days", Default: "0", HasDefault: true},
			}},
			{Name: "answer_submissions", Columns: []ColumnContract{
				{Name: "id", PK: true},
				{Name: "question_id", NotNull: true},
			}},
		}},
	},
	{
		Version: 3,
		Name:    "create_mistakes_change_log",
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
CREATE TRIGGER IF NOT EXISTS trg_questions_ai AFTER INSERT ON questions BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('questions', NEW.id, 'INSERT', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_questions_au AFTER UPDATE ON questions BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('questions', NEW.id, 'UPDATE', datetime('now'));
END;
CREATE TRIGGER IF NOT EXISTS trg_questions_ad AFTER DELETE ON questions BEGIN
	INSERT INTO __change_log (table_name, record_id, operation, changed_at) VALUES ('questions', OLD.id, 'DELETE', datetime('now'));
END;
`,
		Checksum:   "mistakes-0003-s7t8u9",
		Idempotent: true,
		Contract: Contract{Tables: []TableContract{
			{Name: "__change_log", Columns: []ColumnContract{{Name: "id", PK: true}}},
			{Name: "questions", Triggers: []string{"trg_questions_ai", "trg_questions_au", "trg_questions_ad"}},
		}},
	},
	{
		Version: 4,
		Name:    "add_questions_sync_fields",
		SQL: `
ALTER TABLE questions ADD COLUMN device_id TEXT;
ALTER TABLE questions ADD COLUMN local_version INTEGER DEFAULT 0;
ALTER TABLE questions ADD COLUMN deleted_at TEXT;
CREATE INDEX IF NOT EXISTS idx_questions_local_version ON questions(local_version);
`,
		Checksum: "mistakes-0004-v1w2x3",
		Signature: &Signature{
			Columns: []TableColumn{
				{Table: "questions", Column: "device_id"},
				{Table: "questions", Column: "local_version"},
				{Table: "questions", Column: "deleted_at"},
			},
		},
		Contract: Contract{Tables: []TableContract{
			{Name: "questions", Columns: []ColumnContract{
				{Name: "device_id"}, {Name: "local_version", Default: "0", HasDefault: true}, {Name: "deleted_at"},
			}, Indexes: []string{"idx_questions_local_version"}},
		}},
	},
}
