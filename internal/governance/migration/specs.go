package migration

import "github.com/deepstudent/datagovernance/internal/governance/dbid"

// changeLogSQLFor returns the SQL of set's change-log migration at version;
// ensure_change_log_table replays this exact text when it finds the
// change-log table missing.
func changeLogSQLFor(set Set, version int) string {
	if m, ok := set.ByVersion(version); ok {
		return m.SQL
	}
	return ""
}

// DefaultSpecs returns the coordinator configuration for all four logical
// databases, wired to their concrete migration sets in sets_*.go.
func DefaultSpecs() []DatabaseSpec {
	return []DatabaseSpec{
		{
			ID:                     dbid.VFS,
			Migrations:             VFSMigrations,
			LegacySignal:           VFSLegacySignal,
			IntermediateTableNames: VFSIntermediateTables,
			ChangeLogVersion:       3,
			ChangeLogCoreTable:     "files",
			ChangeLogSQL:           changeLogSQLFor(VFSMigrations, 3),
		},
		{
			ID:                     dbid.Mistakes,
			Migrations:             MistakesMigrations,
			LegacySignal:           MistakesLegacySignal,
			IntermediateTableNames: MistakesIntermediateTables,
			ChangeLogVersion:       3,
			ChangeLogCoreTable:     "questions",
			ChangeLogSQL:           changeLogSQLFor(MistakesMigrations, 3),
		},
		{
			ID:                     dbid.LLMUsage,
			Migrations:             LLMUsageMigrations,
			LegacySignal:           LLMUsageLegacySignal,
			IntermediateTableNames: LLMUsageIntermediateTables,
			ChangeLogVersion:       3,
			ChangeLogCoreTable:     "llm_usage_daily",
			ChangeLogSQL:           changeLogSQLFor(LLMUsageMigrations, 3),
		},
		{
			ID:                     dbid.ChatV2,
			Migrations:             ChatV2Migrations,
			LegacySignal:           ChatV2LegacySignal,
			IntermediateTableNames: ChatV2IntermediateTables,
			ChangeLogVersion:       4,
			ChangeLogCoreTable:     "chat_v2_sessions",
			ChangeLogSQL:           changeLogSQLFor(ChatV2Migrations, 4),
		},
	}
}
