package migration

import (
	"strings"
)

// splitStatements splits a migration's SQL text into individual statements
// on semicolons, tracking BEGIN...END nesting so a trigger body's internal
// semicolons never split the CREATE TRIGGER statement that contains them.
// It is a word-boundary scan, not a full parser: adequate because migration
// SQL in this codebase never embeds a semicolon inside a string literal.
func splitStatements(sql string) []string {
	var out []string
	var cur strings.Builder
	depth := 0

	i := 0
	for i < len(sql) {
		if matchesKeyword(sql, i, "BEGIN") {
			depth++
			cur.WriteString(sql[i : i+len("BEGIN")])
			i += len("BEGIN")
			continue
		}
		if matchesKeyword(sql, i, "END") {
			if depth > 0 {
				depth--
			}
			cur.WriteString(sql[i : i+len("END")])
			i += len("END")
			continue
		}
		if sql[i] == ';' && depth == 0 {
			if stmt := strings.TrimSpace(cur.String()); stmt != "" {
				out = append(out, stmt)
			}
			cur.Reset()
			i++
			continue
		}
		cur.WriteByte(sql[i])
		i++
	}

	if stmt := strings.TrimSpace(cur.String()); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

// matchesKeyword reports whether sql contains word at byte offset i,
// case-insensitively and bounded on both sides by non-identifier
// characters (or the start/end of the string).
func matchesKeyword(sql string, i int, word string) bool {
	if i+len(word) > len(sql) || !strings.EqualFold(sql[i:i+len(word)], word) {
		return false
	}
	if i > 0 && isIdentByte(sql[i-1]) {
		return false
	}
	if end := i + len(word); end < len(sql) && isIdentByte(sql[end]) {
		return false
	}
	return true
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// alterAddColumn is one parsed `ALTER TABLE <table> ADD COLUMN <column>
// <def>` statement.
type alterAddColumn struct {
	Table  string
	Column string
	Def    string
}

// parseAlterAddColumns scans sql statement by statement, case-insensitively, for
// ALTER TABLE ... ADD COLUMN statements, per the Idempotent ALTER Guard's
// algorithm.
func parseAlterAddColumns(sql string) []alterAddColumn {
	var out []alterAddColumn
	for _, stmt := range splitStatements(sql) {
		trimmed := strings.TrimSpace(stmt)
		upper := strings.ToUpper(trimmed)
		if !strings.HasPrefix(upper, "ALTER TABLE") {
			continue
		}
		idx := strings.Index(upper, "ADD COLUMN")
		if idx < 0 {
			continue
		}
		tablePart := strings.TrimSpace(trimmed[len("ALTER TABLE"):idx])
		tablePart = strings.Trim(tablePart, `"'`+"`")
		tablePart = strings.Fields(tablePart)[0]
		tablePart = strings.Trim(tablePart, `"'`+"`")

		rest := strings.TrimSpace(trimmed[idx+len("ADD COLUMN"):])
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		column := strings.Trim(fields[0], `"'`+"`")
		def := ""
		if len(fields) > 1 {
			def = strings.Join(fields[1:], " ")
		}
		out = append(out, alterAddColumn{Table: tablePart, Column: column, Def: def})
	}
	return out
}

// idempotentCreateStatements returns only the statements of sql that are
// safe to replay unconditionally: CREATE TABLE/INDEX/TRIGGER guarded with
// IF NOT EXISTS.
func idempotentCreateStatements(sql string) []string {
	var out []string
	for _, stmt := range splitStatements(sql) {
		upper := strings.ToUpper(strings.TrimSpace(stmt))
		if strings.Contains(upper, "IF NOT EXISTS") &&
			(strings.HasPrefix(upper, "CREATE TABLE") ||
				strings.HasPrefix(upper, "CREATE INDEX") ||
				strings.HasPrefix(upper, "CREATE UNIQUE INDEX") ||
				strings.HasPrefix(upper, "CREATE TRIGGER")) {
			out = append(out, stmt)
		}
	}
	return out
}
