package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// cleanIntermediateTables implements the Intermediate-Table Cleaner
// (§4.5): drops any of the declared carcass tables that still exist before
// the runner runs. Dropping never touches history rows.
func cleanIntermediateTables(ctx context.Context, db *sql.DB, names []string, log *slog.Logger) error {
	for _, name := range names {
		exists, err := tableExists(ctx, db, name)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %q`, name)); err != nil {
			return err
		}
		log.Info("dropped intermediate table carcass", "table", name)
	}
	return nil
}
