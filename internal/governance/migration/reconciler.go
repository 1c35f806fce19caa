package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// WarnThreshold is the number of reconciliations per run above which the
// reconciler elevates its summary to a warning log, per the reference's
// threshold of 5.
const WarnThreshold = 5

type reconciliation struct {
	Version     int
	OldChecksum string
	NewChecksum string
	Reason      string // "baseline_alignment" or "checksum_drift"
}

// reconcileChecksums implements the Checksum Reconciler (§4.4). It returns
// the list of reconciliations actually performed, for the caller to fold
// into an audit row.
func reconcileChecksums(ctx context.Context, db *sql.DB, set Set, log *slog.Logger) ([]reconciliation, error) {
	history, err := readHistory(ctx, db)
	if err != nil {
		return nil, err
	}

	var recs []reconciliation
	for _, row := range history {
		m, ok := set.ByVersion(row.Version)
		if !ok {
			continue
		}
		if row.Name == m.Name && row.Checksum == m.Checksum {
			continue
		}

		switch {
		case row.Checksum == BaselineChecksum:
			if err := updateHistoryChecksum(ctx, db, row.Version, m.Name, m.Checksum); err != nil {
				return recs, err
			}
			recs = append(recs, reconciliation{Version: row.Version, OldChecksum: row.Checksum, NewChecksum: m.Checksum, Reason: "baseline_alignment"})

		case row.Name == m.Name:
			if err := updateHistoryChecksum(ctx, db, row.Version, m.Name, m.Checksum); err != nil {
				return recs, err
			}
			recs = append(recs, reconciliation{Version: row.Version, OldChecksum: row.Checksum, NewChecksum: m.Checksum, Reason: "checksum_drift"})

		default:
			log.Warn("migration history diverges from migration set and cannot be safely reconciled",
				"version", row.Version, "history_name", row.Name, "set_name", m.Name)
		}
	}

	if len(recs) > WarnThreshold {
		log.Warn("checksum reconciliation count exceeds warn threshold", "count", len(recs), "threshold", WarnThreshold)
	}

	return recs, nil
}

func summarizeReconciliations(recs []reconciliation) string {
	if len(recs) == 0 {
		return "no reconciliations"
	}
	s := fmt.Sprintf("%d reconciliation(s): ", len(recs))
	for i, r := range recs {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("v%d %s->%s (%s)", r.Version, shortChecksum(r.OldChecksum), shortChecksum(r.NewChecksum), r.Reason)
	}
	return s
}

func shortChecksum(c string) string {
	if len(c) <= 8 {
		return c
	}
	return c[:8]
}
