package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migration adds a column that older ledgers lack.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations are applied to existing ledgers on open.
var pendingMigrations = []Migration{
	// free-form label for a run (added after the first release)
	{"runs", "note", "TEXT NOT NULL DEFAULT ''"},
}

// runMigrations applies every pending column migration that is not yet present.
func runMigrations(db *sql.DB, logger *zap.Logger) error {
	applied := 0
	for _, m := range pendingMigrations {
		ok, err := columnExists(db, m.Table, m.Column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		logger.Info("applied ledger migration", zap.String("table", m.Table), zap.String("column", m.Column))
		applied++
	}
	if applied > 0 {
		logger.Debug("ledger migrations complete", zap.Int("applied", applied))
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table_info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
