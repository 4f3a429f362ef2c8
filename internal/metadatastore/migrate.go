// Package metadatastore is the transactional record of Documents, their
// state, extracted data, and job bindings (spec.md §2 MetadataStore).
// Grounded on EternisAI-enchanted-twin's pkg/db: a custom sqlite3 driver
// with connection-hook PRAGMAs, sqlx for typed row scanning, and goose for
// embedded, versioned migrations.
package metadatastore

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

func init() {
	sql.Register("sqlite3_safe", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			var errs []error
			for _, pragma := range []string{
				"PRAGMA foreign_keys = ON",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA journal_mode = WAL",
			} {
				if _, err := conn.Exec(pragma, nil); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", pragma, err))
				}
			}
			if len(errs) > 0 {
				msgs := make([]string, len(errs))
				for i, e := range errs {
					msgs[i] = e.Error()
				}
				return fmt.Errorf("PRAGMA errors: %s", strings.Join(msgs, "; "))
			}
			return nil
		},
	})
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}
