package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrSchemaMismatch reports a database created by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Schema describes the DDL and version a store expects. The version is kept
// in PRAGMA user_version, so zero means "not yet created".
type Schema struct {
	Name    string
	SQL     string
	Version int
}

var connPragmas = [...]string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Open connects to the SQLite file at path and creates or verifies schema.
// The pool holds one connection so per-connection pragmas such as
// foreign_keys apply to every statement.
func Open(ctx context.Context, path string, schema Schema) (*sql.DB, error) {
	if schema.Version <= 0 {
		return nil, fmt.Errorf("%s schema: version must be positive", schema.Name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", schema.Name, err)
	}
	db.SetMaxOpenConns(1)

	if err := prepare(ctx, db, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func prepare(ctx context.Context, db *sql.DB, schema Schema) error {
	for _, pragma := range connPragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read %s schema version: %w", schema.Name, err)
	}
	switch current {
	case schema.Version:
		return nil
	case 0:
		return InTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, schema.SQL); err != nil {
				return fmt.Errorf("create %s schema: %w", schema.Name, err)
			}
			// PRAGMA does not accept bind parameters.
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schema.Version)); err != nil {
				return fmt.Errorf("record %s schema version: %w", schema.Name, err)
			}
			return nil
		})
	default:
		return fmt.Errorf("%w: %s database is at version %d, this build expects %d (remove the file to recreate it)",
			ErrSchemaMismatch, schema.Name, current, schema.Version)
	}
}
