package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	openssl_name TEXT NOT NULL DEFAULT '',
	strength TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS catalog_fetches (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	fetched INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS assessments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	created INTEGER NOT NULL,
	nosecure BOOLEAN NOT NULL,
	report BLOB NOT NULL
);`

// InitDB opens or creates the sqlite state file at dbPath. The special
// name ":memory:" gives a private in-memory database.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection serializes writers and keeps :memory: databases
	// shared by all callers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type TxCallback = func(ctx context.Context, tx *sql.Tx) error

func Tx(ctx context.Context, db *sql.DB, fn TxCallback) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("Calling `tx.Rollback()` failed.", slog.String("err", err.Error()))
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}

	return nil
}
