package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/catalog"
	"github.com/CZERTAINLY/cipher-lens/internal/model"
)

// Catalog persists the cipher suite catalog. It implements catalog.Store.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) Catalog {
	return Catalog{db: db}
}

// LoadCatalog returns the stored entries ordered by id and the time they
// were fetched. An empty store returns no entries and a zero time.
func (c Catalog) LoadCatalog(ctx context.Context) ([]catalog.Entry, time.Time, error) {
	var entries []catalog.Entry
	var fetched time.Time
	err := Tx(ctx, c.db, func(ctx context.Context, tx *sql.Tx) error {
		var nanos int64
		err := tx.QueryRowContext(ctx, `SELECT fetched FROM catalog_fetches WHERE id = 1`).Scan(&nanos)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return fmt.Errorf("executing sql query failed: %w", err)
		}
		fetched = time.Unix(0, nanos)

		rows, err := tx.QueryContext(ctx,
			`SELECT id, name, openssl_name, strength FROM catalog_entries ORDER BY id`,
		)
		if err != nil {
			return fmt.Errorf("executing sql query failed: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()
		for rows.Next() {
			var e catalog.Entry
			var strength string
			if err := rows.Scan(&e.ID, &e.Name, &e.OpenSSLName, &strength); err != nil {
				return fmt.Errorf("scanning sql row failed: %w", err)
			}
			e.Strength = model.Strength(strength)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return entries, fetched, nil
}

// SaveCatalog replaces the stored catalog by entries.
func (c Catalog) SaveCatalog(ctx context.Context, entries []catalog.Entry, fetched time.Time) error {
	return Tx(ctx, c.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_entries`); err != nil {
			return fmt.Errorf("executing sql delete failed: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO catalog_entries (id, name, openssl_name, strength) VALUES (?,?,?,?)`,
		)
		if err != nil {
			return fmt.Errorf("preparing sql insert failed: %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()
		for _, e := range entries {
			_, err := stmt.ExecContext(ctx, model.NormalizeCipherID(e.ID), e.Name, e.OpenSSLName, string(e.Strength))
			if err != nil {
				return fmt.Errorf("executing sql insert failed: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO catalog_fetches (id, fetched) VALUES (1, ?)
			 ON CONFLICT(id) DO UPDATE SET fetched = excluded.fetched`,
			fetched.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("executing sql upsert failed: %w", err)
		}
		return nil
	})
}
