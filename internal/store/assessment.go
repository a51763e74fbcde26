package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Assessment is a stored result of a single assessment run. Report holds
// the rendered JSON report.
type Assessment struct {
	UUID     string
	Created  time.Time
	NoSecure bool
	Report   []byte
}

type AssessmentRow struct {
	Assessment
	ID int
}

func (a AssessmentRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, created: %s, nosecure: %t", a.UUID, a.Created.UTC().Format(time.RFC3339), a.NoSecure)
	fmt.Fprintf(&sb, ", report: %d bytes", len(a.Report))
	return sb.String()
}

// SaveAssessment persists a on success, returns ErrAlreadyExists
// if an assessment with the same uuid is already stored.
func SaveAssessment(ctx context.Context, db *sql.DB, a Assessment) error {
	return Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		var id int
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM assessments WHERE uuid=?`, a.UUID,
		).Scan(&id)
		switch {
		case err == nil:
			return ErrAlreadyExists
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("executing sql query failed: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO assessments (uuid, created, nosecure, report) VALUES (?,?,?,?);`,
			a.UUID, a.Created.UnixNano(), a.NoSecure, a.Report,
		)
		if err != nil {
			return fmt.Errorf("executing sql insert failed: %w", err)
		}
		return nil
	})
}

// GetAssessment returns the assessment identified by 'uuid' on success,
// ErrNotFound when it does not exist, error otherwise.
func GetAssessment(ctx context.Context, db *sql.DB, uuid string) (AssessmentRow, error) {
	var row AssessmentRow
	txErr := Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		var created int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, uuid, created, nosecure, report FROM assessments WHERE uuid=?`, uuid,
		).Scan(
			&row.ID,
			&row.UUID,
			&created,
			&row.NoSecure,
			&row.Report,
		)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("executing sql query failed: %w", err)
		}
		row.Created = time.Unix(0, created)
		return nil
	})
	return row, txErr
}

// DeleteAssessment deletes the assessment identified by 'uuid' on success,
// ErrNotFound when it does not exist, error otherwise.
func DeleteAssessment(ctx context.Context, db *sql.DB, uuid string) error {
	return Tx(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM assessments WHERE uuid=?`, uuid,
		)
		if err != nil {
			return fmt.Errorf("executing sql delete failed: %w", err)
		}

		ra, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("fetching affected rows failed: %w", err)
		}
		if ra != 1 {
			return ErrNotFound
		}
		return nil
	})
}
