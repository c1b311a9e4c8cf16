package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
)

// InsertCase stores a new case.
func InsertCase(ctx context.Context, db *sql.DB, c *evidence.Case) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO cases (ref, created_at) VALUES (?, ?)`,
		c.Ref, c.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewAlreadyExists("case", c.Ref)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetCase retrieves a case by reference.
func GetCase(ctx context.Context, db *sql.DB, ref string) (*evidence.Case, error) {
	var (
		c       evidence.Case
		created int64
	)
	err := db.QueryRowContext(ctx, `SELECT ref, created_at FROM cases WHERE ref = ?`, ref).
		Scan(&c.Ref, &created)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("case", ref)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c.CreatedAt = time.Unix(created, 0).UTC()
	return &c, nil
}

// ListCases returns all cases, oldest first.
func ListCases(ctx context.Context, db *sql.DB) ([]evidence.Case, error) {
	rows, err := db.QueryContext(ctx, `SELECT ref, created_at FROM cases ORDER BY created_at, ref`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	cases := []evidence.Case{}
	for rows.Next() {
		var (
			c       evidence.Case
			created int64
		)
		if err := rows.Scan(&c.Ref, &created); err != nil {
			return nil, errors.NewInternal(err)
		}
		c.CreatedAt = time.Unix(created, 0).UTC()
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return cases, nil
}

// InsertSeal stores a new seal in the Unopened state.
func InsertSeal(ctx context.Context, db *sql.DB, s *evidence.Seal) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO seals (case_ref, number, label, state, capture_count, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		s.CaseRef, s.Number, toNullString(s.Label), int(evidence.SealUnopened), s.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewAlreadyExists("seal", s.CaseRef+"/"+s.Number)
		}
		if isForeignKeyError(err) {
			return errors.NewNotFound("case", s.CaseRef)
		}
		return errors.NewInternal(err)
	}
	s.SetState(evidence.SealUnopened)
	s.CaptureCount = 0
	return nil
}

const sealColumns = `case_ref, number, label, state, capture_count, created_at`

// GetSeal retrieves a seal of a case.
func GetSeal(ctx context.Context, db *sql.DB, caseRef, number string) (*evidence.Seal, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+sealColumns+` FROM seals WHERE case_ref = ? AND number = ?`, caseRef, number)
	s, err := scanSeal(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("seal", caseRef+"/"+number)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSeals returns the seals of a case in creation order.
func ListSeals(ctx context.Context, db *sql.DB, caseRef string) ([]evidence.Seal, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+sealColumns+` FROM seals WHERE case_ref = ? ORDER BY created_at, number`, caseRef)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	seals := []evidence.Seal{}
	for rows.Next() {
		s, err := scanSeal(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		seals = append(seals, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return seals, nil
}

// AdvanceSeal moves a seal one step forward and records the transition.
// Any other move fails with INVALID_TRANSITION and leaves the seal untouched.
func AdvanceSeal(ctx context.Context, db *sql.DB, caseRef, number string, to evidence.SealState, at time.Time) (*evidence.Seal, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+sealColumns+` FROM seals WHERE case_ref = ? AND number = ?`, caseRef, number)
	s, err := scanSeal(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("seal", caseRef+"/"+number)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	from := s.State
	if !from.CanAdvance(to) {
		return nil, errors.NewInvalidTransition(number, from.String(), to.String())
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE seals SET state = ? WHERE case_ref = ? AND number = ? AND state = ?`,
		int(to), caseRef, number, int(from))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, errors.NewInternal(err)
	} else if n == 0 {
		// Lost a race with another writer.
		return nil, errors.NewInvalidTransition(number, from.String(), to.String())
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO seal_transitions (case_ref, seal, from_state, to_state, at) VALUES (?, ?, ?, ?, ?)`,
		caseRef, number, int(from), int(to), at.Unix()); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}

	s.SetState(to)
	return s, nil
}

// ListTransitions returns seal transitions of a case in the order they happened.
// An empty seal lists every seal of the case.
func ListTransitions(ctx context.Context, db *sql.DB, caseRef, seal string) ([]evidence.Transition, error) {
	query := `SELECT case_ref, seal, from_state, to_state, at FROM seal_transitions WHERE case_ref = ?`
	args := []any{caseRef}
	if seal != "" {
		query += ` AND seal = ?`
		args = append(args, seal)
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := []evidence.Transition{}
	for rows.Next() {
		var (
			t        evidence.Transition
			from, to int
			at       int64
		)
		if err := rows.Scan(&t.CaseRef, &t.Seal, &from, &to, &at); err != nil {
			return nil, errors.NewInternal(err)
		}
		t.From = evidence.SealState(from).String()
		t.To = evidence.SealState(to).String()
		t.At = time.Unix(at, 0).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// InsertObject stores a new object under a seal. An empty Letter is
// allocated as the first free letter of the seal.
func InsertObject(ctx context.Context, db *sql.DB, o *evidence.ObjectItem) error {
	if o.Letter == "" {
		letter, err := NextObjectLetter(ctx, db, o.CaseRef, o.SealNumber)
		if err != nil {
			return err
		}
		o.Letter = letter
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO objects (case_ref, seal, letter, label, capture_count, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		o.CaseRef, o.SealNumber, o.Letter, toNullString(o.Label), o.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewAlreadyExists("object", o.CaseRef+"/"+o.SealNumber+"/"+o.Letter)
		}
		if isForeignKeyError(err) {
			return errors.NewNotFound("seal", o.CaseRef+"/"+o.SealNumber)
		}
		return errors.NewInternal(err)
	}
	o.CaptureCount = 0
	return nil
}

// NextObjectLetter returns the first letter A..Z not yet used under the seal.
func NextObjectLetter(ctx context.Context, db *sql.DB, caseRef, seal string) (string, error) {
	objects, err := ListObjects(ctx, db, caseRef, seal)
	if err != nil {
		return "", err
	}
	used := make(map[string]bool, len(objects))
	for _, o := range objects {
		used[o.Letter] = true
	}
	for i := 0; i < evidence.MaxObjectsPerSeal; i++ {
		l, _ := evidence.ObjectLetter(i)
		if !used[l] {
			return l, nil
		}
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("seal %s already holds %d objects", seal, evidence.MaxObjectsPerSeal))
}

const objectColumns = `case_ref, seal, letter, label, capture_count, created_at`

// GetObject retrieves one object of a seal.
func GetObject(ctx context.Context, db *sql.DB, caseRef, seal, letter string) (*evidence.ObjectItem, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE case_ref = ? AND seal = ? AND letter = ?`,
		caseRef, seal, letter)
	o, err := scanObject(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("object", caseRef+"/"+seal+"/"+letter)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return o, nil
}

// ListObjects returns the objects of a seal ordered by letter.
func ListObjects(ctx context.Context, db *sql.DB, caseRef, seal string) ([]evidence.ObjectItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE case_ref = ? AND seal = ? ORDER BY letter`,
		caseRef, seal)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	objects := []evidence.ObjectItem{}
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		objects = append(objects, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return objects, nil
}

// RecordCapture increments the capture counters of a seal and, when letter
// is set, of the object.
func RecordCapture(ctx context.Context, db *sql.DB, caseRef, seal, letter string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE seals SET capture_count = capture_count + 1 WHERE case_ref = ? AND number = ?`,
		caseRef, seal)
	if err != nil {
		return errors.NewInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("seal", caseRef+"/"+seal)
	}

	if letter != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE objects SET capture_count = capture_count + 1 WHERE case_ref = ? AND seal = ? AND letter = ?`,
			caseRef, seal, letter)
		if err != nil {
			return errors.NewInternal(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFound("object", caseRef+"/"+seal+"/"+letter)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSeal(row scanner) (*evidence.Seal, error) {
	var (
		s       evidence.Seal
		label   sql.NullString
		state   int
		created int64
	)
	if err := row.Scan(&s.CaseRef, &s.Number, &label, &state, &s.CaptureCount, &created); err != nil {
		return nil, err
	}
	s.Label = label.String
	s.SetState(evidence.SealState(state))
	s.CreatedAt = time.Unix(created, 0).UTC()
	return &s, nil
}

func scanObject(row scanner) (*evidence.ObjectItem, error) {
	var (
		o       evidence.ObjectItem
		label   sql.NullString
		created int64
	)
	if err := row.Scan(&o.CaseRef, &o.SealNumber, &o.Letter, &label, &o.CaptureCount, &created); err != nil {
		return nil, err
	}
	o.Label = label.String
	o.CreatedAt = time.Unix(created, 0).UTC()
	return &o, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique and primary key violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyError checks if the error is a SQLite FOREIGN KEY violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// toNullString converts an empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
