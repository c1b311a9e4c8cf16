package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/custody/internal/db"
	"github.com/hpungsan/custody/internal/evidence"
)

// CreateCaseInput contains parameters for the CreateCase operation.
type CreateCaseInput struct {
	Ref string // required, normalized
}

// CreateCase registers a new case.
func CreateCase(ctx context.Context, database *sql.DB, input CreateCaseInput) (*evidence.Case, error) {
	ref, err := normalizeRef("case reference", input.Ref)
	if err != nil {
		return nil, err
	}
	c := &evidence.Case{Ref: ref, CreatedAt: time.Now().UTC()}
	if err := db.InsertCase(ctx, database, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCasesOutput contains the result of the ListCases operation.
type ListCasesOutput struct {
	Items []evidence.Case `json:"items"`
}

// ListCases returns every case, oldest first.
func ListCases(ctx context.Context, database *sql.DB) (*ListCasesOutput, error) {
	cases, err := db.ListCases(ctx, database)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []evidence.Case{}
	}
	return &ListCasesOutput{Items: cases}, nil
}
