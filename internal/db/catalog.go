package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/custody/internal/evidence"
)

// Catalog adapts the package functions to the lookups the capture session needs.
type Catalog struct {
	DB *sql.DB
}

// NewCatalog wraps an initialized database.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{DB: db}
}

// Seal reloads a seal so captures always see its committed state.
func (c *Catalog) Seal(ctx context.Context, caseRef, number string) (*evidence.Seal, error) {
	return GetSeal(ctx, c.DB, caseRef, number)
}

// Object reloads an object of a seal.
func (c *Catalog) Object(ctx context.Context, caseRef, seal, letter string) (*evidence.ObjectItem, error) {
	return GetObject(ctx, c.DB, caseRef, seal, letter)
}

// Case looks up a case.
func (c *Catalog) Case(ctx context.Context, ref string) (*evidence.Case, error) {
	return GetCase(ctx, c.DB, ref)
}

// RecordCapture bumps capture counters after a Succeeded capture.
func (c *Catalog) RecordCapture(ctx context.Context, caseRef, seal, letter string) error {
	return RecordCapture(ctx, c.DB, caseRef, seal, letter)
}
