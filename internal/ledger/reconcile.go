package ledger

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/storage"
)

// Discrepancy kinds reported by Reconcile.
const (
	MissingFile     = "missing_file"     // Succeeded entry, no file
	EmptyFile       = "empty_file"       // Succeeded entry, zero-byte file
	OrphanFile      = "orphan_file"      // file with no Succeeded entry
	LeftoverPartial = "leftover_partial" // uncommitted transfer left on disk
	Interrupted     = "interrupted"      // attempt whose last record is Pending
)

// Discrepancy is one mismatch between the ledger and the storage root.
type Discrepancy struct {
	Kind       string `json:"kind"`
	Identifier string `json:"identifier,omitempty"`
	Path       string `json:"path,omitempty"`
	Sequence   uint64 `json:"sequence,omitempty"`
}

// ReconcileReport is the result of one reconciliation pass.
type ReconcileReport struct {
	StorageRoot   string        `json:"storage_root"`
	Succeeded     int           `json:"succeeded"`
	Files         int           `json:"files"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// Clean reports whether no discrepancy was found.
func (r *ReconcileReport) Clean() bool {
	return len(r.Discrepancies) == 0
}

// Reconcile cross-checks every Succeeded entry against the file under
// storageRoot, and every file against the ledger. It only reads: nothing is
// repaired, moved or deleted. Results are sorted so two passes over unchanged
// inputs produce identical reports.
func (lg *Ledger) Reconcile(ctx context.Context, storageRoot string) (*ReconcileReport, error) {
	rep := &ReconcileReport{StorageRoot: storageRoot, Discrepancies: []Discrepancy{}}

	succeeded := make(map[string]Record) // rel path -> record
	last := make(map[string]Record)      // attempt id -> latest record
	for rec, err := range lg.History("") {
		if err != nil {
			return nil, err
		}
		if rec.AttemptID != "" {
			last[rec.AttemptID] = rec
		}
		if rec.Outcome == evidence.OutcomeSucceeded && rec.Path != "" {
			succeeded[filepath.Clean(rec.Path)] = rec
		}
	}
	rep.Succeeded = len(succeeded)

	for rel, rec := range succeeded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(filepath.Join(storageRoot, rel))
		switch {
		case err != nil:
			rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
				Kind: MissingFile, Identifier: rec.Identifier, Path: rel, Sequence: rec.Sequence,
			})
		case info.Size() == 0:
			rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
				Kind: EmptyFile, Identifier: rec.Identifier, Path: rel, Sequence: rec.Sequence,
			})
		}
	}

	for _, rec := range last {
		if rec.Outcome == evidence.OutcomePending {
			rep.Discrepancies = append(rep.Discrepancies, Discrepancy{
				Kind: Interrupted, Identifier: rec.Identifier, Path: rec.Path, Sequence: rec.Sequence,
			})
		}
	}

	files, err := storage.Scan(ctx, storageRoot)
	if err != nil {
		return nil, err
	}
	rep.Files = len(files)
	for _, f := range files {
		if f.Partial {
			rep.Discrepancies = append(rep.Discrepancies, Discrepancy{Kind: LeftoverPartial, Path: f.RelPath})
			continue
		}
		if _, ok := succeeded[filepath.Clean(f.RelPath)]; !ok {
			rep.Discrepancies = append(rep.Discrepancies, Discrepancy{Kind: OrphanFile, Path: f.RelPath})
		}
	}

	sort.Slice(rep.Discrepancies, func(i, j int) bool {
		a, b := rep.Discrepancies[i], rep.Discrepancies[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Identifier < b.Identifier
	})
	return rep, nil
}
