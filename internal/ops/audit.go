package ops

import (
	"context"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/storage"
)

// ReconcileInput contains parameters for the Reconcile operation.
type ReconcileInput struct {
	StorageRoot string // required
}

// Reconcile cross-checks the ledger against the storage root. It never
// repairs anything; discrepancies are only reported.
func Reconcile(ctx context.Context, lg *ledger.Ledger, input ReconcileInput) (*ledger.ReconcileReport, error) {
	if input.StorageRoot == "" {
		return nil, errors.NewInvalidRequest("storage root is required")
	}
	layout, err := storage.NewLayout(input.StorageRoot, 0)
	if err != nil {
		return nil, err
	}
	return lg.Reconcile(ctx, layout.Root())
}

// Verify walks the whole ledger and checks its hash chain.
func Verify(lg *ledger.Ledger) (*ledger.VerifyReport, error) {
	return lg.Verify()
}
