package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/db"
	"github.com/hpungsan/custody/internal/device"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/logging"
	"github.com/hpungsan/custody/internal/naming"
	"github.com/hpungsan/custody/internal/session"
	"github.com/hpungsan/custody/internal/storage"
)

// env holds the process-wide dependencies shared by every command.
type env struct {
	cfg    *config.Config
	log    logging.Logger
	db     *sql.DB
	ledger *ledger.Ledger

	// link replaces the configured device when set.
	link device.Link
}

// openEnv opens the catalog and a read-only view of the ledger under baseDir
// and reconciles the ledger against the storage root once. Commands that
// change evidence call lockLedger before doing so.
func openEnv(ctx context.Context, baseDir string, cfg *config.Config, log logging.Logger) (*env, error) {
	// A configured root may be a removable or network volume; only the
	// default one is created on demand.
	if filepath.Clean(cfg.StorageRoot) == filepath.Join(baseDir, "evidence") {
		if err := os.MkdirAll(cfg.StorageRoot, 0o750); err != nil {
			return nil, fmt.Errorf("create storage root: %w", err)
		}
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	lg, err := ledger.OpenReadOnly(cfg.LedgerPath, ledger.WithLogger(log))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	e := &env{cfg: cfg, log: log, db: database, ledger: lg}
	e.reconcile(ctx)
	return e, nil
}

// lockLedger reopens the ledger for writing. It fails while another custody
// process holds the ledger, so captures and seal changes never run in two
// processes at once.
func (e *env) lockLedger() error {
	if e.ledger.Writable() {
		return nil
	}
	lg, err := ledger.Open(e.cfg.LedgerPath, ledger.WithLogger(e.log))
	if err != nil {
		return err
	}
	e.ledger.Close()
	e.ledger = lg
	return nil
}

// reconcile logs every ledger/storage discrepancy. It never repairs.
func (e *env) reconcile(ctx context.Context) {
	rep, err := e.ledger.Reconcile(ctx, e.cfg.StorageRoot)
	if err != nil {
		e.log.Warn(ctx, "startup reconcile failed", "storage_root", e.cfg.StorageRoot, "error", err)
		return
	}
	for _, d := range rep.Discrepancies {
		e.log.Warn(ctx, "ledger discrepancy",
			"kind", d.Kind,
			"identifier", d.Identifier,
			"path", d.Path,
			"sequence", d.Sequence,
		)
	}
	e.log.Debug(ctx, "startup reconcile done",
		"succeeded", rep.Succeeded,
		"files", rep.Files,
		"discrepancies", len(rep.Discrepancies),
	)
}

// newSession builds an Idle capture session on the configured device.
func (e *env) newSession() (*session.Session, error) {
	link := e.link
	if link == nil {
		var err error
		if link, err = device.New(e.cfg, e.log); err != nil {
			return nil, err
		}
	}
	layout, err := storage.NewLayout(e.cfg.StorageRoot, e.cfg.MinFreeBytes)
	if err != nil {
		return nil, err
	}
	return session.New(session.Deps{
		Link:    link,
		Ledger:  e.ledger,
		Catalog: db.NewCatalog(e.db),
		Names:   naming.New(e.cfg.NamingMaxAttempts, e.cfg.PhotoExtension),
		Layout:  layout,
		Logger:  e.log,
	}, session.OptionsFromConfig(e.cfg))
}

// Close releases the ledger and the catalog.
func (e *env) Close() {
	if err := e.ledger.Close(); err != nil {
		e.log.Warn(context.Background(), "ledger close failed", "error", err)
	}
	e.db.Close()
}
