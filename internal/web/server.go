// Package web serves a read-only audit view of the custody data: the session
// state, the ledger, and per-case chain-of-custody reports.
package web

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/logging"
	"github.com/hpungsan/custody/internal/session"
)

// NewServer creates the audit HTTP server. sess may be nil when no device
// session runs in this process.
func NewServer(db *sql.DB, lg *ledger.Ledger, sess *session.Session, cfg *config.Config, log logging.Logger, version, bind string, port int) *http.Server {
	h := &Handlers{
		db:      db,
		ledger:  lg,
		sess:    sess,
		cfg:     cfg,
		log:     log,
		version: version,
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handlers) routes() http.Handler {
	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cases", http.StatusFound)
	})
	mux.HandleFunc("GET /cases", h.HandleCases)
	mux.HandleFunc("GET /cases/{ref}/report", h.HandleReport)

	mux.HandleFunc("GET /api/state", h.HandleState)
	mux.HandleFunc("GET /api/cases", h.HandleCasesJSON)
	mux.HandleFunc("GET /api/cases/{ref}/seals", h.HandleSeals)
	mux.HandleFunc("GET /api/history", h.HandleHistory)
	mux.HandleFunc("GET /api/reconcile", h.HandleReconcile)
	mux.HandleFunc("GET /api/verify", h.HandleVerify)

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
// Report pages carry an inline stylesheet and no scripts.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, log logging.Logger) error {
	ctx := context.Background()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info(ctx, "audit server running", "url", "http://"+srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn(ctx, "server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
