package web

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/logging"
	"github.com/hpungsan/custody/internal/ops"
	"github.com/hpungsan/custody/internal/report"
	"github.com/hpungsan/custody/internal/session"
)

// Handlers contains HTTP route handlers for the audit server.
type Handlers struct {
	db      *sql.DB
	ledger  *ledger.Ledger
	sess    *session.Session
	cfg     *config.Config
	log     logging.Logger
	version string
}

// HandleCases handles GET /cases: an HTML index linking each case report.
func (h *Handlers) HandleCases(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListCases(r.Context(), h.db)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	var b strings.Builder
	b.WriteString("# Cases\n\n")
	if len(out.Items) == 0 {
		b.WriteString("No cases recorded.\n")
	}
	for _, c := range out.Items {
		// References are validated folder names; only spaces need escaping in links.
		fmt.Fprintf(&b, "- [%s](/cases/%s/report) opened %s\n",
			c.Ref, strings.ReplaceAll(c.Ref, " ", "%20"), c.CreatedAt.UTC().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "\ncustody %s\n", h.version)

	page, err := report.HTML("Cases", b.String())
	if err != nil {
		h.renderError(w, r, errors.NewInternal(err))
		return
	}
	renderHTML(w, http.StatusOK, page)
}

// HandleReport handles GET /cases/{ref}/report. ?format=markdown returns the
// Markdown source instead of HTML.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = ops.ReportHTML
	}
	out, err := ops.Report(r.Context(), h.db, h.ledger, h.cfg, ops.ReportInput{
		CaseRef:     r.PathValue("ref"),
		Format:      format,
		StorageRoot: h.cfg.StorageRoot,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if out.Format == ops.ReportMarkdown {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(out.Content))
		return
	}
	renderHTML(w, http.StatusOK, out.Content)
}

// HandleState handles GET /api/state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.sess == nil {
		h.renderError(w, r, errors.NewNotFound("session", "this process"))
		return
	}
	renderJSON(w, http.StatusOK, h.sess.Snapshot())
}

// HandleCasesJSON handles GET /api/cases.
func (h *Handlers) HandleCasesJSON(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListCases(r.Context(), h.db)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleSeals handles GET /api/cases/{ref}/seals.
func (h *Handlers) HandleSeals(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListSeals(r.Context(), h.db, ops.ListSealsInput{CaseRef: r.PathValue("ref")})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleHistory handles GET /api/history.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := ops.History(r.Context(), h.ledger, ops.HistoryInput{
		CaseRef:    q.Get("case"),
		Identifier: q.Get("identifier"),
		Outcome:    q.Get("outcome"),
		Limit:      parseIntParam(r, "limit", ops.DefaultHistoryLimit),
		Offset:     parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleReconcile handles GET /api/reconcile.
func (h *Handlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Reconcile(r.Context(), h.ledger, ops.ReconcileInput{StorageRoot: h.cfg.StorageRoot})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleVerify handles GET /api/verify.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Verify(h.ledger)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
