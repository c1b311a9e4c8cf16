package web

import (
	"encoding/json"
	"net/http"

	"github.com/hpungsan/custody/internal/errors"
)

// renderError writes a custody error as JSON, or as plain text for
// browser routes.
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	cErr, ok := errors.As(err)
	if !ok {
		cErr = errors.NewInternal(err)
	}
	if cErr.Status >= 500 {
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "code", string(cErr.Code), "error", err)
	}

	if !wantsJSON(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(cErr.Status)
		_, _ = w.Write([]byte(cErr.Message + "\n"))
		return
	}

	body := map[string]any{
		"code":    string(cErr.Code),
		"message": cErr.Message,
		"status":  cErr.Status,
	}
	if len(cErr.Details) > 0 {
		body["details"] = cErr.Details
	}
	renderJSON(w, cErr.Status, map[string]any{"error": body})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderHTML writes a complete HTML page.
func renderHTML(w http.ResponseWriter, status int, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}

// wantsJSON reports whether the error should be rendered as JSON: API
// routes always are, browser routes only when asked.
func wantsJSON(r *http.Request) bool {
	if len(r.URL.Path) >= 5 && r.URL.Path[:5] == "/api/" {
		return true
	}
	accept := r.Header.Get("Accept")
	return accept == "application/json"
}
