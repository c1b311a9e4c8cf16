package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/db"
	"github.com/hpungsan/custody/internal/device/devicetest"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/logging"
	"github.com/hpungsan/custody/internal/naming"
	"github.com/hpungsan/custody/internal/ops"
	"github.com/hpungsan/custody/internal/session"
	"github.com/hpungsan/custody/internal/storage"
)

func setupTest(t *testing.T) (*Handlers, *devicetest.Link) {
	t.Helper()
	base := t.TempDir()
	database, err := db.Init(base)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.StorageRoot = filepath.Join(base, "evidence")
	cfg.ExportsDir = filepath.Join(base, "exports")
	if err := os.MkdirAll(cfg.StorageRoot, 0750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	lg, err := ledger.Open(filepath.Join(base, "ledger.jsonl"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { lg.Close() })

	layout, err := storage.NewLayout(cfg.StorageRoot, 0)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	link := devicetest.New("R1")
	sess, err := session.New(session.Deps{
		Link:    link,
		Ledger:  lg,
		Catalog: db.NewCatalog(database),
		Names:   naming.New(0, ".jpg"),
		Layout:  layout,
	}, session.Options{TransferTimeout: time.Second, StatusPoll: 10 * time.Millisecond, RemoteDirs: []string{"/dcim"}})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	return &Handlers{
		db:      database,
		ledger:  lg,
		sess:    sess,
		cfg:     cfg,
		log:     logging.Discard(),
		version: "test",
	}, link
}

// seedCapture creates CASE-001/S1 and captures one sealed photo through the session.
func seedCapture(t *testing.T, h *Handlers, link *devicetest.Link) string {
	t.Helper()
	ctx := context.Background()
	if _, err := ops.CreateCase(ctx, h.db, ops.CreateCaseInput{Ref: "CASE-001"}); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if _, err := ops.CreateSeal(ctx, h.db, ops.CreateSealInput{CaseRef: "CASE-001", Number: "S1"}); err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}
	if _, err := h.sess.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := ops.Select(ctx, h.sess, ops.SelectInput{CaseRef: "CASE-001", Seal: "S1"}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	link.AddPhoto("/dcim/IMG_0001.jpg", []byte("jpeg"))
	res, err := ops.Capture(ctx, h.sess, ops.CaptureInput{Subject: "sealed"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	return res.Identifier
}

func get(t *testing.T, h *Handlers, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.routes().ServeHTTP(w, req)
	return w
}

func TestRoot_RedirectsToCases(t *testing.T) {
	h, _ := setupTest(t)
	w := get(t, h, "/")
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/cases" {
		t.Errorf("Location = %q, want /cases", loc)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h, _ := setupTest(t)
	w := get(t, h, "/api/verify")
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if !strings.Contains(w.Header().Get("Content-Security-Policy"), "default-src 'none'") {
		t.Errorf("unexpected CSP %q", w.Header().Get("Content-Security-Policy"))
	}
}

func TestHandleCases_ListsReports(t *testing.T) {
	h, link := setupTest(t)
	seedCapture(t, h, link)

	w := get(t, h, "/cases")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `href="/cases/CASE-001/report"`) {
		t.Errorf("missing report link:\n%s", w.Body.String())
	}
}

func TestHandleReport(t *testing.T) {
	h, link := setupTest(t)
	id := seedCapture(t, h, link)

	w := get(t, h, "/cases/CASE-001/report")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), id) {
		t.Errorf("report does not mention %s", id)
	}

	w = get(t, h, "/cases/CASE-001/report?format=markdown")
	if !strings.HasPrefix(w.Body.String(), "# Chain of custody: CASE-001") {
		t.Errorf("unexpected markdown report:\n%s", w.Body.String())
	}

	w = get(t, h, "/cases/NOPE/report")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleState(t *testing.T) {
	h, _ := setupTest(t)
	w := get(t, h, "/api/state")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var snap map[string]any
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap["state"] != "Idle" {
		t.Errorf("state = %v, want Idle", snap["state"])
	}

	h.sess = nil
	w = get(t, h, "/api/state")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a session", w.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	h, link := setupTest(t)
	id := seedCapture(t, h, link)

	w := get(t, h, "/api/history?case=CASE-001&outcome=Succeeded")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out ops.HistoryOutput
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Identifier != id {
		t.Errorf("unexpected history %+v", out.Items)
	}

	w = get(t, h, "/api/history?outcome=Lost")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body map[string]map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"]["code"] != "INVALID_REQUEST" {
		t.Errorf("code = %v, want INVALID_REQUEST", body["error"]["code"])
	}
}

func TestHandleReconcileAndVerify(t *testing.T) {
	h, link := setupTest(t)
	seedCapture(t, h, link)

	w := get(t, h, "/api/reconcile")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var rec ledger.ReconcileReport
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rec.Clean() || rec.Succeeded != 1 {
		t.Errorf("unexpected reconcile %+v", rec)
	}

	w = get(t, h, "/api/verify")
	var vr ledger.VerifyReport
	if err := json.NewDecoder(w.Body).Decode(&vr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !vr.OK || vr.Records != 2 {
		t.Errorf("unexpected verify %+v", vr)
	}
}

func TestHandleSeals(t *testing.T) {
	h, link := setupTest(t)
	seedCapture(t, h, link)

	w := get(t, h, "/api/cases/CASE-001/seals")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var out ops.ListSealsOutput
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].CaptureCount != 1 {
		t.Errorf("unexpected seals %+v", out.Items)
	}
}
