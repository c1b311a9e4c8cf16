package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/db"
	"github.com/hpungsan/custody/internal/device/devicetest"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/naming"
	"github.com/hpungsan/custody/internal/session"
	"github.com/hpungsan/custody/internal/storage"
)

type testEnv struct {
	db     *sql.DB
	ledger *ledger.Ledger
	cfg    *config.Config
	sess   *session.Session
	link   *devicetest.Link
	photos int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()

	database, err := db.Init(base)
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.StorageRoot = filepath.Join(base, "evidence")
	cfg.LedgerPath = filepath.Join(base, "ledger.jsonl")
	cfg.ExportsDir = filepath.Join(base, "exports")
	cfg.Operator = "tester"
	if err := os.MkdirAll(cfg.StorageRoot, 0750); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	lg, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		t.Fatalf("ledger.Open failed: %v", err)
	}
	t.Cleanup(func() { lg.Close() })

	layout, err := storage.NewLayout(cfg.StorageRoot, 0)
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	link := devicetest.New("R1")
	sess, err := session.New(session.Deps{
		Link:    link,
		Ledger:  lg,
		Catalog: db.NewCatalog(database),
		Names:   naming.New(0, ".jpg"),
		Layout:  layout,
	}, session.Options{
		TransferTimeout: 2 * time.Second,
		StatusPoll:      10 * time.Millisecond,
		RemoteDirs:      []string{"/dcim"},
		Operator:        cfg.Operator,
	})
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	return &testEnv{db: database, ledger: lg, cfg: cfg, sess: sess, link: link}
}

func (e *testEnv) shoot() {
	e.photos++
	e.link.AddPhoto(fmt.Sprintf("/dcim/IMG_%04d.jpg", e.photos), []byte("jpeg"))
}

// seed creates CASE-001 with seal S1 and captures one sealed photo of it.
func (e *testEnv) seed(t *testing.T) *session.CaptureResult {
	t.Helper()
	ctx := context.Background()
	if _, err := CreateCase(ctx, e.db, CreateCaseInput{Ref: "CASE-001"}); err != nil {
		t.Fatalf("CreateCase failed: %v", err)
	}
	if _, err := CreateSeal(ctx, e.db, CreateSealInput{CaseRef: "CASE-001", Number: "S1", Label: "blue bag"}); err != nil {
		t.Fatalf("CreateSeal failed: %v", err)
	}
	if _, err := e.sess.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := Select(ctx, e.sess, SelectInput{CaseRef: "CASE-001", Seal: "S1"}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	e.shoot()
	res, err := Capture(ctx, e.sess, CaptureInput{Subject: "sealed"})
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	return res
}

func TestCreateCase_NormalizesAndRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := CreateCase(ctx, env.db, CreateCaseInput{Ref: "  CASE  042 "})
	if err != nil {
		t.Fatalf("CreateCase failed: %v", err)
	}
	if c.Ref != "CASE_042" {
		t.Errorf("Ref = %q, want %q", c.Ref, "CASE_042")
	}

	_, err = CreateCase(ctx, env.db, CreateCaseInput{Ref: "CASE 042"})
	if !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got: %v", err)
	}

	for _, bad := range []string{"", "a/b", "CON", "x:y"} {
		if _, err := CreateCase(ctx, env.db, CreateCaseInput{Ref: bad}); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("CreateCase(%q): expected ErrInvalidRequest, got: %v", bad, err)
		}
	}

	out, err := ListCases(ctx, env.db)
	if err != nil {
		t.Fatalf("ListCases failed: %v", err)
	}
	if len(out.Items) != 1 {
		t.Errorf("len(Items) = %d, want 1", len(out.Items))
	}
}

func TestSeals_AdvanceAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := CreateSeal(ctx, env.db, CreateSealInput{CaseRef: "NOPE", Number: "S1"}); err == nil {
		t.Error("expected error for seal under unknown case")
	}
	if _, err := CreateCase(ctx, env.db, CreateCaseInput{Ref: "CASE-001"}); err != nil {
		t.Fatalf("CreateCase failed: %v", err)
	}
	s, err := CreateSeal(ctx, env.db, CreateSealInput{CaseRef: "CASE-001", Number: "S1"})
	if err != nil {
		t.Fatalf("CreateSeal failed: %v", err)
	}
	if s.State != evidence.SealUnopened {
		t.Errorf("State = %v, want Unopened", s.State)
	}

	// Seals cannot skip a state.
	_, err = AdvanceSeal(ctx, env.db, nil, AdvanceSealInput{CaseRef: "CASE-001", Number: "S1", To: "recondition"})
	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
	_, err = AdvanceSeal(ctx, env.db, nil, AdvanceSealInput{CaseRef: "CASE-001", Number: "S1", To: "sideways"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}

	out, err := AdvanceSeal(ctx, env.db, env.sess, AdvanceSealInput{CaseRef: "CASE-001", Number: "S1", To: "open"})
	if err != nil {
		t.Fatalf("AdvanceSeal failed: %v", err)
	}
	if out.From != "Unopened" || out.To != "Opened" {
		t.Errorf("transition = %s -> %s, want Unopened -> Opened", out.From, out.To)
	}

	obj, err := AddObject(ctx, env.db, AddObjectInput{CaseRef: "CASE-001", Seal: "S1", Label: "phone"})
	if err != nil {
		t.Fatalf("AddObject failed: %v", err)
	}
	if obj.Letter != "A" {
		t.Errorf("Letter = %q, want A", obj.Letter)
	}
	if _, err := AddObject(ctx, env.db, AddObjectInput{CaseRef: "CASE-001", Seal: "S1", Letter: "a"}); !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for duplicate letter, got: %v", err)
	}
	if _, err := AddObject(ctx, env.db, AddObjectInput{CaseRef: "CASE-001", Seal: "S1", Letter: "7"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for bad letter, got: %v", err)
	}
	if _, err := AddObject(ctx, env.db, AddObjectInput{CaseRef: "CASE-001", Seal: "S9"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown seal, got: %v", err)
	}

	list, err := ListSeals(ctx, env.db, ListSealsInput{CaseRef: "CASE-001"})
	if err != nil {
		t.Fatalf("ListSeals failed: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(list.Items))
	}
	if got := list.Items[0]; len(got.Transitions) != 1 || len(got.Objects) != 1 {
		t.Errorf("transitions = %d, objects = %d, want 1 and 1", len(got.Transitions), len(got.Objects))
	}
}

func TestCapture_RequiresSession(t *testing.T) {
	_, err := Capture(context.Background(), nil, CaptureInput{Subject: "sealed"})
	if !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got: %v", err)
	}

	env := newTestEnv(t)
	_, err = Capture(context.Background(), env.sess, CaptureInput{Subject: "wrapping"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for unknown subject, got: %v", err)
	}
}

func TestHistory_FiltersAndPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.seed(t)

	out, err := History(ctx, env.ledger, HistoryInput{CaseRef: "CASE-001"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if out.Pagination.Total != 2 {
		t.Fatalf("Total = %d, want 2 (pending + succeeded)", out.Pagination.Total)
	}
	if out.Items[0].Outcome != evidence.OutcomePending || out.Items[1].Outcome != evidence.OutcomeSucceeded {
		t.Errorf("outcomes = %s, %s", out.Items[0].Outcome, out.Items[1].Outcome)
	}

	out, err = History(ctx, env.ledger, HistoryInput{Outcome: "Succeeded"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].Identifier != res.Identifier {
		t.Errorf("expected one Succeeded record for %s, got %+v", res.Identifier, out.Items)
	}

	out, err = History(ctx, env.ledger, HistoryInput{Limit: 1})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(out.Items) != 1 || !out.Pagination.HasMore {
		t.Errorf("expected one item with HasMore, got %d items, HasMore=%v", len(out.Items), out.Pagination.HasMore)
	}

	out, err = History(ctx, env.ledger, HistoryInput{CaseRef: "OTHER"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(out.Items) != 0 {
		t.Errorf("expected no records for OTHER, got %d", len(out.Items))
	}

	if _, err := History(ctx, env.ledger, HistoryInput{Outcome: "Lost"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestReconcileAndVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.seed(t)

	rep, err := Reconcile(ctx, env.ledger, ReconcileInput{StorageRoot: env.cfg.StorageRoot})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !rep.Clean() {
		t.Errorf("expected clean reconcile, got %+v", rep.Discrepancies)
	}

	if err := os.Remove(res.Path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	rep, err = Reconcile(ctx, env.ledger, ReconcileInput{StorageRoot: env.cfg.StorageRoot})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if rep.Clean() {
		t.Error("expected a missing-file discrepancy")
	}

	if _, err := Reconcile(ctx, env.ledger, ReconcileInput{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}

	vr, err := Verify(env.ledger)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !vr.OK || vr.Records != 2 {
		t.Errorf("Verify = %+v, want OK with 2 records", vr)
	}
}

func TestExport_PlainAndVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t)

	out, err := Export(ctx, env.ledger, env.cfg, ExportInput{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if filepath.Dir(out.Path) != env.cfg.ExportsDir {
		t.Errorf("Path = %q, want a file in %q", out.Path, env.cfg.ExportsDir)
	}
	if out.Count != 2 || out.Compressed {
		t.Errorf("Count = %d, Compressed = %v", out.Count, out.Compressed)
	}

	file, err := os.Open(out.Path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("export is empty")
	}
	var header ExportHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		t.Fatalf("header is not JSON: %v", err)
	}
	if !header.CustodyExport || header.SchemaVersion != ExportSchemaVersion || header.LastHash != out.LastHash {
		t.Errorf("unexpected header %+v", header)
	}

	vr, err := VerifyExport(env.cfg, VerifyExportInput{Path: out.Path})
	if err != nil {
		t.Fatalf("VerifyExport failed: %v", err)
	}
	if !vr.Report.OK {
		t.Errorf("expected OK, got problems %+v", vr.Report.Problems)
	}
}

func TestExport_CompressedAndVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t)

	out, err := Export(ctx, env.ledger, env.cfg, ExportInput{Compress: true})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !out.Compressed || !strings.HasSuffix(out.Path, ".jsonl.zst") {
		t.Errorf("expected compressed export, got %+v", out)
	}

	file, err := os.Open(out.Path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer file.Close()
	dec, err := zstd.NewReader(file)
	if err != nil {
		t.Fatalf("zstd.NewReader failed: %v", err)
	}
	defer dec.Close()
	lines := 0
	scanner := bufio.NewScanner(dec)
	for scanner.Scan() {
		lines++
	}
	if lines != 3 {
		t.Errorf("lines = %d, want 3 (header + 2 records)", lines)
	}

	vr, err := VerifyExport(env.cfg, VerifyExportInput{Path: out.Path})
	if err != nil {
		t.Fatalf("VerifyExport failed: %v", err)
	}
	if !vr.Report.OK {
		t.Errorf("expected OK, got problems %+v", vr.Report.Problems)
	}
}

func TestVerifyExport_DetectsTampering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t)

	out, err := Export(ctx, env.ledger, env.cfg, ExportInput{Path: filepath.Join(env.cfg.ExportsDir, "tampered.jsonl")})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	data, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	edited := strings.Replace(string(data), `"outcome":"Succeeded"`, `"outcome":"Failed"`, 1)
	if edited == string(data) {
		t.Fatal("fixture did not contain a Succeeded record")
	}
	if err := os.WriteFile(out.Path, []byte(edited), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	vr, err := VerifyExport(env.cfg, VerifyExportInput{Path: out.Path})
	if err != nil {
		t.Fatalf("VerifyExport failed: %v", err)
	}
	if vr.Report.OK {
		t.Error("expected tampering to be detected")
	}
}

func TestExport_RejectsPathOutsideExports(t *testing.T) {
	env := newTestEnv(t)
	_, err := Export(context.Background(), env.ledger, env.cfg, ExportInput{Path: filepath.Join(t.TempDir(), "out.jsonl")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestReport_InlineAndSaved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.seed(t)

	if _, err := Report(ctx, env.db, env.ledger, env.cfg, ReportInput{CaseRef: "CASE-404"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}

	out, err := Report(ctx, env.db, env.ledger, env.cfg, ReportInput{CaseRef: "CASE-001", StorageRoot: env.cfg.StorageRoot})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if out.Format != ReportMarkdown || !out.OK || out.Records != 2 {
		t.Errorf("unexpected output %+v", out)
	}
	if !strings.Contains(out.Content, res.Identifier) || !strings.Contains(out.Content, "blue bag") {
		t.Errorf("report is missing the capture or the seal label:\n%s", out.Content)
	}

	out, err = Report(ctx, env.db, env.ledger, env.cfg, ReportInput{CaseRef: "CASE-001", Format: "html", Save: true})
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if out.Content != "" || !strings.HasSuffix(out.Path, ".html") {
		t.Errorf("expected a saved HTML report, got %+v", out)
	}
	data, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "<table>") {
		t.Error("HTML report has no table")
	}

	if _, err := Report(ctx, env.db, env.ledger, env.cfg, ReportInput{CaseRef: "CASE-001", Format: "pdf"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}
