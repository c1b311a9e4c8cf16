package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/logging"
	"github.com/hpungsan/custody/internal/ops"
	"github.com/hpungsan/custody/internal/session"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db     *sql.DB
	ledger *ledger.Ledger
	sess   *session.Session
	cfg    *config.Config
	log    logging.Logger
}

// NewHandlers creates a new Handlers instance. sess may be nil, in which
// case the session tools report INVALID_STATE.
func NewHandlers(db *sql.DB, lg *ledger.Ledger, sess *session.Session, cfg *config.Config, log logging.Logger) *Handlers {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Handlers{db: db, ledger: lg, sess: sess, cfg: cfg, log: log}
}

// Request types for each tool

// ContextSetRequest represents the arguments for context_set.
type ContextSetRequest struct {
	CaseRef string `json:"case_ref"`
	Seal    string `json:"seal,omitempty"`
	Object  string `json:"object,omitempty"`
}

// CaseCreateRequest represents the arguments for case_create.
type CaseCreateRequest struct {
	Ref string `json:"ref"`
}

// SealCreateRequest represents the arguments for seal_create.
type SealCreateRequest struct {
	CaseRef string `json:"case_ref"`
	Number  string `json:"number"`
	Label   string `json:"label,omitempty"`
}

// SealAdvanceRequest represents the arguments for seal_advance.
type SealAdvanceRequest struct {
	CaseRef string `json:"case_ref"`
	Number  string `json:"number"`
	To      string `json:"to"`
}

// SealListRequest represents the arguments for seal_list.
type SealListRequest struct {
	CaseRef string `json:"case_ref"`
}

// ObjectAddRequest represents the arguments for object_add.
type ObjectAddRequest struct {
	CaseRef string `json:"case_ref"`
	Seal    string `json:"seal"`
	Letter  string `json:"letter,omitempty"`
	Label   string `json:"label,omitempty"`
}

// CaptureTakeRequest represents the arguments for capture_take.
type CaptureTakeRequest struct {
	Subject    string `json:"subject"`
	RemotePath string `json:"remote_path,omitempty"`
	Retry      string `json:"retry,omitempty"`
}

// LedgerHistoryRequest represents the arguments for ledger_history.
type LedgerHistoryRequest struct {
	CaseRef    string `json:"case_ref,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// LedgerExportRequest represents the arguments for ledger_export.
type LedgerExportRequest struct {
	Path     string `json:"path,omitempty"`
	Compress bool   `json:"compress,omitempty"`
}

// LedgerVerifyExportRequest represents the arguments for ledger_verify_export.
type LedgerVerifyExportRequest struct {
	Path string `json:"path"`
}

// ReportRenderRequest represents the arguments for report_render.
type ReportRenderRequest struct {
	CaseRef string `json:"case_ref"`
	Format  string `json:"format,omitempty"`
	Path    string `json:"path,omitempty"`
	Save    bool   `json:"save,omitempty"`
}

// Handler implementations

// session returns the live session or an INVALID_STATE error.
func (h *Handlers) session() (*session.Session, error) {
	if h.sess == nil {
		return nil, errors.NewInvalidState("session", "unavailable")
	}
	return h.sess, nil
}

// HandleSessionState handles the session_state tool call.
func (h *Handlers) HandleSessionState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := h.session()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(sess.Snapshot())
}

// HandleSessionConnect handles the session_connect tool call.
func (h *Handlers) HandleSessionConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := h.session()
	if err != nil {
		return errorResult(err), nil
	}
	if _, err := sess.Connect(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(sess.Snapshot())
}

// HandleSessionDisconnect handles the session_disconnect tool call.
func (h *Handlers) HandleSessionDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := h.session()
	if err != nil {
		return errorResult(err), nil
	}
	if err := sess.Disconnect(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(sess.Snapshot())
}

// HandleSessionReconnect handles the session_reconnect tool call.
func (h *Handlers) HandleSessionReconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := h.session()
	if err != nil {
		return errorResult(err), nil
	}
	if _, err := sess.Reconnect(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(sess.Snapshot())
}

// HandleContextSet handles the context_set tool call.
func (h *Handlers) HandleContextSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContextSetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	sess, err := h.session()
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Select(ctx, sess, ops.SelectInput{
		CaseRef: input.CaseRef,
		Seal:    input.Seal,
		Object:  input.Object,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleContextClear handles the context_clear tool call.
func (h *Handlers) HandleContextClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := h.session()
	if err != nil {
		return errorResult(err), nil
	}
	if err := sess.ClearContext(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(sess.Snapshot())
}

// HandleCaseCreate handles the case_create tool call.
func (h *Handlers) HandleCaseCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaseCreateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.CreateCase(ctx, h.db, ops.CreateCaseInput{Ref: input.Ref})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCaseList handles the case_list tool call.
func (h *Handlers) HandleCaseList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ListCases(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSealCreate handles the seal_create tool call.
func (h *Handlers) HandleSealCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SealCreateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.CreateSeal(ctx, h.db, ops.CreateSealInput{
		CaseRef: input.CaseRef,
		Number:  input.Number,
		Label:   input.Label,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSealAdvance handles the seal_advance tool call. The change goes
// through the session so a seal being photographed cannot move.
func (h *Handlers) HandleSealAdvance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SealAdvanceRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.AdvanceSeal(ctx, h.db, h.sess, ops.AdvanceSealInput{
		CaseRef: input.CaseRef,
		Number:  input.Number,
		To:      input.To,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSealList handles the seal_list tool call.
func (h *Handlers) HandleSealList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SealListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.ListSeals(ctx, h.db, ops.ListSealsInput{CaseRef: input.CaseRef})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleObjectAdd handles the object_add tool call.
func (h *Handlers) HandleObjectAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ObjectAddRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.AddObject(ctx, h.db, ops.AddObjectInput{
		CaseRef: input.CaseRef,
		Seal:    input.Seal,
		Letter:  input.Letter,
		Label:   input.Label,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCaptureTake handles the capture_take tool call.
func (h *Handlers) HandleCaptureTake(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaptureTakeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Capture(ctx, h.sess, ops.CaptureInput{
		Subject:    input.Subject,
		RemotePath: input.RemotePath,
		Retry:      input.Retry,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleLedgerHistory handles the ledger_history tool call.
func (h *Handlers) HandleLedgerHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LedgerHistoryRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.History(ctx, h.ledger, ops.HistoryInput{
		CaseRef:    input.CaseRef,
		Identifier: input.Identifier,
		Outcome:    input.Outcome,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleLedgerReconcile handles the ledger_reconcile tool call.
func (h *Handlers) HandleLedgerReconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Reconcile(ctx, h.ledger, ops.ReconcileInput{StorageRoot: h.cfg.StorageRoot})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleLedgerVerify handles the ledger_verify tool call.
func (h *Handlers) HandleLedgerVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Verify(h.ledger)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleLedgerExport handles the ledger_export tool call.
func (h *Handlers) HandleLedgerExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LedgerExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Export(ctx, h.ledger, h.cfg, ops.ExportInput{
		Path:     input.Path,
		Compress: input.Compress,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleLedgerVerifyExport handles the ledger_verify_export tool call.
func (h *Handlers) HandleLedgerVerifyExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LedgerVerifyExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.VerifyExport(h.cfg, ops.VerifyExportInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleReportRender handles the report_render tool call.
func (h *Handlers) HandleReportRender(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReportRenderRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Report(ctx, h.db, h.ledger, h.cfg, ops.ReportInput{
		CaseRef:     input.CaseRef,
		Format:      input.Format,
		Path:        input.Path,
		Save:        input.Save,
		StorageRoot: h.cfg.StorageRoot,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed; they may carry file paths or SQL.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr, ok := errors.As(err); ok {
		message := cErr.Message
		if err != error(cErr) {
			// Keep any wrapper context, e.g. "startup reconcile: ...".
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": message,
			"status":  cErr.Status,
		}
		if cErr.Code != errors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
