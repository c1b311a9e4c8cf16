package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"session_state": {
		def:     sessionStateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionState },
	},
	"session_connect": {
		def:     sessionConnectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionConnect },
	},
	"session_disconnect": {
		def:     sessionDisconnectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionDisconnect },
	},
	"session_reconnect": {
		def:     sessionReconnectToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionReconnect },
	},
	"context_set": {
		def:     contextSetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleContextSet },
	},
	"context_clear": {
		def:     contextClearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleContextClear },
	},
	"case_create": {
		def:     caseCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseCreate },
	},
	"case_list": {
		def:     caseListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaseList },
	},
	"seal_create": {
		def:     sealCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSealCreate },
	},
	"seal_advance": {
		def:     sealAdvanceToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSealAdvance },
	},
	"seal_list": {
		def:     sealListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSealList },
	},
	"object_add": {
		def:     objectAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleObjectAdd },
	},
	"capture_take": {
		def:     captureTakeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureTake },
	},
	"ledger_history": {
		def:     ledgerHistoryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLedgerHistory },
	},
	"ledger_reconcile": {
		def:     ledgerReconcileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLedgerReconcile },
	},
	"ledger_verify": {
		def:     ledgerVerifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLedgerVerify },
	},
	"ledger_export": {
		def:     ledgerExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLedgerExport },
	},
	"ledger_verify_export": {
		def:     ledgerVerifyExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLedgerVerifyExport },
	},
	"report_render": {
		def:     reportRenderToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReportRender },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the custody tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(h *Handlers, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"custody",
		version,
		server.WithToolCapabilities(true),
	)

	disabled := make(map[string]bool)
	if h.cfg != nil {
		for _, name := range h.cfg.DisabledTools {
			disabled[name] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the tools over stdio until the client disconnects.
func Run(h *Handlers, version string) error {
	h.log.Info(context.Background(), "mcp server starting", "disabled_tools", h.cfg.DisabledTools)
	return server.ServeStdio(NewServer(h, version))
}
