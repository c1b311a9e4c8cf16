package mcp

import "github.com/mark3labs/mcp-go/mcp"

var sessionStateToolDef = mcp.NewTool("session_state",
	mcp.WithDescription("Report the capture session state: device, active context, in-flight capture and last error."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var sessionConnectToolDef = mcp.NewTool("session_connect",
	mcp.WithDescription("Connect the capture device. Allowed only from Idle."),
)

var sessionDisconnectToolDef = mcp.NewTool("session_disconnect",
	mcp.WithDescription("Release the capture device and return to Idle. Refused while a capture is in flight."),
)

var sessionReconnectToolDef = mcp.NewTool("session_reconnect",
	mcp.WithDescription("Recover from the Error state: re-check the ledger and storage, then reconnect the device. The context must be set again afterwards."),
)

var contextSetToolDef = mcp.NewTool("context_set",
	mcp.WithDescription("Select the case, seal and object that the next captures are filed under."),
	mcp.WithString("case_ref", mcp.Required(), mcp.Description("Case reference")),
	mcp.WithString("seal", mcp.Description("Seal number, e.g. S1")),
	mcp.WithString("object", mcp.Description("Object letter A-Z; requires seal")),
)

var contextClearToolDef = mcp.NewTool("context_clear",
	mcp.WithDescription("Drop the active context. The device stays connected."),
)

var caseCreateToolDef = mcp.NewTool("case_create",
	mcp.WithDescription("Register a new case. Whitespace in the reference becomes underscores."),
	mcp.WithString("ref", mcp.Required(), mcp.Description("Case reference")),
)

var caseListToolDef = mcp.NewTool("case_list",
	mcp.WithDescription("List every case, oldest first."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var sealCreateToolDef = mcp.NewTool("seal_create",
	mcp.WithDescription("Register a seal under a case. New seals are Unopened."),
	mcp.WithString("case_ref", mcp.Required(), mcp.Description("Case reference")),
	mcp.WithString("number", mcp.Required(), mcp.Description("Seal number, e.g. S1")),
	mcp.WithString("label", mcp.Description("Optional description")),
)

var sealAdvanceToolDef = mcp.NewTool("seal_advance",
	mcp.WithDescription("Move a seal one step forward: Unopened to Opened, or Opened to Reconditioned."),
	mcp.WithString("case_ref", mcp.Required(), mcp.Description("Case reference")),
	mcp.WithString("number", mcp.Required(), mcp.Description("Seal number")),
	mcp.WithString("to", mcp.Required(), mcp.Description("open or recondition")),
)

var sealListToolDef = mcp.NewTool("seal_list",
	mcp.WithDescription("List the seals of a case with their transitions and objects."),
	mcp.WithString("case_ref", mcp.Required(), mcp.Description("Case reference")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var objectAddToolDef = mcp.NewTool("object_add",
	mcp.WithDescription("Register an object found inside a seal. The next free letter is used when none is given."),
	mcp.WithString("case_ref", mcp.Required(), mcp.Description("Case reference")),
	mcp.WithString("seal", mcp.Required(), mcp.Description("Seal number")),
	mcp.WithString("letter", mcp.Description("Object letter A-Z")),
	mcp.WithString("label", mcp.Description("Optional description")),
)

var captureTakeToolDef = mcp.NewTool("capture_take",
	mcp.WithDescription("Photograph one subject under the active context. The newest photo on the device is pulled unless remote_path is given."),
	mcp.WithString("subject", mcp.Required(), mcp.Description("sealed, content, object or reconditioned")),
	mcp.WithString("remote_path", mcp.Description("Device path of the photo to pull")),
	mcp.WithString("retry", mcp.Description("Identifier of a Failed capture this one replaces")),
)

var ledgerHistoryToolDef = mcp.NewTool("ledger_history",
	mcp.WithDescription("Page through custody ledger records in sequence order."),
	mcp.WithString("case_ref", mcp.Description("Only records of this case")),
	mcp.WithString("identifier", mcp.Description("Only records of this identifier")),
	mcp.WithString("outcome", mcp.Description("Pending, Succeeded, Failed or Retried")),
	mcp.WithNumber("limit", mcp.Description("Page size, default 100, max 1000")),
	mcp.WithNumber("offset", mcp.Description("Records to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var ledgerReconcileToolDef = mcp.NewTool("ledger_reconcile",
	mcp.WithDescription("Cross-check the ledger against the storage root. Reports discrepancies; never repairs."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var ledgerVerifyToolDef = mcp.NewTool("ledger_verify",
	mcp.WithDescription("Check the ledger's hash chain for edited, removed or reordered records."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var ledgerExportToolDef = mcp.NewTool("ledger_export",
	mcp.WithDescription("Copy the whole ledger to a .jsonl or .jsonl.zst file in the exports directory."),
	mcp.WithString("path", mcp.Description("Output file; defaults to the exports directory")),
	mcp.WithBoolean("compress", mcp.Description("zstd-compress the default output")),
)

var ledgerVerifyExportToolDef = mcp.NewTool("ledger_verify_export",
	mcp.WithDescription("Verify an export file on its own: hash chain, record count and head hash."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Export file")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var reportRenderToolDef = mcp.NewTool("report_render",
	mcp.WithDescription("Render the chain-of-custody report of a case as Markdown or HTML."),
	mcp.WithString("case_ref", mcp.Required(), mcp.Description("Case reference")),
	mcp.WithString("format", mcp.Description("markdown (default) or html")),
	mcp.WithString("path", mcp.Description("Write to this .md or .html file instead of returning the content")),
	mcp.WithBoolean("save", mcp.Description("Write to the exports directory instead of returning the content")),
)
