package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/mcp"
	"github.com/hpungsan/custody/internal/ops"
	"github.com/hpungsan/custody/internal/session"
	"github.com/hpungsan/custody/internal/web"
)

// newCLIApp creates the CLI application with all commands.
// e may be nil when only help or version output is needed.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "custody",
		Usage:   "Evidence photo capture with a chain-of-custody ledger",
		Version: Version,
		Commands: []*cli.Command{
			caseCmd(e),
			sealCmd(e),
			objectCmd(e),
			captureCmd(e),
			stateCmd(e),
			historyCmd(e),
			reconcileCmd(e),
			verifyCmd(e),
			exportCmd(e),
			reportCmd(e),
			mcpCmd(e),
			serveCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// caseCmd creates the case command group.
func caseCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "case",
		Usage: "Register and list cases",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Register a new case",
				ArgsUsage: "<ref>",
				Action: func(c *cli.Context) error {
					if err := e.lockLedger(); err != nil {
						return outputError(err)
					}
					output, err := ops.CreateCase(c.Context, e.db, ops.CreateCaseInput{Ref: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
			{
				Name:  "list",
				Usage: "List every case",
				Action: func(c *cli.Context) error {
					output, err := ops.ListCases(c.Context, e.db)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
		},
	}
}

// sealCmd creates the seal command group.
func sealCmd(e *env) *cli.Command {
	caseFlag := &cli.StringFlag{Name: "case", Aliases: []string{"c"}, Required: true, Usage: "Case reference"}
	return &cli.Command{
		Name:  "seal",
		Usage: "Register, open and recondition seals",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Register a seal under a case",
				ArgsUsage: "<number>",
				Flags: []cli.Flag{
					caseFlag,
					&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Optional description"},
				},
				Action: func(c *cli.Context) error {
					if err := e.lockLedger(); err != nil {
						return outputError(err)
					}
					output, err := ops.CreateSeal(c.Context, e.db, ops.CreateSealInput{
						CaseRef: c.String("case"),
						Number:  c.Args().First(),
						Label:   c.String("label"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
			{
				Name:      "advance",
				Usage:     "Move a seal forward: open, then recondition",
				ArgsUsage: "<number>",
				Flags: []cli.Flag{
					caseFlag,
					&cli.StringFlag{Name: "to", Aliases: []string{"t"}, Required: true, Usage: "open|recondition"},
				},
				Action: func(c *cli.Context) error {
					if err := e.lockLedger(); err != nil {
						return outputError(err)
					}
					output, err := ops.AdvanceSeal(c.Context, e.db, nil, ops.AdvanceSealInput{
						CaseRef: c.String("case"),
						Number:  c.Args().First(),
						To:      c.String("to"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
			{
				Name:  "list",
				Usage: "List the seals of a case with transitions and objects",
				Flags: []cli.Flag{caseFlag},
				Action: func(c *cli.Context) error {
					output, err := ops.ListSeals(c.Context, e.db, ops.ListSealsInput{CaseRef: c.String("case")})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
		},
	}
}

// objectCmd creates the object command group.
func objectCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "object",
		Usage: "Register objects found inside a seal",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Register an object; the next free letter is used unless one is given",
				ArgsUsage: "[letter]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "case", Aliases: []string{"c"}, Required: true, Usage: "Case reference"},
					&cli.StringFlag{Name: "seal", Aliases: []string{"s"}, Required: true, Usage: "Seal number"},
					&cli.StringFlag{Name: "label", Aliases: []string{"l"}, Usage: "Optional description"},
				},
				Action: func(c *cli.Context) error {
					if err := e.lockLedger(); err != nil {
						return outputError(err)
					}
					output, err := ops.AddObject(c.Context, e.db, ops.AddObjectInput{
						CaseRef: c.String("case"),
						Seal:    c.String("seal"),
						Letter:  c.Args().First(),
						Label:   c.String("label"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, output)
				},
			},
		},
	}
}

// captureCmd creates the capture command. It runs one session end to end:
// lock the ledger, connect, select, capture, disconnect.
func captureCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Photograph one subject and file it under a case, seal and object",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "case", Aliases: []string{"c"}, Required: true, Usage: "Case reference"},
			&cli.StringFlag{Name: "seal", Aliases: []string{"s"}, Usage: "Seal number"},
			&cli.StringFlag{Name: "object", Aliases: []string{"o"}, Usage: "Object letter"},
			&cli.StringFlag{Name: "subject", Required: true, Usage: "sealed|content|object|reconditioned"},
			&cli.StringFlag{Name: "remote", Usage: "Device path of the photo (default: newest photo)"},
			&cli.StringFlag{Name: "retry", Usage: "Identifier of a Failed capture this one replaces"},
		},
		Action: func(c *cli.Context) error {
			if err := e.lockLedger(); err != nil {
				return outputError(err)
			}
			sess, err := e.connect(c.Context)
			if err != nil {
				return outputError(err)
			}
			defer e.disconnect(c.Context, sess)

			if _, err := ops.Select(c.Context, sess, ops.SelectInput{
				CaseRef: c.String("case"),
				Seal:    c.String("seal"),
				Object:  c.String("object"),
			}); err != nil {
				return outputError(err)
			}

			output, err := ops.Capture(c.Context, sess, ops.CaptureInput{
				Subject:    c.String("subject"),
				RemotePath: c.String("remote"),
				Retry:      c.String("retry"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// stateCmd creates the state command.
func stateCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Connect the device and report the session state",
		Action: func(c *cli.Context) error {
			sess, err := e.connect(c.Context)
			if err != nil {
				return outputError(err)
			}
			defer e.disconnect(c.Context, sess)
			return outputJSON(c, sess.Snapshot())
		},
	}
}

// historyCmd creates the history command.
func historyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Page through custody ledger records in sequence order",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "case", Aliases: []string{"c"}, Usage: "Filter by case"},
			&cli.StringFlag{Name: "identifier", Aliases: []string{"i"}, Usage: "Filter by identifier"},
			&cli.StringFlag{Name: "outcome", Usage: "Filter by outcome: Pending|Succeeded|Failed|Retried"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 100, Usage: "Maximum records to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Records to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.History(c.Context, e.ledger, ops.HistoryInput{
				CaseRef:    c.String("case"),
				Identifier: c.String("identifier"),
				Outcome:    c.String("outcome"),
				Limit:      c.Int("limit"),
				Offset:     c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// reconcileCmd creates the reconcile command. Exits 1 when discrepancies exist.
func reconcileCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Cross-check the ledger against the storage root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Usage: "Storage root (default: storage_root from config)"},
		},
		Action: func(c *cli.Context) error {
			root := c.String("root")
			if root == "" {
				root = e.cfg.StorageRoot
			}
			output, err := ops.Reconcile(c.Context, e.ledger, ops.ReconcileInput{StorageRoot: root})
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(c, output); err != nil {
				return err
			}
			if !output.Clean() {
				return cli.Exit(fmt.Sprintf("%d discrepancies found", len(output.Discrepancies)), 1)
			}
			return nil
		},
	}
}

// verifyCmd creates the verify command. Exits 1 when the chain is broken.
func verifyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check the hash chain of the ledger or of an export file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "export", Aliases: []string{"e"}, Usage: "Verify this export file instead of the ledger"},
		},
		Action: func(c *cli.Context) error {
			if path := c.String("export"); path != "" {
				output, err := ops.VerifyExport(e.cfg, ops.VerifyExportInput{Path: path})
				if err != nil {
					return outputError(err)
				}
				if err := outputJSON(c, output); err != nil {
					return err
				}
				if !output.Report.OK {
					return cli.Exit("export verification failed", 1)
				}
				return nil
			}

			output, err := ops.Verify(e.ledger)
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(c, output); err != nil {
				return err
			}
			if !output.OK {
				return cli.Exit("ledger verification failed", 1)
			}
			return nil
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Copy the whole ledger to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.custody/exports/ledger-<timestamp>.jsonl)"},
			&cli.BoolFlag{Name: "compress", Aliases: []string{"z"}, Usage: "zstd-compress the default output"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, e.ledger, e.cfg, ops.ExportInput{
				Path:     c.String("path"),
				Compress: c.Bool("compress"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// reportCmd creates the report command. Without --path or --save the
// rendered report goes to stdout as is.
func reportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Render the chain-of-custody report of a case",
		ArgsUsage: "<case>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "markdown", Usage: "markdown|html"},
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Write the report to this .md or .html file"},
			&cli.BoolFlag{Name: "save", Usage: "Write the report to the exports directory"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Report(c.Context, e.db, e.ledger, e.cfg, ops.ReportInput{
				CaseRef:     c.Args().First(),
				Format:      c.String("format"),
				Path:        c.String("path"),
				Save:        c.Bool("save"),
				StorageRoot: e.cfg.StorageRoot,
			})
			if err != nil {
				return outputError(err)
			}
			if output.Path == "" {
				_, err := io.WriteString(c.App.Writer, output.Content)
				return err
			}
			return outputJSON(c, output)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the capture tools over MCP stdio",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "list-tools", Usage: "Print the tool names and exit"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("list-tools") {
				return outputJSON(c, mcp.AllToolNames())
			}
			return runMCP(e)
		},
	}
}

// serveCmd creates the serve command. It only reads the ledger, so it runs
// beside the process that captures.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the read-only audit web server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8088, Usage: "Port to listen on"},
			&cli.BoolFlag{Name: "connect", Usage: "Connect the device so /api/state reports it"},
		},
		Action: func(c *cli.Context) error {
			var sess *session.Session
			if c.Bool("connect") {
				var err error
				if sess, err = e.connect(c.Context); err != nil {
					return outputError(err)
				}
				defer e.disconnect(c.Context, sess)
			}
			srv := web.NewServer(e.db, e.ledger, sess, e.cfg, e.log, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv, e.log)
		},
	}
}

// Helper functions

// connect builds a session and links the device.
func (e *env) connect(ctx context.Context) (*session.Session, error) {
	sess, err := e.newSession()
	if err != nil {
		return nil, err
	}
	if _, err := sess.Connect(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// disconnect releases the device even when ctx was cancelled.
func (e *env) disconnect(ctx context.Context, sess *session.Session) {
	if err := sess.Disconnect(context.WithoutCancel(ctx)); err != nil {
		e.log.Warn(ctx, "device disconnect failed", "error", err)
	}
}

// outputJSON writes v to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if cErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
