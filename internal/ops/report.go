package ops

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/db"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/report"
)

// Report formats.
const (
	ReportMarkdown = "markdown"
	ReportHTML     = "html"
)

// ReportInput contains parameters for the Report operation.
type ReportInput struct {
	CaseRef     string // required
	Format      string // markdown (default) or html; ignored when Path is set
	Path        string // optional; content is returned inline when empty
	Save        bool   // write to <exports>/<case>-<timestamp>.<ext> when Path is empty
	StorageRoot string // optional; adds a reconcile section when set
}

// ReportOutput contains the result of the Report operation.
type ReportOutput struct {
	CaseRef string `json:"case_ref"`
	Format  string `json:"format"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Records int    `json:"records"`
	OK      bool   `json:"ok"`
}

// Report renders the chain-of-custody report of one case.
func Report(ctx context.Context, database *sql.DB, lg *ledger.Ledger, cfg *config.Config, input ReportInput) (*ReportOutput, error) {
	format, err := reportFormat(input)
	if err != nil {
		return nil, err
	}
	if input.Path == "" && input.Save {
		if input.Path, err = defaultReportPath(cfg, input.CaseRef, format, time.Now()); err != nil {
			return nil, err
		}
	}
	if input.Path != "" {
		if err := ValidatePath(input.Path, PathCheckWrite, cfg, ReportExtensions...); err != nil {
			return nil, err
		}
	}

	data, err := ReportData(ctx, database, lg, input.CaseRef, input.StorageRoot)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		data.Operator = cfg.Operator
	}

	content := report.Markdown(*data)
	if format == ReportHTML {
		if content, err = report.HTML("Chain of custody: "+data.Case.Ref, content); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	out := &ReportOutput{
		CaseRef: data.Case.Ref,
		Format:  format,
		Records: len(data.Records),
		OK:      data.Verify.OK && (data.Reconcile == nil || data.Reconcile.Clean()),
	}
	if input.Path == "" {
		out.Content = content
		return out, nil
	}
	if out.Path, err = writeAtomic(input.Path, func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportData gathers everything the report of caseRef shows.
func ReportData(ctx context.Context, database *sql.DB, lg *ledger.Ledger, caseRef, storageRoot string) (*report.Data, error) {
	ref, err := normalizeRef("case reference", caseRef)
	if err != nil {
		return nil, err
	}
	c, err := db.GetCase(ctx, database, ref)
	if err != nil {
		return nil, err
	}
	seals, err := ListSeals(ctx, database, ListSealsInput{CaseRef: ref})
	if err != nil {
		return nil, err
	}

	d := &report.Data{Case: *c, GeneratedAt: time.Now().UTC()}
	for _, s := range seals.Items {
		d.Seals = append(d.Seals, report.SealSection{Seal: s.Seal, Transitions: s.Transitions, Objects: s.Objects})
	}
	for rec, err := range lg.History(ref) {
		if err != nil {
			return nil, err
		}
		d.Records = append(d.Records, rec)
	}
	if d.Verify, err = lg.Verify(); err != nil {
		return nil, err
	}
	if storageRoot != "" {
		if d.Reconcile, err = Reconcile(ctx, lg, ReconcileInput{StorageRoot: storageRoot}); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func reportFormat(input ReportInput) (string, error) {
	if input.Path != "" {
		if strings.HasSuffix(strings.ToLower(input.Path), ".html") {
			return ReportHTML, nil
		}
		return ReportMarkdown, nil
	}
	switch f := strings.ToLower(strings.TrimSpace(input.Format)); f {
	case "", "md", ReportMarkdown:
		return ReportMarkdown, nil
	case ReportHTML:
		return ReportHTML, nil
	default:
		return "", errors.NewInvalidRequest("format must be one of: markdown, html")
	}
}

// defaultReportPath generates the default report path.
// Format: <exports>/<case>-<timestamp>.md or .html
func defaultReportPath(cfg *config.Config, caseRef, format string, now time.Time) (string, error) {
	dir := ""
	if cfg != nil {
		dir = cfg.ExportsDir
	}
	if dir == "" {
		var err error
		if dir, err = DefaultExportsDir(); err != nil {
			return "", err
		}
	}
	ext := ".md"
	if format == ReportHTML {
		ext = ".html"
	}
	// Sanitize so a crafted case reference cannot steer the path.
	name := fmt.Sprintf("%s-%s%s", SanitizeForFilename(evidence.Normalize(caseRef)), now.UTC().Format("2006-01-02T150405"), ext)
	return filepath.Join(dir, name), nil
}
