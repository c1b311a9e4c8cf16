// Package report renders the chain-of-custody report of a case: the seals,
// their transitions and objects, and every ledger record, as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/ledger"
)

// Data is everything a report shows.
type Data struct {
	Case        evidence.Case
	Seals       []SealSection
	Records     []ledger.Record
	Verify      *ledger.VerifyReport
	Reconcile   *ledger.ReconcileReport
	GeneratedAt time.Time
	Operator    string
}

// SealSection groups a seal with its history and objects.
type SealSection struct {
	Seal        evidence.Seal
	Transitions []evidence.Transition
	Objects     []evidence.ObjectItem
}

var (
	mdOnce sync.Once
	md     goldmark.Markdown
)

func parser() goldmark.Markdown {
	mdOnce.Do(func() {
		md = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return md
}

// Markdown builds the report source.
func Markdown(d Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chain of custody: %s\n\n", cell(d.Case.Ref))
	fmt.Fprintf(&b, "Case opened %s. Report generated %s", stamp(d.Case.CreatedAt), stamp(d.GeneratedAt))
	if d.Operator != "" {
		fmt.Fprintf(&b, " by %s", cell(d.Operator))
	}
	b.WriteString(".\n\n")

	writeIntegrity(&b, d)

	b.WriteString("## Seals\n\n")
	if len(d.Seals) == 0 {
		b.WriteString("No seals recorded.\n\n")
	}
	for _, s := range d.Seals {
		writeSeal(&b, s)
	}

	writeRecords(&b, d.Records)
	return b.String()
}

func writeIntegrity(b *strings.Builder, d Data) {
	b.WriteString("## Ledger integrity\n\n")
	if v := d.Verify; v != nil {
		if v.OK {
			fmt.Fprintf(b, "- Hash chain: intact over %d records\n", v.Records)
		} else {
			fmt.Fprintf(b, "- Hash chain: **%d problems** over %d records\n", len(v.Problems), v.Records)
			for _, p := range v.Problems {
				fmt.Fprintf(b, "  - line %d, sequence %d: %s\n", p.Line, p.Sequence, cell(p.Message))
			}
		}
		if v.LastHash != "" {
			fmt.Fprintf(b, "- Last hash: `%s`\n", v.LastHash)
		}
	}
	if r := d.Reconcile; r != nil {
		if r.Clean() {
			fmt.Fprintf(b, "- Storage: %d files match %d Succeeded records\n", r.Files, r.Succeeded)
		} else {
			fmt.Fprintf(b, "- Storage: **%d discrepancies**\n", len(r.Discrepancies))
			for _, dis := range r.Discrepancies {
				fmt.Fprintf(b, "  - %s %s %s\n", dis.Kind, cell(dis.Identifier), cell(dis.Path))
			}
		}
	}
	b.WriteString("\n")
}

func writeSeal(b *strings.Builder, s SealSection) {
	title := "Seal " + s.Seal.Number
	if s.Seal.Label != "" {
		title += ": " + s.Seal.Label
	}
	fmt.Fprintf(b, "### %s\n\n", cell(title))
	fmt.Fprintf(b, "State **%s**, %d captures.\n\n", s.Seal.State, s.Seal.CaptureCount)

	if len(s.Transitions) > 0 {
		b.WriteString("| From | To | At |\n|---|---|---|\n")
		for _, t := range s.Transitions {
			fmt.Fprintf(b, "| %s | %s | %s |\n", t.From, t.To, stamp(t.At))
		}
		b.WriteString("\n")
	}
	if len(s.Objects) > 0 {
		b.WriteString("| Object | Label | Captures |\n|---|---|---|\n")
		for _, o := range s.Objects {
			fmt.Fprintf(b, "| %s | %s | %d |\n", o.Letter, cell(o.Label), o.CaptureCount)
		}
		b.WriteString("\n")
	}
}

func writeRecords(b *strings.Builder, recs []ledger.Record) {
	b.WriteString("## Capture ledger\n\n")
	if len(recs) == 0 {
		b.WriteString("No captures recorded.\n")
		return
	}
	b.WriteString("| Seq | Time | Identifier | Subject | Outcome | Reason | Device | Bytes |\n")
	b.WriteString("|---:|---|---|---|---|---|---|---:|\n")
	for _, r := range recs {
		outcome := string(r.Outcome)
		switch {
		case r.RetriedBy != "":
			outcome += " by " + r.RetriedBy
		case r.Supersedes != "":
			outcome += " (replaces " + r.Supersedes + ")"
		}
		size := ""
		if r.Bytes > 0 {
			size = fmt.Sprintf("%d", r.Bytes)
		}
		fmt.Fprintf(b, "| %d | %s | `%s` | %s | %s | %s | %s | %s |\n",
			r.Sequence, cell(r.Timestamp), r.Identifier, r.SubjectKind, cell(outcome),
			cell(r.ReasonIfFailed), cell(r.DeviceFingerprint), size)
	}
}

// HTML renders markdown into a standalone HTML page. Raw HTML in the source
// is not passed through.
func HTML(title, markdown string) (string, error) {
	var body bytes.Buffer
	if err := parser().Convert([]byte(markdown), &body); err != nil {
		return "", err
	}
	var out bytes.Buffer
	err := page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{title, template.HTML(body.String())})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1em; }
th, td { border: 1px solid #999; padding: 2px 6px; font-size: 90%; }
code { font-size: 90%; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// cell makes s safe inside a Markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05Z")
}
