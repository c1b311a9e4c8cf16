package ops

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/klauspost/compress/zstd"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/ledger"
)

// maxExportLine bounds one JSONL line of an export.
const maxExportLine = 1 << 20

// VerifyExportInput contains parameters for the VerifyExport operation.
type VerifyExportInput struct {
	Path string // required
}

// VerifyExportOutput contains the result of the VerifyExport operation.
type VerifyExportOutput struct {
	Path   string               `json:"path"`
	Header *ExportHeader        `json:"header,omitempty"`
	Report *ledger.VerifyReport `json:"report"`
}

// VerifyExport checks an export file on its own: every line must parse, the
// hash chain must hold, and the header must agree with what follows it.
func VerifyExport(cfg *config.Config, input VerifyExportInput) (*VerifyExportOutput, error) {
	if err := ValidatePath(input.Path, PathCheckRead, cfg, ExportExtensions...); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open export file: %w", err))
	}
	defer file.Close()

	var r io.Reader = file
	if extensionOf(input.Path, ExportExtensions) == ".jsonl.zst" {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("export is not zstd data: %v", err))
		}
		defer dec.Close()
		r = dec
	}

	out := &VerifyExportOutput{Path: input.Path}
	var parseProblems []ledger.Problem
	report, err := ledger.Verify(exportRecords(r, &out.Header, &parseProblems))
	if err != nil {
		return nil, err
	}
	report.Problems = append(parseProblems, report.Problems...)

	if out.Header == nil {
		report.Problems = append(report.Problems, ledger.Problem{Message: "missing export header"})
	} else {
		if out.Header.Records != report.Records {
			report.Problems = append(report.Problems, ledger.Problem{
				Message: fmt.Sprintf("header lists %d records, file has %d", out.Header.Records, report.Records),
			})
		}
		if out.Header.LastHash != report.LastHash {
			report.Problems = append(report.Problems, ledger.Problem{
				Message: "header last_hash does not match the final record",
			})
		}
	}
	report.OK = len(report.Problems) == 0
	out.Report = report
	return out, nil
}

// exportRecords yields the ledger records of an export. Lines that fail to
// parse are reported as problems and skipped, which the chain check then
// also flags.
func exportRecords(r io.Reader, header **ExportHeader, problems *[]ledger.Problem) iter.Seq2[ledger.Record, error] {
	return func(yield func(ledger.Record, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxExportLine)
		lineNum := 0

		for scanner.Scan() {
			lineNum++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			if lineNum == 1 {
				var h ExportHeader
				if err := json.Unmarshal(line, &h); err == nil && h.CustodyExport {
					*header = &h
					continue
				}
			}

			var rec ledger.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				*problems = append(*problems, ledger.Problem{
					Line:    lineNum,
					Message: fmt.Sprintf("invalid JSON: %v", err),
				})
				continue
			}
			if rec.Sequence == 0 || rec.Identifier == "" {
				*problems = append(*problems, ledger.Problem{
					Line:    lineNum,
					Message: "missing sequence or identifier",
				})
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(ledger.Record{}, errors.NewInvalidRequest(fmt.Sprintf("failed to read export: %v", err)))
		}
	}
}
