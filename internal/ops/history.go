package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/ledger"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	CaseRef    string // optional; every case when empty
	Identifier string // optional; only records of this identifier
	Outcome    string // optional; only records with this outcome
	Limit      int    // default: 100, max: 1000
	Offset     int    // default: 0
}

// HistoryOutput contains the result of the History operation.
type HistoryOutput struct {
	Items      []ledger.Record `json:"items"`
	Pagination Pagination      `json:"pagination"`
	Sort       string          `json:"sort"`
}

// History pages through ledger records in sequence order. The ledger is
// streamed, so only one page is held in memory.
func History(ctx context.Context, lg *ledger.Ledger, input HistoryInput) (*HistoryOutput, error) {
	caseRef := ""
	if strings.TrimSpace(input.CaseRef) != "" {
		var err error
		if caseRef, err = normalizeRef("case reference", input.CaseRef); err != nil {
			return nil, err
		}
	}
	var outcome evidence.Outcome
	if o := strings.TrimSpace(input.Outcome); o != "" {
		outcome = evidence.Outcome(o)
		switch outcome {
		case evidence.OutcomePending, evidence.OutcomeSucceeded, evidence.OutcomeFailed, evidence.OutcomeRetried:
		default:
			return nil, errors.NewInvalidRequest("outcome must be one of: Pending, Succeeded, Failed, Retried")
		}
	}
	limit := clampLimit(input.Limit, DefaultHistoryLimit, MaxHistoryLimit)
	offset := max(input.Offset, 0)

	items := []ledger.Record{}
	total := 0
	for rec, err := range lg.History(caseRef) {
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("history")
		}
		if input.Identifier != "" && rec.Identifier != input.Identifier {
			continue
		}
		if outcome != "" && rec.Outcome != outcome {
			continue
		}
		if total >= offset && len(items) < limit {
			items = append(items, rec)
		}
		total++
	}

	return &HistoryOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "sequence_asc",
	}, nil
}
