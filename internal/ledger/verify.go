package ledger

import (
	"fmt"
	"iter"
)

// Problem is one integrity violation found by Verify.
type Problem struct {
	Sequence uint64 `json:"sequence"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

// VerifyReport summarizes a full pass over the ledger.
type VerifyReport struct {
	Records  int       `json:"records"`
	LastHash string    `json:"last_hash,omitempty"`
	OK       bool      `json:"ok"`
	Problems []Problem `json:"problems"`
}

// Verify checks that sequence numbers start at 1 and increase by one, that
// every record's prev_hash names its predecessor, and that every hash matches
// the record content. Edited, removed or reordered records all break the chain.
func Verify(records iter.Seq2[Record, error]) (*VerifyReport, error) {
	rep := &VerifyReport{Problems: []Problem{}}
	var prev Record
	line := 0
	for rec, err := range records {
		if err != nil {
			return nil, err
		}
		line++
		rep.Records++

		if rec.Sequence != prev.Sequence+1 {
			rep.Problems = append(rep.Problems, Problem{
				Sequence: rec.Sequence, Line: line,
				Message: fmt.Sprintf("sequence %d follows %d", rec.Sequence, prev.Sequence),
			})
		}
		if rec.PrevHash != prev.Hash {
			rep.Problems = append(rep.Problems, Problem{
				Sequence: rec.Sequence, Line: line,
				Message: "prev_hash does not match the preceding record",
			})
		}
		want, err := computeHash(rec)
		if err != nil {
			return nil, err
		}
		if rec.Hash != want {
			rep.Problems = append(rep.Problems, Problem{
				Sequence: rec.Sequence, Line: line,
				Message: "hash does not match record content",
			})
		}
		prev = rec
	}
	rep.LastHash = prev.Hash
	rep.OK = len(rep.Problems) == 0
	return rep, nil
}

// Verify checks the ledger's own file.
func (lg *Ledger) Verify() (*VerifyReport, error) {
	return Verify(lg.History(""))
}
