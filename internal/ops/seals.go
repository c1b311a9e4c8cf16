package ops

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/custody/internal/db"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/session"
)

// CreateSealInput contains parameters for the CreateSeal operation.
type CreateSealInput struct {
	CaseRef string // required
	Number  string // required, e.g. "S1"
	Label   string // optional description
}

// CreateSeal registers a seal under a case. New seals are Unopened.
func CreateSeal(ctx context.Context, database *sql.DB, input CreateSealInput) (*evidence.Seal, error) {
	caseRef, err := normalizeRef("case reference", input.CaseRef)
	if err != nil {
		return nil, err
	}
	number, err := normalizeRef("seal number", input.Number)
	if err != nil {
		return nil, err
	}
	s := &evidence.Seal{
		CaseRef:   caseRef,
		Number:    number,
		Label:     strings.TrimSpace(input.Label),
		CreatedAt: time.Now().UTC(),
	}
	if err := db.InsertSeal(ctx, database, s); err != nil {
		return nil, err
	}
	return s, nil
}

// AdvanceSealInput contains parameters for the AdvanceSeal operation.
type AdvanceSealInput struct {
	CaseRef string // required
	Number  string // required
	To      string // required: "open" or "recondition"
}

// AdvanceSealOutput contains the result of the AdvanceSeal operation.
type AdvanceSealOutput struct {
	Seal *evidence.Seal `json:"seal"`
	From string         `json:"from"`
	To   string         `json:"to"`
}

// AdvanceSeal moves a seal one step forward. When sess is not nil the change
// goes through it, so a seal with a capture in flight cannot change state.
func AdvanceSeal(ctx context.Context, database *sql.DB, sess *session.Session, input AdvanceSealInput) (*AdvanceSealOutput, error) {
	caseRef, err := normalizeRef("case reference", input.CaseRef)
	if err != nil {
		return nil, err
	}
	number, err := normalizeRef("seal number", input.Number)
	if err != nil {
		return nil, err
	}
	to, err := evidence.ParseSealState(input.To)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	advance := func(ctx context.Context) (*evidence.Seal, error) {
		return db.AdvanceSeal(ctx, database, caseRef, number, to, time.Now().UTC())
	}
	var seal *evidence.Seal
	if sess != nil {
		seal, err = sess.MutateSeal(ctx, caseRef, number, advance)
	} else {
		seal, err = advance(ctx)
	}
	if err != nil {
		return nil, err
	}
	// Seals only ever move one step.
	return &AdvanceSealOutput{Seal: seal, From: (seal.State - 1).String(), To: seal.State.String()}, nil
}

// SealDetail is a seal with its transition history and objects.
type SealDetail struct {
	evidence.Seal
	Transitions []evidence.Transition `json:"transitions"`
	Objects     []evidence.ObjectItem `json:"objects"`
}

// ListSealsInput contains parameters for the ListSeals operation.
type ListSealsInput struct {
	CaseRef string // required
}

// ListSealsOutput contains the result of the ListSeals operation.
type ListSealsOutput struct {
	CaseRef string       `json:"case_ref"`
	Items   []SealDetail `json:"items"`
}

// ListSeals returns the seals of a case with their transitions and objects.
func ListSeals(ctx context.Context, database *sql.DB, input ListSealsInput) (*ListSealsOutput, error) {
	caseRef, err := normalizeRef("case reference", input.CaseRef)
	if err != nil {
		return nil, err
	}
	if _, err := db.GetCase(ctx, database, caseRef); err != nil {
		return nil, err
	}
	seals, err := db.ListSeals(ctx, database, caseRef)
	if err != nil {
		return nil, err
	}

	out := &ListSealsOutput{CaseRef: caseRef, Items: make([]SealDetail, 0, len(seals))}
	for _, s := range seals {
		transitions, err := db.ListTransitions(ctx, database, caseRef, s.Number)
		if err != nil {
			return nil, err
		}
		objects, err := db.ListObjects(ctx, database, caseRef, s.Number)
		if err != nil {
			return nil, err
		}
		if transitions == nil {
			transitions = []evidence.Transition{}
		}
		if objects == nil {
			objects = []evidence.ObjectItem{}
		}
		out.Items = append(out.Items, SealDetail{Seal: s, Transitions: transitions, Objects: objects})
	}
	return out, nil
}

// AddObjectInput contains parameters for the AddObject operation.
type AddObjectInput struct {
	CaseRef string // required
	Seal    string // required
	Letter  string // optional; the next free letter when empty
	Label   string // optional description
}

// AddObject registers an object found inside a seal.
func AddObject(ctx context.Context, database *sql.DB, input AddObjectInput) (*evidence.ObjectItem, error) {
	caseRef, err := normalizeRef("case reference", input.CaseRef)
	if err != nil {
		return nil, err
	}
	number, err := normalizeRef("seal number", input.Seal)
	if err != nil {
		return nil, err
	}
	o := &evidence.ObjectItem{
		CaseRef:    caseRef,
		SealNumber: number,
		Label:      strings.TrimSpace(input.Label),
		CreatedAt:  time.Now().UTC(),
	}
	if input.Letter != "" {
		if o.Letter, err = normalizeLetter(input.Letter); err != nil {
			return nil, err
		}
	}
	if _, err := db.GetSeal(ctx, database, caseRef, number); err != nil {
		return nil, err
	}
	if err := db.InsertObject(ctx, database, o); err != nil {
		return nil, err
	}
	return o, nil
}
