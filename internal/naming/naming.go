// Package naming derives canonical, self-describing identifiers for evidence photos.
//
// Identifiers have the shape
//
//	<case>_<seal>_<SUBJECT>_<seq>          CASE-001_S1_SEALED_001
//	<case>_<seal>_OBJECT-<letter>_<seq>    CASE-001_S1_OBJECT-A_003
//
// and are derived from the request alone: no randomness, no clock.
package naming

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
)

// DefaultMaxAttempts bounds the collision loop when no limit is configured.
const DefaultMaxAttempts = 9999

// Registry reports identifiers that may not be handed out again.
// The custody ledger implements it: every identifier it has ever recorded is used.
type Registry interface {
	Used(identifier string) bool
}

// Request is the input of one naming decision.
type Request struct {
	Context evidence.Context
	Subject evidence.SubjectKind
	// Sequence is the scoped counter value to start from (1-based).
	Sequence int
}

// Name is a derived identifier and where its file lives relative to the storage root.
type Name struct {
	Identifier string `json:"identifier"`
	RelPath    string `json:"rel_path"`
	Sequence   int    `json:"sequence"`
}

// Engine formats identifiers and resolves collisions.
type Engine struct {
	maxAttempts int
	ext         string
}

// New creates an Engine. maxAttempts <= 0 uses DefaultMaxAttempts.
// ext is appended to the identifier to form the file name (".jpg").
func New(maxAttempts int, ext string) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return &Engine{maxAttempts: maxAttempts, ext: ext}
}

// MaxAttempts returns the collision bound.
func (e *Engine) MaxAttempts() int {
	return e.maxAttempts
}

// Extension returns the file extension appended to identifiers.
func (e *Engine) Extension() string {
	return e.ext
}

// Format derives the name for exactly req.Sequence. It is a pure function.
func (e *Engine) Format(req Request) (Name, error) {
	if err := checkRequest(req); err != nil {
		return Name{}, err
	}
	token := string(req.Subject)
	if req.Subject == evidence.SubjectObject {
		token = token + "-" + req.Context.Object.Letter
	}
	id := fmt.Sprintf("%s_%s_%s_%03d", req.Context.Case.Ref, req.Context.Seal.Number, token, req.Sequence)

	dir := req.Context.RelDir()
	if req.Subject != evidence.SubjectObject {
		// Non-object subjects are filed at seal level even if an object is selected.
		dir = filepath.Join(req.Context.Case.Ref, req.Context.Seal.Number)
	}
	return Name{
		Identifier: id,
		RelPath:    filepath.Join(dir, id+e.ext),
		Sequence:   req.Sequence,
	}, nil
}

// Next returns the first name at or after req.Sequence that the registry has
// not seen. It gives up with NAMING_EXHAUSTED after MaxAttempts candidates.
func (e *Engine) Next(req Request, reg Registry) (Name, error) {
	if req.Sequence < 1 {
		req.Sequence = 1
	}
	start := req.Sequence
	for i := 0; i < e.maxAttempts; i++ {
		req.Sequence = start + i
		name, err := e.Format(req)
		if err != nil {
			return Name{}, err
		}
		if reg == nil || !reg.Used(name.Identifier) {
			return name, nil
		}
	}
	return Name{}, errors.NewNamingExhausted(ScopeKey(req.Context, req.Subject), e.maxAttempts)
}

// ScopeKey identifies the counter a request draws from.
func ScopeKey(ctx evidence.Context, subject evidence.SubjectKind) string {
	parts := []string{ctx.Case.Ref, ctx.SealNumber()}
	if subject == evidence.SubjectObject {
		parts = append(parts, ctx.ObjectLetter())
	}
	parts = append(parts, string(subject))
	return strings.Join(parts, "/")
}

func checkRequest(req Request) error {
	if !req.Subject.Valid() {
		return errors.NewInvalidRequest(fmt.Sprintf("unknown subject %q", req.Subject))
	}
	if req.Sequence < 1 {
		return errors.NewInvalidRequest("sequence must be >= 1")
	}
	if req.Context.Case.Ref == "" || req.Context.Seal == nil {
		return errors.NewInvalidContext("a case and a seal must be selected")
	}
	if req.Subject == evidence.SubjectObject && req.Context.Object == nil {
		return errors.NewInvalidContext("an object must be selected for OBJECT captures")
	}
	return nil
}
