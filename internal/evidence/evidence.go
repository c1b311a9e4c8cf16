// Package evidence holds the data model of an investigation: cases, seals,
// the objects found inside seals, and capture events.
package evidence

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Case is the top-level investigation. Immutable once a session starts.
type Case struct {
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
}

// SealState is the lifecycle position of a sealed container.
// States only move forward: Unopened -> Opened -> Reconditioned.
type SealState int

const (
	SealUnopened SealState = iota
	SealOpened
	SealReconditioned
)

var sealStateNames = [...]string{"Unopened", "Opened", "Reconditioned"}

func (s SealState) String() string {
	if s < 0 || int(s) >= len(sealStateNames) {
		return fmt.Sprintf("SealState(%d)", int(s))
	}
	return sealStateNames[s]
}

// ParseSealState accepts state names case-insensitively, plus the operator
// verbs "open" and "recondition".
func ParseSealState(s string) (SealState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unopened", "sealed":
		return SealUnopened, nil
	case "opened", "open":
		return SealOpened, nil
	case "reconditioned", "recondition":
		return SealReconditioned, nil
	}
	return 0, fmt.Errorf("unknown seal state %q", s)
}

// CanAdvance reports whether a seal may move from s to next.
// Only single forward steps are allowed.
func (s SealState) CanAdvance(next SealState) bool {
	return next == s+1 && next <= SealReconditioned
}

// Seal is a sealed container under investigation.
type Seal struct {
	CaseRef      string    `json:"case_ref"`
	Number       string    `json:"number"`
	Label        string    `json:"label,omitempty"`
	State        SealState `json:"-"`
	StateName    string    `json:"state"`
	CaptureCount int       `json:"capture_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// SetState updates State and its serialized name together.
func (s *Seal) SetState(st SealState) {
	s.State = st
	s.StateName = st.String()
}

// Transition records one forward move of a seal.
type Transition struct {
	CaseRef string    `json:"case_ref"`
	Seal    string    `json:"seal"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

// ObjectItem is an individual item found inside a seal, captured independently.
type ObjectItem struct {
	CaseRef      string    `json:"case_ref"`
	SealNumber   string    `json:"seal"`
	Letter       string    `json:"letter"`
	Label        string    `json:"label,omitempty"`
	CaptureCount int       `json:"capture_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// MaxObjectsPerSeal is the number of object letters available (A..Z).
const MaxObjectsPerSeal = 26

// ObjectLetter returns the letter for the n-th object of a seal (0-based).
func ObjectLetter(n int) (string, bool) {
	if n < 0 || n >= MaxObjectsPerSeal {
		return "", false
	}
	return string(rune('A' + n)), true
}

// Context is the explicit case/seal/object selection a capture is attributed to.
// It is a value: the capture session owns the active one and hands out copies.
type Context struct {
	Case   Case        `json:"case"`
	Seal   *Seal       `json:"seal,omitempty"`
	Object *ObjectItem `json:"object,omitempty"`
}

// SealNumber returns the selected seal number or "".
func (c Context) SealNumber() string {
	if c.Seal == nil {
		return ""
	}
	return c.Seal.Number
}

// ObjectLetter returns the selected object letter or "".
func (c Context) ObjectLetter() string {
	if c.Object == nil {
		return ""
	}
	return c.Object.Letter
}

// Components returns the path components of the folder this context files
// photos under: <case>/<seal>[/<object>].
func (c Context) Components() []string {
	parts := []string{c.Case.Ref}
	if c.Seal != nil {
		parts = append(parts, c.Seal.Number)
		if c.Object != nil {
			parts = append(parts, c.Object.Letter)
		}
	}
	return parts
}

// RelDir is Components joined with the OS separator.
func (c Context) RelDir() string {
	return filepath.Join(c.Components()...)
}

// Validate checks the structural consistency of a context.
func (c Context) Validate() error {
	if c.Case.Ref == "" {
		return fmt.Errorf("case is required")
	}
	if c.Object != nil && c.Seal == nil {
		return fmt.Errorf("object %s selected without a seal", c.Object.Letter)
	}
	if c.Seal != nil && c.Seal.CaseRef != "" && c.Seal.CaseRef != c.Case.Ref {
		return fmt.Errorf("seal %s belongs to case %s", c.Seal.Number, c.Seal.CaseRef)
	}
	if c.Object != nil && c.Object.SealNumber != "" && c.Object.SealNumber != c.Seal.Number {
		return fmt.Errorf("object %s belongs to seal %s", c.Object.Letter, c.Object.SealNumber)
	}
	return nil
}
