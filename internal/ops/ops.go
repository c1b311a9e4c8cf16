package ops

import (
	"fmt"
	"strings"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
)

// Pagination limits
const (
	DefaultListLimit    = 20
	MaxListLimit        = 100
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// clampLimit applies a default and an upper bound to a requested page size.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// normalizeRef trims and normalizes an operator-typed reference, then checks
// that it can be used as a folder name.
func normalizeRef(kind, s string) (string, error) {
	ref := evidence.Normalize(s)
	if ref == "" {
		return "", errors.NewInvalidRequest(fmt.Sprintf("%s is required", kind))
	}
	if err := evidence.ValidateName(kind, ref); err != nil {
		return "", errors.NewInvalidRequest(err.Error())
	}
	return ref, nil
}

// normalizeLetter upper-cases an object letter and validates it.
func normalizeLetter(s string) (string, error) {
	letter := strings.ToUpper(strings.TrimSpace(s))
	if err := evidence.ValidateObjectLetter(letter); err != nil {
		return "", errors.NewInvalidRequest(err.Error())
	}
	return letter, nil
}
