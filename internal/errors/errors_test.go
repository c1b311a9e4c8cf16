package errors

import (
	"fmt"
	"testing"
)

func TestCustodyError_Error(t *testing.T) {
	err := &CustodyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "seal not found: S1",
	}

	expected := "NOT_FOUND: seal not found: S1"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("case is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "case is required" {
		t.Errorf("Message = %q, want %q", err.Message, "case is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("seal", "S1")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "S1" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "S1")
	}
	if err.Details["kind"] != "seal" {
		t.Errorf("Details[kind] = %v, want %q", err.Details["kind"], "seal")
	}
}

func TestNewNamingExhausted(t *testing.T) {
	err := NewNamingExhausted("CASE-001/S1/SEALED", 9999)

	if err.Code != ErrNamingExhausted {
		t.Errorf("Code = %q, want %q", err.Code, ErrNamingExhausted)
	}
	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
	if err.Details["attempts"] != 9999 {
		t.Errorf("Details[attempts] = %v, want 9999", err.Details["attempts"])
	}
}

func TestNewLedgerWriteFailure_Unwraps(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewLedgerWriteFailure("CASE-001_S1_SEALED_001", cause)

	if err.Code != ErrLedgerWriteFailure {
		t.Errorf("Code = %q, want %q", err.Code, ErrLedgerWriteFailure)
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if err.Details["identifier"] != "CASE-001_S1_SEALED_001" {
		t.Errorf("Details[identifier] = %v", err.Details["identifier"])
	}
}

func TestNewLedgerLocked(t *testing.T) {
	cause := fmt.Errorf("held")
	err := NewLedgerLocked("/srv/ledger.jsonl", cause)

	if err.Code != ErrLedgerWriteFailure || err.Status != 409 {
		t.Errorf("Code/Status = %q/%d", err.Code, err.Status)
	}
	if err.Details["reason"] != "locked" || err.Details["ledger"] != "/srv/ledger.jsonl" {
		t.Errorf("Details = %v", err.Details)
	}
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
}

func TestWith_CopiesDetails(t *testing.T) {
	base := NewDeviceTimeout("pull")
	extended := base.With("identifier", "X")

	if _, ok := base.Details["identifier"]; ok {
		t.Error("With() mutated the original error")
	}
	if extended.Details["identifier"] != "X" {
		t.Errorf("Details[identifier] = %v, want X", extended.Details["identifier"])
	}
	if extended.Details["operation"] != "pull" {
		t.Errorf("Details[operation] = %v, want pull", extended.Details["operation"])
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     ErrorCode
		expected bool
	}{
		{
			name:     "matching code",
			err:      NewCaptureInProgress("X"),
			code:     ErrCaptureInProgress,
			expected: true,
		},
		{
			name:     "different code",
			err:      NewCaptureInProgress("X"),
			code:     ErrInvalidState,
			expected: false,
		},
		{
			name:     "wrapped custody error",
			err:      fmt.Errorf("capture: %w", NewDeviceLost("X")),
			code:     ErrDeviceLost,
			expected: true,
		},
		{
			name:     "plain error",
			err:      fmt.Errorf("boom"),
			code:     ErrInternal,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrInternal,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
	if got := CodeOf(fmt.Errorf("boom")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
	if got := CodeOf(NewStorageUnavailable("/x", nil)); got != ErrStorageUnavailable {
		t.Errorf("CodeOf(storage) = %q, want %q", got, ErrStorageUnavailable)
	}
}
