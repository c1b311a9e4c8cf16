package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a custody error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"      // 400
	ErrInvalidContext     ErrorCode = "INVALID_CONTEXT"      // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"            // 404
	ErrDeviceNotFound     ErrorCode = "DEVICE_NOT_FOUND"     // 404
	ErrRemoteNotFound     ErrorCode = "REMOTE_NOT_FOUND"     // 404
	ErrPermissionDenied   ErrorCode = "PERMISSION_DENIED"    // 403
	ErrAlreadyExists      ErrorCode = "ALREADY_EXISTS"       // 409
	ErrCaptureInProgress  ErrorCode = "CAPTURE_IN_PROGRESS"  // 409
	ErrInvalidState       ErrorCode = "INVALID_STATE"        // 409
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"   // 409
	ErrNamingExhausted    ErrorCode = "NAMING_EXHAUSTED"     // 422
	ErrEmptyTransfer      ErrorCode = "EMPTY_TRANSFER"       // 422
	ErrCancelled          ErrorCode = "CANCELLED"            // 499
	ErrInternal           ErrorCode = "INTERNAL"             // 500
	ErrLedgerWriteFailure ErrorCode = "LEDGER_WRITE_FAILURE" // 500
	ErrDeviceDisconnected ErrorCode = "DEVICE_DISCONNECTED"  // 503
	ErrDeviceLost         ErrorCode = "DEVICE_LOST"          // 503
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"  // 503
	ErrDeviceTimeout      ErrorCode = "DEVICE_TIMEOUT"       // 504
)

// CustodyError represents a structured error with code, status, and details.
// Details carry enough context (identifier, subject, reason) to be written
// into the custody ledger verbatim.
type CustodyError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *CustodyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CustodyError) Unwrap() error {
	return e.cause
}

// With returns a copy of e with an extra detail attached.
func (e *CustodyError) With(key string, value any) *CustodyError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CustodyError {
	return &CustodyError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidContext creates a 400 error for a capture that does not fit the
// current case/seal/object context.
func NewInvalidContext(msg string) *CustodyError {
	return &CustodyError{
		Code:    ErrInvalidContext,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing case, seal or object.
func NewNotFound(kind, identifier string) *CustodyError {
	return &CustodyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewAlreadyExists creates a 409 error for duplicate cases, seals, objects or files.
func NewAlreadyExists(kind, identifier string) *CustodyError {
	return &CustodyError{
		Code:    ErrAlreadyExists,
		Status:  409,
		Message: fmt.Sprintf("%s already exists: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewDeviceNotFound creates a 404 error when no capture device is attached.
func NewDeviceNotFound(msg string) *CustodyError {
	return &CustodyError{
		Code:    ErrDeviceNotFound,
		Status:  404,
		Message: msg,
	}
}

// NewPermissionDenied creates a 403 error when the device refuses access.
func NewPermissionDenied(msg string) *CustodyError {
	return &CustodyError{
		Code:    ErrPermissionDenied,
		Status:  403,
		Message: msg,
	}
}

// NewDeviceDisconnected creates a 503 error when the device went away.
func NewDeviceDisconnected(msg string) *CustodyError {
	return &CustodyError{
		Code:    ErrDeviceDisconnected,
		Status:  503,
		Message: msg,
	}
}

// NewDeviceTimeout creates a 504 error when a device call exceeded its deadline.
func NewDeviceTimeout(op string) *CustodyError {
	return &CustodyError{
		Code:    ErrDeviceTimeout,
		Status:  504,
		Message: fmt.Sprintf("device %s timed out", op),
		Details: map[string]any{"operation": op},
	}
}

// NewRemoteNotFound creates a 404 error for a missing file on the device.
func NewRemoteNotFound(remotePath string) *CustodyError {
	return &CustodyError{
		Code:    ErrRemoteNotFound,
		Status:  404,
		Message: fmt.Sprintf("remote file not found: %s", remotePath),
		Details: map[string]any{"remote_path": remotePath},
	}
}

// NewDeviceLost creates a 503 error for a device that disconnected mid-transfer.
func NewDeviceLost(identifier string) *CustodyError {
	return &CustodyError{
		Code:    ErrDeviceLost,
		Status:  503,
		Message: fmt.Sprintf("device lost during transfer of %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewCaptureInProgress creates a 409 error when a capture is already in flight.
func NewCaptureInProgress(identifier string) *CustodyError {
	return &CustodyError{
		Code:    ErrCaptureInProgress,
		Status:  409,
		Message: "another capture is in progress",
		Details: map[string]any{"identifier": identifier},
	}
}

// NewInvalidState creates a 409 error for an operation not allowed in the
// current session state.
func NewInvalidState(op, state string) *CustodyError {
	return &CustodyError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: fmt.Sprintf("cannot %s in state %s", op, state),
		Details: map[string]any{"operation": op, "state": state},
	}
}

// NewInvalidTransition creates a 409 error for a seal state transition out of order.
func NewInvalidTransition(seal, from, to string) *CustodyError {
	return &CustodyError{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("seal %s cannot move from %s to %s", seal, from, to),
		Details: map[string]any{"seal": seal, "from": from, "to": to},
	}
}

// NewNamingExhausted creates a 422 error when the naming engine ran out of
// sequence numbers for a context.
func NewNamingExhausted(scope string, attempts int) *CustodyError {
	return &CustodyError{
		Code:    ErrNamingExhausted,
		Status:  422,
		Message: fmt.Sprintf("no free identifier for %s after %d attempts", scope, attempts),
		Details: map[string]any{"scope": scope, "attempts": attempts},
	}
}

// NewEmptyTransfer creates a 422 error when the device delivered zero bytes.
func NewEmptyTransfer(identifier string) *CustodyError {
	return &CustodyError{
		Code:    ErrEmptyTransfer,
		Status:  422,
		Message: fmt.Sprintf("transfer for %s produced no data", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewStorageUnavailable creates a 503 error when the storage root cannot be used.
func NewStorageUnavailable(root string, err error) *CustodyError {
	msg := fmt.Sprintf("storage unavailable: %s", root)
	if err != nil {
		msg = fmt.Sprintf("storage unavailable: %s: %v", root, err)
	}
	return &CustodyError{
		Code:    ErrStorageUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"root": root},
		cause:   err,
	}
}

// NewLedgerWriteFailure creates a 500 error when a durable ledger append failed.
func NewLedgerWriteFailure(identifier string, err error) *CustodyError {
	msg := fmt.Sprintf("ledger append failed for %s", identifier)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &CustodyError{
		Code:    ErrLedgerWriteFailure,
		Status:  500,
		Message: msg,
		Details: map[string]any{"identifier": identifier},
		cause:   err,
	}
}

// NewLedgerLocked creates a 409 error when another process is writing the ledger.
func NewLedgerLocked(path string, err error) *CustodyError {
	return &CustodyError{
		Code:    ErrLedgerWriteFailure,
		Status:  409,
		Message: fmt.Sprintf("ledger %s is open for writing in another custody process", path),
		Details: map[string]any{"ledger": path, "reason": "locked"},
		cause:   err,
	}
}

// NewCancelled creates an error when an operation is cancelled by the caller.
func NewCancelled(op string) *CustodyError {
	return &CustodyError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CustodyError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CustodyError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is a CustodyError with the given code.
func Is(err error, code ErrorCode) bool {
	if cErr, ok := As(err); ok {
		return cErr.Code == code
	}
	return false
}

// As extracts a CustodyError from err's chain.
func As(err error) (*CustodyError, bool) {
	var cErr *CustodyError
	if stderrors.As(err, &cErr) {
		return cErr, true
	}
	return nil, false
}

// CodeOf returns the error code for err, or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if cErr, ok := As(err); ok {
		return cErr.Code
	}
	return ErrInternal
}
