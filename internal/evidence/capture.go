package evidence

import (
	"fmt"
	"strings"
	"time"
)

// SubjectKind is the logical subject of a photograph. The values double as
// the human-readable tokens embedded in identifiers.
type SubjectKind string

const (
	SubjectSealed        SubjectKind = "SEALED"        // seal before opening
	SubjectContent       SubjectKind = "CONTENT"       // content during opening
	SubjectObject        SubjectKind = "OBJECT"        // individual object
	SubjectReconditioned SubjectKind = "RECONDITIONED" // seal after reconditioning
)

// AllSubjects lists subject kinds in lifecycle order.
var AllSubjects = []SubjectKind{SubjectSealed, SubjectContent, SubjectObject, SubjectReconditioned}

// ParseSubject accepts the canonical tokens and a few operator spellings.
func ParseSubject(s string) (SubjectKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SEALED", "FERME", "CLOSED":
		return SubjectSealed, nil
	case "CONTENT", "CONTENU":
		return SubjectContent, nil
	case "OBJECT", "OBJET":
		return SubjectObject, nil
	case "RECONDITIONED", "RECONDITIONNE":
		return SubjectReconditioned, nil
	}
	return "", fmt.Errorf("unknown subject %q (want sealed, content, object or reconditioned)", s)
}

// RequiredSealState is the seal state a capture of this subject demands.
func (k SubjectKind) RequiredSealState() SealState {
	switch k {
	case SubjectContent, SubjectObject:
		return SealOpened
	case SubjectReconditioned:
		return SealReconditioned
	default:
		return SealUnopened
	}
}

// Valid reports whether k is a known subject kind.
func (k SubjectKind) Valid() bool {
	for _, s := range AllSubjects {
		if s == k {
			return true
		}
	}
	return false
}

// Outcome is the state of one capture attempt in the ledger.
type Outcome string

const (
	OutcomePending   Outcome = "Pending"
	OutcomeSucceeded Outcome = "Succeeded"
	OutcomeFailed    Outcome = "Failed"
	OutcomeRetried   Outcome = "Retried"
)

// Terminal reports whether no further ledger entry is expected for the attempt.
func (o Outcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// Failure reasons written to the ledger.
const (
	ReasonDeviceLost         = "DeviceLost"
	ReasonTimeout            = "Timeout"
	ReasonDisconnected       = "Disconnected"
	ReasonRemoteNotFound     = "RemoteNotFound"
	ReasonPermissionDenied   = "PermissionDenied"
	ReasonEmptyTransfer      = "EmptyTransfer"
	ReasonStorageUnavailable = "StorageUnavailable"
	ReasonLedgerWriteFailure = "LedgerWriteFailure"
	ReasonCancelled          = "Cancelled"
	ReasonInternal           = "Internal"
)

// CaptureEvent is one attempt to acquire one photograph.
type CaptureEvent struct {
	AttemptID  string      `json:"attempt_id"`
	Identifier string      `json:"identifier"`
	Path       string      `json:"path"`
	CaseRef    string      `json:"case_ref"`
	Seal       string      `json:"seal,omitempty"`
	SealState  string      `json:"seal_state,omitempty"`
	Object     string      `json:"object,omitempty"`
	Subject    SubjectKind `json:"subject_kind"`
	Outcome    Outcome     `json:"outcome"`
	Reason     string      `json:"reason_if_failed,omitempty"`
	Device     string      `json:"device_fingerprint"`
	Bytes      int64       `json:"bytes,omitempty"`
	Supersedes string      `json:"supersedes,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
