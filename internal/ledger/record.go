package ledger

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"

	"github.com/hpungsan/custody/internal/evidence"
)

// Record is one line of the ledger file. Field order is part of the on-disk
// contract: the hash covers the JSON encoding of the record with Hash empty.
type Record struct {
	Sequence          uint64               `json:"sequence"`
	Timestamp         string               `json:"timestamp"`
	CaseRef           string               `json:"case_ref"`
	Identifier        string               `json:"identifier"`
	SubjectKind       evidence.SubjectKind `json:"subject_kind"`
	Outcome           evidence.Outcome     `json:"outcome"`
	ReasonIfFailed    string               `json:"reason_if_failed"`
	DeviceFingerprint string               `json:"device_fingerprint"`
	AttemptID         string               `json:"attempt_id"`
	Seal              string               `json:"seal,omitempty"`
	SealState         string               `json:"seal_state,omitempty"`
	Object            string               `json:"object,omitempty"`
	Path              string               `json:"path,omitempty"`
	Bytes             int64                `json:"bytes,omitempty"`
	Supersedes        string               `json:"supersedes,omitempty"`
	RetriedBy         string               `json:"retried_by,omitempty"`
	Operator          string               `json:"operator,omitempty"`
	PrevHash          string               `json:"prev_hash"`
	Hash              string               `json:"hash"`
}

// Entry is what callers append; the ledger fills in sequence, timestamp and hashes.
type Entry struct {
	CaseRef           string
	Identifier        string
	SubjectKind       evidence.SubjectKind
	Outcome           evidence.Outcome
	ReasonIfFailed    string
	DeviceFingerprint string
	AttemptID         string
	Seal              string
	SealState         string
	Object            string
	Path              string
	Bytes             int64
	Supersedes        string
	RetriedBy         string
	Operator          string
}

func (e Entry) record() Record {
	return Record{
		CaseRef:           e.CaseRef,
		Identifier:        e.Identifier,
		SubjectKind:       e.SubjectKind,
		Outcome:           e.Outcome,
		ReasonIfFailed:    e.ReasonIfFailed,
		DeviceFingerprint: e.DeviceFingerprint,
		AttemptID:         e.AttemptID,
		Seal:              e.Seal,
		SealState:         e.SealState,
		Object:            e.Object,
		Path:              e.Path,
		Bytes:             e.Bytes,
		Supersedes:        e.Supersedes,
		RetriedBy:         e.RetriedBy,
		Operator:          e.Operator,
	}
}

// hashKey is the BLAKE3 key for record hashes: a domain string zero-padded to 32 bytes.
var hashKey = func() [32]byte {
	var k [32]byte
	copy(k[:], "custody.ledger.record.v1")
	return k
}()

// computeHash returns the keyed hash of r with its Hash field cleared.
func computeHash(r Record) (string, error) {
	r.Hash = ""
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	h, err := blake3.NewKeyed(hashKey[:])
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Event converts a record to the data model's capture event view.
func (r Record) Event() evidence.CaptureEvent {
	ev := evidence.CaptureEvent{
		AttemptID:  r.AttemptID,
		Identifier: r.Identifier,
		Path:       r.Path,
		CaseRef:    r.CaseRef,
		Seal:       r.Seal,
		SealState:  r.SealState,
		Object:     r.Object,
		Subject:    r.SubjectKind,
		Outcome:    r.Outcome,
		Reason:     r.ReasonIfFailed,
		Device:     r.DeviceFingerprint,
		Bytes:      r.Bytes,
		Supersedes: r.Supersedes,
	}
	if ts, err := parseTimestamp(r.Timestamp); err == nil {
		ev.Timestamp = ts
	}
	return ev
}
