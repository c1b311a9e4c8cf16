// Package ledger implements the custody ledger: an append-only JSON Lines file
// holding one record per capture state transition, totally ordered by sequence
// number and chained with keyed BLAKE3 hashes.
//
// Every record is written with a single write followed by fsync. A record is
// committed once its terminating newline is on disk; readers treat a trailing
// line without one as not yet committed.
//
// One process at a time may write a ledger: Open holds an exclusive lock on
// <path>.lock until Close. Other processes read through OpenReadOnly or ReadFile.
package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/logging"
)

// Ledger errors wrapped as causes of the typed errors Open and Append return.
var (
	ErrLocked   = stderrors.New("ledger is held by another process")
	ErrReadOnly = stderrors.New("ledger is open read-only")
)

// Ledger is the single writer of a ledger file, or a read-only view of one.
// Safe for concurrent use.
type Ledger struct {
	path     string
	log      logging.Logger
	now      func() time.Time
	readOnly bool

	mu       sync.Mutex
	lock     *os.File
	f        *os.File
	size     int64
	seq      uint64
	lastHash string
	outcomes map[string]evidence.Outcome // identifier -> latest outcome
}

// Option configures Open.
type Option func(*Ledger)

// WithLogger sets the logger used for append and recovery events.
func WithLogger(l logging.Logger) Option {
	return func(lg *Ledger) { lg.log = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

func newLedger(path string, opts []Option) *Ledger {
	lg := &Ledger{
		path:     path,
		log:      logging.Discard(),
		now:      time.Now,
		outcomes: make(map[string]evidence.Outcome),
	}
	for _, o := range opts {
		o(lg)
	}
	return lg
}

// Open opens or creates the ledger at path for writing and rebuilds the
// in-memory index. It fails with LEDGER_WRITE_FAILURE wrapping ErrLocked while
// another process has the ledger open for writing.
//
// A torn trailing record (no newline, or an unparsable last line) is copied to
// <path>.torn-<unix> and cut from the file. Any other malformed line is
// corruption and fails Open.
func Open(path string, opts ...Option) (*Ledger, error) {
	lg := newLedger(path, opts)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewLedgerWriteFailure("", err)
	}
	lock, err := acquireLock(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		releaseLock(lock)
		return nil, errors.NewLedgerWriteFailure("", err)
	}
	lg.lock = lock
	lg.f = f

	if err := lg.load(); err != nil {
		f.Close()
		releaseLock(lock)
		return nil, err
	}
	return lg, nil
}

// OpenReadOnly indexes the ledger at path without taking the writer lock, so
// it works while another process appends. It never creates or repairs the
// file: a missing file is an empty ledger and a torn trailing record is left
// alone. Append and Check fail with ErrReadOnly.
func OpenReadOnly(path string, opts ...Option) (*Ledger, error) {
	lg := newLedger(path, opts)
	lg.readOnly = true
	for rec, err := range ReadFile(path, "") {
		if err != nil {
			return nil, err
		}
		lg.apply(rec)
	}
	return lg, nil
}

// acquireLock takes the writer lock of the ledger at path without waiting.
func acquireLock(path string) (*os.File, error) {
	name := path + ".lock"
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.NewLedgerWriteFailure("", err)
	}
	ok, err := tryLock(f)
	if err != nil {
		f.Close()
		return nil, errors.NewLedgerWriteFailure("", err)
	}
	if !ok {
		f.Close()
		return nil, errors.NewLedgerLocked(path, ErrLocked)
	}
	return f, nil
}

// releaseLock drops the writer lock. The lock file stays so a waiting process
// never locks an unlinked inode.
func releaseLock(f *os.File) {
	unlock(f)
	f.Close()
}

func (lg *Ledger) load() error {
	if _, err := lg.f.Seek(0, io.SeekStart); err != nil {
		return errors.NewInternal(err)
	}
	r := bufio.NewReader(lg.f)

	var offset int64
	var lineNo int
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			lineNo++
			rec, perr := parseLine(line)
			if perr != nil {
				// Only the final line may be damaged.
				if _, peekErr := r.Peek(1); peekErr == io.EOF {
					return lg.truncateTorn(offset, line)
				}
				return errors.NewInternal(fmt.Errorf("ledger %s: line %d is corrupt: %w", lg.path, lineNo, perr))
			}
			if rec.Sequence <= lg.seq {
				return errors.NewInternal(fmt.Errorf("ledger %s: line %d: sequence %d does not follow %d", lg.path, lineNo, rec.Sequence, lg.seq))
			}
			lg.apply(rec)
			offset += int64(len(line))
		} else if len(line) > 0 {
			return lg.truncateTorn(offset, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.NewInternal(err)
		}
	}
	lg.size = offset
	return nil
}

// truncateTorn preserves the torn bytes next to the ledger and cuts the file at offset.
func (lg *Ledger) truncateTorn(offset int64, torn []byte) error {
	saved := fmt.Sprintf("%s.torn-%d", lg.path, lg.now().Unix())
	if err := os.WriteFile(saved, torn, 0600); err != nil {
		return errors.NewLedgerWriteFailure("", fmt.Errorf("save torn record: %w", err))
	}
	if err := lg.f.Truncate(offset); err != nil {
		return errors.NewLedgerWriteFailure("", err)
	}
	if err := lg.f.Sync(); err != nil {
		return errors.NewLedgerWriteFailure("", err)
	}
	lg.size = offset
	lg.log.Warn(context.Background(), "truncated torn ledger record",
		"ledger", lg.path, "offset", offset, "bytes", len(torn), "saved_to", saved)
	return nil
}

func (lg *Ledger) apply(rec Record) {
	lg.seq = rec.Sequence
	lg.lastHash = rec.Hash
	lg.outcomes[rec.Identifier] = rec.Outcome
}

func parseLine(line []byte) (Record, error) {
	var rec Record
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return rec, fmt.Errorf("empty line")
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, err
	}
	if rec.Sequence == 0 || rec.Identifier == "" {
		return rec, fmt.Errorf("missing sequence or identifier")
	}
	return rec, nil
}

// Path returns the ledger file path.
func (lg *Ledger) Path() string {
	return lg.path
}

// Append durably records one transition and returns the written record.
// Appends are serialized; on any write failure the file is cut back to its
// previous length and LEDGER_WRITE_FAILURE is returned.
func (lg *Ledger) Append(ctx context.Context, e Entry) (Record, error) {
	if e.Identifier == "" || e.CaseRef == "" {
		return Record{}, errors.NewInvalidRequest("ledger entry needs a case and an identifier")
	}
	if err := ctx.Err(); err != nil {
		return Record{}, errors.NewCancelled("ledger append")
	}

	lg.mu.Lock()
	defer lg.mu.Unlock()

	if err := lg.writableLocked(); err != nil {
		return Record{}, errors.NewLedgerWriteFailure(e.Identifier, err)
	}

	rec := e.record()
	rec.Sequence = lg.seq + 1
	rec.Timestamp = lg.now().UTC().Format(time.RFC3339Nano)
	rec.PrevHash = lg.lastHash
	hash, err := computeHash(rec)
	if err != nil {
		return Record{}, errors.NewInternal(err)
	}
	rec.Hash = hash

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, errors.NewInternal(err)
	}
	data = append(data, '\n')

	if _, err := lg.f.Write(data); err != nil {
		lg.rollback()
		return Record{}, errors.NewLedgerWriteFailure(e.Identifier, err)
	}
	if err := lg.f.Sync(); err != nil {
		lg.rollback()
		return Record{}, errors.NewLedgerWriteFailure(e.Identifier, err)
	}

	lg.size += int64(len(data))
	lg.apply(rec)
	lg.log.Debug(ctx, "ledger append",
		"sequence", rec.Sequence, "identifier", rec.Identifier,
		"outcome", string(rec.Outcome), "reason", rec.ReasonIfFailed)
	return rec, nil
}

func (lg *Ledger) rollback() {
	if err := lg.f.Truncate(lg.size); err != nil {
		lg.log.Error(context.Background(), "ledger rollback failed", "ledger", lg.path, "error", err)
	}
}

// Used reports whether identifier was ever recorded, whatever its outcome.
// Failed identifiers stay used: they are retired, never recycled.
func (lg *Ledger) Used(identifier string) bool {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	_, ok := lg.outcomes[identifier]
	return ok
}

// Outcome returns the latest outcome recorded for identifier.
func (lg *Ledger) Outcome(identifier string) (evidence.Outcome, bool) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	o, ok := lg.outcomes[identifier]
	return o, ok
}

// LastSequence returns the sequence number of the newest committed record.
func (lg *Ledger) LastSequence() uint64 {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.seq
}

func (lg *Ledger) writableLocked() error {
	if lg.readOnly {
		return ErrReadOnly
	}
	if lg.f == nil {
		return os.ErrClosed
	}
	return nil
}

// Writable reports whether lg holds the writer lock.
func (lg *Ledger) Writable() bool {
	return !lg.readOnly
}

// Check reports whether the ledger can still accept appends.
func (lg *Ledger) Check() error {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if err := lg.writableLocked(); err != nil {
		return errors.NewLedgerWriteFailure("", err)
	}
	info, err := lg.f.Stat()
	if err != nil {
		return errors.NewLedgerWriteFailure("", err)
	}
	if info.Size() != lg.size {
		return errors.NewLedgerWriteFailure("", fmt.Errorf("ledger changed on disk: %d bytes, expected %d", info.Size(), lg.size))
	}
	return nil
}

// Close closes the ledger file and releases the writer lock. Further appends fail.
func (lg *Ledger) Close() error {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.f == nil {
		return nil
	}
	err := lg.f.Close()
	lg.f = nil
	releaseLock(lg.lock)
	lg.lock = nil
	return err
}

// History returns the records of caseRef (all cases when empty) in sequence
// order. The sequence is lazy and restartable: each range re-reads the file.
// A truncated trailing record is treated as not yet committed.
func (lg *Ledger) History(caseRef string) iter.Seq2[Record, error] {
	return ReadFile(lg.path, caseRef)
}

// Records returns every committed record.
func (lg *Ledger) Records() ([]Record, error) {
	var out []Record
	for rec, err := range lg.History("") {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadFile iterates the records of a ledger file without opening it for writing.
func ReadFile(path, caseRef string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return
			}
			yield(Record{}, errors.NewInternal(err))
			return
		}
		defer f.Close()

		r := bufio.NewReader(f)
		lineNo := 0
		for {
			line, err := r.ReadBytes('\n')
			if len(line) == 0 || line[len(line)-1] != '\n' {
				// EOF, or a trailing record still being written.
				if err != nil && err != io.EOF {
					yield(Record{}, errors.NewInternal(err))
				}
				return
			}
			lineNo++
			rec, perr := parseLine(line)
			if perr != nil {
				if _, peekErr := r.Peek(1); peekErr == io.EOF {
					return
				}
				yield(Record{}, errors.NewInternal(fmt.Errorf("ledger %s: line %d is corrupt: %w", path, lineNo, perr)))
				return
			}
			if caseRef != "" && rec.CaseRef != caseRef {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
