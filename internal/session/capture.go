package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/custody/internal/device"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/naming"
	"github.com/hpungsan/custody/internal/storage"
)

// CaptureRequest asks for one photograph of Subject under the active context.
type CaptureRequest struct {
	Subject evidence.SubjectKind
	// RemotePath names the device file to pull. Empty picks the newest photo.
	RemotePath string
	// Retry is the identifier of a Failed capture this attempt replaces.
	// The new attempt always gets a fresh identifier.
	Retry string
}

// CaptureResult describes a committed capture.
type CaptureResult struct {
	Identifier string               `json:"identifier"`
	AttemptID  string               `json:"attempt_id"`
	Path       string               `json:"path"`
	RelPath    string               `json:"rel_path"`
	Subject    evidence.SubjectKind `json:"subject_kind"`
	Remote     string               `json:"remote"`
	Bytes      int64                `json:"bytes"`
	Sequence   uint64               `json:"ledger_sequence"`
	Supersedes string               `json:"supersedes,omitempty"`

	pulled device.RemoteFile
}

// attempt carries what every ledger record of one capture attempt shares.
type attempt struct {
	id         string
	name       naming.Name
	subject    evidence.SubjectKind
	ctx        evidence.Context
	device     string
	operator   string
	supersedes string
	final      string
	partial    string
}

func (a *attempt) entry(outcome evidence.Outcome, reason string) ledger.Entry {
	e := ledger.Entry{
		CaseRef:           a.ctx.Case.Ref,
		Identifier:        a.name.Identifier,
		SubjectKind:       a.subject,
		Outcome:           outcome,
		ReasonIfFailed:    reason,
		DeviceFingerprint: a.device,
		AttemptID:         a.id,
		Seal:              a.ctx.SealNumber(),
		Path:              a.name.RelPath,
		Supersedes:        a.supersedes,
		Operator:          a.operator,
	}
	if a.ctx.Seal != nil {
		e.SealState = a.ctx.Seal.State.String()
	}
	if a.subject == evidence.SubjectObject {
		e.Object = a.ctx.ObjectLetter()
	}
	return e
}

// Capture acquires one photograph: ContextSet -> Capturing -> ContextSet, or
// Error when the device is lost, the storage root fails or the ledger cannot
// record the outcome. Every attempt that got an identifier leaves a Pending
// record and exactly one terminal record in the ledger.
func (s *Session) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	cur, handle, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	res, next, err := s.capture(ctx, cur, handle, req)
	s.finish(ctx, next, res, err)
	return res, err
}

func (s *Session) begin(ctx context.Context) (evidence.Context, device.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked("capture", ContextSet); err != nil {
		return evidence.Context{}, device.Handle{}, err
	}
	if s.exhausted {
		return evidence.Context{}, device.Handle{}, errors.NewInvalidContext("no identifiers left under this context; select another context")
	}
	s.setState(ctx, Capturing)
	s.inflight = ""
	return *cloneContext(s.current), *s.handle, nil
}

func (s *Session) finish(ctx context.Context, next State, res *CaptureResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = ""
	if err == nil {
		s.captures++
		s.lastRemote = res.pulled
	}
	if next == Error {
		s.lastErr = err
		s.log.Error(ctx, "session needs operator attention", "error", err)
	}
	s.setState(ctx, next)
}

func (s *Session) capture(ctx context.Context, cur evidence.Context, handle device.Handle, req CaptureRequest) (*CaptureResult, State, error) {
	if !req.Subject.Valid() {
		return nil, ContextSet, errors.NewInvalidRequest(fmt.Sprintf("unknown subject %q", req.Subject))
	}
	if err := s.reload(ctx, &cur); err != nil {
		return nil, ContextSet, err
	}
	if err := checkSubject(cur, req.Subject); err != nil {
		return nil, ContextSet, err
	}
	if req.Retry != "" {
		if err := s.checkRetry(req.Retry); err != nil {
			return nil, ContextSet, err
		}
	}

	key := naming.ScopeKey(cur, req.Subject)
	s.mu.Lock()
	start := s.counters[key]
	s.mu.Unlock()
	name, err := s.names.Next(naming.Request{Context: cur, Subject: req.Subject, Sequence: max(start, 1)}, s.ledger)
	if err != nil {
		if errors.Is(err, errors.ErrNamingExhausted) {
			s.mu.Lock()
			s.exhausted = true
			s.mu.Unlock()
		}
		return nil, ContextSet, err
	}

	if _, err := s.layout.Ensure(ctx, cur); err != nil {
		if errors.Is(err, errors.ErrStorageUnavailable) {
			return nil, Error, err
		}
		return nil, ContextSet, err
	}
	final, err := s.layout.Abs(name.RelPath)
	if err != nil {
		return nil, ContextSet, err
	}

	a := &attempt{
		id:         newID(),
		name:       name,
		subject:    req.Subject,
		ctx:        cur,
		device:     handle.Fingerprint,
		operator:   s.opts.Operator,
		supersedes: req.Retry,
		final:      final,
		partial:    storage.PartialPath(final),
	}
	s.mu.Lock()
	s.inflight = name.Identifier
	s.mu.Unlock()
	log := s.log.With("identifier", name.Identifier, "subject", string(req.Subject), "attempt", a.id)

	if _, err := s.ledger.Append(ctx, a.entry(evidence.OutcomePending, "")); err != nil {
		if errors.Is(err, errors.ErrLedgerWriteFailure) {
			return nil, Error, err
		}
		return nil, ContextSet, err
	}
	// The identifier is retired from here on, whatever happens next.
	s.mu.Lock()
	s.counters[key] = name.Sequence + 1
	s.mu.Unlock()

	if req.Retry != "" {
		retried := a.entry(evidence.OutcomeRetried, "")
		retried.Identifier = req.Retry
		retried.Path = ""
		retried.Supersedes = ""
		retried.RetriedBy = name.Identifier
		if _, err := s.ledger.Append(context.WithoutCancel(ctx), retried); err != nil {
			return s.fail(ctx, a, errors.NewLedgerWriteFailure(req.Retry, err))
		}
	}

	remote, err := s.pick(ctx, req.RemotePath)
	if err != nil {
		return s.fail(ctx, a, err)
	}
	log.Debug(ctx, "transfer started", "remote", remote.Path)
	n, err := s.transfer(ctx, a, remote.Path)
	if err != nil {
		return s.fail(ctx, a, err)
	}

	info, err := os.Stat(a.partial)
	if err != nil {
		return s.fail(ctx, a, errors.NewInternal(err))
	}
	if n <= 0 || info.Size() == 0 {
		return s.fail(ctx, a, errors.NewEmptyTransfer(name.Identifier))
	}
	if err := s.layout.Commit(a.partial, a.final); err != nil {
		return s.fail(ctx, a, err)
	}

	done := a.entry(evidence.OutcomeSucceeded, "")
	done.Bytes = info.Size()
	rec, err := s.ledger.Append(context.WithoutCancel(ctx), done)
	if err != nil {
		return nil, Error, s.unlogged(ctx, a, err)
	}
	log.Info(ctx, "capture committed", "bytes", done.Bytes, "sequence", rec.Sequence)

	if err := s.catalog.RecordCapture(context.WithoutCancel(ctx), cur.Case.Ref, cur.SealNumber(), done.Object); err != nil {
		log.Warn(ctx, "capture counters not updated", "error", err)
	}
	if s.opts.RemoveRemote {
		if r, ok := s.link.(device.Remover); ok {
			if err := r.Remove(ctx, remote.Path); err != nil {
				log.Warn(ctx, "device original not removed", "remote", remote.Path, "error", err)
			}
		}
	}

	return &CaptureResult{
		Identifier: name.Identifier,
		AttemptID:  a.id,
		Path:       a.final,
		RelPath:    name.RelPath,
		Subject:    req.Subject,
		Remote:     remote.Path,
		Bytes:      done.Bytes,
		Sequence:   rec.Sequence,
		Supersedes: req.Retry,
		pulled:     remote,
	}, ContextSet, nil
}

// reload refreshes the seal and object of cur from the catalog so a capture
// is checked against committed seal state, not the state at selection time.
func (s *Session) reload(ctx context.Context, cur *evidence.Context) error {
	if cur.Seal == nil {
		return errors.NewInvalidContext("select a seal before capturing")
	}
	seal, err := s.catalog.Seal(ctx, cur.Case.Ref, cur.Seal.Number)
	if err != nil {
		return err
	}
	cur.Seal = seal
	if cur.Object != nil {
		obj, err := s.catalog.Object(ctx, cur.Case.Ref, seal.Number, cur.Object.Letter)
		if err != nil {
			return err
		}
		cur.Object = obj
	}
	return nil
}

// checkSubject enforces the seal lifecycle: SEALED needs Unopened, CONTENT
// and OBJECT need Opened, RECONDITIONED needs Reconditioned.
func checkSubject(cur evidence.Context, subject evidence.SubjectKind) error {
	want := subject.RequiredSealState()
	if cur.Seal.State != want {
		return errors.NewInvalidContext(fmt.Sprintf("%s captures need seal %s to be %s, it is %s",
			subject, cur.Seal.Number, want, cur.Seal.State)).
			With("subject", string(subject)).
			With("seal_state", cur.Seal.State.String())
	}
	if subject == evidence.SubjectObject && cur.Object == nil {
		return errors.NewInvalidContext("select an object before capturing OBJECT")
	}
	if subject != evidence.SubjectObject && cur.Object != nil {
		return errors.NewInvalidContext(fmt.Sprintf("object %s is selected; clear it to capture %s", cur.Object.Letter, subject))
	}
	return nil
}

func (s *Session) checkRetry(identifier string) error {
	outcome, ok := s.ledger.Outcome(identifier)
	if !ok {
		return errors.NewNotFound("capture", identifier)
	}
	if outcome != evidence.OutcomeFailed {
		return errors.NewInvalidRequest(fmt.Sprintf("only Failed captures can be retried, %s is %s", identifier, outcome))
	}
	return nil
}

// pick fires the shutter if configured and chooses the photo to pull.
func (s *Session) pick(ctx context.Context, remotePath string) (device.RemoteFile, error) {
	if s.opts.TriggerShutter {
		if t, ok := s.link.(device.Trigger); ok {
			if err := t.Trigger(ctx); err != nil {
				return device.RemoteFile{}, err
			}
		}
	}
	if remotePath != "" {
		return device.RemoteFile{Path: remotePath}, nil
	}
	files, err := s.link.ListFiles(ctx, s.opts.RemoteDirs)
	if err != nil {
		return device.RemoteFile{}, err
	}
	newest, ok := device.Newest(files)
	if !ok {
		return device.RemoteFile{}, errors.NewRemoteNotFound(strings.Join(s.opts.RemoteDirs, ", "))
	}
	s.mu.Lock()
	last := s.lastRemote
	s.mu.Unlock()
	if newest.Path == last.Path && newest.ModTime.Equal(last.ModTime) {
		return device.RemoteFile{}, errors.NewRemoteNotFound(newest.Path).With("reason", "already captured")
	}
	return newest, nil
}

// transfer pulls remote into the attempt's partial file while a watchdog polls
// the device. A device that drops off ends the transfer with DEVICE_LOST even
// if the pull itself would hang until its deadline.
func (s *Session) transfer(ctx context.Context, a *attempt, remote string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TransferTimeout+s.opts.StatusPoll)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	var n int64
	g.Go(func() error {
		defer close(done)
		var err error
		n, err = s.link.PullFile(gctx, remote, a.partial, s.opts.TransferTimeout)
		return err
	})
	g.Go(func() error {
		return s.watch(gctx, done, a.name.Identifier)
	})
	if err := g.Wait(); err != nil {
		return n, err
	}
	return n, nil
}

func (s *Session) watch(ctx context.Context, done <-chan struct{}, identifier string) error {
	t := time.NewTicker(s.opts.StatusPoll)
	defer t.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-t.C:
			if s.link.Status(ctx) == device.Disconnected {
				return errors.NewDeviceLost(identifier)
			}
		}
	}
}

// fail discards the partial transfer and records Failed(reason). Losing the
// device or the storage root ends in Error; anything else returns to ContextSet.
func (s *Session) fail(ctx context.Context, a *attempt, cause error) (*CaptureResult, State, error) {
	id := a.name.Identifier
	reason, fatal := classify(cause)
	if reason == evidence.ReasonInternal && ctx.Err() != nil {
		reason = evidence.ReasonCancelled
	}
	if reason == evidence.ReasonTimeout && s.link.Status(context.WithoutCancel(ctx)) == device.Disconnected {
		reason, fatal = evidence.ReasonDeviceLost, true
	}

	if err := s.layout.Discard(a.partial); err != nil {
		s.log.Warn(ctx, "partial transfer not removed", "path", a.partial, "error", err)
	}

	out, ok := errors.As(cause)
	if !ok {
		out = errors.NewInternal(cause)
	}
	if reason == evidence.ReasonDeviceLost && out.Code != errors.ErrDeviceLost {
		out = errors.NewDeviceLost(id).With("cause", out.Message)
	}
	out = out.With("identifier", id).With("subject", string(a.subject)).With("reason", reason)

	if _, err := s.ledger.Append(context.WithoutCancel(ctx), a.entry(evidence.OutcomeFailed, reason)); err != nil {
		lw := errors.NewLedgerWriteFailure(id, err).With("subject", string(a.subject)).With("reason", reason)
		return nil, Error, lw
	}
	s.log.Warn(ctx, "capture failed", "identifier", id, "subject", string(a.subject), "reason", reason, "error", cause)

	if fatal {
		return nil, Error, out
	}
	return nil, ContextSet, out
}

// unlogged handles a committed file whose Succeeded record could not be
// written. The file leaves the evidence tree for quarantine and the capture
// counts as not succeeded.
func (s *Session) unlogged(ctx context.Context, a *attempt, cause error) error {
	id := a.name.Identifier
	out := errors.NewLedgerWriteFailure(id, cause).With("subject", string(a.subject))
	dst, err := s.layout.Quarantine(a.final)
	if err != nil {
		s.log.Error(ctx, "unlogged capture could not be quarantined", "path", a.final, "error", err)
		out = out.With("path", a.final)
	} else {
		s.log.Error(ctx, "unlogged capture quarantined", "identifier", id, "quarantine", dst)
		out = out.With("quarantine", dst)
	}
	if _, err := s.ledger.Append(context.WithoutCancel(ctx), a.entry(evidence.OutcomeFailed, evidence.ReasonLedgerWriteFailure)); err != nil {
		s.log.Error(ctx, "ledger still rejects appends", "identifier", id, "error", err)
	}
	return out
}

// classify maps an error to the ledger reason and whether it ends the session.
func classify(err error) (reason string, fatal bool) {
	switch errors.CodeOf(err) {
	case errors.ErrDeviceLost, errors.ErrDeviceDisconnected, errors.ErrDeviceNotFound:
		return evidence.ReasonDeviceLost, true
	case errors.ErrDeviceTimeout:
		return evidence.ReasonTimeout, false
	case errors.ErrRemoteNotFound:
		return evidence.ReasonRemoteNotFound, false
	case errors.ErrPermissionDenied:
		return evidence.ReasonPermissionDenied, false
	case errors.ErrEmptyTransfer:
		return evidence.ReasonEmptyTransfer, false
	case errors.ErrStorageUnavailable:
		return evidence.ReasonStorageUnavailable, true
	case errors.ErrLedgerWriteFailure:
		return evidence.ReasonLedgerWriteFailure, true
	case errors.ErrCancelled:
		return evidence.ReasonCancelled, false
	}
	return evidence.ReasonInternal, false
}
