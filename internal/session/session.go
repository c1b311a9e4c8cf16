// Package session implements the capture session: the state machine that owns
// the active evidence context, drives the device link and writes every capture
// attempt through the custody ledger.
package session

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/device"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/evidence"
	"github.com/hpungsan/custody/internal/ledger"
	"github.com/hpungsan/custody/internal/logging"
	"github.com/hpungsan/custody/internal/naming"
	"github.com/hpungsan/custody/internal/storage"
)

// Ledger is the part of the custody ledger the session writes through.
type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (ledger.Record, error)
	Used(identifier string) bool
	Outcome(identifier string) (evidence.Outcome, bool)
	Check() error
}

// Catalog resolves the evidence a context refers to.
type Catalog interface {
	Case(ctx context.Context, ref string) (*evidence.Case, error)
	Seal(ctx context.Context, caseRef, number string) (*evidence.Seal, error)
	Object(ctx context.Context, caseRef, seal, letter string) (*evidence.ObjectItem, error)
	RecordCapture(ctx context.Context, caseRef, seal, letter string) error
}

// Deps are the collaborators of a session.
type Deps struct {
	Link    device.Link
	Ledger  Ledger
	Catalog Catalog
	Names   *naming.Engine
	Layout  *storage.Layout
	Logger  logging.Logger
}

// Options tune a session.
type Options struct {
	// TransferTimeout bounds one device pull.
	TransferTimeout time.Duration
	// StatusPoll is how often the device is polled while a pull is in flight.
	StatusPoll time.Duration
	// ReconnectAttempts is the number of extra connect attempts on transient errors.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	// RemoteDirs are searched for the newest photo when a request names none.
	RemoteDirs []string
	// Operator is written on every ledger record.
	Operator       string
	TriggerShutter bool
	RemoveRemote   bool
}

const (
	defaultTransferTimeout = 30 * time.Second
	defaultStatusPoll      = 500 * time.Millisecond
)

// OptionsFromConfig maps configuration onto session options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TransferTimeout:   cfg.TransferTimeout(),
		StatusPoll:        cfg.StatusPollInterval(),
		ReconnectAttempts: cfg.ReconnectAttempts,
		RemoteDirs:        device.RemoteDirs(cfg),
		Operator:          cfg.Operator,
		TriggerShutter:    cfg.TriggerShutter,
		RemoveRemote:      cfg.RemoveRemote,
	}
}

// Session is the capture state machine. All methods are safe for concurrent
// use; at most one capture runs at a time and a second one is rejected with
// CAPTURE_IN_PROGRESS rather than queued.
type Session struct {
	id      string
	link    device.Link
	ledger  Ledger
	catalog Catalog
	names   *naming.Engine
	layout  *storage.Layout
	log     logging.Logger
	opts    Options

	// lifecycle serializes Connect, Reconnect and Disconnect.
	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	handle    *device.Handle
	current   *evidence.Context
	counters  map[string]int
	exhausted bool
	inflight  string
	captures  int
	lastErr   error

	// unresolved keeps an Error condition through Disconnect until a later
	// Connect has re-run the checks Reconnect would.
	unresolved bool

	// lastRemote is the device photo of the last committed capture.
	lastRemote device.RemoteFile
}

// New creates an Idle session.
func New(deps Deps, opts Options) (*Session, error) {
	if deps.Link == nil || deps.Ledger == nil || deps.Catalog == nil || deps.Names == nil || deps.Layout == nil {
		return nil, errors.NewInvalidRequest("session needs a device link, ledger, catalog, naming engine and storage layout")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = defaultTransferTimeout
	}
	if opts.StatusPoll <= 0 {
		opts.StatusPoll = defaultStatusPoll
	}
	id := newID()
	return &Session{
		id:       id,
		link:     deps.Link,
		ledger:   deps.Ledger,
		catalog:  deps.Catalog,
		names:    deps.Names,
		layout:   deps.Layout,
		log:      deps.Logger.With("session", id),
		opts:     opts,
		counters: make(map[string]int),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:       s.id,
		State:           s.state,
		Context:         cloneContext(s.current),
		InFlight:        s.inflight,
		NamingExhausted: s.exhausted,
		Captures:        s.captures,
	}
	if s.handle != nil {
		h := *s.handle
		snap.Device = &h
	}
	if s.state == Error || s.unresolved {
		snap.LastError = errorInfo(s.lastErr)
	}
	return snap
}

// Connect links the device: Idle -> DeviceReady. The storage root is checked
// first so an unusable root surfaces before any capture is attempted. A
// session disconnected out of Error also re-checks the ledger.
func (s *Session) Connect(ctx context.Context) (device.Handle, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if err := s.require("connect", Idle); err != nil {
		return device.Handle{}, err
	}
	s.mu.Lock()
	unresolved := s.unresolved
	s.mu.Unlock()
	if unresolved {
		if err := s.ledger.Check(); err != nil {
			return device.Handle{}, err
		}
	}
	if err := s.layout.Check(ctx); err != nil {
		return device.Handle{}, err
	}
	h, err := device.ConnectWithRetry(ctx, s.link, s.opts.ReconnectAttempts, s.opts.ReconnectDelay)
	if err != nil {
		s.log.Warn(ctx, "device connect failed", "error", err)
		return device.Handle{}, err
	}

	s.mu.Lock()
	s.handle = &h
	s.lastErr = nil
	s.unresolved = false
	s.setState(ctx, DeviceReady)
	s.mu.Unlock()
	s.log.Info(ctx, "device connected", "device", h.Fingerprint)
	return h, nil
}

// Disconnect unlinks the device and drops the context. It is refused while a
// capture is in flight. Out of Error, the condition stays pending: the next
// Connect runs the ledger and storage checks of Reconnect.
func (s *Session) Disconnect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == Capturing {
		s.mu.Unlock()
		return errors.NewCaptureInProgress(s.inflight)
	}
	s.mu.Unlock()

	if err := s.link.Disconnect(ctx); err != nil {
		s.log.Warn(ctx, "device disconnect failed", "error", err)
	}

	s.mu.Lock()
	if s.state == Error {
		s.unresolved = true
	}
	if !s.unresolved {
		s.lastErr = nil
	}
	s.handle = nil
	s.current = nil
	s.setState(ctx, Idle)
	s.mu.Unlock()
	return nil
}

// Reconnect is the way out of Error. It re-checks the ledger and the
// storage root, then relinks the device: Error -> DeviceReady. The evidence
// context must be selected again afterwards.
func (s *Session) Reconnect(ctx context.Context) (device.Handle, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if err := s.require("reconnect", Error); err != nil {
		return device.Handle{}, err
	}
	if err := s.ledger.Check(); err != nil {
		return device.Handle{}, err
	}
	if err := s.layout.Check(ctx); err != nil {
		return device.Handle{}, err
	}

	if err := s.link.Disconnect(ctx); err != nil {
		s.log.Debug(ctx, "stale link close failed", "error", err)
	}
	h, err := device.ConnectWithRetry(ctx, s.link, s.opts.ReconnectAttempts, s.opts.ReconnectDelay)
	if err != nil {
		s.log.Warn(ctx, "device reconnect failed", "error", err)
		return device.Handle{}, err
	}

	s.mu.Lock()
	s.handle = &h
	s.current = nil
	s.lastErr = nil
	s.unresolved = false
	s.setState(ctx, DeviceReady)
	s.mu.Unlock()
	s.log.Info(ctx, "device reconnected", "device", h.Fingerprint)
	return h, nil
}

// Selection names the evidence to attribute captures to. Seal and Object are optional.
type Selection struct {
	CaseRef string `json:"case_ref"`
	Seal    string `json:"seal,omitempty"`
	Object  string `json:"object,omitempty"`
}

// SetContext selects the case, seal and object captures are attributed to:
// DeviceReady|ContextSet -> ContextSet.
func (s *Session) SetContext(ctx context.Context, sel Selection) (evidence.Context, error) {
	if err := s.require("set context", DeviceReady, ContextSet); err != nil {
		return evidence.Context{}, err
	}

	c, err := s.resolve(ctx, sel)
	if err != nil {
		return evidence.Context{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A capture may have started while the catalog was read.
	if err := s.requireLocked("set context", DeviceReady, ContextSet); err != nil {
		return evidence.Context{}, err
	}
	s.current = &c
	s.exhausted = false
	s.setState(ctx, ContextSet)
	s.log.Info(ctx, "context selected", "case", c.Case.Ref, "seal", c.SealNumber(), "object", c.ObjectLetter())
	return *cloneContext(&c), nil
}

func (s *Session) resolve(ctx context.Context, sel Selection) (evidence.Context, error) {
	if sel.CaseRef == "" {
		return evidence.Context{}, errors.NewInvalidContext("a case must be selected")
	}
	if sel.Object != "" && sel.Seal == "" {
		return evidence.Context{}, errors.NewInvalidContext("an object can only be selected under a seal")
	}
	cs, err := s.catalog.Case(ctx, sel.CaseRef)
	if err != nil {
		return evidence.Context{}, err
	}
	c := evidence.Context{Case: *cs}
	if sel.Seal != "" {
		if c.Seal, err = s.catalog.Seal(ctx, sel.CaseRef, sel.Seal); err != nil {
			return evidence.Context{}, err
		}
	}
	if sel.Object != "" {
		if c.Object, err = s.catalog.Object(ctx, sel.CaseRef, sel.Seal, sel.Object); err != nil {
			return evidence.Context{}, err
		}
	}
	if err := c.Validate(); err != nil {
		return evidence.Context{}, errors.NewInvalidContext(err.Error())
	}
	return c, nil
}

// ClearContext drops the selection: ContextSet -> DeviceReady.
func (s *Session) ClearContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked("clear context", DeviceReady, ContextSet); err != nil {
		return err
	}
	s.current = nil
	s.exhausted = false
	s.setState(ctx, DeviceReady)
	return nil
}

// MutateSeal runs fn, which changes the stored state of a seal, unless a
// capture is in flight against that seal. The active context sees the new
// state as soon as fn returns.
func (s *Session) MutateSeal(ctx context.Context, caseRef, number string, fn func(context.Context) (*evidence.Seal, error)) (*evidence.Seal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := s.current != nil && s.current.Case.Ref == caseRef && s.current.SealNumber() == number
	if s.state == Capturing && selected {
		return nil, errors.NewCaptureInProgress(s.inflight)
	}
	seal, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if selected {
		cp := *seal
		s.current.Seal = &cp
	}
	return seal, nil
}

func (s *Session) require(op string, allowed ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requireLocked(op, allowed...)
}

func (s *Session) requireLocked(op string, allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	if s.state == Capturing {
		return errors.NewCaptureInProgress(s.inflight)
	}
	return errors.NewInvalidState(op, s.state.String())
}

// setState must be called with mu held.
func (s *Session) setState(ctx context.Context, next State) {
	if s.state == next {
		return
	}
	s.log.Debug(ctx, "session state", "from", s.state.String(), "to", next.String())
	s.state = next
}

func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
