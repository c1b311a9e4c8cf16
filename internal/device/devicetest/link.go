// Package devicetest provides a scripted device.Link for tests.
package devicetest

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"time"

	"github.com/hpungsan/custody/internal/device"
	"github.com/hpungsan/custody/internal/errors"
)

// Behavior scripts what the next PullFile call does.
type Behavior int

const (
	// PullOK copies the photo.
	PullOK Behavior = iota
	// PullEmpty creates the local file but writes nothing.
	PullEmpty
	// PullStall writes half the photo then waits for the deadline.
	PullStall
	// PullDisconnect writes half the photo, drops the link and returns DEVICE_DISCONNECTED.
	PullDisconnect
	// PullVanish writes half the photo, drops the link and hangs. Only a
	// status watchdog or the deadline ends the call.
	PullVanish
	// PullGate waits until Release is called, then copies the photo.
	PullGate
)

// Link is an in-memory device. The zero value is not usable; call New.
type Link struct {
	mu        sync.Mutex
	photos    map[string][]byte
	mtimes    map[string]time.Time
	order     []string
	connected bool
	serial    string

	connectErrs []error
	pullQueue   []Behavior
	pullErr     error
	gate        chan struct{}

	// Started receives one value each time PullFile begins.
	Started chan string

	Connects  int
	Pulls     int
	Triggers  int
	Removed   []string
	triggerFn func(l *Link)
}

// New returns a disconnected device holding no photos.
func New(serial string) *Link {
	return &Link{
		photos:  make(map[string][]byte),
		mtimes:  make(map[string]time.Time),
		serial:  serial,
		gate:    make(chan struct{}),
		Started: make(chan string, 16),
	}
}

// AddPhoto places a photo on the device. Later photos are newer.
func (l *Link) AddPhoto(path string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.photos[path]; !ok {
		l.order = append(l.order, path)
	}
	l.photos[path] = data
	l.mtimes[path] = time.Unix(int64(1700000000+len(l.order)), 0).UTC()
}

// FailConnect makes the next Connect calls fail with errs, in order.
func (l *Link) FailConnect(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectErrs = append(l.connectErrs, errs...)
}

// NextPull queues behaviors for the following PullFile calls.
// An empty queue means PullOK.
func (l *Link) NextPull(b ...Behavior) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pullQueue = append(l.pullQueue, b...)
}

// FailPull makes the next PullFile return err without touching the local file.
func (l *Link) FailPull(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pullErr = err
}

// OnTrigger runs fn each time the shutter fires, typically to add a photo.
func (l *Link) OnTrigger(fn func(l *Link)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.triggerFn = fn
}

// Release unblocks pulls waiting under PullGate.
func (l *Link) Release() {
	close(l.gate)
}

// Unplug simulates the cable being pulled outside of any transfer.
func (l *Link) Unplug() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
}

func (l *Link) Connect(ctx context.Context) (device.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Connects++
	if len(l.connectErrs) > 0 {
		err := l.connectErrs[0]
		l.connectErrs = l.connectErrs[1:]
		if err != nil {
			return device.Handle{}, err
		}
	}
	l.connected = true
	return device.Handle{Serial: l.serial, Model: "Scripted", Fingerprint: "test:" + l.serial}, nil
}

func (l *Link) Disconnect(ctx context.Context) error {
	l.Unplug()
	return nil
}

func (l *Link) Status(ctx context.Context) device.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		return device.Connected
	}
	return device.Disconnected
}

func (l *Link) ListFiles(ctx context.Context, dirs []string) ([]device.RemoteFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, errors.NewDeviceDisconnected("scripted device unplugged")
	}
	files := make([]device.RemoteFile, 0, len(l.order))
	for _, p := range l.order {
		files = append(files, device.RemoteFile{Path: p, Size: int64(len(l.photos[p])), ModTime: l.mtimes[p]})
	}
	return files, nil
}

func (l *Link) PullFile(ctx context.Context, remote, local string, timeout time.Duration) (int64, error) {
	l.mu.Lock()
	l.Pulls++
	behavior := PullOK
	if len(l.pullQueue) > 0 {
		behavior = l.pullQueue[0]
		l.pullQueue = l.pullQueue[1:]
	}
	pullErr := l.pullErr
	l.pullErr = nil
	data, ok := l.photos[remote]
	connected := l.connected
	gate := l.gate
	l.mu.Unlock()

	select {
	case l.Started <- remote:
	default:
	}

	if !connected {
		return 0, errors.NewDeviceDisconnected("scripted device unplugged")
	}
	if pullErr != nil {
		return 0, pullErr
	}
	if !ok {
		return 0, errors.NewRemoteNotFound(remote)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	switch behavior {
	case PullEmpty:
		return 0, writeLocal(local, nil)
	case PullStall:
		if err := writeLocal(local, data[:len(data)/2]); err != nil {
			return 0, err
		}
		<-ctx.Done()
		return int64(len(data) / 2), ctxError(ctx)
	case PullDisconnect:
		if err := writeLocal(local, data[:len(data)/2]); err != nil {
			return 0, err
		}
		l.Unplug()
		return int64(len(data) / 2), errors.NewDeviceDisconnected("transport closed mid-transfer")
	case PullVanish:
		if err := writeLocal(local, data[:len(data)/2]); err != nil {
			return 0, err
		}
		l.Unplug()
		<-ctx.Done()
		return int64(len(data) / 2), ctxError(ctx)
	case PullGate:
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctxError(ctx)
		}
	}
	if err := writeLocal(local, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Trigger counts shutter presses and runs the OnTrigger hook.
func (l *Link) Trigger(ctx context.Context) error {
	l.mu.Lock()
	l.Triggers++
	fn := l.triggerFn
	connected := l.connected
	l.mu.Unlock()
	if !connected {
		return errors.NewDeviceDisconnected("scripted device unplugged")
	}
	if fn != nil {
		fn(l)
	}
	return nil
}

// Remove deletes a photo from the device.
func (l *Link) Remove(ctx context.Context, remote string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.photos, remote)
	for i, p := range l.order {
		if p == remote {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.Removed = append(l.Removed, remote)
	return nil
}

func writeLocal(local string, data []byte) error {
	f, err := os.OpenFile(local, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return errors.NewAlreadyExists("file", local)
		}
		return errors.NewInternal(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.NewInternal(err)
	}
	return f.Close()
}

func ctxError(ctx context.Context) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewDeviceTimeout("pull")
	}
	return errors.NewCancelled("pull")
}

var (
	_ device.Link    = (*Link)(nil)
	_ device.Trigger = (*Link)(nil)
	_ device.Remover = (*Link)(nil)
)
