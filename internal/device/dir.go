package device

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/custody/internal/errors"
)

// Dir treats a mounted folder (MTP mount, camera card, sync folder) as a device.
// Remote paths are relative to the folder.
type Dir struct {
	root string

	mu        sync.Mutex
	connected bool
}

// NewDir returns a link over root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Connect checks that the folder is mounted and readable.
func (d *Dir) Connect(ctx context.Context) (Handle, error) {
	abs, err := filepath.Abs(d.root)
	if err != nil {
		return Handle{}, errors.NewDeviceNotFound(err.Error())
	}
	info, err := os.Stat(abs)
	if err != nil {
		if stderrors.Is(err, fs.ErrPermission) {
			return Handle{}, errors.NewPermissionDenied(err.Error())
		}
		return Handle{}, errors.NewDeviceNotFound(fmt.Sprintf("%s is not mounted", abs))
	}
	if !info.IsDir() {
		return Handle{}, errors.NewDeviceNotFound(fmt.Sprintf("%s is not a directory", abs))
	}
	if _, err := os.ReadDir(abs); err != nil {
		return Handle{}, errors.NewPermissionDenied(err.Error())
	}

	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return Handle{Serial: abs, Fingerprint: fingerprint("dir", abs)}, nil
}

// Disconnect marks the link closed.
func (d *Dir) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return nil
}

// Status reports Connected while the folder is still there.
func (d *Dir) Status(ctx context.Context) Status {
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()
	if !connected {
		return Disconnected
	}
	if info, err := os.Stat(d.root); err != nil || !info.IsDir() {
		return Disconnected
	}
	return Connected
}

func (d *Dir) checkConnected() error {
	if d.Status(context.Background()) != Connected {
		return errors.NewDeviceDisconnected(fmt.Sprintf("%s is not mounted", d.root))
	}
	return nil
}

func (d *Dir) resolve(remote string) (string, error) {
	if filepath.IsAbs(remote) {
		return "", errors.NewRemoteNotFound(remote)
	}
	p := filepath.Join(d.root, remote)
	if rel, err := filepath.Rel(d.root, p); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewRemoteNotFound(remote)
	}
	return p, nil
}

// ListFiles lists photos directly inside each dir.
func (d *Dir) ListFiles(ctx context.Context, dirs []string) ([]RemoteFile, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}
	var files []RemoteFile
	for _, dir := range dirs {
		abs, err := d.resolve(dir)
		if err != nil {
			continue
		}
		entries, err := os.ReadDir(abs)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.NewDeviceDisconnected(err.Error())
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !IsPhoto(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, RemoteFile{
				Path:    filepath.ToSlash(filepath.Join(dir, e.Name())),
				Size:    info.Size(),
				ModTime: info.ModTime().UTC(),
			})
		}
	}
	return files, nil
}

// PullFile copies remote into a new local file.
func (d *Dir) PullFile(ctx context.Context, remote, local string, timeout time.Duration) (int64, error) {
	if err := d.checkConnected(); err != nil {
		return 0, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	src, err := d.resolve(remote)
	if err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewRemoteNotFound(remote)
		}
		if os.IsPermission(err) {
			return 0, errors.NewPermissionDenied(err.Error())
		}
		return 0, errors.NewDeviceDisconnected(err.Error())
	}
	defer in.Close()

	out, err := os.OpenFile(local, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return 0, errors.NewAlreadyExists("file", local)
		}
		return 0, errors.NewInternal(err)
	}
	defer out.Close()

	n, err := io.Copy(out, &ctxReader{ctx: ctx, r: in})
	if err != nil {
		switch {
		case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
			return n, errors.NewDeviceTimeout("pull")
		case ctx.Err() != nil:
			return n, errors.NewCancelled("pull")
		}
		return n, errors.NewDeviceDisconnected(err.Error())
	}
	return n, nil
}

// Remove deletes the remote original.
func (d *Dir) Remove(ctx context.Context, remote string) error {
	p, err := d.resolve(remote)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.NewDeviceDisconnected(err.Error())
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
