// Package device abstracts the capture device photos are pulled from.
//
// A Link may vanish or stall at any call. Failures are reported as typed
// errors: DEVICE_NOT_FOUND, PERMISSION_DENIED, DEVICE_DISCONNECTED,
// DEVICE_TIMEOUT and REMOTE_NOT_FOUND.
package device

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/logging"
)

// Status is the link state reported by a device.
type Status int

const (
	Disconnected Status = iota
	Connected
)

func (s Status) String() string {
	if s == Connected {
		return "Connected"
	}
	return "Disconnected"
}

// Handle describes a connected device.
type Handle struct {
	Serial       string `json:"serial"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	// Fingerprint identifies the source device on every ledger record.
	Fingerprint string `json:"fingerprint"`
}

// RemoteFile is a photo found on the device.
type RemoteFile struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Link is the capability the capture session needs from a device.
type Link interface {
	Connect(ctx context.Context) (Handle, error)
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) Status
	ListFiles(ctx context.Context, dirs []string) ([]RemoteFile, error)
	// PullFile copies remote to local and returns the number of bytes written.
	// local must not exist; on error it may hold a partial copy.
	PullFile(ctx context.Context, remote, local string, timeout time.Duration) (int64, error)
}

// Trigger is implemented by links that can fire the device shutter.
type Trigger interface {
	Trigger(ctx context.Context) error
}

// Remover is implemented by links that can delete a remote original.
type Remover interface {
	Remove(ctx context.Context, remote string) error
}

// PhotoExtensions are the remote file types considered photos.
var PhotoExtensions = []string{".jpg", ".jpeg", ".png", ".heic", ".dng"}

// IsPhoto reports whether name has a photo extension.
func IsPhoto(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range PhotoExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Newest returns the most recently modified file. Ties break on path so the
// choice is stable.
func Newest(files []RemoteFile) (RemoteFile, bool) {
	if len(files) == 0 {
		return RemoteFile{}, false
	}
	sorted := append([]RemoteFile(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ModTime.Equal(sorted[j].ModTime) {
			return sorted[i].ModTime.After(sorted[j].ModTime)
		}
		return sorted[i].Path > sorted[j].Path
	})
	return sorted[0], true
}

// New builds the link selected by cfg.DeviceKind.
func New(cfg *config.Config, log logging.Logger) (Link, error) {
	switch cfg.DeviceKind {
	case config.DeviceKindADB, "":
		return NewADB(cfg.ADBPath, log), nil
	case config.DeviceKindDir:
		if cfg.DeviceDir == "" {
			return nil, errors.NewInvalidRequest("device_dir is required for the dir device")
		}
		return NewDir(cfg.DeviceDir), nil
	}
	return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown device_kind %q", cfg.DeviceKind))
}

// RemoteDirs returns the folders to search on the device for cfg.
func RemoteDirs(cfg *config.Config) []string {
	if len(cfg.RemoteDirs) > 0 {
		return cfg.RemoteDirs
	}
	if cfg.DeviceKind == config.DeviceKindDir {
		return []string{"."}
	}
	return config.DefaultRemoteDirs
}
