package device

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/custody/internal/errors"
	"github.com/hpungsan/custody/internal/logging"
)

// keyVolumeUp fires the shutter in the stock camera apps.
const keyVolumeUp = "24"

// runFunc executes one adb invocation and returns its combined output.
type runFunc func(ctx context.Context, bin string, args ...string) ([]byte, error)

func execRun(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).CombinedOutput()
}

// ADB drives an Android phone through the adb binary.
type ADB struct {
	bin    string
	log    logging.Logger
	run    runFunc
	settle time.Duration

	mu     sync.Mutex
	serial string
}

// NewADB returns a link using bin (or "adb" from PATH).
func NewADB(bin string, log logging.Logger) *ADB {
	if bin == "" {
		bin = "adb"
	}
	if log == nil {
		log = logging.Discard()
	}
	return &ADB{bin: bin, log: log, run: execRun, settle: 3 * time.Second}
}

func (a *ADB) currentSerial() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.serial == "" {
		return "", errors.NewDeviceDisconnected("no device connected")
	}
	return a.serial, nil
}

// Connect picks the first authorized device listed by `adb devices`.
func (a *ADB) Connect(ctx context.Context) (Handle, error) {
	out, err := a.run(ctx, a.bin, "devices")
	if err != nil {
		if stderrors.Is(err, exec.ErrNotFound) {
			return Handle{}, errors.NewDeviceNotFound(fmt.Sprintf("adb binary %q not found", a.bin))
		}
		return Handle{}, classify(ctx, "connect", out, err)
	}

	serial, state := parseDevices(out)
	switch state {
	case "device":
	case "unauthorized":
		return Handle{}, errors.NewPermissionDenied(fmt.Sprintf("device %s has not authorized USB debugging", serial))
	case "offline":
		return Handle{}, errors.NewDeviceDisconnected(fmt.Sprintf("device %s is offline", serial))
	default:
		return Handle{}, errors.NewDeviceNotFound("no Android device attached")
	}

	h := Handle{Serial: serial}
	h.Manufacturer = a.getprop(ctx, serial, "ro.product.manufacturer")
	h.Model = a.getprop(ctx, serial, "ro.product.model")
	h.Fingerprint = fingerprint("adb", h.Manufacturer, h.Model, serial)

	a.mu.Lock()
	a.serial = serial
	a.mu.Unlock()
	a.log.Info(ctx, "device connected", "serial", serial, "model", h.Model)
	return h, nil
}

// parseDevices returns the first device line of `adb devices`, preferring
// authorized devices.
func parseDevices(out []byte) (serial, state string) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[1] == "device" {
			return fields[0], fields[1]
		}
		if serial == "" {
			serial, state = fields[0], fields[1]
		}
	}
	return serial, state
}

func (a *ADB) getprop(ctx context.Context, serial, prop string) string {
	out, err := a.run(ctx, a.bin, "-s", serial, "shell", "getprop", prop)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func fingerprint(kind string, parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return kind + ":" + strings.Join(nonEmpty, ":")
}

// Disconnect forgets the current device. adb itself keeps running.
func (a *ADB) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.serial = ""
	a.mu.Unlock()
	return nil
}

// Status asks adb for the device state.
func (a *ADB) Status(ctx context.Context) Status {
	serial, err := a.currentSerial()
	if err != nil {
		return Disconnected
	}
	out, err := a.run(ctx, a.bin, "-s", serial, "get-state")
	if err != nil || strings.TrimSpace(string(out)) != "device" {
		return Disconnected
	}
	return Connected
}

// ListFiles stats photos in dirs. Missing folders are skipped.
func (a *ADB) ListFiles(ctx context.Context, dirs []string) ([]RemoteFile, error) {
	serial, err := a.currentSerial()
	if err != nil {
		return nil, err
	}
	var files []RemoteFile
	for _, dir := range dirs {
		// %Y mtime, %s size, %n name. The glob is expanded by the device shell.
		out, err := a.run(ctx, a.bin, "-s", serial, "shell", "stat", "-c", "'%Y %s %n'", shellQuote(dir)+"/*")
		if err != nil {
			if bytes.Contains(out, []byte("No such file")) {
				continue
			}
			return nil, classify(ctx, "list", out, err)
		}
		files = append(files, parseStat(out)...)
	}
	return files, nil
}

func parseStat(out []byte) []RemoteFile {
	var files []RemoteFile
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.SplitN(strings.TrimSpace(sc.Text()), " ", 3)
		if len(fields) != 3 || !IsPhoto(fields[2]) {
			continue
		}
		mtime, err1 := strconv.ParseInt(fields[0], 10, 64)
		size, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		files = append(files, RemoteFile{Path: fields[2], Size: size, ModTime: time.Unix(mtime, 0).UTC()})
	}
	return files
}

// PullFile runs `adb pull` bounded by timeout.
func (a *ADB) PullFile(ctx context.Context, remote, local string, timeout time.Duration) (int64, error) {
	serial, err := a.currentSerial()
	if err != nil {
		return 0, err
	}
	if _, err := os.Lstat(local); err == nil {
		return 0, errors.NewAlreadyExists("file", local)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := a.run(ctx, a.bin, "-s", serial, "pull", remote, local)
	if err != nil {
		return 0, classify(ctx, "pull", out, err)
	}
	info, err := os.Stat(local)
	if err != nil {
		return 0, errors.NewInternal(fmt.Errorf("pull reported success but %s is missing: %w", local, err))
	}
	return info.Size(), nil
}

// Trigger presses the shutter and waits for the camera to write the photo.
func (a *ADB) Trigger(ctx context.Context) error {
	serial, err := a.currentSerial()
	if err != nil {
		return err
	}
	if out, err := a.run(ctx, a.bin, "-s", serial, "shell", "input", "keyevent", keyVolumeUp); err != nil {
		return classify(ctx, "trigger", out, err)
	}
	select {
	case <-time.After(a.settle):
		return nil
	case <-ctx.Done():
		return errors.NewCancelled("trigger")
	}
}

// Remove deletes the remote original.
func (a *ADB) Remove(ctx context.Context, remote string) error {
	serial, err := a.currentSerial()
	if err != nil {
		return err
	}
	if out, err := a.run(ctx, a.bin, "-s", serial, "shell", "rm", "-f", shellQuote(remote)); err != nil {
		return classify(ctx, "remove", out, err)
	}
	return nil
}

// classify maps adb failures onto device error codes.
func classify(ctx context.Context, op string, out []byte, err error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewDeviceTimeout(op)
	}
	if ctx.Err() != nil {
		return errors.NewCancelled(op)
	}
	msg := strings.TrimSpace(string(out))
	switch {
	case strings.Contains(msg, "does not exist"), strings.Contains(msg, "No such file"):
		return errors.NewRemoteNotFound(msg)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "Permission denied"):
		return errors.NewPermissionDenied(msg)
	case strings.Contains(msg, "no devices"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "offline"), strings.Contains(msg, "device still connecting"),
		strings.Contains(msg, "protocol fault"), strings.Contains(msg, "closed"):
		return errors.NewDeviceDisconnected(msg)
	}
	if msg == "" {
		msg = err.Error()
	}
	return errors.NewInternal(fmt.Errorf("adb %s: %s", op, msg))
}

// shellQuote quotes s for the device shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(path.Clean(s), "'", `'\''`) + "'"
}
