package device_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/custody/internal/config"
	"github.com/hpungsan/custody/internal/device"
	"github.com/hpungsan/custody/internal/device/devicetest"
	"github.com/hpungsan/custody/internal/errors"
)

func TestNewest(t *testing.T) {
	_, ok := device.Newest(nil)
	require.False(t, ok)

	t1 := time.Unix(100, 0)
	files := []device.RemoteFile{
		{Path: "/dcim/a.jpg", ModTime: t1},
		{Path: "/dcim/c.jpg", ModTime: t1.Add(time.Second)},
		{Path: "/dcim/b.jpg", ModTime: t1.Add(time.Second)},
	}
	got, ok := device.Newest(files)
	require.True(t, ok)
	require.Equal(t, "/dcim/c.jpg", got.Path)
	require.Equal(t, "/dcim/a.jpg", files[0].Path, "input must not be reordered")
}

func TestIsPhoto(t *testing.T) {
	require.True(t, device.IsPhoto("IMG_001.JPG"))
	require.True(t, device.IsPhoto("x.heic"))
	require.False(t, device.IsPhoto("notes.txt"))
	require.False(t, device.IsPhoto("jpg"))
}

func TestNew_SelectsImplementation(t *testing.T) {
	cfg := config.DefaultConfig()
	link, err := device.New(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &device.ADB{}, link)

	cfg.DeviceKind = config.DeviceKindDir
	_, err = device.New(cfg, nil)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	cfg.DeviceDir = t.TempDir()
	link, err = device.New(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &device.Dir{}, link)
	require.Equal(t, []string{"."}, device.RemoteDirs(cfg))

	cfg.DeviceKind = "bluetooth"
	_, err = device.New(cfg, nil)
	require.Error(t, err)
}

func TestConnectWithRetry_RecoversFromTransientFailure(t *testing.T) {
	link := devicetest.New("R1")
	link.FailConnect(errors.NewDeviceDisconnected("usb reset"))

	h, err := device.ConnectWithRetry(context.Background(), link, 1, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "test:R1", h.Fingerprint)
	require.Equal(t, 2, link.Connects)
}

func TestConnectWithRetry_IsBounded(t *testing.T) {
	link := devicetest.New("R1")
	link.FailConnect(
		errors.NewDeviceNotFound("none"),
		errors.NewDeviceNotFound("none"),
		errors.NewDeviceNotFound("none"),
	)

	_, err := device.ConnectWithRetry(context.Background(), link, 1, time.Millisecond)
	require.True(t, errors.Is(err, errors.ErrDeviceNotFound), "got %v", err)
	require.Equal(t, 2, link.Connects)
}

func TestConnectWithRetry_PermissionDeniedIsNotRetried(t *testing.T) {
	link := devicetest.New("R1")
	link.FailConnect(errors.NewPermissionDenied("unauthorized"))

	_, err := device.ConnectWithRetry(context.Background(), link, 3, time.Millisecond)
	require.True(t, errors.Is(err, errors.ErrPermissionDenied))
	require.Equal(t, 1, link.Connects)
}

func TestDir_ConnectListPull(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	camera := filepath.Join(root, "Camera")
	require.NoError(t, os.MkdirAll(camera, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(camera, "IMG_1.jpg"), []byte("one"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(camera, "notes.txt"), []byte("x"), 0600))

	d := device.NewDir(root)
	require.Equal(t, device.Disconnected, d.Status(ctx))

	h, err := d.Connect(ctx)
	require.NoError(t, err)
	require.Contains(t, h.Fingerprint, "dir:")
	require.Equal(t, device.Connected, d.Status(ctx))

	files, err := d.ListFiles(ctx, []string{"Camera", "Missing"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "Camera/IMG_1.jpg", files[0].Path)

	local := filepath.Join(t.TempDir(), "out.jpg")
	n, err := d.PullFile(ctx, files[0].Path, local, time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	// never overwrites
	_, err = d.PullFile(ctx, files[0].Path, local, time.Second)
	require.True(t, errors.Is(err, errors.ErrAlreadyExists))

	_, err = d.PullFile(ctx, "Camera/none.jpg", filepath.Join(t.TempDir(), "x.jpg"), time.Second)
	require.True(t, errors.Is(err, errors.ErrRemoteNotFound))

	_, err = d.PullFile(ctx, "../outside.jpg", filepath.Join(t.TempDir(), "x.jpg"), time.Second)
	require.True(t, errors.Is(err, errors.ErrRemoteNotFound))

	require.NoError(t, d.Remove(ctx, files[0].Path))
	_, err = os.Stat(filepath.Join(camera, "IMG_1.jpg"))
	require.True(t, os.IsNotExist(err))
}

func TestDir_NotMounted(t *testing.T) {
	d := device.NewDir(filepath.Join(t.TempDir(), "unmounted"))
	_, err := d.Connect(context.Background())
	require.True(t, errors.Is(err, errors.ErrDeviceNotFound))

	_, err = d.ListFiles(context.Background(), []string{"."})
	require.True(t, errors.Is(err, errors.ErrDeviceDisconnected))
}

func TestDir_StatusTracksMount(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "mnt")
	require.NoError(t, os.MkdirAll(root, 0700))

	d := device.NewDir(root)
	_, err := d.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(root))
	require.Equal(t, device.Disconnected, d.Status(ctx))
}
