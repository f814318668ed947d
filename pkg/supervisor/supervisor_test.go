package supervisor

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocap/robocap/pkg/config"
)

func newSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return New(cfg)
}

func TestCheckPermissions(t *testing.T) {
	s := newSupervisor(t)
	dir := t.TempDir()

	dev := filepath.Join(dir, "ttyUSB0")
	require.NoError(t, os.WriteFile(dev, nil, 0o600))

	err := s.CheckPermissions([]string{dev})
	require.ErrorIs(t, err, ErrPermissionMissing)
	assert.Contains(t, err.Error(), "chmod 666")

	require.NoError(t, os.Chmod(dev, 0o666))
	assert.NoError(t, s.CheckPermissions([]string{dev}))

	// Group-writable is also acceptable.
	require.NoError(t, os.Chmod(dev, 0o660))
	assert.NoError(t, s.CheckPermissions([]string{dev}))
}

func TestCheckPermissionsMissingDevice(t *testing.T) {
	s := newSupervisor(t)
	err := s.CheckPermissions([]string{filepath.Join(t.TempDir(), "absent")})
	require.ErrorIs(t, err, ErrPermissionMissing)
	assert.Contains(t, err.Error(), "plugged in")
}

func TestCleanStaleSockets(t *testing.T) {
	s := newSupervisor(t)
	dir := t.TempDir()

	stale := filepath.Join(dir, "stale.sock")
	require.NoError(t, os.WriteFile(stale, nil, 0o644))
	absent := filepath.Join(dir, "absent.sock")

	require.NoError(t, s.CleanStaleSockets([]string{stale, absent}))
	assert.NoFileExists(t, stale)
}

func TestCleanStaleSocketsRefusesLiveSocket(t *testing.T) {
	s := newSupervisor(t)
	live := filepath.Join(t.TempDir(), "live.sock")

	ln, err := net.Listen("unix", live)
	require.NoError(t, err)
	defer ln.Close()

	err = s.CleanStaleSockets([]string{live})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
	assert.FileExists(t, live)
}

func TestWaitForSockets(t *testing.T) {
	s := newSupervisor(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.sock")
	b := filepath.Join(dir, "b.sock")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(a, nil, 0o644)
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(b, nil, 0o644)
	}()

	start := time.Now()
	require.NoError(t, s.WaitForSockets([]string{a, b}, 5*time.Second))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWaitForSocketsTimeout(t *testing.T) {
	s := newSupervisor(t)
	missing := filepath.Join(t.TempDir(), "never.sock")

	err := s.WaitForSockets([]string{missing}, 300*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never.sock")
}

func TestDevicePathsFiltersNonFiles(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.ArmLeaderPort = "/dev/ttyUSB0"
	cfg.ArmFollowerPort = "can0" // CAN id, not a device file

	s := New(cfg)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, s.DevicePaths())
}
