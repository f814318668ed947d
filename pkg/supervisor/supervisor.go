package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/robocap/robocap/pkg/config"
	"github.com/robocap/robocap/pkg/graph"
	"github.com/robocap/robocap/pkg/log"
)

// Exit codes of the CLI process.
const (
	ExitOK          = 0
	ExitConfig      = 1
	ExitDevice      = 2
	ExitOffload     = 3
	ExitInterrupted = 130
)

// ErrPermissionMissing is returned when a device file lacks the
// operator-writable mode; the message carries the fix command.
var ErrPermissionMissing = errors.New("device permission missing")

// Timings of the staged startup and shutdown.
const (
	SocketWaitTimeout = 30 * time.Second
	DefaultSettle     = 5 * time.Second
	// graphStopGrace is the post-STOP wait for node device release.
	graphStopGrace = 3 * time.Second
	// coordKillGrace is the coordinator's own SIGTERM→SIGKILL grace on
	// final teardown.
	coordKillGrace   = 5 * time.Second
	killTermGrace    = 3 * time.Second
	postStopKillWait = 2 * time.Second
)

// Supervisor owns startup ordering, the device permission gate, the
// IPC readiness gate, signal handling, and the multi-phase shutdown.
// One value is constructed in main and passed by reference to every
// long-lived goroutine; there is no module-level mutable state.
type Supervisor struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Settle is the post-graph-start delay letting adapters finish
	// device detection.
	Settle time.Duration
}

// New creates a supervisor for the session configuration.
func New(cfg *config.Config) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: log.WithComponent("supervisor"),
		Settle: DefaultSettle,
	}
}

// DevicePaths returns the device files the permission gate covers:
// serial ports only, since CAN interfaces are not filesystem entries.
func (s *Supervisor) DevicePaths() []string {
	var out []string
	for _, p := range []string{s.cfg.ArmLeaderPort, s.cfg.ArmFollowerPort} {
		if strings.HasPrefix(p, "/dev/") {
			out = append(out, p)
		}
	}
	return out
}

// CheckPermissions enforces the operator-writable mode on each device
// file. The failure message contains the exact fix command: a fast,
// instructional failure beats a cryptic adapter error minutes later.
func (s *Supervisor) CheckPermissions(paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s does not exist; check the arm is plugged in and the port is correct", ErrPermissionMissing, p)
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		mode := info.Mode().Perm()
		if mode&0o006 != 0o006 && mode&0o060 != 0o060 {
			return fmt.Errorf("%w: %s has mode %04o; run: sudo chmod 666 %s", ErrPermissionMissing, p, mode, p)
		}
	}
	return nil
}

// CleanStaleSockets removes leftover IPC socket files. A socket that
// still accepts connections belongs to a live bridge and is an error —
// a second session must not clobber it.
func (s *Supervisor) CleanStaleSockets(paths []string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		conn, dialErr := (&net.Dialer{}).DialContext(ctx, "unix", p)
		cancel()
		if dialErr == nil {
			conn.Close()
			return fmt.Errorf("socket %s is in use: another session is running", p)
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("remove stale socket %s: %w", p, err)
		}
		s.logger.Info().Str("path", p).Msg("stale socket removed")
	}
	return nil
}

// KillLingeringProcesses terminates leftover adapter/coordinator
// processes by name match: SIGTERM first so their handlers release
// devices, SIGKILL for the survivors after the grace.
func (s *Supervisor) KillLingeringProcesses(namePattern string) {
	victims := s.findByName(namePattern)
	if len(victims) == 0 {
		return
	}

	for _, p := range victims {
		s.logger.Warn().Int32("pid", p.Pid).Str("pattern", namePattern).Msg("terminating lingering process")
		_ = p.SendSignal(syscall.SIGTERM)
	}

	deadline := time.Now().Add(killTermGrace)
	for time.Now().Before(deadline) {
		if len(s.findByName(namePattern)) == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, p := range s.findByName(namePattern) {
		s.logger.Warn().Int32("pid", p.Pid).Msg("killing unresponsive process")
		_ = p.SendSignal(syscall.SIGKILL)
	}
}

func (s *Supervisor) findByName(pattern string) []*process.Process {
	self := int32(os.Getpid())
	procs, err := process.Processes()
	if err != nil {
		s.logger.Warn().Err(err).Msg("process scan failed")
		return nil
	}
	var out []*process.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, pattern) {
			out = append(out, p)
		}
	}
	return out
}

// WaitForSockets blocks until every path exists as a filesystem entry
// or the timeout elapses. fsnotify wakes the wait early; a poll
// backstops events lost between Stat and watch registration.
func (s *Supervisor) WaitForSockets(paths []string, timeout time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		dirs := map[string]bool{}
		for _, p := range paths {
			dir := filepath.Dir(p)
			if !dirs[dir] {
				dirs[dir] = true
				_ = watcher.Add(dir)
			}
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		missing := ""
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				missing = p
				break
			}
		}
		if missing == "" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ipc socket %s absent after %s: dataflow graph failed to start", missing, timeout)
		}

		if watcher != nil {
			select {
			case <-watcher.Events:
			case <-watcher.Errors:
			case <-time.After(200 * time.Millisecond):
			}
		} else {
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// Startup runs the gate sequence before recording: permissions, stale
// state cleanup, graph launch, socket readiness, settle, permission
// re-check.
func (s *Supervisor) Startup(launcher *graph.Launcher, socketPaths []string, extraEnv []string) error {
	devices := s.DevicePaths()
	if err := s.CheckPermissions(devices); err != nil {
		return err
	}

	if err := s.CleanStaleSockets(socketPaths); err != nil {
		return err
	}
	s.KillLingeringProcesses("robocap graph run")

	if err := launcher.Start(extraEnv); err != nil {
		return err
	}

	if err := s.WaitForSockets(socketPaths, SocketWaitTimeout); err != nil {
		launcher.Stop(graphStopGrace)
		return err
	}

	// Adapters probe their devices asynchronously after the sockets
	// appear; give them the settle window before first use.
	s.logger.Info().Dur("settle", s.Settle).Msg("graph ready, settling")
	time.Sleep(s.Settle)

	if err := s.CheckPermissions(devices); err != nil {
		launcher.Stop(graphStopGrace)
		return err
	}
	return nil
}

// Shutdown runs the multi-phase stop: graph STOP with the device
// release wait, a name-matched kill pass for stragglers, then socket
// cleanup. SIGKILL is the last resort — it bypasses the adapter signal
// handlers that release cameras and serial ports, and device indices
// drift on the next run when handles leak.
func (s *Supervisor) Shutdown(launcher *graph.Launcher, socketPaths []string) {
	launcher.Stop(coordKillGrace)
	time.Sleep(postStopKillWait)
	s.KillLingeringProcesses("robocap graph run")

	for _, p := range socketPaths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", p).Msg("socket cleanup failed")
		}
	}
	s.logger.Info().Msg("shutdown complete")
}

// NotifyEscalatingCancel installs the SIGINT/SIGTERM handler. The
// first signal cancels the returned context so loops finish their
// current step and preserve queued work; the second exits immediately
// with the interrupt code.
func (s *Supervisor) NotifyEscalatingCancel(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Warn().Str("signal", sig.String()).Msg("cancellation requested, finishing queued work (signal again to force quit)")
			cancel()
		case <-ctx.Done():
			return
		}
		sig := <-sigCh
		s.logger.Error().Str("signal", sig.String()).Msg("forced exit")
		os.Exit(ExitInterrupted)
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
