package graph

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/log"
)

// Launcher runs the graph coordinator as a subprocess of the CLI by
// re-invoking the current binary with the graph subcommand. The
// supervisor owns start and the staged shutdown.
type Launcher struct {
	specPath string
	logger   zerolog.Logger

	cmd  *exec.Cmd
	done chan error
}

// NewLauncher creates a launcher for a saved topology file.
func NewLauncher(specPath string) *Launcher {
	return &Launcher{specPath: specPath, logger: log.WithComponent("graph-launcher")}
}

// Start spawns the coordinator subprocess in its own process group so
// a later group signal reaches every node goroutine host.
func (l *Launcher) Start(extraEnv []string) error {
	if l.cmd != nil {
		return fmt.Errorf("graph already started")
	}

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}

	cmd := exec.Command(self, "graph", "run", "--spec", l.specPath)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn graph coordinator: %w", err)
	}
	l.cmd = cmd
	l.done = make(chan error, 1)
	go func() { l.done <- cmd.Wait() }()

	l.logger.Info().Int("pid", cmd.Process.Pid).Str("spec", filepath.Base(l.specPath)).Msg("graph coordinator spawned")
	return nil
}

// PID returns the coordinator's process id, or 0 before Start.
func (l *Launcher) PID() int {
	if l.cmd == nil || l.cmd.Process == nil {
		return 0
	}
	return l.cmd.Process.Pid
}

// Running reports whether the coordinator process is alive.
func (l *Launcher) Running() bool {
	if l.cmd == nil {
		return false
	}
	select {
	case err := <-l.done:
		// Preserve the exit result for a later Stop call.
		l.done <- err
		return false
	default:
		return true
	}
}

// Stop terminates the coordinator gracefully: SIGTERM first so node
// signal handlers release cameras and serial ports, SIGKILL only after
// the grace period. Killing immediately would leak device handles and
// drift device indices on the next run.
func (l *Launcher) Stop(grace time.Duration) {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}
	if !l.Running() {
		return
	}

	pid := l.cmd.Process.Pid
	l.logger.Info().Int("pid", pid).Msg("stopping graph coordinator")
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-l.done:
		l.done <- nil
		return
	case <-time.After(grace):
	}

	l.logger.Warn().Int("pid", pid).Msg("graph coordinator ignored SIGTERM, killing")
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-l.done:
		l.done <- nil
	case <-time.After(2 * time.Second):
	}
}
