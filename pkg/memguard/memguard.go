package memguard

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/metrics"
)

// DefaultCheckInterval is the guard cadence in record ticks; at 30 fps
// this samples roughly every three seconds.
const DefaultCheckInterval = 100

// Guard samples process RSS and trips once the configured limit is
// crossed. The record loop polls Tripped before each append and exits
// the session as if the operator had pressed exit — preserving queued
// episodes beats an OS OOM kill.
type Guard struct {
	limitBytes    uint64
	checkInterval int
	logger        zerolog.Logger

	sample  func() (uint64, error)
	tripped atomic.Bool
}

// New creates a guard with the limit in GiB.
func New(limitGB float64, checkInterval int) *Guard {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Guard{
		limitBytes:    uint64(limitGB * float64(1<<30)),
		checkInterval: checkInterval,
		logger:        log.WithComponent("memguard"),
		sample:        processRSS,
	}
}

// Check samples RSS when the tick lands on the guard cadence. Returns
// true when the guard is tripped (sticky).
func (g *Guard) Check(tick int) bool {
	if g.tripped.Load() {
		return true
	}
	if g.checkInterval > 0 && tick%g.checkInterval != 0 {
		return false
	}

	rss, err := g.sample()
	if err != nil {
		// A failed sample never stops a session.
		g.logger.Debug().Err(err).Msg("rss sample failed")
		return false
	}
	metrics.ProcessRSSBytes.Set(float64(rss))

	if rss >= g.limitBytes {
		g.tripped.Store(true)
		g.logger.Warn().
			Uint64("rss_bytes", rss).
			Uint64("limit_bytes", g.limitBytes).
			Msg("memory limit reached, auto-stopping recording")
		return true
	}
	return false
}

// Tripped reports whether the limit was ever crossed.
func (g *Guard) Tripped() bool {
	return g.tripped.Load()
}

func processRSS() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mi, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}
