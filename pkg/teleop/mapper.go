package teleop

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/types"
)

var (
	// ErrBaselineNotEstablished is returned while waiting for the first
	// leader sample. Benign; expected once per session.
	ErrBaselineNotEstablished = errors.New("mapping baseline not yet established")

	// ErrEmergencyStop is returned for every command after the mapper
	// entered the emergency state. Clearing it requires a restart.
	ErrEmergencyStop = errors.New("emergency stop: command suppressed")
)

// Config holds the mapper thresholds. Deviations are measured in the
// follower's native milli-degrees.
type Config struct {
	// WarningThreshold logs a rate-limited warning; the command is
	// still emitted. Default 30 degrees.
	WarningThreshold float64
	// EmergencyThreshold enters the terminal emergency state. Default
	// 60 degrees.
	EmergencyThreshold float64
	// WarnInterval rate-limits deviation warnings.
	WarnInterval time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:   30_000,
		EmergencyThreshold: 60_000,
		WarnInterval:       500 * time.Millisecond,
	}
}

// Mapper converts leader joint readings into follower joint commands.
//
// The leader and follower are independently calibrated; their physical
// zero poses need not match. The mapping therefore captures only
// relative motion: a baseline pose pair is recorded at the first leader
// sample and every later target is the follower baseline plus the
// signed, unit-scaled leader delta.
type Mapper struct {
	cfg    Config
	logger zerolog.Logger

	signs            []float64
	scale            float64
	followerBaseline []int32
	leaderBaseline   []float64 // signed leader units

	state       types.TeleopState
	established time.Time
	lastWarn    time.Time

	now func() time.Time
}

// NewMapper creates a mapper for one leader/follower bus pair. The
// follower baseline is the position read once at node start; signs is
// the per-joint direction table of the leader bus.
func NewMapper(cfg Config, leaderUnit, followerUnit types.Unit, signs []float64, followerBaseline []int32) (*Mapper, error) {
	scale, err := types.UnitScale(leaderUnit, followerUnit)
	if err != nil {
		return nil, fmt.Errorf("leader/follower unit mapping: %w", err)
	}
	if len(signs) != len(followerBaseline) {
		return nil, fmt.Errorf("direction table has %d joints, follower baseline has %d", len(signs), len(followerBaseline))
	}
	if cfg.WarningThreshold <= 0 || cfg.EmergencyThreshold <= cfg.WarningThreshold {
		return nil, fmt.Errorf("thresholds must satisfy 0 < warning < emergency, got %v/%v",
			cfg.WarningThreshold, cfg.EmergencyThreshold)
	}
	return &Mapper{
		cfg:              cfg,
		logger:           log.WithComponent("teleop"),
		signs:            signs,
		scale:            scale,
		followerBaseline: append([]int32(nil), followerBaseline...),
		state:            types.TeleopAwaitingFollower,
		now:              time.Now,
	}, nil
}

// State returns the mapper's lifecycle state.
func (m *Mapper) State() types.TeleopState { return m.state }

// Baseline returns the pose baseline once established; ok is false
// before the first leader sample.
func (m *Mapper) Baseline() (leader []float64, follower []int32, ok bool) {
	if m.leaderBaseline == nil {
		return nil, nil, false
	}
	return m.leaderBaseline, m.followerBaseline, true
}

// Map converts one leader sample into a follower target vector, using
// followerActual (the most recent follower position reading) for the
// deviation check. The first call establishes the baseline.
func (m *Mapper) Map(leader []float64, followerActual []int32) ([]int32, error) {
	if m.state == types.TeleopEmergency {
		return nil, ErrEmergencyStop
	}
	if len(leader) != len(m.signs) {
		return nil, fmt.Errorf("leader sample has %d joints, expected %d", len(leader), len(m.signs))
	}

	// Direction sign is applied before baseline subtraction so the
	// baseline itself lives in the follower's reference frame.
	signed := make([]float64, len(leader))
	for i, v := range leader {
		signed[i] = v * m.signs[i]
	}

	if m.leaderBaseline == nil {
		m.leaderBaseline = signed
		m.established = m.now()
		m.state = types.TeleopBaselineEstablished
		m.logger.Info().
			Floats64("leader_baseline", signed).
			Ints32("follower_baseline", m.followerBaseline).
			Msg("mapping baseline established")
	}

	target := make([]int32, len(signed))
	for i := range signed {
		delta := (signed[i] - m.leaderBaseline[i]) * m.scale
		target[i] = m.followerBaseline[i] + int32(math.Round(delta))
	}

	maxDev, maxJoint := m.deviation(target, followerActual)
	if maxDev > m.cfg.EmergencyThreshold {
		m.state = types.TeleopEmergency
		m.logger.Error().
			Int("joint", maxJoint).
			Float64("deviation_millideg", maxDev).
			Int32("target", target[maxJoint]).
			Int32("actual", followerActual[maxJoint]).
			Msg("emergency stop: deviation exceeds threshold, restart required")
		return nil, ErrEmergencyStop
	}
	if maxDev > m.cfg.WarningThreshold {
		if now := m.now(); now.Sub(m.lastWarn) >= m.cfg.WarnInterval {
			m.lastWarn = now
			m.logger.Warn().
				Int("joint", maxJoint).
				Float64("deviation_millideg", maxDev).
				Msg("large leader/follower deviation")
		}
	}

	return target, nil
}

func (m *Mapper) deviation(target, actual []int32) (maxDev float64, maxJoint int) {
	n := len(target)
	if len(actual) < n {
		n = len(actual)
	}
	for i := 0; i < n; i++ {
		dev := math.Abs(float64(target[i]) - float64(actual[i]))
		if dev > maxDev {
			maxDev = dev
			maxJoint = i
		}
	}
	return maxDev, maxJoint
}
