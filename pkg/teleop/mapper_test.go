package teleop

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocap/robocap/pkg/types"
)

func newTestMapper(t *testing.T, followerBaseline []int32) *Mapper {
	t.Helper()
	signs := make([]float64, len(followerBaseline))
	for i := range signs {
		signs[i] = 1
	}
	m, err := NewMapper(DefaultConfig(), types.UnitRadians, types.UnitMilliDegrees, signs, followerBaseline)
	require.NoError(t, err)
	return m
}

func TestFirstSampleEstablishesBaseline(t *testing.T) {
	follower := []int32{5370, -2113, 3941, 3046, 18644, 24400}
	m := newTestMapper(t, follower)

	assert.Equal(t, types.TeleopAwaitingFollower, m.State())
	_, _, ok := m.Baseline()
	assert.False(t, ok)

	leader := []float64{0.1, -0.2, 0.3, 0, 0.5, -0.6}
	target, err := m.Map(leader, follower)
	require.NoError(t, err)

	// First sample: delta is zero, target equals the follower baseline.
	assert.Equal(t, follower, target)
	assert.Equal(t, types.TeleopBaselineEstablished, m.State())
	_, _, ok = m.Baseline()
	assert.True(t, ok)
}

func TestRelativeMappingLaw(t *testing.T) {
	follower := []int32{1000, 2000, 3000}
	signs := []float64{1, -1, 1}
	m, err := NewMapper(DefaultConfig(), types.UnitRadians, types.UnitMilliDegrees, signs, follower)
	require.NoError(t, err)

	first := []float64{0.5, 0.5, 0.5}
	_, err = m.Map(first, follower)
	require.NoError(t, err)

	scale := 1000 * 180 / math.Pi
	next := []float64{0.6, 0.4, 0.5}
	target, err := m.Map(next, follower)
	require.NoError(t, err)

	// target = F + sign ⊙ (L − L1) · scale, element-wise.
	for i := range target {
		want := float64(follower[i]) + signs[i]*(next[i]-first[i])*scale
		assert.InDelta(t, want, float64(target[i]), 1.0, "joint %d", i)
	}
}

func TestDeviationWarningStillEmits(t *testing.T) {
	follower := []int32{0, 0, 0}
	m := newTestMapper(t, follower)

	_, err := m.Map([]float64{0, 0, 0}, follower)
	require.NoError(t, err)

	// 40 degrees of leader motion: above warning, below emergency.
	delta := 40 * math.Pi / 180
	target, err := m.Map([]float64{delta, 0, 0}, follower)
	require.NoError(t, err)
	assert.InDelta(t, 40_000, float64(target[0]), 1.0)
	assert.Equal(t, types.TeleopBaselineEstablished, m.State())
}

func TestEmergencyStopIsTerminal(t *testing.T) {
	follower := []int32{0, 0, 0, 0}
	m := newTestMapper(t, follower)

	_, err := m.Map([]float64{0, 0, 0, 0}, follower)
	require.NoError(t, err)

	// Leader jumps 80 degrees on joint 3 while the follower is frozen.
	jump := 80 * math.Pi / 180
	_, err = m.Map([]float64{0, 0, 0, jump}, follower)
	assert.ErrorIs(t, err, ErrEmergencyStop)
	assert.Equal(t, types.TeleopEmergency, m.State())

	// Every subsequent command is suppressed, including benign ones.
	_, err = m.Map([]float64{0, 0, 0, 0}, follower)
	assert.ErrorIs(t, err, ErrEmergencyStop)
}

func TestMapperRejectsWrongJointCount(t *testing.T) {
	m := newTestMapper(t, []int32{0, 0})
	_, err := m.Map([]float64{0, 0, 0}, []int32{0, 0})
	assert.Error(t, err)
}

func TestNewMapperRejectsBadThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmergencyThreshold = cfg.WarningThreshold
	_, err := NewMapper(cfg, types.UnitRadians, types.UnitMilliDegrees, []float64{1}, []int32{0})
	assert.Error(t, err)
}

func TestNewMapperRejectsNonAngularUnits(t *testing.T) {
	_, err := NewMapper(DefaultConfig(), types.UnitRange0To100, types.UnitMilliDegrees, []float64{1}, []int32{0})
	assert.Error(t, err)
}
