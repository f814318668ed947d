package memguard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTripsWithinOneGuardPeriod(t *testing.T) {
	g := New(1.0, 10)
	rss := uint64(0)
	g.sample = func() (uint64, error) { return rss, nil }

	// Below the limit: never trips.
	for tick := 0; tick < 100; tick++ {
		assert.False(t, g.Check(tick))
	}

	// RSS crosses the limit at tick 101; the guard must trip no later
	// than the next sampled tick (one guard period).
	rss = 2 << 30
	tripTick := -1
	for tick := 101; tick < 121; tick++ {
		if g.Check(tick) {
			tripTick = tick
			break
		}
	}
	assert.NotEqual(t, -1, tripTick)
	assert.LessOrEqual(t, tripTick-101, 10)
}

func TestTrippedIsSticky(t *testing.T) {
	g := New(1.0, 1)
	g.sample = func() (uint64, error) { return 2 << 30, nil }

	assert.True(t, g.Check(0))

	// Even if RSS later drops, the session stays stopped.
	g.sample = func() (uint64, error) { return 0, nil }
	assert.True(t, g.Check(1))
	assert.True(t, g.Tripped())
}

func TestSampleErrorNeverTrips(t *testing.T) {
	g := New(1.0, 1)
	g.sample = func() (uint64, error) { return 0, fmt.Errorf("procfs unavailable") }

	for tick := 0; tick < 10; tick++ {
		assert.False(t, g.Check(tick))
	}
}

func TestOffCadenceTicksDoNotSample(t *testing.T) {
	g := New(1.0, 100)
	samples := 0
	g.sample = func() (uint64, error) { samples++; return 0, nil }

	for tick := 0; tick < 250; tick++ {
		g.Check(tick)
	}
	assert.Equal(t, 3, samples) // ticks 0, 100, 200
}
