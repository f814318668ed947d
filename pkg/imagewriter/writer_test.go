package imagewriter

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocap/robocap/pkg/types"
)

func frame(w, h int) types.Image {
	return types.Image{Width: w, Height: h, Pix: make([]byte, w*h*3)}
}

func TestWriteAndWait(t *testing.T) {
	dir := t.TempDir()
	p := NewPool(2)
	defer p.Close()

	for i := 0; i < 10; i++ {
		p.Enqueue(0, frame(8, 8), filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i)))
	}

	dropped, err := p.WaitEpisode(0, 10*time.Second)
	require.NoError(t, err)
	assert.Zero(t, dropped)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestInvalidFrameIsDroppedNotStuck(t *testing.T) {
	dir := t.TempDir()
	p := NewPool(1)
	defer p.Close()

	bad := types.Image{Width: 8, Height: 8, Pix: make([]byte, 5)} // wrong byte count
	p.Enqueue(3, bad, filepath.Join(dir, "bad.png"))
	p.Enqueue(3, frame(4, 4), filepath.Join(dir, "good.png"))

	dropped, err := p.WaitEpisode(3, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	_, statErr := os.Stat(filepath.Join(dir, "good.png"))
	assert.NoError(t, statErr)
}

func TestWaitEpisodeTimesOut(t *testing.T) {
	// A long queue against a microsecond deadline: the single worker
	// cannot drain 500 PNG encodes before the first deadline check.
	p := NewPool(1)
	defer p.Close()

	dir := t.TempDir()
	for i := 0; i < 500; i++ {
		p.Enqueue(1, frame(64, 64), filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i)))
	}
	_, err := p.WaitEpisode(1, time.Microsecond)
	assert.ErrorIs(t, err, ErrFlushTimeout)
}

func TestWaitEpisodeNoFramesReturnsImmediately(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	start := time.Now()
	dropped, err := p.WaitEpisode(42, 5*time.Second)
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Less(t, time.Since(start), time.Second)
}

func TestForgetEpisodeClearsCounters(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	dir := t.TempDir()
	p.Enqueue(5, frame(4, 4), filepath.Join(dir, "a.png"))
	_, err := p.WaitEpisode(5, 10*time.Second)
	require.NoError(t, err)

	p.ForgetEpisode(5)
	dropped, err := p.WaitEpisode(5, time.Second)
	require.NoError(t, err)
	assert.Zero(t, dropped)
}

func TestCloseDrainsQueue(t *testing.T) {
	dir := t.TempDir()
	p := NewPool(2)

	for i := 0; i < 20; i++ {
		p.Enqueue(0, frame(8, 8), filepath.Join(dir, fmt.Sprintf("frame_%06d.png", i)))
	}
	p.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}
