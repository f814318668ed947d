package saver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocap/robocap/pkg/dataset"
	"github.com/robocap/robocap/pkg/episode"
	"github.com/robocap/robocap/pkg/imagewriter"
	"github.com/robocap/robocap/pkg/types"
)

// stubEncoder records calls and writes a placeholder video file.
type stubEncoder struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (s *stubEncoder) EncodeFrames(imgDir, outPath string, fps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, outPath)
	if s.fail {
		return fmt.Errorf("encoder broken")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

func (s *stubEncoder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	layout dataset.Layout
	meta   *dataset.Meta
	images *imagewriter.Pool
	enc    *stubEncoder
	saver  *Saver
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	layout := dataset.NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())
	f := &fixture{
		layout: layout,
		meta:   dataset.NewMeta(layout),
		images: imagewriter.NewPool(2),
		enc:    &stubEncoder{},
	}
	f.saver = New(cfg, layout, f.meta, f.images, f.enc)
	t.Cleanup(func() { f.images.Close() })
	return f
}

// record builds an episode and pushes its frames through the image
// pool, the way the record loop does.
func (f *fixture) record(t *testing.T, index, frames int) *episode.Episode {
	t.Helper()
	b := episode.NewBuffer(index, "pick", 30)
	for i := 0; i < frames; i++ {
		im := types.Image{Width: 4, Height: 4, Pix: make([]byte, 48)}
		fi, err := b.Append([]float64{float64(i)}, []float64{float64(i)}, map[string]types.Image{"top": im})
		require.NoError(t, err)
		f.images.Enqueue(index, im, f.layout.FramePath(index, "top", fi))
	}
	return b.Swap(index + 1)
}

func TestQueueSaveRejectsEmptyEpisode(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	defer f.saver.Stop(true)

	b := episode.NewBuffer(0, "pick", 30)
	_, err := f.saver.QueueSave(b.Swap(1), true)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSaveProducesEpisodeFiles(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	ep := f.record(t, 0, 5)
	queued, err := f.saver.QueueSave(ep.DeepCopy(), false)
	require.NoError(t, err)
	assert.Equal(t, 0, queued.EpisodeIndex)

	f.saver.Stop(true)

	// Columnar file, frames, and video all exist.
	_, err = os.Stat(f.layout.EpisodeDataPath(0))
	assert.NoError(t, err)
	_, err = os.Stat(f.layout.FramePath(0, "top", 4))
	assert.NoError(t, err)
	_, err = os.Stat(f.layout.VideoPath(0, "top"))
	assert.NoError(t, err)

	st := f.saver.GetStatus()
	assert.Equal(t, 1, st.Stats.TotalCompleted)
	assert.Zero(t, st.Stats.TotalFailed)
	assert.Equal(t, 1, f.meta.TotalEpisodes())
}

func TestSkipEncodingWritesNoVideo(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	ep := f.record(t, 0, 3)
	_, err := f.saver.QueueSave(ep, true)
	require.NoError(t, err)
	f.saver.Stop(true)

	assert.Zero(t, f.enc.callCount())
	_, err = os.Stat(f.layout.VideoPath(0, "top"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(f.layout.EpisodeDataPath(0))
	assert.NoError(t, err)
}

func TestStopWaitNeverSilentlyMissing(t *testing.T) {
	// Property: after QueueSave + Stop(wait=true), either the episode
	// files exist or the episode is recorded as failed.
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	f := newFixture(t, cfg)
	f.enc.fail = true

	ep := f.record(t, 0, 3)
	_, err := f.saver.QueueSave(ep, false)
	require.NoError(t, err)
	f.saver.Stop(true)

	st := f.saver.GetStatus()
	if _, statErr := os.Stat(f.layout.VideoPath(0, "top")); statErr != nil {
		assert.Contains(t, st.FailedEpisodes, 0)
		assert.Equal(t, 1, st.Stats.TotalFailed)
	}
}

func TestFailedEpisodeDoesNotBlockSubsequent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	f := newFixture(t, cfg)
	f.enc.fail = true

	bad := f.record(t, 0, 2)
	_, err := f.saver.QueueSave(bad, false)
	require.NoError(t, err)

	good := f.record(t, 1, 2)
	_, err = f.saver.QueueSave(good, true) // skip encoding: unaffected by the broken encoder
	require.NoError(t, err)

	f.saver.Stop(true)

	st := f.saver.GetStatus()
	assert.Equal(t, []int{0}, st.FailedEpisodes)
	assert.Equal(t, 1, st.Stats.TotalCompleted)
	_, err = os.Stat(f.layout.EpisodeDataPath(1))
	assert.NoError(t, err)
}

func TestTransientFailureRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	f := newFixture(t, cfg)

	// Fail the first encode attempt only.
	attempts := 0
	var mu sync.Mutex
	f.saver.enc = encoderFunc(func(imgDir, outPath string, fps int) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return fmt.Errorf("transient io error")
		}
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return err
		}
		return os.WriteFile(outPath, []byte("mp4"), 0o644)
	})

	ep := f.record(t, 0, 2)
	_, err := f.saver.QueueSave(ep, false)
	require.NoError(t, err)
	f.saver.Stop(true)

	st := f.saver.GetStatus()
	assert.Equal(t, 1, st.Stats.TotalCompleted)
	assert.GreaterOrEqual(t, attempts, 2)
}

type encoderFunc func(imgDir, outPath string, fps int) error

func (fn encoderFunc) EncodeFrames(imgDir, outPath string, fps int) error {
	return fn(imgDir, outPath, fps)
}

func TestQueueSaveAfterStop(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.saver.Stop(true)

	ep := f.record(t, 0, 1)
	_, err := f.saver.QueueSave(ep, true)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestFlushTimeoutFloor(t *testing.T) {
	assert.Equal(t, 2*time.Minute, FlushTimeout(10, 2))
	assert.Equal(t, 600*time.Second, FlushTimeout(600, 2))
}
