package record

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocap/robocap/pkg/bus"
	"github.com/robocap/robocap/pkg/dataset"
	"github.com/robocap/robocap/pkg/imagewriter"
	"github.com/robocap/robocap/pkg/memguard"
	"github.com/robocap/robocap/pkg/saver"
	"github.com/robocap/robocap/pkg/types"
)

// fakeSource serves canned observations like the IPC client would.
type fakeSource struct {
	mu        sync.Mutex
	dropCams  bool
	state     []float32
	action    []float32
	hasAction bool
}

func (f *fakeSource) GetImage(cam string) (types.Image, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropCams {
		return types.Image{}, false
	}
	return types.Image{Width: 4, Height: 4, Pix: make([]byte, 48)}, true
}

func (f *fakeSource) GetVector(topic string) ([]float32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch topic {
	case bus.TopicJointFollower:
		return f.state, true
	case bus.TopicActionCommand:
		if f.hasAction {
			return f.action, true
		}
	}
	return nil, false
}

func (f *fakeSource) setDropCams(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropCams = v
}

type harness struct {
	loop   *Loop
	saver  *saver.Saver
	images *imagewriter.Pool
	layout dataset.Layout
	guard  *memguard.Guard
}

func newHarness(t *testing.T, src FrameSource, guard *memguard.Guard) *harness {
	t.Helper()
	layout := dataset.NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())
	images := imagewriter.NewPool(2)
	t.Cleanup(images.Close)

	cfg := saver.DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	sv := saver.New(cfg, layout, dataset.NewMeta(layout), images, nil)

	if guard == nil {
		guard = memguard.New(1024, 1000) // effectively disabled
	}
	loop := NewLoop(Config{
		FPS:          100, // fast test ticks
		Cameras:      []string{"top"},
		Task:         "pick",
		SkipEncoding: true,
		ResetTimeout: time.Hour, // tests drive the reset phase explicitly
	}, src, sv, images, guard, layout)

	return &harness{loop: loop, saver: sv, images: images, layout: layout, guard: guard}
}

func TestRecordThreeEpisodesAndExit(t *testing.T) {
	src := &fakeSource{state: []float32{1, 2, 3}}
	h := newHarness(t, src, nil)

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	waitFrames := func(min int) {
		require.Eventually(t, func() bool {
			return h.loop.buffer.Size() >= min
		}, 5*time.Second, time.Millisecond)
	}

	waitFrames(5)
	h.loop.Command(CmdSaveAndNext)
	h.loop.Command(CmdProceed)
	waitFrames(5)
	h.loop.Command(CmdSaveAndNext)
	h.loop.Command(CmdProceed)
	waitFrames(5)
	h.loop.Command(CmdExit)

	summary := <-done
	assert.Equal(t, ExitOperator, summary.Reason)
	assert.Equal(t, 3, summary.EpisodesQueued)

	h.saver.Stop(true)

	for i := 0; i < 3; i++ {
		_, err := os.Stat(h.layout.EpisodeDataPath(i))
		assert.NoError(t, err, "episode %d columnar file", i)
	}
	st := h.saver.GetStatus()
	assert.Equal(t, 3, st.Stats.TotalCompleted)
}

func TestMissingCameraSkipsTickWithoutStall(t *testing.T) {
	src := &fakeSource{state: []float32{1}}
	src.setDropCams(true)
	h := newHarness(t, src, nil)

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.loop.buffer.Size())

	// Cameras return: recording resumes on the same episode.
	src.setDropCams(false)
	require.Eventually(t, func() bool { return h.loop.buffer.Size() > 0 }, 5*time.Second, time.Millisecond)

	h.loop.Command(CmdExit)
	summary := <-done
	assert.Greater(t, summary.TicksSkipped, 0)
	assert.Greater(t, summary.FramesRecorded, 0)
}

func TestAbortDiscardsEpisode(t *testing.T) {
	src := &fakeSource{state: []float32{1}}
	h := newHarness(t, src, nil)

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	require.Eventually(t, func() bool { return h.loop.buffer.Size() >= 3 }, 5*time.Second, time.Millisecond)
	h.loop.Command(CmdAbort)
	require.Eventually(t, func() bool { return h.loop.buffer.Size() < 3 }, 5*time.Second, time.Millisecond)

	h.loop.Command(CmdExit)
	<-done
}

func TestExitWithEmptyBufferQueuesNothing(t *testing.T) {
	src := &fakeSource{state: []float32{1}}
	src.setDropCams(true)
	h := newHarness(t, src, nil)

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	h.loop.Command(CmdExit)

	summary := <-done
	assert.Zero(t, summary.EpisodesQueued)
}

func TestMemoryGuardTriggersExit(t *testing.T) {
	src := &fakeSource{state: []float32{1}}

	guard := memguard.New(0.000001, 1) // trips on the first sample
	h := newHarness(t, src, guard)

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	select {
	case summary := <-done:
		assert.Equal(t, ExitMemory, summary.Reason)
	case <-time.After(10 * time.Second):
		t.Fatal("guard did not stop the loop")
	}
}

func TestCancellationPreservesQueuedWork(t *testing.T) {
	src := &fakeSource{state: []float32{1}}
	h := newHarness(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(ctx) }()

	require.Eventually(t, func() bool { return h.loop.buffer.Size() >= 3 }, 5*time.Second, time.Millisecond)
	cancel()

	summary := <-done
	assert.Equal(t, ExitCancelled, summary.Reason)
	assert.Equal(t, 1, summary.EpisodesQueued, "partial episode is queued, not discarded")

	h.saver.Stop(true)
	_, err := os.Stat(h.layout.EpisodeDataPath(0))
	assert.NoError(t, err)
}

func TestResetPhasePausesRecordingUntilProceed(t *testing.T) {
	src := &fakeSource{state: []float32{1}}
	h := newHarness(t, src, nil)

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	require.Eventually(t, func() bool { return h.loop.buffer.Size() >= 3 }, 5*time.Second, time.Millisecond)
	h.loop.Command(CmdSaveAndNext)

	// The new buffer must stay empty while the scene is being reset.
	require.Eventually(t, func() bool { return h.loop.buffer.EpisodeIndex() == 1 }, 5*time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.loop.buffer.Size())

	h.loop.Command(CmdProceed)
	require.Eventually(t, func() bool { return h.loop.buffer.Size() > 0 }, 5*time.Second, time.Millisecond)

	h.loop.Command(CmdExit)
	<-done
}

func TestResetTimeoutAutoProceeds(t *testing.T) {
	src := &fakeSource{state: []float32{1}}
	h := newHarness(t, src, nil)
	h.loop.cfg.ResetTimeout = 100 * time.Millisecond

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	require.Eventually(t, func() bool { return h.loop.buffer.Size() >= 3 }, 5*time.Second, time.Millisecond)
	h.loop.Command(CmdSaveAndNext)

	// No proceed command: recording resumes after the timeout alone.
	require.Eventually(t, func() bool {
		return h.loop.buffer.EpisodeIndex() == 1 && h.loop.buffer.Size() > 0
	}, 5*time.Second, time.Millisecond)

	h.loop.Command(CmdExit)
	<-done
}

func TestExitDuringResetRunsFullSavePath(t *testing.T) {
	src := &fakeSource{state: []float32{1}}
	h := newHarness(t, src, nil)

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()

	require.Eventually(t, func() bool { return h.loop.buffer.Size() >= 3 }, 5*time.Second, time.Millisecond)
	h.loop.Command(CmdSaveAndNext)
	require.Eventually(t, func() bool { return h.loop.buffer.EpisodeIndex() == 1 }, 5*time.Second, time.Millisecond)

	// Exit pressed mid-reset: the queued episode still saves fully.
	h.loop.Command(CmdExit)
	summary := <-done
	assert.Equal(t, ExitOperator, summary.Reason)
	assert.Equal(t, 1, summary.EpisodesQueued)

	h.saver.Stop(true)
	_, err := os.Stat(h.layout.EpisodeDataPath(0))
	assert.NoError(t, err)
	assert.Equal(t, 1, h.saver.GetStatus().Stats.TotalCompleted)
}

func TestActionFallsBackToState(t *testing.T) {
	src := &fakeSource{state: []float32{1, 2}}
	h := newHarness(t, src, nil)

	done := make(chan Summary, 1)
	go func() { done <- h.loop.Run(context.Background()) }()
	require.Eventually(t, func() bool { return h.loop.buffer.Size() >= 2 }, 5*time.Second, time.Millisecond)
	h.loop.Command(CmdExit)
	<-done
	h.saver.Stop(true)

	cols, err := dataset.ReadEpisode(h.layout.EpisodeDataPath(0))
	require.NoError(t, err)
	require.NotEmpty(t, cols.Actions)
	assert.Equal(t, cols.States[0], cols.Actions[0])
}
