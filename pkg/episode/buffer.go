package episode

import (
	"fmt"
	"sync"

	"github.com/robocap/robocap/pkg/types"
)

// Buffer accumulates the frames of one in-progress episode. Appends
// and swaps run under one mutex with short critical sections; the
// recording goroutine never observes a partially drained buffer.
type Buffer struct {
	mu sync.Mutex

	episodeIndex int
	task         string
	fps          int

	size       int
	timestamps []float64
	states     [][]float64
	actions    [][]float64
	images     map[string][]types.Image
}

// NewBuffer creates an empty buffer for the given episode index.
func NewBuffer(episodeIndex int, task string, fps int) *Buffer {
	return &Buffer{
		episodeIndex: episodeIndex,
		task:         task,
		fps:          fps,
		images:       make(map[string][]types.Image),
	}
}

// Append adds one frame. The frame index is assigned densely; the
// timestamp is derived as frame_index/fps.
func (b *Buffer) Append(state, action []float64, images map[string]types.Image) (frameIndex int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size > 0 {
		for cam := range b.images {
			if _, ok := images[cam]; !ok {
				return 0, fmt.Errorf("episode %d frame %d: missing camera %q", b.episodeIndex, b.size, cam)
			}
		}
		if len(images) != len(b.images) {
			return 0, fmt.Errorf("episode %d frame %d: camera set changed mid-episode", b.episodeIndex, b.size)
		}
	}

	frameIndex = b.size
	b.timestamps = append(b.timestamps, float64(frameIndex)/float64(b.fps))
	b.states = append(b.states, cloneVector(state))
	b.actions = append(b.actions, cloneVector(action))
	for cam, im := range images {
		b.images[cam] = append(b.images[cam], im)
	}
	b.size++
	return frameIndex, nil
}

// Size returns the number of appended frames.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// EpisodeIndex returns the buffer's episode index.
func (b *Buffer) EpisodeIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.episodeIndex
}

// Task returns the task label.
func (b *Buffer) Task() string { return b.task }

// FPS returns the recording rate.
func (b *Buffer) FPS() int { return b.fps }

// Swap atomically replaces the buffer contents with a fresh empty
// episode at nextIndex and returns the drained contents as an
// immutable Episode. The caller owns the returned data.
func (b *Buffer) Swap(nextIndex int) *Episode {
	b.mu.Lock()
	defer b.mu.Unlock()

	ep := &Episode{
		EpisodeIndex: b.episodeIndex,
		Task:         b.task,
		FPS:          b.fps,
		Size:         b.size,
		Timestamps:   b.timestamps,
		States:       b.states,
		Actions:      b.actions,
		Images:       b.images,
	}

	b.episodeIndex = nextIndex
	b.size = 0
	b.timestamps = nil
	b.states = nil
	b.actions = nil
	b.images = make(map[string][]types.Image)

	return ep
}

// Discard drops the current contents, keeping the episode index. Used
// by the abort command.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.size = 0
	b.timestamps = nil
	b.states = nil
	b.actions = nil
	b.images = make(map[string][]types.Image)
}

// Episode is the drained, immutable contents of one episode.
type Episode struct {
	EpisodeIndex int
	Task         string
	FPS          int
	Size         int
	Timestamps   []float64
	States       [][]float64
	Actions      [][]float64
	Images       map[string][]types.Image
}

// Validate checks the column-length invariant and the timestamp law.
func (e *Episode) Validate() error {
	if e.Size == 0 {
		return fmt.Errorf("episode %d: empty episode rejected", e.EpisodeIndex)
	}
	if len(e.Timestamps) != e.Size || len(e.States) != e.Size || len(e.Actions) != e.Size {
		return fmt.Errorf("episode %d: column length mismatch (size=%d ts=%d state=%d action=%d)",
			e.EpisodeIndex, e.Size, len(e.Timestamps), len(e.States), len(e.Actions))
	}
	for cam, frames := range e.Images {
		if len(frames) != e.Size {
			return fmt.Errorf("episode %d: camera %q has %d frames, size is %d", e.EpisodeIndex, cam, len(frames), e.Size)
		}
	}
	step := 1.0 / float64(e.FPS)
	for i, ts := range e.Timestamps {
		want := float64(i) * step
		if diff := ts - want; diff > 1e-9 || diff < -1e-9 {
			return fmt.Errorf("episode %d: timestamp[%d]=%v, want %v", e.EpisodeIndex, i, ts, want)
		}
	}
	return nil
}

// DeepCopy returns a copy sharing no memory with the receiver. The
// saver works from copies so retries never observe mutated columns.
func (e *Episode) DeepCopy() *Episode {
	cp := &Episode{
		EpisodeIndex: e.EpisodeIndex,
		Task:         e.Task,
		FPS:          e.FPS,
		Size:         e.Size,
		Timestamps:   append([]float64(nil), e.Timestamps...),
		States:       make([][]float64, len(e.States)),
		Actions:      make([][]float64, len(e.Actions)),
		Images:       make(map[string][]types.Image, len(e.Images)),
	}
	for i, s := range e.States {
		cp.States[i] = cloneVector(s)
	}
	for i, a := range e.Actions {
		cp.Actions[i] = cloneVector(a)
	}
	for cam, frames := range e.Images {
		cloned := make([]types.Image, len(frames))
		for i, im := range frames {
			cloned[i] = im.Clone()
		}
		cp.Images[cam] = cloned
	}
	return cp
}

// Cameras returns the camera names present in the episode, order
// unspecified.
func (e *Episode) Cameras() []string {
	out := make([]string, 0, len(e.Images))
	for cam := range e.Images {
		out = append(out, cam)
	}
	return out
}

func cloneVector(v []float64) []float64 {
	return append([]float64(nil), v...)
}
