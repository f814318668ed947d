package imagewriter

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/metrics"
	"github.com/robocap/robocap/pkg/types"
)

// ErrFlushTimeout is returned when an episode's frames did not all
// reach disk within the deadline.
var ErrFlushTimeout = fmt.Errorf("image flush timeout")

type task struct {
	episode int
	im      types.Image
	path    string
}

// Pool writes PNG frames off the recording thread.
//
// The queue is unbounded on purpose: back-pressure here would delay
// appends and temporally misalign frames, which is worse for training
// data than memory growth. Memory is governed by the record loop's
// auto-stop guard instead.
type Pool struct {
	logger  zerolog.Logger
	workers int

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []task
	outstanding map[int]int // episode -> frames not yet on disk
	dropped     map[int]int // episode -> frames lost to write errors
	closed      bool

	wg sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{
		logger:      log.WithComponent("imagewriter"),
		workers:     workers,
		outstanding: make(map[int]int),
		dropped:     make(map[int]int),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue queues one frame for writing. Never blocks.
func (p *Pool) Enqueue(episodeIndex int, im types.Image, path string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Error().Str("path", path).Msg("enqueue on closed pool, frame dropped")
		return
	}
	p.queue = append(p.queue, task{episode: episodeIndex, im: im, path: path})
	p.outstanding[episodeIndex]++
	depth := len(p.queue)
	p.mu.Unlock()

	metrics.ImageQueueDepth.Set(float64(depth))
	p.cond.Signal()
}

// QueueDepth returns the number of queued, not yet started frames.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// WaitEpisode blocks until every queued frame of the episode has been
// written (or dropped after an error), or the timeout elapses. The
// number of dropped frames is returned so the saver can fail the
// episode cleanly instead of shipping silent gaps.
func (p *Pool) WaitEpisode(episodeIndex int, timeout time.Duration) (droppedFrames int, err error) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		remaining := p.outstanding[episodeIndex]
		dropped := p.dropped[episodeIndex]
		p.mu.Unlock()

		if remaining == 0 {
			return dropped, nil
		}
		if time.Now().After(deadline) {
			return dropped, fmt.Errorf("%w: episode %d has %d frames outstanding after %s",
				ErrFlushTimeout, episodeIndex, remaining, timeout)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// ForgetEpisode clears the drop counter after the saver consumed it.
func (p *Pool) ForgetEpisode(episodeIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dropped, episodeIndex)
	delete(p.outstanding, episodeIndex)
}

// Close drains the queue and stops the workers. The record loop stops
// enqueueing before Close, so the drain terminates.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		depth := len(p.queue)
		p.mu.Unlock()

		metrics.ImageQueueDepth.Set(float64(depth))

		err := writePNG(t.path, t.im)

		p.mu.Lock()
		p.outstanding[t.episode]--
		if err != nil {
			p.dropped[t.episode]++
		}
		p.mu.Unlock()

		if err != nil {
			// Drop the frame and acknowledge so the queue drains; the
			// saver discovers the gap during its flush wait.
			metrics.ImagesDropped.Inc()
			p.logger.Error().Stack().Err(err).Str("path", t.path).Msg("frame write failed, dropped")
		} else {
			metrics.ImagesWritten.Inc()
		}
	}
}

func writePNG(path string, im types.Image) error {
	if len(im.Pix) != im.Width*im.Height*3 {
		return fmt.Errorf("image %s: %d bytes for %dx%d RGB frame", path, len(im.Pix), im.Width, im.Height)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	rgba := image.NewNRGBA(image.Rect(0, 0, im.Width, im.Height))
	for i := 0; i < im.Width*im.Height; i++ {
		rgba.Pix[i*4] = im.Pix[i*3]
		rgba.Pix[i*4+1] = im.Pix[i*3+1]
		rgba.Pix[i*4+2] = im.Pix[i*3+2]
		rgba.Pix[i*4+3] = 0xff
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, rgba); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
