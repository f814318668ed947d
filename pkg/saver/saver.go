package saver

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/dataset"
	"github.com/robocap/robocap/pkg/encoder"
	"github.com/robocap/robocap/pkg/episode"
	"github.com/robocap/robocap/pkg/imagewriter"
	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/metrics"
)

var (
	// ErrStopped is returned by QueueSave after Stop.
	ErrStopped = errors.New("saver is stopped")

	// ErrValidation wraps episode schema failures.
	ErrValidation = errors.New("episode validation failed")
)

// Config holds saver tuning.
type Config struct {
	// Workers is the save worker pool size.
	Workers int
	// QueueSize bounds the save queue. A full queue blocks QueueSave,
	// which is acceptable because saves are operator-initiated.
	QueueSize int
	// MaxAttempts bounds retries per task.
	MaxAttempts int
	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration
	// PollInterval is the Stop completion poll cadence.
	PollInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      1,
		QueueSize:    8,
		MaxAttempts:  3,
		RetryBackoff: 2 * time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}

// Task is one queued episode save.
type Task struct {
	ID           string
	Episode      *episode.Episode
	SkipEncoding bool
}

// Stats counts saver outcomes over the session.
type Stats struct {
	TotalQueued    int
	TotalCompleted int
	TotalFailed    int
}

// Status is a point-in-time snapshot for operator feedback.
type Status struct {
	QueueSize      int
	PendingCount   int
	FailedEpisodes []int
	Stats          Stats
}

// QueuedSave reports where a queued episode landed.
type QueuedSave struct {
	TaskID        string
	EpisodeIndex  int
	QueuePosition int
}

// Saver persists episodes asynchronously: columnar file, image flush
// wait, and video encode run on a worker pool while recording
// continues.
type Saver struct {
	cfg    Config
	layout dataset.Layout
	meta   *dataset.Meta
	images *imagewriter.Pool
	enc    encoder.Encoder
	logger zerolog.Logger

	queue chan *Task
	qmu   sync.RWMutex // guards queue sends against close

	mu          sync.Mutex
	pending     map[int]bool // episode indices being worked on
	outstanding int          // queued or in flight, not yet finished
	failed      []int
	stats       Stats
	stopped     bool

	wg sync.WaitGroup
}

// New creates a saver and starts its workers.
func New(cfg Config, layout dataset.Layout, meta *dataset.Meta, images *imagewriter.Pool, enc encoder.Encoder) *Saver {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	s := &Saver{
		cfg:     cfg,
		layout:  layout,
		meta:    meta,
		images:  images,
		enc:     enc,
		logger:  log.WithComponent("saver"),
		queue:   make(chan *Task, cfg.QueueSize),
		pending: make(map[int]bool),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// QueueSave hands an episode to the save pipeline. The caller
// transfers ownership of a deep copy; the saver runs the save exactly
// once on success and at most MaxAttempts times total. Blocks when the
// queue is full.
func (s *Saver) QueueSave(ep *episode.Episode, skipEncoding bool) (QueuedSave, error) {
	if err := ep.Validate(); err != nil {
		return QueuedSave{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s.qmu.RLock()
	defer s.qmu.RUnlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return QueuedSave{}, ErrStopped
	}
	s.stats.TotalQueued++
	s.outstanding++
	s.mu.Unlock()

	task := &Task{ID: uuid.NewString(), Episode: ep, SkipEncoding: skipEncoding}
	s.queue <- task

	metrics.EpisodesQueued.Inc()
	metrics.SaveQueueDepth.Set(float64(len(s.queue)))

	return QueuedSave{
		TaskID:        task.ID,
		EpisodeIndex:  ep.EpisodeIndex,
		QueuePosition: len(s.queue),
	}, nil
}

// GetStatus returns a snapshot of queue, in-flight, and failure state.
func (s *Saver) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	failed := append([]int(nil), s.failed...)
	sort.Ints(failed)
	return Status{
		QueueSize:      len(s.queue),
		PendingCount:   len(s.pending),
		FailedEpisodes: failed,
		Stats:          s.stats,
	}
}

// Stop shuts the saver down. With wait set it blocks until the queue
// is empty and no task is in flight, polling under the lock — the
// queue primitive alone cannot express "drained and completed".
func (s *Saver) Stop(wait bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	if wait {
		for {
			s.mu.Lock()
			done := s.outstanding == 0
			s.mu.Unlock()
			if done {
				break
			}
			time.Sleep(s.cfg.PollInterval)
		}
	}

	s.qmu.Lock()
	close(s.queue)
	s.qmu.Unlock()
	s.wg.Wait()
}

func (s *Saver) worker() {
	defer s.wg.Done()
	for task := range s.queue {
		s.mu.Lock()
		s.pending[task.Episode.EpisodeIndex] = true
		s.mu.Unlock()
		metrics.SaveQueueDepth.Set(float64(len(s.queue)))

		err := s.saveWithRetries(task)

		s.mu.Lock()
		delete(s.pending, task.Episode.EpisodeIndex)
		s.outstanding--
		if err != nil {
			s.stats.TotalFailed++
			s.failed = append(s.failed, task.Episode.EpisodeIndex)
		} else {
			s.stats.TotalCompleted++
		}
		s.mu.Unlock()

		if err != nil {
			metrics.EpisodesFailed.Inc()
			s.logger.Error().Err(err).Int("episode_index", task.Episode.EpisodeIndex).Msg("episode save failed")
		} else {
			metrics.EpisodesSaved.Inc()
		}
		s.images.ForgetEpisode(task.Episode.EpisodeIndex)
	}
}

func (s *Saver) saveWithRetries(task *Task) error {
	// Defensive copy before any destructive extraction; retries must
	// work from this copy, not from a mutated working buffer.
	clean := task.Episode.DeepCopy()

	backoff := s.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		err := s.saveEpisode(clean.DeepCopy(), task.SkipEncoding)
		if err == nil {
			metrics.SaveDuration.Observe(time.Since(start).Seconds())
			if attempt > 1 {
				s.logger.Info().Int("episode_index", clean.EpisodeIndex).Int("attempt", attempt).Msg("save succeeded after retry")
			}
			return nil
		}
		lastErr = err

		// Validation and flush-timeout failures are not transient;
		// retrying cannot produce the missing frames.
		if errors.Is(err, ErrValidation) || errors.Is(err, imagewriter.ErrFlushTimeout) {
			return err
		}

		s.logger.Warn().Err(err).
			Int("episode_index", clean.EpisodeIndex).
			Int("attempt", attempt).
			Int("max_attempts", s.cfg.MaxAttempts).
			Msg("save attempt failed")
		if attempt < s.cfg.MaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// FlushTimeout computes the dynamic image-flush deadline for an
// episode: half a second per frame per camera, floor two minutes.
func FlushTimeout(frames, cameras int) time.Duration {
	dynamic := time.Duration(frames*cameras) * 500 * time.Millisecond
	if dynamic < 2*time.Minute {
		return 2 * time.Minute
	}
	return dynamic
}

func (s *Saver) saveEpisode(ep *episode.Episode, skipEncoding bool) error {
	if err := ep.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	index := ep.EpisodeIndex

	// Every frame of this episode must be on disk before the columnar
	// write; a dropped frame fails the episode here rather than
	// shipping a silent gap.
	timeout := FlushTimeout(ep.Size, len(ep.Images))
	dropped, err := s.images.WaitEpisode(index, timeout)
	if err != nil {
		return err
	}
	if dropped > 0 {
		return fmt.Errorf("%w: episode %d lost %d frames to write errors", imagewriter.ErrFlushTimeout, index, dropped)
	}

	if err := dataset.WriteEpisode(s.layout.EpisodeDataPath(index), ep); err != nil {
		return err
	}

	if !skipEncoding {
		for _, cam := range ep.Cameras() {
			if err := s.enc.EncodeFrames(s.layout.ImageDir(index, cam), s.layout.VideoPath(index, cam), ep.FPS); err != nil {
				return err
			}
		}
	}

	if err := s.checkEpisodeFiles(ep, skipEncoding); err != nil {
		return err
	}

	// Metadata last: a retried attempt must not leave duplicate
	// episode records behind.
	return s.meta.AppendEpisode(ep)
}

// checkEpisodeFiles verifies only the files this episode was supposed
// to produce. Global file counts are never asserted: async saves
// legitimately leave gaps after failed tasks.
func (s *Saver) checkEpisodeFiles(ep *episode.Episode, skipEncoding bool) error {
	index := ep.EpisodeIndex
	paths := []string{s.layout.EpisodeDataPath(index)}
	for _, cam := range ep.Cameras() {
		paths = append(paths, s.layout.FramePath(index, cam, 0), s.layout.FramePath(index, cam, ep.Size-1))
		if !skipEncoding {
			paths = append(paths, s.layout.VideoPath(index, cam))
		}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("episode %d: expected file missing: %s", index, p)
		}
	}
	return nil
}
