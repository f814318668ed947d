package record

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/bus"
	"github.com/robocap/robocap/pkg/dataset"
	"github.com/robocap/robocap/pkg/episode"
	"github.com/robocap/robocap/pkg/imagewriter"
	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/memguard"
	"github.com/robocap/robocap/pkg/metrics"
	"github.com/robocap/robocap/pkg/saver"
	"github.com/robocap/robocap/pkg/types"
)

// FrameSource pulls the latest observation payloads; the IPC client
// implements it against the bridge.
type FrameSource interface {
	GetImage(cam string) (types.Image, bool)
	GetVector(topic string) ([]float32, bool)
}

// Command is an operator-driven loop transition.
type Command int

const (
	// CmdSaveAndNext finalizes the current episode, queues it for
	// async save, and enters the reset phase.
	CmdSaveAndNext Command = iota
	// CmdProceed ends the reset phase and resumes recording on the
	// next episode.
	CmdProceed
	// CmdExit finalizes the current episode and stops the loop.
	CmdExit
	// CmdAbort discards the current buffer and keeps recording.
	CmdAbort
)

// DefaultResetTimeout bounds the reset phase: an operator who walks
// away after rearranging the scene should not stall the session.
const DefaultResetTimeout = 60 * time.Second

// ExitReason reports why the loop stopped.
type ExitReason string

const (
	ExitOperator  ExitReason = "operator"
	ExitMemory    ExitReason = "memory_limit"
	ExitCancelled ExitReason = "cancelled"
)

// Config holds loop parameters.
type Config struct {
	FPS          int
	Cameras      []string
	Task         string
	SkipEncoding bool
	// ResetTimeout bounds the inter-episode reset phase; zero means
	// DefaultResetTimeout.
	ResetTimeout time.Duration
}

// Summary is the loop's final report.
type Summary struct {
	Reason         ExitReason
	EpisodesQueued int
	FramesRecorded int
	TicksSkipped   int
}

// Loop records synchronized frames at the bus tick into the episode
// buffer and drives the save pipeline on operator commands.
type Loop struct {
	cfg    Config
	source FrameSource
	buffer *episode.Buffer
	saver  *saver.Saver
	images *imagewriter.Pool
	guard  *memguard.Guard
	layout dataset.Layout
	logger zerolog.Logger

	cmds chan Command
}

// NewLoop creates a record loop starting at episode zero.
func NewLoop(cfg Config, source FrameSource, sv *saver.Saver, images *imagewriter.Pool, guard *memguard.Guard, layout dataset.Layout) *Loop {
	return &Loop{
		cfg:    cfg,
		source: source,
		buffer: episode.NewBuffer(0, cfg.Task, cfg.FPS),
		saver:  sv,
		images: images,
		guard:  guard,
		layout: layout,
		logger: log.WithComponent("record"),
		cmds:   make(chan Command, 4),
	}
}

// Command delivers an operator command to the loop. Safe from other
// goroutines (the keystroke reader).
func (l *Loop) Command(cmd Command) {
	l.cmds <- cmd
}

// CurrentEpisode returns the in-progress episode index.
func (l *Loop) CurrentEpisode() int {
	return l.buffer.EpisodeIndex()
}

// Run iterates until exit, cancellation, or the memory guard trips.
// Lost ticks are acceptable; temporally misaligned frames are not, so
// each append happens under the buffer lock while pulls happen before
// it.
func (l *Loop) Run(ctx context.Context) Summary {
	ticker := time.NewTicker(time.Second / time.Duration(l.cfg.FPS))
	defer ticker.Stop()

	resetTimeout := l.cfg.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}

	summary := Summary{}
	tick := 0

	// Reset phase: after save-and-next the operator rearranges the
	// scene; appends pause until proceed or the timeout.
	resetting := false
	var resetDeadline time.Time

	l.logger.Info().Int("fps", l.cfg.FPS).Strs("cameras", l.cfg.Cameras).Msg("record loop started")

	for {
		select {
		case <-ctx.Done():
			l.finalize(&summary)
			summary.Reason = ExitCancelled
			return summary

		case cmd := <-l.cmds:
			switch cmd {
			case CmdSaveAndNext:
				l.finalize(&summary)
				resetting = true
				resetDeadline = time.Now().Add(resetTimeout)
				l.logger.Info().
					Int("next_episode", l.buffer.EpisodeIndex()).
					Dur("timeout", resetTimeout).
					Msg("reset environment, press 'p' to proceed")
			case CmdProceed:
				if resetting {
					resetting = false
					l.logger.Info().Int("episode_index", l.buffer.EpisodeIndex()).Msg("reset confirmed, recording next episode")
				}
			case CmdAbort:
				l.logger.Warn().Int("episode_index", l.buffer.EpisodeIndex()).Int("frames", l.buffer.Size()).Msg("episode aborted")
				l.buffer.Discard()
			case CmdExit:
				// Exit during reset takes the identical path: the
				// buffer is empty, finalize is a no-op, and the full
				// save + offload sequence still runs.
				l.finalize(&summary)
				summary.Reason = ExitOperator
				return summary
			}

		case <-ticker.C:
			tick++
			if l.guard.Check(tick) {
				// Trip: end the session exactly as if the operator had
				// pressed exit, preserving queued episodes.
				l.finalize(&summary)
				summary.Reason = ExitMemory
				return summary
			}
			if resetting {
				if time.Now().Before(resetDeadline) {
					continue
				}
				resetting = false
				l.logger.Info().Msg("reset timeout, auto-proceeding to next episode")
			}
			if l.step() {
				summary.FramesRecorded++
			} else {
				summary.TicksSkipped++
				metrics.TicksSkipped.Inc()
			}
		}
	}
}

// step records one frame; false means the tick was skipped. A missing
// camera or joint reading skips the tick rather than stalling the bus.
func (l *Loop) step() bool {
	images := make(map[string]types.Image, len(l.cfg.Cameras))
	for _, cam := range l.cfg.Cameras {
		im, ok := l.source.GetImage(cam)
		if !ok {
			return false
		}
		images[cam] = im
	}

	stateVec, ok := l.source.GetVector(bus.TopicJointFollower)
	if !ok {
		return false
	}
	state := toFloat64(stateVec)

	// The action is the target sent to the follower this tick; before
	// teleoperation engages there is none, and the state stands in as
	// the identity action.
	action := state
	if actionVec, ok := l.source.GetVector(bus.TopicActionCommand); ok {
		action = toFloat64(actionVec)
	}

	epIndex := l.buffer.EpisodeIndex()
	frameIndex, err := l.buffer.Append(state, action, images)
	if err != nil {
		l.logger.Error().Err(err).Msg("frame append rejected")
		return false
	}

	for cam, im := range images {
		l.images.Enqueue(epIndex, im, l.layout.FramePath(epIndex, cam, frameIndex))
	}
	metrics.FramesRecorded.WithLabelValues(strconv.Itoa(epIndex)).Inc()
	return true
}

// finalize promotes the current buffer to the save pipeline. An empty
// buffer is kept for the next episode instead of being queued.
func (l *Loop) finalize(summary *Summary) {
	if l.buffer.Size() == 0 {
		l.logger.Debug().Int("episode_index", l.buffer.EpisodeIndex()).Msg("empty episode, nothing to save")
		return
	}

	ep := l.buffer.Swap(l.buffer.EpisodeIndex() + 1)
	queued, err := l.saver.QueueSave(ep, l.cfg.SkipEncoding)
	if err != nil {
		l.logger.Error().Err(err).Int("episode_index", ep.EpisodeIndex).Msg("queue save failed")
		return
	}
	summary.EpisodesQueued++
	l.logger.Info().
		Int("episode_index", queued.EpisodeIndex).
		Int("frames", ep.Size).
		Int("queue_position", queued.QueuePosition).
		Msg("episode queued for save")

	status := l.saver.GetStatus()
	if len(status.FailedEpisodes) > 0 {
		l.logger.Warn().Ints("failed_episodes", status.FailedEpisodes).Msg("earlier episodes failed to save")
	}
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

