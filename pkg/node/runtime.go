package node

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/bus"
	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/types"
)

var (
	// ErrStartupFailure is returned when a node's device cannot be
	// opened after retries.
	ErrStartupFailure = errors.New("node startup failure")

	// ErrCommunicationFailure is returned when a degraded node does not
	// recover within the degradation window.
	ErrCommunicationFailure = errors.New("node communication failure")
)

// DefaultPeriod is the dataflow timer period (~30 Hz).
const DefaultPeriod = 33 * time.Millisecond

const (
	openAttempts = 3
	// Three consecutive errors inside this window mark the node
	// degraded.
	errorBurstWindow = time.Second
	errorBurstCount  = 3
	// A node degraded longer than this is fatal.
	degradedLimit = 5 * time.Second
	// Grace between STOP and escalation; device release must finish
	// inside it.
	drainGrace = 2 * time.Second
)

// Handler is one node's behavior. The runtime guarantees all calls
// happen on a single goroutine.
type Handler interface {
	// Name labels the node in logs and graph config.
	Name() string

	// Open acquires the node's devices. Retried on failure.
	Open() error

	// OnTick handles one timer event; outputs go through emit.
	OnTick(emit EmitFunc) error

	// Inputs lists the topics this node consumes, or nil.
	Inputs() []string

	// OnInput handles one input payload.
	OnInput(topic string, p types.Payload, emit EmitFunc) error

	// Close releases all owned devices. Called exactly once, from the
	// event loop goroutine, before the runtime exits; not called when
	// Open never succeeded.
	Close() error
}

// EmitFunc publishes one output payload.
type EmitFunc func(topic string, p types.Payload)

// Runtime drives one node: a single-threaded event loop dispatching
// timer ticks and input events, with device release on stop, signal,
// or unrecoverable error.
type Runtime struct {
	handler Handler
	bus     *bus.Bus
	period  time.Duration
	logger  zerolog.Logger

	state    types.NodeState
	stopCh   chan struct{}
	doneCh   chan struct{}
	released chan struct{}

	errBurst      []time.Time
	degradedSince time.Time
	degradedMax   time.Duration
}

// NewRuntime creates a runtime for one handler on the graph bus.
func NewRuntime(h Handler, b *bus.Bus, period time.Duration) *Runtime {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Runtime{
		handler:     h,
		bus:         b,
		period:      period,
		logger:      log.WithNode(h.Name()),
		state:       types.NodeStarting,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		released:    make(chan struct{}),
		degradedMax: degradedLimit,
	}
}

// State returns the node's lifecycle state. Only the event loop writes
// it; reads from other goroutines are for logging and tests.
func (r *Runtime) State() types.NodeState { return r.state }

// Stop requests a drain. It returns once the node released its devices
// or the drain grace elapsed, whichever is first.
func (r *Runtime) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	select {
	case <-r.released:
	case <-time.After(drainGrace):
		r.logger.Warn().Dur("grace", drainGrace).Msg("device release exceeded drain grace")
	}
}

// Done is closed when the event loop exited.
func (r *Runtime) Done() <-chan struct{} { return r.doneCh }

// Run executes the node until STOP or a fatal error. The returned
// error is nil on a clean stop.
func (r *Runtime) Run() error {
	defer close(r.doneCh)

	r.state = types.NodeConnecting
	if err := r.open(); err != nil {
		r.state = types.NodeStopped
		close(r.released)
		return err
	}

	var subs []*bus.Subscriber
	inputCases := make(map[string]<-chan types.Payload)
	for _, topic := range r.handler.Inputs() {
		sub := r.bus.Subscribe(topic, 4)
		subs = append(subs, sub)
		inputCases[topic] = sub.Channel()
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	r.state = types.NodeRunning
	r.logger.Info().Dur("period", r.period).Msg("node running")

	emit := func(topic string, p types.Payload) {
		if r.state == types.NodeDraining {
			// Draining nodes may not emit new outputs.
			return
		}
		r.bus.Publish(topic, p)
	}

	fatal := r.loop(ticker, inputCases, emit)

	// Draining: flush and release devices before the loop exits. The
	// runtime's caller escalates two seconds after STOP.
	r.state = types.NodeDraining
	if err := r.handler.Close(); err != nil {
		r.logger.Error().Err(err).Msg("device release failed")
	}
	close(r.released)
	r.state = types.NodeStopped
	r.logger.Info().Msg("node stopped")
	return fatal
}

func (r *Runtime) loop(ticker *time.Ticker, inputs map[string]<-chan types.Payload, emit EmitFunc) error {
	// Collapse the input channels into one merged stream so the select
	// below stays static regardless of topic count.
	merged := make(chan inputEvent, 16)
	stopMerge := make(chan struct{})
	defer close(stopMerge)
	for topic, ch := range inputs {
		go func(topic string, ch <-chan types.Payload) {
			for {
				select {
				case p, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- inputEvent{topic: topic, payload: p}:
					case <-stopMerge:
						return
					}
				case <-stopMerge:
					return
				}
			}
		}(topic, ch)
	}

	for {
		select {
		case <-r.stopCh:
			return nil

		case <-ticker.C:
			start := time.Now()
			err := r.handler.OnTick(emit)
			if d := time.Since(start); d > r.period {
				// Overrun is a warning, not fatal; the next tick
				// proceeds regardless.
				r.logger.Warn().Dur("took", d).Dur("period", r.period).Msg("tick overrun")
			}
			if fatal := r.recordResult(err); fatal != nil {
				return fatal
			}

		case ev := <-merged:
			err := r.handler.OnInput(ev.topic, ev.payload, emit)
			if fatal := r.recordResult(err); fatal != nil {
				return fatal
			}
		}
	}
}

type inputEvent struct {
	topic   string
	payload types.Payload
}

func (r *Runtime) open() error {
	var lastErr error
	for attempt := 1; attempt <= openAttempts; attempt++ {
		if err := r.handler.Open(); err != nil {
			lastErr = err
			r.logger.Warn().Err(err).Int("attempt", attempt).Msg("device open failed")
			time.Sleep(200 * time.Millisecond)
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStartupFailure, r.handler.Name(), lastErr)
}

// recordResult tracks consecutive handler errors. Three inside one
// second mark the node degraded; staying degraded past the limit is
// fatal.
func (r *Runtime) recordResult(err error) error {
	now := time.Now()
	if err == nil {
		if !r.degradedSince.IsZero() {
			r.logger.Info().Msg("node recovered")
		}
		r.errBurst = r.errBurst[:0]
		r.degradedSince = time.Time{}
		return nil
	}

	r.logger.Warn().Err(err).Msg("handler error")
	r.errBurst = append(r.errBurst, now)
	for len(r.errBurst) > 0 && now.Sub(r.errBurst[0]) > errorBurstWindow {
		r.errBurst = r.errBurst[1:]
	}

	if len(r.errBurst) >= errorBurstCount && r.degradedSince.IsZero() {
		r.degradedSince = now
		r.logger.Warn().Msg("node degraded")
	}
	if !r.degradedSince.IsZero() && now.Sub(r.degradedSince) > r.degradedMax {
		return fmt.Errorf("%w: %s degraded for %s", ErrCommunicationFailure, r.handler.Name(), now.Sub(r.degradedSince))
	}
	return nil
}
