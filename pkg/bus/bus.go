package bus

import (
	"sync"

	"github.com/robocap/robocap/pkg/metrics"
	"github.com/robocap/robocap/pkg/types"
)

// Topic names used across the dataflow graph.
const (
	TopicJointLeader   = "joint/leader"
	TopicJointFollower = "joint/follower"
	TopicActionCommand = "action/command"
	TopicImagePrefix   = "image/" // image/<cam>
)

// ImageTopic returns the bus topic for a camera name.
func ImageTopic(cam string) string {
	return TopicImagePrefix + cam
}

// cell holds the latest payload published on one topic. A new publish
// overwrites the old value; consumers read the latest.
type cell struct {
	payload types.Payload
	seq     uint64
	valid   bool
}

// Subscriber receives payloads for one topic. Delivery is best-effort:
// a full channel drops the payload rather than blocking the publisher.
type Subscriber struct {
	topic string
	ch    chan types.Payload
	bus   *Bus
}

// Channel returns the receive side of the subscription.
func (s *Subscriber) Channel() <-chan types.Payload { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscriber) Unsubscribe() { s.bus.unsubscribe(s) }

// Bus distributes payloads between dataflow nodes. Each topic keeps a
// single-slot latest value plus optional fan-out subscribers with a
// drop-on-full policy.
type Bus struct {
	mu    sync.RWMutex
	cells map[string]*cell
	subs  map[string][]*Subscriber
	seq   uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		cells: make(map[string]*cell),
		subs:  make(map[string][]*Subscriber),
	}
}

// Publish stores the payload as the topic's latest value and offers it
// to every subscriber. Never blocks.
func (b *Bus) Publish(topic string, p types.Payload) {
	b.mu.Lock()
	c, ok := b.cells[topic]
	if !ok {
		c = &cell{}
		b.cells[topic] = c
	}
	b.seq++
	c.payload = p
	c.seq = b.seq
	c.valid = true
	subs := b.subs[topic]
	b.mu.Unlock()

	metrics.PayloadsPublished.WithLabelValues(topic).Inc()

	for _, s := range subs {
		select {
		case s.ch <- p:
		default:
			metrics.PayloadsDropped.WithLabelValues(topic).Inc()
		}
	}
}

// Latest returns the most recent payload on the topic together with a
// monotonically increasing sequence number. ok is false when nothing
// was ever published.
func (b *Bus) Latest(topic string) (p types.Payload, seq uint64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, exists := b.cells[topic]
	if !exists || !c.valid {
		return types.Payload{}, 0, false
	}
	return c.payload, c.seq, true
}

// Subscribe registers a fan-out channel on the topic with the given
// buffer size.
func (b *Bus) Subscribe(topic string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Subscriber{topic: topic, ch: make(chan types.Payload, buffer), bus: b}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()
	return s
}

func (b *Bus) unsubscribe(target *Subscriber) {
	b.mu.Lock()
	subs := b.subs[target.topic]
	for i, s := range subs {
		if s == target {
			b.subs[target.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	close(target.ch)
}

// Topics returns the names of all topics that have seen a publish.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.cells))
	for t := range b.cells {
		out = append(out, t)
	}
	return out
}
