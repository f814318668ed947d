package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/robocap/robocap/pkg/types"
)

func vec(name string, v ...float32) types.Payload {
	return types.NewVectorPayload(name, v)
}

func TestLatestOverwrites(t *testing.T) {
	b := New()

	_, _, ok := b.Latest(TopicJointLeader)
	assert.False(t, ok)

	b.Publish(TopicJointLeader, vec("leader", 1))
	b.Publish(TopicJointLeader, vec("leader", 2))

	p, seq1, ok := b.Latest(TopicJointLeader)
	assert.True(t, ok)
	assert.Equal(t, []float32{2}, p.Vector)

	b.Publish(TopicJointLeader, vec("leader", 3))
	_, seq2, _ := b.Latest(TopicJointLeader)
	assert.Greater(t, seq2, seq1)
}

func TestSequenceDistinguishesTopics(t *testing.T) {
	b := New()
	b.Publish(TopicJointLeader, vec("leader", 1))
	b.Publish(TopicJointFollower, vec("follower", 1))

	_, s1, _ := b.Latest(TopicJointLeader)
	_, s2, _ := b.Latest(TopicJointFollower)
	assert.NotEqual(t, s1, s2)
}

func TestSubscriberReceives(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicActionCommand, 4)
	defer sub.Unsubscribe()

	b.Publish(TopicActionCommand, vec("action", 1, 2))

	select {
	case p := <-sub.Channel():
		assert.Equal(t, []float32{1, 2}, p.Vector)
	default:
		t.Fatal("expected a payload on the subscriber channel")
	}
}

func TestFullSubscriberDropsNotBlocks(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicImagePrefix+"top", 1)
	defer sub.Unsubscribe()

	// Second publish must not block even though nobody drains.
	b.Publish(ImageTopic("top"), vec("a", 1))
	b.Publish(ImageTopic("top"), vec("b", 2))

	// Latest still reflects the newest publish despite the drop.
	p, _, ok := b.Latest(ImageTopic("top"))
	assert.True(t, ok)
	assert.Equal(t, "b", p.Name)

	// The subscriber kept the first payload only.
	got := <-sub.Channel()
	assert.Equal(t, "a", got.Name)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicJointLeader, 1)
	sub.Unsubscribe()

	_, open := <-sub.Channel()
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(TopicJointLeader, vec("leader", 1))
}
