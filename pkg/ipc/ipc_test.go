package ipc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robocap/robocap/pkg/bus"
	"github.com/robocap/robocap/pkg/types"
)

func TestCodecVectorRoundTrip(t *testing.T) {
	p := types.NewVectorPayload("joint/leader", []float32{0.1, -2.5, 3})

	data, err := EncodePayload(p)
	require.NoError(t, err)

	got, empty, err := DecodePayload(data)
	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t, types.PayloadVector, got.Kind)
	assert.Equal(t, "joint/leader", got.Name)
	assert.Equal(t, p.Vector, got.Vector)
}

func TestCodecImageRoundTrip(t *testing.T) {
	im := types.Image{Width: 3, Height: 2, Pix: []byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9,
		10, 11, 12, 13, 14, 15, 16, 17, 18,
	}}
	p := types.NewImagePayload("image/top", im)

	data, err := EncodePayload(p)
	require.NoError(t, err)

	got, empty, err := DecodePayload(data)
	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t, 3, got.Image.Width)
	assert.Equal(t, 2, got.Image.Height)
	assert.Equal(t, im.Pix, got.Image.Pix)
}

func TestCodecEmptyReply(t *testing.T) {
	_, empty, err := DecodePayload(EncodeEmpty())
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestCodecRejectsTruncated(t *testing.T) {
	p := types.NewVectorPayload("v", []float32{1, 2, 3})
	data, err := EncodePayload(p)
	require.NoError(t, err)

	_, _, err = DecodePayload(data[:len(data)-2])
	assert.Error(t, err)

	_, _, err = DecodePayload([]byte{9, 0, 0})
	assert.Error(t, err)
}

func TestCodecRejectsBadImageGeometry(t *testing.T) {
	_, err := EncodePayload(types.NewImagePayload("x", types.Image{Width: 2, Height: 2, Pix: make([]byte, 5)}))
	assert.Error(t, err)
}

func TestBridgeRequestReply(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "images.sock")
	jointPath := filepath.Join(dir, "joints.sock")

	graph := bus.New()
	bridge := NewBridgeAt(graph, imagePath, jointPath)
	require.NoError(t, bridge.Connect())
	defer bridge.Disconnect()

	client := NewClientAt(imagePath, jointPath)
	require.NoError(t, client.Connect())
	defer client.Close()

	// Nothing published yet: empty reply, no blocking, no error.
	_, ok := client.GetVector(bus.TopicJointFollower)
	assert.False(t, ok)

	graph.Publish(bus.TopicJointFollower, types.NewVectorPayload("joint/follower", []float32{1, 2, 3}))
	deadline := time.Now().Add(2 * time.Second)
	var vec []float32
	for time.Now().Before(deadline) {
		if v, ok := client.GetVector(bus.TopicJointFollower); ok {
			vec = v
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []float32{1, 2, 3}, vec)

	// Image socket serves image topics.
	im := types.Image{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6}}
	graph.Publish(bus.ImageTopic("top"), types.NewImagePayload("image/top", im))
	var got types.Image
	for time.Now().Before(deadline) {
		if g, ok := client.GetImage("top"); ok {
			got = g
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, im.Pix, got.Pix)
}

func TestBridgeActionReinjection(t *testing.T) {
	dir := t.TempDir()
	graph := bus.New()
	bridge := NewBridgeAt(graph, filepath.Join(dir, "i.sock"), filepath.Join(dir, "j.sock"))
	require.NoError(t, bridge.Connect())
	defer bridge.Disconnect()

	client := NewClientAt(filepath.Join(dir, "i.sock"), filepath.Join(dir, "j.sock"))
	require.NoError(t, client.Connect())
	defer client.Close()

	require.NoError(t, client.SendAction([]float32{4, 5, 6}))

	p, _, ok := graph.Latest(bus.TopicActionCommand)
	require.True(t, ok)
	assert.Equal(t, []float32{4, 5, 6}, p.Vector)
}

func TestBridgeIsLazy(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "images.sock")
	bridge := NewBridgeAt(bus.New(), imagePath, filepath.Join(dir, "joints.sock"))

	// No socket file exists until Connect.
	assert.NoFileExists(t, imagePath)

	require.NoError(t, bridge.Connect())
	assert.Error(t, bridge.Connect()) // double connect rejected
	bridge.Disconnect()
	bridge.Disconnect() // idempotent
}
