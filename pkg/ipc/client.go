package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/robocap/robocap/pkg/bus"
	"github.com/robocap/robocap/pkg/types"
)

// Client is the CLI side of the bridge: it pulls the latest image and
// joint payloads and pushes action commands. Each socket is owned by
// the goroutine running the record loop; the client is not safe for
// concurrent use and does not try to be.
type Client struct {
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	imageSock zmq4.Socket
	jointSock zmq4.Socket
	connected bool

	imagePath string
	jointPath string
}

// NewClient creates an unconnected client for the default socket paths.
func NewClient() *Client {
	return &Client{imagePath: DefaultImageSocketPath, jointPath: DefaultJointSocketPath}
}

// NewClientAt creates a client for custom socket paths (tests).
func NewClientAt(imagePath, jointPath string) *Client {
	return &Client{imagePath: imagePath, jointPath: jointPath}
}

// Connect dials both sockets.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return fmt.Errorf("client already connected")
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.imageSock = zmq4.NewReq(c.ctx, zmq4.WithTimeout(ReplyDeadline))
	c.jointSock = zmq4.NewReq(c.ctx, zmq4.WithTimeout(ReplyDeadline))

	if err := c.imageSock.Dial(endpoint(c.imagePath)); err != nil {
		c.cancel()
		return fmt.Errorf("dial image socket %s: %w", c.imagePath, err)
	}
	if err := c.jointSock.Dial(endpoint(c.jointPath)); err != nil {
		c.imageSock.Close()
		c.cancel()
		return fmt.Errorf("dial joint socket %s: %w", c.jointPath, err)
	}
	c.connected = true
	return nil
}

// Close terminates both sockets.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	c.cancel()
	c.imageSock.Close()
	c.jointSock.Close()
	c.connected = false
}

// GetImage pulls the latest frame of one camera. ok is false on the
// empty idle reply or a deadline miss; both are silent — they are the
// normal pull idle signal, not errors worth logging.
func (c *Client) GetImage(cam string) (types.Image, bool) {
	p, ok := c.request(c.imageSock, bus.ImageTopic(cam))
	if !ok || p.Kind != types.PayloadImage {
		return types.Image{}, false
	}
	return p.Image, true
}

// GetVector pulls the latest vector payload on a joint topic.
func (c *Client) GetVector(topic string) ([]float32, bool) {
	p, ok := c.request(c.jointSock, topic)
	if !ok || p.Kind != types.PayloadVector {
		return nil, false
	}
	return p.Vector, true
}

// SendAction pushes an action command vector into the graph.
func (c *Client) SendAction(vec []float32) error {
	data, err := EncodePayload(types.NewVectorPayload(bus.TopicActionCommand, vec))
	if err != nil {
		return err
	}
	msg := zmq4.NewMsgFrom([]byte("put"), data)
	if err := c.jointSock.Send(msg); err != nil {
		return fmt.Errorf("send action: %w", err)
	}
	if _, err := c.jointSock.Recv(); err != nil {
		return fmt.Errorf("action ack: %w", err)
	}
	return nil
}

func (c *Client) request(sock zmq4.Socket, topic string) (types.Payload, bool) {
	if err := sock.Send(zmq4.NewMsgString("get " + topic)); err != nil {
		return types.Payload{}, false
	}
	msg, err := sock.Recv()
	if err != nil {
		// Deadline miss: silent, the caller retries next tick.
		return types.Payload{}, false
	}
	if len(msg.Frames) == 0 {
		return types.Payload{}, false
	}
	p, empty, err := DecodePayload(msg.Frames[0])
	if err != nil || empty {
		return types.Payload{}, false
	}
	return p, true
}
