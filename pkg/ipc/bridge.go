package ipc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/bus"
	"github.com/robocap/robocap/pkg/log"
)

// Fixed socket paths. The lifecycle supervisor deletes stale files at
// startup; the bridge binds lazily on Connect.
const (
	DefaultImageSocketPath = "/tmp/robocap-images.sock"
	DefaultJointSocketPath = "/tmp/robocap-joints.sock"
)

// ReplyDeadline bounds every request: absence of data yields an empty
// reply well inside it so callers never block indefinitely.
const ReplyDeadline = 100 * time.Millisecond

// SocketPaths returns the bridge's socket files in a fixed order.
func SocketPaths() []string {
	return []string{DefaultImageSocketPath, DefaultJointSocketPath}
}

func endpoint(path string) string { return "ipc://" + path }

// Bridge republishes selected dataflow topics over two named
// request/reply sockets — one for image frames, one for joint vectors —
// and re-injects action commands from the CLI into the graph.
type Bridge struct {
	bus    *bus.Bus
	logger zerolog.Logger

	imagePath string
	jointPath string

	mu        sync.Mutex
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	imageSock zmq4.Socket
	jointSock zmq4.Socket
	wg        sync.WaitGroup
}

// NewBridge creates an unbound bridge over the graph bus.
func NewBridge(b *bus.Bus) *Bridge {
	return &Bridge{
		bus:       b,
		logger:    log.WithComponent("ipc"),
		imagePath: DefaultImageSocketPath,
		jointPath: DefaultJointSocketPath,
	}
}

// NewBridgeAt creates a bridge with custom socket paths (tests).
func NewBridgeAt(b *bus.Bus, imagePath, jointPath string) *Bridge {
	br := NewBridge(b)
	br.imagePath = imagePath
	br.jointPath = jointPath
	return br
}

// Connect binds both sockets and starts serving. The bridge is lazy:
// nothing is bound before this call.
func (b *Bridge) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return fmt.Errorf("bridge already connected")
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.imageSock = zmq4.NewRep(b.ctx)
	b.jointSock = zmq4.NewRep(b.ctx)

	if err := b.imageSock.Listen(endpoint(b.imagePath)); err != nil {
		b.cancel()
		return fmt.Errorf("bind image socket %s: %w", b.imagePath, err)
	}
	if err := b.jointSock.Listen(endpoint(b.jointPath)); err != nil {
		b.imageSock.Close()
		b.cancel()
		return fmt.Errorf("bind joint socket %s: %w", b.jointPath, err)
	}

	b.wg.Add(2)
	go b.serve(b.imageSock, "image")
	go b.serve(b.jointSock, "joint")

	b.connected = true
	b.logger.Info().Str("images", b.imagePath).Str("joints", b.jointPath).Msg("ipc bridge bound")
	return nil
}

// Disconnect closes both sockets with zero linger and terminates the
// serving context.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return
	}
	b.cancel()
	b.imageSock.Close()
	b.jointSock.Close()
	b.wg.Wait()
	b.connected = false
	b.logger.Info().Msg("ipc bridge closed")
}

func (b *Bridge) serve(sock zmq4.Socket, label string) {
	defer b.wg.Done()
	for {
		msg, err := sock.Recv()
		if err != nil {
			select {
			case <-b.ctx.Done():
				return
			default:
			}
			// Transient receive errors are logged and served past.
			b.logger.Debug().Err(err).Str("socket", label).Msg("recv failed")
			continue
		}

		reply := b.handle(msg)
		if err := sock.Send(zmq4.NewMsg(reply)); err != nil {
			select {
			case <-b.ctx.Done():
				return
			default:
			}
			b.logger.Debug().Err(err).Str("socket", label).Msg("send failed")
		}
	}
}

// handle serves one request. Requests are either "get <topic>" or a
// "put" carrying an encoded action payload for re-injection.
func (b *Bridge) handle(msg zmq4.Msg) []byte {
	if len(msg.Frames) == 0 {
		return EncodeEmpty()
	}
	req := string(msg.Frames[0])

	switch {
	case strings.HasPrefix(req, "get "):
		topic := strings.TrimPrefix(req, "get ")
		p, _, ok := b.bus.Latest(topic)
		if !ok {
			return EncodeEmpty()
		}
		data, err := EncodePayload(p)
		if err != nil {
			b.logger.Error().Err(err).Str("topic", topic).Msg("payload encode failed")
			return EncodeEmpty()
		}
		return data

	case req == "put" && len(msg.Frames) > 1:
		p, empty, err := DecodePayload(msg.Frames[1])
		if err != nil || empty {
			b.logger.Warn().Err(err).Msg("rejected malformed action payload")
			return EncodeEmpty()
		}
		b.bus.Publish(bus.TopicActionCommand, p)
		return []byte{wireEmpty, 0, 0}

	default:
		return EncodeEmpty()
	}
}
