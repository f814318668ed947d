package graph

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/bus"
	"github.com/robocap/robocap/pkg/device"
	"github.com/robocap/robocap/pkg/ipc"
	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/node"
	"github.com/robocap/robocap/pkg/teleop"
)

// Coordinator hosts the dataflow graph: every node runs as an
// independent single-threaded event loop on the shared bus, and the
// bridge node exposes the graph to the controlling CLI over the IPC
// sockets. The coordinator itself runs as a subprocess of the CLI.
type Coordinator struct {
	spec   *Spec
	logger zerolog.Logger

	bus      *bus.Bus
	bridge   *ipc.Bridge
	runtimes []*node.Runtime
	errCh    chan error
}

// NewCoordinator builds the graph from its spec.
func NewCoordinator(spec *Spec) (*Coordinator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		spec:   spec,
		logger: log.WithComponent("graph"),
		bus:    bus.New(),
		errCh:  make(chan error, len(spec.Nodes)),
	}, nil
}

// Start constructs and launches every node. It returns once every node
// goroutine has been started and the bridge is bound, without waiting
// for the nodes to reach their event loop; node failures surface on
// Errors.
func (c *Coordinator) Start() error {
	for _, spec := range c.spec.Nodes {
		handler, err := c.buildHandler(spec)
		if err != nil {
			c.Stop()
			return err
		}
		if handler == nil {
			continue // bridge: not a runtime-hosted node
		}

		period := node.DefaultPeriod
		if spec.PeriodMS > 0 {
			period = time.Duration(spec.PeriodMS) * time.Millisecond
		}
		rt := node.NewRuntime(handler, c.bus, period)
		c.runtimes = append(c.runtimes, rt)
		go func(id string, rt *node.Runtime) {
			if err := rt.Run(); err != nil {
				c.errCh <- fmt.Errorf("node %s: %w", id, err)
			}
		}(spec.ID, rt)
	}

	if err := c.bridge.Connect(); err != nil {
		c.Stop()
		return err
	}
	c.logger.Info().Int("nodes", len(c.runtimes)).Msg("dataflow graph started")
	return nil
}

// Errors delivers fatal node failures.
func (c *Coordinator) Errors() <-chan error { return c.errCh }

// Stop drains every node (device release bounded by the runtime's
// drain grace) and closes the bridge sockets.
func (c *Coordinator) Stop() {
	for _, rt := range c.runtimes {
		rt.Stop()
	}
	if c.bridge != nil {
		c.bridge.Disconnect()
	}
	c.logger.Info().Msg("dataflow graph stopped")
}

func (c *Coordinator) buildHandler(spec NodeSpec) (node.Handler, error) {
	switch spec.Kind {
	case KindCamera:
		return node.NewCameraNode(spec.ID, spec.Variant, device.Options{
			Port: spec.Path, Width: spec.Width, Height: spec.Height,
		}), nil

	case KindLeader:
		rawPerRadian := spec.RawPerRadian
		if rawPerRadian == 0 {
			rawPerRadian = 1
		}
		return node.NewLeaderNode(spec.ID, spec.Variant, device.Options{Port: spec.Path}, rawPerRadian), nil

	case KindFollower:
		return node.NewFollowerNode(spec.ID, spec.Variant, device.Options{Port: spec.Path}), nil

	case KindTeleop:
		// All sim and production leader buses declare positive signs by
		// default; mirrored joints come from the device calibration.
		signs := make([]float64, 7)
		for i := range signs {
			signs[i] = 1
		}
		return node.NewTeleopNode(spec.ID, teleop.DefaultConfig(), signs), nil

	case KindBridge:
		c.bridge = ipc.NewBridge(c.bus)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown node kind %q", spec.Kind)
	}
}
