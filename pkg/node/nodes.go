package node

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/bus"
	"github.com/robocap/robocap/pkg/device"
	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/teleop"
	"github.com/robocap/robocap/pkg/types"
)

// commandInterval throttles follower command emission to 30 Hz.
const commandInterval = 30 * time.Millisecond

// CameraNode captures one camera and emits image/<name> on each tick.
type CameraNode struct {
	name    string
	variant string
	opts    device.Options
	cam     device.Camera
}

// NewCameraNode creates a camera node for a registered variant.
func NewCameraNode(name, variant string, opts device.Options) *CameraNode {
	opts.Name = name
	return &CameraNode{name: name, variant: variant, opts: opts}
}

func (n *CameraNode) Name() string { return n.name }

func (n *CameraNode) Open() error {
	cam, err := device.OpenCamera(n.variant, n.opts)
	if err != nil {
		return err
	}
	n.cam = cam
	return nil
}

func (n *CameraNode) Inputs() []string { return nil }

func (n *CameraNode) OnTick(emit EmitFunc) error {
	im, err := n.cam.Capture()
	if err != nil {
		return fmt.Errorf("capture %s: %w", n.name, err)
	}
	emit(bus.ImageTopic(n.name), types.NewImagePayload(bus.ImageTopic(n.name), im))
	return nil
}

func (n *CameraNode) OnInput(string, types.Payload, EmitFunc) error { return nil }

func (n *CameraNode) Close() error {
	if n.cam == nil {
		return nil
	}
	return n.cam.Close()
}

// LeaderNode reads the leader arm and emits joint/leader in radians.
// A low-pass filter smooths sensor noise before emission.
type LeaderNode struct {
	name    string
	variant string
	opts    device.Options
	arm     device.MotorBus

	// rawPerRadian converts the bus's native integer units to radians.
	rawPerRadian float64
	filterAlpha  float64
	filtered     []float64
}

// NewLeaderNode creates a leader reader node.
func NewLeaderNode(name, variant string, opts device.Options, rawPerRadian float64) *LeaderNode {
	opts.Name = name
	return &LeaderNode{
		name:         name,
		variant:      variant,
		opts:         opts,
		rawPerRadian: rawPerRadian,
		filterAlpha:  0.2,
	}
}

func (n *LeaderNode) Name() string { return n.name }

func (n *LeaderNode) Open() error {
	arm, err := device.OpenMotorBus(n.variant, n.opts)
	if err != nil {
		return err
	}
	n.arm = arm
	return nil
}

func (n *LeaderNode) Inputs() []string { return nil }

func (n *LeaderNode) OnTick(emit EmitFunc) error {
	raw, err := n.arm.ReadPositions()
	if err != nil {
		return fmt.Errorf("read leader %s: %w", n.name, err)
	}

	joints := make([]float64, len(raw))
	for i, v := range raw {
		joints[i] = float64(v) / n.rawPerRadian
	}

	if n.filtered == nil {
		n.filtered = joints
	} else {
		for i := range joints {
			n.filtered[i] = n.filterAlpha*joints[i] + (1-n.filterAlpha)*n.filtered[i]
		}
	}

	vec := make([]float32, len(n.filtered))
	for i, v := range n.filtered {
		vec[i] = float32(v)
	}
	emit(bus.TopicJointLeader, types.NewVectorPayload(bus.TopicJointLeader, vec))
	return nil
}

func (n *LeaderNode) OnInput(string, types.Payload, EmitFunc) error { return nil }

func (n *LeaderNode) Close() error {
	if n.arm == nil {
		return nil
	}
	return n.arm.Close()
}

// FollowerNode owns the follower arm: it publishes joint/follower on
// each tick and executes action/command inputs, throttled to 30 Hz.
type FollowerNode struct {
	name    string
	variant string
	opts    device.Options
	arm     device.MotorBus

	lastCommand time.Time
}

// NewFollowerNode creates a follower actuator node.
func NewFollowerNode(name, variant string, opts device.Options) *FollowerNode {
	opts.Name = name
	return &FollowerNode{name: name, variant: variant, opts: opts}
}

func (n *FollowerNode) Name() string { return n.name }

func (n *FollowerNode) Open() error {
	arm, err := device.OpenMotorBus(n.variant, n.opts)
	if err != nil {
		return err
	}
	n.arm = arm
	return nil
}

func (n *FollowerNode) Inputs() []string { return []string{bus.TopicActionCommand} }

func (n *FollowerNode) OnTick(emit EmitFunc) error {
	pos, err := n.arm.ReadPositions()
	if err != nil {
		return fmt.Errorf("read follower %s: %w", n.name, err)
	}
	vec := make([]float32, len(pos))
	for i, v := range pos {
		vec[i] = float32(v)
	}
	emit(bus.TopicJointFollower, types.NewVectorPayload(bus.TopicJointFollower, vec))
	return nil
}

func (n *FollowerNode) OnInput(topic string, p types.Payload, _ EmitFunc) error {
	if topic != bus.TopicActionCommand || p.Kind != types.PayloadVector {
		return nil
	}
	// Drop commands arriving faster than the actuation rate; the
	// follower reads latest, not a queue.
	now := time.Now()
	if now.Sub(n.lastCommand) < commandInterval {
		return nil
	}
	n.lastCommand = now

	targets := make([]int32, len(p.Vector))
	for i, v := range p.Vector {
		targets[i] = int32(v)
	}
	if err := n.arm.WritePositions(targets); err != nil {
		return fmt.Errorf("write follower %s: %w", n.name, err)
	}
	return nil
}

func (n *FollowerNode) Close() error {
	if n.arm == nil {
		return nil
	}
	return n.arm.Close()
}

// TeleopNode maps joint/leader samples into action/command targets
// using the pose baseline established on the first samples of each
// side. It owns no device.
type TeleopNode struct {
	name   string
	cfg    teleop.Config
	signs  []float64
	logger zerolog.Logger

	mapper         *teleop.Mapper
	followerActual []int32
	lastEmit       time.Time
	emergencySeen  bool
}

// NewTeleopNode creates the mapper node with the leader's direction
// table.
func NewTeleopNode(name string, cfg teleop.Config, signs []float64) *TeleopNode {
	return &TeleopNode{name: name, cfg: cfg, signs: signs, logger: log.WithNode(name)}
}

func (n *TeleopNode) Name() string { return n.name }

func (n *TeleopNode) Open() error { return nil }

func (n *TeleopNode) Inputs() []string {
	return []string{bus.TopicJointLeader, bus.TopicJointFollower}
}

func (n *TeleopNode) OnTick(EmitFunc) error { return nil }

// State exposes the mapper state for supervision and tests.
func (n *TeleopNode) State() types.TeleopState {
	if n.mapper == nil {
		return types.TeleopAwaitingFollower
	}
	return n.mapper.State()
}

func (n *TeleopNode) OnInput(topic string, p types.Payload, emit EmitFunc) error {
	if p.Kind != types.PayloadVector {
		return nil
	}

	switch topic {
	case bus.TopicJointFollower:
		actual := make([]int32, len(p.Vector))
		for i, v := range p.Vector {
			actual[i] = int32(v)
		}
		n.followerActual = actual

		if n.mapper == nil {
			// The first follower reading is the mapping baseline on
			// the follower side.
			m, err := teleop.NewMapper(n.cfg, types.UnitRadians, types.UnitMilliDegrees, n.signs, actual)
			if err != nil {
				return err
			}
			n.mapper = m
		}
		return nil

	case bus.TopicJointLeader:
		if n.mapper == nil {
			// Benign: the follower has not published yet.
			return nil
		}
		leader := make([]float64, len(p.Vector))
		for i, v := range p.Vector {
			leader[i] = float64(v)
		}

		target, err := n.mapper.Map(leader, n.followerActual)
		if errors.Is(err, teleop.ErrEmergencyStop) {
			// The mapper logged the terminal event; suppress commands
			// quietly from here on.
			n.emergencySeen = true
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now()
		if now.Sub(n.lastEmit) < commandInterval {
			return nil
		}
		n.lastEmit = now

		vec := make([]float32, len(target))
		for i, v := range target {
			vec[i] = float32(v)
		}
		emit(bus.TopicActionCommand, types.NewVectorPayload(bus.TopicActionCommand, vec))
		return nil
	}
	return nil
}

func (n *TeleopNode) Close() error { return nil }
