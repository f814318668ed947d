package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/robocap/robocap/pkg/config"
	"github.com/robocap/robocap/pkg/device"
)

// NodeKind selects a node constructor.
type NodeKind string

const (
	KindCamera   NodeKind = "camera"
	KindLeader   NodeKind = "leader"
	KindFollower NodeKind = "follower"
	KindTeleop   NodeKind = "teleop"
	KindBridge   NodeKind = "bridge"
)

// NodeSpec declares one node of the dataflow graph.
type NodeSpec struct {
	ID       string   `yaml:"id"`
	Kind     NodeKind `yaml:"kind"`
	Variant  string   `yaml:"variant,omitempty"`
	Path     string   `yaml:"path,omitempty"` // device path / serial port / CAN id
	Width    int      `yaml:"width,omitempty"`
	Height   int      `yaml:"height,omitempty"`
	PeriodMS int      `yaml:"period_ms,omitempty"`

	// RawPerRadian converts a leader bus's native units to radians.
	RawPerRadian float64 `yaml:"raw_per_radian,omitempty"`
}

// Spec is the whole graph topology.
type Spec struct {
	Nodes []NodeSpec `yaml:"nodes"`
}

// Load reads a graph topology file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph spec %s: %w", path, err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse graph spec %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Save writes the topology to a file.
func (s *Spec) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks ids, kinds, and the single-bridge constraint.
func (s *Spec) Validate() error {
	if len(s.Nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	seen := make(map[string]bool)
	bridges := 0
	for _, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("graph node without id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		switch n.Kind {
		case KindCamera, KindLeader, KindFollower, KindTeleop:
		case KindBridge:
			bridges++
		default:
			return fmt.Errorf("node %q: unknown kind %q", n.ID, n.Kind)
		}
	}
	if bridges != 1 {
		return fmt.Errorf("graph needs exactly one bridge node, found %d", bridges)
	}
	return nil
}

// Cameras returns the camera node ids, which double as topic names.
func (s *Spec) Cameras() []string {
	var out []string
	for _, n := range s.Nodes {
		if n.Kind == KindCamera {
			out = append(out, n.ID)
		}
	}
	return out
}

// FromConfig derives the default bimanual-cell topology from the
// session configuration: two cameras, leader, follower, teleop mapper,
// and the IPC bridge.
func FromConfig(cfg *config.Config, sim bool) *Spec {
	camVariant := device.VariantOpenCVCamera
	leaderVariant := device.VariantSerialZhonglinLeader
	followerVariant := device.VariantPiperCANFollower
	rawPerRadian := 1.0
	if sim {
		camVariant = device.VariantSimCamera
		leaderVariant = device.VariantSimLeader
		followerVariant = device.VariantSimFollower
		rawPerRadian = 10000
	}
	return &Spec{Nodes: []NodeSpec{
		{ID: "top", Kind: KindCamera, Variant: camVariant, Path: cfg.CameraTopPath, Width: 640, Height: 480},
		{ID: "wrist", Kind: KindCamera, Variant: camVariant, Path: cfg.CameraWristPath, Width: 640, Height: 480},
		{ID: "arm-leader", Kind: KindLeader, Variant: leaderVariant, Path: cfg.ArmLeaderPort, RawPerRadian: rawPerRadian},
		{ID: "arm-follower", Kind: KindFollower, Variant: followerVariant, Path: cfg.ArmFollowerPort},
		{ID: "teleop", Kind: KindTeleop},
		{ID: "bridge", Kind: KindBridge},
	}}
}
