package device

import (
	"fmt"
	"math"
	"sync"

	"github.com/robocap/robocap/pkg/types"
)

func init() {
	RegisterMotorBus(VariantSimLeader, func(opts Options) (MotorBus, error) {
		return NewSimArm(opts.Name, leaderBusSpec(opts.Name), false), nil
	})
	RegisterMotorBus(VariantSimFollower, func(opts Options) (MotorBus, error) {
		return NewSimArm(opts.Name, followerBusSpec(opts.Name), true), nil
	})
	RegisterCamera(VariantSimCamera, func(opts Options) (Camera, error) {
		w, h := opts.Width, opts.Height
		if w == 0 {
			w = 640
		}
		if h == 0 {
			h = 480
		}
		return NewSimCamera(opts.Name, w, h), nil
	})
}

const simJointCount = 7

func leaderBusSpec(name string) *types.BusSpec {
	spec := &types.BusSpec{Name: name, Unit: types.UnitRadians}
	for i := 0; i < simJointCount; i++ {
		spec.Joints = append(spec.Joints, types.JointSpec{
			ID:            i,
			Name:          fmt.Sprintf("joint_%d", i),
			DirectionSign: 1,
			RangeMin:      -math.Pi,
			RangeMax:      math.Pi,
			Unit:          types.UnitRadians,
		})
	}
	return spec
}

func followerBusSpec(name string) *types.BusSpec {
	spec := &types.BusSpec{Name: name, Unit: types.UnitMilliDegrees}
	for i := 0; i < simJointCount; i++ {
		spec.Joints = append(spec.Joints, types.JointSpec{
			ID:            i,
			Name:          fmt.Sprintf("joint_%d", i),
			DirectionSign: 1,
			RangeMin:      -180000,
			RangeMax:      180000,
			Unit:          types.UnitMilliDegrees,
		})
	}
	return spec
}

// SimArm is an in-memory motor bus used by tests and bench sessions.
// A writable sim arm tracks the last commanded targets; a read-only
// one traces a slow sine wave so leader motion is visible end to end.
type SimArm struct {
	name     string
	spec     *types.BusSpec
	writable bool

	mu        sync.Mutex
	open      bool
	positions []int32
	ticks     int
}

// NewSimArm creates a sim arm with all joints at zero.
func NewSimArm(name string, spec *types.BusSpec, writable bool) *SimArm {
	return &SimArm{
		name:      name,
		spec:      spec,
		writable:  writable,
		positions: make([]int32, len(spec.Joints)),
	}
}

func (a *SimArm) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open {
		return fmt.Errorf("sim arm %s: already open", a.name)
	}
	a.open = true
	return nil
}

func (a *SimArm) ReadPositions() ([]int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return nil, fmt.Errorf("sim arm %s: not open", a.name)
	}
	if !a.writable {
		// Leader motion: slow drift on each joint, phase-shifted so the
		// joints are distinguishable in recordings.
		a.ticks++
		for i := range a.positions {
			v := 0.3 * math.Sin(float64(a.ticks)/90+float64(i))
			a.positions[i] = int32(math.Round(v * 10000))
		}
	}
	out := make([]int32, len(a.positions))
	copy(out, a.positions)
	return out, nil
}

func (a *SimArm) WritePositions(targets []int32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return fmt.Errorf("sim arm %s: not open", a.name)
	}
	if !a.writable {
		return ErrReadOnly
	}
	if len(targets) != len(a.positions) {
		return fmt.Errorf("sim arm %s: expected %d targets, got %d", a.name, len(a.positions), len(targets))
	}
	copy(a.positions, targets)
	return nil
}

// SetPositions overrides the current joint positions. Test hook.
func (a *SimArm) SetPositions(positions []int32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copy(a.positions, positions)
}

func (a *SimArm) Spec() *types.BusSpec { return a.spec }

func (a *SimArm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	return nil
}

// SimCamera produces synthetic RGB frames with a moving gradient so
// encoded videos are visually checkable.
type SimCamera struct {
	name   string
	width  int
	height int

	mu    sync.Mutex
	open  bool
	frame int
}

// NewSimCamera creates a sim camera with the given frame size.
func NewSimCamera(name string, width, height int) *SimCamera {
	return &SimCamera{name: name, width: width, height: height}
}

func (c *SimCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return fmt.Errorf("sim camera %s: already open", c.name)
	}
	c.open = true
	return nil
}

func (c *SimCamera) Capture() (types.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return types.Image{}, fmt.Errorf("sim camera %s: not open", c.name)
	}
	c.frame++
	pix := make([]byte, c.width*c.height*3)
	shift := byte(c.frame % 256)
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			i := (y*c.width + x) * 3
			pix[i] = byte(x) + shift
			pix[i+1] = byte(y)
			pix[i+2] = shift
		}
	}
	return types.Image{Width: c.width, Height: c.height, Pix: pix}, nil
}

func (c *SimCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}
