package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/robocap/robocap/pkg/types"
)

// MotorBus is the capability set the core consumes from an arm adapter.
// Wire protocols (serial register encoding, CAN framing) live in the
// driver behind this interface.
type MotorBus interface {
	// Open connects to the device. Must be called before any read or
	// write; a second Open is an error.
	Open() error

	// ReadPositions returns the current joint positions in the bus's
	// native integer units, in joint order.
	ReadPositions() ([]int32, error)

	// WritePositions commands the given joint targets. Leader-only
	// buses return ErrReadOnly.
	WritePositions(targets []int32) error

	// Spec describes the bus's joints and unit system.
	Spec() *types.BusSpec

	// Close releases the underlying device handle.
	Close() error
}

// Camera is the capability set the core consumes from a camera adapter.
type Camera interface {
	Open() error
	Capture() (types.Image, error)
	Close() error
}

// ErrReadOnly is returned by WritePositions on buses without actuation.
var ErrReadOnly = fmt.Errorf("motor bus is read-only")

// Adapter variant names. The drivers themselves are external; they
// register constructors here at init time. The sim variants ship with
// this package.
const (
	VariantSerialZhonglinLeader = "serial-zhonglin-leader"
	VariantFeetechLeader        = "feetech-leader"
	VariantPiperCANFollower     = "piper-can-follower"
	VariantOpenCVCamera         = "opencv-camera"
	VariantRealSenseCamera      = "realsense-camera"
	VariantSimLeader            = "sim-leader"
	VariantSimFollower          = "sim-follower"
	VariantSimCamera            = "sim-camera"
)

// Options carries the device identity handed to a constructor.
type Options struct {
	// Port is the serial port, CAN interface, or video device path.
	Port string
	// Name labels the device in logs and topics.
	Name string
	// Width and Height apply to cameras.
	Width  int
	Height int
}

type (
	MotorBusConstructor func(opts Options) (MotorBus, error)
	CameraConstructor   func(opts Options) (Camera, error)
)

var (
	registryMu sync.RWMutex
	motorBuses = make(map[string]MotorBusConstructor)
	cameras    = make(map[string]CameraConstructor)
)

// RegisterMotorBus registers a motor bus constructor under a variant
// name. Later registrations win, which lets tests substitute fakes.
func RegisterMotorBus(variant string, ctor MotorBusConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	motorBuses[variant] = ctor
}

// RegisterCamera registers a camera constructor under a variant name.
func RegisterCamera(variant string, ctor CameraConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	cameras[variant] = ctor
}

// OpenMotorBus constructs and opens the named variant.
func OpenMotorBus(variant string, opts Options) (MotorBus, error) {
	registryMu.RLock()
	ctor, ok := motorBuses[variant]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown motor bus variant %q (registered: %v)", variant, registeredMotorBuses())
	}
	b, err := ctor(opts)
	if err != nil {
		return nil, err
	}
	if err := b.Open(); err != nil {
		return nil, fmt.Errorf("open motor bus %s on %s: %w", variant, opts.Port, err)
	}
	return b, nil
}

// OpenCamera constructs and opens the named variant.
func OpenCamera(variant string, opts Options) (Camera, error) {
	registryMu.RLock()
	ctor, ok := cameras[variant]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown camera variant %q (registered: %v)", variant, registeredCameras())
	}
	c, err := ctor(opts)
	if err != nil {
		return nil, err
	}
	if err := c.Open(); err != nil {
		return nil, fmt.Errorf("open camera %s on %s: %w", variant, opts.Port, err)
	}
	return c, nil
}

func registeredMotorBuses() []string {
	names := make([]string, 0, len(motorBuses))
	for n := range motorBuses {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func registeredCameras() []string {
	names := make([]string, 0, len(cameras))
	for n := range cameras {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
