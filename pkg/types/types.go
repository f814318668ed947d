package types

import (
	"fmt"
	"math"
	"time"
)

// Unit identifies the unit system of a joint vector. All joints of one
// bus share a single unit system; BusSpec.Validate rejects mixed-unit
// buses.
type Unit string

const (
	UnitRadians      Unit = "radians"
	UnitDegrees      Unit = "degrees"
	UnitMilliDegrees Unit = "milli_degrees"
	UnitRange0To100  Unit = "range_0_100"
	UnitRawUnits     Unit = "raw_units"
)

// JointSpec describes one joint of a motor bus.
type JointSpec struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	DirectionSign float64 `json:"direction_sign"` // +1 or -1
	RangeMin      float64 `json:"range_min"`
	RangeMax      float64 `json:"range_max"`
	HomingOffset  float64 `json:"homing_offset"`
	Unit          Unit    `json:"unit"`
}

// BusSpec describes a motor bus: an ordered set of joints sharing one
// unit system.
type BusSpec struct {
	Name   string      `json:"name"`
	Unit   Unit        `json:"unit"`
	Joints []JointSpec `json:"joints"`
}

// Validate checks the single-unit invariant and direction signs.
func (b *BusSpec) Validate() error {
	if len(b.Joints) == 0 {
		return fmt.Errorf("bus %s: no joints declared", b.Name)
	}
	for _, j := range b.Joints {
		if j.Unit != b.Unit {
			return fmt.Errorf("bus %s: joint %d declares unit %q, bus unit is %q (mixed-unit buses are not supported)",
				b.Name, j.ID, j.Unit, b.Unit)
		}
		if j.DirectionSign != 1 && j.DirectionSign != -1 {
			return fmt.Errorf("bus %s: joint %d direction sign must be +1 or -1, got %v", b.Name, j.ID, j.DirectionSign)
		}
	}
	return nil
}

// Signs returns the per-joint direction signs in joint order.
func (b *BusSpec) Signs() []float64 {
	signs := make([]float64, len(b.Joints))
	for i, j := range b.Joints {
		signs[i] = j.DirectionSign
	}
	return signs
}

// UnitScale returns the multiplicative factor converting values in
// `from` units to `to` units. Range and raw units have no angular
// meaning and only convert to themselves.
func UnitScale(from, to Unit) (float64, error) {
	if from == to {
		return 1, nil
	}
	deg := map[Unit]float64{
		UnitRadians:      180 / math.Pi,
		UnitDegrees:      1,
		UnitMilliDegrees: 1.0 / 1000,
	}
	fromDeg, okFrom := deg[from]
	toDeg, okTo := deg[to]
	if !okFrom || !okTo {
		return 0, fmt.Errorf("no unit conversion from %q to %q", from, to)
	}
	return fromDeg / toDeg, nil
}

// Convert maps a joint vector between unit systems.
func Convert(values []float64, from, to Unit) ([]float64, error) {
	scale, err := UnitScale(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * scale
	}
	return out, nil
}

// Image is one camera frame in H×W×3 uint8 layout (RGB24).
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Clone returns a deep copy of the image.
func (im Image) Clone() Image {
	pix := make([]byte, len(im.Pix))
	copy(pix, im.Pix)
	return Image{Width: im.Width, Height: im.Height, Pix: pix}
}

// PayloadKind discriminates bus payload variants.
type PayloadKind int

const (
	PayloadImage PayloadKind = iota
	PayloadVector
)

// Payload is the tagged variant carried between dataflow nodes: either
// an image frame or a named numeric vector.
type Payload struct {
	Kind   PayloadKind
	Name   string
	Image  Image
	Vector []float32
}

// NewImagePayload wraps an image frame.
func NewImagePayload(name string, im Image) Payload {
	return Payload{Kind: PayloadImage, Name: name, Image: im}
}

// NewVectorPayload wraps a named numeric vector.
func NewVectorPayload(name string, vec []float32) Payload {
	return Payload{Kind: PayloadVector, Name: name, Vector: vec}
}

// Frame is one tick's sample: joint state, camera images, and the
// action sent to the follower for this tick.
type Frame struct {
	FrameIndex   int
	EpisodeIndex int
	Timestamp    float64
	State        []float64
	Action       []float64
	Images       map[string]Image
	Task         string
}

// NodeState is the lifecycle state of a dataflow node.
type NodeState string

const (
	NodeStarting   NodeState = "starting"
	NodeConnecting NodeState = "connecting"
	NodeRunning    NodeState = "running"
	NodeDraining   NodeState = "draining"
	NodeStopped    NodeState = "stopped"
)

// TeleopState is the state of the leader→follower mapper.
type TeleopState string

const (
	TeleopAwaitingFollower    TeleopState = "awaiting_follower"
	TeleopBaselineEstablished TeleopState = "baseline_established"
	TeleopEmergency           TeleopState = "emergency"
)

// OffloadMode selects the post-episode hand-off behavior. Fixed per
// session.
type OffloadMode int

const (
	OffloadLocal        OffloadMode = 0 // encode locally, no upload
	OffloadCloudRaw     OffloadMode = 1 // skip encoding, upload raw frames to cloud
	OffloadEdge         OffloadMode = 2 // skip encoding, tar to edge server
	OffloadCloudEncoded OffloadMode = 3 // encode locally, upload encoded videos
	OffloadLocalRaw     OffloadMode = 4 // skip encoding, keep raw frames locally
)

// SkipsEncoding reports whether local video encoding is skipped in this
// mode.
func (m OffloadMode) SkipsEncoding() bool {
	return m == OffloadCloudRaw || m == OffloadEdge || m == OffloadLocalRaw
}

// Uploads reports whether the mode transfers data off the robot.
func (m OffloadMode) Uploads() bool {
	return m == OffloadCloudRaw || m == OffloadEdge || m == OffloadCloudEncoded
}

func (m OffloadMode) String() string {
	switch m {
	case OffloadLocal:
		return "local"
	case OffloadCloudRaw:
		return "cloud-raw"
	case OffloadEdge:
		return "edge"
	case OffloadCloudEncoded:
		return "cloud-encoded"
	case OffloadLocalRaw:
		return "local-raw"
	}
	return fmt.Sprintf("offload-mode-%d", int(m))
}

// TransactionStatus is the remote training service's view of one
// training job.
type TransactionStatus string

const (
	StatusUploading TransactionStatus = "UPLOADING"
	StatusEncoding  TransactionStatus = "ENCODING"
	StatusReady     TransactionStatus = "READY"
	StatusTraining  TransactionStatus = "TRAINING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Terminal reports whether the status ends the transaction lifecycle.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SSHInfo carries cloud SSH credentials returned by a COMPLETED status.
// Password is base64-encoded on the wire.
type SSHInfo struct {
	Host        string
	User        string
	Port        int
	PasswordB64 string
	ModelPath   string
}

// OffloadTransaction is the handle for one training job.
type OffloadTransaction struct {
	RepoID        string            `json:"repo_id"`
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	LastUpdated   time.Time         `json:"last_updated"`
	SSH           *SSHInfo          `json:"ssh,omitempty"`
}
