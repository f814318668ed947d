package ipc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/robocap/robocap/pkg/types"
)

// Wire format, little-endian:
//
//	[1]  kind: 0 empty, 1 image, 2 vector
//	[2]  name length n, uint16
//	[n]  name
//	kind 1: [4] width, [4] height, [w*h*3] pixels
//	kind 2: [4] element count m, [m*4] float32 values
//
// An empty reply (kind 0) is the pull-idle signal: the topic has no
// data yet and the caller should simply try again next tick.
const (
	wireEmpty  = 0
	wireImage  = 1
	wireVector = 2
)

// EncodeEmpty returns the empty-payload reply.
func EncodeEmpty() []byte {
	return []byte{wireEmpty, 0, 0}
}

// EncodePayload serializes a bus payload.
func EncodePayload(p types.Payload) ([]byte, error) {
	name := []byte(p.Name)
	if len(name) > math.MaxUint16 {
		return nil, fmt.Errorf("payload name too long: %d bytes", len(name))
	}

	switch p.Kind {
	case types.PayloadImage:
		im := p.Image
		if len(im.Pix) != im.Width*im.Height*3 {
			return nil, fmt.Errorf("image payload %q: %d bytes for %dx%d", p.Name, len(im.Pix), im.Width, im.Height)
		}
		buf := make([]byte, 0, 3+len(name)+8+len(im.Pix))
		buf = append(buf, wireImage)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
		buf = append(buf, name...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(im.Width))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(im.Height))
		buf = append(buf, im.Pix...)
		return buf, nil

	case types.PayloadVector:
		buf := make([]byte, 0, 3+len(name)+4+4*len(p.Vector))
		buf = append(buf, wireVector)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
		buf = append(buf, name...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Vector)))
		for _, v := range p.Vector {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
		return buf, nil

	default:
		return nil, fmt.Errorf("unknown payload kind %d", p.Kind)
	}
}

// DecodePayload parses a wire payload. empty is true for the
// empty-payload idle reply.
func DecodePayload(data []byte) (p types.Payload, empty bool, err error) {
	if len(data) < 3 {
		return types.Payload{}, false, fmt.Errorf("payload too short: %d bytes", len(data))
	}
	kind := data[0]
	nameLen := int(binary.LittleEndian.Uint16(data[1:3]))
	rest := data[3:]
	if len(rest) < nameLen {
		return types.Payload{}, false, fmt.Errorf("truncated payload name")
	}
	name := string(rest[:nameLen])
	rest = rest[nameLen:]

	switch kind {
	case wireEmpty:
		return types.Payload{}, true, nil

	case wireImage:
		if len(rest) < 8 {
			return types.Payload{}, false, fmt.Errorf("truncated image header")
		}
		w := int(binary.LittleEndian.Uint32(rest[0:4]))
		h := int(binary.LittleEndian.Uint32(rest[4:8]))
		pix := rest[8:]
		if len(pix) != w*h*3 {
			return types.Payload{}, false, fmt.Errorf("image %q: %d pixel bytes for %dx%d", name, len(pix), w, h)
		}
		return types.NewImagePayload(name, types.Image{Width: w, Height: h, Pix: append([]byte(nil), pix...)}), false, nil

	case wireVector:
		if len(rest) < 4 {
			return types.Payload{}, false, fmt.Errorf("truncated vector header")
		}
		m := int(binary.LittleEndian.Uint32(rest[0:4]))
		rest = rest[4:]
		if len(rest) != m*4 {
			return types.Payload{}, false, fmt.Errorf("vector %q: %d value bytes for %d elements", name, len(rest), m)
		}
		vec := make([]float32, m)
		for i := 0; i < m; i++ {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(rest[i*4 : i*4+4]))
		}
		return types.NewVectorPayload(name, vec), false, nil

	default:
		return types.Payload{}, false, fmt.Errorf("unknown wire kind %d", kind)
	}
}
