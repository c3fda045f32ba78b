package mesh

import (
	"encoding/binary"
	"errors"

	"github.com/ryandielhenn/lightmesh/pkg/flood"
)

const (
	// BeaconType tags routing beacons.
	BeaconType uint16 = 0xbeac
	// BeaconLen is the size of a beacon frame:
	//
	//	[0:2] type  [2:4] source  [4:6] rank  [6:8] counter (int16)  [8] state
	BeaconLen = 9
)

var (
	ErrShortFrame = errors.New("mesh: frame too short")
	ErrFrameType  = errors.New("mesh: unexpected frame type")
)

// Frame is one received frame and the transport address it came from.
type Frame struct {
	From string
	Data []byte
}

// Type returns the frame's type tag.
func (f Frame) Type() (uint16, bool) {
	if len(f.Data) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(f.Data), true
}

func EncodeBeacon(b flood.Beacon) []byte {
	out := make([]byte, 0, BeaconLen)
	out = binary.LittleEndian.AppendUint16(out, BeaconType)
	out = binary.LittleEndian.AppendUint16(out, b.From)
	out = binary.LittleEndian.AppendUint16(out, b.Rank)
	out = binary.LittleEndian.AppendUint16(out, uint16(b.Counter))
	if b.State {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

func DecodeBeacon(p []byte) (flood.Beacon, error) {
	if len(p) < BeaconLen {
		return flood.Beacon{}, ErrShortFrame
	}
	if binary.LittleEndian.Uint16(p[0:2]) != BeaconType {
		return flood.Beacon{}, ErrFrameType
	}
	return flood.Beacon{
		From:    binary.LittleEndian.Uint16(p[2:4]),
		Rank:    binary.LittleEndian.Uint16(p[4:6]),
		Counter: int16(binary.LittleEndian.Uint16(p[6:8])),
		State:   p[8] != 0,
	}, nil
}
