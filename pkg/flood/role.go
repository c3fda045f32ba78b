package flood

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Role is what a node does in the flood. It is fixed for the life of a node.
type Role uint8

const (
	Relay Role = iota
	Source
	Sink
)

func (r Role) String() string {
	switch r {
	case Source:
		return "source"
	case Sink:
		return "sink"
	default:
		return "relay"
	}
}

// Addr is a node's 64-bit (EUI-64) address.
type Addr [8]byte

// ShortID is the 16-bit identifier taken from the last two address bytes.
func (a Addr) ShortID() uint16 {
	return uint16(a[6])<<8 | uint16(a[7])
}

// Is reports whether a's short ID equals id.
func (a Addr) Is(id uint16) bool {
	return a[7] == byte(id&0xff) && a[6] == byte(id>>8)
}

func (a Addr) String() string {
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, "-")
}

// ParseAddr accepts 16 hex digits, optionally separated by '-' or ':'.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	clean := strings.NewReplacer("-", "", ":", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return a, fmt.Errorf("parse addr %q: %w", s, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("parse addr %q: want 8 bytes, got %d", s, len(b))
	}
	copy(a[:], b)
	return a, nil
}

var ErrSameSourceAndSink = errors.New("flood: sensor and sink ids must differ")

// ResolveRole decides a node's role from its address and the configured
// sensor and sink short IDs. A node that carries the sensor ID but has no
// light sensor attached acts as a relay.
func ResolveRole(self Addr, sensorID, sinkID uint16, sensorPresent bool) (Role, error) {
	if sensorID == sinkID {
		return Relay, ErrSameSourceAndSink
	}
	switch {
	case self.Is(sensorID) && sensorPresent:
		return Source, nil
	case self.Is(sinkID):
		return Sink, nil
	default:
		return Relay, nil
	}
}
