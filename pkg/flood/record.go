package flood

import (
	"encoding/binary"
	"errors"
	"time"
)

const (
	// RecordType tags flood records on the data channel.
	RecordType uint16 = 0xdddd

	headerLen  = 4 // type, source
	payloadLen = 3 // seq, state
	delayLen   = 8 // event time, unix ms

	// RecordLen is the size of a record on the wire.
	RecordLen = headerLen + payloadLen
	// RecordLenWithDelay is the size of a record carrying its event time.
	RecordLenWithDelay = RecordLen + delayLen
)

var (
	ErrShortRecord = errors.New("flood: record too short")
	ErrRecordType  = errors.New("flood: not a flood record")
)

// Record is one flood packet. All fields are little-endian on the wire:
//
//	[0:2] type   [2:4] source   [4:6] seq   [6] state   [7:15] event time (optional)
type Record struct {
	Type   uint16
	Source uint16
	Seq    uint16
	State  bool

	// EventTime is when the source saw the edge. Only carried when delay
	// measurement is enabled.
	EventTime time.Time
}

func (r Record) size() int {
	if r.EventTime.IsZero() {
		return RecordLen
	}
	return RecordLenWithDelay
}

// AppendBinary appends the wire form of r to b.
func (r Record) AppendBinary(b []byte) []byte {
	typ := r.Type
	if typ == 0 {
		typ = RecordType
	}
	b = binary.LittleEndian.AppendUint16(b, typ)
	b = binary.LittleEndian.AppendUint16(b, r.Source)
	b = binary.LittleEndian.AppendUint16(b, r.Seq)
	if r.State {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	if !r.EventTime.IsZero() {
		b = binary.LittleEndian.AppendUint64(b, uint64(r.EventTime.UnixMilli()))
	}
	return b
}

// MarshalBinary returns the wire form of r.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, r.size())), nil
}

// UnmarshalBinary decodes a full record, header included.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordLen {
		return ErrShortRecord
	}
	typ := binary.LittleEndian.Uint16(b[0:2])
	if typ != RecordType {
		return ErrRecordType
	}
	seq, state, at, err := DecodePayload(b[headerLen:])
	if err != nil {
		return err
	}
	*r = Record{
		Type:      typ,
		Source:    binary.LittleEndian.Uint16(b[2:4]),
		Seq:       seq,
		State:     state,
		EventTime: at,
	}
	return nil
}

// DecodePayload reads the part of a record that follows the header, keeping
// the legacy offsets: seq = p[0] | p[1]<<8, state = p[2]. A trailing 8-byte
// event time is returned when present.
func DecodePayload(p []byte) (seq uint16, state bool, eventTime time.Time, err error) {
	if len(p) < payloadLen {
		return 0, false, time.Time{}, ErrShortRecord
	}
	seq = uint16(p[0]) | uint16(p[1])<<8
	state = p[2] != 0
	if len(p) >= payloadLen+delayLen {
		ms := int64(binary.LittleEndian.Uint64(p[payloadLen : payloadLen+delayLen]))
		eventTime = time.UnixMilli(ms)
	}
	return seq, state, eventTime, nil
}
