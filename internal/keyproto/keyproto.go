// Package keyproto implements the keying frame wire codec: the small,
// fixed-header messages that carry key-edge timing over an established
// session. It has no notion of sessions, authentication or timers; it only
// turns a slice of edges into bytes and back.
package keyproto

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Kind is the single-byte frame discriminator. There are only two: a
// keying message (sync and edge-batch frames are both this kind, told
// apart purely by whether slot_count is zero) and the opaque start-ATU
// command.
type Kind uint8

const (
	KindKeyingMessage Kind = 0 // slot_count==0 is a sync/keep-alive, >0 carries timed edges
	KindStartATU      Kind = 1 // opaque "start antenna tuner" command
)

// MaxSlots bounds how many edges a single frame may carry; a frame this
// full is rebased by the sender rather than grown further.
const MaxSlots = 128

// headerLen is kind(1) + base_ts(4) + slot_count(1).
const headerLen = 6

// Slot is one timed key transition relative to a frame's base timestamp.
// Edge is true when the transition is a key-down (press); on the wire this
// is carried inverted, bit 7 set meaning key-up, to match the wire format.
type Slot struct {
	Edge     bool  // true = key down, false = key up
	OffsetMS uint8 // milliseconds since base_ts, 0..127
}

// Frame is a decoded keying message.
type Frame struct {
	Kind   Kind
	BaseTS uint32
	Slots  []Slot
}

// ErrTruncated is returned when a buffer is shorter than its declared slot count.
var ErrTruncated = errors.New("keyproto: truncated frame")

// ErrTooManySlots is returned when a frame claims more than MaxSlots.
var ErrTooManySlots = errors.New("keyproto: slot_count exceeds MaxSlots")

// ErrOffsetOverflow is returned when a caller tries to encode an offset
// that would collide with the edge bit occupying bit 7.
var ErrOffsetOverflow = errors.New("keyproto: offset_ms must fit in 7 bits")

// Encode serializes a frame as [kind u8][base_ts u32 BE][slot_count u8][slots...].
// Each slot is one byte: bit 7 is the edge marker (0 = key down, 1 = key
// up), bits 0-6 are the millisecond offset from base_ts.
func Encode(f Frame) ([]byte, error) {
	if len(f.Slots) > MaxSlots {
		return nil, errors.Wrapf(ErrTooManySlots, "got %d", len(f.Slots))
	}
	buf := make([]byte, headerLen+len(f.Slots))
	buf[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(buf[1:5], f.BaseTS)
	buf[5] = byte(len(f.Slots))
	for i, s := range f.Slots {
		if s.OffsetMS&0x80 != 0 {
			return nil, errors.Wrapf(ErrOffsetOverflow, "slot %d: %d", i, s.OffsetMS)
		}
		b := s.OffsetMS & 0x7f
		if !s.Edge {
			b |= 0x80 // key-up
		}
		buf[headerLen+i] = b
	}
	return buf, nil
}

// Decode parses a keying frame from the wire. It never allocates more than
// one Slot slice and never reads past slot_count bytes, so a short read on
// a truncated datagram fails cleanly rather than panicking.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < headerLen {
		return Frame{}, errors.Wrap(ErrTruncated, "short header")
	}
	kind := Kind(buf[0])
	baseTS := binary.BigEndian.Uint32(buf[1:5])
	count := int(buf[5])
	if count > MaxSlots {
		return Frame{}, errors.Wrapf(ErrTooManySlots, "got %d", count)
	}
	if len(buf) < headerLen+count {
		return Frame{}, errors.Wrap(ErrTruncated, "short slot data")
	}
	slots := make([]Slot, count)
	for i := 0; i < count; i++ {
		b := buf[headerLen+i]
		slots[i] = Slot{
			Edge:     b&0x80 == 0,
			OffsetMS: b & 0x7f,
		}
	}
	return Frame{Kind: kind, BaseTS: baseTS, Slots: slots}, nil
}

// Len reports the wire size of a frame with the given slot count.
func Len(slotCount int) int {
	return headerLen + slotCount
}
