package sender

import (
	"bytes"
	"testing"

	"github.com/jl1nie/wifikey2/internal/keyproto"
	"github.com/jl1nie/wifikey2/internal/tick"
)

type bufWriter struct {
	bytes.Buffer
	frames [][]byte
}

func (b *bufWriter) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	b.frames = append(b.frames, cp)
	return len(p), nil
}

func TestAppendEdgeRebasesOnOverflow(t *testing.T) {
	clock := tick.NewInjectable(1000)
	out := &bufWriter{}
	isr := &ISR{}
	s := New(isr, out, clock)

	s.baseTS = 1000
	s.appendEdge(Edge{Down: true, Tick: 1000})
	s.appendEdge(Edge{Down: false, Tick: 1040})
	// this edge is 60ms past base, beyond PktInterval(50ms): must rebase
	s.appendEdge(Edge{Down: true, Tick: 1060})

	if len(out.frames) != 1 {
		t.Fatalf("expected one flushed frame from the rebase, got %d", len(out.frames))
	}
	f, err := keyproto.Decode(out.frames[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(f.Slots) != 2 {
		t.Fatalf("expected 2 slots in the rebased-out frame, got %d", len(f.Slots))
	}
	if len(s.slots) != 1 || s.baseTS != 1060 {
		t.Fatalf("expected new base 1060 with 1 pending slot, got base=%d slots=%d", s.baseTS, len(s.slots))
	}
}

func TestAppendEdgeRebasesOnSlotCountOverflow(t *testing.T) {
	clock := tick.NewInjectable(0)
	out := &bufWriter{}
	isr := &ISR{}
	s := New(isr, out, clock)
	s.baseTS = 0
	// keep every offset below PktInterval (0..48ms) so only the slot count
	// can force the rebase
	for i := 0; i < keyproto.MaxSlots; i++ {
		s.appendEdge(Edge{Down: i%2 == 0, Tick: uint32(i * 49 / keyproto.MaxSlots)})
	}
	if len(out.frames) != 0 {
		t.Fatalf("should not have flushed before reaching MaxSlots, got %d frames", len(out.frames))
	}
	s.appendEdge(Edge{Down: true, Tick: 49})
	if len(out.frames) != 1 {
		t.Fatalf("expected a flush once MaxSlots was reached, got %d", len(out.frames))
	}
}

func TestISRTakeIsSingleConsumer(t *testing.T) {
	var f ISR
	f.Set(true, 42)
	e, ok := f.take()
	if !ok || !e.Down || e.Tick != 42 {
		t.Fatalf("unexpected edge: %+v ok=%v", e, ok)
	}
	if _, ok := f.take(); ok {
		t.Fatalf("expected no pending edge after it was consumed")
	}
}

func TestTickOnceFlushesNonEmptyFrame(t *testing.T) {
	clock := tick.NewInjectable(5000)
	out := &bufWriter{}
	isr := &ISR{}
	s := New(isr, out, clock)
	isr.Set(true, 5000)

	s.tickOnce()

	if len(out.frames) != 1 {
		t.Fatalf("expected one frame flushed, got %d", len(out.frames))
	}
	f, err := keyproto.Decode(out.frames[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Kind != keyproto.KindKeyingMessage || len(f.Slots) != 1 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}
