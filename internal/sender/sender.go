// Package sender turns a stream of key edges into keying frames and writes
// them to a session on a fixed schedule. It ports WkSender's mpsc-driven
// loop and the ISR-to-slot conversion from the client's main loop: edges
// are captured by an interrupt-style lock-free flag, then drained by a
// single goroutine that paces frame emission and handles overflow and
// doze-mode keep-alives.
package sender

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/jl1nie/wifikey2/internal/keyproto"
	"github.com/jl1nie/wifikey2/internal/tick"
)

const (
	// PktInterval is how often a non-empty frame is flushed.
	PktInterval = 50 * time.Millisecond
	// SleepPeriod is the number of consecutive empty intervals after which
	// the sender stops emitting and dozes, per spec.md's desktop timing.
	SleepPeriod = 148_000
	// KeepAlive is the interval between sync frames while dozing, so the
	// far side's clock-sync discipline never starves.
	KeepAlive = 3 * time.Second
)

// Edge is one timed key transition, captured at the moment it happened.
type Edge struct {
	Down bool
	Tick uint32
}

// ISR is the lock-free flag pair a GPIO interrupt handler writes into,
// mirroring the ESP32 client's `static TRIGGER: AtomicBool` / `static
// TICKCOUNT: AtomicU32` globals. A real collaborator wires its interrupt
// handler to Set; this package only ever reads it.
type ISR struct {
	triggered  atomic.Bool
	tickCount  atomic.Uint32
	lastEdge   atomic.Bool
}

// Set records an edge. Safe to call from an interrupt context: it only
// performs atomic stores, never allocates, never blocks.
func (f *ISR) Set(down bool, t uint32) {
	f.lastEdge.Store(down)
	f.tickCount.Store(t)
	f.triggered.Store(true)
}

// take atomically consumes a pending edge, if any.
func (f *ISR) take() (Edge, bool) {
	if !f.triggered.CompareAndSwap(true, false) {
		return Edge{}, false
	}
	return Edge{Down: f.lastEdge.Load(), Tick: f.tickCount.Load()}, true
}

// Writer is the minimal surface Sender needs from a session.
type Writer interface {
	Write(p []byte) (int, error)
}

// Sender accumulates edges into a frame and flushes it on the schedule
// described in SPEC_FULL.md §4.4.
type Sender struct {
	isr   *ISR
	out   Writer
	clock tick.Source

	baseTS        uint32
	slots         []keyproto.Slot
	idleCount     int
	dozing        bool
	lastKeepAlive uint32
}

// New creates a Sender that reads edges from isr and writes frames to out.
func New(isr *ISR, out Writer, clock tick.Source) *Sender {
	return &Sender{isr: isr, out: out, clock: clock}
}

// Run drains edges and flushes frames until stop is closed. It is meant to
// run as the single sender goroutine for a session's lifetime.
func (s *Sender) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(PktInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tickOnce()
		}
	}
}

func (s *Sender) tickOnce() {
	now := s.clock.Now()
	if len(s.slots) == 0 {
		s.baseTS = now
	}

	for {
		e, ok := s.isr.take()
		if !ok {
			break
		}
		s.appendEdge(e)
	}

	if len(s.slots) == 0 {
		s.idleCount++
		if !s.dozing && s.idleCount >= SleepPeriod {
			s.dozing = true
		}
		if s.dozing {
			s.maybeKeepAlive(now)
		}
		return
	}

	s.dozing = false
	s.idleCount = 0
	s.flush(keyproto.KindKeyingMessage)
}

func (s *Sender) maybeKeepAlive(now uint32) {
	if tick.Since(s.lastKeepAlive, now) < uint32(KeepAlive/time.Millisecond) {
		return
	}
	s.lastKeepAlive = now
	s.writeFrame(keyproto.Frame{Kind: keyproto.KindKeyingMessage, BaseTS: now})
}

// appendEdge converts an edge into a slot relative to the frame's base
// timestamp, rebasing the frame (flushing what's pending first) if the
// offset or slot count would overflow the wire format.
func (s *Sender) appendEdge(e Edge) {
	offset := tick.Since(s.baseTS, e.Tick)
	if offset >= uint32(PktInterval/time.Millisecond) || len(s.slots) >= keyproto.MaxSlots {
		if len(s.slots) > 0 {
			s.flush(keyproto.KindKeyingMessage)
		}
		s.baseTS = e.Tick
		offset = 0
	}
	s.slots = append(s.slots, keyproto.Slot{Edge: e.Down, OffsetMS: uint8(offset)})
}

func (s *Sender) flush(kind keyproto.Kind) {
	s.writeFrame(keyproto.Frame{Kind: kind, BaseTS: s.baseTS, Slots: s.slots})
	s.slots = nil
}

func (s *Sender) writeFrame(f keyproto.Frame) {
	buf, err := keyproto.Encode(f)
	if err != nil {
		log.Println("sender: encode:", err) // malformed frame never leaves this process; drop and move on
		return
	}
	if _, err := s.out.Write(buf); err != nil {
		log.Println("sender: write:", err)
	}
}

// SendStartATU writes the opaque "start antenna tuner" command immediately,
// bypassing the periodic schedule since it is operator-triggered.
func (s *Sender) SendStartATU() error {
	buf, err := keyproto.Encode(keyproto.Frame{Kind: keyproto.KindStartATU, BaseTS: s.clock.Now()})
	if err != nil {
		return err
	}
	_, err = s.out.Write(buf)
	return err
}
