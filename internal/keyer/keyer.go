// Package keyer turns decoded keying frames back into real key transitions
// on the receiving end, and provides the clock-sync discipline, WPM
// estimation and watchdog that keep a stuck key from keying forever across
// a lossy link. It ports RemoteKeyer/GpioKeyer from the reference keyers.
package keyer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jl1nie/wifikey2/internal/keyproto"
	"github.com/jl1nie/wifikey2/internal/tick"
)

const (
	// SyncInterval bounds how long the epoch pair is trusted before it is
	// refreshed from a fresh frame's base_ts.
	SyncInterval = 3000 * time.Millisecond
	// MaxAssertDuration is the watchdog's ceiling on how long the key may
	// stay asserted without a fresh edge; matches the ESP32 GpioKeyer.
	MaxAssertDuration = 10000 * time.Millisecond
	// parisDotUnits is the number of dot-time units in the word "PARIS",
	// the standard unit for converting dot duration to words-per-minute.
	parisDotUnits = 50
)

// KeyOutput is the collaborator surface that actually asserts or releases
// the physical (or emulated) key. internal/rig provides concrete backends.
type KeyOutput interface {
	AssertKey(down bool)
}

// ATUStarter begins an antenna tuner cycle in response to a start-ATU
// frame. internal/rig.ATUStarter satisfies this interface.
type ATUStarter interface {
	StartATU()
}

// Reader is the minimal surface Receiver needs from a session.
type Reader interface {
	Read(p []byte) (int, error)
}

// Receiver decodes a stream of keyproto frames off a session and emits them
// on a channel for Keyer to consume. It mirrors WkReceiver's read-then-decode
// loop.
type Receiver struct {
	in  Reader
	out chan keyproto.Frame
}

// NewReceiver starts reading frames from in. The returned channel is closed
// when in.Read returns an error (including io.EOF on session close).
func NewReceiver(in Reader) *Receiver {
	r := &Receiver{in: in, out: make(chan keyproto.Frame, 8)}
	go r.loop()
	return r
}

// Frames returns the channel of decoded frames.
func (r *Receiver) Frames() <-chan keyproto.Frame {
	return r.out
}

func (r *Receiver) loop() {
	defer close(r.out)
	buf := make([]byte, 256)
	for {
		n, err := r.in.Read(buf)
		if err != nil {
			return // including io.EOF on session close; caller observes the channel close
		}
		f, err := keyproto.Decode(buf[:n])
		if err != nil {
			continue // drop malformed datagrams, matching an unreliable-codec non-goal
		}
		r.out <- f
	}
}

// Stats is the live view of a session's keying activity, the Go analogue of
// RemoteStats/RemoteStatics from the reference servers.
type Stats struct {
	mu         sync.Mutex
	wpm        int
	packets    uint64
	packetRate int
	authOK     bool
	atuBusy    bool
}

func (s *Stats) setWPM(v int) {
	s.mu.Lock()
	s.wpm = v
	s.mu.Unlock()
}

func (s *Stats) incPackets() {
	s.mu.Lock()
	s.packets++
	s.mu.Unlock()
}

// setPacketRate records packets/sec, sampled once per sync frame.
func (s *Stats) setPacketRate(v int) {
	s.mu.Lock()
	s.packetRate = v
	s.mu.Unlock()
}

// SetAuthOK records whether the session's handshake succeeded.
func (s *Stats) SetAuthOK(ok bool) {
	s.mu.Lock()
	s.authOK = ok
	s.mu.Unlock()
}

// SetATUBusy records whether a start-ATU command is currently in flight.
func (s *Stats) SetATUBusy(busy bool) {
	s.mu.Lock()
	s.atuBusy = busy
	s.mu.Unlock()
}

// Snapshot is a point-in-time, copyable view of Stats.
type Snapshot struct {
	WPM        int
	Packets    uint64
	PacketRate int
	AuthOK     bool
	ATUBusy    bool
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{WPM: s.wpm, Packets: s.packets, PacketRate: s.packetRate, AuthOK: s.authOK, ATUBusy: s.atuBusy}
}

// Keyer applies decoded frames to a KeyOutput, maintaining the epoch pair
// that translates the sender's tick values into local wall-clock timing,
// and runs a 1Hz watchdog that forces the key released if it has been
// asserted too long without a fresh edge.
type Keyer struct {
	out   KeyOutput
	atu   ATUStarter
	clock tick.Source
	stats *Stats

	remoteEpoch uint32
	localEpoch  uint32
	haveEpoch   bool

	asserted     atomic.Bool
	lastAssertAt atomic.Uint32

	lastDownAt uint32
	durations  []uint32

	packetsSinceSync uint64
}

// New creates a Keyer driving out, using clock for both epoch translation
// and the watchdog. atu may be nil if no antenna tuner is attached.
func New(out KeyOutput, atu ATUStarter, clock tick.Source, stats *Stats) *Keyer {
	return &Keyer{out: out, atu: atu, clock: clock, stats: stats}
}

// Run consumes frames until the channel closes, applying each one, and
// returns once the session has ended (key is always released on return).
func (k *Keyer) Run(frames <-chan keyproto.Frame) {
	stop := make(chan struct{})
	go k.watchdog(stop)
	defer close(stop)
	defer k.release()

	for f := range frames {
		k.apply(f)
	}
}

func (k *Keyer) apply(f keyproto.Frame) {
	now := k.clock.Now()
	if !k.haveEpoch || tick.Since(k.remoteEpoch, f.BaseTS) > uint32(SyncInterval/time.Millisecond) {
		k.remoteEpoch = f.BaseTS
		k.localEpoch = now
		k.haveEpoch = true
	}

	k.packetsSinceSync++
	if k.stats != nil {
		k.stats.incPackets()
	}

	if f.Kind == keyproto.KindStartATU {
		if k.stats != nil {
			k.stats.SetATUBusy(true)
		}
		if k.atu != nil {
			k.atu.StartATU()
		}
		return
	}

	if len(f.Slots) == 0 {
		// a keying-message frame with no slots is the sync/keep-alive form;
		// sample the packet rate over the sync interval it closes out.
		if k.stats != nil {
			k.stats.setPacketRate(int(k.packetsSinceSync / uint64(SyncInterval/time.Second)))
		}
		k.packetsSinceSync = 0
		return
	}

	for _, slot := range f.Slots {
		remoteAt := f.BaseTS + uint32(slot.OffsetMS)
		localAt := k.localEpoch + tick.Since(k.remoteEpoch, remoteAt)
		k.waitUntil(localAt)
		k.assert(slot.Edge, localAt)
	}
}

// waitUntil busy-spins with a short sleep until the clock reaches target,
// matching the reference keyer's timed-assertion loop: at this granularity
// (single-digit milliseconds) a plain timer channel is coarser than what a
// hand-rolled 1ms-resolution spin delivers.
func (k *Keyer) waitUntil(target uint32) {
	for tick.After(target, k.clock.Now()) {
		time.Sleep(time.Millisecond)
	}
}

func (k *Keyer) assert(down bool, at uint32) {
	k.out.AssertKey(down)
	k.asserted.Store(down)
	k.lastAssertAt.Store(at)

	if down {
		k.lastDownAt = at
		return
	}
	if k.lastDownAt != 0 {
		d := tick.Since(k.lastDownAt, at)
		k.recordDuration(d)
	}
}

// recordDuration feeds a completed key-down pulse into the WPM estimator,
// which uses the shortest observed pulse (the dot) and the PARIS standard.
func (k *Keyer) recordDuration(d uint32) {
	if d == 0 {
		return
	}
	k.durations = append(k.durations, d)
	if len(k.durations) > 16 {
		k.durations = k.durations[len(k.durations)-16:]
	}
	min := k.durations[0]
	for _, v := range k.durations {
		if v < min {
			min = v
		}
	}
	if min == 0 || k.stats == nil {
		return
	}
	wpm := 60000 / (min * parisDotUnits) // 60000ms/min, PARIS word = 50 dot units
	k.stats.setWPM(int(wpm))
}

func (k *Keyer) release() {
	if k.asserted.Load() {
		k.out.AssertKey(false)
		k.asserted.Store(false)
	}
}

// watchdog forces the key released once MAX_ASSERT_DURATION has elapsed
// since the last assertion, protecting against a dropped "key up" frame
// wedging the transmitter on indefinitely.
func (k *Keyer) watchdog(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if k.asserted.Load() && tick.Since(k.lastAssertAt.Load(), k.clock.Now()) > uint32(MaxAssertDuration/time.Millisecond) {
				k.out.AssertKey(false)
				k.asserted.Store(false)
			}
		}
	}
}
