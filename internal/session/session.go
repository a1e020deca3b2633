// Package session provides the reliable, ordered, ARQ-protected datagram
// transport that every keying frame travels over. It is a thin domain
// wrapper around github.com/xtaci/kcp-go/v5: kcp-go already implements the
// fast-retransmit ARQ engine this layer calls for, so this package only
// fixes the tuning (nodelay mode, MTU, forward error correction) and adds
// the single-session-per-listener policy that a shared keying link needs
// but a general purpose KCP listener does not enforce on its own.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
)

// IdleTimeout is the idle auto-close threshold: a session with no received
// datagram for this long is force-closed, regardless of whether any of those
// datagrams decoded to real application data. This is one of three session
// termination triggers alongside an explicit close and an I/O error.
const IdleTimeout = 30 * time.Second

// Params tunes the underlying ARQ engine. Defaults favor latency over
// throughput: keying frames are tiny and time-sensitive, never bulk.
type Params struct {
	MTU          int
	DataShards   int // reed-solomon FEC data shards, 0 disables FEC
	ParityShards int // reed-solomon FEC parity shards
	SendWindow   int
	RecvWindow   int
}

// DefaultParams matches the tuning described in SPEC_FULL.md §4.1: nodelay
// mode, 10ms internal tick, resend after one missed ACK, congestion control
// off, FEC sized to ride out the kind of loss storm described in scenario
// S4 without waiting on an ARQ round trip.
var DefaultParams = Params{
	MTU:          512,
	DataShards:   4,
	ParityShards: 2,
	SendWindow:   32,
	RecvWindow:   32,
}

func tune(s *kcp.UDPSession, p Params) {
	s.SetNoDelay(1, 10, 1, 1)
	s.SetMtu(p.MTU)
	s.SetWindowSize(p.SendWindow, p.RecvWindow)
	s.SetACKNoDelay(true)
	s.SetStreamMode(false)
	s.SetWriteDelay(false)
}

// Dial opens a session to raddr over conn. conn is typically the exact
// socket already used for LAN or WAN rendezvous (mDNS/STUN/MQTT), handed in
// directly so the hole already punched through any NAT stays open; this
// package never creates or rebinds a socket itself.
//
// conv is a fresh random nonzero value picked here at dial time (randConv),
// not negotiated with the server first. See DESIGN.md for why this
// departs from a literal conv-0-then-assign bootstrap while still meeting
// the session's observable contract.
func Dial(conn net.PacketConn, raddr net.Addr, p Params) (*kcp.UDPSession, error) {
	conv, err := randConv()
	if err != nil {
		return nil, errors.Wrap(err, "session.Dial: generate conv")
	}
	tracker := newActivityTracker(conn)
	sess, err := kcp.NewConn3(conv, raddr, nil, p.DataShards, p.ParityShards, tracker)
	if err != nil {
		return nil, errors.Wrap(err, "session.Dial")
	}
	tune(sess, p)
	go watchIdle(sess, tracker)
	return sess, nil
}

// activityTracker wraps a net.PacketConn to record a timestamp on every
// successful inbound read, the basis for the idle auto-close watchdog.
// SESSION_TIMEOUT is based on any received datagram, whether or not it
// later decodes into real keying data, so the timestamp is touched in
// ReadFrom rather than further up the stack.
type activityTracker struct {
	net.PacketConn
	last atomic.Int64 // unix nanos
}

func newActivityTracker(conn net.PacketConn) *activityTracker {
	t := &activityTracker{PacketConn: conn}
	t.touch()
	return t
}

func (t *activityTracker) touch() {
	t.last.Store(time.Now().UnixNano())
}

func (t *activityTracker) idleFor() time.Duration {
	return time.Since(time.Unix(0, t.last.Load()))
}

func (t *activityTracker) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := t.PacketConn.ReadFrom(p)
	if err == nil {
		t.touch()
	}
	return n, addr, err
}

// watchIdle force-closes sess once IdleTimeout elapses with no datagram
// observed on tracker, and exits once sess closes for any other reason.
func watchIdle(sess *kcp.UDPSession, tracker *activityTracker) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if sess.IsClosed() {
			return
		}
		if tracker.idleFor() > IdleTimeout {
			sess.Close()
			return
		}
	}
}

// randConv picks a fresh nonzero conversation id, matching kcp-go's own
// DialWithOptions behavior.
func randConv() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b[:])
	if v == 0 {
		v = 1
	}
	return v, nil
}

// Listener accepts at most one live session at a time, closing any
// additional session kcp-go hands it while one is already open. This
// mirrors WkListener::bind's single-slot session guard: a keying transport
// has exactly one remote operator, and a second concurrent claimant is a
// conflict to reject, not a connection to multiplex.
type Listener struct {
	inner   *kcp.Listener
	p       Params
	tracker *activityTracker

	mu      sync.Mutex
	current *kcp.UDPSession
}

// Listen wraps conn (already bound, and already used for rendezvous) as a
// single-session KCP listener.
func Listen(conn net.PacketConn, p Params) (*Listener, error) {
	tracker := newActivityTracker(conn)
	inner, err := kcp.ServeConn(nil, p.DataShards, p.ParityShards, tracker)
	if err != nil {
		return nil, errors.Wrap(err, "session.Listen")
	}
	return &Listener{inner: inner, p: p, tracker: tracker}, nil
}

// Accept blocks until a session is available. While a session accepted
// earlier is still open, any further session kcp-go hands this listener is
// closed immediately without being returned, and Accept keeps waiting for
// the next arrival.
func (l *Listener) Accept() (*kcp.UDPSession, error) {
	for {
		sess, err := l.inner.AcceptKCP()
		if err != nil {
			return nil, errors.Wrap(err, "session.Listener.Accept")
		}

		l.mu.Lock()
		busy := l.current != nil && !l.current.IsClosed()
		if !busy {
			tune(sess, l.p)
			l.current = sess
		}
		l.mu.Unlock()

		if busy {
			sess.Close()
			continue
		}
		l.tracker.touch()
		go watchIdle(sess, l.tracker)
		return sess, nil
	}
}

// Release clears the current-session slot, to be called once a session's
// owning goroutine has observed it close. Accept also self-heals against a
// caller that forgets this (IsClosed above), but calling it promptly frees
// the slot without waiting for the next Accept attempt to notice.
func (l *Listener) Release(sess *kcp.UDPSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == sess {
		l.current = nil
	}
}

// Close shuts down the underlying kcp-go listener. The socket passed to
// Listen is not closed by it.
func (l *Listener) Close() error {
	return l.inner.Close()
}

// Addr returns the listener's local address.
func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}
