package session

import (
	"net"
	"testing"
	"time"
)

func TestSingleSessionPolicyRejectsSecondClaimant(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	l, err := Listen(serverConn, DefaultParams)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	acceptErr := make(chan error, 1)
	acceptedCh := make(chan struct{}, 1)
	go func() {
		sess, err := l.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		acceptedCh <- struct{}{}
		_ = sess
		acceptErr <- nil
	}()

	raddr := l.Addr().(*net.UDPAddr)

	clientConnA, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP client A: %v", err)
	}
	sessA, err := Dial(clientConnA, raddr, DefaultParams)
	if err != nil {
		t.Fatalf("Dial A: %v", err)
	}
	defer sessA.Close()
	// the listener only creates a session when its first datagram arrives
	if _, err := sessA.Write([]byte{0}); err != nil {
		t.Fatalf("Write A: %v", err)
	}

	select {
	case <-acceptedCh:
	case err := <-acceptErr:
		t.Fatalf("Accept failed before first session arrived: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first session to be accepted")
	}

	clientConnB, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP client B: %v", err)
	}
	sessB, err := Dial(clientConnB, raddr, DefaultParams)
	if err != nil {
		t.Fatalf("Dial B: %v", err)
	}
	defer sessB.Close()
	if _, err := sessB.Write([]byte{0}); err != nil {
		t.Fatalf("Write B: %v", err)
	}

	// sessB must never be accepted while sessA is open; the listener
	// closes it server-side and a second Accept keeps waiting.
	secondCh := make(chan struct{}, 1)
	go func() {
		if _, err := l.Accept(); err == nil {
			secondCh <- struct{}{}
		}
	}()
	select {
	case <-secondCh:
		t.Fatalf("a second session was accepted while the first was still open")
	case <-time.After(500 * time.Millisecond):
	}
}
