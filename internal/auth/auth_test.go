package auth

import (
	"io"
	"os"
	"testing"
	"time"
)

// pipeConn connects a Challenge call to a Response call in-process via
// net.Pipe-style plumbing without depending on the net package. Deadlines
// are a no-op here: these tests exercise the success/failure paths, not
// timeout behavior, which TestChallengeTimesOutWhenClientNeverResponds
// covers with a conn that actually enforces one.
type pipeConn struct {
	r io.Reader
	w io.Writer
}

func (p *pipeConn) Read(b []byte) (int, error)      { return p.r.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error)     { return p.w.Write(b) }
func (p *pipeConn) SetReadDeadline(time.Time) error { return nil }

func newPipePair() (*pipeConn, *pipeConn) {
	serverToClientR, serverToClientW := io.Pipe()
	clientToServerR, clientToServerW := io.Pipe()
	server := &pipeConn{r: clientToServerR, w: serverToClientW}
	client := &pipeConn{r: serverToClientR, w: clientToServerW}
	return server, client
}

func TestChallengeResponseSuccess(t *testing.T) {
	server, client := newPipePair()
	type outcome struct {
		token uint32
		err   error
	}
	serverCh := make(chan outcome, 1)
	clientCh := make(chan outcome, 1)
	go func() { token, err := Challenge(server, "hunter2"); serverCh <- outcome{token, err} }()
	go func() { token, err := Response(client, "hunter2"); clientCh <- outcome{token, err} }()

	s := <-serverCh
	c := <-clientCh
	if s.err != nil {
		t.Fatalf("Challenge: %v", s.err)
	}
	if c.err != nil {
		t.Fatalf("Response: %v", c.err)
	}
	if s.token == 0 || s.token != c.token {
		t.Fatalf("expected matching nonzero verdict tokens, got server=%d client=%d", s.token, c.token)
	}
}

func TestChallengeResponseWrongPassword(t *testing.T) {
	server, client := newPipePair()
	errCh := make(chan error, 2)
	go func() { _, err := Challenge(server, "correct-password"); errCh <- err }()
	go func() { _, err := Response(client, "wrong-password"); errCh <- err }()

	first := <-errCh
	second := <-errCh
	if first != ErrAuthFailed && second != ErrAuthFailed {
		t.Fatalf("expected ErrAuthFailed on one side, got %v / %v", first, second)
	}
}

func TestDigestIsStableForSameInputs(t *testing.T) {
	a := digest("secret", 42)
	b := digest("secret", 42)
	if a != b {
		t.Fatalf("digest not deterministic: %x != %x", a, b)
	}
	c := digest("secret", 43)
	if a == c {
		t.Fatalf("digest did not change with nonce")
	}
}

// timeoutConn wraps a single io.Pipe end and actually enforces
// SetReadDeadline by closing the reader with a deadline-exceeded error once
// the deadline passes, the way a real net.Conn would unblock a stuck Read.
type timeoutConn struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (t *timeoutConn) Read(b []byte) (int, error)  { return t.r.Read(b) }
func (t *timeoutConn) Write(b []byte) (int, error) { return t.w.Write(b) }
func (t *timeoutConn) SetReadDeadline(deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		t.r.CloseWithError(os.ErrDeadlineExceeded)
		return nil
	}
	time.AfterFunc(d, func() { t.r.CloseWithError(os.ErrDeadlineExceeded) })
	return nil
}

func TestChallengeTimesOutWhenClientNeverResponds(t *testing.T) {
	orig := readTimeout
	readTimeout = 50 * time.Millisecond
	defer func() { readTimeout = orig }()

	r, w := io.Pipe()
	c := &timeoutConn{r: r, w: w}

	_, err := Challenge(c, "hunter2")
	if err == nil {
		t.Fatalf("expected a timeout error when the client never sends sesame")
	}
}
