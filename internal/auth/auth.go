// Package auth implements the three-phase challenge/response handshake run
// over an already-open session before any keying traffic is allowed: the
// client sends a cheap protocol-magic filter first, the server answers with
// a random nonce, the client replies with a digest of the shared password
// and the nonce, and the server replies with a verdict token that is
// nonzero and random on success, zero on failure.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrAuthFailed is returned when the handshake fails to authenticate,
// whether by a bad digest, a bad sesame, or a stalled peer timing out.
var ErrAuthFailed = errors.New("auth: authentication failed")

// readTimeout bounds every blocking read in the handshake, so a peer that
// stops responding mid-handshake fails the session instead of hanging it.
// It is a var, not a const, so tests can shrink it.
var readTimeout = 5 * time.Second

// sesame is an 8-byte magic value the client sends first so the server can
// reject a peer speaking a different protocol before the server spends a
// round trip generating a real challenge. spec.md leaves its exact value an
// open question with no security role; this module fixes it to all zero
// bytes, see DESIGN.md.
var sesame = [8]byte{}

// conn is the minimal blocking read/write/deadline surface auth needs from
// a session, satisfied directly by *kcp.UDPSession.
type conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
}

// readFull reads exactly len(buf) bytes. A failed read, including one cut
// short because readTimeout elapsed first, is reported as ErrAuthFailed
// carrying the read error's text.
func readFull(c conn, buf []byte) error {
	if err := c.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}
	defer c.SetReadDeadline(time.Time{})
	if _, err := io.ReadFull(c, buf); err != nil {
		return errors.Wrap(ErrAuthFailed, err.Error())
	}
	return nil
}

// digest computes MD5(password || decimal(nonce)), matching hashstr's
// "password as bytes, nonce formatted as a base-10 string" concatenation.
func digest(password string, nonce uint32) [16]byte {
	h := md5.New()
	io.WriteString(h, password)
	io.WriteString(h, fmt.Sprintf("%d", nonce))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

func randUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Challenge runs the server side of the handshake: it reads and validates
// the client's sesame magic, generates and sends a nonce, reads back the
// client's digest, compares it in constant time against the expected
// digest, and writes a verdict token (nonzero random on success, zero on
// failure). It returns the verdict token alongside the error so a caller
// can log or correlate it.
func Challenge(c conn, password string) (uint32, error) {
	var gotSesame [8]byte
	if err := readFull(c, gotSesame[:]); err != nil {
		return 0, errors.Wrap(err, "read sesame")
	}
	if gotSesame != sesame {
		return 0, ErrAuthFailed
	}

	nonce, err := randUint32()
	if err != nil {
		return 0, errors.Wrap(err, "generate nonce")
	}
	var nonceBuf [4]byte
	binary.BigEndian.PutUint32(nonceBuf[:], nonce)
	if _, err := c.Write(nonceBuf[:]); err != nil {
		return 0, errors.Wrap(err, "write nonce")
	}

	var gotDigest [16]byte
	if err := readFull(c, gotDigest[:]); err != nil {
		return 0, errors.Wrap(err, "read digest")
	}

	want := digest(password, nonce)
	ok := subtle.ConstantTimeCompare(want[:], gotDigest[:]) == 1

	var verdict uint32
	if ok {
		if verdict, err = randUint32(); err != nil {
			return 0, errors.Wrap(err, "generate verdict")
		}
		if verdict == 0 {
			verdict = 1 // nonzero is the only success contract; avoid the rand(0) edge case
		}
	}
	var verdictBuf [4]byte
	binary.BigEndian.PutUint32(verdictBuf[:], verdict)
	if _, err := c.Write(verdictBuf[:]); err != nil {
		return 0, errors.Wrap(err, "write verdict")
	}

	if !ok {
		return 0, ErrAuthFailed
	}
	return verdict, nil
}

// Response runs the client side: it writes the sesame magic first, reads
// the server's nonce, replies with the password digest, then reads the
// verdict and returns it, or ErrAuthFailed if it is zero.
func Response(c conn, password string) (uint32, error) {
	if _, err := c.Write(sesame[:]); err != nil {
		return 0, errors.Wrap(err, "write sesame")
	}

	var nonceBuf [4]byte
	if err := readFull(c, nonceBuf[:]); err != nil {
		return 0, errors.Wrap(err, "read nonce")
	}
	nonce := binary.BigEndian.Uint32(nonceBuf[:])

	d := digest(password, nonce)
	if _, err := c.Write(d[:]); err != nil {
		return 0, errors.Wrap(err, "write digest")
	}

	var verdictBuf [4]byte
	if err := readFull(c, verdictBuf[:]); err != nil {
		return 0, errors.Wrap(err, "read verdict")
	}
	verdict := binary.BigEndian.Uint32(verdictBuf[:])
	if verdict == 0 {
		return 0, ErrAuthFailed
	}
	return verdict, nil
}
