// Package rendezvous discovers a peer's address before a session is
// dialed. It races two independent discovery channels — LAN multicast DNS
// and a WAN STUN+broker path — and returns whichever resolves first,
// exactly as the reference server's mDNS/MQTTStunClient pair does in its
// own accept loop.
package rendezvous

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// ServiceType is the mDNS service type wifikey2 instances advertise under.
const ServiceType = "_wifikey2._udp"

// Domain is the mDNS domain used for browsing and registration.
const Domain = "local."

// Result is a resolved peer address plus the socket that discovered it.
// The socket is handed directly to internal/session so any NAT hole
// already punched while discovering the peer is reused, never rebound.
type Result struct {
	Conn net.PacketConn
	Addr net.Addr
	Via  string // "lan" or "wan", for logging only
}

// LANResolver discovers a peer on the local network via multicast DNS.
type LANResolver interface {
	Resolve(ctx context.Context, serverName string) (Result, error)
}

// WANResolver discovers a peer across the Internet via STUN hole punching
// plus a broker-mediated address exchange.
type WANResolver interface {
	Resolve(ctx context.Context, serverName, password string) (Result, error)
}

// ErrNoResolvers is returned by Race when both resolvers are nil.
var ErrNoResolvers = errors.New("rendezvous: no resolvers configured")

// Race runs lan and wan concurrently and returns the first successful
// result, cancelling the other. Passing nil for either resolver (e.g. a
// tethering client that skips LAN per SPEC_FULL.md/spec.md §4.6) simply
// excludes that channel from the race.
func Race(ctx context.Context, lan LANResolver, wan WANResolver, serverName, password string) (Result, error) {
	if lan == nil && wan == nil {
		return Result{}, ErrNoResolvers
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 2)
	inflight := 0

	if lan != nil {
		inflight++
		go func() {
			res, err := lan.Resolve(ctx, serverName)
			ch <- outcome{res, err}
		}()
	}
	if wan != nil {
		inflight++
		go func() {
			res, err := wan.Resolve(ctx, serverName, password)
			ch <- outcome{res, err}
		}()
	}

	var lastErr error
	for i := 0; i < inflight; i++ {
		o := <-ch
		if o.err == nil {
			return o.res, nil
		}
		lastErr = o.err
	}
	return Result{}, errors.Wrap(lastErr, "rendezvous: both channels failed")
}
