package rendezvous

import (
	"context"
	"net"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

// ZeroconfLAN resolves a peer by mDNS/DNS-SD, matching the reference
// server's mdns_sd::ServiceDaemon registration under
// "_wifikey2._udp.local.".
type ZeroconfLAN struct {
	// Port is not read by Resolve; the server side passes its port to
	// Register directly.
	Port int
}

// Register advertises this process as serverName on the LAN. Call it once
// at server startup; it runs until ctx is cancelled.
func Register(ctx context.Context, serverName string, port int) (*zeroconf.Server, error) {
	srv, err := zeroconf.Register(serverName, ServiceType, Domain, port, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rendezvous: zeroconf.Register")
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()
	return srv, nil
}

// Resolve browses for serverName and returns the first matching instance's
// address, bound to a fresh local UDP socket.
func (l *ZeroconfLAN) Resolve(ctx context.Context, serverName string) (Result, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "rendezvous: zeroconf.NewResolver")
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return Result{}, errors.Wrap(err, "rendezvous: Browse")
	}

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case e, ok := <-entries:
			if !ok {
				return Result{}, errors.New("rendezvous: LAN browse exhausted without a match")
			}
			if e.Instance != serverName {
				continue
			}
			ips := append(append([]net.IP{}, e.AddrIPv4...), e.AddrIPv6...)
			for _, ip := range ips {
				conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero})
				if err != nil {
					continue
				}
				return Result{
					Conn: conn,
					Addr: &net.UDPAddr{IP: ip, Port: e.Port},
					Via:  "lan",
				}, nil
			}
		}
	}
}
