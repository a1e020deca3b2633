package rendezvous

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	stun "github.com/ccding/go-stun/stun"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
)

// StunMQTTWAN resolves a peer across the Internet: the server learns its
// own server-reflexive address via STUN and publishes it as a retained MQTT
// message, and the client reads it from the broker, mirroring
// MQTTStunClient's get_client_addr/get_server_addr pair. The client's own
// address is not published.
type StunMQTTWAN struct {
	StunServer string // e.g. "stun.l.google.com:19302"
	Broker     string // e.g. "tcp://broker.example.com:1883"
}

// topicFor derives an MQTT topic from the server name and password so a
// passive broker observer cannot enumerate server names by topic alone.
func topicFor(serverName, password string) string {
	mac := hmac.New(sha1.New, []byte(password))
	mac.Write([]byte(serverName))
	return "wifikey2/" + hex.EncodeToString(mac.Sum(nil))
}

// reflexiveAddr runs STUN over conn to discover this host's public address.
func reflexiveAddr(conn *net.UDPConn, server string) (*net.UDPAddr, error) {
	client := stun.NewClientWithConnection(conn)
	client.SetServerAddr(server)
	_, host, err := client.Discover()
	if err != nil {
		return nil, errors.Wrap(err, "rendezvous: STUN discover")
	}
	return net.ResolveUDPAddr("udp", host.TransportAddr())
}

// Publish announces this process's own reflexive address on the broker.
// Call it from the server side once per listen socket.
func (w *StunMQTTWAN) Publish(ctx context.Context, conn *net.UDPConn, serverName, password string) error {
	addr, err := reflexiveAddr(conn, w.StunServer)
	if err != nil {
		return err
	}
	opts := mqtt.NewClientOptions().AddBroker(w.Broker)
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		return errors.Wrap(tok.Error(), "rendezvous: MQTT connect")
	}
	topic := topicFor(serverName, password)
	tok := client.Publish(topic, 1, true, addr.String())
	tok.Wait()
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return tok.Error()
}

// Resolve subscribes to the broker topic for serverName and returns the
// server's published reflexive address, bound to a fresh local UDP socket
// that has also performed its own STUN discovery and has sent one
// hole-punch datagram toward that address, so this side's NAT binding
// toward the server is open before the session dials.
func (w *StunMQTTWAN) Resolve(ctx context.Context, serverName, password string) (Result, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return Result{}, errors.Wrap(err, "rendezvous: ListenUDP")
	}
	if _, err := reflexiveAddr(conn, w.StunServer); err != nil {
		conn.Close()
		return Result{}, err
	}

	opts := mqtt.NewClientOptions().AddBroker(w.Broker)
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		conn.Close()
		return Result{}, errors.Wrap(tok.Error(), "rendezvous: MQTT connect")
	}
	defer client.Disconnect(250)

	addrCh := make(chan string, 1)
	topic := topicFor(serverName, password)
	tok := client.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case addrCh <- string(m.Payload()):
		default:
		}
	})
	if tok.Wait() && tok.Error() != nil {
		conn.Close()
		return Result{}, errors.Wrap(tok.Error(), "rendezvous: MQTT subscribe")
	}

	select {
	case <-ctx.Done():
		conn.Close()
		return Result{}, ctx.Err()
	case raw := <-addrCh:
		addr, err := net.ResolveUDPAddr("udp", raw)
		if err != nil {
			conn.Close()
			return Result{}, errors.Wrap(err, fmt.Sprintf("rendezvous: bad address %q on topic", raw))
		}
		// Punch our own NAT binding toward the peer before the session ever
		// dials: the server's reflexive address is only reachable from our
		// side once something has been sent outbound to it first.
		if _, err := conn.WriteToUDP([]byte{0}, addr); err != nil {
			conn.Close()
			return Result{}, errors.Wrap(err, "rendezvous: hole-punch")
		}
		return Result{Conn: conn, Addr: addr, Via: "wan"}, nil
	case <-time.After(15 * time.Second):
		conn.Close()
		return Result{}, errors.New("rendezvous: WAN resolve timed out")
	}
}
