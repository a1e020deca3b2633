// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/jl1nie/wifikey2/internal/auth"
	"github.com/jl1nie/wifikey2/internal/keyer"
	"github.com/jl1nie/wifikey2/internal/rendezvous"
	"github.com/jl1nie/wifikey2/internal/rig"
	"github.com/jl1nie/wifikey2/internal/session"
	"github.com/jl1nie/wifikey2/internal/stats"
	"github.com/jl1nie/wifikey2/internal/tick"

	"log"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "wk2server"
	myApp.Usage = "remote CW keying transport server"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen, l", Value: ":29900", Usage: "UDP address to accept sessions on"},
		cli.StringFlag{Name: "server-name", Value: "wifikey2-server", Usage: "name advertised over mDNS and the broker"},
		cli.StringFlag{Name: "server-password", Value: "", Usage: "shared password clients authenticate with", EnvVar: "WIFIKEY2_PASSWORD"},
		cli.BoolFlag{Name: "tethering", Usage: "skip LAN (mDNS) discovery, WAN only"},
		cli.IntFlag{Name: "mtu", Value: 512, Usage: "maximum transmission unit for UDP packets"},
		cli.IntFlag{Name: "datashard, ds", Value: 4, Usage: "reed-solomon erasure coding data shards"},
		cli.IntFlag{Name: "parityshard, ps", Value: 2, Usage: "reed-solomon erasure coding parity shards"},
		cli.StringFlag{Name: "stun-server", Value: "stun.l.google.com:19302", Usage: "STUN server for WAN address discovery"},
		cli.StringFlag{Name: "mqtt-broker", Value: "", Usage: "MQTT broker URL for WAN rendezvous, e.g. tcp://broker:1883"},
		cli.StringFlag{Name: "rigcontrol-port", Value: "", Usage: "serial port driving the transmitter key/ATU lines, empty to disable"},
		cli.IntFlag{Name: "rigcontrol-baud", Value: 9600, Usage: "serial baud rate for rigcontrol-port"},
		cli.BoolFlag{Name: "use-rts-for-keying", Usage: "use RTS (instead of DTR) to key the transmitter"},
		cli.StringFlag{Name: "snmplog", Value: "", Usage: "collect session stats to a CSV file"},
		cli.IntFlag{Name: "snmpperiod", Value: 60, Usage: "stats collection period, in seconds"},
		cli.StringFlag{Name: "log", Value: "", Usage: "log file to write to, default stderr"},
		cli.StringFlag{Name: "c", Value: "", Usage: "config from a json file, overrides flags"},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(c *cli.Context) error {
	config := Config{
		Listen:         c.String("listen"),
		ServerName:     c.String("server-name"),
		ServerPassword: c.String("server-password"),
		Tethering:      c.Bool("tethering"),
		MTU:            c.Int("mtu"),
		DataShard:      c.Int("datashard"),
		ParityShard:    c.Int("parityshard"),
		StunServer:     c.String("stun-server"),
		MQTTBroker:     c.String("mqtt-broker"),
		RigControlPort: c.String("rigcontrol-port"),
		RigControlBaud: c.Int("rigcontrol-baud"),
		UseRTSForKey:   c.Bool("use-rts-for-keying"),
		SnmpLog:        c.String("snmplog"),
		SnmpPeriod:     c.Int("snmpperiod"),
		Log:            c.String("log"),
	}
	if c.String("c") != "" {
		if err := parseJSONConfig(&config, c.String("c")); err != nil {
			return errors.Wrap(err, "parseJSONConfig")
		}
	}

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("listen:", config.Listen)
	log.Println("server-name:", config.ServerName)
	log.Println("tethering:", config.Tethering)
	log.Println("mtu:", config.MTU, "datashard:", config.DataShard, "parityshard:", config.ParityShard)

	udpAddr, err := net.ResolveUDPAddr("udp", config.Listen)
	if err != nil {
		return errors.Wrap(err, "resolve listen address")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.Wrap(err, "listen udp")
	}

	params := session.Params{
		MTU:          config.MTU,
		DataShards:   config.DataShard,
		ParityShards: config.ParityShard,
		SendWindow:   session.DefaultParams.SendWindow,
		RecvWindow:   session.DefaultParams.RecvWindow,
	}
	listener, err := session.Listen(conn, params)
	if err != nil {
		return errors.Wrap(err, "session.Listen")
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !config.Tethering {
		port := udpAddr.Port
		if _, err := rendezvous.Register(ctx, config.ServerName, port); err != nil {
			log.Println("mDNS registration failed, continuing WAN-only:", err)
		} else {
			log.Println("advertising on LAN as", config.ServerName)
		}
	}
	if config.MQTTBroker != "" {
		wan := &rendezvous.StunMQTTWAN{StunServer: config.StunServer, Broker: config.MQTTBroker}
		go func() {
			if err := wan.Publish(ctx, conn, config.ServerName, config.ServerPassword); err != nil {
				log.Println("WAN publish failed:", err)
			}
		}()
	}

	var keyOut rig.Keyer = rig.NullKeyer{}
	var atu rig.ATUStarter = rig.NullATUStarter{}
	if config.RigControlPort != "" {
		sr, err := rig.OpenSerialRig(config.RigControlPort, config.RigControlBaud, config.UseRTSForKey)
		if err != nil {
			log.Println("rigcontrol disabled:", err)
		} else {
			defer sr.Close()
			keyOut = sr
			atu = sr
		}
	}

	log.Println("accepting sessions on", listener.Addr())
	for {
		sess, err := listener.Accept()
		if err != nil {
			return errors.Wrap(err, "listener.Accept")
		}
		log.Println("accepted session from", sess.RemoteAddr())
		go serve(sess, listener, config.ServerPassword, keyOut, atu, config.SnmpLog, config.SnmpPeriod)
	}
}

func serve(sess *kcp.UDPSession, listener *session.Listener, password string, keyOut rig.Keyer, atuStarter rig.ATUStarter, snmpLog string, snmpPeriod int) {
	defer listener.Release(sess)
	defer sess.Close()

	token, err := auth.Challenge(sess, password)
	if err != nil {
		log.Println("auth failed from", sess.RemoteAddr(), ":", err)
		return
	}
	log.Println("auth ok:", sess.RemoteAddr(), "verdict:", token)

	kstats := &keyer.Stats{}
	kstats.SetAuthOK(true)

	if snmpLog != "" {
		src := &sessionStats{stats: kstats, sess: sess, start: time.Now()}
		stop := make(chan struct{})
		defer close(stop)
		go stats.Logger(src, snmpLog, time.Duration(snmpPeriod)*time.Second, stop)
	}

	recv := keyer.NewReceiver(sess)
	k := keyer.New(keyOut, atuStarter, tick.System, kstats)
	k.Run(recv.Frames())

	log.Println("session ended:", sess.RemoteAddr())
}

// sessionStats adapts a live session's keyer.Stats into stats.Source.
type sessionStats struct {
	stats *keyer.Stats
	sess  *kcp.UDPSession
	start time.Time
}

func (s *sessionStats) Snapshot() keyer.Snapshot     { return s.stats.Snapshot() }
func (s *sessionStats) PeerAddress() string          { return s.sess.RemoteAddr().String() }
func (s *sessionStats) SessionUptime() time.Duration { return time.Since(s.start) }
func (s *sessionStats) RTTMillis() int               { return int(s.sess.GetSRTT()) }
