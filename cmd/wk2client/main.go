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
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/jl1nie/wifikey2/internal/auth"
	"github.com/jl1nie/wifikey2/internal/keyer"
	"github.com/jl1nie/wifikey2/internal/rendezvous"
	"github.com/jl1nie/wifikey2/internal/sender"
	"github.com/jl1nie/wifikey2/internal/session"
	"github.com/jl1nie/wifikey2/internal/stats"
	"github.com/jl1nie/wifikey2/internal/tick"

	"log"

	kcp "github.com/xtaci/kcp-go/v5"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "wk2client"
	myApp.Usage = "remote CW keying transport client"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "server-name", Value: "wifikey2-server", Usage: "name to discover over mDNS and the broker"},
		cli.StringFlag{Name: "server-password", Value: "", Usage: "shared password to authenticate with", EnvVar: "WIFIKEY2_PASSWORD"},
		cli.BoolFlag{Name: "tethering", Usage: "skip LAN (mDNS) discovery, WAN only"},
		cli.IntFlag{Name: "mtu", Value: 512, Usage: "maximum transmission unit for UDP packets"},
		cli.IntFlag{Name: "datashard, ds", Value: 4, Usage: "reed-solomon erasure coding data shards"},
		cli.IntFlag{Name: "parityshard, ps", Value: 2, Usage: "reed-solomon erasure coding parity shards"},
		cli.StringFlag{Name: "stun-server", Value: "stun.l.google.com:19302", Usage: "STUN server for WAN address discovery"},
		cli.StringFlag{Name: "mqtt-broker", Value: "", Usage: "MQTT broker URL for WAN rendezvous, e.g. tcp://broker:1883"},
		cli.StringFlag{Name: "demo", Value: "", Usage: "play this text as Morse edges instead of reading a real key"},
		cli.IntFlag{Name: "demo-unit-ms", Value: 60, Usage: "dot duration in ms for -demo"},
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
		ServerName:     c.String("server-name"),
		ServerPassword: c.String("server-password"),
		Tethering:      c.Bool("tethering"),
		MTU:            c.Int("mtu"),
		DataShard:      c.Int("datashard"),
		ParityShard:    c.Int("parityshard"),
		StunServer:     c.String("stun-server"),
		MQTTBroker:     c.String("mqtt-broker"),
		Demo:           c.String("demo"),
		DemoUnitMS:     c.Int("demo-unit-ms"),
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
	log.Println("server-name:", config.ServerName)
	log.Println("tethering:", config.Tethering)

	var lan rendezvous.LANResolver
	if !config.Tethering {
		lan = &rendezvous.ZeroconfLAN{}
	}
	var wan rendezvous.WANResolver
	if config.MQTTBroker != "" {
		wan = &rendezvous.StunMQTTWAN{StunServer: config.StunServer, Broker: config.MQTTBroker}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	res, err := rendezvous.Race(ctx, lan, wan, config.ServerName, config.ServerPassword)
	cancel()
	if err != nil {
		return errors.Wrap(err, "rendezvous")
	}
	log.Println("found", config.ServerName, "via", res.Via, "at", res.Addr)

	params := session.Params{
		MTU:          config.MTU,
		DataShards:   config.DataShard,
		ParityShards: config.ParityShard,
		SendWindow:   session.DefaultParams.SendWindow,
		RecvWindow:   session.DefaultParams.RecvWindow,
	}
	sess, err := session.Dial(res.Conn, res.Addr, params)
	if err != nil {
		return errors.Wrap(err, "session.Dial")
	}
	defer sess.Close()

	token, err := auth.Response(sess, config.ServerPassword)
	if err != nil {
		return errors.Wrap(err, "auth")
	}
	log.Println("authenticated, verdict:", token)

	isr := &sender.ISR{}
	snd := sender.New(isr, sess, tick.System)

	stop := make(chan struct{})
	go snd.Run(stop)
	defer close(stop)

	if config.SnmpLog != "" {
		src := &sessionStats{sess: sess, start: time.Now()}
		statsStop := make(chan struct{})
		defer close(statsStop)
		go stats.Logger(src, config.SnmpLog, time.Duration(config.SnmpPeriod)*time.Second, statsStop)
	}

	if config.Demo != "" {
		go playDemo(isr, config.Demo, uint32(config.DemoUnitMS))
	}

	// block forever driving the sender; a real GPIO collaborator would
	// call isr.Set from its interrupt handler instead of the demo goroutine.
	select {}
}

// sessionStats adapts the client's session into stats.Source. The client
// originates keying rather than decoding it, so it has no WPM/packet
// estimate of its own to report; it still tracks peer and uptime so a
// single CSV format covers both ends of the link.
type sessionStats struct {
	sess  *kcp.UDPSession
	start time.Time
}

func (s *sessionStats) Snapshot() keyer.Snapshot     { return keyer.Snapshot{} }
func (s *sessionStats) PeerAddress() string          { return s.sess.RemoteAddr().String() }
func (s *sessionStats) SessionUptime() time.Duration { return time.Since(s.start) }
func (s *sessionStats) RTTMillis() int               { return int(s.sess.GetSRTT()) }

func playDemo(isr *sender.ISR, text string, unitMS uint32) {
	edges := keyer.PlayText(text, tick.System.Now(), unitMS)
	for _, e := range edges {
		for tick.After(e.Tick, tick.System.Now()) {
			time.Sleep(time.Millisecond)
		}
		isr.Set(e.Down, e.Tick)
	}
}
