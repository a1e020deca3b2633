// Package stats periodically writes session statistics to a CSV file,
// adapted from kcptun's SnmpLogger: same ticker-driven open/append/flush
// pattern, but recording the domain counters spec.md names (peer address,
// session timing, WPM, packet rate, auth/ATU state) instead of KCP's own
// SNMP counters. A parallel logger can still be pointed at kcp.DefaultSnmp
// directly for link-level diagnostics; that is unrelated to this package.
package stats

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jl1nie/wifikey2/internal/keyer"
)

// Source supplies the live snapshot to log each tick.
type Source interface {
	Snapshot() keyer.Snapshot
	PeerAddress() string
	SessionUptime() time.Duration
	RTTMillis() int
}

// header matches the field order written by writeRow.
var header = []string{"Unix", "PeerAddress", "UptimeSec", "AuthOK", "ATUBusy", "WPM", "Packets", "PacketRate", "RTTMillis"}

// Logger appends one row of stats per interval to path, the way
// SnmpLogger appends a row of KCP counters, until stop is closed. path may
// contain a time.Format layout in its filename component, producing log
// rotation by date the same way SnmpLogger does.
func Logger(src Source, path string, interval time.Duration, stop <-chan struct{}) {
	if path == "" || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := writeRow(src, path); err != nil {
				log.Println("stats:", err)
				return
			}
		}
	}
}

func writeRow(src Source, path string) error {
	logdir, logfile := filepath.Split(path)
	f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}

	snap := src.Snapshot()
	row := []string{
		fmt.Sprint(time.Now().Unix()),
		src.PeerAddress(),
		fmt.Sprint(int(src.SessionUptime().Seconds())),
		fmt.Sprint(snap.AuthOK),
		fmt.Sprint(snap.ATUBusy),
		fmt.Sprint(snap.WPM),
		fmt.Sprint(snap.Packets),
		fmt.Sprint(snap.PacketRate),
		fmt.Sprint(src.RTTMillis()),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
