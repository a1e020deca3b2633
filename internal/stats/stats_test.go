package stats

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jl1nie/wifikey2/internal/keyer"
)

type fakeSource struct{}

func (fakeSource) Snapshot() keyer.Snapshot {
	return keyer.Snapshot{WPM: 18, Packets: 42, AuthOK: true, ATUBusy: false}
}
func (fakeSource) PeerAddress() string          { return "203.0.113.5:4000" }
func (fakeSource) SessionUptime() time.Duration { return 90 * time.Second }
func (fakeSource) RTTMillis() int               { return 37 }

func TestWriteRowAppendsHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.csv")
	src := fakeSource{}

	if err := writeRow(src, path); err != nil {
		t.Fatalf("writeRow 1: %v", err)
	}
	if err := writeRow(src, path); err != nil {
		t.Fatalf("writeRow 2: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 3 { // header + 2 data rows
		t.Fatalf("expected 3 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "Unix" {
		t.Fatalf("expected header row first, got %v", rows[0])
	}
	if rows[1][1] != "203.0.113.5:4000" {
		t.Fatalf("unexpected peer address in row: %v", rows[1])
	}
}
