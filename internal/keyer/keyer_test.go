package keyer

import (
	"testing"
	"time"

	"github.com/jl1nie/wifikey2/internal/keyproto"
	"github.com/jl1nie/wifikey2/internal/tick"
)

type fakeOutput struct {
	events []bool
}

func (f *fakeOutput) AssertKey(down bool) { f.events = append(f.events, down) }

func TestApplySyncFrameDoesNotAssertKey(t *testing.T) {
	out := &fakeOutput{}
	clock := tick.NewInjectable(1000)
	k := New(out, nil, clock, nil)
	k.apply(keyproto.Frame{Kind: keyproto.KindKeyingMessage, BaseTS: 1000})
	if len(out.events) != 0 {
		t.Fatalf("sync frame should never assert the key, got %v", out.events)
	}
}

func TestApplyKeyingFrameAssertsInOrder(t *testing.T) {
	out := &fakeOutput{}
	clock := tick.NewInjectable(1000)
	k := New(out, nil, clock, nil)

	// apply waits for the clock to reach each edge's local time, so keep the
	// virtual clock moving while it runs.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				clock.Advance(1)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	k.apply(keyproto.Frame{
		Kind:   keyproto.KindKeyingMessage,
		BaseTS: 1000,
		Slots: []keyproto.Slot{
			{Edge: true, OffsetMS: 0},
			{Edge: false, OffsetMS: 10},
		},
	})

	if len(out.events) != 2 || !out.events[0] || out.events[1] {
		t.Fatalf("expected [down, up], got %v", out.events)
	}
}

func TestWatchdogForcesReleaseAfterMaxAssertDuration(t *testing.T) {
	out := &fakeOutput{}
	clock := tick.NewInjectable(0)
	stats := &Stats{}
	k := New(out, nil, clock, stats)

	k.apply(keyproto.Frame{
		Kind:   keyproto.KindKeyingMessage,
		BaseTS: 0,
		Slots:  []keyproto.Slot{{Edge: true, OffsetMS: 0}},
	})
	if !k.asserted.Load() {
		t.Fatalf("expected key asserted after keydown")
	}

	stop := make(chan struct{})
	go k.watchdog(stop)
	defer close(stop)

	clock.Advance(uint32(MaxAssertDuration/time.Millisecond) + 1500)
	time.Sleep(1200 * time.Millisecond) // allow the 1Hz watchdog tick to observe the advance

	if k.asserted.Load() {
		t.Fatalf("expected watchdog to have released the key")
	}
}

func TestRecordDurationEstimatesWPM(t *testing.T) {
	stats := &Stats{}
	k := &Keyer{stats: stats}
	// a 60ms dot corresponds to 1000ms * 1word/(60ms*50units) *60 = 20 WPM
	k.recordDuration(60)
	snap := stats.Snapshot()
	if snap.WPM != 20 {
		t.Fatalf("WPM = %d, want 20", snap.WPM)
	}
}

func TestPlayTextProducesBalancedEdges(t *testing.T) {
	edges := PlayText("SOS", 0, 60)
	if len(edges)%2 != 0 {
		t.Fatalf("expected an even number of edges (down/up pairs), got %d", len(edges))
	}
	for i, e := range edges {
		wantDown := i%2 == 0
		if e.Down != wantDown {
			t.Fatalf("edge %d: Down=%v, want %v", i, e.Down, wantDown)
		}
	}
}
