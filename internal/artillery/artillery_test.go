package artillery

import (
	"io"
	"testing"
	"time"

	"github.com/picogrid/drone-strike-sim/internal/events"
	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/protocol"
)

func testLogger() logx.Logger {
	return logx.NewWithConfig(logx.Config{Level: logx.FatalLevel, Writer: io.Discard})
}

func newTestStation(t *testing.T, w int) *Station {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BasePort = 47000
	cfg.W = w
	cfg.RandomSeed = 1
	cfg.StaleAfter = 50 * time.Millisecond

	a, err := New(cfg, testLogger(), events.NewStream("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestUpdatePositionTracksDefenseZone(t *testing.T) {
	a := newTestStation(t, 0)

	a.updatePosition(101, 0, 10.0, 0.0) // below B, not in defense
	a.mu.Lock()
	inDefense := a.tracked[101].InDefenseZone
	a.mu.Unlock()
	if inDefense {
		t.Errorf("drone at x=10 should not be in defense zone (B=%v)", a.cfg.B)
	}

	a.updatePosition(101, 0, 25.0, 0.0) // between B and A
	a.mu.Lock()
	inDefense = a.tracked[101].InDefenseZone
	a.mu.Unlock()
	if !inDefense {
		t.Errorf("drone at x=25 should be in defense zone (B=%v, A=%v)", a.cfg.B, a.cfg.A)
	}

	a.updatePosition(101, 0, 75.0, 0.0) // past A
	a.mu.Lock()
	inDefense = a.tracked[101].InDefenseZone
	a.mu.Unlock()
	if inDefense {
		t.Errorf("drone at x=75 should have left the defense zone")
	}
}

func TestMarkDeadDeactivatesTrackedDrone(t *testing.T) {
	a := newTestStation(t, 0)
	a.updatePosition(101, 0, 25.0, 0.0)

	a.markDead(101)

	a.mu.Lock()
	active := a.tracked[101].Active
	a.mu.Unlock()
	if active {
		t.Errorf("drone should be inactive after markDead")
	}
}

func TestMarkDeadOnUntrackedDroneIsNoop(t *testing.T) {
	a := newTestStation(t, 0)
	a.markDead(999) // must not panic
}

func TestReapStaleDeactivatesOldEntries(t *testing.T) {
	a := newTestStation(t, 0)
	a.updatePosition(101, 0, 25.0, 0.0)

	time.Sleep(75 * time.Millisecond) // exceed the 50ms StaleAfter

	a.reapStale()

	a.mu.Lock()
	active := a.tracked[101].Active
	a.mu.Unlock()
	if active {
		t.Errorf("stale drone should be reaped inactive")
	}
}

func TestFireCycleAlwaysHitsWhenWIsMax(t *testing.T) {
	a := newTestStation(t, 100)
	a.updatePosition(101, 0, 25.0, 0.0) // active, in defense zone

	a.fireCycle()

	a.mu.Lock()
	active := a.tracked[101].Active
	a.mu.Unlock()
	if active {
		t.Errorf("W=100 should always hit and deactivate the drone")
	}
}

func TestFireCycleNeverHitsWhenWIsZero(t *testing.T) {
	a := newTestStation(t, 0)
	a.updatePosition(101, 0, 25.0, 0.0)

	a.fireCycle()

	a.mu.Lock()
	active := a.tracked[101].Active
	a.mu.Unlock()
	if !active {
		t.Errorf("W=0 should never hit, drone should remain active")
	}
}

func TestFireCycleIgnoresDronesOutsideDefenseZone(t *testing.T) {
	a := newTestStation(t, 100)
	a.updatePosition(101, 0, 5.0, 0.0) // below B, not in defense

	a.fireCycle()

	a.mu.Lock()
	active := a.tracked[101].Active
	a.mu.Unlock()
	if !active {
		t.Errorf("drone outside the defense zone should never be engaged")
	}
}

func TestTerminateMessageClosesTerminateChannel(t *testing.T) {
	a := newTestStation(t, 0)
	a.handleArtilleryMsg(protocol.Message{Type: protocol.Artillery, Text: "TERMINATE"})

	select {
	case <-a.terminate:
	default:
		t.Errorf("terminate channel should be closed after a TERMINATE message")
	}
}
