package drone

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/model"
)

func testLogger() logx.Logger {
	return logx.NewWithConfig(logx.Config{Level: logx.FatalLevel, Writer: io.Discard})
}

func newTestDrone(t *testing.T, globalID int, q, z int) *Drone {
	t.Helper()
	cfg := Config{
		BasePort:   46000,
		GlobalID:   globalID,
		SwarmID:    0,
		VX:         10, VY: 10, R: 5, ThetaStep: 0.3,
		B: 20, A: 50, C: 100,
		Q: q, Z: z,
		RandomSeed: 1,
	}
	d, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestIsCameraConvention(t *testing.T) {
	d := newTestDrone(t, 105, 0, 0) // 105 % 100 == 5
	if !d.state.IsCamera {
		t.Errorf("drone 105 should be marked camera")
	}
	d2 := newTestDrone(t, 106, 0, 0)
	if d2.state.IsCamera {
		t.Errorf("drone 106 should not be marked camera")
	}
}

func TestFuelMonotoneNonIncreasing(t *testing.T) {
	d := newTestDrone(t, 101, 0, 0)
	last := d.state.FuelPercent
	for i := 0; i < 5; i++ {
		d.withState(func(s *model.DroneState) {
			if s.FuelPercent > 0 {
				s.FuelPercent--
			}
		})
		d.withState(func(s *model.DroneState) {
			if s.FuelPercent > last {
				t.Errorf("fuel increased: %d -> %d", last, s.FuelPercent)
			}
			last = s.FuelPercent
		})
	}
}

func TestTakeoffSignalIsIdempotent(t *testing.T) {
	d := newTestDrone(t, 101, 0, 0)
	d.handleCommand("TAKEOFF")
	d.handleCommand("TAKEOFF") // duplicate, must not block or panic

	select {
	case <-d.takeoff:
	default:
		t.Fatalf("expected takeoff gate to be signaled")
	}
	select {
	case <-d.takeoff:
		t.Fatalf("takeoff gate should only fire once")
	default:
	}
}

func TestSetTargetMarksReceived(t *testing.T) {
	d := newTestDrone(t, 101, 0, 0)
	d.handleCommand("TARGET 100.0 50.0 2")

	d.withState(func(s *model.DroneState) {
		if !s.TargetReceived || s.TargetX != 100.0 || s.TargetY != 50.0 || s.TargetID != 2 {
			t.Errorf("target not applied correctly: %+v", s)
		}
	})
}

func TestGoToSwarmIgnoredWhenNotAddressed(t *testing.T) {
	d := newTestDrone(t, 101, 0, 0)
	d.handleCommand("GO_TO_SWARM 3 999") // addressed to a different drone

	if d.currentSwarmID() != 0 {
		t.Errorf("unaddressed GO_TO_SWARM should be ignored, swarm_id changed to %d", d.currentSwarmID())
	}

	d.handleCommand("GO_TO_SWARM 3 101") // addressed to this drone
	if d.currentSwarmID() != 3 {
		t.Errorf("addressed GO_TO_SWARM not applied, swarm_id = %d", d.currentSwarmID())
	}
}

func TestLinkNeverLostWhenQZero(t *testing.T) {
	d := newTestDrone(t, 101, 0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if permanent := d.rollLinkLoss(ctx); permanent {
		t.Errorf("Q=0 should never trigger link loss")
	}
	d.withState(func(s *model.DroneState) {
		if !s.HaveLink {
			t.Errorf("link should remain up when Q=0")
		}
	})
}

func TestLinkPermanentLossWhenNoRecoveryRounds(t *testing.T) {
	d := newTestDrone(t, 101, 100, 0) // always lose link, zero recovery rounds
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if permanent := d.rollLinkLoss(ctx); !permanent {
		t.Errorf("Q=100, Z=0 should always result in permanent link loss")
	}
	if !d.isTerminal() {
		t.Errorf("permanent link loss should detonate the drone")
	}
}

func TestAutodestructAllSetsPendingFlag(t *testing.T) {
	d := newTestDrone(t, 101, 0, 0)
	d.handleCommand("AUTODESTRUCT_ALL")
	if !d.autodestructPending() {
		t.Errorf("AUTODESTRUCT_ALL should set the pending flag")
	}
}

func TestEnteringDefenseAnnouncedOnce(t *testing.T) {
	d := newTestDrone(t, 101, 0, 0)
	d.checkEnteringDefense(25.0)
	d.checkEnteringDefense(26.0)

	count := 0
	d.withState(func(s *model.DroneState) {
		if s.EnteredDefense {
			count++
		}
	})
	if count != 1 {
		t.Errorf("entered defense flag should be set exactly once")
	}
}
