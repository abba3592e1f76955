package model

import "testing"

func TestBuildCatalogSpreadsYLinearly(t *testing.T) {
	catalog := BuildCatalog(3, 100.0)
	if len(catalog) != 3 {
		t.Fatalf("got %d entries, want 3", len(catalog))
	}
	for _, entry := range catalog {
		if entry.X != 100.0 {
			t.Errorf("target %d: X = %v, want 100.0 for all targets", entry.TargetID, entry.X)
		}
	}
	if catalog[0].Y != 10.0 {
		t.Errorf("first target Y = %v, want 10.0", catalog[0].Y)
	}
	if catalog[len(catalog)-1].Y != 90.0 {
		t.Errorf("last target Y = %v, want 90.0", catalog[len(catalog)-1].Y)
	}
}

func TestBuildCatalogSingleTarget(t *testing.T) {
	catalog := BuildCatalog(1, 100.0)
	if len(catalog) != 1 {
		t.Fatalf("got %d entries, want 1", len(catalog))
	}
	if catalog[0].Y != 10.0 {
		t.Errorf("single target Y = %v, want 10.0", catalog[0].Y)
	}
}

func TestCoincidentTargetsShareCoordinates(t *testing.T) {
	// NUM_SWARMS=3, NUM_TARGETS=2: swarms 0 and 2 both map to target 0.
	catalog := BuildCatalog(2, 100.0)
	swarmTarget := func(swarmID, numTargets int) TargetCatalogEntry {
		return catalog[swarmID%numTargets]
	}
	t0 := swarmTarget(0, 2)
	t2 := swarmTarget(2, 2)
	if t0.X != t2.X || t0.Y != t2.Y {
		t.Errorf("swarms 0 and 2 should share target coordinates: %+v vs %+v", t0, t2)
	}
}

func TestSlotEmpty(t *testing.T) {
	var s Slot
	if !s.Empty() {
		t.Errorf("zero-value slot should be empty")
	}
	s.GlobalID = 301
	if s.Empty() {
		t.Errorf("slot with a global id should not be empty")
	}
}
