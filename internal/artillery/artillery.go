// Package artillery implements the defense station: a tracking table
// of drones seen in flight and a periodic engagement loop that fires on
// whichever of them are currently in the defense zone.
package artillery

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/picogrid/drone-strike-sim/internal/events"
	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/model"
	"github.com/picogrid/drone-strike-sim/internal/protocol"
)

// Config carries the parameter-file-derived settings the artillery
// station needs.
type Config struct {
	BasePort      int
	W             int // hit probability per trial, percent
	B, A          float64
	EngagementRate time.Duration
	StaleAfter    time.Duration
	RandomSeed    int64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		BasePort:       40000,
		W:              30,
		B:              20.0,
		A:              50.0,
		EngagementRate: 2 * time.Second,
		StaleAfter:     10 * time.Second,
	}
}

// Station is the artillery process's state.
type Station struct {
	cfg    Config
	log    logx.Logger
	stream *events.Stream
	sock   *protocol.Socket
	rng    *rand.Rand

	mu      sync.Mutex
	tracked map[int]*model.TrackedDrone

	terminate chan struct{}
}

// New binds the artillery station's port.
func New(cfg Config, log logx.Logger, stream *events.Stream) (*Station, error) {
	sock, err := protocol.Listen(protocol.PortForArtillery(cfg.BasePort))
	if err != nil {
		return nil, fmt.Errorf("artillery: %w", err)
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Station{
		cfg:       cfg,
		log:       log,
		stream:    stream,
		sock:      sock,
		rng:       rand.New(rand.NewSource(seed)),
		tracked:   make(map[int]*model.TrackedDrone),
		terminate: make(chan struct{}),
	}, nil
}

// Close releases the artillery station's socket.
func (a *Station) Close() error { return a.sock.Close() }

// Run drives the listener and the engagement/reaper cycle until ctx is
// canceled or a TERMINATE notice arrives from the command center.
func (a *Station) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.listen(ctx)
	}()
	go func() {
		defer wg.Done()
		a.statusDumpLoop(ctx)
	}()

	a.engagementLoop(ctx)
	wg.Wait()
}

func (a *Station) statusDumpLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.terminate:
			return
		case <-ticker.C:
			a.StatusDump()
		}
	}
}

func (a *Station) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.terminate:
			return
		default:
		}
		msg, _, err := a.sock.Recv(50 * time.Millisecond)
		if err != nil {
			continue
		}
		a.handleMessage(msg)
	}
}

func (a *Station) handleMessage(m protocol.Message) {
	switch m.Type {
	case protocol.Status:
		a.handleStatus(m)
	case protocol.Artillery:
		a.handleArtilleryMsg(m)
	}
}

func (a *Station) handleStatus(m protocol.Message) {
	switch {
	case strings.HasPrefix(m.Text, "POS"):
		fields := strings.Fields(m.Text)
		if len(fields) != 3 {
			return
		}
		x, errX := strconv.ParseFloat(fields[1], 64)
		y, errY := strconv.ParseFloat(fields[2], 64)
		if errX != nil || errY != nil {
			return
		}
		a.updatePosition(m.DroneID, m.SwarmID, x, y)
	case strings.Contains(m.Text, "ARRIVED_DETONATED"), strings.Contains(m.Text, "CAMERA_AUTODESTRUCT"):
		a.markDead(m.DroneID)
	}
}

func (a *Station) handleArtilleryMsg(m protocol.Message) {
	switch {
	case strings.Contains(m.Text, "TERMINATE"):
		a.log.Infof("received TERMINATE, shutting down")
		close(a.terminate)
	case strings.Contains(m.Text, "SHOT_DOWN"):
		a.markDead(m.DroneID)
	case strings.Contains(m.Text, "ENTERING_DEFENSE"):
		a.log.Debugf("drone %d reported entering defense zone", m.DroneID)
	case strings.Contains(m.Text, "TRUCK_READY"):
		a.log.Debugf("%s", m.Text)
	case strings.HasPrefix(m.Text, "REASSIGN"):
		fields := strings.Fields(m.Text)
		if len(fields) != 3 {
			return
		}
		droneID, err1 := strconv.Atoi(fields[1])
		newSwarm, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			return
		}
		a.mu.Lock()
		if d, ok := a.tracked[droneID]; ok {
			d.SwarmID = newSwarm
		}
		a.mu.Unlock()
	}
}

// updatePosition upserts a tracked drone and detects transitions into
// or out of the defense zone, using the canonical x-band B <= x <= A
// that matches the drone's own ENTERING_DEFENSE trigger.
func (a *Station) updatePosition(droneID, swarmID int, x, y float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.tracked[droneID]
	if !ok {
		d = &model.TrackedDrone{GlobalID: droneID, SwarmID: swarmID, Active: true}
		a.tracked[droneID] = d
		a.log.Debugf("tracking new drone %d (swarm %d)", droneID, swarmID)
	}
	d.X, d.Y = x, y
	d.SwarmID = swarmID
	d.LastUpdate = time.Now()

	wasInDefense := d.InDefenseZone
	nowInDefense := x >= a.cfg.B && x <= a.cfg.A
	d.InDefenseZone = nowInDefense
	if !wasInDefense && nowInDefense {
		a.log.Debugf("drone %d entered defense zone at (%.1f, %.1f)", droneID, x, y)
	}
}

func (a *Station) markDead(droneID int) {
	a.mu.Lock()
	if d, ok := a.tracked[droneID]; ok {
		d.Active = false
	}
	a.mu.Unlock()
}

// engagementLoop fires one Bernoulli(W%) trial per tracked, active,
// in-defense-zone drone every EngagementRate, and separately reaps
// drones stale for more than StaleAfter.
func (a *Station) engagementLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.EngagementRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.terminate:
			return
		case <-ticker.C:
		}
		a.reapStale()
		a.fireCycle()
	}
}

func (a *Station) reapStale() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for id, d := range a.tracked {
		if d.Active && now.Sub(d.LastUpdate) > a.cfg.StaleAfter {
			d.Active = false
			a.log.Debugf("drone %d stale, removing from tracking", id)
		}
	}
}

func (a *Station) fireCycle() {
	type target struct {
		id, swarm int
	}
	var targets []target
	a.mu.Lock()
	for id, d := range a.tracked {
		if d.Active && d.InDefenseZone {
			targets = append(targets, target{id: id, swarm: d.SwarmID})
		}
	}
	a.mu.Unlock()

	for _, t := range targets {
		hit := a.rng.Intn(100) < a.cfg.W
		if hit {
			a.markDead(t.id)
			_ = a.sock.Send(protocol.PortForDrone(a.cfg.BasePort, t.id), protocol.Message{
				Type: protocol.Artillery, SwarmID: t.swarm, DroneID: t.id, Text: "HIT",
			})
			_ = a.sock.Send(protocol.PortForCenter(a.cfg.BasePort), protocol.Message{
				Type: protocol.Artillery, SwarmID: t.swarm, DroneID: t.id,
				Text: fmt.Sprintf("DRONE %d SHOT_DOWN", t.id),
			})
			a.stream.Drone(events.KindEngagement, events.SeverityCritical, t.swarm, t.id, "artillery hit")
			a.log.Infof("hit drone %d (swarm %d)", t.id, t.swarm)
		} else {
			_ = a.sock.Send(protocol.PortForCenter(a.cfg.BasePort), protocol.Message{
				Type: protocol.Artillery, SwarmID: t.swarm, DroneID: t.id,
				Text: fmt.Sprintf("DRONE %d SURVIVED_DEFENSE", t.id),
			})
		}
	}
}

// StatusDump logs a full tracking-table snapshot, generalizing the
// reference implementation's periodic print_artillery_status.
func (a *Station) StatusDump() {
	a.mu.Lock()
	defer a.mu.Unlock()
	active, inDefense := 0, 0
	for _, d := range a.tracked {
		if d.Active {
			active++
			if d.InDefenseZone {
				inDefense++
			}
		}
	}
	a.log.Debugf("tracking: active=%d in_defense=%d total=%d", active, inDefense, len(a.tracked))
}
