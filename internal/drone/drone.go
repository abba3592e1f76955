// Package drone implements a single flying agent: three concurrent
// activities (fuel, sensor/weapon-or-camera, navigation) sharing one
// mutex-guarded state struct, gated through assembly by a one-shot
// takeoff signal.
package drone

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/model"
	"github.com/picogrid/drone-strike-sim/internal/protocol"
)

// Config carries the parameter-file-derived kinematic and network
// settings for one drone agent.
type Config struct {
	BasePort     int
	GlobalID     int
	SwarmID      int
	VX, VY       float64
	R            float64
	ThetaStep    float64
	B, A, C      float64 // assembly/defense/target x-bounds
	Q            int     // link-loss probability per tick, percent
	Z            int     // link recovery rounds
	RandomSeed   int64
}

// Drone is one agent process's state.
type Drone struct {
	cfg  Config
	log  logx.Logger
	sock *protocol.Socket
	rng  *rand.Rand

	mu    sync.Mutex
	state model.DroneState

	takeoff chan struct{} // buffered size 1: the one-shot takeoff gate
}

// New binds the drone's port and initializes its state. It sends
// nothing; SendHello announces the drone to the center.
func New(cfg Config, log logx.Logger) (*Drone, error) {
	sock, err := protocol.Listen(protocol.PortForDrone(cfg.BasePort, cfg.GlobalID))
	if err != nil {
		return nil, fmt.Errorf("drone %d: %w", cfg.GlobalID, err)
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano() ^ int64(cfg.GlobalID)
	}
	d := &Drone{
		cfg:     cfg,
		log:     log,
		sock:    sock,
		rng:     rand.New(rand.NewSource(seed)),
		takeoff: make(chan struct{}, 1),
	}
	d.state = model.DroneState{
		GlobalID:    cfg.GlobalID,
		SwarmID:     cfg.SwarmID,
		VX:          cfg.VX,
		VY:          cfg.VY,
		R:           cfg.R,
		ThetaStep:   cfg.ThetaStep,
		Phase:       model.Assembling,
		FuelPercent: 100,
		HaveLink:    true,
		IsCamera:    cfg.GlobalID%100 == 5,
	}
	return d, nil
}

// Close releases the drone's socket.
func (d *Drone) Close() error { return d.sock.Close() }

// SendHello announces this drone to the command center.
func (d *Drone) SendHello() {
	_ = d.sock.Send(protocol.PortForCenter(d.cfg.BasePort), protocol.Message{
		Type: protocol.Hello, SwarmID: d.cfg.SwarmID, DroneID: d.cfg.GlobalID,
		Text: fmt.Sprintf("DRONE_HELLO %d", d.cfg.GlobalID),
	})
}

// Run starts the three concurrent activities and the command-receive
// loop, and blocks until the drone detonates or ctx is canceled.
func (d *Drone) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); d.fuelLoop(ctx) }()
	go func() { defer wg.Done(); d.weaponOrCameraLoop(ctx) }()
	go func() { defer wg.Done(); d.navigationLoop(ctx) }()

	d.receiveLoop(ctx)
	wg.Wait()
}

func (d *Drone) withState(fn func(*model.DroneState)) {
	d.mu.Lock()
	fn(&d.state)
	d.mu.Unlock()
}

func (d *Drone) isTerminal() bool {
	var terminal bool
	d.withState(func(s *model.DroneState) { terminal = s.Detonated })
	return terminal
}

func (d *Drone) autodestructPending() bool {
	var pending bool
	d.withState(func(s *model.DroneState) { pending = s.AutodestructPending })
	return pending
}

func (d *Drone) currentSwarmID() int {
	var sid int
	d.withState(func(s *model.DroneState) { sid = s.SwarmID })
	return sid
}

func (d *Drone) sendStatus(text string) {
	_ = d.sock.Send(protocol.PortForCenter(d.cfg.BasePort), protocol.Message{
		Type: protocol.Status, SwarmID: d.currentSwarmID(), DroneID: d.cfg.GlobalID, Text: text,
	})
}

func (d *Drone) sendPos(x, y float64) {
	msg := protocol.Message{
		Type: protocol.Status, SwarmID: d.currentSwarmID(), DroneID: d.cfg.GlobalID,
		Text: fmt.Sprintf("POS %.1f %.1f", x, y),
	}
	_ = d.sock.Send(protocol.PortForCenter(d.cfg.BasePort), msg)
	_ = d.sock.Send(protocol.PortForArtillery(d.cfg.BasePort), msg)
}

// detonate marks the drone terminal, emits the confirmation, and is
// the last thing any activity does before returning.
func (d *Drone) detonate(finalStatus string) {
	if finalStatus != "" {
		d.sendStatus(finalStatus)
	}
	d.withState(func(s *model.DroneState) {
		s.Detonated = true
		s.Phase = model.Terminated
	})
}

// --- fuel activity ---

func (d *Drone) fuelLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if d.isTerminal() {
			return
		}
		if d.autodestructPending() {
			d.detonate("AUTODESTRUCT_CONFIRMED")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var fuel int
		d.withState(func(s *model.DroneState) {
			if s.FuelPercent > 0 {
				s.FuelPercent--
			}
			fuel = s.FuelPercent
		})
		if fuel <= 0 {
			d.detonate("FUEL_ZERO_AUTODESTRUCT")
			return
		}
	}
}

// --- sensor / weapon-or-camera activity ---

func (d *Drone) weaponOrCameraLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if d.isTerminal() {
			return
		}
		if d.autodestructPending() {
			d.detonate("AUTODESTRUCT_CONFIRMED")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// --- navigation activity ---

func (d *Drone) navigationLoop(ctx context.Context) {
	d.assemblyPhase(ctx)
	if d.isTerminal() {
		return
	}
	d.awaitTarget(ctx)
	if d.isTerminal() {
		return
	}
	d.flightPhase(ctx)
}

// assemblyPhase orbits (B, 0) at radius R with angular step ThetaStep,
// emitting IN_ASSEMBLY and position each tick, until the takeoff gate
// fires.
func (d *Drone) assemblyPhase(ctx context.Context) {
	for {
		if d.autodestructPending() {
			d.detonate("AUTODESTRUCT_CONFIRMED")
			return
		}
		if d.isTerminal() {
			return
		}

		var x, y float64
		d.withState(func(s *model.DroneState) {
			s.Theta += s.ThetaStep
			x = d.cfg.B + s.R*math.Cos(s.Theta)
			y = s.R * math.Sin(s.Theta)
			s.X, s.Y = x, y
		})
		d.sendStatus("IN_ASSEMBLY")
		d.sendPos(x, y)

		select {
		case <-ctx.Done():
			return
		case <-d.takeoff:
			d.sendStatus("TAKEOFF_RECEIVED")
			d.withState(func(s *model.DroneState) { s.Phase = model.FlyingToDefense })
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// awaitTarget blocks until TARGET has been received before the drone
// advances past assembly, per the assembly-exit condition (takeoff AND
// target coordinates known).
func (d *Drone) awaitTarget(ctx context.Context) {
	for {
		if d.autodestructPending() {
			d.detonate("AUTODESTRUCT_CONFIRMED")
			return
		}
		if d.isTerminal() {
			return
		}
		var received bool
		d.withState(func(s *model.DroneState) { received = s.TargetReceived })
		if received {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// flightPhase covers en-route-through-defense and final-approach,
// moving the drone toward its target one second-tick at a time.
func (d *Drone) flightPhase(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if d.autodestructPending() {
			d.detonate("AUTODESTRUCT_CONFIRMED")
			return
		}
		if d.isTerminal() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var x, y, tx, ty float64
		d.withState(func(s *model.DroneState) {
			tx, ty = s.TargetX, s.TargetY
			x, y = s.X, s.Y
		})

		dx, dy := tx-x, ty-y
		distance := math.Hypot(dx, dy)

		if distance < 2.0 {
			d.arrive()
			return
		}

		if distance > 0 {
			stepX := d.cfg.VX * dx / distance
			stepY := d.cfg.VY * dy / distance
			if math.Abs(stepX) > math.Abs(dx) {
				stepX = dx
			}
			if math.Abs(stepY) > math.Abs(dy) {
				stepY = dy
			}
			x += stepX
			y += stepY
		}
		d.withState(func(s *model.DroneState) { s.X, s.Y = x, y })
		d.sendPos(x, y)

		inDefense := x >= d.cfg.B && x <= d.cfg.A
		d.checkEnteringDefense(x)
		if inDefense {
			if d.rollLinkLoss(ctx) {
				return // permanent loss, autodestruct or cancellation
			}
		}
		d.checkAnnounceReassembly(x)
	}
}

// checkEnteringDefense emits ENTERING_DEFENSE exactly once when x
// first crosses B.
func (d *Drone) checkEnteringDefense(x float64) {
	if x < d.cfg.B {
		return
	}
	var alreadyEntered bool
	d.withState(func(s *model.DroneState) {
		alreadyEntered = s.EnteredDefense
		if !alreadyEntered {
			s.EnteredDefense = true
		}
	})
	if !alreadyEntered {
		d.sendStatus("ENTERING_DEFENSE")
		_ = d.sock.Send(protocol.PortForArtillery(d.cfg.BasePort), protocol.Message{
			Type: protocol.Artillery, SwarmID: d.currentSwarmID(), DroneID: d.cfg.GlobalID,
			Text: fmt.Sprintf("ENTERING_DEFENSE %d", d.cfg.GlobalID),
		})
	}
}

// checkAnnounceReassembly emits IN_REASSEMBLY exactly once when x
// crosses A.
func (d *Drone) checkAnnounceReassembly(x float64) {
	if x <= d.cfg.A {
		return
	}
	var alreadyAnnounced bool
	d.withState(func(s *model.DroneState) {
		alreadyAnnounced = s.AnnouncedReassembly
		if !alreadyAnnounced {
			s.AnnouncedReassembly = true
		}
	})
	if !alreadyAnnounced {
		d.sendStatus("IN_REASSEMBLY")
	}
}

// rollLinkLoss runs the Bernoulli(Q%) link-loss trial for one tick in
// the defense zone, followed by up to Z rounds of 50%-per-round
// recovery. It returns true when the caller must stop: the link loss was
// permanent or an autodestruct arrived during recovery (in both cases
// the drone has detonated), or ctx was canceled.
func (d *Drone) rollLinkLoss(ctx context.Context) bool {
	if d.rng.Intn(100) >= d.cfg.Q {
		return false
	}
	d.withState(func(s *model.DroneState) { s.HaveLink = false })
	d.sendStatus("LOST_LINK")

	recovered := false
	for w := 0; w < d.cfg.Z; w++ {
		if d.autodestructPending() {
			d.detonate("AUTODESTRUCT_CONFIRMED")
			return true
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(time.Second):
		}
		if d.rng.Intn(100) < 50 {
			recovered = true
			break
		}
	}
	if !recovered {
		d.detonate("LINK_PERMANENT_LOSS")
		return true
	}
	d.withState(func(s *model.DroneState) { s.HaveLink = true })
	d.sendStatus("LINK_RESTORED")
	return false
}

// arrive handles the terminal phase: camera drones report before
// self-destructing, all others detonate on arrival.
func (d *Drone) arrive() {
	var isCamera bool
	d.withState(func(s *model.DroneState) { isCamera = s.IsCamera })
	if isCamera {
		d.sendStatus("CAMERA_REPORTED")
		d.detonate("CAMERA_AUTODESTRUCT")
	} else {
		d.detonate("ARRIVED_DETONATED")
	}
}

// --- command-receive activity ---

func (d *Drone) receiveLoop(ctx context.Context) {
	for {
		if d.autodestructPending() && d.isTerminal() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, _, err := d.sock.Recv(100 * time.Millisecond)
		if err != nil {
			if d.isTerminal() {
				return
			}
			continue
		}
		d.handleMessage(msg)
		if d.isTerminal() {
			return
		}
	}
}

func (d *Drone) handleMessage(m protocol.Message) {
	switch m.Type {
	case protocol.Command:
		d.handleCommand(m.Text)
	case protocol.Artillery:
		if strings.Contains(m.Text, "HIT") {
			d.detonate("SHOT_DOWN_BY_ARTILLERY")
		}
	}
}

func (d *Drone) handleCommand(text string) {
	switch {
	case text == "TAKEOFF":
		select {
		case d.takeoff <- struct{}{}:
		default: // idempotent: already signaled
		}
	case strings.HasPrefix(text, "RETARGET"):
		d.setTarget(text, "RETARGET")
		d.sendStatus("RETARGET_RECEIVED")
	case strings.HasPrefix(text, "TARGET"):
		d.setTarget(text, "TARGET")
	case strings.HasPrefix(text, "GO_TO_SWARM"):
		d.handleGoToSwarm(text)
	case text == "AUTODESTRUCT_ALL":
		d.withState(func(s *model.DroneState) { s.AutodestructPending = true })
	}
}

func (d *Drone) setTarget(text, keyword string) {
	fields := strings.Fields(strings.TrimPrefix(text, keyword))
	if len(fields) < 3 {
		return
	}
	tx, errX := strconv.ParseFloat(fields[0], 64)
	ty, errY := strconv.ParseFloat(fields[1], 64)
	tid, errID := strconv.Atoi(fields[2])
	if errX != nil || errY != nil || errID != nil {
		return
	}
	d.withState(func(s *model.DroneState) {
		s.TargetX, s.TargetY, s.TargetID = tx, ty, tid
		s.TargetReceived = true
	})
}

// handleGoToSwarm applies a GO_TO_SWARM broadcast only if this drone's
// global id is the one the center addressed; untargeted drones ignore
// it, matching the truck's best-effort broadcast semantics.
func (d *Drone) handleGoToSwarm(text string) {
	fields := strings.Fields(strings.TrimPrefix(text, "GO_TO_SWARM"))
	if len(fields) < 2 {
		return
	}
	newSwarm, err1 := strconv.Atoi(fields[0])
	addressedID, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || addressedID != d.cfg.GlobalID {
		return
	}
	d.withState(func(s *model.DroneState) { s.SwarmID = newSwarm })
	d.sendStatus("REASSIGNED")
}
