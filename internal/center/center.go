// Package center implements the command center: the global swarm-state
// authority and cross-swarm reassignment arbiter. It owns every Swarm
// record and is the only process allowed to mutate one.
package center

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/picogrid/drone-strike-sim/internal/events"
	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/model"
	"github.com/picogrid/drone-strike-sim/internal/protocol"
)

// Config carries the parameter-file-derived settings the center needs.
type Config struct {
	BasePort           int
	NumSwarms          int
	NumTargets         int
	AssemblySize       int
	MaxWaitReassembly  time.Duration
	ReassemblyGrace    time.Duration
	TargetX            float64
	SweepInterval       time.Duration
	RandomSeed         int64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		BasePort:          40000,
		NumSwarms:         2,
		NumTargets:        2,
		AssemblySize:      5,
		MaxWaitReassembly: 30 * time.Second,
		ReassemblyGrace:   5 * time.Second,
		TargetX:           100.0,
		SweepInterval:     5 * time.Second,
	}
}

// Center is the command center process's state.
type Center struct {
	cfg     Config
	log     logx.Logger
	stream  *events.Stream
	sock    *protocol.Socket
	catalog []model.TargetCatalogEntry

	swarmsLock   sync.Mutex
	reassignLock sync.Mutex
	swarms       map[int]*model.Swarm

	rng *rand.Rand
}

// New constructs a Center with one Swarm record per swarm id, each
// pointed at its catalog target via swarm_id mod NUM_TARGETS.
func New(cfg Config, log logx.Logger, stream *events.Stream) (*Center, error) {
	sock, err := protocol.Listen(protocol.PortForCenter(cfg.BasePort))
	if err != nil {
		return nil, fmt.Errorf("center: %w", err)
	}
	catalog := model.BuildCatalog(cfg.NumTargets, cfg.TargetX)

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	c := &Center{
		cfg:     cfg,
		log:     log,
		stream:  stream,
		sock:    sock,
		catalog: catalog,
		swarms:  make(map[int]*model.Swarm, cfg.NumSwarms),
		rng:     rand.New(rand.NewSource(seed)),
	}
	for i := 0; i < cfg.NumSwarms; i++ {
		entry := catalog[i%cfg.NumTargets]
		c.swarms[i] = &model.Swarm{
			SwarmID:  i,
			TruckID:  i,
			Drones:   make([]model.Slot, cfg.AssemblySize),
			TargetID: entry.TargetID,
			TargetX:  entry.X,
			TargetY:  entry.Y,
		}
	}
	return c, nil
}

// Close releases the center's socket.
func (c *Center) Close() error { return c.sock.Close() }

// Run drives the listener and periodic sweep until ctx is canceled or
// every swarm finishes, and returns after sending TERMINATE to
// artillery.
func (c *Center) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.listen(ctx)
	}()

	c.sweepLoop(ctx)
	cancel() // stop the listener once the sweep loop has finished
	wg.Wait()
	return nil
}

func (c *Center) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, _, err := c.sock.Recv(100 * time.Millisecond)
		if err != nil {
			continue // timeout or transient transport failure: retry
		}
		c.handleMessage(msg)
	}
}

func (c *Center) handleMessage(m protocol.Message) {
	switch m.Type {
	case protocol.Hello:
		c.handleHello(m)
	case protocol.Status:
		c.handleStatus(m)
	case protocol.Artillery:
		c.handleArtilleryMsg(m)
	}
}

func (c *Center) handleHello(m protocol.Message) {
	c.withSwarms(func() {
		s, ok := c.swarms[m.SwarmID]
		if !ok {
			return
		}
		for _, slot := range s.Drones {
			if slot.GlobalID == m.DroneID {
				return // already registered, idempotent
			}
		}
		for i := range s.Drones {
			if s.Drones[i].Empty() {
				s.Drones[i] = model.Slot{GlobalID: m.DroneID}
				return
			}
		}
	})
	c.log.WithField("swarm", m.SwarmID).Debugf("HELLO drone %d", m.DroneID)
}

func (c *Center) handleStatus(m protocol.Message) {
	text := m.Text
	switch {
	case strings.Contains(text, "DETONATED"),
		strings.Contains(text, "FUEL_ZERO_AUTODESTRUCT"),
		strings.Contains(text, "LINK_PERMANENT_LOSS"),
		strings.Contains(text, "SHOT_DOWN_BY_ARTILLERY"),
		strings.Contains(text, "CAMERA_AUTODESTRUCT"),
		strings.Contains(text, "ARRIVED_DETONATED"):
		c.terminateDrone(m.SwarmID, m.DroneID)
		if strings.Contains(text, "ARRIVED_DETONATED") || strings.Contains(text, "CAMERA_AUTODESTRUCT") {
			c.withSwarms(func() {
				if s, ok := c.swarms[m.SwarmID]; ok {
					s.ArrivedCount++
				}
			})
		}
	case strings.Contains(text, "CAMERA_REPORTED"):
		c.handleCameraReported(m.SwarmID)
	case strings.Contains(text, "IN_ASSEMBLY"):
		c.handleInAssembly(m.SwarmID)
	case strings.Contains(text, "IN_REASSEMBLY"):
		c.handleInReassembly(m.SwarmID)
	case strings.HasPrefix(text, "POS"):
		// position telemetry is consumed by artillery, not the center
	}
}

func (c *Center) handleArtilleryMsg(m protocol.Message) {
	text := m.Text
	switch {
	case strings.Contains(text, "SHOT_DOWN"):
		c.terminateDrone(m.SwarmID, m.DroneID)
	case strings.Contains(text, "SURVIVED_DEFENSE"):
		c.log.WithField("swarm", m.SwarmID).Debugf("drone %d survived defense pass", m.DroneID)
	}
}

// terminateDrone decrements active_count and clears the drone's slot
// exactly once, guarded by the per-slot terminated marker so repeated
// termination notices for the same drone are idempotent.
func (c *Center) terminateDrone(swarmID, droneID int) {
	var justEmptied bool
	var active int
	c.withSwarms(func() {
		s, ok := c.swarms[swarmID]
		if !ok {
			return
		}
		for i := range s.Drones {
			if s.Drones[i].GlobalID == droneID && !s.Drones[i].Terminated {
				s.Drones[i].Terminated = true
				s.Drones[i].GlobalID = 0
				if s.ActiveCount > 0 {
					s.ActiveCount--
				}
				justEmptied = true
				active = s.ActiveCount
			}
		}
		if s.ActiveCount < len(s.Drones) && s.Assembled == model.TakeoffSent {
			s.Assembled = model.NotReady
		}
	})
	if justEmptied {
		c.stream.Drone(events.KindDestruction, events.SeverityWarning, swarmID, droneID, "drone terminated")
		c.log.WithField("swarm", swarmID).Infof("drone %d terminated, active=%d", droneID, active)
		c.maybeEnterReconformation(swarmID)
	}
}

func (c *Center) handleInAssembly(swarmID int) {
	var ready bool
	c.withSwarms(func() {
		s, ok := c.swarms[swarmID]
		if !ok {
			return
		}
		count := 0
		for _, slot := range s.Drones {
			if !slot.Empty() {
				count++
			}
		}
		s.ActiveCount = count
		if count == len(s.Drones) && s.Assembled == model.NotReady {
			s.Assembled = model.Ready
			ready = true
		}
	})
	if ready {
		c.dispatchTakeoff(swarmID)
	}
}

// dispatchTakeoff sends TARGET and TAKEOFF to the swarm's truck exactly
// once, transitioning Assembled from Ready to TakeoffSent.
func (c *Center) dispatchTakeoff(swarmID int) {
	var s model.Swarm
	var truckID int
	var send bool
	c.withSwarms(func() {
		sw, ok := c.swarms[swarmID]
		if !ok || sw.Assembled != model.Ready {
			return
		}
		sw.Assembled = model.TakeoffSent
		s = *sw
		truckID = sw.TruckID
		send = true
	})
	if !send {
		return
	}
	truckPort := protocol.PortForTruck(c.cfg.BasePort, truckID)
	_ = c.sock.Send(truckPort, protocol.Message{
		Type:    protocol.Command,
		SwarmID: swarmID,
		Text:    fmt.Sprintf("TARGET %.1f %.1f %d", s.TargetX, s.TargetY, s.TargetID),
	})
	_ = c.sock.Send(truckPort, protocol.Message{
		Type:    protocol.Command,
		SwarmID: swarmID,
		Text:    "TAKEOFF",
	})
	c.stream.Swarm(events.KindTakeoff, events.SeverityInfo, swarmID, "swarm assembled, takeoff dispatched")
	c.log.WithField("swarm", swarmID).Infof("assembled and ready -> TAKEOFF")
}

func (c *Center) handleInReassembly(swarmID int) {
	c.log.WithField("swarm", swarmID).Debugf("entering final approach")
	c.maybeEnterReconformation(swarmID)
}

// maybeEnterReconformation marks the swarm RECONFORMING (if not already
// full or destroyed) and kicks off a reassignment sweep. The timestamp
// for the reconformation timeout is only set the first time a swarm
// enters this state.
func (c *Center) maybeEnterReconformation(swarmID int) {
	c.maybeEnterReconformationChain(swarmID, map[int]bool{swarmID: true})
}

// maybeEnterReconformationChain is maybeEnterReconformation threaded
// with the set of swarm ids already touched by the current donation
// chain, so a donor's own cascade (see reassignOneFromChain) can never
// loop back into a swarm already part of this transaction.
func (c *Center) maybeEnterReconformationChain(swarmID int, visited map[int]bool) {
	var needsReconform bool
	c.withSwarms(func() {
		s, ok := c.swarms[swarmID]
		if !ok || s.IsDestroyed {
			return
		}
		if s.ActiveCount == 0 {
			return // straight to COMPLETED, no reconformation
		}
		if s.ActiveCount >= len(s.Drones) {
			s.InReassembly = false
			return
		}
		if !s.InReassembly {
			s.InReassembly = true
			s.ReassemblyStart = time.Now()
		}
		needsReconform = true
	})
	if needsReconform {
		c.reconformFromNeighborsChain(swarmID, visited)
	}
}

// reconformFromNeighbors searches peer swarms at expanding radius
// (target-1, target+1, target-2, target+2, ...) for donors and stops as
// soon as the target swarm is full. Each peer is tried at most once per
// call and gives at most one drone, and a peer already in the chain's
// visited set is skipped, so a target short by more than one drone can
// still be short afterwards. If it is still short and no other swarm is
// incomplete and undestroyed, it is destroyed at once.
func (c *Center) reconformFromNeighbors(targetID int) {
	c.reconformFromNeighborsChain(targetID, map[int]bool{targetID: true})
}

func (c *Center) reconformFromNeighborsChain(targetID int, visited map[int]bool) {
	for step := 1; step < c.cfg.NumSwarms; step++ {
		if !c.swarmNeedsDonor(targetID) {
			return
		}
		for _, donorID := range []int{targetID - step, targetID + step} {
			if donorID < 0 || donorID >= c.cfg.NumSwarms {
				continue
			}
			if visited[donorID] {
				continue // already part of this reconformation chain: refuse to hand a drone back where it just came from
			}
			if !c.swarmNeedsDonor(targetID) {
				return
			}
			c.reassignOneFromChain(donorID, targetID, visited)
		}
	}
	if c.swarmNeedsDonor(targetID) && c.noDonorAvailable(targetID) {
		c.destroySwarm(targetID, "sin donantes disponibles")
	}
}

func (c *Center) swarmNeedsDonor(swarmID int) bool {
	var needs bool
	c.withSwarms(func() {
		s, ok := c.swarms[swarmID]
		needs = ok && !s.IsDestroyed && s.ActiveCount > 0 && s.ActiveCount < len(s.Drones)
	})
	return needs
}

// noDonorAvailable reports whether every other swarm is complete (full)
// or destroyed, the short-circuit condition for immediate destruction.
func (c *Center) noDonorAvailable(targetID int) bool {
	available := false
	c.withSwarms(func() {
		for id, s := range c.swarms {
			if id == targetID {
				continue
			}
			if !s.IsDestroyed && s.ActiveCount > 0 && s.ActiveCount < len(s.Drones) {
				available = true
				return
			}
		}
	})
	return !available
}

// reassignOneFrom moves one active drone from donor to target under
// reassignLock, serializing the whole transaction ahead of any
// individual swarms-lock critical section (lock order: reassignLock
// before swarmsLock). A complete, fully-armed swarm never donates.
func (c *Center) reassignOneFrom(donorID, targetID int) {
	c.reassignOneFromChain(donorID, targetID, map[int]bool{donorID: true, targetID: true})
}

func (c *Center) reassignOneFromChain(donorID, targetID int, visited map[int]bool) {
	if donorID == targetID || donorID < 0 || targetID < 0 {
		return
	}
	c.reassignLock.Lock()

	var (
		movedID       int
		targetSlot    int = -1
		donorTruckID  int
		targetTruckID int
		targetX       float64
		targetY       float64
		targetTID     int
		ok            bool
	)
	c.withSwarms(func() {
		donor, hasDonor := c.swarms[donorID]
		target, hasTarget := c.swarms[targetID]
		if !hasDonor || !hasTarget {
			return
		}
		if donor.IsDestroyed || donor.ActiveCount == 0 || donor.ActiveCount >= len(donor.Drones) {
			return // complete or empty swarms never donate
		}
		if target.ActiveCount >= len(target.Drones) {
			return
		}
		for i := range target.Drones {
			if target.Drones[i].Empty() {
				targetSlot = i
				break
			}
		}
		if targetSlot < 0 {
			return
		}
		for i := range donor.Drones {
			if !donor.Drones[i].Empty() && !donor.Drones[i].Terminated {
				movedID = donor.Drones[i].GlobalID
				donor.Drones[i] = model.Slot{}
				donor.ActiveCount--
				break
			}
		}
		if movedID == 0 {
			return
		}
		if donor.ActiveCount < len(donor.Drones) && donor.Assembled == model.TakeoffSent {
			donor.Assembled = model.NotReady
		}
		target.Drones[targetSlot] = model.Slot{GlobalID: movedID}
		target.ActiveCount++
		donorTruckID = donor.TruckID
		targetTruckID = target.TruckID
		targetX, targetY, targetTID = target.TargetX, target.TargetY, target.TargetID
		ok = true
	})
	if !ok {
		c.reassignLock.Unlock()
		return
	}

	// Snapshot taken, swarmsLock released: now perform the three sends,
	// still under reassignLock to serialize concurrent donation attempts.
	donorTruckPort := protocol.PortForTruck(c.cfg.BasePort, donorTruckID)
	targetTruckPort := protocol.PortForTruck(c.cfg.BasePort, targetTruckID)
	dronePort := protocol.PortForDrone(c.cfg.BasePort, movedID)

	_ = c.sock.Send(donorTruckPort, protocol.Message{
		Type: protocol.Command, SwarmID: donorID, DroneID: movedID,
		Text: fmt.Sprintf("REASSIGN_ONE_TO %d %d", targetID, movedID),
	})
	_ = c.sock.Send(targetTruckPort, protocol.Message{
		Type: protocol.Command, SwarmID: targetID,
		Text: fmt.Sprintf("TARGET %.1f %.1f %d", targetX, targetY, targetTID),
	})
	_ = c.sock.Send(dronePort, protocol.Message{
		Type: protocol.Command, SwarmID: targetID, DroneID: movedID,
		Text: fmt.Sprintf("RETARGET %.1f %.1f %d", targetX, targetY, targetTID),
	})

	c.stream.Swarm(events.KindReassignment, events.SeverityInfo, targetID,
		fmt.Sprintf("reassigned drone %d from swarm %d", movedID, donorID))
	c.log.Infof("reassigned drone %d from swarm %d to swarm %d", movedID, donorID, targetID)
	c.reassignLock.Unlock()

	// Donor-cascade: donating may itself have dropped the donor below
	// full strength; enter the donor's own reconformation immediately
	// rather than waiting on a periodic sweep that only re-checks
	// swarms already InReassembly. Must run after reassignLock is
	// released: this can recurse back into reassignOneFromChain via
	// reconformFromNeighborsChain, and reassignLock is not reentrant.
	// The shared visited set stops that recursion from handing a drone
	// back and forth between the same two swarms forever.
	visited[donorID] = true
	c.maybeEnterReconformationChain(donorID, visited)
}

// destroySwarm marks a swarm DESTROYED and broadcasts AUTODESTRUCT_ALL
// directly to every surviving drone (not relayed via truck).
func (c *Center) destroySwarm(swarmID int, reason string) {
	var survivors []int
	c.withSwarms(func() {
		s, ok := c.swarms[swarmID]
		if !ok || s.IsDestroyed {
			return
		}
		s.IsDestroyed = true
		s.InReassembly = false
		for _, slot := range s.Drones {
			if !slot.Empty() && !slot.Terminated {
				survivors = append(survivors, slot.GlobalID)
			}
		}
	})
	for _, gid := range survivors {
		port := protocol.PortForDrone(c.cfg.BasePort, gid)
		_ = c.sock.Send(port, protocol.Message{
			Type: protocol.Command, SwarmID: swarmID, DroneID: gid,
			Text: "AUTODESTRUCT_ALL",
		})
	}
	c.stream.Swarm(events.KindAutodestruct, events.SeverityCritical, swarmID, "swarm destroyed: "+reason)
	c.log.WithField("swarm", swarmID).Warnf("DESTROYED (%s)", reason)
}

func (c *Center) handleCameraReported(swarmID int) {
	var (
		alreadyReported bool
		arrived         int
		size            int
		status          model.DestructionStatus
	)
	c.withSwarms(func() {
		s, ok := c.swarms[swarmID]
		if !ok {
			return
		}
		if s.CameraReported {
			alreadyReported = true
			return
		}
		s.CameraReported = true
		arrived = s.ArrivedCount
		size = len(s.Drones)
		s.TargetDestroyed = arrived >= size-1
	})
	if alreadyReported {
		return
	}
	switch {
	case arrived >= size-1:
		status = model.Destroyed
	case arrived >= 2:
		status = model.PartiallyDestroyed
	default:
		status = model.Intact
	}
	c.stream.Swarm(events.KindCamera, events.SeverityInfo, swarmID, "camera report: "+status.String())
	c.log.Infof("BLANCO %d: %s", swarmID, status.String())
}

func (c *Center) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		c.checkReconformationTimeouts()
		c.printStatus()
		if c.allSwarmsFinished() {
			c.log.Infof("all swarms finished, sending TERMINATE")
			_ = c.sock.Send(protocol.PortForArtillery(c.cfg.BasePort), protocol.Message{
				Type: protocol.Artillery, Text: "TERMINATE",
			})
			return
		}
	}
}

func (c *Center) checkReconformationTimeouts() {
	var timedOut []int
	c.withSwarms(func() {
		for id, s := range c.swarms {
			if s.InReassembly && !s.IsDestroyed {
				elapsed := time.Since(s.ReassemblyStart)
				if elapsed > c.cfg.MaxWaitReassembly+c.cfg.ReassemblyGrace {
					timedOut = append(timedOut, id)
				}
			}
		}
	})
	for _, id := range timedOut {
		c.destroySwarm(id, "timeout de reconformación")
	}
}

func (c *Center) allSwarmsFinished() bool {
	done := true
	c.withSwarms(func() {
		for _, s := range c.swarms {
			if s.ActiveCount > 0 {
				done = false
				return
			}
		}
	})
	return done
}

func (c *Center) printStatus() {
	c.withSwarms(func() {
		for id := 0; id < c.cfg.NumSwarms; id++ {
			s, ok := c.swarms[id]
			if !ok {
				continue
			}
			c.log.Debugf("swarm %d: active=%d assembled=%s destroyed=%v", id, s.ActiveCount, s.Assembled, s.IsDestroyed)
		}
	})
}

func (c *Center) withSwarms(fn func()) {
	c.swarmsLock.Lock()
	fn()
	c.swarmsLock.Unlock()
}
