// Package truck implements the launch relay: it is purely a dispatch
// layer with no authoritative state of its own (all of that lives in
// the command center). A truck spawns its ASSEMBLY_SIZE drone
// subprocesses, then relays TARGET and TAKEOFF to them exactly once
// each, and best-effort broadcasts REASSIGN_ONE_TO.
package truck

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/protocol"
)

// Config carries the settings a truck needs to spawn and address its
// drone cohort.
type Config struct {
	BasePort     int
	TruckID      int
	AssemblySize int
	ParamsPath   string
	DroneBinary  string
}

// Truck is one truck process's state.
type Truck struct {
	cfg  Config
	log  logx.Logger
	sock *protocol.Socket

	mu           sync.Mutex
	targetSent   bool
	takeoffSent  bool
	cmds         []*exec.Cmd
}

// New binds the truck's port. The caller spawns drones separately via
// SpawnDrones so tests can construct a Truck without forking processes.
func New(cfg Config, log logx.Logger) (*Truck, error) {
	sock, err := protocol.Listen(protocol.PortForTruck(cfg.BasePort, cfg.TruckID))
	if err != nil {
		return nil, fmt.Errorf("truck %d: %w", cfg.TruckID, err)
	}
	return &Truck{cfg: cfg, log: log, sock: sock}, nil
}

// Close releases the truck's socket.
func (t *Truck) Close() error { return t.sock.Close() }

// AnnounceReady tells artillery this truck is up, before spawning
// drones, matching the original reference's TRUCK_READY notice. This
// is diagnostic only; no process depends on receiving it.
func (t *Truck) AnnounceReady() {
	_ = t.sock.Send(protocol.PortForArtillery(t.cfg.BasePort), protocol.Message{
		Type: protocol.Artillery,
		Text: fmt.Sprintf("TRUCK_READY %d", t.cfg.TruckID),
	})
}

// SpawnDrones forks ASSEMBLY_SIZE drone subprocesses with deterministic
// global ids (truck_id*100 + slot + 1), and reaps each one in the
// background so the truck never accumulates zombies.
func (t *Truck) SpawnDrones() error {
	binary := t.cfg.DroneBinary
	if binary == "" {
		binary = "./drone"
	}
	for slot := 0; slot < t.cfg.AssemblySize; slot++ {
		globalID := protocol.GlobalDroneID(t.cfg.TruckID, slot)
		cmd := exec.Command(binary, t.cfg.ParamsPath, strconv.Itoa(globalID), strconv.Itoa(t.cfg.TruckID))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("truck %d: spawn drone %d: %w", t.cfg.TruckID, globalID, err)
		}
		t.log.Infof("spawned drone %d (pid %d)", globalID, cmd.Process.Pid)
		t.mu.Lock()
		t.cmds = append(t.cmds, cmd)
		t.mu.Unlock()

		go func(gid int, c *exec.Cmd) {
			if err := c.Wait(); err != nil {
				t.log.Debugf("drone %d exited: %v", gid, err)
			} else {
				t.log.Debugf("drone %d exited", gid)
			}
		}(globalID, cmd)
	}
	return nil
}

// Run listens for commands from the center until ctx is canceled.
func (t *Truck) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, _, err := t.sock.Recv(100 * time.Millisecond)
		if err != nil {
			continue
		}
		if msg.Type == protocol.Command {
			t.handleCommand(msg)
		}
	}
}

func (t *Truck) handleCommand(m protocol.Message) {
	switch {
	case strings.HasPrefix(m.Text, "TARGET"):
		t.relayTarget(m.Text)
	case strings.HasPrefix(m.Text, "TAKEOFF"):
		t.relayTakeoff()
	case strings.HasPrefix(m.Text, "REASSIGN_ONE_TO"):
		t.relayReassign(m.Text)
	}
}

// relayTarget forwards the target coordinates to every drone in this
// truck's cohort exactly once.
func (t *Truck) relayTarget(text string) {
	t.mu.Lock()
	if t.targetSent {
		t.mu.Unlock()
		return
	}
	t.targetSent = true
	t.mu.Unlock()

	for slot := 0; slot < t.cfg.AssemblySize; slot++ {
		gid := protocol.GlobalDroneID(t.cfg.TruckID, slot)
		_ = t.sock.Send(protocol.PortForDrone(t.cfg.BasePort, gid), protocol.Message{
			Type: protocol.Command, SwarmID: t.cfg.TruckID, DroneID: gid, Text: text,
		})
	}
	t.log.Infof("relayed %s to cohort", text)
}

// relayTakeoff forwards TAKEOFF to every drone in this truck's cohort
// exactly once.
func (t *Truck) relayTakeoff() {
	t.mu.Lock()
	if t.takeoffSent {
		t.mu.Unlock()
		return
	}
	t.takeoffSent = true
	t.mu.Unlock()

	for slot := 0; slot < t.cfg.AssemblySize; slot++ {
		gid := protocol.GlobalDroneID(t.cfg.TruckID, slot)
		_ = t.sock.Send(protocol.PortForDrone(t.cfg.BasePort, gid), protocol.Message{
			Type: protocol.Command, SwarmID: t.cfg.TruckID, DroneID: gid, Text: "TAKEOFF",
		})
	}
	t.log.Infof("relayed TAKEOFF to cohort")
}

// relayReassign best-effort broadcasts GO_TO_SWARM to every drone in
// this truck's cohort, carrying the target swarm id and the global id
// of the one drone the center actually selected; every drone ignores
// the command unless the trailing drone id matches its own.
func (t *Truck) relayReassign(text string) {
	// text is "REASSIGN_ONE_TO <target_swarm> <moved_drone_id>"
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return
	}
	targetSwarm, movedDroneID := fields[1], fields[2]
	for slot := 0; slot < t.cfg.AssemblySize; slot++ {
		gid := protocol.GlobalDroneID(t.cfg.TruckID, slot)
		_ = t.sock.Send(protocol.PortForDrone(t.cfg.BasePort, gid), protocol.Message{
			Type: protocol.Command, SwarmID: -1, DroneID: gid,
			Text: "GO_TO_SWARM " + targetSwarm + " " + movedDroneID,
		})
	}
}
