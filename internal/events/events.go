// Package events provides a colorized, correlation-id tagged event stream
// for the swarm-strike roles, generalizing the teacher's
// reporting.SimulationLogger to this domain's event vocabulary
// (assembly, takeoff, reassignment, engagement, destruction, autodestruct).
package events

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Kind enumerates the domain event categories this system emits.
type Kind string

const (
	KindAssembly     Kind = "assembly"
	KindTakeoff      Kind = "takeoff"
	KindReassignment Kind = "reassignment"
	KindEngagement   Kind = "engagement"
	KindDestruction  Kind = "destruction"
	KindAutodestruct Kind = "autodestruct"
	KindCamera       Kind = "camera"
	KindSystem       Kind = "system"
)

// Severity mirrors the teacher's severity taxonomy.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var (
	colorInfo     = color.New(color.FgCyan)
	colorWarning  = color.New(color.FgYellow)
	colorCritical = color.New(color.FgRed, color.Bold)
)

// Event is one recorded occurrence in the run's event stream.
type Event struct {
	Timestamp time.Time              `yaml:"timestamp"`
	Kind      Kind                   `yaml:"kind"`
	Severity  Severity               `yaml:"severity"`
	SwarmID   *int                   `yaml:"swarm_id,omitempty"`
	DroneID   *int                   `yaml:"drone_id,omitempty"`
	Message   string                 `yaml:"message"`
	Details   map[string]interface{} `yaml:"details,omitempty"`
}

// Stream is a run-scoped, thread-safe event recorder with a correlation id.
type Stream struct {
	RunID     string
	StartedAt time.Time

	mu     sync.Mutex
	events []Event
	noCap  bool
}

// NewStream creates an event stream. If runID is empty a new UUID is generated,
// matching the teacher's per-simulation correlation id convention.
func NewStream(runID string) *Stream {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Stream{RunID: runID, StartedAt: time.Now()}
}

func intPtr(v int) *int { return &v }

// Record appends an event and prints a colorized one-line summary.
func (s *Stream) Record(kind Kind, severity Severity, swarmID, droneID int, hasSwarm, hasDrone bool, message string, details map[string]interface{}) {
	ev := Event{Timestamp: time.Now(), Kind: kind, Severity: severity, Message: message, Details: details}
	if hasSwarm {
		ev.SwarmID = intPtr(swarmID)
	}
	if hasDrone {
		ev.DroneID = intPtr(droneID)
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()

	printer := colorInfo
	switch severity {
	case SeverityWarning:
		printer = colorWarning
	case SeverityCritical:
		printer = colorCritical
	}
	shortID := s.RunID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	printer.Printf("[%s] %s: %s\n", shortID, kind, message)
}

// Swarm records an event scoped to a swarm id.
func (s *Stream) Swarm(kind Kind, severity Severity, swarmID int, message string) {
	s.Record(kind, severity, swarmID, 0, true, false, message, nil)
}

// Drone records an event scoped to a drone id within a swarm.
func (s *Stream) Drone(kind Kind, severity Severity, swarmID, droneID int, message string) {
	s.Record(kind, severity, swarmID, droneID, true, true, message, nil)
}

// System records a process-wide event with no swarm/drone scope.
func (s *Stream) System(kind Kind, severity Severity, message string) {
	s.Record(kind, severity, 0, 0, false, false, message, nil)
}

// Snapshot returns a copy of the recorded events so far.
func (s *Stream) Snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// afterActionReport is the on-disk shape written by DumpYAML.
type afterActionReport struct {
	RunID     string    `yaml:"run_id"`
	StartedAt time.Time `yaml:"started_at"`
	Events    []Event   `yaml:"events"`
}

// DumpYAML writes the full event history to path as YAML, for the
// optional after-action report a run can be asked to produce.
func (s *Stream) DumpYAML(path string) error {
	report := afterActionReport{RunID: s.RunID, StartedAt: s.StartedAt, Events: s.Snapshot()}
	out, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal after-action report: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write after-action report: %w", err)
	}
	return nil
}

// Summary renders a short human-readable digest, logged by the center and
// artillery on exit. DumpYAML does not include it.
func (s *Stream) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[Kind]int{}
	for _, e := range s.events {
		counts[e.Kind]++
	}
	return fmt.Sprintf("run=%s duration=%s events=%d %v", s.RunID, time.Since(s.StartedAt).Round(time.Millisecond), len(s.events), counts)
}
