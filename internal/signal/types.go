// Package signal holds the domain types shared by the phase controllers,
// the density aggregator, the preemption arbiter and the coordinator.
package signal

import (
	"fmt"
	"strings"
	"time"
)

type (
	IntersectionID string
	ApproachID     string
	PhaseID        string
)

// Priority ranks emergency claims. Higher values win.
type Priority int

const (
	PriorityRoutine  Priority = 1
	PriorityUrgent   Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityRoutine:
		return "routine"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityRoutine && p <= PriorityCritical
}

// ParsePriority accepts a level name ("critical") or its number ("3").
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "routine", "1":
		return PriorityRoutine, nil
	case "urgent", "2":
		return PriorityUrgent, nil
	case "critical", "3":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("unknown priority level %q: %w", s, ErrUnknownReference)
}

// State is the signal state of one intersection.
type State string

const (
	StateGreen     State = "green"
	StateClearing  State = "clearing"
	StateAllRed    State = "all_red"
	StatePreempted State = "preempted"
)

// Cause explains why a transition happened.
type Cause string

const (
	CauseScheduled Cause = "scheduled"
	CausePreempted Cause = "preempted"
	CauseFault     Cause = "fault"
)

// Status is the health summary published in snapshots.
type Status string

const (
	StatusNormal    Status = "normal"
	StatusPreempted Status = "preempted"
	StatusDegraded  Status = "degraded"
)

// Approach is one incoming direction at an intersection.
type Approach struct {
	ID       ApproachID `json:"id"`
	Lanes    int        `json:"lanes"`
	Priority int        `json:"priority"`
}

// Phase is a set of approaches that may be green together.
type Phase struct {
	ID         PhaseID       `json:"id"`
	Approaches []ApproachID  `json:"approaches"`
	MinGreen   time.Duration `json:"min_green"`
	MaxGreen   time.Duration `json:"max_green"`
	BaseGreen  time.Duration `json:"base_green"`
}

// Serves reports whether a is part of the phase.
func (p Phase) Serves(a ApproachID) bool {
	for _, id := range p.Approaches {
		if id == a {
			return true
		}
	}
	return false
}

// DensitySample is a raw vehicle count reported by a detector.
type DensitySample struct {
	Intersection IntersectionID `json:"intersection_id"`
	Approach     ApproachID     `json:"approach_id"`
	VehicleCount int            `json:"vehicle_count"`
	Timestamp    time.Time      `json:"timestamp"`
}

// EmergencyClaim asks for a green corridor for one vehicle. ETA is the
// arrival time at the first intersection of Route.
type EmergencyClaim struct {
	ID         string           `json:"id"`
	VehicleID  string           `json:"vehicle_id"`
	Route      []IntersectionID `json:"route"`
	Approach   ApproachID       `json:"approach_id"`
	ETA        time.Time        `json:"eta"`
	Confidence float64          `json:"confidence"`
	Priority   Priority         `json:"priority"`
	Timestamp  time.Time        `json:"timestamp"`
}

// PlanEntry instructs one controller to serve Phase from ActivateAt until
// HoldUntil.
type PlanEntry struct {
	PlanID       string         `json:"plan_id"`
	VehicleID    string         `json:"vehicle_id"`
	Intersection IntersectionID `json:"intersection_id"`
	Phase        PhaseID        `json:"phase"`
	Priority     Priority       `json:"priority"`
	ActivateAt   time.Time      `json:"activate_at"`
	HoldUntil    time.Time      `json:"hold_until"`
}

// Critical reports whether the entry may bypass minimum green.
func (e PlanEntry) Critical() bool { return e.Priority >= PriorityCritical }

// PreemptionPlan is the arbiter's decision for one claim. Entries are in
// route order.
type PreemptionPlan struct {
	ID        string      `json:"id"`
	ClaimID   string      `json:"claim_id"`
	VehicleID string      `json:"vehicle_id"`
	Priority  Priority    `json:"priority"`
	CreatedAt time.Time   `json:"created_at"`
	Entries   []PlanEntry `json:"entries"`
}

// TransitionEvent records one state change. Seq is assigned by the event log.
type TransitionEvent struct {
	Intersection IntersectionID `json:"intersection_id"`
	Seq          uint64         `json:"seq"`
	State        State          `json:"state"`
	From         PhaseID        `json:"from_phase"`
	To           PhaseID        `json:"to_phase"`
	Cause        Cause          `json:"cause"`
	PlanID       string         `json:"plan_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

func (e TransitionEvent) String() string {
	s := fmt.Sprintf("%s#%d %s %s->%s (%s)", e.Intersection, e.Seq, e.State, e.From, e.To, e.Cause)
	if e.PlanID != "" {
		s += " plan=" + e.PlanID
	}
	return s
}

// Snapshot is the published view of one intersection.
type Snapshot struct {
	Intersection IntersectionID `json:"intersection_id"`
	Phase        PhaseID        `json:"phase"`
	NextPhase    PhaseID        `json:"next_phase,omitempty"`
	State        State          `json:"state"`
	PhaseElapsed float64        `json:"phase_elapsed"` // seconds
	Status       Status         `json:"status"`
	HoldUntil    *time.Time     `json:"hold_until,omitempty"`
	Green        []ApproachID   `json:"green"`
	Timestamp    time.Time      `json:"timestamp"`
}

type AlertKind string

const (
	AlertPreemptionStarted   AlertKind = "preemption_started"
	AlertPreemptionEnded     AlertKind = "preemption_ended"
	AlertControllerDegraded  AlertKind = "controller_degraded"
	AlertControllerRecovered AlertKind = "controller_recovered"
	AlertClaimExpired        AlertKind = "claim_expired"
)

// Alert is pushed to dashboards and operators.
type Alert struct {
	ID           string         `json:"id"`
	Kind         AlertKind      `json:"kind"`
	Intersection IntersectionID `json:"intersection_id,omitempty"`
	VehicleID    string         `json:"vehicle_id,omitempty"`
	PlanID       string         `json:"plan_id,omitempty"`
	Message      string         `json:"message"`
	Timestamp    time.Time      `json:"timestamp"`
}
