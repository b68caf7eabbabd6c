// Package phase implements the per-intersection signal state machine.
//
// A Controller is owned by exactly one goroutine. Densities and preemption
// entries reach it only through Tick, so it never observes a half-applied
// input. Lights change only at tick instants.
package phase

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/signal"
)

// Params are the timing parameters shared by every phase of a controller.
type Params struct {
	AllRed           time.Duration
	Amber            time.Duration
	Gain             float64 // seconds of green per unit of average density
	ClearanceCeiling time.Duration
	MaxWait          time.Duration // zero disables the starvation guard
}

// Input is everything a controller consumes at one tick boundary.
type Input struct {
	Densities map[signal.ApproachID]float64
	Entries   []signal.PlanEntry
}

// Result holds the transitions produced by a tick and the inputs it refused.
type Result struct {
	Events   []signal.TransitionEvent
	Rejected []error
}

type queued struct {
	entry signal.PlanEntry
	order uint64
}

// Controller is the state machine of one intersection.
type Controller struct {
	layout *signal.Layout
	params Params
	logf   func(format string, v ...interface{})

	state      signal.State
	current    int // phase shown green, or the phase being cleared
	next       int // clearance target, -1 when idle
	phaseStart time.Time
	stateStart time.Time
	clearStart time.Time
	redSince   time.Time // zero while any approach shows green or amber
	clearUntil time.Time
	lit        bool // Preempted target is showing green
	lastLit    int
	faulted    bool

	densities  map[signal.ApproachID]float64
	lastServed []time.Time
	hold       *signal.PlanEntry
	pending    *signal.PlanEntry
	queue      []queued
	arrivals   uint64
}

// New returns a controller showing Green on the first configured phase.
func New(layout *signal.Layout, params Params, start time.Time) *Controller {
	c := &Controller{
		layout:     layout,
		params:     params,
		logf:       monitoring.Component("Phase"),
		state:      signal.StateGreen,
		next:       -1,
		phaseStart: start,
		stateStart: start,
		densities:  make(map[signal.ApproachID]float64),
		lastServed: make([]time.Time, len(layout.Phases)),
	}
	for i := range c.lastServed {
		c.lastServed[i] = start
	}
	return c
}

// Layout returns the intersection geometry.
func (c *Controller) Layout() *signal.Layout { return c.layout }

// State returns the current state.
func (c *Controller) State() signal.State { return c.state }

// Phase returns the phase being shown or cleared.
func (c *Controller) Phase() signal.PhaseID { return c.layout.Phases[c.current].ID }

// Faulted reports whether the last clearance exceeded the ceiling.
func (c *Controller) Faulted() bool { return c.faulted }

// ActiveApproaches returns the approaches currently showing green.
func (c *Controller) ActiveApproaches() []signal.ApproachID {
	if !c.showingGreen() {
		return nil
	}
	return append([]signal.ApproachID(nil), c.layout.Phases[c.current].Approaches...)
}

func (c *Controller) showingGreen() bool {
	return c.state == signal.StateGreen || (c.state == signal.StatePreempted && c.lit)
}

// GreenDuration computes the adaptive duration of a phase from the densities
// held by the controller.
func (c *Controller) GreenDuration(id signal.PhaseID) (time.Duration, error) {
	p, ok := c.layout.Phase(id)
	if !ok {
		return 0, fmt.Errorf("intersection %s: phase %q: %w", c.layout.ID, id, signal.ErrUnknownReference)
	}
	return GreenDuration(p, c.densities, c.params.Gain), nil
}

// GreenDuration is clamp(base + gain*avg(density), min, max). Approaches
// without a density reading count as empty.
func GreenDuration(p signal.Phase, densities map[signal.ApproachID]float64, gain float64) time.Duration {
	d := p.BaseGreen + time.Duration(gain*phaseDensity(p, densities)*float64(time.Second))
	if d < p.MinGreen {
		return p.MinGreen
	}
	if d > p.MaxGreen {
		return p.MaxGreen
	}
	return d
}

func phaseDensity(p signal.Phase, densities map[signal.ApproachID]float64) float64 {
	if len(p.Approaches) == 0 {
		return 0
	}
	vals := make([]float64, len(p.Approaches))
	for i, a := range p.Approaches {
		vals[i] = densities[a]
	}
	return stat.Mean(vals, nil)
}

// Snapshot describes the controller at now.
func (c *Controller) Snapshot(now time.Time) signal.Snapshot {
	s := signal.Snapshot{
		Intersection: c.layout.ID,
		Phase:        c.layout.Phases[c.current].ID,
		State:        c.state,
		Status:       signal.StatusNormal,
		Green:        c.ActiveApproaches(),
		Timestamp:    now,
	}
	if c.next >= 0 {
		s.NextPhase = c.layout.Phases[c.next].ID
	}
	switch c.state {
	case signal.StateGreen, signal.StatePreempted:
		s.PhaseElapsed = now.Sub(c.phaseStart).Seconds()
	default:
		s.PhaseElapsed = now.Sub(c.stateStart).Seconds()
	}
	if c.state == signal.StatePreempted {
		s.Status = signal.StatusPreempted
		if c.hold != nil {
			until := c.hold.HoldUntil
			s.HoldUntil = &until
		}
	}
	if c.faulted {
		s.Status = signal.StatusDegraded
	}
	return s
}

// maxStepsPerTick bounds the transitions one tick may take. A phase change
// is three steps (Green to Clearing to AllRed to Green) and each critical
// force or hold extension adds one, so eight covers a change plus a second
// forced change. Anything left resumes on the next tick.
const maxStepsPerTick = 8

// Tick applies the inputs atomically and advances the state machine to now.
func (c *Controller) Tick(now time.Time, in Input) Result {
	var res Result

	for a, v := range in.Densities {
		if _, ok := c.layout.Approach(a); !ok {
			err := fmt.Errorf("intersection %s at %s: density for approach %q: %w", c.layout.ID, now.Format(time.RFC3339), a, signal.ErrUnknownReference)
			c.logf("%v", err)
			res.Rejected = append(res.Rejected, err)
			continue
		}
		c.densities[a] = v
	}
	for _, e := range in.Entries {
		if err := c.enqueue(now, e); err != nil {
			c.logf("%v", err)
			res.Rejected = append(res.Rejected, err)
		}
	}
	c.dropStale(now)
	c.checkCeiling(now, &res)

	// Zero amber lets Green, Clearing and AllRed resolve within one tick.
	for i := 0; i < maxStepsPerTick && c.step(now, &res); i++ {
	}
	return res
}

func (c *Controller) enqueue(now time.Time, e signal.PlanEntry) error {
	if e.Intersection != c.layout.ID {
		return fmt.Errorf("intersection %s at %s: plan %s addressed to %s: %w", c.layout.ID, now.Format(time.RFC3339), e.PlanID, e.Intersection, signal.ErrUnknownReference)
	}
	if _, ok := c.layout.PhaseIndex(e.Phase); !ok {
		return fmt.Errorf("intersection %s at %s: plan %s names phase %q: %w", c.layout.ID, now.Format(time.RFC3339), e.PlanID, e.Phase, signal.ErrUnknownReference)
	}
	if !e.HoldUntil.After(now) {
		return fmt.Errorf("intersection %s at %s: plan %s hold ended at %s: %w", c.layout.ID, now.Format(time.RFC3339), e.PlanID, e.HoldUntil.Format(time.RFC3339), signal.ErrClaimExpired)
	}

	// A newer plan for the same vehicle supersedes its queued entry.
	q := c.queue[:0]
	for _, it := range c.queue {
		if e.VehicleID == "" || it.entry.VehicleID != e.VehicleID {
			q = append(q, it)
		}
	}
	c.arrivals++
	c.queue = append(q, queued{entry: e, order: c.arrivals})
	sort.SliceStable(c.queue, func(i, j int) bool {
		a, b := c.queue[i], c.queue[j]
		if a.entry.Priority != b.entry.Priority {
			return a.entry.Priority > b.entry.Priority
		}
		if !a.entry.ActivateAt.Equal(b.entry.ActivateAt) {
			return a.entry.ActivateAt.Before(b.entry.ActivateAt)
		}
		return a.order < b.order
	})
	return nil
}

func (c *Controller) dropStale(now time.Time) {
	q := c.queue[:0]
	for _, it := range c.queue {
		if !it.entry.HoldUntil.After(now) {
			c.logf("intersection %s: plan %s for %s lapsed before it could be served", c.layout.ID, it.entry.PlanID, it.entry.Phase)
			continue
		}
		q = append(q, it)
	}
	c.queue = q
	if c.pending != nil && !c.pending.HoldUntil.After(now) {
		c.logf("intersection %s: plan %s lapsed during clearance", c.layout.ID, c.pending.PlanID)
		c.pending = nil
	}
}

// due returns the first queued entry that may be served now, optionally
// restricted to critical entries or to one phase.
func (c *Controller) due(now time.Time, criticalOnly bool, phase signal.PhaseID) (signal.PlanEntry, bool) {
	for i, it := range c.queue {
		if it.entry.ActivateAt.After(now) {
			continue
		}
		if criticalOnly && !it.entry.Critical() {
			continue
		}
		if phase != "" && it.entry.Phase != phase {
			continue
		}
		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		return it.entry, true
	}
	return signal.PlanEntry{}, false
}

func (c *Controller) peekDue(now time.Time) bool {
	for _, it := range c.queue {
		if !it.entry.ActivateAt.After(now) {
			return true
		}
	}
	return false
}

func (c *Controller) checkCeiling(now time.Time, res *Result) {
	if c.params.ClearanceCeiling <= 0 {
		return
	}
	if c.state != signal.StateClearing && c.state != signal.StateAllRed {
		return
	}
	if now.Sub(c.clearStart) <= c.params.ClearanceCeiling {
		return
	}
	c.logf("intersection %s at %s: clearance toward %s exceeded %v, forcing all red",
		c.layout.ID, now.Format(time.RFC3339), c.phaseID(c.next), c.params.ClearanceCeiling)
	if c.state == signal.StateClearing {
		c.redSince = now
		c.lastServed[c.current] = now
	}
	c.state = signal.StateAllRed
	c.stateStart = now
	c.clearStart = now
	c.faulted = true
	c.emit(res, now, signal.CauseFault, c.phaseID(c.current), c.phaseID(c.next), "")
}

func (c *Controller) step(now time.Time, res *Result) bool {
	if e, ok := c.due(now, true, ""); ok {
		c.force(now, e, res)
		return true
	}

	switch c.state {
	case signal.StateGreen:
		p := c.layout.Phases[c.current]
		elapsed := now.Sub(c.phaseStart)
		if elapsed >= p.MinGreen && c.peekDue(now) {
			e, _ := c.due(now, false, "")
			if e.Phase == p.ID {
				c.state = signal.StatePreempted
				c.stateStart = now
				c.lit = true
				c.hold = &e
				c.emit(res, now, signal.CausePreempted, p.ID, p.ID, e.PlanID)
				return true
			}
			c.pending = &e
			c.beginClearing(now, c.index(e.Phase), signal.CausePreempted, e.PlanID, res)
			return true
		}
		if elapsed >= GreenDuration(p, c.densities, c.params.Gain) {
			q := c.selectNext(now)
			if q < 0 {
				return false
			}
			c.beginClearing(now, q, signal.CauseScheduled, "", res)
			return true
		}
		return false

	case signal.StatePreempted:
		if !c.lit && !now.Before(c.clearUntil) {
			c.lit = true
			c.lastLit = c.current
			c.redSince = time.Time{}
			c.phaseStart = now
			c.faulted = false
		}
		p := c.layout.Phases[c.current]
		if e, ok := c.due(now, false, p.ID); ok {
			c.extendHold(e)
			c.emit(res, now, signal.CausePreempted, p.ID, p.ID, e.PlanID)
			return true
		}
		if c.hold != nil && now.Before(c.hold.HoldUntil) {
			return false
		}
		if c.hold != nil && !c.hold.Critical() && now.Sub(c.phaseStart) < p.MinGreen {
			return false
		}
		c.hold = nil
		if e, ok := c.due(now, false, ""); ok {
			c.pending = &e
			c.beginClearing(now, c.index(e.Phase), signal.CausePreempted, e.PlanID, res)
			return true
		}
		q := c.selectNext(now)
		if q < 0 {
			c.state = signal.StateGreen
			c.stateStart = now
			c.emit(res, now, signal.CauseScheduled, p.ID, p.ID, "")
			return true
		}
		c.beginClearing(now, q, signal.CauseScheduled, "", res)
		return true

	case signal.StateClearing:
		if now.Sub(c.stateStart) < c.params.Amber {
			return false
		}
		c.state = signal.StateAllRed
		c.stateStart = now
		c.redSince = now
		c.lastServed[c.current] = now
		c.emit(res, now, c.clearanceCause(), c.phaseID(c.current), c.phaseID(c.next), c.pendingPlan())
		return true

	case signal.StateAllRed:
		if now.Sub(c.redSince) < c.params.AllRed {
			return false
		}
		if c.pending == nil {
			if e, ok := c.due(now, false, ""); ok {
				c.pending = &e
				c.next = c.index(e.Phase)
			}
		}
		if c.next < 0 {
			c.next = c.current
		}
		from := c.current
		c.current = c.next
		c.next = -1
		c.phaseStart = now
		c.stateStart = now
		c.redSince = time.Time{}
		c.lastLit = c.current
		c.faulted = false
		if c.pending != nil {
			c.state = signal.StatePreempted
			c.lit = true
			c.hold = c.pending
			c.pending = nil
			c.emit(res, now, signal.CausePreempted, c.phaseID(from), c.phaseID(c.current), c.hold.PlanID)
			return true
		}
		c.state = signal.StateGreen
		c.emit(res, now, signal.CauseScheduled, c.phaseID(from), c.phaseID(c.current), "")
		return true
	}
	return false
}

// force puts the target into Preempted immediately, bypassing minimum green.
// Lights stay all red until a full all-red interval has passed since the
// last conflicting green.
func (c *Controller) force(now time.Time, e signal.PlanEntry, res *Result) {
	target := c.index(e.Phase)
	from := c.current

	if c.state == signal.StatePreempted && c.current == target {
		c.extendHold(e)
		c.emit(res, now, signal.CausePreempted, e.Phase, e.Phase, e.PlanID)
		return
	}
	if c.state == signal.StateGreen && c.current == target {
		c.state = signal.StatePreempted
		c.stateStart = now
		c.lit = true
		c.hold = &e
		c.emit(res, now, signal.CausePreempted, e.Phase, e.Phase, e.PlanID)
		return
	}

	switch {
	case target == c.lastLit:
		c.clearUntil = now
	case c.redSince.IsZero():
		c.redSince = now
		c.lastServed[c.current] = now
		c.clearUntil = now.Add(c.params.AllRed)
	default:
		c.clearUntil = c.redSince.Add(c.params.AllRed)
	}
	if c.pending != nil {
		// Requeue the displaced plan so it is served after this one.
		c.arrivals++
		c.queue = append(c.queue, queued{entry: *c.pending, order: c.arrivals})
		c.pending = nil
	}

	c.state = signal.StatePreempted
	c.current = target
	c.next = -1
	c.hold = &e
	c.stateStart = now
	c.phaseStart = now
	c.lit = !now.Before(c.clearUntil)
	if c.lit {
		c.lastLit = target
		c.redSince = time.Time{}
		c.faulted = false
	}
	c.logf("intersection %s at %s: critical plan %s preempts %s for %s until %s",
		c.layout.ID, now.Format(time.RFC3339), e.PlanID, c.phaseID(from), e.Phase, e.HoldUntil.Format(time.RFC3339))
	c.emit(res, now, signal.CausePreempted, c.phaseID(from), e.Phase, e.PlanID)
}

func (c *Controller) extendHold(e signal.PlanEntry) {
	if c.hold != nil && c.hold.HoldUntil.After(e.HoldUntil) {
		e.HoldUntil = c.hold.HoldUntil
	}
	c.hold = &e
}

func (c *Controller) beginClearing(now time.Time, q int, cause signal.Cause, planID string, res *Result) {
	c.next = q
	c.hold = nil
	c.clearStart = now
	c.stateStart = now
	if c.showingGreen() {
		c.state = signal.StateClearing
		c.lit = false
		c.emit(res, now, cause, c.phaseID(c.current), c.phaseID(q), planID)
		return
	}
	// Already dark: the all-red interval runs from when the lights went red.
	c.state = signal.StateAllRed
	c.lit = false
	c.emit(res, now, cause, c.phaseID(c.current), c.phaseID(q), planID)
}

// selectNext picks the next phase to serve: a starving phase first, then the
// highest average density, then the highest static priority, then
// configuration order.
func (c *Controller) selectNext(now time.Time) int {
	best := -1
	if c.params.MaxWait > 0 {
		for i := range c.layout.Phases {
			if i == c.current || now.Sub(c.lastServed[i]) < c.params.MaxWait {
				continue
			}
			if best < 0 || c.lastServed[i].Before(c.lastServed[best]) {
				best = i
			}
		}
		if best >= 0 {
			return best
		}
	}
	var bestDensity float64
	var bestPriority int
	for i, p := range c.layout.Phases {
		if i == c.current {
			continue
		}
		d := phaseDensity(p, c.densities)
		prio := c.layout.StaticPriority(p)
		if best < 0 || d > bestDensity || (d == bestDensity && prio > bestPriority) {
			best, bestDensity, bestPriority = i, d, prio
		}
	}
	return best
}

// NextPhase reports the phase selectNext would choose at now, or "" for a
// single-phase intersection.
func (c *Controller) NextPhase(now time.Time) signal.PhaseID {
	return c.phaseID(c.selectNext(now))
}

func (c *Controller) clearanceCause() signal.Cause {
	if c.pending != nil {
		return signal.CausePreempted
	}
	return signal.CauseScheduled
}

func (c *Controller) pendingPlan() string {
	if c.pending != nil {
		return c.pending.PlanID
	}
	return ""
}

func (c *Controller) emit(res *Result, now time.Time, cause signal.Cause, from, to signal.PhaseID, planID string) {
	res.Events = append(res.Events, signal.TransitionEvent{
		Intersection: c.layout.ID,
		State:        c.state,
		From:         from,
		To:           to,
		Cause:        cause,
		PlanID:       planID,
		Timestamp:    now,
	})
}

func (c *Controller) index(id signal.PhaseID) int {
	i, _ := c.layout.PhaseIndex(id)
	return i
}

func (c *Controller) phaseID(i int) signal.PhaseID {
	if i < 0 || i >= len(c.layout.Phases) {
		return ""
	}
	return c.layout.Phases[i].ID
}
