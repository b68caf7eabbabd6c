// Package preempt arbitrates emergency-vehicle claims into preemption plans.
//
// Claims are ranked per intersection by priority, then arrival time, then
// claim time. The winner at each intersection gets a plan entry; losers are
// deferred and reconsidered on the next cycle. A claim covering several
// intersections yields a green-wave plan whose hold times follow the
// vehicle's travel along the route.
package preempt

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/signal"
)

// ErrCoolingDown is returned for a vehicle whose previous claim was fully
// honored less than the cooldown ago.
var ErrCoolingDown = errors.New("vehicle in cooldown")

// Config holds the arbiter's timing parameters.
type Config struct {
	ClaimTimeout  time.Duration
	Cooldown      time.Duration
	HoldMargin    time.Duration // hold-until = arrival + HoldMargin
	LeadTime      time.Duration // activate-at = arrival - LeadTime
	MinConfidence float64
}

type ClaimStatus string

const (
	StatusPending  ClaimStatus = "pending"
	StatusDeferred ClaimStatus = "deferred"
	StatusHonored  ClaimStatus = "honored"
	StatusExpired  ClaimStatus = "expired"
	StatusReplaced ClaimStatus = "replaced"
)

// ClaimInfo reports the state of one claim.
type ClaimInfo struct {
	Claim     signal.EmergencyClaim   `json:"claim"`
	Status    ClaimStatus             `json:"status"`
	Remaining []signal.IntersectionID `json:"remaining,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// ExpiredClaim is a claim dropped during arbitration.
type ExpiredClaim struct {
	Claim signal.EmergencyClaim
	Err   error
}

// Decision is the outcome of one arbitration cycle.
type Decision struct {
	Plans    []signal.PreemptionPlan
	Expired  []ExpiredClaim
	Deferred []string
}

type stop struct {
	route        int
	intersection signal.IntersectionID
	phase        signal.PhaseID
	arrival      time.Time
	activateAt   time.Time
	holdUntil    time.Time
}

type claimState struct {
	claim   signal.EmergencyClaim
	stops   []stop
	status  ClaimStatus
	honored bool
	updated time.Time
}

type hold struct {
	vehicle  string
	planID   string
	priority signal.Priority
	from     time.Time
	until    time.Time
}

// Arbiter serializes every cross-intersection preemption decision.
type Arbiter struct {
	mu        sync.Mutex
	cfg       Config
	layouts   map[signal.IntersectionID]*signal.Layout
	roads     *Roads
	claims    map[string]*claimState
	byVehicle map[string]string
	holds     map[signal.IntersectionID][]hold
	cooldown  map[string]time.Time
	finished  map[string]*claimState
	logf      func(format string, v ...interface{})
}

// New creates an arbiter over the given layouts and road graph.
func New(cfg Config, layouts []*signal.Layout, roads *Roads) *Arbiter {
	a := &Arbiter{
		cfg:       cfg,
		layouts:   make(map[signal.IntersectionID]*signal.Layout, len(layouts)),
		roads:     roads,
		claims:    make(map[string]*claimState),
		byVehicle: make(map[string]string),
		holds:     make(map[signal.IntersectionID][]hold),
		cooldown:  make(map[string]time.Time),
		finished:  make(map[string]*claimState),
		logf:      monitoring.Component("Arbiter"),
	}
	for _, l := range layouts {
		a.layouts[l.ID] = l
	}
	if a.roads == nil {
		a.roads = NewRoads(lo.Keys(a.layouts), nil, 0)
	}
	return a
}

// Submit validates a claim and queues it for the next arbitration. A claim
// for a vehicle that already has a pending claim replaces it. The stored
// claim, with its assigned id, is returned.
func (a *Arbiter) Submit(claim signal.EmergencyClaim, now time.Time) (signal.EmergencyClaim, error) {
	if claim.ID == "" {
		claim.ID = uuid.NewString()
	}
	if claim.Timestamp.IsZero() {
		claim.Timestamp = now
	}
	claim.Route = slices.Clone(claim.Route)

	stops, err := a.plan(claim, now)
	if err != nil {
		a.logf("claim %s from %s rejected: %v", claim.ID, claim.VehicleID, err)
		return claim, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if until, ok := a.cooldown[claim.VehicleID]; ok && now.Before(until) {
		return claim, fmt.Errorf("vehicle %s until %s: %w", claim.VehicleID, until.Format(time.RFC3339), ErrCoolingDown)
	}
	if prev, ok := a.byVehicle[claim.VehicleID]; ok {
		if cs, ok := a.claims[prev]; ok {
			a.logf("claim %s replaces %s for vehicle %s", claim.ID, prev, claim.VehicleID)
			delete(a.claims, prev)
			cs.status = StatusReplaced
			cs.updated = now
			a.finished[prev] = cs
		}
	}
	a.claims[claim.ID] = &claimState{claim: claim, stops: stops, status: StatusPending, updated: now}
	a.byVehicle[claim.VehicleID] = claim.ID
	return claim, nil
}

// plan validates the claim and computes one stop per route intersection.
func (a *Arbiter) plan(c signal.EmergencyClaim, now time.Time) ([]stop, error) {
	switch {
	case c.VehicleID == "":
		return nil, fmt.Errorf("claim %s has no vehicle id: %w", c.ID, signal.ErrDataQuality)
	case len(c.Route) == 0:
		return nil, fmt.Errorf("claim %s has an empty route: %w", c.ID, signal.ErrDataQuality)
	case len(lo.Uniq(c.Route)) != len(c.Route):
		return nil, fmt.Errorf("claim %s route %v repeats an intersection: %w", c.ID, c.Route, signal.ErrDataQuality)
	case c.ETA.IsZero():
		return nil, fmt.Errorf("claim %s has no ETA: %w", c.ID, signal.ErrDataQuality)
	case c.Confidence < a.cfg.MinConfidence:
		return nil, fmt.Errorf("claim %s confidence %.2f below %.2f: %w", c.ID, c.Confidence, a.cfg.MinConfidence, signal.ErrDataQuality)
	case !c.Priority.Valid():
		return nil, fmt.Errorf("claim %s priority %d: %w", c.ID, int(c.Priority), signal.ErrUnknownReference)
	}

	if c.ETA.Before(now) {
		return nil, fmt.Errorf("claim %s: ETA %s already passed: %w", c.ID, c.ETA.Format(time.RFC3339), signal.ErrClaimExpired)
	}

	stops := make([]stop, 0, len(c.Route))
	arrival := c.ETA
	for i, id := range c.Route {
		l, ok := a.layouts[id]
		if !ok {
			return nil, fmt.Errorf("claim %s route intersection %q: %w", c.ID, id, signal.ErrUnknownReference)
		}
		p, err := l.PhaseFor(c.Approach)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", c.ID, err)
		}
		if i > 0 {
			arrival = arrival.Add(a.roads.TravelTime(c.Route[i-1], id))
		}
		st := stop{
			route:        i,
			intersection: id,
			phase:        p.ID,
			arrival:      arrival,
			activateAt:   arrival.Add(-a.cfg.LeadTime),
			holdUntil:    arrival.Add(a.cfg.HoldMargin),
		}
		if i > 0 && st.holdUntil.Before(stops[i-1].holdUntil) {
			st.holdUntil = stops[i-1].holdUntil
		}
		stops = append(stops, st)
	}
	return stops, nil
}

// rank orders candidates: priority desc, arrival asc, claim time asc, id.
func rank(x, y *claimState, xa, ya time.Time) bool {
	if x.claim.Priority != y.claim.Priority {
		return x.claim.Priority > y.claim.Priority
	}
	if !xa.Equal(ya) {
		return xa.Before(ya)
	}
	if !x.claim.Timestamp.Equal(y.claim.Timestamp) {
		return x.claim.Timestamp.Before(y.claim.Timestamp)
	}
	return x.claim.ID < y.claim.ID
}

type candidate struct {
	cs *claimState
	st stop
}

// Arbitrate runs one cycle: it drops expired claims, ranks the rest per
// intersection and returns one plan per claim that won at least one
// intersection.
func (a *Arbiter) Arbitrate(now time.Time) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	var d Decision
	ids := lo.Keys(a.claims)
	sort.Strings(ids)

	for _, id := range ids {
		cs := a.claims[id]
		if a.cfg.ClaimTimeout > 0 && now.Sub(cs.claim.Timestamp) > a.cfg.ClaimTimeout {
			d.Expired = append(d.Expired, a.expire(cs, now, fmt.Errorf("claim %s for %s timed out after %v: %w", id, cs.claim.VehicleID, a.cfg.ClaimTimeout, signal.ErrClaimExpired)))
			continue
		}
		// Later corridor stops never rescue a claim whose ETA passed unhonored.
		if !cs.honored && cs.claim.ETA.Before(now) {
			d.Expired = append(d.Expired, a.expire(cs, now, fmt.Errorf("claim %s for %s: ETA %s passed before it was honored: %w", id, cs.claim.VehicleID, cs.claim.ETA.Format(time.RFC3339), signal.ErrClaimExpired)))
			continue
		}
		cs.stops = lo.Filter(cs.stops, func(st stop, _ int) bool { return !st.arrival.Before(now) })
		if len(cs.stops) == 0 && cs.honored {
			a.finish(cs, now)
		}
	}

	for inter, hs := range a.holds {
		hs = lo.Filter(hs, func(h hold, _ int) bool { return !h.until.Before(now) })
		if len(hs) == 0 {
			delete(a.holds, inter)
			continue
		}
		a.holds[inter] = hs
	}

	byInter := make(map[signal.IntersectionID][]candidate)
	for _, cs := range a.claims {
		for _, st := range cs.stops {
			byInter[st.intersection] = append(byInter[st.intersection], candidate{cs: cs, st: st})
		}
	}

	awarded := make(map[string][]stop)
	planIDs := make(map[string]string)
	deferred := make(map[string]bool)
	inters := lo.Keys(byInter)
	slices.Sort(inters)
	for _, inter := range inters {
		cands := byInter[inter]
		sort.Slice(cands, func(i, j int) bool {
			return rank(cands[i].cs, cands[j].cs, cands[i].st.arrival, cands[j].st.arrival)
		})
		for _, c := range cands {
			cid := c.cs.claim.ID
			if blocker, ok := a.blocked(inter, c); ok {
				deferred[cid] = true
				a.logf("claim %s for %s deferred at %s: held by %s (%s) until %s",
					cid, c.cs.claim.VehicleID, inter, blocker.vehicle, blocker.priority, blocker.until.Format(time.RFC3339))
				continue
			}
			if _, ok := planIDs[cid]; !ok {
				planIDs[cid] = uuid.NewString()
			}
			vehicle := c.cs.claim.VehicleID
			kept := lo.Filter(a.holds[inter], func(h hold, _ int) bool { return h.vehicle != vehicle })
			a.holds[inter] = append(kept, hold{
				vehicle:  vehicle,
				planID:   planIDs[cid],
				priority: c.cs.claim.Priority,
				from:     c.st.activateAt,
				until:    c.st.holdUntil,
			})
			awarded[cid] = append(awarded[cid], c.st)
		}
	}

	for cid, stops := range awarded {
		cs := a.claims[cid]
		sort.Slice(stops, func(i, j int) bool { return stops[i].route < stops[j].route })
		plan := signal.PreemptionPlan{
			ID:        planIDs[cid],
			ClaimID:   cid,
			VehicleID: cs.claim.VehicleID,
			Priority:  cs.claim.Priority,
			CreatedAt: now,
		}
		for _, st := range stops {
			plan.Entries = append(plan.Entries, signal.PlanEntry{
				PlanID:       plan.ID,
				VehicleID:    cs.claim.VehicleID,
				Intersection: st.intersection,
				Phase:        st.phase,
				Priority:     cs.claim.Priority,
				ActivateAt:   st.activateAt,
				HoldUntil:    st.holdUntil,
			})
		}
		d.Plans = append(d.Plans, plan)

		cs.honored = true
		cs.updated = now
		cs.stops = lo.Filter(cs.stops, func(st stop, _ int) bool {
			return !lo.ContainsBy(stops, func(w stop) bool { return w.route == st.route })
		})
		if len(cs.stops) == 0 {
			a.cooldown[cs.claim.VehicleID] = stops[len(stops)-1].holdUntil.Add(a.cfg.Cooldown)
			a.finish(cs, now)
		} else {
			cs.status = StatusDeferred
		}
		a.logf("plan %s for %s (%s): %d intersections", plan.ID, plan.VehicleID, plan.Priority, len(plan.Entries))
	}

	for cid := range deferred {
		if cs, ok := a.claims[cid]; ok {
			cs.status = StatusDeferred
			cs.updated = now
			d.Deferred = append(d.Deferred, cid)
		}
	}
	sort.Strings(d.Deferred)

	sort.SliceStable(d.Plans, func(i, j int) bool {
		x, y := d.Plans[i], d.Plans[j]
		if x.Priority != y.Priority {
			return x.Priority > y.Priority
		}
		if !x.Entries[0].HoldUntil.Equal(y.Entries[0].HoldUntil) {
			return x.Entries[0].HoldUntil.Before(y.Entries[0].HoldUntil)
		}
		return x.ClaimID < y.ClaimID
	})

	a.prune(now)
	return d
}

// blocked reports the hold, if any, that prevents awarding c. A hold is only
// overridden by a strictly higher priority while their windows overlap.
func (a *Arbiter) blocked(inter signal.IntersectionID, c candidate) (hold, bool) {
	for _, h := range a.holds[inter] {
		if h.vehicle == c.cs.claim.VehicleID {
			continue
		}
		overlap := !c.st.activateAt.After(h.until) && !h.from.After(c.st.holdUntil)
		if overlap && c.cs.claim.Priority <= h.priority {
			return h, true
		}
	}
	return hold{}, false
}

func (a *Arbiter) expire(cs *claimState, now time.Time, err error) ExpiredClaim {
	a.logf("%v", err)
	cs.status = StatusExpired
	cs.updated = now
	cs.stops = nil
	delete(a.claims, cs.claim.ID)
	if a.byVehicle[cs.claim.VehicleID] == cs.claim.ID {
		delete(a.byVehicle, cs.claim.VehicleID)
	}
	a.finished[cs.claim.ID] = cs
	return ExpiredClaim{Claim: cs.claim, Err: err}
}

func (a *Arbiter) finish(cs *claimState, now time.Time) {
	cs.status = StatusHonored
	cs.updated = now
	delete(a.claims, cs.claim.ID)
	if a.byVehicle[cs.claim.VehicleID] == cs.claim.ID {
		delete(a.byVehicle, cs.claim.VehicleID)
	}
	a.finished[cs.claim.ID] = cs
}

// prune forgets finished claims and cooldowns once they can no longer matter.
func (a *Arbiter) prune(now time.Time) {
	retain := a.cfg.ClaimTimeout
	if retain < time.Minute {
		retain = time.Minute
	}
	for id, cs := range a.finished {
		if now.Sub(cs.updated) > retain {
			delete(a.finished, id)
		}
	}
	for v, until := range a.cooldown {
		if now.After(until) {
			delete(a.cooldown, v)
		}
	}
}

func info(cs *claimState) ClaimInfo {
	return ClaimInfo{
		Claim:     cs.claim,
		Status:    cs.status,
		Remaining: lo.Map(cs.stops, func(st stop, _ int) signal.IntersectionID { return st.intersection }),
		UpdatedAt: cs.updated,
	}
}

// Status reports the state of a claim, including recently finished ones.
func (a *Arbiter) Status(claimID string) (ClaimInfo, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cs, ok := a.claims[claimID]; ok {
		return info(cs), true
	}
	if cs, ok := a.finished[claimID]; ok {
		return info(cs), true
	}
	return ClaimInfo{}, false
}

// Pending lists the claims still awaiting a plan, best ranked first.
func (a *Arbiter) Pending() []ClaimInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	states := lo.Values(a.claims)
	sort.Slice(states, func(i, j int) bool {
		return rank(states[i], states[j], states[i].claim.ETA, states[j].claim.ETA)
	})
	return lo.Map(states, func(cs *claimState, _ int) ClaimInfo { return info(cs) })
}
