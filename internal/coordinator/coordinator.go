// Package coordinator drives every intersection controller from one
// periodic tick. Each controller runs in its own goroutine; the coordinator
// hands it immutable tick requests and never waits on it, so a stalled
// intersection cannot hold up the others.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/banshee-data/greenwave/internal/config"
	"github.com/banshee-data/greenwave/internal/density"
	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/feed"
	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/preempt"
	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/signal/phase"
	"github.com/banshee-data/greenwave/internal/timeutil"
)

// Deps are the coordinator's collaborators. A nil Clock uses the wall
// clock; a nil Log keeps events in memory.
type Deps struct {
	Clock timeutil.Clock
	Log   eventlog.Log
}

// Coordinator owns the controllers, the density aggregator and the
// preemption arbiter.
type Coordinator struct {
	cfg          *config.EngineConfig
	clock        timeutil.Clock
	log          eventlog.Log
	logf         func(format string, v ...interface{})
	tickInterval time.Duration
	stallTimeout time.Duration

	agg *density.Aggregator
	arb *preempt.Arbiter

	workers map[signal.IntersectionID]*worker
	order   []signal.IntersectionID

	snapshots   *feed.Hub[signal.Snapshot]
	alerts      *feed.Hub[signal.Alert]
	transitions *feed.Hub[signal.TransitionEvent]

	// tickMu serializes periodic and out-of-band dispatch.
	tickMu    sync.Mutex
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New builds one controller per configured intersection. An inconsistent
// configuration fails with signal.ErrConfigInvalid.
func New(cfg *config.EngineConfig, deps Deps) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layouts, err := cfg.Layouts()
	if err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Log == nil {
		deps.Log = eventlog.NewMemory()
	}

	links := lo.Map(cfg.Links(), func(l config.Link, _ int) preempt.Link {
		return preempt.Link{From: l.From, To: l.To, Travel: l.Travel}
	})
	ids := lo.Map(layouts, func(l *signal.Layout, _ int) signal.IntersectionID { return l.ID })

	c := &Coordinator{
		cfg:          cfg,
		clock:        deps.Clock,
		log:          deps.Log,
		logf:         monitoring.Component("Coordinator"),
		tickInterval: cfg.GetTickInterval(),
		stallTimeout: cfg.GetStallTimeout(),
		agg:          density.New(layouts, cfg.GetAlpha(), cfg.GetSaturationPerLane()),
		arb: preempt.New(preempt.Config{
			ClaimTimeout:  cfg.GetClaimTimeout(),
			Cooldown:      cfg.GetCooldown(),
			HoldMargin:    cfg.GetHoldMargin(),
			LeadTime:      cfg.GetLeadTime(),
			MinConfidence: cfg.GetMinConfidence(),
		}, layouts, preempt.NewRoads(ids, links, cfg.GetDefaultLinkTravel())),
		workers:     make(map[signal.IntersectionID]*worker, len(layouts)),
		order:       ids,
		snapshots:   feed.NewHub[signal.Snapshot](feed.DefaultBuffer),
		alerts:      feed.NewHub[signal.Alert](feed.DefaultBuffer),
		transitions: feed.NewHub[signal.TransitionEvent](feed.DefaultBuffer),
	}

	params := phase.Params{
		AllRed:           cfg.GetAllRed(),
		Amber:            cfg.GetAmber(),
		Gain:             cfg.GetGain(),
		ClearanceCeiling: cfg.GetClearanceCeiling(),
		MaxWait:          cfg.GetMaxWait(),
	}
	start := c.clock.Now()
	for _, l := range layouts {
		c.workers[l.ID] = newWorker(c, phase.New(l, params, start), start)
	}
	return c, nil
}

// Start launches the controller goroutines. Each appends the initial green
// of its intersection to the event log. Start is idempotent.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		for _, id := range c.order {
			w := c.workers[id]
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				w.run(ctx)
			}()
		}
		c.logf("started %d controllers, tick %v, stall timeout %v", len(c.order), c.tickInterval, c.stallTimeout)
	})
}

// Run starts the controllers and ticks them every tick interval until ctx
// is cancelled. It returns once every controller goroutine has exited.
func (c *Coordinator) Run(ctx context.Context) error {
	c.Start(ctx)
	ticker := c.clock.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.logf("stopped")
			return nil
		case now := <-ticker.C():
			c.TickOnce(now)
		}
	}
}

// Wait blocks until every controller goroutine has exited.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close ends every subscription.
func (c *Coordinator) Close() {
	c.snapshots.Close()
	c.alerts.Close()
	c.transitions.Close()
}

// TickOnce runs one coordinator cycle at now: arbitration, then a tick
// request for every controller that is keeping up.
func (c *Coordinator) TickOnce(now time.Time) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.arbitrate(now)
	for _, id := range c.order {
		c.dispatch(c.workers[id], now)
	}
}

func (c *Coordinator) arbitrate(now time.Time) {
	d := c.arb.Arbitrate(now)
	for _, ex := range d.Expired {
		c.logf("%v", ex.Err)
		a := signal.Alert{
			Kind:      signal.AlertClaimExpired,
			VehicleID: ex.Claim.VehicleID,
			Message:   ex.Err.Error(),
			Timestamp: now,
		}
		if len(ex.Claim.Route) > 0 {
			a.Intersection = ex.Claim.Route[0]
		}
		c.publishAlert(a)
	}
	for _, p := range d.Plans {
		for _, e := range p.Entries {
			w, ok := c.workers[e.Intersection]
			if !ok {
				c.logf("plan %s entry for unknown intersection %s: %v", p.ID, e.Intersection, signal.ErrUnknownReference)
				continue
			}
			w.post(e)
		}
	}
}

// dispatch hands a periodic tick to w unless w is still busy with earlier
// work. Densities are only flushed when the tick is actually delivered.
func (c *Coordinator) dispatch(w *worker, now time.Time) {
	w.mu.Lock()
	queued := len(w.inbox) > 0
	missed := queued && now.Sub(w.queuedAt) >= c.tickInterval
	overdue := !w.busySince.IsZero() && now.Sub(w.busySince) > c.stallTimeout
	w.mu.Unlock()

	if missed || overdue {
		c.markStalled(w, now)
		return
	}
	if queued {
		// An out-of-band request is already waiting; it covers this tick.
		return
	}
	w.send(tickRequest{now: now, densities: c.agg.Flush(w.id, now)})
}

func (c *Coordinator) markStalled(w *worker, now time.Time) {
	w.mu.Lock()
	if w.stalled {
		w.mu.Unlock()
		return
	}
	w.stalled = true
	w.snap.Status = signal.StatusDegraded
	snap := w.snap
	w.mu.Unlock()

	err := fmt.Errorf("intersection %s at %s: no tick completed since %s: %w",
		w.id, now.Format(time.RFC3339), w.lastDone().Format(time.RFC3339), signal.ErrControllerStalled)
	c.logf("%v", err)
	c.snapshots.Publish(snap)
	c.publishAlert(signal.Alert{
		Kind:         signal.AlertControllerDegraded,
		Intersection: w.id,
		Message:      err.Error(),
		Timestamp:    now,
	})
}

// SubmitDensity records a detector sample for the next tick.
func (c *Coordinator) SubmitDensity(s signal.DensitySample) error {
	if err := c.agg.Observe(s); err != nil {
		c.logf("%v", err)
		return err
	}
	return nil
}

// SubmitClaim hands a detection to the arbiter. A critical claim triggers
// an immediate arbitration and an out-of-band tick for its route.
func (c *Coordinator) SubmitClaim(claim signal.EmergencyClaim) (signal.EmergencyClaim, error) {
	now := c.clock.Now()
	stored, err := c.arb.Submit(claim, now)
	if err != nil {
		return stored, err
	}
	if stored.Priority >= signal.PriorityCritical {
		c.kick(stored.Route)
	}
	return stored, nil
}

func (c *Coordinator) kick(route []signal.IntersectionID) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	now := c.clock.Now()
	c.arbitrate(now)
	for _, id := range lo.Uniq(route) {
		w, ok := c.workers[id]
		if !ok {
			continue
		}
		w.mu.Lock()
		queued := len(w.inbox) > 0
		w.mu.Unlock()
		if !queued {
			w.send(tickRequest{now: now})
		}
	}
}

// Snapshots returns the latest snapshot of every intersection in
// configuration order.
func (c *Coordinator) Snapshots() []signal.Snapshot {
	out := make([]signal.Snapshot, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.workers[id].snapshot())
	}
	return out
}

// Snapshot returns the latest snapshot of one intersection.
func (c *Coordinator) Snapshot(id signal.IntersectionID) (signal.Snapshot, error) {
	w, ok := c.workers[id]
	if !ok {
		return signal.Snapshot{}, fmt.Errorf("intersection %q: %w", id, signal.ErrUnknownReference)
	}
	return w.snapshot(), nil
}

// Intersections lists the configured intersections in configuration order.
func (c *Coordinator) Intersections() []signal.IntersectionID {
	return append([]signal.IntersectionID(nil), c.order...)
}

// Layout returns the geometry of one intersection.
func (c *Coordinator) Layout(id signal.IntersectionID) (*signal.Layout, error) {
	w, ok := c.workers[id]
	if !ok {
		return nil, fmt.Errorf("intersection %q: %w", id, signal.ErrUnknownReference)
	}
	return w.layout, nil
}

// Densities returns the smoothed densities as of the last delivered tick.
func (c *Coordinator) Densities(id signal.IntersectionID) (map[signal.ApproachID]float64, error) {
	if _, ok := c.workers[id]; !ok {
		return nil, fmt.Errorf("intersection %q: %w", id, signal.ErrUnknownReference)
	}
	return c.agg.Current(id), nil
}

// GreenDurations returns the green each phase would receive at the current
// densities.
func (c *Coordinator) GreenDurations(id signal.IntersectionID) (map[signal.PhaseID]time.Duration, error) {
	l, err := c.Layout(id)
	if err != nil {
		return nil, err
	}
	dens := c.agg.Current(id)
	out := make(map[signal.PhaseID]time.Duration, len(l.Phases))
	for _, p := range l.Phases {
		out[p.ID] = phase.GreenDuration(p, dens, c.cfg.GetGain())
	}
	return out, nil
}

// Claim reports the state of one emergency claim.
func (c *Coordinator) Claim(id string) (preempt.ClaimInfo, bool) { return c.arb.Status(id) }

// Claims lists the claims still waiting for arbitration.
func (c *Coordinator) Claims() []preempt.ClaimInfo { return c.arb.Pending() }

// Events returns the event log the controllers write to.
func (c *Coordinator) Events() eventlog.Log { return c.log }

func (c *Coordinator) SnapshotHub() *feed.Hub[signal.Snapshot]          { return c.snapshots }
func (c *Coordinator) AlertHub() *feed.Hub[signal.Alert]                { return c.alerts }
func (c *Coordinator) TransitionHub() *feed.Hub[signal.TransitionEvent] { return c.transitions }

func (c *Coordinator) publishAlert(a signal.Alert) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if missed := c.alerts.Publish(a); missed > 0 {
		c.logf("alert %s (%s) missed by %d subscribers", a.ID, a.Kind, missed)
	}
}

// Stalled lists the intersections currently marked degraded because their
// controller stopped completing ticks.
func (c *Coordinator) Stalled() []signal.IntersectionID {
	var out []signal.IntersectionID
	for id, w := range c.workers {
		w.mu.Lock()
		if w.stalled {
			out = append(out, id)
		}
		w.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
