package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/signal/phase"
)

// tickRequest is an immutable unit of work for one controller. Plan entries
// travel separately through the worker mailbox so that an out-of-band
// request queued ahead of a periodic tick still picks them up.
type tickRequest struct {
	now       time.Time
	densities map[signal.ApproachID]float64
}

const maxTrackedPlans = 256

type worker struct {
	c      *Coordinator
	id     signal.IntersectionID
	layout *signal.Layout
	ctrl   *phase.Controller // owned by the run goroutine
	inbox  chan tickRequest

	mu        sync.Mutex
	mailbox   []signal.PlanEntry
	snap      signal.Snapshot
	queuedAt  time.Time
	busySince time.Time
	done      time.Time
	stalled   bool

	// run goroutine only
	start     time.Time
	lastNow   time.Time
	preempted bool
	faulted   bool
	vehicles  map[string]string // plan id to vehicle id
}

func newWorker(c *Coordinator, ctrl *phase.Controller, start time.Time) *worker {
	return &worker{
		c:         c,
		id:        ctrl.Layout().ID,
		layout:    ctrl.Layout(),
		ctrl:      ctrl,
		inbox:     make(chan tickRequest, 1),
		snap:      ctrl.Snapshot(start),
		busySince: start,
		start:     start,
		lastNow:   start,
		vehicles:  make(map[string]string),
	}
}

// post leaves a plan entry for the next request the worker handles.
func (w *worker) post(e signal.PlanEntry) {
	w.mu.Lock()
	w.mailbox = append(w.mailbox, e)
	w.mu.Unlock()
}

// send queues req without blocking. Callers hold the coordinator tick lock,
// so an empty inbox stays empty until the send.
func (w *worker) send(req tickRequest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case w.inbox <- req:
		w.queuedAt = req.now
		return true
	default:
		return false
	}
}

func (w *worker) snapshot() signal.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}

func (w *worker) lastDone() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *worker) run(ctx context.Context) {
	w.appendEvents(ctx, []signal.TransitionEvent{{
		Intersection: w.id,
		State:        signal.StateGreen,
		To:           w.ctrl.Phase(),
		Cause:        signal.CauseScheduled,
		Timestamp:    w.start,
	}})
	w.finish(w.start)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.inbox:
			w.mu.Lock()
			w.queuedAt = time.Time{}
			w.busySince = req.now
			entries := w.mailbox
			w.mailbox = nil
			w.mu.Unlock()

			w.process(ctx, req, entries)
		}
	}
}

func (w *worker) process(ctx context.Context, req tickRequest, entries []signal.PlanEntry) {
	now := req.now
	if now.Before(w.lastNow) {
		now = w.lastNow
	}
	w.lastNow = now

	for _, e := range entries {
		w.vehicles[e.PlanID] = e.VehicleID
	}
	res := w.ctrl.Tick(now, phase.Input{Densities: req.densities, Entries: entries})
	w.appendEvents(ctx, res.Events)
	w.alertTransitions(res.Events, now)
	w.finish(now)
}

// appendEvents writes the controller's events to the log. This goroutine is
// the only writer of its partition.
func (w *worker) appendEvents(ctx context.Context, events []signal.TransitionEvent) {
	for _, ev := range events {
		actx, cancel := context.WithTimeout(ctx, w.c.stallTimeout)
		stored, err := w.c.log.Append(actx, ev)
		cancel()
		if err != nil {
			w.c.logf("intersection %s: append %s: %v", w.id, ev, err)
			continue
		}
		w.c.transitions.Publish(stored)
	}
}

func (w *worker) alertTransitions(events []signal.TransitionEvent, now time.Time) {
	for _, ev := range events {
		switch {
		case ev.State == signal.StatePreempted && !w.preempted:
			w.preempted = true
			w.c.publishAlert(signal.Alert{
				Kind:         signal.AlertPreemptionStarted,
				Intersection: w.id,
				VehicleID:    w.vehicles[ev.PlanID],
				PlanID:       ev.PlanID,
				Message:      fmt.Sprintf("preemption to phase %s at %s", ev.To, w.id),
				Timestamp:    ev.Timestamp,
			})
		case ev.State != signal.StatePreempted && w.preempted:
			w.preempted = false
			w.c.publishAlert(signal.Alert{
				Kind:         signal.AlertPreemptionEnded,
				Intersection: w.id,
				Message:      fmt.Sprintf("preemption ended at %s, %s to %s", w.id, ev.From, ev.To),
				Timestamp:    ev.Timestamp,
			})
		}
		if ev.Cause == signal.CauseFault {
			w.c.publishAlert(signal.Alert{
				Kind:         signal.AlertControllerDegraded,
				Intersection: w.id,
				Message:      fmt.Sprintf("clearance at %s exceeded %v, holding all red", w.id, w.c.cfg.GetClearanceCeiling()),
				Timestamp:    ev.Timestamp,
			})
		}
	}

	faulted := w.ctrl.Faulted()
	if w.faulted && !faulted {
		w.c.publishAlert(signal.Alert{
			Kind:         signal.AlertControllerRecovered,
			Intersection: w.id,
			Message:      fmt.Sprintf("%s cleared its fault at %s", w.id, now.Format(time.RFC3339)),
			Timestamp:    now,
		})
	}
	w.faulted = faulted

	if !w.preempted && len(w.vehicles) > maxTrackedPlans {
		w.vehicles = make(map[string]string)
	}
}

// finish records a completed tick and clears a stall.
func (w *worker) finish(now time.Time) {
	snap := w.ctrl.Snapshot(now)

	w.mu.Lock()
	w.busySince = time.Time{}
	w.done = now
	recovered := w.stalled
	w.stalled = false
	w.snap = snap
	w.mu.Unlock()

	w.c.snapshots.Publish(snap)
	if recovered {
		w.c.logf("intersection %s completed a tick at %s, no longer stalled", w.id, now.Format(time.RFC3339))
		w.c.publishAlert(signal.Alert{
			Kind:         signal.AlertControllerRecovered,
			Intersection: w.id,
			Message:      fmt.Sprintf("%s resumed ticking", w.id),
			Timestamp:    now,
		})
	}
}
