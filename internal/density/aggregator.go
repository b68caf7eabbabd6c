// Package density turns raw per-approach vehicle counts into smoothed 0..1
// density scores. Samples may arrive at any rate; smoothed values are only
// released at tick boundaries through Flush.
package density

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/signal"
)

// maxPending bounds the samples buffered per intersection between flushes.
const maxPending = 4096

type approachState struct {
	lanes  int
	ewma   float64
	seeded bool
}

type intersectionState struct {
	approaches map[signal.ApproachID]*approachState
	pending    []signal.DensitySample
	lastFlush  time.Time
}

// Aggregator maintains an exponentially weighted moving average per
// approach. It is safe for concurrent use.
type Aggregator struct {
	mu         sync.Mutex
	alpha      float64
	saturation float64
	state      map[signal.IntersectionID]*intersectionState
	logf       func(format string, v ...interface{})
}

// New creates an aggregator for the given layouts. alpha is the EWMA weight
// of a new sample; saturation is the vehicle count that saturates one lane.
func New(layouts []*signal.Layout, alpha, saturation float64) *Aggregator {
	a := &Aggregator{
		alpha:      alpha,
		saturation: saturation,
		state:      make(map[signal.IntersectionID]*intersectionState, len(layouts)),
		logf:       monitoring.Component("Density"),
	}
	for _, l := range layouts {
		is := &intersectionState{approaches: make(map[signal.ApproachID]*approachState, len(l.Approaches))}
		for _, ap := range l.Approaches {
			is.approaches[ap.ID] = &approachState{lanes: ap.Lanes}
		}
		a.state[l.ID] = is
	}
	return a
}

// Observe records a sample for the next flush. Negative counts are clamped to
// zero and logged as a data-quality warning; the sample is kept. Samples for
// unknown intersections or approaches are dropped and the returned error
// wraps signal.ErrDataQuality.
func (a *Aggregator) Observe(s signal.DensitySample) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	is, ok := a.state[s.Intersection]
	if !ok {
		return a.reject(s, "unknown intersection")
	}
	if _, ok := is.approaches[s.Approach]; !ok {
		return a.reject(s, "unknown approach")
	}
	if !is.lastFlush.IsZero() && s.Timestamp.Before(is.lastFlush) {
		return a.reject(s, "sample predates last tick "+is.lastFlush.Format(time.RFC3339Nano))
	}

	if s.VehicleCount < 0 {
		a.logf("intersection %s approach %s at %s: negative count %d clamped to 0: %v",
			s.Intersection, s.Approach, s.Timestamp.Format(time.RFC3339), s.VehicleCount, signal.ErrDataQuality)
		s.VehicleCount = 0
	}
	if len(is.pending) >= maxPending {
		a.logf("intersection %s: %d samples pending, dropping oldest", s.Intersection, len(is.pending))
		is.pending = is.pending[1:]
	}
	is.pending = append(is.pending, s)
	return nil
}

func (a *Aggregator) reject(s signal.DensitySample, reason string) error {
	err := fmt.Errorf("intersection %s approach %s at %s: %s, sample skipped: %w",
		s.Intersection, s.Approach, s.Timestamp.Format(time.RFC3339), reason, signal.ErrDataQuality)
	a.logf("%v", err)
	return err
}

// Normalize converts a raw count into a 0..1 density for an approach with
// the given lane count.
func Normalize(count, lanes int, saturationPerLane float64) float64 {
	if count <= 0 || lanes <= 0 || saturationPerLane <= 0 {
		return 0
	}
	v := float64(count) / (float64(lanes) * saturationPerLane)
	if v > 1 {
		return 1
	}
	return v
}

// Flush folds every sample stamped at or before tick into the moving
// averages, in timestamp order, and returns the smoothed density of every
// approach that has received at least one sample. Later samples wait for the
// next tick.
func (a *Aggregator) Flush(id signal.IntersectionID, tick time.Time) map[signal.ApproachID]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	is, ok := a.state[id]
	if !ok {
		return nil
	}

	sort.SliceStable(is.pending, func(i, j int) bool {
		return is.pending[i].Timestamp.Before(is.pending[j].Timestamp)
	})
	n := 0
	for _, s := range is.pending {
		if s.Timestamp.After(tick) {
			break
		}
		ap := is.approaches[s.Approach]
		v := Normalize(s.VehicleCount, ap.lanes, a.saturation)
		if !ap.seeded {
			ap.ewma, ap.seeded = v, true
		} else {
			ap.ewma = a.alpha*v + (1-a.alpha)*ap.ewma
		}
		n++
	}
	is.pending = append(is.pending[:0], is.pending[n:]...)
	is.lastFlush = tick

	out := make(map[signal.ApproachID]float64, len(is.approaches))
	for aid, ap := range is.approaches {
		if ap.seeded {
			out[aid] = ap.ewma
		}
	}
	return out
}

// Current returns the smoothed densities as of the last flush without
// consuming pending samples.
func (a *Aggregator) Current(id signal.IntersectionID) map[signal.ApproachID]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	is, ok := a.state[id]
	if !ok {
		return nil
	}
	out := make(map[signal.ApproachID]float64, len(is.approaches))
	for aid, ap := range is.approaches {
		if ap.seeded {
			out[aid] = ap.ewma
		}
	}
	return out
}
