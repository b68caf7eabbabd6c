package eventlog

import (
	"time"

	"github.com/banshee-data/greenwave/internal/signal"
)

// GreenInterval is one period during which a phase was served, either on
// schedule or under preemption.
type GreenInterval struct {
	Intersection signal.IntersectionID `json:"intersection_id"`
	Phase        signal.PhaseID        `json:"phase"`
	Cause        signal.Cause          `json:"cause"`
	Start        time.Time             `json:"start"`
	Duration     time.Duration         `json:"duration"`
}

// GreenIntervals closes every green or preempted event with the next event
// of the same intersection. Events must be in log order per intersection;
// an interval still open at the end of events is dropped.
func GreenIntervals(events []signal.TransitionEvent) []GreenInterval {
	var out []GreenInterval
	open := make(map[signal.IntersectionID]signal.TransitionEvent)
	for _, ev := range events {
		if prev, ok := open[ev.Intersection]; ok {
			out = append(out, GreenInterval{
				Intersection: prev.Intersection,
				Phase:        prev.To,
				Cause:        prev.Cause,
				Start:        prev.Timestamp,
				Duration:     ev.Timestamp.Sub(prev.Timestamp),
			})
			delete(open, ev.Intersection)
		}
		if ev.State == signal.StateGreen || ev.State == signal.StatePreempted {
			open[ev.Intersection] = ev
		}
	}
	return out
}
