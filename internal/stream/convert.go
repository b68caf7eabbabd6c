// Package stream serves snapshots and alerts over gRPC as the
// greenwave.v1.SignalFeed service (see pb/feed.proto).
package stream

import (
	"time"

	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/stream/pb"
)

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func snapshotToPB(s signal.Snapshot) *pb.Snapshot {
	msg := &pb.Snapshot{
		IntersectionId:      string(s.Intersection),
		Phase:               string(s.Phase),
		NextPhase:           string(s.NextPhase),
		State:               string(s.State),
		PhaseElapsedSeconds: s.PhaseElapsed,
		Status:              string(s.Status),
		TimestampUnixNanos:  unixNanos(s.Timestamp),
	}
	if s.HoldUntil != nil {
		msg.HoldUntilUnixNanos = unixNanos(*s.HoldUntil)
	}
	for _, a := range s.Green {
		msg.Green = append(msg.Green, string(a))
	}
	return msg
}

func snapshotFromPB(m *pb.Snapshot) signal.Snapshot {
	s := signal.Snapshot{
		Intersection: signal.IntersectionID(m.GetIntersectionId()),
		Phase:        signal.PhaseID(m.GetPhase()),
		NextPhase:    signal.PhaseID(m.GetNextPhase()),
		State:        signal.State(m.GetState()),
		PhaseElapsed: m.GetPhaseElapsedSeconds(),
		Status:       signal.Status(m.GetStatus()),
		Timestamp:    fromUnixNanos(m.GetTimestampUnixNanos()),
	}
	if n := m.GetHoldUntilUnixNanos(); n != 0 {
		hold := fromUnixNanos(n)
		s.HoldUntil = &hold
	}
	for _, a := range m.GetGreen() {
		s.Green = append(s.Green, signal.ApproachID(a))
	}
	return s
}

func alertToPB(a signal.Alert) *pb.Alert {
	return &pb.Alert{
		Id:                 a.ID,
		Kind:               string(a.Kind),
		IntersectionId:     string(a.Intersection),
		VehicleId:          a.VehicleID,
		PlanId:             a.PlanID,
		Message:            a.Message,
		TimestampUnixNanos: unixNanos(a.Timestamp),
	}
}

func alertFromPB(m *pb.Alert) signal.Alert {
	return signal.Alert{
		ID:           m.GetId(),
		Kind:         signal.AlertKind(m.GetKind()),
		Intersection: signal.IntersectionID(m.GetIntersectionId()),
		VehicleID:    m.GetVehicleId(),
		PlanID:       m.GetPlanId(),
		Message:      m.GetMessage(),
		Timestamp:    fromUnixNanos(m.GetTimestampUnixNanos()),
	}
}
