package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/signal"
)

// EventStore is the durable eventlog.Log. Each intersection is a partition
// keyed by (intersection_id, seq).
type EventStore struct {
	db *DB
}

var _ eventlog.Log = (*EventStore)(nil)

// NewEventStore returns an event log backed by db. The schema must already
// be migrated.
func NewEventStore(db *DB) *EventStore { return &EventStore{db: db} }

func (s *EventStore) Append(ctx context.Context, ev signal.TransitionEvent) (signal.TransitionEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ev, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var (
		lastSeq uint64
		lastTS  int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT seq, ts_unix_nanos FROM transition_events
		 WHERE intersection_id = ? ORDER BY seq DESC LIMIT 1`,
		string(ev.Intersection),
	).Scan(&lastSeq, &lastTS)
	var tail time.Time
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ev, fmt.Errorf("read tail of %s: %w", ev.Intersection, err)
	default:
		tail = time.Unix(0, lastTS).UTC()
	}
	if err := eventlog.CheckOrder(ev, tail); err != nil {
		return ev, err
	}

	ev.Seq = lastSeq + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transition_events (
			intersection_id, seq, state, from_phase, to_phase, cause, plan_id, ts_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Intersection), ev.Seq, string(ev.State), string(ev.From), string(ev.To),
		string(ev.Cause), ev.PlanID, ev.Timestamp.UnixNano(),
	); err != nil {
		return ev, fmt.Errorf("append %s: %w", ev, err)
	}
	if err := tx.Commit(); err != nil {
		return ev, fmt.Errorf("commit %s: %w", ev, err)
	}
	return ev, nil
}

func (s *EventStore) Replay(ctx context.Context, id signal.IntersectionID, from, to time.Time) ([]signal.TransitionEvent, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	if !to.IsZero() {
		hi = to.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, state, from_phase, to_phase, cause, plan_id, ts_unix_nanos
		 FROM transition_events
		 WHERE intersection_id = ? AND ts_unix_nanos BETWEEN ? AND ?
		 ORDER BY seq`,
		string(id), lo, hi,
	)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", id, err)
	}
	defer rows.Close()

	var out []signal.TransitionEvent
	for rows.Next() {
		var (
			ev                               signal.TransitionEvent
			state, fromPhase, toPhase, cause string
			ts                               int64
		)
		if err := rows.Scan(&ev.Seq, &state, &fromPhase, &toPhase, &cause, &ev.PlanID, &ts); err != nil {
			return nil, err
		}
		ev.Intersection = id
		ev.State = signal.State(state)
		ev.From = signal.PhaseID(fromPhase)
		ev.To = signal.PhaseID(toPhase)
		ev.Cause = signal.Cause(cause)
		ev.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *EventStore) Partitions(ctx context.Context) ([]signal.IntersectionID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT intersection_id FROM transition_events ORDER BY intersection_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []signal.IntersectionID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, signal.IntersectionID(id))
	}
	return ids, rows.Err()
}

// RecordAlert stores an alert. Re-recording the same alert id is a no-op.
func (db *DB) RecordAlert(ctx context.Context, a signal.Alert) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts (
			alert_id, kind, intersection_id, vehicle_id, plan_id, message, ts_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Kind), string(a.Intersection), a.VehicleID, a.PlanID, a.Message, a.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record alert %s: %w", a.ID, err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (db *DB) RecentAlerts(ctx context.Context, limit int) ([]signal.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT alert_id, kind, intersection_id, vehicle_id, plan_id, message, ts_unix_nanos
		 FROM alerts ORDER BY ts_unix_nanos DESC, alert_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.Alert
	for rows.Next() {
		var (
			a                    signal.Alert
			kind, intersectionID string
			ts                   int64
		)
		if err := rows.Scan(&a.ID, &kind, &intersectionID, &a.VehicleID, &a.PlanID, &a.Message, &ts); err != nil {
			return nil, err
		}
		a.Kind = signal.AlertKind(kind)
		a.Intersection = signal.IntersectionID(intersectionID)
		a.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordAlerts stores every alert received on ch until ch is closed or ctx
// is cancelled. A failed insert is logged and the loop carries on.
func (db *DB) RecordAlerts(ctx context.Context, ch <-chan signal.Alert) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-ch:
			if !ok {
				return nil
			}
			if err := db.RecordAlert(ctx, a); err != nil {
				dbLogf("%v", err)
			}
		}
	}
}
