// Package eventlog is the append-only record of signal transitions. Each
// intersection is its own partition with a gapless sequence and
// non-decreasing timestamps. There is no update or delete API.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/greenwave/internal/feed"
	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/signal"
)

// ErrOutOfOrder is returned when an event is older than its partition's tail.
var ErrOutOfOrder = errors.New("event out of order")

// Log is implemented by every event store.
type Log interface {
	// Append assigns the next sequence number of the event's partition and
	// stores it.
	Append(ctx context.Context, ev signal.TransitionEvent) (signal.TransitionEvent, error)
	// Replay returns a partition's events with from <= timestamp <= to in
	// sequence order. A zero bound is open.
	Replay(ctx context.Context, id signal.IntersectionID, from, to time.Time) ([]signal.TransitionEvent, error)
	// Partitions lists the intersections with at least one event.
	Partitions(ctx context.Context) ([]signal.IntersectionID, error)
}

// Subscriber is implemented by logs that stream appended events.
type Subscriber interface {
	Subscribe() (string, <-chan signal.TransitionEvent)
	Unsubscribe(id string)
}

type partition struct {
	events  []signal.TransitionEvent
	lastSeq uint64
	lastTS  time.Time
}

// Memory is an in-process Log. Retain, when positive, bounds the number of
// events kept per partition for replay; sequence numbering is unaffected.
type Memory struct {
	Retain int

	mu    sync.RWMutex
	parts map[signal.IntersectionID]*partition
	hub   *feed.Hub[signal.TransitionEvent]
}

// NewMemory returns an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		parts: make(map[signal.IntersectionID]*partition),
		hub:   feed.NewHub[signal.TransitionEvent](256),
	}
}

// CheckOrder validates ev against a partition tail.
func CheckOrder(ev signal.TransitionEvent, lastTS time.Time) error {
	if ev.Intersection == "" {
		return fmt.Errorf("event without intersection at %s: %w", ev.Timestamp.Format(time.RFC3339Nano), signal.ErrUnknownReference)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("intersection %s: event without timestamp: %w", ev.Intersection, signal.ErrDataQuality)
	}
	if ev.Timestamp.Before(lastTS) {
		return fmt.Errorf("intersection %s: event at %s precedes last entry at %s: %w",
			ev.Intersection, ev.Timestamp.Format(time.RFC3339Nano), lastTS.Format(time.RFC3339Nano), ErrOutOfOrder)
	}
	return nil
}

func (m *Memory) Append(ctx context.Context, ev signal.TransitionEvent) (signal.TransitionEvent, error) {
	if err := ctx.Err(); err != nil {
		return ev, err
	}
	m.mu.Lock()
	p := m.partition(ev.Intersection)
	if err := CheckOrder(ev, p.lastTS); err != nil {
		m.mu.Unlock()
		return ev, err
	}
	ev.Seq = p.lastSeq + 1
	m.store(p, ev)
	m.mu.Unlock()

	m.hub.Publish(ev)
	return ev, nil
}

// Mirror stores an event already sequenced by another log. The sequence must
// advance the partition; the first mirrored event may start anywhere.
func (m *Memory) Mirror(ev signal.TransitionEvent) error {
	m.mu.Lock()
	p := m.partition(ev.Intersection)
	if err := CheckOrder(ev, p.lastTS); err != nil {
		m.mu.Unlock()
		return err
	}
	if p.lastSeq != 0 && ev.Seq != p.lastSeq+1 {
		m.mu.Unlock()
		return fmt.Errorf("intersection %s: mirrored seq %d does not follow %d: %w", ev.Intersection, ev.Seq, p.lastSeq, ErrOutOfOrder)
	}
	m.store(p, ev)
	m.mu.Unlock()

	m.hub.Publish(ev)
	return nil
}

func (m *Memory) partition(id signal.IntersectionID) *partition {
	p, ok := m.parts[id]
	if !ok {
		p = &partition{}
		if id != "" {
			m.parts[id] = p
		}
	}
	return p
}

func (m *Memory) store(p *partition, ev signal.TransitionEvent) {
	p.events = append(p.events, ev)
	p.lastSeq = ev.Seq
	p.lastTS = ev.Timestamp
	if m.Retain > 0 && len(p.events) > m.Retain {
		p.events = append(p.events[:0:0], p.events[len(p.events)-m.Retain:]...)
	}
}

func (m *Memory) Replay(ctx context.Context, id signal.IntersectionID, from, to time.Time) ([]signal.TransitionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parts[id]
	if !ok {
		return nil, nil
	}
	out := make([]signal.TransitionEvent, 0, len(p.events))
	for _, ev := range p.events {
		if InRange(ev.Timestamp, from, to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// InRange reports whether ts lies in [from, to]; zero bounds are open.
func InRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}

func (m *Memory) Partitions(ctx context.Context) ([]signal.IntersectionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]signal.IntersectionID, 0, len(m.parts))
	for id, p := range m.parts {
		if p.lastSeq > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Subscribe streams every event appended after the call.
func (m *Memory) Subscribe() (string, <-chan signal.TransitionEvent) { return m.hub.Subscribe() }

// Unsubscribe stops a stream started by Subscribe.
func (m *Memory) Unsubscribe(id string) { m.hub.Unsubscribe(id) }

// Tee writes through to a durable log, which assigns sequence numbers and
// answers replays, and mirrors every stored event into an in-memory cache
// that feeds subscribers.
type Tee struct {
	Durable Log
	Cache   *Memory
}

func (t *Tee) Append(ctx context.Context, ev signal.TransitionEvent) (signal.TransitionEvent, error) {
	stored, err := t.Durable.Append(ctx, ev)
	if err != nil {
		return stored, err
	}
	if err := t.Cache.Mirror(stored); err != nil {
		monitoring.Logf("[EventLog] cache mirror of %s: %v", stored, err)
	}
	return stored, nil
}

func (t *Tee) Replay(ctx context.Context, id signal.IntersectionID, from, to time.Time) ([]signal.TransitionEvent, error) {
	return t.Durable.Replay(ctx, id, from, to)
}

func (t *Tee) Partitions(ctx context.Context) ([]signal.IntersectionID, error) {
	return t.Durable.Partitions(ctx)
}

func (t *Tee) Subscribe() (string, <-chan signal.TransitionEvent) { return t.Cache.Subscribe() }
func (t *Tee) Unsubscribe(id string)                               { t.Cache.Unsubscribe(id) }
