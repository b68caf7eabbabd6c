// Package ingest decodes detector feeds into density samples and emergency
// claims. Every transport carries newline-delimited JSON messages:
//
//	{"type":"density","intersection_id":"main-1st","approach_id":"N","vehicle_count":7,"timestamp":"2026-03-14T08:00:00Z"}
//	{"type":"emergency","vehicle_id":"amb-7","route":["main-1st","main-2nd"],"approach_id":"E","eta_seconds":20,"confidence":0.9,"priority":"ambulance"}
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/greenwave/internal/signal"
)

const (
	TypeDensity   = "density"
	TypeEmergency = "emergency"
)

// Time accepts RFC 3339 strings or Unix seconds.
type Time struct{ time.Time }

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = v
		return nil
	}
	secs, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}

// Message is the wire form shared by density and emergency feeds.
type Message struct {
	Type           string          `json:"type"`
	IntersectionID string          `json:"intersection_id,omitempty"`
	ApproachID     string          `json:"approach_id,omitempty"`
	VehicleCount   *int            `json:"vehicle_count,omitempty"`
	Timestamp      *Time           `json:"timestamp,omitempty"`
	VehicleID      string          `json:"vehicle_id,omitempty"`
	Route          []string        `json:"route,omitempty"`
	ETASeconds     *float64        `json:"eta_seconds,omitempty"`
	ETA            *Time           `json:"eta,omitempty"`
	Confidence     *float64        `json:"confidence,omitempty"`
	Priority       json.RawMessage `json:"priority,omitempty"`
}

// Decoder turns raw lines into domain values.
type Decoder struct {
	// Priority resolves a priority label; nil uses signal.ParsePriority.
	Priority func(string) (signal.Priority, error)
}

// Decode parses one message. received stands in for a missing timestamp.
// Exactly one of the returned pointers is non-nil on success.
func (d Decoder) Decode(line []byte, received time.Time) (*signal.DensitySample, *signal.EmergencyClaim, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, nil, fmt.Errorf("decode %q: %v: %w", truncate(line), err, signal.ErrDataQuality)
	}
	return d.decode(m, received)
}

// DecodeAs is Decode for transports where the message type is implied by
// the endpoint. A message naming a different type is rejected.
func (d Decoder) DecodeAs(typ string, body []byte, received time.Time) (*signal.DensitySample, *signal.EmergencyClaim, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, nil, fmt.Errorf("decode %q: %v: %w", truncate(body), err, signal.ErrDataQuality)
	}
	if m.Type == "" {
		m.Type = typ
	}
	if !strings.EqualFold(m.Type, typ) {
		return nil, nil, fmt.Errorf("message type %q where %q expected: %w", m.Type, typ, signal.ErrDataQuality)
	}
	return d.decode(m, received)
}

func (d Decoder) decode(m Message, received time.Time) (*signal.DensitySample, *signal.EmergencyClaim, error) {
	ts := received
	if m.Timestamp != nil && !m.Timestamp.IsZero() {
		ts = m.Timestamp.Time
	}

	switch strings.ToLower(m.Type) {
	case TypeDensity:
		s, err := d.density(m, ts)
		return s, nil, err
	case TypeEmergency:
		c, err := d.emergency(m, ts)
		return nil, c, err
	default:
		return nil, nil, fmt.Errorf("message type %q: %w", m.Type, signal.ErrDataQuality)
	}
}

func (d Decoder) density(m Message, ts time.Time) (*signal.DensitySample, error) {
	if m.IntersectionID == "" || m.ApproachID == "" {
		return nil, fmt.Errorf("density message at %s without intersection or approach: %w", ts.Format(time.RFC3339), signal.ErrDataQuality)
	}
	if m.VehicleCount == nil {
		return nil, fmt.Errorf("density message for %s/%s without vehicle_count: %w", m.IntersectionID, m.ApproachID, signal.ErrDataQuality)
	}
	return &signal.DensitySample{
		Intersection: signal.IntersectionID(m.IntersectionID),
		Approach:     signal.ApproachID(m.ApproachID),
		VehicleCount: *m.VehicleCount,
		Timestamp:    ts,
	}, nil
}

func (d Decoder) emergency(m Message, ts time.Time) (*signal.EmergencyClaim, error) {
	route := m.Route
	if len(route) == 0 && m.IntersectionID != "" {
		route = []string{m.IntersectionID}
	}
	c := &signal.EmergencyClaim{
		VehicleID:  m.VehicleID,
		Approach:   signal.ApproachID(m.ApproachID),
		Confidence: 1,
		Timestamp:  ts,
	}
	for _, id := range route {
		c.Route = append(c.Route, signal.IntersectionID(id))
	}
	if m.Confidence != nil {
		c.Confidence = *m.Confidence
	}

	switch {
	case m.ETA != nil && !m.ETA.IsZero():
		c.ETA = m.ETA.Time
	case m.ETASeconds != nil:
		c.ETA = ts.Add(time.Duration(*m.ETASeconds * float64(time.Second)))
	default:
		return nil, fmt.Errorf("emergency message for %q without eta: %w", m.VehicleID, signal.ErrDataQuality)
	}

	label, err := priorityLabel(m.Priority)
	if err != nil {
		return nil, fmt.Errorf("emergency message for %q: priority %s: %w", m.VehicleID, m.Priority, signal.ErrDataQuality)
	}
	resolve := d.Priority
	if resolve == nil {
		resolve = signal.ParsePriority
	}
	if c.Priority, err = resolve(label); err != nil {
		return nil, fmt.Errorf("emergency message for %q: %w", m.VehicleID, err)
	}
	return c, nil
}

// priorityLabel accepts "critical", "ambulance", 3 or "3".
func priorityLabel(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func truncate(b []byte) string {
	const limit = 80
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
