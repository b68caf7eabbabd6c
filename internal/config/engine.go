package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/greenwave/internal/signal"
)

// DefaultConfigPath is the path to the example engine configuration.
const DefaultConfigPath = "config/greenwave.defaults.json"

// EngineConfig is the root configuration of the signal engine. Every scalar
// is optional; the Get* accessors supply defaults for omitted fields.
type EngineConfig struct {
	// Timing
	TickInterval     *string  `json:"tick_interval,omitempty"` // duration string like "1s"
	AllRed           *string  `json:"all_red,omitempty"`
	Amber            *string  `json:"amber,omitempty"`
	Gain             *float64 `json:"gain_seconds,omitempty"` // seconds of green per unit of density
	MaxWait          *string  `json:"max_wait,omitempty"`
	ClearanceCeiling *string  `json:"clearance_ceiling,omitempty"`
	StallTimeout     *string  `json:"stall_timeout,omitempty"`

	// Density smoothing
	Alpha             *float64 `json:"alpha,omitempty"`
	SaturationPerLane *float64 `json:"saturation_per_lane,omitempty"`

	// Preemption
	ClaimTimeout      *string           `json:"claim_timeout,omitempty"`
	Cooldown          *string           `json:"cooldown,omitempty"`
	HoldMargin        *string           `json:"hold_margin,omitempty"`
	LeadTime          *string           `json:"lead_time,omitempty"`
	MinConfidence     *float64          `json:"min_confidence,omitempty"`
	PriorityLevels    map[string]string `json:"priority_levels,omitempty"`
	DefaultLinkTravel *string           `json:"default_link_travel,omitempty"`
	RoadLinks         []RoadLink        `json:"road_links,omitempty"`

	NotifierURL *string `json:"notifier_url,omitempty"`

	Intersections []IntersectionConfig `json:"intersections"`
}

// RoadLink is a directed road segment between two intersections.
type RoadLink struct {
	From       string `json:"from"`
	To         string `json:"to"`
	TravelTime string `json:"travel_time"`
}

// IntersectionConfig describes one intersection layout.
type IntersectionConfig struct {
	ID         string           `json:"id"`
	Approaches []ApproachConfig `json:"approaches"`
	Conflicts  [][2]string      `json:"conflicts"`
	Phases     []PhaseConfig    `json:"phases"`
}

type ApproachConfig struct {
	ID       string `json:"id"`
	Lanes    int    `json:"lanes"`
	Priority int    `json:"priority"`
}

type PhaseConfig struct {
	ID         string   `json:"id"`
	Approaches []string `json:"approaches"`
	MinGreen   string   `json:"min_green,omitempty"`
	MaxGreen   string   `json:"max_green,omitempty"`
	BaseGreen  string   `json:"base_green,omitempty"`
}

const (
	defaultMinGreen = 10 * time.Second
	defaultMaxGreen = 60 * time.Second
)

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// LoadEngineConfig loads an EngineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q: %w", ext, signal.ErrConfigInvalid)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d): %w", fileInfo.Size(), maxFileSize, signal.ErrConfigInvalid)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &EngineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %v: %w", err, signal.ErrConfigInvalid)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration. All failures wrap signal.ErrConfigInvalid.
func (c *EngineConfig) Validate() error {
	durations := []struct {
		name     string
		value    *string
		positive bool
	}{
		{"tick_interval", c.TickInterval, true},
		{"all_red", c.AllRed, true},
		{"amber", c.Amber, false},
		{"max_wait", c.MaxWait, false},
		{"clearance_ceiling", c.ClearanceCeiling, true},
		{"stall_timeout", c.StallTimeout, true},
		{"claim_timeout", c.ClaimTimeout, true},
		{"cooldown", c.Cooldown, false},
		{"hold_margin", c.HoldMargin, false},
		{"lead_time", c.LeadTime, false},
		{"default_link_travel", c.DefaultLinkTravel, false},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return invalid("invalid %s '%s': %v", d.name, *d.value, err)
		}
		if v < 0 || (d.positive && v == 0) {
			return invalid("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if c.Gain != nil && *c.Gain < 0 {
		return invalid("gain_seconds must be non-negative, got %f", *c.Gain)
	}
	if c.Alpha != nil && (*c.Alpha <= 0 || *c.Alpha > 1) {
		return invalid("alpha must be in (0, 1], got %f", *c.Alpha)
	}
	if c.SaturationPerLane != nil && *c.SaturationPerLane <= 0 {
		return invalid("saturation_per_lane must be positive, got %f", *c.SaturationPerLane)
	}
	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return invalid("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
	}
	for label, level := range c.PriorityLevels {
		if _, err := signal.ParsePriority(level); err != nil {
			return invalid("priority_levels[%s]: %v", label, err)
		}
	}

	if c.GetStallTimeout() <= c.GetTickInterval() {
		return invalid("stall_timeout %v must exceed tick_interval %v", c.GetStallTimeout(), c.GetTickInterval())
	}
	if c.GetClearanceCeiling() <= c.GetAmber()+c.GetAllRed() {
		return invalid("clearance_ceiling %v must exceed amber+all_red %v", c.GetClearanceCeiling(), c.GetAmber()+c.GetAllRed())
	}

	if len(c.Intersections) == 0 {
		return invalid("no intersections configured")
	}
	known := make(map[string]bool, len(c.Intersections))
	for _, ic := range c.Intersections {
		if known[ic.ID] {
			return invalid("duplicate intersection %q", ic.ID)
		}
		known[ic.ID] = true
		if _, err := ic.Layout(); err != nil {
			return err
		}
	}
	for _, link := range c.RoadLinks {
		if !known[link.From] || !known[link.To] {
			return invalid("road link %s->%s names an unknown intersection", link.From, link.To)
		}
		if link.From == link.To {
			return invalid("road link %s->%s is a loop", link.From, link.To)
		}
		d, err := time.ParseDuration(link.TravelTime)
		if err != nil || d < 0 {
			return invalid("road link %s->%s has invalid travel_time %q", link.From, link.To, link.TravelTime)
		}
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), signal.ErrConfigInvalid)
}

// Layout builds the validated signal layout for the intersection.
func (ic IntersectionConfig) Layout() (*signal.Layout, error) {
	approaches := make([]signal.Approach, 0, len(ic.Approaches))
	for _, a := range ic.Approaches {
		approaches = append(approaches, signal.Approach{ID: signal.ApproachID(a.ID), Lanes: a.Lanes, Priority: a.Priority})
	}
	conflicts := make([][2]signal.ApproachID, 0, len(ic.Conflicts))
	for _, pair := range ic.Conflicts {
		conflicts = append(conflicts, [2]signal.ApproachID{signal.ApproachID(pair[0]), signal.ApproachID(pair[1])})
	}
	phases := make([]signal.Phase, 0, len(ic.Phases))
	for _, pc := range ic.Phases {
		p := signal.Phase{ID: signal.PhaseID(pc.ID), MinGreen: defaultMinGreen, MaxGreen: defaultMaxGreen}
		for _, a := range pc.Approaches {
			p.Approaches = append(p.Approaches, signal.ApproachID(a))
		}
		for _, f := range []struct {
			name string
			raw  string
			dst  *time.Duration
		}{
			{"min_green", pc.MinGreen, &p.MinGreen},
			{"max_green", pc.MaxGreen, &p.MaxGreen},
			{"base_green", pc.BaseGreen, &p.BaseGreen},
		} {
			if f.raw == "" {
				continue
			}
			d, err := time.ParseDuration(f.raw)
			if err != nil {
				return nil, invalid("intersection %s phase %s: invalid %s '%s'", ic.ID, pc.ID, f.name, f.raw)
			}
			*f.dst = d
		}
		phases = append(phases, p)
	}
	return signal.NewLayout(signal.IntersectionID(ic.ID), approaches, conflicts, phases)
}

// Layouts builds every configured intersection in configuration order.
func (c *EngineConfig) Layouts() ([]*signal.Layout, error) {
	out := make([]*signal.Layout, 0, len(c.Intersections))
	for _, ic := range c.Intersections {
		l, err := ic.Layout()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func (c *EngineConfig) GetTickInterval() time.Duration { return durationOr(c.TickInterval, time.Second) }
func (c *EngineConfig) GetAllRed() time.Duration       { return durationOr(c.AllRed, 2*time.Second) }
func (c *EngineConfig) GetAmber() time.Duration        { return durationOr(c.Amber, 0) }
func (c *EngineConfig) GetMaxWait() time.Duration      { return durationOr(c.MaxWait, 120*time.Second) }
func (c *EngineConfig) GetClearanceCeiling() time.Duration {
	return durationOr(c.ClearanceCeiling, 30*time.Second)
}
func (c *EngineConfig) GetStallTimeout() time.Duration { return durationOr(c.StallTimeout, 5*time.Second) }
func (c *EngineConfig) GetClaimTimeout() time.Duration { return durationOr(c.ClaimTimeout, 120*time.Second) }
func (c *EngineConfig) GetCooldown() time.Duration     { return durationOr(c.Cooldown, 30*time.Second) }
func (c *EngineConfig) GetHoldMargin() time.Duration   { return durationOr(c.HoldMargin, 10*time.Second) }
func (c *EngineConfig) GetLeadTime() time.Duration     { return durationOr(c.LeadTime, 15*time.Second) }
func (c *EngineConfig) GetDefaultLinkTravel() time.Duration {
	return durationOr(c.DefaultLinkTravel, 20*time.Second)
}

// GetGain returns the density gain k in seconds per unit density.
func (c *EngineConfig) GetGain() float64 {
	if c.Gain == nil {
		return 20 // default
	}
	return *c.Gain
}

// GetAlpha returns the EWMA smoothing factor.
func (c *EngineConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return 0.3 // default
	}
	return *c.Alpha
}

// GetSaturationPerLane returns the vehicle count that saturates one lane.
func (c *EngineConfig) GetSaturationPerLane() float64 {
	if c.SaturationPerLane == nil {
		return 12 // default
	}
	return *c.SaturationPerLane
}

// GetMinConfidence returns the detection confidence threshold.
func (c *EngineConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.4 // default
	}
	return *c.MinConfidence
}

func (c *EngineConfig) GetNotifierURL() string {
	if c.NotifierURL == nil {
		return ""
	}
	return *c.NotifierURL
}

// GetPriorityLevels maps vehicle class labels to priority levels.
func (c *EngineConfig) GetPriorityLevels() map[string]signal.Priority {
	levels := map[string]signal.Priority{
		"ambulance": signal.PriorityCritical,
		"fire":      signal.PriorityCritical,
		"police":    signal.PriorityUrgent,
		"transit":   signal.PriorityRoutine,
	}
	if len(c.PriorityLevels) > 0 {
		levels = make(map[string]signal.Priority, len(c.PriorityLevels))
		for label, raw := range c.PriorityLevels {
			if p, err := signal.ParsePriority(raw); err == nil {
				levels[label] = p
			}
		}
	}
	return levels
}

// ResolvePriority accepts a level name, a level number or a configured label.
func (c *EngineConfig) ResolvePriority(s string) (signal.Priority, error) {
	if p, ok := c.GetPriorityLevels()[s]; ok {
		return p, nil
	}
	return signal.ParsePriority(s)
}

// Links returns the parsed road links. Invalid entries are skipped; Validate reports them.
func (c *EngineConfig) Links() []Link {
	out := make([]Link, 0, len(c.RoadLinks))
	for _, rl := range c.RoadLinks {
		d, err := time.ParseDuration(rl.TravelTime)
		if err != nil {
			continue
		}
		out = append(out, Link{From: signal.IntersectionID(rl.From), To: signal.IntersectionID(rl.To), Travel: d})
	}
	return out
}

// Link is a parsed RoadLink.
type Link struct {
	From, To signal.IntersectionID
	Travel   time.Duration
}
