package signal

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
)

// Layout is the immutable geometry of one intersection: its approaches,
// the symmetric conflict relation between them, and the phases built from
// mutually compatible approaches.
type Layout struct {
	ID         IntersectionID
	Approaches []Approach
	Phases     []Phase

	approachIdx map[ApproachID]int64
	phaseIdx    map[PhaseID]int
	conflicts   *simple.UndirectedGraph
}

// NewLayout validates and indexes an intersection. Any inconsistency is
// reported as ErrConfigInvalid.
func NewLayout(id IntersectionID, approaches []Approach, conflicts [][2]ApproachID, phases []Phase) (*Layout, error) {
	if id == "" {
		return nil, fmt.Errorf("intersection id is empty: %w", ErrConfigInvalid)
	}
	if len(approaches) == 0 {
		return nil, fmt.Errorf("intersection %s has no approaches: %w", id, ErrConfigInvalid)
	}
	if len(phases) == 0 {
		return nil, fmt.Errorf("intersection %s has an empty phase set: %w", id, ErrConfigInvalid)
	}

	l := &Layout{
		ID:          id,
		Approaches:  append([]Approach(nil), approaches...),
		approachIdx: make(map[ApproachID]int64, len(approaches)),
		phaseIdx:    make(map[PhaseID]int, len(phases)),
		conflicts:   simple.NewUndirectedGraph(),
	}
	for i, a := range approaches {
		if a.ID == "" {
			return nil, fmt.Errorf("intersection %s: approach %d has no id: %w", id, i, ErrConfigInvalid)
		}
		if _, dup := l.approachIdx[a.ID]; dup {
			return nil, fmt.Errorf("intersection %s: duplicate approach %q: %w", id, a.ID, ErrConfigInvalid)
		}
		if a.Lanes <= 0 {
			return nil, fmt.Errorf("intersection %s: approach %s has %d lanes: %w", id, a.ID, a.Lanes, ErrConfigInvalid)
		}
		l.approachIdx[a.ID] = int64(i)
		l.conflicts.AddNode(simple.Node(i))
	}

	for _, pair := range conflicts {
		u, okU := l.approachIdx[pair[0]]
		v, okV := l.approachIdx[pair[1]]
		if !okU || !okV {
			return nil, fmt.Errorf("intersection %s: conflict %s/%s names an unknown approach: %w", id, pair[0], pair[1], ErrConfigInvalid)
		}
		if u == v {
			return nil, fmt.Errorf("intersection %s: approach %s conflicts with itself: %w", id, pair[0], ErrConfigInvalid)
		}
		l.conflicts.SetEdge(l.conflicts.NewEdge(simple.Node(u), simple.Node(v)))
	}

	for _, p := range phases {
		if p.ID == "" {
			return nil, fmt.Errorf("intersection %s: phase without id: %w", id, ErrConfigInvalid)
		}
		if _, dup := l.phaseIdx[p.ID]; dup {
			return nil, fmt.Errorf("intersection %s: duplicate phase %q: %w", id, p.ID, ErrConfigInvalid)
		}
		if len(p.Approaches) == 0 {
			return nil, fmt.Errorf("intersection %s: phase %s serves no approach: %w", id, p.ID, ErrConfigInvalid)
		}
		if p.MinGreen <= 0 || p.MaxGreen < p.MinGreen {
			return nil, fmt.Errorf("intersection %s: phase %s green bounds [%v, %v]: %w", id, p.ID, p.MinGreen, p.MaxGreen, ErrConfigInvalid)
		}
		if p.BaseGreen == 0 {
			p.BaseGreen = p.MinGreen
		}
		if p.BaseGreen < 0 {
			return nil, fmt.Errorf("intersection %s: phase %s base green %v: %w", id, p.ID, p.BaseGreen, ErrConfigInvalid)
		}
		for i, a := range p.Approaches {
			if _, ok := l.approachIdx[a]; !ok {
				return nil, fmt.Errorf("intersection %s: phase %s names unknown approach %q: %w", id, p.ID, a, ErrConfigInvalid)
			}
			for _, b := range p.Approaches[i+1:] {
				if a == b {
					return nil, fmt.Errorf("intersection %s: phase %s lists %s twice: %w", id, p.ID, a, ErrConfigInvalid)
				}
				if l.Conflicts(a, b) {
					return nil, fmt.Errorf("intersection %s: phase %s combines conflicting approaches %s and %s: %w", id, p.ID, a, b, ErrConfigInvalid)
				}
			}
		}
		p.Approaches = append([]ApproachID(nil), p.Approaches...)
		l.phaseIdx[p.ID] = len(l.Phases)
		l.Phases = append(l.Phases, p)
	}
	return l, nil
}

// Conflicts reports whether a and b may never be green together.
func (l *Layout) Conflicts(a, b ApproachID) bool {
	u, okU := l.approachIdx[a]
	v, okV := l.approachIdx[b]
	if !okU || !okV {
		return false
	}
	return l.conflicts.HasEdgeBetween(u, v)
}

// ConflictSet returns the approaches that conflict with a, in configuration order.
func (l *Layout) ConflictSet(a ApproachID) []ApproachID {
	u, ok := l.approachIdx[a]
	if !ok {
		return nil
	}
	var out []ApproachID
	for _, ap := range l.Approaches {
		if l.conflicts.HasEdgeBetween(u, l.approachIdx[ap.ID]) {
			out = append(out, ap.ID)
		}
	}
	return out
}

// Compatible reports whether no two approaches in the set conflict.
func (l *Layout) Compatible(approaches []ApproachID) bool {
	for i, a := range approaches {
		for _, b := range approaches[i+1:] {
			if l.Conflicts(a, b) {
				return false
			}
		}
	}
	return true
}

// Approach looks up an approach by id.
func (l *Layout) Approach(id ApproachID) (Approach, bool) {
	i, ok := l.approachIdx[id]
	if !ok {
		return Approach{}, false
	}
	return l.Approaches[i], true
}

// PhaseIndex returns the configuration index of a phase.
func (l *Layout) PhaseIndex(id PhaseID) (int, bool) {
	i, ok := l.phaseIdx[id]
	return i, ok
}

// Phase looks up a phase by id.
func (l *Layout) Phase(id PhaseID) (Phase, bool) {
	i, ok := l.phaseIdx[id]
	if !ok {
		return Phase{}, false
	}
	return l.Phases[i], true
}

// PhaseFor returns the first configured phase serving approach a.
func (l *Layout) PhaseFor(a ApproachID) (Phase, error) {
	for _, p := range l.Phases {
		if p.Serves(a) {
			return p, nil
		}
	}
	return Phase{}, fmt.Errorf("intersection %s: no phase serves approach %q: %w", l.ID, a, ErrUnknownReference)
}

// StaticPriority is the highest configured approach priority in the phase.
func (l *Layout) StaticPriority(p Phase) int {
	best := 0
	for i, a := range p.Approaches {
		ap, _ := l.Approach(a)
		if i == 0 || ap.Priority > best {
			best = ap.Priority
		}
	}
	return best
}
