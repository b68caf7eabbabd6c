package preempt

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/banshee-data/greenwave/internal/signal"
)

// Link is a directed road segment with its free-flow travel time.
type Link struct {
	From, To signal.IntersectionID
	Travel   time.Duration
}

// Roads answers travel-time queries between intersections using shortest
// paths over the configured road links. Pairs with no path fall back to a
// default travel time.
type Roads struct {
	g        *simple.WeightedDirectedGraph
	ids      map[signal.IntersectionID]int64
	fallback time.Duration

	mu    sync.Mutex
	cache map[int64]path.Shortest
}

// NewRoads builds the road graph. Links naming unknown intersections are ignored.
func NewRoads(intersections []signal.IntersectionID, links []Link, fallback time.Duration) *Roads {
	r := &Roads{
		g:        simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		ids:      make(map[signal.IntersectionID]int64, len(intersections)),
		fallback: fallback,
		cache:    make(map[int64]path.Shortest),
	}
	for i, id := range intersections {
		r.ids[id] = int64(i)
		r.g.AddNode(simple.Node(i))
	}
	for _, l := range links {
		u, okU := r.ids[l.From]
		v, okV := r.ids[l.To]
		if !okU || !okV || u == v {
			continue
		}
		r.g.SetWeightedEdge(r.g.NewWeightedEdge(simple.Node(u), simple.Node(v), l.Travel.Seconds()))
	}
	return r
}

// TravelTime returns the shortest travel time from one intersection to another.
func (r *Roads) TravelTime(from, to signal.IntersectionID) time.Duration {
	if from == to {
		return 0
	}
	u, okU := r.ids[from]
	v, okV := r.ids[to]
	if !okU || !okV {
		return r.fallback
	}

	r.mu.Lock()
	sp, ok := r.cache[u]
	if !ok {
		sp = path.DijkstraFrom(r.g.Node(u), r.g)
		r.cache[u] = sp
	}
	r.mu.Unlock()

	nodes, w := sp.To(v)
	if len(nodes) == 0 || math.IsInf(w, 1) {
		return r.fallback
	}
	return time.Duration(w * float64(time.Second))
}
