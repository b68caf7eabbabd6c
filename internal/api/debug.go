package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/version"
)

// AttachDebugRoutes adds controller state, a transition tail and charts to
// the /debug/ page of mux.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("greenwave", "Build and controller state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, version.String())
		stalled := make(map[signal.IntersectionID]bool)
		for _, id := range s.engine.Stalled() {
			stalled[id] = true
		}
		for _, snap := range s.engine.Snapshots() {
			fmt.Fprintf(w, "%-12s %-10s phase=%-6s next=%-6s elapsed=%5.1fs status=%s stalled=%v\n",
				snap.Intersection, snap.State, snap.Phase, snap.NextPhase, snap.PhaseElapsed, snap.Status, stalled[snap.Intersection])
		}
	})
	debug.HandleSilentFunc("transitions/tail", func(w http.ResponseWriter, r *http.Request) {
		serveSSE(w, r, s.engine.TransitionHub(), nil)
	})
	debug.HandleFunc("charts/green", "Adaptive green durations per phase", s.handleGreenChart)
	debug.HandleFunc("charts/density", "Smoothed approach densities", s.handleDensityChart)
	debug.HandleFunc("charts/cycle", "Served green intervals over the last hour", s.handleCycleChart)
}

func renderPage(w http.ResponseWriter, chart components.Charter) {
	page := components.NewPage()
	page.AddCharts(chart)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleGreenChart renders the green duration each phase would get from
// the current densities.
func (s *Server) handleGreenChart(w http.ResponseWriter, r *http.Request) {
	ids := s.engine.Intersections()
	phaseSet := make(map[signal.PhaseID]bool)
	greens := make(map[signal.IntersectionID]map[signal.PhaseID]time.Duration, len(ids))
	for _, id := range ids {
		g, err := s.engine.GreenDurations(id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		greens[id] = g
		for p := range g {
			phaseSet[p] = true
		}
	}
	phases := sortedKeys(phaseSet)

	x := make([]string, len(ids))
	for i, id := range ids {
		x[i] = string(id)
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Green durations", Subtitle: "seconds, from current densities"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x)
	for _, p := range phases {
		data := make([]opts.BarData, len(ids))
		for i, id := range ids {
			if d, ok := greens[id][p]; ok {
				data[i] = opts.BarData{Value: d.Seconds()}
			} else {
				data[i] = opts.BarData{Value: nil}
			}
		}
		bar.AddSeries(string(p), data)
	}
	renderPage(w, bar)
}

// handleDensityChart renders the smoothed density of every approach of one
// intersection (query param intersection, default the first).
func (s *Server) handleDensityChart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.chartIntersection(w, r)
	if !ok {
		return
	}
	dens, err := s.engine.Densities(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	approaches := make([]string, 0, len(dens))
	for a := range dens {
		approaches = append(approaches, string(a))
	}
	sort.Strings(approaches)
	data := make([]opts.BarData, len(approaches))
	for i, a := range approaches {
		data[i] = opts.BarData{Value: dens[signal.ApproachID(a)]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Approach density", Subtitle: string(id)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(approaches).
		AddSeries("density", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	renderPage(w, bar)
}

// handleCycleChart plots the served green intervals of one intersection
// from the event log.
func (s *Server) handleCycleChart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.chartIntersection(w, r)
	if !ok {
		return
	}
	to := s.now()
	events, err := s.engine.Events().Replay(r.Context(), id, to.Add(-time.Hour), to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to replay events: %v", err))
		return
	}
	intervals := eventlog.GreenIntervals(events)

	byPhase := make(map[signal.PhaseID][]opts.LineData)
	phaseSet := make(map[signal.PhaseID]bool)
	for _, iv := range intervals {
		phaseSet[iv.Phase] = true
		byPhase[iv.Phase] = append(byPhase[iv.Phase], opts.LineData{
			Value: []interface{}{iv.Start.Format(time.RFC3339), iv.Duration.Seconds()},
		})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Served green", Subtitle: fmt.Sprintf("%s, %d intervals", id, len(intervals))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	for _, p := range sortedKeys(phaseSet) {
		line.AddSeries(string(p), byPhase[p])
	}
	renderPage(w, line)
}

func (s *Server) chartIntersection(w http.ResponseWriter, r *http.Request) (signal.IntersectionID, bool) {
	id := signal.IntersectionID(r.URL.Query().Get("intersection"))
	if id == "" {
		ids := s.engine.Intersections()
		if len(ids) == 0 {
			writeError(w, http.StatusNotFound, "no intersections configured")
			return "", false
		}
		id = ids[0]
	}
	if _, err := s.engine.Snapshot(id); err != nil {
		writeEngineError(w, err)
		return "", false
	}
	return id, true
}

func sortedKeys(set map[signal.PhaseID]bool) []signal.PhaseID {
	out := make([]signal.PhaseID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
