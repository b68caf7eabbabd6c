// Command phase-plot renders the green durations recorded in a greenwave
// event log as a PNG, one line per phase, and prints per-phase statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/greenwave/internal/db"
	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/security"
	"github.com/banshee-data/greenwave/internal/signal"
)

func main() {
	dbPath := flag.String("db-path", db.DefaultPath, "Path to the SQLite event log")
	intersection := flag.String("intersection", "", "Intersection to plot (required)")
	since := flag.Duration("since", 24*time.Hour, "How far back to read the log")
	out := flag.String("out", "", "Output PNG (default <intersection>-green.png)")
	flag.Parse()

	if *intersection == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *out == "" {
		*out = security.SanitizeFilename(*intersection) + "-green.png"
	}

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	id := signal.IntersectionID(*intersection)
	intervals, err := loadIntervals(context.Background(), db.NewEventStore(database), id, time.Now().Add(-*since))
	if err != nil {
		log.Fatal(err)
	}
	if len(intervals) == 0 {
		log.Fatalf("no completed green intervals for %s in the last %v", id, *since)
	}

	summarise(os.Stdout, intervals)

	p, err := greenPlot(id, intervals)
	if err != nil {
		log.Fatal(err)
	}
	if err := savePlot(p, *out); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s", *out)
}

// loadIntervals replays id from the log and returns its completed green
// intervals starting at or after from.
func loadIntervals(ctx context.Context, l eventlog.Log, id signal.IntersectionID, from time.Time) ([]eventlog.GreenInterval, error) {
	events, err := l.Replay(ctx, id, from, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", id, err)
	}
	return eventlog.GreenIntervals(events), nil
}

func byPhase(intervals []eventlog.GreenInterval) ([]signal.PhaseID, map[signal.PhaseID][]eventlog.GreenInterval) {
	groups := make(map[signal.PhaseID][]eventlog.GreenInterval)
	for _, iv := range intervals {
		groups[iv.Phase] = append(groups[iv.Phase], iv)
	}
	phases := make([]signal.PhaseID, 0, len(groups))
	for ph := range groups {
		phases = append(phases, ph)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
	return phases, groups
}

func summarise(w io.Writer, intervals []eventlog.GreenInterval) {
	phases, groups := byPhase(intervals)
	fmt.Fprintf(w, "%-12s %6s %9s %9s %9s\n", "phase", "count", "mean_s", "stddev_s", "preempt")
	for _, ph := range phases {
		secs := make([]float64, 0, len(groups[ph]))
		preempted := 0
		for _, iv := range groups[ph] {
			secs = append(secs, iv.Duration.Seconds())
			if iv.Cause == signal.CausePreempted {
				preempted++
			}
		}
		mean, std := stat.MeanStdDev(secs, nil)
		fmt.Fprintf(w, "%-12s %6d %9.1f %9.1f %9d\n", ph, len(secs), mean, std, preempted)
	}
}

// greenPlot draws green duration against start time, one line per phase.
func greenPlot(id signal.IntersectionID, intervals []eventlog.GreenInterval) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Green Duration", id)
	p.X.Label.Text = "Start (UTC)"
	p.Y.Label.Text = "Green (s)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04"}
	p.Add(plotter.NewGrid())

	phases, groups := byPhase(intervals)
	for i, ph := range phases {
		pts := make(plotter.XYs, 0, len(groups[ph]))
		for _, iv := range groups[ph] {
			pts = append(pts, plotter.XY{X: float64(iv.Start.Unix()), Y: iv.Duration.Seconds()})
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		points.Color = plotutil.Color(i)
		points.Shape = plotutil.Shape(i)
		p.Add(line, points)
		p.Legend.Add(string(ph), line, points)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

func savePlot(p *plot.Plot, path string) error {
	if err := security.ValidateExportPath(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}
