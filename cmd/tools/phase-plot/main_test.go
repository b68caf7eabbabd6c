package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/signal"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func at(s int) time.Time { return t0.Add(time.Duration(s) * time.Second) }

func testLog(t *testing.T) eventlog.Log {
	t.Helper()
	l := eventlog.NewMemory()
	for _, ev := range []signal.TransitionEvent{
		{Intersection: "main-1st", State: signal.StateGreen, To: "NS", Cause: signal.CauseScheduled, Timestamp: at(0)},
		{Intersection: "main-1st", State: signal.StateAllRed, From: "NS", To: "EW", Cause: signal.CauseScheduled, Timestamp: at(20)},
		{Intersection: "main-1st", State: signal.StateGreen, From: "NS", To: "EW", Cause: signal.CauseScheduled, Timestamp: at(22)},
		{Intersection: "main-1st", State: signal.StateAllRed, From: "EW", To: "NS", Cause: signal.CauseScheduled, Timestamp: at(32)},
		{Intersection: "main-1st", State: signal.StatePreempted, From: "EW", To: "NS", Cause: signal.CausePreempted, PlanID: "p1", Timestamp: at(34)},
		{Intersection: "main-1st", State: signal.StateAllRed, From: "NS", To: "EW", Cause: signal.CauseScheduled, Timestamp: at(64)},
	} {
		_, err := l.Append(context.Background(), ev)
		require.NoError(t, err)
	}
	return l
}

func TestLoadIntervals(t *testing.T) {
	got, err := loadIntervals(context.Background(), testLog(t), "main-1st", t0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, signal.PhaseID("EW"), got[1].Phase)
	assert.Equal(t, 10*time.Second, got[1].Duration)
	assert.Equal(t, signal.CausePreempted, got[2].Cause)

	got, err = loadIntervals(context.Background(), testLog(t), "main-1st", at(30))
	require.NoError(t, err)
	assert.Len(t, got, 1, "intervals opened before the window are skipped")
}

func TestSummarise(t *testing.T) {
	intervals, err := loadIntervals(context.Background(), testLog(t), "main-1st", t0)
	require.NoError(t, err)

	var buf bytes.Buffer
	summarise(&buf, intervals)
	out := buf.String()
	assert.Contains(t, out, "EW")
	// NS was green for 20s and 30s, one of them preempted.
	assert.Regexp(t, `NS\s+2\s+25\.0\s+7\.1\s+1`, out)
}

func TestGreenPlot(t *testing.T) {
	intervals, err := loadIntervals(context.Background(), testLog(t), "main-1st", t0)
	require.NoError(t, err)

	p, err := greenPlot("main-1st", intervals)
	require.NoError(t, err)
	assert.Equal(t, "main-1st - Green Duration", p.Title.Text)

	path := filepath.Join(t.TempDir(), "plots", "green.png")
	require.NoError(t, savePlot(p, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestSavePlot_RejectsTraversal(t *testing.T) {
	p, err := greenPlot("main-1st", nil)
	require.NoError(t, err)
	assert.Error(t, savePlot(p, "/etc/greenwave-green.png"))
}
