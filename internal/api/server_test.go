package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave/internal/config"
	"github.com/banshee-data/greenwave/internal/coordinator"
	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/preempt"
	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/timeutil"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

type fakeAlerts struct {
	alerts []signal.Alert
	err    error
	limit  int
}

func (f *fakeAlerts) RecentAlerts(_ context.Context, limit int) ([]signal.Alert, error) {
	f.limit = limit
	return f.alerts, f.err
}

type fixture struct {
	c      *coordinator.Coordinator
	clock  *timeutil.MockClock
	log    *eventlog.Memory
	alerts *fakeAlerts
	server *Server
	mux    *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.LoadEngineConfig("../../" + config.DefaultConfigPath)
	require.NoError(t, err)
	f := &fixture{
		clock:  timeutil.NewMockClock(t0),
		log:    eventlog.NewMemory(),
		alerts: &fakeAlerts{},
	}
	f.c, err = coordinator.New(cfg, coordinator.Deps{Clock: f.clock, Log: f.log})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f.c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.c.Wait()
		f.c.Close()
	})
	require.Eventually(t, func() bool {
		parts, _ := f.log.Partitions(context.Background())
		return len(parts) == 3
	}, 2*time.Second, 5*time.Millisecond)

	f.server = NewServer(f.c, Options{Alerts: f.alerts, Now: f.clock.Now})
	f.mux = f.server.ServeMux()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	h := decode[healthResponse](t, w)
	assert.Equal(t, signal.StatusNormal, h.Status)
	assert.Equal(t, 3, h.Intersections)
	assert.Empty(t, h.Stalled)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodPost, "/api/health", "").Code)
}

func TestSnapshots(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/snapshots", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	snaps := decode[[]signal.Snapshot](t, w)
	require.Len(t, snaps, 3)
	assert.Equal(t, signal.IntersectionID("main-1st"), snaps[0].Intersection)

	w = f.do(t, http.MethodGet, "/api/snapshots?intersection=main-1st", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[signal.Snapshot](t, w)
	assert.Equal(t, signal.PhaseID("NS"), snap.Phase)
	assert.Equal(t, signal.StateGreen, snap.State)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/snapshots?intersection=nowhere", "").Code)
}

func TestSubmitDensity(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/density",
		`{"intersection_id":"main-1st","approach_id":"N","vehicle_count":24,"timestamp":"2026-03-14T08:00:00.5Z"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/density", `{"intersection_id":"main-1st","approach_id":"Q","vehicle_count":3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/api/density", `{"intersection_id":"main-1st","approach_id":"N"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/density", "").Code)

	f.clock.Set(t0.Add(time.Second))
	f.c.TickOnce(t0.Add(time.Second))

	w = f.do(t, http.MethodGet, "/api/intersections?intersection=main-1st", "")
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]intersectionView](t, w)
	require.Len(t, views, 1)
	assert.InDelta(t, 1.0, views[0].Densities["N"], 1e-9)
	assert.Equal(t, 20.0, views[0].Green["NS"])
	assert.Equal(t, 10.0, views[0].Green["EW"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/intersections?intersection=nowhere", "").Code)
}

func TestSubmitDensity_NegativeCountClamped(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/density",
		`{"intersection_id":"main-1st","approach_id":"N","vehicle_count":-3,"timestamp":"2026-03-14T08:00:00.5Z"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	f.clock.Set(t0.Add(time.Second))
	f.c.TickOnce(t0.Add(time.Second))

	w = f.do(t, http.MethodGet, "/api/intersections?intersection=main-1st", "")
	require.Equal(t, http.StatusOK, w.Code)
	views := decode[[]intersectionView](t, w)
	require.Len(t, views, 1)
	require.Contains(t, views[0].Densities, signal.ApproachID("N"))
	assert.Equal(t, 0.0, views[0].Densities["N"])
}

func TestClaims(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(t0.Add(3 * time.Second))

	w := f.do(t, http.MethodPost, "/api/claims",
		`{"vehicle_id":"amb-7","route":["main-1st"],"approach_id":"E","eta_seconds":5,"confidence":0.9,"priority":"critical"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	claim := decode[signal.EmergencyClaim](t, w)
	require.NotEmpty(t, claim.ID)
	assert.True(t, claim.ETA.Equal(t0.Add(8*time.Second)))
	assert.Equal(t, signal.PriorityCritical, claim.Priority)

	w = f.do(t, http.MethodGet, "/api/claims?id="+claim.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[preempt.ClaimInfo](t, w)
	assert.Equal(t, "amb-7", info.Claim.VehicleID)

	w = f.do(t, http.MethodGet, "/api/claims", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(w.Body.String()), "["))

	for name, tc := range map[string]struct {
		body string
		code int
	}{
		"low confidence":   {`{"vehicle_id":"v1","route":["main-1st"],"approach_id":"E","eta_seconds":30,"confidence":0.1,"priority":"urgent"}`, http.StatusBadRequest},
		"unknown route":    {`{"vehicle_id":"v2","route":["nowhere"],"approach_id":"E","eta_seconds":30,"priority":"urgent"}`, http.StatusNotFound},
		"already passed":   {`{"vehicle_id":"v3","route":["main-1st"],"approach_id":"E","eta_seconds":-60,"priority":"urgent"}`, http.StatusGone},
		"density endpoint": {`{"type":"density","intersection_id":"main-1st","approach_id":"N","vehicle_count":1}`, http.StatusBadRequest},
	} {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/claims", tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/claims?id=missing", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/api/claims", "").Code)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/events?intersection=main-1st", "")
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[[]signal.TransitionEvent](t, w)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, signal.StateGreen, events[0].State)

	w = f.do(t, http.MethodGet, "/api/events?intersection=main-1st&from=2026-03-14T09:00:00Z", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	w = f.do(t, http.MethodGet, "/api/events?intersection=main-1st&from=1773475100&to=1773475300", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]signal.TransitionEvent](t, w), 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/events", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/events?intersection=main-1st&from=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/events?intersection=main-1st&from=2026-03-14T09:00:00Z&to=2026-03-14T08:00:00Z", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/events?intersection=nowhere", "").Code)
}

func TestAlerts(t *testing.T) {
	f := newFixture(t)
	f.alerts.alerts = []signal.Alert{{ID: "a2", Kind: signal.AlertPreemptionEnded, Timestamp: t0.Add(time.Minute)}, {ID: "a1", Kind: signal.AlertPreemptionStarted, Timestamp: t0}}

	w := f.do(t, http.MethodGet, "/api/alerts?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[[]signal.Alert](t, w)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, 2, f.alerts.limit)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/alerts?limit=0", "").Code)

	f.alerts.err = errors.New("disk on fire")
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodGet, "/api/alerts", "").Code)

	f.server.alerts = nil
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/alerts", "").Code)
}

// readEvent returns the payload of the next SSE data line.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func openStream(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func TestStreamAlerts(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.mux)
	defer ts.Close()

	r := openStream(t, ts.URL+"/api/stream/alerts?kind=claim_expired")
	require.Eventually(t, func() bool { return f.c.AlertHub().Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.c.AlertHub().Publish(signal.Alert{ID: "a1", Kind: signal.AlertPreemptionStarted, Timestamp: t0})
	f.c.AlertHub().Publish(signal.Alert{ID: "a2", Kind: signal.AlertClaimExpired, VehicleID: "pd-11", Timestamp: t0})

	var a signal.Alert
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, r)), &a))
	assert.Equal(t, "a2", a.ID)
	assert.Equal(t, "pd-11", a.VehicleID)
}

func TestStreamSnapshots(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.mux)
	defer ts.Close()

	r := openStream(t, ts.URL+"/api/stream/snapshots?intersection=main-2nd")
	var snap signal.Snapshot
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, r)), &snap))
	assert.Equal(t, signal.IntersectionID("main-2nd"), snap.Intersection)
	assert.True(t, snap.Timestamp.Equal(t0))

	require.Eventually(t, func() bool { return f.c.SnapshotHub().Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.clock.Set(t0.Add(time.Second))
	f.c.TickOnce(t0.Add(time.Second))

	// the controller's own start-up publish may still be in flight
	for snap.Timestamp.Equal(t0) {
		require.NoError(t, json.Unmarshal([]byte(readEvent(t, r)), &snap))
		assert.Equal(t, signal.IntersectionID("main-2nd"), snap.Intersection)
	}
	assert.True(t, snap.Timestamp.Equal(t0.Add(time.Second)))
}

func TestDebugRoutes(t *testing.T) {
	f := newFixture(t)
	f.server.AttachDebugRoutes(f.mux)
	ts := httptest.NewServer(f.mux)
	defer ts.Close()

	// a full cycle on main-1st so the cycle chart has an interval to draw
	for s := 1; s <= 12; s++ {
		now := t0.Add(time.Duration(s) * time.Second)
		f.clock.Set(now)
		f.c.TickOnce(now)
		require.Eventually(t, func() bool {
			snap, _ := f.c.Snapshot("main-1st")
			return snap.Timestamp.Equal(now)
		}, 2*time.Second, 5*time.Millisecond)
	}

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var sb strings.Builder
		_, err = bufio.NewReader(resp.Body).WriteTo(&sb)
		require.NoError(t, err)
		return resp.StatusCode, sb.String()
	}

	code, body := get("/debug/greenwave")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "main-1st")
	assert.Contains(t, body, "greenwave dev")

	code, body = get("/debug/charts/green")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Green durations")

	code, body = get("/debug/charts/density?intersection=main-1st")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Approach density")

	code, body = get("/debug/charts/cycle?intersection=main-1st")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "main-1st, 1 intervals")

	code, _ = get("/debug/charts/density?intersection=nowhere")
	assert.Equal(t, http.StatusNotFound, code)
}
