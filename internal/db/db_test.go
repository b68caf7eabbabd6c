package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave/internal/eventlog"
	"github.com/banshee-data/greenwave/internal/signal"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var synchronous int
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous, "NORMAL")
}

func TestEventStore_AppendReplay(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newTestDB(t))

	in := []signal.TransitionEvent{
		{Intersection: "main-1st", State: signal.StateGreen, To: "NS", Cause: signal.CauseScheduled, Timestamp: t0},
		{Intersection: "main-1st", State: signal.StatePreempted, From: "NS", To: "EW", Cause: signal.CausePreempted, PlanID: "plan-1", Timestamp: t0.Add(3 * time.Second)},
		{Intersection: "main-2nd", State: signal.StateGreen, To: "NS", Cause: signal.CauseScheduled, Timestamp: t0},
		{Intersection: "main-1st", State: signal.StateClearing, From: "EW", To: "NS", Cause: signal.CauseScheduled, Timestamp: t0.Add(40 * time.Second)},
	}
	var stored []signal.TransitionEvent
	for _, ev := range in {
		got, err := store.Append(ctx, ev)
		require.NoError(t, err)
		stored = append(stored, got)
	}
	assert.Equal(t, []uint64{1, 2, 1, 3}, []uint64{stored[0].Seq, stored[1].Seq, stored[2].Seq, stored[3].Seq})

	all, err := store.Replay(ctx, "main-1st", time.Time{}, time.Time{})
	require.NoError(t, err)
	want := []signal.TransitionEvent{stored[0], stored[1], stored[3]}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Errorf("replay (-want +got):\n%s", diff)
	}

	window, err := store.Replay(ctx, "main-1st", t0.Add(time.Second), t0.Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "plan-1", window[0].PlanID)

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []signal.IntersectionID{"main-1st", "main-2nd"}, parts)
}

func TestEventStore_RejectsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newTestDB(t))

	_, err := store.Append(ctx, signal.TransitionEvent{Intersection: "a", State: signal.StateGreen, Cause: signal.CauseScheduled, Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	_, err = store.Append(ctx, signal.TransitionEvent{Intersection: "a", State: signal.StateAllRed, Cause: signal.CauseScheduled, Timestamp: t0})
	assert.ErrorIs(t, err, eventlog.ErrOutOfOrder)

	next, err := store.Append(ctx, signal.TransitionEvent{Intersection: "a", State: signal.StateAllRed, Cause: signal.CauseScheduled, Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Seq)
}

func TestEventStore_TableIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewEventStore(db)
	_, err := store.Append(ctx, signal.TransitionEvent{Intersection: "a", State: signal.StateGreen, Cause: signal.CauseScheduled, Timestamp: t0})
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE transition_events SET state = 'all_red'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = db.Exec(`DELETE FROM transition_events`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	got, err := store.Replay(ctx, "a", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, signal.StateGreen, got[0].State)
}

func TestEventStore_BehindTee(t *testing.T) {
	ctx := context.Background()
	tee := &eventlog.Tee{Durable: NewEventStore(newTestDB(t)), Cache: eventlog.NewMemory()}
	id, ch := tee.Subscribe()
	defer tee.Unsubscribe(id)

	stored, err := tee.Append(ctx, signal.TransitionEvent{Intersection: "a", State: signal.StateGreen, Cause: signal.CauseScheduled, Timestamp: t0})
	require.NoError(t, err)
	select {
	case got := <-ch:
		assert.Equal(t, stored, got)
	case <-time.After(time.Second):
		t.Fatal("tee subscriber not notified")
	}
}

func TestAlerts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a1 := signal.Alert{ID: "a1", Kind: signal.AlertPreemptionStarted, Intersection: "main-1st", VehicleID: "amb-7", PlanID: "p1", Message: "started", Timestamp: t0}
	a2 := signal.Alert{ID: "a2", Kind: signal.AlertPreemptionEnded, Intersection: "main-1st", Message: "ended", Timestamp: t0.Add(time.Minute)}
	require.NoError(t, db.RecordAlert(ctx, a1))
	require.NoError(t, db.RecordAlert(ctx, a2))
	require.NoError(t, db.RecordAlert(ctx, a1), "duplicate ids are ignored")

	got, err := db.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	if diff := cmp.Diff([]signal.Alert{a2, a1}, got); diff != "" {
		t.Errorf("alerts (-want +got):\n%s", diff)
	}
}

func TestRecordAlerts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	ch := make(chan signal.Alert, 2)
	ch <- signal.Alert{ID: "a1", Kind: signal.AlertClaimExpired, VehicleID: "amb-1", Message: "expired", Timestamp: t0}
	ch <- signal.Alert{ID: "a2", Kind: signal.AlertControllerDegraded, Intersection: "main-2nd", Message: "stalled", Timestamp: t0.Add(time.Second)}
	close(ch)

	require.NoError(t, db.RecordAlerts(ctx, ch))
	got, err := db.RecentAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, signal.IntersectionID("main-2nd"), got[0].Intersection)
}

func TestMigrations(t *testing.T) {
	fsys, err := MigrationsFS()
	require.NoError(t, err)
	latest, err := GetLatestMigrationVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	db := newTestDB(t)
	version, dirty, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown(fsys))
	version, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	_, err = db.Exec(`SELECT COUNT(*) FROM alerts`)
	assert.Error(t, err, "alerts table dropped")

	require.NoError(t, db.MigrateUp(fsys))
	st, err := db.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.Equal(t, MigrationStatus{CurrentVersion: 2, LatestVersion: 2, TableExists: true}, st)

	assert.Error(t, db.BaselineAtVersion(1), "cannot baseline a migrated database")
}

func TestBaselineFreshDatabase(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.BaselineAtVersion(1))
	fsys, _ := MigrationsFS()
	version, _, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")
	assert.Contains(t, out.String(), "2 migration(s) outstanding")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2 (dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "1"}, path, &out))
	assert.Contains(t, out.String(), "Migrated to version 1")

	out.Reset()
	assert.Error(t, RunMigrateCommand([]string{"force", "1"}, path, &out), "force needs --yes")
	require.NoError(t, RunMigrateCommand([]string{"force", "1", "--yes"}, path, &out))

	assert.Error(t, RunMigrateCommand([]string{"version", "x"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"bogus"}, path, &out))
	assert.Error(t, RunMigrateCommand(nil, path, &out))

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "Database Migration Commands")
}

func TestServeBackup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := NewEventStore(db).Append(ctx, signal.TransitionEvent{Intersection: "a", State: signal.StateGreen, Cause: signal.CauseScheduled, Timestamp: t0})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".db.gz")

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("SQLite format 3")))
}
