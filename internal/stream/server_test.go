package stream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/greenwave/internal/feed"
	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/stream/pb"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

type fakeSource struct {
	snaps    []signal.Snapshot
	snapHub  *feed.Hub[signal.Snapshot]
	alertHub *feed.Hub[signal.Alert]
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		snaps: []signal.Snapshot{
			{Intersection: "main-1st", Phase: "NS", State: signal.StateGreen, Status: signal.StatusNormal, Green: []signal.ApproachID{"N", "S"}, Timestamp: t0},
			{Intersection: "main-2nd", Phase: "EW", State: signal.StateGreen, Status: signal.StatusNormal, Green: []signal.ApproachID{"E", "W"}, Timestamp: t0},
		},
		snapHub:  feed.NewHub[signal.Snapshot](8),
		alertHub: feed.NewHub[signal.Alert](8),
	}
}

func (f *fakeSource) Snapshots() []signal.Snapshot             { return f.snaps }
func (f *fakeSource) SnapshotHub() *feed.Hub[signal.Snapshot] { return f.snapHub }
func (f *fakeSource) AlertHub() *feed.Hub[signal.Alert]       { return f.alertHub }

func startFeed(t *testing.T, src Source, cfg Config) (*Client, *Server, context.CancelFunc) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(src, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		conn.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("feed did not stop")
		}
	})
	return NewClient(conn), srv, cancel
}

// waitSubscribers blocks until hub has n subscribers so that a publish is
// not lost to a stream that has not subscribed yet.
func waitSubscribers[T any](t *testing.T, hub *feed.Hub[T], n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamSnapshots_ReplayThenUpdates(t *testing.T) {
	src := newFakeSource()
	client, _, _ := startFeed(t, src, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rx, err := client.StreamSnapshots(ctx, Request{Intersection: "main-1st"})
	require.NoError(t, err)

	first, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, signal.IntersectionID("main-1st"), first.Intersection)
	assert.Equal(t, []signal.ApproachID{"N", "S"}, first.Green)
	assert.True(t, first.Timestamp.Equal(t0))

	waitSubscribers(t, src.snapHub, 1)
	src.snapHub.Publish(signal.Snapshot{Intersection: "main-2nd", Phase: "NS", Timestamp: t0.Add(time.Second)})
	hold := t0.Add(20 * time.Second)
	src.snapHub.Publish(signal.Snapshot{Intersection: "main-1st", Phase: "EW", State: signal.StatePreempted, PhaseElapsed: 1.5, Status: signal.StatusPreempted, HoldUntil: &hold, Timestamp: t0.Add(2 * time.Second)})

	next, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, signal.PhaseID("EW"), next.Phase, "main-2nd update filtered out")
	assert.Equal(t, signal.StatePreempted, next.State)
	assert.Equal(t, 1.5, next.PhaseElapsed)
	require.NotNil(t, next.HoldUntil)
	assert.True(t, next.HoldUntil.Equal(hold))
}

func TestStreamSnapshots_NoReplay(t *testing.T) {
	src := newFakeSource()
	client, _, _ := startFeed(t, src, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rx, err := client.StreamSnapshots(ctx, Request{NoReplay: true})
	require.NoError(t, err)

	waitSubscribers(t, src.snapHub, 1)
	src.snapHub.Publish(signal.Snapshot{Intersection: "main-2nd", Phase: "NS", Timestamp: t0.Add(time.Second)})
	got, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, signal.IntersectionID("main-2nd"), got.Intersection)
	assert.Equal(t, signal.PhaseID("NS"), got.Phase)
	assert.Nil(t, got.HoldUntil)
}

func TestStreamAlerts_FilterByKind(t *testing.T) {
	src := newFakeSource()
	client, srv, _ := startFeed(t, src, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rx, err := client.StreamAlerts(ctx, Request{Kinds: []signal.AlertKind{signal.AlertPreemptionStarted}})
	require.NoError(t, err)

	waitSubscribers(t, src.alertHub, 1)
	src.alertHub.Publish(signal.Alert{ID: "a1", Kind: signal.AlertControllerDegraded, Intersection: "main-2nd", Timestamp: t0})
	src.alertHub.Publish(signal.Alert{ID: "a2", Kind: signal.AlertPreemptionStarted, Intersection: "main-1st", VehicleID: "amb-7", Timestamp: t0})

	got, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a2", got.ID)
	assert.Equal(t, "amb-7", got.VehicleID)

	require.Eventually(t, func() bool {
		clients, sent := srv.Stats()
		return clients == 1 && sent == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStream_RequestErrors(t *testing.T) {
	src := newFakeSource()
	client, _, _ := startFeed(t, src, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rx, err := client.StreamSnapshots(ctx, Request{Intersection: "nowhere"})
	require.NoError(t, err)
	_, err = rx.Recv()
	assert.Equal(t, codes.NotFound, status.Code(err))

	alerts, err := client.StreamAlerts(ctx, Request{Kinds: []signal.AlertKind{"weather"}})
	require.NoError(t, err)
	_, err = alerts.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestStream_MaxClients(t *testing.T) {
	src := newFakeSource()
	client, _, _ := startFeed(t, src, Config{MaxClients: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := client.StreamAlerts(ctx, Request{})
	require.NoError(t, err)
	waitSubscribers(t, src.alertHub, 1)

	second, err := client.StreamAlerts(ctx, Request{})
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	src.alertHub.Publish(signal.Alert{ID: "a1", Kind: signal.AlertClaimExpired, Timestamp: t0})
	got, err := first.Recv()
	require.NoError(t, err)
	assert.Equal(t, signal.AlertClaimExpired, got.Kind)
}

func TestStream_ShutdownEndsStreams(t *testing.T) {
	src := newFakeSource()
	client, _, stop := startFeed(t, src, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rx, err := client.StreamAlerts(ctx, Request{})
	require.NoError(t, err)
	waitSubscribers(t, src.alertHub, 1)

	stop()
	_, err = rx.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestFeedDescriptor(t *testing.T) {
	fd := pb.File_internal_stream_pb_feed_proto
	require.Equal(t, 1, fd.Services().Len())
	svc := fd.Services().Get(0)
	assert.Equal(t, "greenwave.v1.SignalFeed", string(svc.FullName()))
	assert.Equal(t, pb.SignalFeed_ServiceDesc.ServiceName, string(svc.FullName()))

	for i, sd := range pb.SignalFeed_ServiceDesc.Streams {
		m := svc.Methods().Get(i)
		assert.Equal(t, sd.StreamName, string(m.Name()))
		assert.True(t, m.IsStreamingServer())
		assert.Equal(t, "greenwave.v1.StreamRequest", string(m.Input().FullName()))
	}
	snap := (&pb.Snapshot{}).ProtoReflect().Descriptor()
	assert.Equal(t, "hold_until_unix_nanos", string(snap.Fields().ByNumber(7).Name()))
}

func TestSnapshotConversion(t *testing.T) {
	hold := t0.Add(20 * time.Second)
	want := signal.Snapshot{
		Intersection: "main-1st", Phase: "EW", NextPhase: "NS", State: signal.StatePreempted,
		PhaseElapsed: 2.5, Status: signal.StatusPreempted, HoldUntil: &hold,
		Green: []signal.ApproachID{"E", "W"}, Timestamp: t0,
	}
	assert.Equal(t, want, snapshotFromPB(snapshotToPB(want)))

	a := signal.Alert{ID: "a1", Kind: signal.AlertClaimExpired, VehicleID: "amb-7", Message: "eta passed", Timestamp: t0}
	assert.Equal(t, a, alertFromPB(alertToPB(a)))
}
