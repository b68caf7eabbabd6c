package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/greenwave/internal/feed"
	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/stream/pb"
)

var logf = monitoring.Component("gRPC")

// Source is the part of the coordinator the feed streams from.
type Source interface {
	Snapshots() []signal.Snapshot
	SnapshotHub() *feed.Hub[signal.Snapshot]
	AlertHub() *feed.Hub[signal.Alert]
}

// Config holds the gRPC listener settings.
type Config struct {
	// ListenAddr is the TCP address the feed binds to.
	ListenAddr string

	// MaxClients caps concurrent streams; further streams get
	// ResourceExhausted. Zero means no limit.
	MaxClients int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "localhost:50061",
		MaxClients: 16,
	}
}

var _ pb.SignalFeedServer = (*Server)(nil)

// Server implements the SignalFeed service.
type Server struct {
	pb.UnimplementedSignalFeedServer

	cfg Config
	src Source

	clients atomic.Int32
	sent    atomic.Uint64

	stopOnce sync.Once
	stopping chan struct{}
}

// NewServer creates a feed over src.
func NewServer(src Source, cfg Config) *Server {
	return &Server{cfg: cfg, src: src, stopping: make(chan struct{})}
}

// Register adds the SignalFeed service to g.
func (s *Server) Register(g *grpc.Server) {
	pb.RegisterSignalFeedServer(g, s)
}

// ListenAndServe binds cfg.ListenAddr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled. Open streams are ended with
// Unavailable before the server stops.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g := grpc.NewServer()
	s.Register(g)

	errc := make(chan error, 1)
	go func() {
		logf("feed listening on %s", lis.Addr())
		errc <- g.Serve(lis)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.stopOnce.Do(func() { close(s.stopping) })
		g.GracefulStop()
		<-errc
		logf("feed stopped after %d messages", s.sent.Load())
		return nil
	}
}

// Stats reports the number of open streams and messages sent.
func (s *Server) Stats() (clients int32, sent uint64) {
	return s.clients.Load(), s.sent.Load()
}

// StreamSnapshots sends the current snapshot of every selected
// intersection (unless the request skips replay) and then every update.
func (s *Server) StreamSnapshots(req *pb.StreamRequest, stream grpc.ServerStreamingServer[pb.Snapshot]) error {
	f, err := s.parseFilter(req)
	if err != nil {
		return err
	}
	release, err := s.admit()
	if err != nil {
		return err
	}
	defer release()

	hub := s.src.SnapshotHub()
	id, ch := hub.Subscribe()
	defer hub.Unsubscribe(id)

	logf("snapshot stream %s opened (intersection=%q replay=%v)", id, f.intersection, f.replay)
	keep := func(snap signal.Snapshot) bool { return f.matches(snap.Intersection) }
	if f.replay {
		for _, snap := range s.src.Snapshots() {
			if !keep(snap) {
				continue
			}
			if err := send(s, stream, snapshotToPB(snap)); err != nil {
				return err
			}
		}
	}
	return pump(s, stream, ch, keep, snapshotToPB)
}

// StreamAlerts sends alerts as they are raised.
func (s *Server) StreamAlerts(req *pb.StreamRequest, stream grpc.ServerStreamingServer[pb.Alert]) error {
	f, err := s.parseFilter(req)
	if err != nil {
		return err
	}
	release, err := s.admit()
	if err != nil {
		return err
	}
	defer release()

	hub := s.src.AlertHub()
	id, ch := hub.Subscribe()
	defer hub.Unsubscribe(id)

	logf("alert stream %s opened (intersection=%q kinds=%v)", id, f.intersection, f.kinds)
	return pump(s, stream, ch, func(a signal.Alert) bool {
		if a.Intersection != "" && !f.matches(a.Intersection) {
			return false
		}
		return f.wantsKind(a.Kind)
	}, alertToPB)
}

func (s *Server) admit() (release func(), err error) {
	n := s.clients.Add(1)
	if s.cfg.MaxClients > 0 && int(n) > s.cfg.MaxClients {
		s.clients.Add(-1)
		return nil, status.Errorf(codes.ResourceExhausted, "feed already has %d clients", s.cfg.MaxClients)
	}
	return func() { s.clients.Add(-1) }, nil
}

func send[M any](s *Server, stream grpc.ServerStreamingServer[M], msg *M) error {
	if err := stream.Send(msg); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

func pump[T, M any](s *Server, stream grpc.ServerStreamingServer[M], ch <-chan T, keep func(T) bool, encode func(T) *M) error {
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-s.stopping:
			return status.Error(codes.Unavailable, "server shutting down")
		case v, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "feed closed")
			}
			if !keep(v) {
				continue
			}
			if err := send(s, stream, encode(v)); err != nil {
				return err
			}
		}
	}
}

var alertKinds = map[signal.AlertKind]bool{
	signal.AlertPreemptionStarted:   true,
	signal.AlertPreemptionEnded:     true,
	signal.AlertControllerDegraded:  true,
	signal.AlertControllerRecovered: true,
	signal.AlertClaimExpired:        true,
}

type filter struct {
	intersection signal.IntersectionID
	kinds        map[signal.AlertKind]bool
	replay       bool
}

func (f filter) matches(id signal.IntersectionID) bool {
	return f.intersection == "" || f.intersection == id
}

func (f filter) wantsKind(k signal.AlertKind) bool {
	return len(f.kinds) == 0 || f.kinds[k]
}

func (s *Server) parseFilter(req *pb.StreamRequest) (filter, error) {
	f := filter{
		intersection: signal.IntersectionID(req.GetIntersectionId()),
		replay:       !req.GetSkipReplay(),
	}
	if f.intersection != "" {
		known := false
		for _, snap := range s.src.Snapshots() {
			if snap.Intersection == f.intersection {
				known = true
				break
			}
		}
		if !known {
			return f, status.Errorf(codes.NotFound, "unknown intersection %q", f.intersection)
		}
	}

	if kinds := req.GetKinds(); len(kinds) > 0 {
		f.kinds = make(map[signal.AlertKind]bool, len(kinds))
		for _, k := range kinds {
			if !alertKinds[signal.AlertKind(k)] {
				return f, status.Errorf(codes.InvalidArgument, "unknown alert kind %q", k)
			}
			f.kinds[signal.AlertKind(k)] = true
		}
	}
	return f, nil
}
