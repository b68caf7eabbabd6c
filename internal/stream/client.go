package stream

import (
	"context"

	"google.golang.org/grpc"

	"github.com/banshee-data/greenwave/internal/signal"
	"github.com/banshee-data/greenwave/internal/stream/pb"
)

// Request selects what a stream carries.
type Request struct {
	Intersection signal.IntersectionID
	Kinds        []signal.AlertKind
	// NoReplay skips the initial snapshots.
	NoReplay bool
}

func (r Request) toPB() *pb.StreamRequest {
	req := &pb.StreamRequest{
		IntersectionId: string(r.Intersection),
		SkipReplay:     r.NoReplay,
	}
	for _, k := range r.Kinds {
		req.Kinds = append(req.Kinds, string(k))
	}
	return req
}

// Client consumes a SignalFeed.
type Client struct {
	feed pb.SignalFeedClient
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{feed: pb.NewSignalFeedClient(cc)}
}

// Receiver yields decoded messages from a server stream.
type Receiver[T, M any] struct {
	stream grpc.ServerStreamingClient[M]
	decode func(*M) T
}

// Recv blocks for the next message.
func (r *Receiver[T, M]) Recv() (T, error) {
	msg, err := r.stream.Recv()
	if err != nil {
		var zero T
		return zero, err
	}
	return r.decode(msg), nil
}

func (c *Client) StreamSnapshots(ctx context.Context, req Request) (*Receiver[signal.Snapshot, pb.Snapshot], error) {
	stream, err := c.feed.StreamSnapshots(ctx, req.toPB())
	if err != nil {
		return nil, err
	}
	return &Receiver[signal.Snapshot, pb.Snapshot]{stream: stream, decode: snapshotFromPB}, nil
}

func (c *Client) StreamAlerts(ctx context.Context, req Request) (*Receiver[signal.Alert, pb.Alert], error) {
	stream, err := c.feed.StreamAlerts(ctx, req.toPB())
	if err != nil {
		return nil, err
	}
	return &Receiver[signal.Alert, pb.Alert]{stream: stream, decode: alertFromPB}, nil
}
