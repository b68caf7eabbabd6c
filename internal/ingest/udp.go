package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// maxDatagram bounds a single detector datagram.
const maxDatagram = 64 * 1024

// UDPListener receives detector datagrams, each holding one or more lines.
type UDPListener struct {
	Address string
	ready   chan net.Addr
}

// NewUDPListener returns a listener for address, e.g. ":7700".
func NewUDPListener(address string) *UDPListener {
	return &UDPListener{Address: address, ready: make(chan net.Addr, 1)}
}

// Ready yields the bound address once the socket is listening.
func (l *UDPListener) Ready() <-chan net.Addr { return l.ready }

// Start listens until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context, h *Handler) error {
	addr, err := net.ResolveUDPAddr("udp", l.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	h.logf("UDP listener started on %s", conn.LocalAddr())
	if l.ready != nil {
		l.ready <- conn.LocalAddr()
	}
	return Serve(ctx, conn, h)
}

// Serve reads datagrams from conn until ctx is cancelled.
func Serve(ctx context.Context, conn net.PacketConn, h *Handler) error {
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		// The deadline lets the loop observe cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logf("UDP read error: %v", err)
			continue
		}
		if failed := h.HandlePayload(buf[:n], time.Time{}); failed > 0 {
			h.logf("%d bad lines in datagram from %v", failed, from)
		}
	}
}
