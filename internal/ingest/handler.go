package ingest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/signal"
)

// Sink receives decoded detector messages.
type Sink interface {
	SubmitDensity(signal.DensitySample) error
	SubmitClaim(signal.EmergencyClaim) (signal.EmergencyClaim, error)
}

// Stats counts handled messages.
type Stats struct {
	Densities uint64 `json:"densities"`
	Claims    uint64 `json:"claims"`
	Rejected  uint64 `json:"rejected"`
}

// Handler decodes lines and forwards them to a Sink. It is safe for
// concurrent use by several transports.
type Handler struct {
	sink    Sink
	decoder Decoder
	now     func() time.Time
	logf    func(format string, v ...interface{})

	densities atomic.Uint64
	claims    atomic.Uint64
	rejected  atomic.Uint64
}

// NewHandler returns a handler feeding sink. now stamps messages that carry
// no timestamp of their own; nil uses the wall clock.
func NewHandler(sink Sink, decoder Decoder, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{sink: sink, decoder: decoder, now: now, logf: monitoring.Component("Ingest")}
}

// HandleLine decodes and submits one message.
func (h *Handler) HandleLine(line []byte, received time.Time) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	if received.IsZero() {
		received = h.now()
	}
	sample, claim, err := h.decoder.Decode(line, received)
	if err == nil {
		switch {
		case sample != nil:
			err = h.sink.SubmitDensity(*sample)
			if err == nil {
				h.densities.Add(1)
			}
		case claim != nil:
			var stored signal.EmergencyClaim
			stored, err = h.sink.SubmitClaim(*claim)
			if err == nil {
				h.claims.Add(1)
				h.logf("claim %s: vehicle %s (%s) on %v, eta %s", stored.ID, stored.VehicleID, stored.Priority, stored.Route, stored.ETA.Format(time.RFC3339))
			}
		}
	}
	if err != nil {
		h.rejected.Add(1)
		h.logf("rejected message: %v", err)
	}
	return err
}

// HandlePayload handles every line of a datagram or captured payload and
// returns the number of lines rejected.
func (h *Handler) HandlePayload(p []byte, received time.Time) int {
	failed := 0
	for _, line := range bytes.Split(p, []byte("\n")) {
		if err := h.HandleLine(line, received); err != nil {
			failed++
		}
	}
	return failed
}

// Stats reports the messages handled so far.
func (h *Handler) Stats() Stats {
	return Stats{Densities: h.densities.Load(), Claims: h.claims.Load(), Rejected: h.rejected.Load()}
}

// ReadLines handles lines from r until EOF or ctx is cancelled. Reading
// happens on its own goroutine so that a blocked reader does not delay
// cancellation.
func (h *Handler) ReadLines(ctx context.Context, r io.Reader) error {
	scan := bufio.NewScanner(r)
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scan.Scan() {
			line := append([]byte(nil), scan.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-scanErr:
			return err
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			h.HandleLine(line, time.Time{})
		}
	}
}
