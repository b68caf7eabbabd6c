package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Replay feeds a recorded detector capture through a handler. Only UDP
// payloads addressed to Port are used; a zero Port accepts every UDP
// packet. With Speed > 0 packets are paced by their capture timestamps
// (1 is real time); otherwise the file is read as fast as possible.
type Replay struct {
	Port  int
	Speed float64
	// RebaseTo, when set, shifts capture time so the first packet is
	// received at RebaseTo(). Messages without their own timestamp are
	// stamped with the shifted capture time.
	RebaseTo func() time.Time
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets  int
	Payloads int
	Rejected int
}

// ReplayFile opens a pcap file and replays it.
func (r Replay) ReplayFile(ctx context.Context, path string, h *Handler) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return r.Run(ctx, f, h)
}

// Run replays a pcap stream.
func (r Replay) Run(ctx context.Context, in io.Reader, h *Handler) (ReplayStats, error) {
	var st ReplayStats
	reader, err := pcapgo.NewReader(in)
	if err != nil {
		return st, fmt.Errorf("read pcap header: %w", err)
	}
	source := gopacket.NewPacketSource(reader, reader.LinkType())

	var first, base time.Time
	started := time.Now()
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			h.logf("pcap replay complete: %d packets, %d payloads, %d rejected lines", st.Packets, st.Payloads, st.Rejected)
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("pcap packet %d: %w", st.Packets+1, err)
		}
		st.Packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if r.Port > 0 && int(udp.DstPort) != r.Port {
			continue
		}

		captured := packet.Metadata().Timestamp
		if first.IsZero() {
			first = captured
			if r.RebaseTo != nil {
				base = r.RebaseTo()
			}
		}
		if r.Speed > 0 {
			due := started.Add(time.Duration(float64(captured.Sub(first)) / r.Speed))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return st, ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}

		received := captured
		if !base.IsZero() {
			received = base.Add(captured.Sub(first))
		}
		st.Payloads++
		st.Rejected += h.HandlePayload(udp.Payload, received)
	}
}
