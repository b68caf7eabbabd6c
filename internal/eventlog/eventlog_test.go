package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/greenwave/internal/signal"
)

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func ev(id signal.IntersectionID, state signal.State, at time.Duration) signal.TransitionEvent {
	return signal.TransitionEvent{Intersection: id, State: state, From: "NS", To: "EW", Cause: signal.CauseScheduled, Timestamp: t0.Add(at)}
}

func TestMemory_AppendAssignsGaplessSeq(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 5; i++ {
		got, err := m.Append(ctx, ev("a", signal.StateGreen, time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), got.Seq)
	}
	got, err := m.Append(ctx, ev("b", signal.StateGreen, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Seq, "partitions number independently")

	// Equal timestamps are allowed; several transitions share one tick.
	_, err = m.Append(ctx, ev("a", signal.StateAllRed, 4*time.Second))
	require.NoError(t, err)

	parts, err := m.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []signal.IntersectionID{"a", "b"}, parts)
}

func TestMemory_RejectsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.Append(ctx, ev("a", signal.StateGreen, 10*time.Second))
	require.NoError(t, err)

	_, err = m.Append(ctx, ev("a", signal.StateClearing, 9*time.Second))
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	_, err = m.Append(ctx, ev("", signal.StateClearing, 11*time.Second))
	assert.ErrorIs(t, err, signal.ErrUnknownReference)

	next, err := m.Append(ctx, ev("a", signal.StateClearing, 11*time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Seq, "rejected events do not consume a sequence number")
}

func TestMemory_Replay(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 10; i++ {
		_, err := m.Append(ctx, ev("a", signal.StateGreen, time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	got, err := m.Replay(ctx, "a", t0.Add(3*time.Second), t0.Add(5*time.Second))
	require.NoError(t, err)
	seqs := make([]uint64, len(got))
	for i, e := range got {
		seqs[i] = e.Seq
	}
	if diff := cmp.Diff([]uint64{4, 5, 6}, seqs); diff != "" {
		t.Errorf("replay seqs (-want +got):\n%s", diff)
	}

	all, err := m.Replay(ctx, "a", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 10)

	none, err := m.Replay(ctx, "zz", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Replay(cancelled, "a", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_Retain(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Retain = 3
	for i := 0; i < 10; i++ {
		_, err := m.Append(ctx, ev("a", signal.StateGreen, time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	got, err := m.Replay(ctx, "a", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(8), got[0].Seq)
	assert.Equal(t, uint64(10), got[2].Seq)
}

func TestMemory_Subscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	stored, err := m.Append(ctx, ev("a", signal.StateGreen, 0))
	require.NoError(t, err)
	select {
	case got := <-ch:
		assert.Equal(t, stored, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive appended event")
	}
}

func TestMemory_ConcurrentPartitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(id signal.IntersectionID) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := m.Append(ctx, ev(id, signal.StateGreen, time.Duration(i)*time.Millisecond)); err != nil {
					t.Errorf("append %s: %v", id, err)
					return
				}
			}
		}(signal.IntersectionID(fmt.Sprintf("i%d", p)))
	}
	wg.Wait()

	parts, _ := m.Partitions(ctx)
	require.Len(t, parts, 8)
	for _, id := range parts {
		got, _ := m.Replay(ctx, id, time.Time{}, time.Time{})
		require.Len(t, got, 100)
		for i, e := range got {
			require.Equal(t, uint64(i+1), e.Seq, "partition %s", id)
		}
	}
}

func TestMirror(t *testing.T) {
	m := NewMemory()
	first := ev("a", signal.StateGreen, 0)
	first.Seq = 41
	require.NoError(t, m.Mirror(first))

	gap := ev("a", signal.StateGreen, time.Second)
	gap.Seq = 43
	assert.ErrorIs(t, m.Mirror(gap), ErrOutOfOrder)

	next := ev("a", signal.StateGreen, time.Second)
	next.Seq = 42
	assert.NoError(t, m.Mirror(next))
}

func TestTee(t *testing.T) {
	ctx := context.Background()
	durable := NewMemory()
	tee := &Tee{Durable: durable, Cache: NewMemory()}
	id, ch := tee.Subscribe()
	defer tee.Unsubscribe(id)

	// History already in the durable log before the cache existed.
	for i := 0; i < 3; i++ {
		_, err := durable.Append(ctx, ev("a", signal.StateGreen, time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	stored, err := tee.Append(ctx, ev("a", signal.StateClearing, 5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), stored.Seq)
	assert.Equal(t, stored, <-ch)

	all, err := tee.Replay(ctx, "a", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = tee.Append(ctx, ev("a", signal.StateGreen, time.Second))
	assert.ErrorIs(t, err, ErrOutOfOrder)
}
