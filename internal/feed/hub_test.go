package feed

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	h := NewHub[int](4)
	id1, ch1 := h.Subscribe()
	_, ch2 := h.Subscribe()
	require.NotEqual(t, "", id1)
	assert.Equal(t, 2, h.Subscribers())

	assert.Equal(t, 0, h.Publish(7))
	assert.Equal(t, 7, <-ch1)
	assert.Equal(t, 7, <-ch2)

	h.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel is closed")
	assert.Equal(t, 1, h.Subscribers())

	h.Unsubscribe("missing")
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub[string](1)
	_, ch := h.Subscribe()

	assert.Equal(t, 0, h.Publish("a"))
	assert.Equal(t, 1, h.Publish("b"))
	assert.Equal(t, uint64(1), h.Dropped())
	assert.Equal(t, "a", <-ch)
}

func TestHub_Close(t *testing.T) {
	h := NewHub[int](0)
	_, ch := h.Subscribe()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Publish(1))

	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscriptions after Close are closed immediately")
}

func TestHub_Concurrent(t *testing.T) {
	h := NewHub[int](1024)
	_, ch := h.Subscribe()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Publish(i)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 400)
}
