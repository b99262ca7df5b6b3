package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	var mu sync.Mutex
	var got []Message

	unsub, err := bus.Subscribe(context.Background(), "doc-1", func(ctx context.Context, msg Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, bus.Publish(context.Background(), "doc-1", Message{DocumentID: "doc-1", Version: 1}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBusDoesNotCrossDeliverTopics(t *testing.T) {
	bus := NewMemoryBus()
	var mu sync.Mutex
	got := 0

	unsub, err := bus.Subscribe(context.Background(), "doc-1", func(ctx context.Context, msg Message) {
		mu.Lock()
		got++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, bus.Publish(context.Background(), "doc-2", Message{DocumentID: "doc-2"}))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, got)
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	var mu sync.Mutex
	got := 0

	unsub, err := bus.Subscribe(context.Background(), "doc-1", func(ctx context.Context, msg Message) {
		mu.Lock()
		got++
		mu.Unlock()
	})
	require.NoError(t, err)
	unsub()

	require.NoError(t, bus.Publish(context.Background(), "doc-1", Message{DocumentID: "doc-1"}))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, got)
}
