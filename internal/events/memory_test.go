package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_Dead(t *testing.T) {
	b := Batch{
		{Node: "a", Alive: false},
		{Node: "b", Alive: true},
		{Node: "c", Alive: false},
	}
	assert.Equal(t, 2, b.Dead())
	assert.Equal(t, 0, Batch(nil).Dead())
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "a->dead", Event{Node: "a"}.String())
	assert.Equal(t, "b->alive", Event{Node: "b", Alive: true}.String())
}

func TestMemoryQueue_DrainsAllInOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Produce(ctx, Event{Node: "a"}))
	require.NoError(t, q.Produce(ctx, Event{Node: "b", Alive: true}))
	require.NoError(t, q.Produce(ctx, Event{Node: "c"}))

	batch, err := q.Consume(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "a", batch[0].Node)
	assert.Equal(t, "b", batch[1].Node)
	assert.Equal(t, "c", batch[2].Node)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_BlocksUntilProduce(t *testing.T) {
	q := NewMemoryQueue()

	done := make(chan Batch, 1)
	go func() {
		batch, err := q.Consume(context.Background())
		if err == nil {
			done <- batch
		}
	}()

	select {
	case <-done:
		t.Fatal("Consume returned on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Produce(context.Background(), Event{Node: "a", Alive: true}))

	select {
	case batch := <-done:
		require.Len(t, batch, 1)
		assert.Equal(t, "a", batch[0].Node)
	case <-time.After(time.Second):
		t.Fatal("Consume did not wake after Produce")
	}
}

func TestMemoryQueue_ConsumeHonoursCancel(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Consume(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = q.Produce(ctx, Event{Node: "n"})
			}
		}()
	}
	wg.Wait()

	total := 0
	for total < 400 {
		batch, err := q.Consume(ctx)
		require.NoError(t, err)
		total += len(batch)
	}
	assert.Equal(t, 400, total)
}
