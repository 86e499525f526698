package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory stand-in for the list commands RedisQueue uses.
type fakeRedis struct {
	mu     sync.Mutex
	lists  map[string][]string
	pushed chan struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		lists:  make(map[string][]string),
		pushed: make(chan struct{}, 1),
	}
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	for _, v := range values {
		switch v := v.(type) {
		case []byte:
			f.lists[key] = append(f.lists[key], string(v))
		case string:
			f.lists[key] = append(f.lists[key], v)
		}
	}
	n := len(f.lists[key])
	f.mu.Unlock()

	select {
	case f.pushed <- struct{}{}:
	default:
	}
	return redis.NewIntResult(int64(n), nil)
}

func (f *fakeRedis) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	deadline := time.After(timeout)
	for {
		for _, key := range keys {
			if v, ok := f.pop(key); ok {
				return redis.NewStringSliceResult([]string{key, v}, nil)
			}
		}
		select {
		case <-ctx.Done():
			return redis.NewStringSliceResult(nil, ctx.Err())
		case <-deadline:
			return redis.NewStringSliceResult(nil, redis.Nil)
		case <-f.pushed:
		}
	}
}

func (f *fakeRedis) LPop(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := f.pop(key); ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) pop(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.lists[key]
	if len(list) == 0 {
		return "", false
	}
	f.lists[key] = list[1:]
	return list[0], true
}

func TestRedisQueue_ProduceConsume(t *testing.T) {
	client := newFakeRedis()
	q := NewRedisQueue(client, "liveness", 20*time.Millisecond, nil)
	ctx := context.Background()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, q.Produce(ctx, Event{Node: "a", Alive: false, At: at}))
	require.NoError(t, q.Produce(ctx, Event{Node: "b", Alive: true, At: at}))

	batch, err := q.Consume(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Node)
	assert.False(t, batch[0].Alive)
	assert.True(t, at.Equal(batch[0].At))
	assert.Equal(t, "b", batch[1].Node)
	assert.True(t, batch[1].Alive)
	assert.Equal(t, 1, batch.Dead())
}

func TestRedisQueue_WaitsAcrossPopTimeouts(t *testing.T) {
	client := newFakeRedis()
	q := NewRedisQueue(client, "liveness", 5*time.Millisecond, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = q.Produce(context.Background(), Event{Node: "late", Alive: true})
	}()

	batch, err := q.Consume(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "late", batch[0].Node)
}

func TestRedisQueue_DropsMalformed(t *testing.T) {
	client := newFakeRedis()
	q := NewRedisQueue(client, "liveness", 20*time.Millisecond, nil)
	ctx := context.Background()

	client.RPush(ctx, "liveness", "not json")
	require.NoError(t, q.Produce(ctx, Event{Node: "a"}))
	client.RPush(ctx, "liveness", "{broken")

	batch, err := q.Consume(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "a", batch[0].Node)
}

func TestRedisQueue_ConsumeHonoursCancel(t *testing.T) {
	q := NewRedisQueue(newFakeRedis(), "liveness", time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Consume(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestNewRedisClient_NoAddrs(t *testing.T) {
	_, err := NewRedisClient(context.Background(), nil, "")
	assert.Error(t, err)
}
