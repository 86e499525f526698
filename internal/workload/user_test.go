package workload

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kvring/internal/logging"
	"kvring/internal/storage"
)

type recordingClient struct {
	mu    sync.Mutex
	store *storage.MemoryStore
	ops   map[string]int
	keys  map[string]bool
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		store: storage.NewMemoryStore(),
		ops:   make(map[string]int),
		keys:  make(map[string]bool),
	}
}

func (c *recordingClient) record(op, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops[op]++
	c.keys[key] = true
}

func (c *recordingClient) Put(key, value string) {
	c.record("put", key)
	c.store.Put(key, value)
}

func (c *recordingClient) Get(key string) (string, error) {
	c.record("get", key)
	return c.store.Get(key)
}

func (c *recordingClient) Remove(key string) error {
	c.record("remove", key)
	return c.store.Delete(key)
}

func TestUser_StepCoversAllOperations(t *testing.T) {
	client := newRecordingClient()
	u := &User{Name: "user1", Keys: 5, Values: 5}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		u.step(rng, client, logging.Discard())
	}

	assert.Greater(t, client.ops["put"], 0)
	assert.Greater(t, client.ops["get"], 0)
	assert.Greater(t, client.ops["remove"], 0)
	assert.LessOrEqual(t, len(client.keys), 5)
	for key := range client.keys {
		assert.True(t, strings.HasPrefix(key, "user1-key-"), key)
	}
	for _, key := range client.store.Keys() {
		value, err := client.store.Get(key)
		assert.NoError(t, err)
		assert.True(t, strings.HasPrefix(value, "user1-value-"), value)
	}
}

func TestUser_RunStopsOnCancel(t *testing.T) {
	client := newRecordingClient()
	u := &User{Name: "user2", Keys: 3, Values: 3, Interval: time.Millisecond, Rand: rand.New(rand.NewSource(1))}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		u.Run(ctx, client)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.ops["put"]+client.ops["get"]+client.ops["remove"] >= 10
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
