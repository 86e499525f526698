package node

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"kvring/internal/events"
	"kvring/internal/logging"
	"kvring/internal/storage"
)

// LivenessConfig controls RunLiveness. Each sleep is Unit * rand[0, Slots).
type LivenessConfig struct {
	Unit  time.Duration
	Slots int
}

// Node is a single simulated storage node.
type Node struct {
	name     string
	alive    atomic.Bool
	store    *storage.MemoryStore
	producer events.Producer
	logger   logrus.FieldLogger

	// flipMu keeps flips and their events in the same order.
	flipMu sync.Mutex

	randMu sync.Mutex
	intn   func(n int) int
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the node logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(n *Node) {
		n.logger = l
	}
}

// WithRand makes liveness sleeps draw from r.
func WithRand(r *rand.Rand) Option {
	return func(n *Node) {
		n.intn = r.Intn
	}
}

// New creates an alive node with an empty container.
func New(name string, producer events.Producer, opts ...Option) *Node {
	n := &Node{
		name:     name,
		store:    storage.NewMemoryStore(),
		producer: producer,
		logger:   logging.Discard(),
		intn:     rand.Intn,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.WithField("node", name)
	n.alive.Store(true)
	return n
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// Alive reports the node's current liveness flag.
func (n *Node) Alive() bool {
	return n.alive.Load()
}

// Get reads a key. Returns storage.ErrKeyNotFound if absent.
func (n *Node) Get(key string) (string, error) {
	return n.store.Get(key)
}

// Put writes a key.
func (n *Node) Put(key, value string) {
	n.store.Put(key, value)
}

// Delete removes a key. Returns storage.ErrKeyNotFound if absent.
func (n *Node) Delete(key string) error {
	return n.store.Delete(key)
}

// Len returns the number of keys held.
func (n *Node) Len() int {
	return n.store.Len()
}

// Keys returns the held keys in sorted order.
func (n *Node) Keys() []string {
	return n.store.Keys()
}

// MoveOut dumps and clears the container.
func (n *Node) MoveOut() map[string]string {
	return n.store.Drain()
}

// MoveIn merges entries into the container.
func (n *Node) MoveIn(entries map[string]string) {
	n.store.Merge(entries)
}

// Flip toggles the alive flag and reports the new value. It returns the
// producer's error; the flag stays flipped either way.
func (n *Node) Flip(ctx context.Context) (bool, error) {
	n.flipMu.Lock()
	defer n.flipMu.Unlock()

	alive := !n.alive.Load()
	n.alive.Store(alive)

	if alive {
		n.logger.Info("node scaling up")
	} else {
		n.logger.Info("node scaling down")
	}

	err := n.producer.Produce(ctx, events.Event{
		Node:  n.name,
		Alive: alive,
		At:    time.Now(),
	})
	return alive, err
}

// RunLiveness flips the node after each random sleep until ctx is done.
func (n *Node) RunLiveness(ctx context.Context, cfg LivenessConfig) {
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}

	n.logger.WithFields(logrus.Fields{
		"unit":  cfg.Unit,
		"slots": cfg.Slots,
	}).Debug("liveness loop started")
	defer n.logger.Debug("liveness loop stopped")

	for {
		timer := time.NewTimer(cfg.Unit * time.Duration(n.randSlot(cfg.Slots)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := n.Flip(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.WithError(err).Warn("failed to report liveness change")
		}
	}
}

func (n *Node) randSlot(slots int) int {
	n.randMu.Lock()
	defer n.randMu.Unlock()
	return n.intn(slots)
}
