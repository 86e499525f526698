package router

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"kvring/internal/config"
	"kvring/internal/events"
	"kvring/internal/health"
	"kvring/internal/logging"
	"kvring/internal/node"
	"kvring/internal/rebalance"
	"kvring/internal/ring"
	"kvring/internal/storage"
)

// ErrKeyNotFound is returned by Get and Remove when the owning node lacks the key.
var ErrKeyNotFound = storage.ErrKeyNotFound

type options struct {
	positioner ring.Positioner
	logger     logrus.FieldLogger
	queue      events.Queue
	health     *health.Registry
}

// Option configures a Router.
type Option func(*options)

// WithPositioner replaces the configured hash for both nodes and keys.
func WithPositioner(p ring.Positioner) Option {
	return func(o *options) {
		o.positioner = p
	}
}

// WithLogger sets the logger shared by the router, its nodes and the engine.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithQueue sets the liveness event queue. The default is an in-memory queue.
func WithQueue(q events.Queue) Option {
	return func(o *options) {
		o.queue = q
	}
}

// WithHealth mirrors ring membership into reg.
func WithHealth(reg *health.Registry) Option {
	return func(o *options) {
		o.health = reg
	}
}

// Router is the load balancer in front of the storage nodes.
type Router struct {
	positioner ring.Positioner
	state      *ring.State
	names      []string
	nodes      map[string]*node.Node
	members    map[string]rebalance.Member
	positions  map[string]int
	engine     *rebalance.Engine
	logger     logrus.FieldLogger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds the node universe, publishes the full ring and starts the
// rebalance engine and, when enabled, one liveness loop per node.
// It fails with ring.ErrHashUnavailable if the hash cannot be constructed.
func New(cfg config.Config, opts ...Option) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.positioner == nil {
		h, err := ring.NewHasher(cfg.Hash.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("router: %w", err)
		}
		o.positioner = h
	}
	if o.queue == nil {
		o.queue = events.NewMemoryQueue()
	}

	names := cfg.NodeNames()
	r := &Router{
		positioner: o.positioner,
		names:      names,
		nodes:      make(map[string]*node.Node, len(names)),
		members:    make(map[string]rebalance.Member, len(names)),
		positions:  make(map[string]int, len(names)),
		logger:     o.logger,
	}

	entries := make([]ring.Entry, 0, len(names))
	for i, name := range names {
		nodeOpts := []node.Option{node.WithLogger(o.logger)}
		if cfg.Liveness.Seed != 0 {
			nodeOpts = append(nodeOpts, node.WithRand(rand.New(rand.NewSource(cfg.Liveness.Seed+int64(i)))))
		}
		n := node.New(name, o.queue, nodeOpts...)
		pos := o.positioner.Position(name, len(names))

		r.nodes[name] = n
		r.members[name] = n
		r.positions[name] = pos
		entries = append(entries, ring.Entry{Name: name, Position: pos})
	}
	r.state = ring.NewState(ring.New(entries))

	var sink rebalance.StatusSink
	if o.health != nil {
		sink = o.health
	}
	r.engine = rebalance.New(rebalance.Config{
		State:     r.state,
		Members:   r.members,
		Positions: r.positions,
		Consumer:  o.queue,
		Recovery:  cfg.Rebalance.RecoverySource,
		Sink:      sink,
		Logger:    o.logger,
	})

	r.logger.WithFields(logrus.Fields{
		"nodes": len(names),
		"ring":  r.state.Load().String(),
	}).Info("router started")

	r.start(cfg.Liveness)
	return r, nil
}

func (r *Router) start(liveness config.Liveness) {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.engine.Run(r.ctx)
	}()

	if !liveness.Enabled {
		return
	}
	lcfg := node.LivenessConfig{
		Unit:  liveness.Unit.Duration,
		Slots: liveness.Slots,
	}
	for _, name := range r.names {
		n := r.nodes[name]
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			n.RunLiveness(r.ctx, lcfg)
		}()
	}
}

// route resolves key to its owning node on the current ring snapshot.
func (r *Router) route(key string) *node.Node {
	snap := r.state.Load()
	owner, _ := snap.Owner(r.positioner.Position(key, snap.Len()))
	return r.nodes[owner.Name]
}

// Put writes key on its owning node.
func (r *Router) Put(key, value string) {
	r.route(key).Put(key, value)
}

// Get reads key from its owning node.
func (r *Router) Get(key string) (string, error) {
	n := r.route(key)
	value, err := n.Get(key)
	if err != nil {
		return "", fmt.Errorf("get %q from %s: %w", key, n.Name(), err)
	}
	return value, nil
}

// Remove deletes key from its owning node.
func (r *Router) Remove(key string) error {
	n := r.route(key)
	if err := n.Delete(key); err != nil {
		return fmt.Errorf("remove %q from %s: %w", key, n.Name(), err)
	}
	return nil
}

// Owner returns the name of the node key currently routes to.
func (r *Router) Owner(key string) string {
	return r.route(key).Name()
}

// Ring returns the current ring snapshot.
func (r *Router) Ring() *ring.Ring {
	return r.state.Load()
}

// Node returns the named node, or nil.
func (r *Router) Node(name string) *node.Node {
	return r.nodes[name]
}

// Nodes returns every node name in configuration order.
func (r *Router) Nodes() []string {
	return append([]string(nil), r.names...)
}

// Positions returns the fixed ring position of every node.
func (r *Router) Positions() map[string]int {
	out := make(map[string]int, len(r.positions))
	for name, pos := range r.positions {
		out[name] = pos
	}
	return out
}

// Describe renders the current ring with per-node container sizes.
func (r *Router) Describe() string {
	return rebalance.Describe(r.state.Load(), r.members)
}

// Close stops the engine and liveness loops and waits for them. Routing keeps
// working on the last published ring.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.logger.Info("router stopped")
	})
}
