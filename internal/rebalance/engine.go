package rebalance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kvring/internal/config"
	"kvring/internal/events"
	"kvring/internal/logging"
	"kvring/internal/ring"
)

// ErrBatchRejected is returned by Apply when a batch carries at least as many
// dead events as there are nodes on the ring. The batch is dropped.
var ErrBatchRejected = errors.New("rebalance batch rejected")

// consumeRetryDelay is the pause after a failed Consume before trying again.
const consumeRetryDelay = 200 * time.Millisecond

// Member is a node whose data the engine can move.
type Member interface {
	Len() int
	MoveOut() map[string]string
	MoveIn(entries map[string]string)
}

// StatusSink is told about ring membership after every published change.
type StatusSink interface {
	SetMember(name string, inRing bool)
}

// Config wires an Engine.
type Config struct {
	State     *ring.State
	Members   map[string]Member
	Positions map[string]int
	Consumer  events.Consumer

	// Recovery is config.RecoveryLast or config.RecoverySuccessor.
	// Empty means RecoveryLast.
	Recovery string

	Sink   StatusSink
	Logger logrus.FieldLogger
}

// Engine consumes liveness batches and rebalances the ring.
type Engine struct {
	state     *ring.State
	members   map[string]Member
	positions map[string]int
	consumer  events.Consumer
	recovery  string
	sink      StatusSink
	logger    logrus.FieldLogger

	// mu serializes Apply; Run is the normal single caller.
	mu sync.Mutex
}

// New creates an engine and reports the current membership to the sink.
func New(cfg Config) *Engine {
	e := &Engine{
		state:     cfg.State,
		members:   cfg.Members,
		positions: cfg.Positions,
		consumer:  cfg.Consumer,
		recovery:  cfg.Recovery,
		sink:      cfg.Sink,
		logger:    cfg.Logger,
	}
	if e.recovery == "" {
		e.recovery = config.RecoveryLast
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	e.logger = e.logger.WithField("component", "rebalance")
	e.notify(e.state.Load())
	return e
}

// Run consumes batches until ctx is done. Consume failures are logged and
// retried; a rejected batch is logged and skipped.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Debug("rebalance engine started")
	defer e.logger.Debug("rebalance engine stopped")

	for {
		batch, err := e.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.WithError(err).Warn("failed to consume liveness events")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(consumeRetryDelay):
			}
			continue
		}

		_ = e.Apply(batch)
	}
}

// Apply processes one batch synchronously and publishes the resulting ring.
func (e *Engine) Apply(batch events.Batch) error {
	if len(batch) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.state.Load()
	log := e.logger.WithField("batch", len(batch))

	if dead := batch.Dead(); dead >= r.Len() {
		log.WithFields(logrus.Fields{
			"dead":  dead,
			"alive": r.Len(),
		}).Warn("rejecting batch that would empty the ring")
		return fmt.Errorf("%w: %d dead events for %d alive nodes", ErrBatchRejected, dead, r.Len())
	}

	log.WithField("ring", e.describe(r)).Info("rebalancing")

	for _, ev := range batch {
		if ev.Alive {
			r = e.scaleUp(r, ev.Node)
		} else {
			r = e.scaleDown(r, ev.Node)
		}
	}

	e.state.Store(r)
	e.notify(r)

	log.WithField("ring", e.describe(r)).Info("rebalanced")
	return nil
}

// scaleDown moves name's data to its ring successor and removes its entry.
func (e *Engine) scaleDown(r *ring.Ring, name string) *ring.Ring {
	log := e.logger.WithFields(logrus.Fields{"node": name, "alive": false})

	pos, ok := e.positions[name]
	if !ok {
		log.Warn("skipping event for unknown node")
		return r
	}
	idx := r.IndexOf(name, pos)
	if idx == ring.NotFound {
		log.Warn("skipping dead event for node not on the ring")
		return r
	}
	if r.Len() == 1 {
		log.Warn("skipping dead event for the last node on the ring")
		return r
	}

	next := r.At((idx + 1) % r.Len()).Name
	moved := e.move(name, next)

	log.WithFields(logrus.Fields{
		"index":     idx,
		"successor": next,
		"moved":     moved,
	}).Info("node left the ring")
	return r.RemoveAt(idx)
}

// scaleUp pulls data from the recovery source into name and reinserts it.
func (e *Engine) scaleUp(r *ring.Ring, name string) *ring.Ring {
	log := e.logger.WithFields(logrus.Fields{"node": name, "alive": true})

	pos, ok := e.positions[name]
	if !ok {
		log.Warn("skipping event for unknown node")
		return r
	}
	if r.Contains(name) {
		log.Warn("skipping alive event for node already on the ring")
		return r
	}

	idx := r.Successor(pos)
	moved := 0
	source := e.recoverySource(r, idx)
	if source != "" {
		moved = e.move(source, name)
	}
	if idx == ring.NotFound {
		idx = r.Len()
	}

	log.WithFields(logrus.Fields{
		"index":  idx,
		"source": source,
		"moved":  moved,
	}).Info("node joined the ring")
	return r.Insert(idx, ring.Entry{Name: name, Position: pos})
}

// recoverySource picks the node a recovering member pulls data from, given
// the insertion index found by successor lookup.
func (e *Engine) recoverySource(r *ring.Ring, idx int) string {
	if r.Len() == 0 {
		return ""
	}
	last := r.At(r.Len() - 1).Name
	if e.recovery == config.RecoverySuccessor && idx > 0 {
		return r.At(idx).Name
	}
	return last
}

// move drains from and merges into to, returning the number of keys moved.
func (e *Engine) move(from, to string) int {
	src, dst := e.members[from], e.members[to]
	if src == nil || dst == nil || from == to {
		return 0
	}
	entries := src.MoveOut()
	dst.MoveIn(entries)
	return len(entries)
}

func (e *Engine) notify(r *ring.Ring) {
	if e.sink == nil {
		return
	}
	for _, name := range e.memberNames() {
		e.sink.SetMember(name, r.Contains(name))
	}
}

func (e *Engine) memberNames() []string {
	names := make([]string, 0, len(e.members))
	for name := range e.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// describe renders the ring with per-node container sizes, e.g.
// "Database-1@0(3) Database-2@1(0)".
func (e *Engine) describe(r *ring.Ring) string {
	return Describe(r, e.members)
}

// Describe renders r with the container size of each entry.
func Describe(r *ring.Ring, members map[string]Member) string {
	parts := make([]string, 0, r.Len())
	for _, entry := range r.Entries() {
		size := 0
		if m := members[entry.Name]; m != nil {
			size = m.Len()
		}
		parts = append(parts, fmt.Sprintf("%s(%d)", entry, size))
	}
	return strings.Join(parts, " ")
}
