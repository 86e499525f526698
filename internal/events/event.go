package events

import (
	"context"
	"fmt"
	"time"
)

// Event reports that a node changed liveness. Alive is the new value.
type Event struct {
	Node  string    `json:"node"`
	Alive bool      `json:"alive"`
	At    time.Time `json:"at"`
}

func (e Event) String() string {
	state := "dead"
	if e.Alive {
		state = "alive"
	}
	return fmt.Sprintf("%s->%s", e.Node, state)
}

// Batch is the set of events drained by one Consume call, in production order.
type Batch []Event

// Dead returns the number of events reporting a node going dead.
func (b Batch) Dead() int {
	n := 0
	for _, e := range b {
		if !e.Alive {
			n++
		}
	}
	return n
}

// Producer publishes liveness events. Produce never blocks on the consumer.
type Producer interface {
	Produce(ctx context.Context, e Event) error
}

// Consumer drains liveness events.
type Consumer interface {
	// Consume blocks until at least one event is pending, then returns all
	// pending events. It returns ctx.Err() if ctx ends first.
	Consume(ctx context.Context) (Batch, error)
}

// Queue is both ends of an event queue.
type Queue interface {
	Producer
	Consumer
}
