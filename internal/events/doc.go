// Package events carries liveness events from storage nodes to the rebalance
// engine. Any number of producers may publish; exactly one consumer drains.
//
// Consume blocks until at least one event is available and then returns every
// pending event in production order, so a burst of flips is handled as a
// single batch. Two implementations are provided: an in-process MemoryQueue
// and a RedisQueue backed by a Redis list.
package events
