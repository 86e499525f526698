// Package ring implements the consistent hashing ring used to route keys to
// storage nodes. Each node owns exactly one fixed position; keys are routed to
// the successor of their own position, wrapping to the first entry.
//
// Rings are immutable snapshots. Writers build a new ring with Insert or
// RemoveAt and publish it through a State; readers always see a consistent,
// possibly stale, ring.
package ring
