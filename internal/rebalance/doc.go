// Package rebalance applies liveness events to the ring.
//
// The Engine is the only writer of the ring. For each drained batch it either
// rejects the whole batch, when applying it could leave no node alive, or
// walks the events in order:
//
//   - a node going dead hands its data to its ring successor and leaves the ring;
//   - a node coming alive pulls data from the recovery source and is
//     reinserted at the successor index of its fixed position.
//
// The new ring is published once per batch. Readers holding an older snapshot
// may route to a node that has just been drained; that window is accepted.
//
// Moving data is a drain on one node followed by a merge on another. The two
// steps are not atomic together: a write that lands on the source in between
// stays on the source.
package rebalance
