// Package node implements a simulated storage node: a key/value container
// plus an alive flag that a background liveness loop flips at random
// intervals. Every flip is reported to an events.Producer.
//
// A node serves reads and writes regardless of its alive flag. Whether it
// receives traffic is decided by ring membership, which the rebalance engine
// maintains from the emitted events.
package node
