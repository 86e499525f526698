// Package router routes key operations to storage nodes on a consistent-hash
// ring and keeps the ring in step with node liveness.
//
// Node positions are computed once at startup with the full node count as the
// modulus. Key positions are computed per call with the current ring length as
// the modulus, so the same key can resolve to a different slot after
// membership changes even when its owner is still alive.
package router
