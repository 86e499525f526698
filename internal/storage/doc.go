// Package storage provides the per-node key/value container. Every operation
// is serialized under the container's own lock. Drain and Merge are the two
// halves of a data migration between nodes; they are atomic per container
// but not across two containers.
package storage
