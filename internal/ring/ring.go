package ring

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// NotFound is returned by Successor when the target is greater than every
// position on the ring. Callers wrap to index 0.
const NotFound = -1

// Entry is a node's fixed slot on the ring.
type Entry struct {
	Name     string
	Position int
}

func (e Entry) String() string {
	return fmt.Sprintf("%s@%d", e.Name, e.Position)
}

// Ring is an immutable list of entries sorted ascending by position.
// Len() is the number of alive nodes taking traffic.
type Ring struct {
	entries []Entry
}

// New builds a ring from entries in any order. Entries are sorted by
// position; equal positions are ordered by name so the same membership always
// produces the same ring. Colliding positions are kept, not deduplicated.
func New(entries []Entry) *Ring {
	sorted := slices.Clone(entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].Name < sorted[j].Name
	})
	return &Ring{entries: sorted}
}

// Len returns the number of entries on the ring.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// At returns the entry at index i.
func (r *Ring) At(i int) Entry {
	return r.entries[i]
}

// Entries returns a copy of the ring entries in ring order.
func (r *Ring) Entries() []Entry {
	if r == nil {
		return nil
	}
	return slices.Clone(r.entries)
}

// Names returns the entry names in ring order.
func (r *Ring) Names() []string {
	names := make([]string, 0, r.Len())
	for _, e := range r.Entries() {
		names = append(names, e.Name)
	}
	return names
}

// Successor returns the index of the first entry whose position is >= target,
// or NotFound if target is past the last entry.
func (r *Ring) Successor(target int) int {
	n := r.Len()
	idx := sort.Search(n, func(i int) bool {
		return r.entries[i].Position >= target
	})
	if idx >= n {
		return NotFound
	}
	return idx
}

// Owner returns the entry responsible for target, wrapping to the first entry
// when target is past the end of the ring. Returns (Entry{}, false) only when
// the ring is empty.
func (r *Ring) Owner(target int) (Entry, bool) {
	if r.Len() == 0 {
		return Entry{}, false
	}
	idx := r.Successor(target)
	if idx == NotFound {
		idx = 0
	}
	return r.entries[idx], true
}

// IndexOf returns the index of the entry named name at position, or NotFound.
// It starts at Successor(position) and scans the run of equal positions, so a
// collision with another node never resolves to the wrong entry.
func (r *Ring) IndexOf(name string, position int) int {
	start := r.Successor(position)
	if start == NotFound {
		return NotFound
	}
	for i := start; i < len(r.entries) && r.entries[i].Position == position; i++ {
		if r.entries[i].Name == name {
			return i
		}
	}
	return NotFound
}

// Contains reports whether an entry named name is on the ring.
func (r *Ring) Contains(name string) bool {
	if r == nil {
		return false
	}
	return slices.IndexFunc(r.entries, func(e Entry) bool { return e.Name == name }) >= 0
}

// Insert returns a new ring with e inserted at index idx. idx must be in
// [0, Len()]; callers pick it from Successor so ordering is preserved.
func (r *Ring) Insert(idx int, e Entry) *Ring {
	return &Ring{entries: slices.Insert(slices.Clone(r.entries), idx, e)}
}

// RemoveAt returns a new ring without the entry at index idx.
func (r *Ring) RemoveAt(idx int) *Ring {
	return &Ring{entries: slices.Delete(slices.Clone(r.entries), idx, idx+1)}
}

func (r *Ring) String() string {
	parts := make([]string, 0, r.Len())
	for _, e := range r.Entries() {
		parts = append(parts, e.String())
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// State publishes ring snapshots. A single writer stores new rings; any
// number of readers load the current one without locking.
type State struct {
	current atomic.Pointer[Ring]
}

// NewState returns a State publishing r.
func NewState(r *Ring) *State {
	s := &State{}
	s.Store(r)
	return s
}

// Load returns the current ring snapshot.
func (s *State) Load() *Ring {
	return s.current.Load()
}

// Store publishes r as the current ring.
func (s *State) Store(r *Ring) {
	s.current.Store(r)
}
