// Package seen provides a fixed-capacity set of names that remembers
// insertion order and evicts the oldest entry once full.
package seen

// DefaultCapacity is the number of filenames remembered per source.
const DefaultCapacity = 5000

// Set is a bounded FIFO set of strings. Membership, insertion and eviction
// are all O(1). It is not safe for concurrent use; each source owns its own.
type Set struct {
	ring  []string
	head  int // index of the oldest entry
	size  int
	index map[string]struct{}
}

// New returns an empty Set holding at most capacity names.
// A capacity below 1 is treated as 1.
func New(capacity int) *Set {
	if capacity < 1 {
		capacity = 1
	}
	return &Set{
		ring:  make([]string, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// Contains reports whether name is currently retained.
func (s *Set) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Add inserts name. It returns false if name was already present. When the
// set is full the oldest name is evicted and returned.
func (s *Set) Add(name string) (added bool, evicted string) {
	if s.Contains(name) {
		return false, ""
	}

	if s.size == len(s.ring) {
		evicted = s.ring[s.head]
		delete(s.index, evicted)
		s.ring[s.head] = name
		s.head = (s.head + 1) % len(s.ring)
	} else {
		s.ring[(s.head+s.size)%len(s.ring)] = name
		s.size++
	}

	s.index[name] = struct{}{}
	return true, evicted
}

// Len returns the number of retained names.
func (s *Set) Len() int {
	return s.size
}
