package runner

import (
	"slices"
	"sync"
)

// liveSet tracks containers that have been created but not yet removed.
type liveSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newLiveSet() *liveSet {
	return &liveSet{ids: make(map[string]struct{})}
}

func (s *liveSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *liveSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// list returns a sorted snapshot of the tracked ids.
func (s *liveSet) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *liveSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
