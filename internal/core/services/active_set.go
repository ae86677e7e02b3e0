package services

import "audiod/internal/core/domain"

// ActiveStreamSet tracks which logical streams are open, in open order.
// Membership is unique. It is not safe for concurrent use; the policy
// engine owns it from a single goroutine.
type ActiveStreamSet struct {
	order []domain.StreamID
	index map[domain.StreamID]struct{}
}

func NewActiveStreamSet() *ActiveStreamSet {
	return &ActiveStreamSet{
		index: make(map[domain.StreamID]struct{}),
	}
}

// Add appends id and reports whether it was not already present.
func (s *ActiveStreamSet) Add(id domain.StreamID) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Remove drops id. Removing an absent id is a no-op.
func (s *ActiveStreamSet) Remove(id domain.StreamID) bool {
	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *ActiveStreamSet) Contains(id domain.StreamID) bool {
	_, ok := s.index[id]
	return ok
}

func (s *ActiveStreamSet) Len() int {
	return len(s.order)
}

// Snapshot returns a copy that stays valid while the set is mutated.
func (s *ActiveStreamSet) Snapshot() []domain.StreamID {
	out := make([]domain.StreamID, len(s.order))
	copy(out, s.order)
	return out
}
