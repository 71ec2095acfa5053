package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-arena-service/internal/domain"
)

// SnapshotStore keeps session snapshots in process memory.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.SessionState
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]domain.SessionState)}
}

func (s *SnapshotStore) CreateSnapshot(_ context.Context, state domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[state.ID]; ok {
		return domain.ErrSessionExists
	}
	s.snapshots[state.ID] = state
	return nil
}

func (s *SnapshotStore) UpdateSnapshot(_ context.Context, state domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[state.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.snapshots[state.ID] = state
	return nil
}

func (s *SnapshotStore) FindByID(_ context.Context, id string) (domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.snapshots[id]
	if !ok {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	return state, nil
}

func (s *SnapshotStore) ListSnapshots(_ context.Context, status domain.Status) ([]domain.SessionState, error) {
	s.mu.RLock()
	out := make([]domain.SessionState, 0, len(s.snapshots))
	for _, state := range s.snapshots {
		if status == "" || state.Status == status {
			out = append(out, state)
		}
	}
	s.mu.RUnlock()
	SortNewestFirst(out)
	return out, nil
}

// SortNewestFirst orders snapshots by creation time, newest first, then by id.
func SortNewestFirst(states []domain.SessionState) {
	sort.Slice(states, func(i, j int) bool {
		if !states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].CreatedAt.After(states[j].CreatedAt)
		}
		return states[i].ID < states[j].ID
	})
}
