package memory

import (
	"context"
	"sync"
	"time"

	"quiz-arena-service/internal/domain"
)

// UserStore is an in-memory app.UserProvider. Unknown users are created on first lookup,
// which suits demos where identities come straight from the socket handshake.
type UserStore struct {
	mu    sync.Mutex
	users map[string]domain.UserProfile
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]domain.UserProfile)}
}

func (s *UserStore) FindByID(_ context.Context, id string) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		user = domain.UserProfile{ID: id}
		s.users[id] = user
	}
	return user, nil
}

func (s *UserStore) Update(_ context.Context, id string, update domain.UserUpdate) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	user.XP = update.XP
	s.users[id] = user
	return user, nil
}

// BadgeStore is an in-memory app.BadgeProvider.
type BadgeStore struct {
	mu     sync.Mutex
	now    func() time.Time
	grants map[string]map[string]domain.BadgeRecord
}

func NewBadgeStore() *BadgeStore {
	return &BadgeStore{now: time.Now, grants: make(map[string]map[string]domain.BadgeRecord)}
}

func (s *BadgeStore) HasBadge(_ context.Context, participantID, badgeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.grants[participantID][badgeID]
	return ok, nil
}

func (s *BadgeStore) Award(_ context.Context, participantID, badgeID string) (domain.BadgeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[participantID][badgeID]; ok {
		return domain.BadgeRecord{}, domain.ErrBadgeAlreadyAwarded
	}
	if s.grants[participantID] == nil {
		s.grants[participantID] = make(map[string]domain.BadgeRecord)
	}
	record := domain.BadgeRecord{ParticipantID: participantID, BadgeID: badgeID, AwardedAt: s.now()}
	s.grants[participantID][badgeID] = record
	return record, nil
}

// Badges lists the badge ids held by participantID.
func (s *BadgeStore) Badges(participantID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.grants[participantID]))
	for id := range s.grants[participantID] {
		out = append(out, id)
	}
	return out
}
