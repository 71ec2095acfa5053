package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/infra/memory"
)

var statuses = []domain.Status{domain.StatusWaiting, domain.StatusActive, domain.StatusCompleted}

// SnapshotStore keeps session snapshots as JSON under quiz:snapshot:{sessionID}, with one
// set of session ids per status for listing.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore keeps snapshots for ttl after their last write; ttl <= 0 keeps them forever.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl < 0 {
		ttl = 0
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

func (s *SnapshotStore) CreateSnapshot(ctx context.Context, state domain.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(state.ID), raw, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionExists
	}
	return s.index(ctx, state)
}

func (s *SnapshotStore) UpdateSnapshot(ctx context.Context, state domain.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.key(state.ID), raw, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return s.index(ctx, state)
}

func (s *SnapshotStore) FindByID(ctx context.Context, id string) (domain.SessionState, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionState{}, err
	}
	var state domain.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.SessionState{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return state, nil
}

func (s *SnapshotStore) ListSnapshots(ctx context.Context, status domain.Status) ([]domain.SessionState, error) {
	var ids []string
	var err error
	if status == "" {
		keys := make([]string, len(statuses))
		for i, st := range statuses {
			keys[i] = s.statusKey(st)
		}
		ids, err = s.client.SUnion(ctx, keys...).Result()
	} else {
		ids, err = s.client.SMembers(ctx, s.statusKey(status)).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.SessionState{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	out := make([]domain.SessionState, 0, len(values))
	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var state domain.SessionState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			log.Warn().Err(err).Str("session_id", ids[i]).Msg("skip corrupt snapshot")
			continue
		}
		out = append(out, state)
	}
	if len(expired) > 0 {
		s.prune(ctx, expired)
	}
	memory.SortNewestFirst(out)
	return out, nil
}

// index moves the session id into the set of its current status.
func (s *SnapshotStore) index(ctx context.Context, state domain.SessionState) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, st := range statuses {
			if st != state.Status {
				pipe.SRem(ctx, s.statusKey(st), state.ID)
			}
		}
		pipe.SAdd(ctx, s.statusKey(state.Status), state.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index snapshot %s: %w", state.ID, err)
	}
	return nil
}

// prune drops ids whose snapshot has expired.
func (s *SnapshotStore) prune(ctx context.Context, ids []any) {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, st := range statuses {
			pipe.SRem(ctx, s.statusKey(st), ids...)
		}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Msg("prune snapshot index")
	}
}

func (s *SnapshotStore) key(id string) string {
	return "quiz:snapshot:" + id
}

func (s *SnapshotStore) statusKey(status domain.Status) string {
	return "quiz:snapshots:" + string(status)
}
