package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quiz-arena-service/internal/app"
	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/infra/memory"
)

// releaseMarker deletes a liveness key only while it still names this owner.
var releaseMarker = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionRegistry keeps live coordinators in process and claims each session in Redis with a
// liveness marker naming the hosting node. A session claimed by another node is not hosted here.
type SessionRegistry struct {
	*memory.SessionRegistry
	client *redis.Client
	ttl    time.Duration
	owner  string
}

// NewSessionRegistry returns a registry whose liveness keys carry owner as their value and
// expire after ttl without activity.
func NewSessionRegistry(client *redis.Client, ttl time.Duration, owner string) *SessionRegistry {
	return &SessionRegistry{
		SessionRegistry: memory.NewSessionRegistry(),
		client:          client,
		ttl:             ttl,
		owner:           owner,
	}
}

// GetOrCreate refuses with domain.ErrHostedElsewhere when another node holds the marker.
func (r *SessionRegistry) GetOrCreate(id string, create func() (*app.Coordinator, error)) (*app.Coordinator, bool, error) {
	if c, ok := r.Get(id); ok {
		return c, false, nil
	}
	ctx := context.Background()
	if owner, err := r.markerOwner(ctx, id); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("read session marker")
	} else if owner != "" && owner != r.owner {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrHostedElsewhere, owner)
	}

	c, created, err := r.SessionRegistry.GetOrCreate(id, create)
	if err != nil || !created {
		return c, created, err
	}
	ok, err := r.client.SetNX(ctx, Key(id), r.owner, r.ttl).Result()
	if err != nil {
		// Redis being down must not stop play on this node
		log.Warn().Err(err).Str("session_id", id).Msg("mark session live")
		return c, true, nil
	}
	if !ok {
		owner, _ := r.markerOwner(ctx, id)
		if owner != r.owner {
			r.SessionRegistry.Remove(id)
			c.Stop()
			return nil, false, fmt.Errorf("%w: %s", domain.ErrHostedElsewhere, owner)
		}
	}
	return c, true, nil
}

// Get returns the live coordinator and extends its marker.
func (r *SessionRegistry) Get(id string) (*app.Coordinator, bool) {
	c, ok := r.SessionRegistry.Get(id)
	if ok {
		r.touch(id)
	}
	return c, ok
}

func (r *SessionRegistry) Remove(id string) {
	r.SessionRegistry.Remove(id)
	if err := releaseMarker.Run(context.Background(), r.client, []string{Key(id)}, r.owner).Err(); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("clear session marker")
	}
}

// touch extends the marker, re-creating it if it lapsed.
func (r *SessionRegistry) touch(id string) {
	if r.ttl <= 0 {
		return
	}
	ctx := context.Background()
	extended, err := r.client.Expire(ctx, Key(id), r.ttl).Result()
	if err == nil && !extended {
		err = r.client.SetNX(ctx, Key(id), r.owner, r.ttl).Err()
	}
	if err != nil {
		log.Debug().Err(err).Str("session_id", id).Msg("refresh session marker")
	}
}

func (r *SessionRegistry) markerOwner(ctx context.Context, id string) (string, error) {
	owner, err := r.client.Get(ctx, Key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

// Key is the liveness key of a session.
func Key(sessionID string) string {
	return "quiz:session:" + sessionID
}
