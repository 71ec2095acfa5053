package memory

import (
	"sync"

	"quiz-arena-service/internal/app"
)

// SessionRegistry is an in-memory implementation of app.SessionRegistry.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*app.Coordinator
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*app.Coordinator),
	}
}

// GetOrCreate runs create under the registry lock, so only one coordinator is ever built per id.
func (r *SessionRegistry) GetOrCreate(id string, create func() (*app.Coordinator, error)) (*app.Coordinator, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[id]; ok {
		return c, false, nil
	}
	c, err := create()
	if err != nil {
		return nil, false, err
	}
	r.sessions[id] = c
	return c, true, nil
}

func (r *SessionRegistry) Get(id string) (*app.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[id]
	return c, ok
}

func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		c.Stop()
	}
}

// Len reports how many sessions are live.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
