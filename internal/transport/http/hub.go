package http

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"quiz-arena-service/internal/app"
)

// connection is one authenticated WebSocket client. Only writePump writes to ws.
type connection struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu            sync.Mutex
	participantID string
	sessions      map[string]struct{}
}

func newConnection(ws *websocket.Conn, buffer int) *connection {
	return &connection{
		id:       uuid.NewString(),
		ws:       ws,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		sessions: make(map[string]struct{}),
	}
}

// enqueue never blocks; false means the client is gone or not keeping up.
func (c *connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close is idempotent. send is never closed, so late enqueues stay safe.
func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *connection) participant() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID
}

func (c *connection) track(sessionID string) {
	c.mu.Lock()
	c.sessions[sessionID] = struct{}{}
	c.mu.Unlock()
}

func (c *connection) untrack(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

func (c *connection) follows(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[sessionID]
	return ok
}

func (c *connection) joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	return out
}

// Hub multiplexes session broadcast groups. It implements app.Broadcaster.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*connection]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[*connection]struct{})}
}

func (h *Hub) add(sessionID string, c *connection) {
	h.mu.Lock()
	group, ok := h.groups[sessionID]
	if !ok {
		group = make(map[*connection]struct{})
		h.groups[sessionID] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()
	c.track(sessionID)
}

func (h *Hub) remove(sessionID string, c *connection) {
	h.mu.Lock()
	if group, ok := h.groups[sessionID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.groups, sessionID)
		}
	}
	h.mu.Unlock()
	c.untrack(sessionID)
}

// hasParticipant reports whether any connection in the group is authenticated as participantID.
func (h *Hub) hasParticipant(sessionID, participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[sessionID] {
		if c.participant() == participantID {
			return true
		}
	}
	return false
}

// Members reports how many connections follow a session.
func (h *Hub) Members(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[sessionID])
}

// Broadcast marshals ev once and queues it on every member. Members whose buffer is full are dropped.
func (h *Hub) Broadcast(ev app.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("session_id", ev.SessionID).Str("event", ev.Type).Msg("failed to marshal event for broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.groups[ev.SessionID]))
	for c := range h.groups[ev.SessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			log.Warn().
				Str("connection_id", c.id).
				Str("participant_id", c.participant()).
				Msg("connection send buffer full, closing connection")
			c.close()
		}
	}

	log.Debug().
		Str("event", ev.Type).
		Str("session_id", ev.SessionID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Release forgets a session group without closing its connections.
func (h *Hub) Release(sessionID string) {
	h.mu.Lock()
	group := h.groups[sessionID]
	delete(h.groups, sessionID)
	h.mu.Unlock()
	for c := range group {
		c.untrack(sessionID)
	}
}
