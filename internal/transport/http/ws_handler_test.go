package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-arena-service/internal/app"
	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/infra/memory"
)

type testServer struct {
	*httptest.Server
	hub *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hub := NewHub()
	cfg := app.DefaultConfig()
	cfg.ResultPause = 0
	service := app.NewGameService(
		memory.NewSessionRegistry(),
		memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}), time.Minute),
		memory.NewSnapshotStore(),
		app.NewRewarder(memory.NewUserStore(), memory.NewBadgeStore()),
		hub,
		app.WithConfig(cfg),
	)
	wsCfg := DefaultConfig()
	wsCfg.AuthTimeout = 200 * time.Millisecond
	server := httptest.NewServer(NewRouter(service, NewWSHandler(service, hub, wsCfg), nil))
	t.Cleanup(server.Close)
	return &testServer{Server: server, hub: hub}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *testServer) connect(t *testing.T, participantID string) *websocket.Conn {
	t.Helper()
	conn := s.dial(t)
	send(t, conn, "authenticate", "", map[string]any{"participantId": participantID})
	readUntil(t, conn, "authenticated")
	return conn
}

type wireMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, typ, correlationID string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":          typ,
		"correlationId": correlationID,
		"payload":       payload,
	}))
}

// readUntil skips messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wireMessage {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", typ)
		if msg.Type == typ {
			return msg
		}
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestUnauthenticatedConnectionIsDropped(t *testing.T) {
	server := newTestServer(t)
	conn := server.dial(t)

	msg := readUntil(t, conn, "error")
	assert.Equal(t, domain.KindUnauthorized, decode[errorPayload](t, msg.Payload).Kind)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "connection should be closed after the grace window")
}

func TestFirstMessageMustAuthenticate(t *testing.T) {
	server := newTestServer(t)
	conn := server.dial(t)

	send(t, conn, "join", "c1", map[string]any{"sessionId": "s-1"})
	errMsg := decode[errorPayload](t, readUntil(t, conn, "error").Payload)
	assert.Equal(t, domain.KindInvalidInput, errMsg.Kind)
	assert.Equal(t, "c1", errMsg.CorrelationID)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestImpersonationIsRejected(t *testing.T) {
	server := newTestServer(t)
	host := server.connect(t, "u1")

	send(t, host, "createSession", "c1", map[string]any{
		"sessionId":   "s-1",
		"initiatorId": "u2",
		"mode":        "synchronous_multiplayer",
		"quizId":      "quiz-1",
	})
	errMsg := decode[errorPayload](t, readUntil(t, host, "error").Payload)
	assert.Equal(t, domain.KindUnauthorized, errMsg.Kind)
	assert.Equal(t, "createSession", errMsg.Command)

	send(t, host, "createSession", "c2", map[string]any{"sessionId": "s-1", "mode": "synchronous_multiplayer", "quizId": "quiz-1"})
	readUntil(t, host, "session_created")
	readUntil(t, host, "ack")

	send(t, host, "join", "c3", map[string]any{"sessionId": "s-1", "participantId": "u2"})
	errMsg = decode[errorPayload](t, readUntil(t, host, "error").Payload)
	assert.Equal(t, domain.KindUnauthorized, errMsg.Kind)
	assert.Equal(t, "c3", errMsg.CorrelationID)

	// the socket stays usable after a rejected command
	send(t, host, "join", "c4", map[string]any{"sessionId": "s-1", "displayName": "Alice"})
	ack := decode[ackPayload](t, readUntil(t, host, "ack").Payload)
	assert.Equal(t, "c4", ack.CorrelationID)
}

func TestSynchronousSessionEndToEnd(t *testing.T) {
	server := newTestServer(t)
	alice := server.connect(t, "u1")
	bob := server.connect(t, "u2")

	send(t, alice, "createSession", "c1", map[string]any{
		"sessionId": "s-1",
		"mode":      "synchronous_multiplayer",
		"questionSet": []map[string]any{
			{"prompt": "2 + 2?", "options": []string{"3", "4"}, "correctOption": "4"},
		},
	})
	readUntil(t, alice, "ack")

	send(t, alice, "join", "c2", map[string]any{"sessionId": "s-1", "displayName": "Alice"})
	readUntil(t, alice, "ack")
	send(t, bob, "join", "c3", map[string]any{"sessionId": "s-1", "displayName": "Bob"})
	readUntil(t, bob, "ack")
	joined := decode[app.PlayerJoinedPayload](t, readUntil(t, alice, "player_joined").Payload)
	if joined.ParticipantID == "u1" {
		joined = decode[app.PlayerJoinedPayload](t, readUntil(t, alice, "player_joined").Payload)
	}
	assert.Equal(t, "u2", joined.ParticipantID)

	// a repeated join is absorbed as an ack
	send(t, bob, "join", "c4", map[string]any{"sessionId": "s-1"})
	ack := decode[ackPayload](t, readUntil(t, bob, "ack").Payload)
	assert.Equal(t, string(domain.KindAlreadyJoined), ack.Notice)

	send(t, alice, "start", "c5", map[string]any{"sessionId": "s-1"})
	question := decode[app.QuestionPayload](t, readUntil(t, bob, "question").Payload)
	assert.Equal(t, 0, question.Index)
	assert.Equal(t, []string{"3", "4"}, question.Options)
	readUntil(t, alice, "question")

	send(t, alice, "answer", "c6", map[string]any{"sessionId": "s-1", "questionIndex": 0, "value": "4"})
	send(t, bob, "answer", "c7", map[string]any{"sessionId": "s-1", "questionIndex": 0, "value": "3"})

	result := decode[app.ResultPayload](t, readUntil(t, bob, "result").Payload)
	assert.Equal(t, "4", result.CorrectAnswer)
	assert.Equal(t, map[string]int{"u1": 1, "u2": 0}, result.Scores)

	over := decode[app.GameOverPayload](t, readUntil(t, bob, "game_over").Payload)
	require.Len(t, over.Ranking, 2)
	assert.Equal(t, "u1", over.Ranking[0].ParticipantID)
	assert.Equal(t, 1, over.Ranking[0].Rank)

	// answers after completion are rejected to the sender only
	send(t, bob, "answer", "c8", map[string]any{"sessionId": "s-1", "questionIndex": 0, "value": "4"})
	errMsg := decode[errorPayload](t, readUntil(t, bob, "error").Payload)
	assert.Equal(t, domain.KindSessionClosed, errMsg.Kind)

	resp, err := http.Get(server.URL + "/sessions/s-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, domain.StatusCompleted, view.Status)
}

func TestDisconnectLeavesGroups(t *testing.T) {
	server := newTestServer(t)
	alice := server.connect(t, "u1")
	bob := server.connect(t, "u2")

	send(t, alice, "createSession", "c1", map[string]any{"sessionId": "s-1", "mode": "synchronous_multiplayer", "quizId": "quiz-1"})
	readUntil(t, alice, "ack")
	send(t, bob, "join", "c2", map[string]any{"sessionId": "s-1"})
	readUntil(t, bob, "ack")
	require.Equal(t, 2, server.hub.Members("s-1"))

	require.NoError(t, bob.Close())
	left := decode[app.PlayerLeftPayload](t, readUntil(t, alice, "player_left").Payload)
	assert.Equal(t, "u2", left.ParticipantID)
	assert.Eventually(t, func() bool { return server.hub.Members("s-1") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionHistoryNotFound(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/sessions/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReadyIsBroadcast(t *testing.T) {
	server := newTestServer(t)
	alice := server.connect(t, "u1")
	bob := server.connect(t, "u2")

	send(t, alice, "createSession", "c1", map[string]any{"sessionId": "s-1", "mode": "synchronous_multiplayer", "quizId": "quiz-1"})
	readUntil(t, alice, "ack")
	send(t, alice, "join", "c2", map[string]any{"sessionId": "s-1"})
	readUntil(t, alice, "ack")
	send(t, bob, "join", "c3", map[string]any{"sessionId": "s-1"})
	readUntil(t, bob, "ack")

	send(t, bob, "ready", "c4", map[string]any{"sessionId": "s-1"})
	ack := decode[ackPayload](t, readUntil(t, bob, "ack").Payload)
	assert.Equal(t, "c4", ack.CorrelationID)
	ready := decode[app.PlayerReadyPayload](t, readUntil(t, alice, "player_ready").Payload)
	assert.Equal(t, "u2", ready.ParticipantID)
	assert.True(t, ready.Ready)
	assert.Equal(t, 1, ready.ReadyCount)
	assert.Equal(t, 2, ready.Total)

	send(t, bob, "ready", "c5", map[string]any{"sessionId": "s-1", "ready": false})
	ready = decode[app.PlayerReadyPayload](t, readUntil(t, alice, "player_ready").Payload)
	assert.False(t, ready.Ready)
	assert.Equal(t, 0, ready.ReadyCount)
}

func TestCreateSessionRejectsUnsafeID(t *testing.T) {
	server := newTestServer(t)
	host := server.connect(t, "u1")

	send(t, host, "createSession", "c1", map[string]any{"sessionId": "s.1 >", "mode": "synchronous_multiplayer", "quizId": "quiz-1"})
	errMsg := decode[errorPayload](t, readUntil(t, host, "error").Payload)
	assert.Equal(t, domain.KindInvalidInput, errMsg.Kind)
	assert.Equal(t, "c1", errMsg.CorrelationID)
}

func TestListAndParticipantsEndpoints(t *testing.T) {
	server := newTestServer(t)
	host := server.connect(t, "u1")
	guest := server.connect(t, "u2")

	send(t, host, "createSession", "c1", map[string]any{"sessionId": "s-1", "mode": "synchronous_multiplayer", "quizId": "quiz-1"})
	readUntil(t, host, "ack")
	send(t, host, "join", "c2", map[string]any{"sessionId": "s-1", "displayName": "Alice"})
	readUntil(t, host, "ack")
	send(t, guest, "spectate", "c3", map[string]any{"sessionId": "s-1"})
	readUntil(t, guest, "ack")

	resp, err := http.Get(server.URL + "/sessions?status=waiting")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, "s-1", views[0].SessionID)

	resp, err = http.Get(server.URL + "/sessions?status=completed")
	require.NoError(t, err)
	defer resp.Body.Close()
	views = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	assert.Empty(t, views)

	resp, err = http.Get(server.URL + "/sessions?status=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(server.URL + "/sessions/s-1/participants")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var roster participantsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roster))
	assert.Equal(t, domain.StatusWaiting, roster.Status)
	require.Len(t, roster.Participants, 1)
	assert.Equal(t, "u1", roster.Participants[0].ID)
	assert.Equal(t, "Alice", roster.Participants[0].DisplayName)
	assert.Equal(t, []string{"u2"}, roster.Spectators)

	resp, err = http.Get(server.URL + "/sessions/missing/participants")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4"},
		},
	}
}
