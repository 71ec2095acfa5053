package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quiz-arena-service/internal/app"
	"quiz-arena-service/internal/domain"
)

// Message types the gateway sends only to the issuing connection.
const (
	msgAuthenticated = "authenticated"
	msgAck           = "ack"
	msgError         = "error"
)

// Inbound command types.
const (
	cmdAuthenticate  = "authenticate"
	cmdCreateSession = "createSession"
	cmdJoin          = "join"
	cmdLeave         = "leave"
	cmdSpectate      = "spectate"
	cmdReady         = "ready"
	cmdStart         = "start"
	cmdAnswer        = "answer"
	cmdEliminate     = "eliminate"
	cmdNextRound     = "nextRound"
	cmdDeclareWinner = "declareWinner"
)

var errUnknownCommand = fmt.Errorf("%w: unsupported message type", domain.ErrInvalidInput)

// Config holds WebSocket connection settings.
type Config struct {
	AuthTimeout    time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	CheckOrigin    func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		AuthTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
		CheckOrigin:    func(r *http.Request) bool { return true },
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = d.AuthTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = d.CheckOrigin
	}
	return c
}

type WSHandler struct {
	service  *app.GameService
	hub      *Hub
	upgrader websocket.Upgrader
	cfg      Config
}

func NewWSHandler(service *app.GameService, hub *Hub, cfg Config) *WSHandler {
	cfg = cfg.withDefaults()
	return &WSHandler{
		service: service,
		hub:     hub,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

type inboundMessage struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// commandPayload is the union of every command's fields.
type commandPayload struct {
	SessionID     string            `json:"sessionId"`
	ParticipantID string            `json:"participantId"`
	InitiatorID   string            `json:"initiatorId"`
	DisplayName   string            `json:"displayName"`
	Mode          domain.Mode       `json:"mode"`
	QuizID        string            `json:"quizId"`
	QuestionSet   []domain.Question `json:"questionSet"`
	QuestionIndex int               `json:"questionIndex"`
	Value         string            `json:"value"`
	Round         int               `json:"round"`
	BonusXP       int               `json:"bonusXp"`
	Ready         *bool             `json:"ready"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type authenticatedPayload struct {
	ParticipantID string `json:"participantId"`
	ConnectionID  string `json:"connectionId"`
}

type ackPayload struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Command       string `json:"command"`
	// Notice names the idempotent condition absorbed, if any.
	Notice string `json:"notice,omitempty"`
	Result any    `json:"result,omitempty"`
}

type errorPayload struct {
	Kind          domain.Kind `json:"kind"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Command       string      `json:"command,omitempty"`
}

type sessionStateResult struct {
	SessionState sessionView `json:"session_state"`
	Spectator    bool        `json:"spectator,omitempty"`
}

// ServeWS upgrades the request, authenticates the client and serves its commands until it disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	c := newConnection(ws, h.cfg.SendBuffer)
	ws.SetReadLimit(h.cfg.MaxMessageSize)

	participantID, err := h.authenticate(c)
	if err != nil {
		log.Info().Err(err).Str("connection_id", c.id).Msg("ws authentication failed")
		c.close()
		return
	}
	c.participantID = participantID
	logger := log.With().Str("connection_id", c.id).Str("participant_id", participantID).Logger()
	logger.Info().Msg("ws connected")

	go h.writePump(c, logger)
	c.enqueue(encode(outboundMessage[authenticatedPayload]{
		Type:    msgAuthenticated,
		Payload: authenticatedPayload{ParticipantID: participantID, ConnectionID: c.id},
	}))

	h.readPump(r.Context(), c, logger)
	c.close()
	h.disconnect(r.Context(), c)
	logger.Info().Msg("ws disconnected")
}

// authenticate runs before the write pump starts, so it writes to the socket directly.
func (h *WSHandler) authenticate(c *connection) (string, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
	var msg inboundMessage
	if err := c.ws.ReadJSON(&msg); err != nil {
		h.writeDirect(c, errorPayload{Kind: domain.KindUnauthorized, Message: "authentication required"})
		return "", fmt.Errorf("read authenticate: %w", err)
	}
	var payload commandPayload
	if msg.Type != cmdAuthenticate || json.Unmarshal(msg.Payload, &payload) != nil || payload.ParticipantID == "" {
		h.writeDirect(c, errorPayload{
			Kind:          domain.KindOf(domain.ErrNotAuthenticated),
			Message:       domain.ErrNotAuthenticated.Error(),
			CorrelationID: msg.CorrelationID,
			Command:       msg.Type,
		})
		return "", domain.ErrNotAuthenticated
	}
	_ = c.ws.SetReadDeadline(time.Time{})
	return payload.ParticipantID, nil
}

func (h *WSHandler) writeDirect(c *connection, payload errorPayload) {
	_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	_ = c.ws.WriteJSON(outboundMessage[errorPayload]{Type: msgError, Payload: payload})
}

func (h *WSHandler) writePump(c *connection, logger zerolog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug().Err(err).Msg("failed to write message to WebSocket")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug().Err(err).Msg("failed to send ping")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *WSHandler) readPump(ctx context.Context, c *connection, logger zerolog.Logger) {
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("unexpected WebSocket close error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(c, msg, nil, fmt.Errorf("%w: malformed message", domain.ErrInvalidInput))
			continue
		}
		result, err := h.dispatch(ctx, c, msg)
		if err != nil && !domain.IsNoop(err) {
			logger.Debug().Err(err).Str("command", msg.Type).Msg("command rejected")
		}
		h.reply(c, msg, result, err)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, c *connection, msg inboundMessage) (any, error) {
	var p commandPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: invalid %s payload", domain.ErrInvalidInput, msg.Type)
		}
	}
	self := c.participant()

	switch msg.Type {
	case cmdAuthenticate:
		if p.ParticipantID != self {
			return nil, fmt.Errorf("%w: connection is already authenticated", domain.ErrUnauthorized)
		}
		return nil, nil
	case cmdCreateSession:
		return h.createSession(ctx, c, p)
	case cmdEliminate:
		return nil, h.service.Eliminate(ctx, p.SessionID, self, p.ParticipantID, p.Round)
	case cmdDeclareWinner:
		return nil, h.service.DeclareWinner(ctx, p.SessionID, self, p.ParticipantID, p.BonusXP)
	case cmdNextRound:
		return nil, h.service.NextRound(ctx, p.SessionID, self)
	}

	// Every remaining command acts as the connection's participant.
	if p.ParticipantID != "" && p.ParticipantID != self {
		return nil, fmt.Errorf("%w: cannot act as %s", domain.ErrUnauthorized, p.ParticipantID)
	}
	switch msg.Type {
	case cmdJoin:
		return h.join(ctx, c, p)
	case cmdSpectate:
		return h.spectate(ctx, c, p)
	case cmdLeave:
		err := h.service.Leave(ctx, p.SessionID, self)
		h.hub.remove(p.SessionID, c)
		return nil, err
	case cmdReady:
		ready := p.Ready == nil || *p.Ready
		return nil, h.service.SetReady(ctx, p.SessionID, self, ready)
	case cmdStart:
		return nil, h.service.Start(ctx, p.SessionID)
	case cmdAnswer:
		return nil, h.service.SubmitAnswer(ctx, p.SessionID, self, domain.AnswerSubmission{
			QuestionIndex: p.QuestionIndex,
			Round:         p.Round,
			Value:         p.Value,
		})
	default:
		return nil, errUnknownCommand
	}
}

func (h *WSHandler) createSession(ctx context.Context, c *connection, p commandPayload) (any, error) {
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	// join the group first so the creator sees session_created
	following := h.follow(sessionID, c)
	state, err := h.service.CreateSession(ctx, app.CreateSessionInput{
		SessionID:   sessionID,
		IssuerID:    c.participant(),
		InitiatorID: p.InitiatorID,
		Mode:        p.Mode,
		QuizID:      p.QuizID,
		Questions:   p.QuestionSet,
	})
	if err != nil {
		h.unfollow(sessionID, c, following)
		return nil, err
	}
	return sessionStateResult{SessionState: newSessionView(state)}, nil
}

func (h *WSHandler) join(ctx context.Context, c *connection, p commandPayload) (any, error) {
	following := h.follow(p.SessionID, c)
	res, err := h.service.Join(ctx, p.SessionID, c.participant(), p.DisplayName)
	if err != nil && !domain.IsNoop(err) {
		h.unfollow(p.SessionID, c, following)
		return nil, err
	}
	return sessionStateResult{SessionState: newSessionView(res.State), Spectator: res.Spectator}, err
}

func (h *WSHandler) spectate(ctx context.Context, c *connection, p commandPayload) (any, error) {
	following := h.follow(p.SessionID, c)
	state, err := h.service.Spectate(ctx, p.SessionID, c.participant())
	if err != nil && !domain.IsNoop(err) {
		h.unfollow(p.SessionID, c, following)
		return nil, err
	}
	return sessionStateResult{SessionState: newSessionView(state), Spectator: true}, err
}

// follow adds c to the session group and reports whether it was already a member.
func (h *WSHandler) follow(sessionID string, c *connection) bool {
	if c.follows(sessionID) {
		return true
	}
	h.hub.add(sessionID, c)
	return false
}

// unfollow undoes a failed follow unless c was a member before.
func (h *WSHandler) unfollow(sessionID string, c *connection, wasFollowing bool) {
	if !wasFollowing {
		h.hub.remove(sessionID, c)
	}
}

// reply acks successes and absorbed no-ops; other errors go back to the sender only.
func (h *WSHandler) reply(c *connection, msg inboundMessage, result any, err error) {
	if err == nil || domain.IsNoop(err) {
		ack := ackPayload{CorrelationID: msg.CorrelationID, Command: msg.Type, Result: result}
		if err != nil {
			ack.Notice = string(domain.KindOf(err))
		}
		c.enqueue(encode(outboundMessage[ackPayload]{Type: msgAck, Payload: ack}))
		return
	}
	c.enqueue(encode(outboundMessage[errorPayload]{
		Type: msgError,
		Payload: errorPayload{
			Kind:          domain.KindOf(err),
			Message:       err.Error(),
			CorrelationID: msg.CorrelationID,
			Command:       msg.Type,
		},
	}))
}

// disconnect leaves every group; participants with no other connection in a group are announced as left.
func (h *WSHandler) disconnect(ctx context.Context, c *connection) {
	ctx = context.WithoutCancel(ctx)
	pid := c.participant()
	for _, sessionID := range c.joined() {
		h.hub.remove(sessionID, c)
		if h.hub.hasParticipant(sessionID, pid) {
			continue
		}
		if err := h.service.Leave(ctx, sessionID, pid); err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrSessionClosed) {
			log.Warn().Err(err).Str("session_id", sessionID).Str("participant_id", pid).Msg("leave on disconnect")
		}
	}
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encode outbound message")
		return []byte(`{"type":"error","payload":{"kind":"internal","message":"encode failure"}}`)
	}
	return data
}
