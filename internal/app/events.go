package app

import (
	"time"

	"quiz-arena-service/internal/domain"
)

// Event names broadcast to a session group.
const (
	EventSessionCreated   = "session_created"
	EventPlayerJoined     = "player_joined"
	EventPlayerLeft       = "player_left"
	EventPlayerReady      = "player_ready"
	EventSpectatorJoined  = "spectator_joined"
	EventSessionStarted   = "session_started"
	EventQuestion         = "question"
	EventResult           = "result"
	EventPlayerEliminated = "player_eliminated"
	EventNextRound        = "next_round"
	EventWinner           = "winner"
	EventGameOver         = "game_over"
	EventBadgeAwarded     = "badge_awarded"
)

// Event is one state change of a session.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

// Broadcaster delivers session events to everyone following the session.
// Broadcast must not block on slow receivers.
type Broadcaster interface {
	Broadcast(ev Event)
	// Release drops the session's group once it is no longer live.
	Release(sessionID string)
}

// FanOut broadcasts to several Broadcasters in order.
type FanOut []Broadcaster

func (f FanOut) Broadcast(ev Event) {
	for _, b := range f {
		b.Broadcast(ev)
	}
}

func (f FanOut) Release(sessionID string) {
	for _, b := range f {
		b.Release(sessionID)
	}
}

type SessionCreatedPayload struct {
	Mode          domain.Mode   `json:"mode"`
	InitiatorID   string        `json:"initiatorId"`
	Status        domain.Status `json:"status"`
	QuestionCount int           `json:"questionCount"`
}

type PlayerJoinedPayload struct {
	ParticipantID string               `json:"participantId"`
	DisplayName   string               `json:"displayName,omitempty"`
	Participants  []domain.Participant `json:"participants"`
}

type PlayerLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

type PlayerReadyPayload struct {
	ParticipantID string `json:"participantId"`
	Ready         bool   `json:"isReady"`
	ReadyCount    int    `json:"readyCount"`
	Total         int    `json:"total"`
}

type SpectatorJoinedPayload struct {
	ParticipantID string `json:"participantId"`
}

type SessionStartedPayload struct {
	Mode         domain.Mode          `json:"mode"`
	Participants []domain.Participant `json:"participants"`
}

type QuestionPayload struct {
	Index       int      `json:"index"`
	Round       int      `json:"round"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	TimeSeconds int      `json:"timeSeconds"`
}

type ResultPayload struct {
	Index            int               `json:"index"`
	Round            int               `json:"round"`
	SubmittedAnswers map[string]string `json:"submittedAnswers"`
	Scores           map[string]int    `json:"scores"`
	CorrectAnswer    string            `json:"correctAnswer"`
}

type PlayerEliminatedPayload struct {
	ParticipantID string `json:"participantId"`
	Round         int    `json:"round"`
}

type NextRoundPayload struct {
	Round       int `json:"round"`
	ActiveCount int `json:"activeCount"`
}

type WinnerPayload struct {
	ParticipantID string `json:"participantId"`
}

type GameOverPayload struct {
	FinalScores map[string]int        `json:"finalScores"`
	Ranking     []domain.RankingEntry `json:"ranking"`
	WinnerID    string                `json:"winnerId,omitempty"`
}

type BadgeAwardedPayload struct {
	ParticipantID string    `json:"participantId"`
	BadgeID       string    `json:"badgeId"`
	AwardedAt     time.Time `json:"awardedAt"`
}
