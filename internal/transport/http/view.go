package http

import (
	"time"

	"quiz-arena-service/internal/domain"
)

// sessionView is the client-facing slice of a SessionState. Correct answers stay hidden
// until the session has completed.
type sessionView struct {
	SessionID            string               `json:"sessionId"`
	Mode                 domain.Mode          `json:"mode"`
	Status               domain.Status        `json:"status"`
	InitiatorID          string               `json:"initiatorId"`
	Round                int                  `json:"round"`
	CurrentQuestionIndex int                  `json:"currentQuestionIndex"`
	CurrentQuestion      *questionView        `json:"currentQuestion,omitempty"`
	QuestionCount        int                  `json:"questionCount"`
	Questions            []domain.Question    `json:"questions,omitempty"`
	Participants         []domain.Participant `json:"participants"`
	Spectators           []string             `json:"spectators,omitempty"`
	EliminatedIDs        []string             `json:"eliminatedIds"`
	WinnerID             string               `json:"winnerId,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
	StartedAt            *time.Time           `json:"startedAt,omitempty"`
	EndedAt              *time.Time           `json:"endedAt,omitempty"`
}

type questionView struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

func newSessionView(state domain.SessionState) sessionView {
	view := sessionView{
		SessionID:            state.ID,
		Mode:                 state.Mode,
		Status:               state.Status,
		InitiatorID:          state.InitiatorID,
		Round:                state.Round,
		CurrentQuestionIndex: state.CurrentQuestionIndex,
		QuestionCount:        len(state.Questions),
		Participants:         state.Participants,
		Spectators:           state.Spectators,
		EliminatedIDs:        state.EliminatedIDs,
		WinnerID:             state.WinnerID,
		CreatedAt:            state.CreatedAt,
		StartedAt:            state.StartedAt,
		EndedAt:              state.EndedAt,
	}
	switch state.Status {
	case domain.StatusCompleted:
		view.Questions = state.Questions
	case domain.StatusActive:
		if i := state.CurrentQuestionIndex; i >= 0 && i < len(state.Questions) {
			q := state.Questions[i]
			view.CurrentQuestion = &questionView{Prompt: q.Prompt, Options: q.Options}
		}
	}
	return view
}
