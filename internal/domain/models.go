package domain

import (
	"fmt"
	"regexp"
	"time"
)

// Mode selects the rule set a session is played with.
type Mode string

const (
	ModeBattleRoyale Mode = "battle_royale"
	ModeSynchronous  Mode = "synchronous_multiplayer"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeBattleRoyale || m == ModeSynchronous
}

// Status is the lifecycle position of a session.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusWaiting || s == StatusActive || s == StatusCompleted
}

// sessionIDPattern keeps ids usable as Redis key and NATS subject tokens.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateSessionID rejects ids that are empty, too long, or contain anything but letters,
// digits, '-' and '_'.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: session id %q", ErrInvalidInput, id)
	}
	return nil
}

// Participant is a scored member of a session. EliminatedAtRound is set iff Active is false.
type Participant struct {
	ID                string    `json:"participantId"`
	DisplayName       string    `json:"displayName,omitempty"`
	Active            bool      `json:"isActive"`
	Ready             bool      `json:"isReady"`
	Score             int       `json:"score"`
	EliminatedAtRound *int      `json:"eliminatedAtRound,omitempty"`
	JoinedAt          time.Time `json:"joinedAt"`
}

// Question models a multiple-choice question with a single correct option.
type Question struct {
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correctOption"`
}

// Validate checks the question has at least two distinct options and the correct one is among them.
func (q Question) Validate() error {
	if q.Prompt == "" {
		return fmt.Errorf("%w: question prompt is empty", ErrInvalidInput)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: question %q needs at least two options", ErrInvalidInput, q.Prompt)
	}
	seen := make(map[string]struct{}, len(q.Options))
	found := false
	for _, opt := range q.Options {
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("%w: question %q has duplicate option %q", ErrInvalidInput, q.Prompt, opt)
		}
		seen[opt] = struct{}{}
		if opt == q.CorrectOption {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: question %q correct option is not listed", ErrInvalidInput, q.Prompt)
	}
	return nil
}

// CopyQuestions deep-copies a question set so later edits to the source cannot leak into a session.
func CopyQuestions(in []Question) []Question {
	out := make([]Question, len(in))
	for i, q := range in {
		out[i] = Question{
			Prompt:        q.Prompt,
			Options:       append([]string(nil), q.Options...),
			CorrectOption: q.CorrectOption,
		}
	}
	return out
}

// AnswerSubmission is one participant's answer to the open round. Round is the round number
// carried by the question event; zero means the caller did not send it.
type AnswerSubmission struct {
	QuestionIndex int    `json:"questionIndex"`
	Round         int    `json:"round,omitempty"`
	Value         string `json:"value"`
}

// Quiz is a named collection of questions served by the quiz-content collaborator.
type Quiz struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// SessionState is the serialisable view of one session.
type SessionState struct {
	ID                   string        `json:"sessionId"`
	Mode                 Mode          `json:"mode"`
	Status               Status        `json:"status"`
	InitiatorID          string        `json:"initiatorId"`
	Round                int           `json:"round"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	Participants         []Participant `json:"participants"`
	Spectators           []string      `json:"spectators,omitempty"`
	Questions            []Question    `json:"questions"`
	EliminatedIDs        []string      `json:"eliminatedIds"`
	WinnerID             string        `json:"winnerId,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	StartedAt            *time.Time    `json:"startedAt,omitempty"`
	EndedAt              *time.Time    `json:"endedAt,omitempty"`
}

// Participant returns the participant with the given id.
func (s SessionState) Participant(id string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// RankingEntry is one line of a final ranking.
type RankingEntry struct {
	ParticipantID string `json:"participantId"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// UserProfile is the slice of a user record the engine needs for XP awards.
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	XP          int    `json:"xp"`
}

// UserUpdate carries the fields the engine may change on a user.
type UserUpdate struct {
	XP int
}

// BadgeRecord is a badge granted to a user.
type BadgeRecord struct {
	ParticipantID string    `json:"participantId"`
	BadgeID       string    `json:"badgeId"`
	AwardedAt     time.Time `json:"awardedAt"`
}
