package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the class of unknown session or participant references.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyJoined is returned when a participant joins a session twice.
	ErrAlreadyJoined = errors.New("participant already joined")
	// ErrAlreadyStarted is returned when start is issued on an active session.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrAlreadyEliminated is returned when eliminating an inactive participant.
	ErrAlreadyEliminated = errors.New("participant already eliminated")
	// ErrStaleAnswer is returned for answers that target a round which is no longer open,
	// or for a participant's second answer in the same round.
	ErrStaleAnswer = errors.New("answer ignored")
	// ErrSessionClosed is returned for any command that arrives after completion.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidInput is the class of malformed or out-of-state commands.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized is returned when the issuer may not perform the command.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBadgeAlreadyAwarded is reported by badge providers when the grant already exists.
	ErrBadgeAlreadyAwarded = errors.New("badge already awarded")
)

var (
	ErrSessionNotFound     = fmt.Errorf("%w: session", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("%w: participant", ErrNotFound)
	ErrQuizNotFound        = fmt.Errorf("%w: quiz", ErrNotFound)
	ErrUserNotFound        = fmt.Errorf("%w: user", ErrNotFound)

	ErrEmptyQuestionSet   = fmt.Errorf("%w: question set is empty", ErrInvalidInput)
	ErrUnknownMode        = fmt.Errorf("%w: unknown mode", ErrInvalidInput)
	ErrNotStarted         = fmt.Errorf("%w: session has not started", ErrInvalidInput)
	ErrNotEnoughPlayers   = fmt.Errorf("%w: not enough participants", ErrInvalidInput)
	ErrWrongMode          = fmt.Errorf("%w: command not supported in this mode", ErrInvalidInput)
	ErrNotAuthenticated   = fmt.Errorf("%w: not authenticated", ErrInvalidInput)
	ErrSessionExists      = fmt.Errorf("%w: session already exists", ErrInvalidInput)
	ErrSpectatorCannotAct = fmt.Errorf("%w: spectators cannot answer", ErrInvalidInput)
	ErrNotHost            = fmt.Errorf("%w: only the session host may do this", ErrUnauthorized)
	ErrHostedElsewhere    = fmt.Errorf("%w: session is hosted by another node", ErrInvalidInput)
)

// Kind names an error class on the wire.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindAlreadyJoined     Kind = "already_joined"
	KindAlreadyStarted    Kind = "already_started"
	KindAlreadyEliminated Kind = "already_eliminated"
	KindStaleAnswer       Kind = "stale_answer"
	KindSessionClosed     Kind = "session_closed"
	KindInvalidInput      Kind = "invalid_input"
	KindUnauthorized      Kind = "unauthorized"
	KindInternal          Kind = "internal"
)

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyJoined):
		return KindAlreadyJoined
	case errors.Is(err, ErrAlreadyStarted):
		return KindAlreadyStarted
	case errors.Is(err, ErrAlreadyEliminated):
		return KindAlreadyEliminated
	case errors.Is(err, ErrStaleAnswer):
		return KindStaleAnswer
	case errors.Is(err, ErrSessionClosed):
		return KindSessionClosed
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// IsNoop reports whether err is an idempotent repeat that callers should treat as success.
func IsNoop(err error) bool {
	return errors.Is(err, ErrAlreadyJoined) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrAlreadyEliminated) ||
		errors.Is(err, ErrStaleAnswer)
}
