package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-arena-service/internal/domain"
)

// SessionRegistry maps session ids to live coordinators.
type SessionRegistry interface {
	// GetOrCreate returns the live coordinator for id, calling create at most once per id
	// even under concurrent first access. The bool reports whether create ran.
	GetOrCreate(id string, create func() (*Coordinator, error)) (*Coordinator, bool, error)
	Get(id string) (*Coordinator, bool)
	Remove(id string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// SnapshotStore persists session snapshots at creation and completion.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, state domain.SessionState) error
	UpdateSnapshot(ctx context.Context, state domain.SessionState) error
	FindByID(ctx context.Context, id string) (domain.SessionState, error)
	// ListSnapshots returns snapshots newest first; an empty status lists every session.
	ListSnapshots(ctx context.Context, status domain.Status) ([]domain.SessionState, error)
}

// completionTimeout bounds the collaborator calls made when a session completes.
const completionTimeout = 10 * time.Second

// Config holds engine-wide settings.
type Config struct {
	QuestionTime    time.Duration
	ResultPause     time.Duration
	CompletionGrace time.Duration
	DefaultBonusXP  int
	WinnerBadge     string
}

func DefaultConfig() Config {
	return Config{
		QuestionTime:    20 * time.Second,
		ResultPause:     3 * time.Second,
		CompletionGrace: 30 * time.Second,
		DefaultBonusXP:  1000,
		WinnerBadge:     "battle_royale_winner",
	}
}

// GameService contains the session use cases.
type GameService struct {
	sessions SessionRegistry
	quizzes  QuizRepository
	store    SnapshotStore
	rewards  *Rewarder
	events   Broadcaster
	clock    clockwork.Clock
	cfg      Config
	newID    func() string
	retry    func() backoff.BackOff
}

type Option func(*GameService)

func WithConfig(cfg Config) Option {
	return func(s *GameService) { s.cfg = cfg }
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *GameService) { s.clock = clock }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *GameService) { s.newID = newID }
}

// WithPersistRetry replaces the backoff used for snapshot writes at completion.
func WithPersistRetry(policy func() backoff.BackOff) Option {
	return func(s *GameService) { s.retry = policy }
}

func NewGameService(sessions SessionRegistry, quizzes QuizRepository, store SnapshotStore, rewards *Rewarder, events Broadcaster, opts ...Option) *GameService {
	s := &GameService{
		sessions: sessions,
		quizzes:  quizzes,
		store:    store,
		rewards:  rewards,
		events:   events,
		clock:    clockwork.NewRealClock(),
		cfg:      DefaultConfig(),
		newID:    uuid.NewString,
		retry:    DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSessionInput describes a new session. Questions take precedence over QuizID.
type CreateSessionInput struct {
	SessionID   string
	IssuerID    string
	InitiatorID string
	Mode        domain.Mode
	QuizID      string
	Questions   []domain.Question
}

// CreateSession registers a waiting session and persists its first snapshot.
func (s *GameService) CreateSession(ctx context.Context, in CreateSessionInput) (domain.SessionState, error) {
	if in.InitiatorID == "" {
		in.InitiatorID = in.IssuerID
	}
	if in.IssuerID != in.InitiatorID {
		return domain.SessionState{}, domain.ErrUnauthorized
	}
	if in.Mode == "" {
		in.Mode = domain.ModeBattleRoyale
	}
	if !in.Mode.Valid() {
		return domain.SessionState{}, domain.ErrUnknownMode
	}

	questions := in.Questions
	if len(questions) == 0 && in.QuizID != "" {
		quiz, err := s.quizzes.GetQuiz(ctx, in.QuizID)
		if err != nil {
			return domain.SessionState{}, err
		}
		questions = quiz.Questions
	}
	if len(questions) == 0 {
		return domain.SessionState{}, domain.ErrEmptyQuestionSet
	}

	id := in.SessionID
	if id == "" {
		id = s.newID()
	}
	if err := domain.ValidateSessionID(id); err != nil {
		return domain.SessionState{}, err
	}
	coordinator, created, err := s.sessions.GetOrCreate(id, func() (*Coordinator, error) {
		return NewCoordinator(s.params(CoordinatorParams{
			ID:          id,
			Mode:        in.Mode,
			InitiatorID: in.InitiatorID,
			Questions:   questions,
		}))
	})
	if err != nil {
		return domain.SessionState{}, err
	}
	if !created {
		return domain.SessionState{}, domain.ErrSessionExists
	}

	state := coordinator.Snapshot()
	if err := s.store.CreateSnapshot(ctx, state); err != nil {
		s.sessions.Remove(id)
		coordinator.Stop()
		return domain.SessionState{}, fmt.Errorf("persist session snapshot: %w", err)
	}

	s.events.Broadcast(Event{
		Type:      EventSessionCreated,
		SessionID: id,
		At:        s.clock.Now(),
		Payload: SessionCreatedPayload{
			Mode:          state.Mode,
			InitiatorID:   state.InitiatorID,
			Status:        state.Status,
			QuestionCount: len(state.Questions),
		},
	})
	log.Info().Str("session_id", id).Str("mode", string(in.Mode)).Str("initiator_id", in.InitiatorID).Msg("session created")
	return state, nil
}

// JoinResult is the outcome of a join.
type JoinResult struct {
	State     domain.SessionState
	Spectator bool
}

// Join registers a participant (or a spectator on an active battle-royale session).
// A repeat join returns the current state together with domain.ErrAlreadyJoined.
func (s *GameService) Join(ctx context.Context, sessionID, participantID, displayName string) (JoinResult, error) {
	c, err := s.resolve(ctx, sessionID)
	if err != nil {
		return JoinResult{}, err
	}
	spectator, err := c.Join(participantID, displayName)
	return JoinResult{State: c.Snapshot(), Spectator: spectator}, err
}

// Spectate registers a read-only observer.
func (s *GameService) Spectate(ctx context.Context, sessionID, participantID string) (domain.SessionState, error) {
	c, err := s.resolve(ctx, sessionID)
	if err != nil {
		return domain.SessionState{}, err
	}
	err = c.Spectate(participantID)
	return c.Snapshot(), err
}

func (s *GameService) Leave(ctx context.Context, sessionID, participantID string) error {
	c, ok := s.sessions.Get(sessionID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return c.Leave(participantID)
}

// SetReady toggles a lobby participant's ready flag.
func (s *GameService) SetReady(ctx context.Context, sessionID, participantID string, ready bool) error {
	c, err := s.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return c.SetReady(participantID, ready)
}

func (s *GameService) Start(ctx context.Context, sessionID string) error {
	c, err := s.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return c.Start(ctx)
}

func (s *GameService) SubmitAnswer(ctx context.Context, sessionID, participantID string, answer domain.AnswerSubmission) error {
	c, err := s.resolve(ctx, sessionID)
	if err != nil {
		return err
	}
	return c.SubmitAnswer(ctx, participantID, answer)
}

// Eliminate is a host-only manual elimination.
func (s *GameService) Eliminate(ctx context.Context, sessionID, issuerID, participantID string, round int) error {
	c, err := s.resolveHost(ctx, sessionID, issuerID)
	if err != nil {
		return err
	}
	return c.Eliminate(ctx, participantID, round)
}

// NextRound is a host-only command forcing the battle-royale round forward.
func (s *GameService) NextRound(ctx context.Context, sessionID, issuerID string) error {
	c, err := s.resolveHost(ctx, sessionID, issuerID)
	if err != nil {
		return err
	}
	return c.NextRound(ctx)
}

// DeclareWinner is a host-only command completing a battle-royale session.
func (s *GameService) DeclareWinner(ctx context.Context, sessionID, issuerID, participantID string, bonusXP int) error {
	c, err := s.resolveHost(ctx, sessionID, issuerID)
	if err != nil {
		return err
	}
	return c.DeclareWinner(ctx, participantID, bonusXP)
}

// Snapshot returns the live state of a session, or its persisted snapshot once it is gone.
func (s *GameService) Snapshot(ctx context.Context, sessionID string) (domain.SessionState, error) {
	if c, ok := s.sessions.Get(sessionID); ok {
		return c.Snapshot(), nil
	}
	return s.store.FindByID(ctx, sessionID)
}

// ListSessions lists persisted sessions with the given status (all when empty), preferring
// the live state of sessions hosted here.
func (s *GameService) ListSessions(ctx context.Context, status domain.Status) ([]domain.SessionState, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}
	states, err := s.store.ListSnapshots(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionState, 0, len(states))
	for _, state := range states {
		if c, ok := s.sessions.Get(state.ID); ok {
			state = c.Snapshot()
			if status != "" && state.Status != status {
				continue
			}
		}
		out = append(out, state)
	}
	return out, nil
}

// resolve finds the live coordinator, rehydrating a waiting session from its snapshot.
func (s *GameService) resolve(ctx context.Context, sessionID string) (*Coordinator, error) {
	if c, ok := s.sessions.Get(sessionID); ok {
		return c, nil
	}
	state, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	switch state.Status {
	case domain.StatusCompleted:
		return nil, domain.ErrSessionClosed
	case domain.StatusWaiting:
		c, _, err := s.sessions.GetOrCreate(sessionID, func() (*Coordinator, error) {
			return RestoreCoordinator(state, s.params(CoordinatorParams{}))
		})
		if err == nil {
			log.Info().Str("session_id", sessionID).Msg("session restored from snapshot")
		}
		return c, err
	default:
		// active sessions do not survive a restart
		return nil, domain.ErrSessionNotFound
	}
}

func (s *GameService) resolveHost(ctx context.Context, sessionID, issuerID string) (*Coordinator, error) {
	c, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c.InitiatorID() != issuerID {
		return nil, domain.ErrNotHost
	}
	return c, nil
}

func (s *GameService) params(p CoordinatorParams) CoordinatorParams {
	p.Config = CoordinatorConfig{
		QuestionTime:   s.cfg.QuestionTime,
		ResultPause:    s.cfg.ResultPause,
		DefaultBonusXP: s.cfg.DefaultBonusXP,
	}
	p.Clock = s.clock
	p.Events = s.events
	p.OnComplete = s.complete
	return p
}

// complete runs inside the finishing session's critical section. Collaborator failures are
// logged; they never undo the in-memory outcome that has already been broadcast.
func (s *GameService) complete(ctx context.Context, c Completion) {
	state := c.State
	logger := log.With().Str("session_id", state.ID).Logger()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completionTimeout)
	defer cancel()

	if state.WinnerID != "" && s.rewards != nil {
		result, err := s.rewards.AwardWinner(ctx, state.WinnerID, c.BonusXP, s.cfg.WinnerBadge)
		if err != nil {
			logger.Warn().Err(err).Str("participant_id", state.WinnerID).Msg("winner rewards incomplete")
		}
		if result.Badge != nil {
			s.events.Broadcast(Event{
				Type:      EventBadgeAwarded,
				SessionID: state.ID,
				At:        s.clock.Now(),
				Payload: BadgeAwardedPayload{
					ParticipantID: result.Badge.ParticipantID,
					BadgeID:       result.Badge.BadgeID,
					AwardedAt:     result.Badge.AwardedAt,
				},
			})
		}
	}

	err := backoff.Retry(func() error {
		return s.store.UpdateSnapshot(ctx, state)
	}, backoff.WithContext(s.retry(), ctx))
	if err != nil {
		logger.Error().Err(err).Msg("persist final snapshot")
	}
	persisted := err == nil

	s.clock.AfterFunc(s.cfg.CompletionGrace, func() {
		if !persisted {
			ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
			defer cancel()
			if err := s.store.UpdateSnapshot(ctx, state); err != nil {
				// the stored snapshot is stale; only the live coordinator knows the session is over
				logger.Error().Err(err).Msg("final snapshot still not persisted, keeping session resident")
				s.events.Release(state.ID)
				return
			}
		}
		s.sessions.Remove(state.ID)
		s.events.Release(state.ID)
		logger.Debug().Msg("session released")
	})
}
