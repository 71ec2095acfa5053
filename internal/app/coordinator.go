package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-arena-service/internal/domain"
)

var (
	errParticipantEliminated = fmt.Errorf("%w: participant is eliminated", domain.ErrInvalidInput)
	errSessionInProgress     = fmt.Errorf("%w: session already in progress", domain.ErrInvalidInput)
	errRoundInFuture         = fmt.Errorf("%w: round has not been played yet", domain.ErrInvalidInput)
	errRoundMissing          = fmt.Errorf("%w: answer must carry its round", domain.ErrInvalidInput)
)

type phase int

const (
	phaseLobby phase = iota
	phaseQuestion
	phaseIntermission
	phaseDone
)

// CoordinatorConfig holds the timing and reward knobs of a session.
type CoordinatorConfig struct {
	QuestionTime   time.Duration
	ResultPause    time.Duration
	DefaultBonusXP int
}

// Completion is handed to the completion hook once a session reaches completed.
type Completion struct {
	State   domain.SessionState
	BonusXP int
}

// CoordinatorParams wires a Coordinator.
type CoordinatorParams struct {
	ID          string
	Mode        domain.Mode
	InitiatorID string
	Questions   []domain.Question
	Config      CoordinatorConfig
	Clock       clockwork.Clock
	Events      Broadcaster
	// OnComplete runs inside the session's critical section, after the final events are emitted.
	OnComplete func(ctx context.Context, c Completion)
}

// Coordinator is the state machine of one session. Every command holds mu for its whole
// duration, so commands (including clock expiries) for one session apply one at a time.
type Coordinator struct {
	id          string
	mode        domain.Mode
	initiatorID string
	questions   []domain.Question
	cfg         CoordinatorConfig
	clock       clockwork.Clock
	events      Broadcaster
	onComplete  func(context.Context, Completion)
	engine      EliminationEngine
	roundClock  *RoundClock

	mu            sync.Mutex
	status        domain.Status
	phase         phase
	round         int
	questionIndex int
	// token is bumped whenever a pending clock callback must become a no-op.
	token      uint64
	board      *ScoreBoard
	answers    map[string]string
	spectators []string
	eliminated []string
	winnerID   string
	createdAt  time.Time
	startedAt  *time.Time
	endedAt    *time.Time
}

// NewCoordinator creates a waiting session. Battle-royale sessions seed the initiator as a participant.
func NewCoordinator(p CoordinatorParams) (*Coordinator, error) {
	c, err := newCoordinator(p)
	if err != nil {
		return nil, err
	}
	if p.Mode == domain.ModeBattleRoyale && p.InitiatorID != "" {
		c.board.Add(p.InitiatorID, "", c.createdAt)
	}
	return c, nil
}

// RestoreCoordinator rebuilds a waiting session from its persisted snapshot.
func RestoreCoordinator(state domain.SessionState, p CoordinatorParams) (*Coordinator, error) {
	if state.Status != domain.StatusWaiting {
		return nil, fmt.Errorf("%w: only waiting sessions can be restored", domain.ErrSessionClosed)
	}
	p.ID = state.ID
	p.Mode = state.Mode
	p.InitiatorID = state.InitiatorID
	p.Questions = state.Questions
	c, err := newCoordinator(p)
	if err != nil {
		return nil, err
	}
	c.createdAt = state.CreatedAt
	for _, participant := range state.Participants {
		c.board.Add(participant.ID, participant.DisplayName, participant.JoinedAt)
		if participant.Ready {
			_, _ = c.board.SetReady(participant.ID, true)
		}
	}
	return c, nil
}

func newCoordinator(p CoordinatorParams) (*Coordinator, error) {
	if !p.Mode.Valid() {
		return nil, domain.ErrUnknownMode
	}
	if len(p.Questions) == 0 {
		return nil, domain.ErrEmptyQuestionSet
	}
	for _, q := range p.Questions {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	engine, err := NewEliminationEngine(p.Mode)
	if err != nil {
		return nil, err
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		id:          p.ID,
		mode:        p.Mode,
		initiatorID: p.InitiatorID,
		questions:   domain.CopyQuestions(p.Questions),
		cfg:         p.Config,
		clock:       clock,
		events:      p.Events,
		onComplete:  p.OnComplete,
		engine:      engine,
		roundClock:  NewRoundClock(clock),
		status:      domain.StatusWaiting,
		board:       NewScoreBoard(),
		answers:     make(map[string]string),
		createdAt:   clock.Now(),
	}, nil
}

func (c *Coordinator) ID() string          { return c.id }
func (c *Coordinator) Mode() domain.Mode   { return c.mode }
func (c *Coordinator) InitiatorID() string { return c.initiatorID }

// Join adds a participant while waiting. Joining an active battle-royale session makes the
// caller a spectator, reported by the first return value.
func (c *Coordinator) Join(participantID, displayName string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == domain.StatusCompleted {
		return false, domain.ErrSessionClosed
	}
	if c.board.Has(participantID) {
		return false, domain.ErrAlreadyJoined
	}
	if c.status == domain.StatusActive {
		if c.mode != domain.ModeBattleRoyale {
			return false, errSessionInProgress
		}
		return true, c.addSpectatorLocked(participantID)
	}

	c.board.Add(participantID, displayName, c.clock.Now())
	c.emitLocked(EventPlayerJoined, PlayerJoinedPayload{
		ParticipantID: participantID,
		DisplayName:   displayName,
		Participants:  c.board.Snapshot(),
	})
	return false, nil
}

// Spectate registers a read-only observer.
func (c *Coordinator) Spectate(participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == domain.StatusCompleted {
		return domain.ErrSessionClosed
	}
	if c.board.Has(participantID) {
		return domain.ErrAlreadyJoined
	}
	return c.addSpectatorLocked(participantID)
}

// Leave announces that a participant or spectator stopped following the session.
// Spectators and lobby participants are forgotten; once started, participants keep their record.
func (c *Coordinator) Leave(participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == domain.StatusCompleted {
		return domain.ErrSessionClosed
	}
	switch {
	case c.removeSpectatorLocked(participantID):
	case c.status == domain.StatusWaiting && c.board.Remove(participantID):
	case c.board.Has(participantID):
	default:
		return domain.ErrParticipantNotFound
	}
	c.emitLocked(EventPlayerLeft, PlayerLeftPayload{ParticipantID: participantID})
	return nil
}

// SetReady flags a lobby participant as ready (or not). Repeating the current value is a no-op.
func (c *Coordinator) SetReady(participantID string, ready bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case domain.StatusCompleted:
		return domain.ErrSessionClosed
	case domain.StatusActive:
		return errSessionInProgress
	}
	changed, err := c.board.SetReady(participantID, ready)
	if err != nil || !changed {
		return err
	}
	c.emitLocked(EventPlayerReady, PlayerReadyPayload{
		ParticipantID: participantID,
		Ready:         ready,
		ReadyCount:    c.board.ReadyCount(),
		Total:         c.board.Len(),
	})
	return nil
}

// Start moves a waiting session to active and opens the first round.
func (c *Coordinator) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case domain.StatusCompleted:
		return domain.ErrSessionClosed
	case domain.StatusActive:
		return domain.ErrAlreadyStarted
	}
	minimum := 1
	if c.mode == domain.ModeBattleRoyale {
		minimum = 2
	}
	if c.board.Len() < minimum {
		return domain.ErrNotEnoughPlayers
	}

	now := c.clock.Now()
	c.status = domain.StatusActive
	c.startedAt = &now
	log.Info().Str("session_id", c.id).Str("mode", string(c.mode)).Int("participants", c.board.Len()).Msg("session started")
	c.emitLocked(EventSessionStarted, SessionStartedPayload{Mode: c.mode, Participants: c.board.Snapshot()})
	c.beginRoundLocked()
	return nil
}

// SubmitAnswer records the first answer of an active participant for the open round.
// Battle-royale rounds reuse questions, so there the answer must name its round.
// When every active participant has answered, the round resolves immediately.
func (c *Coordinator) SubmitAnswer(ctx context.Context, participantID string, answer domain.AnswerSubmission) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case domain.StatusCompleted:
		return domain.ErrSessionClosed
	case domain.StatusWaiting:
		return domain.ErrNotStarted
	}
	if !c.board.Has(participantID) {
		if c.isSpectatorLocked(participantID) {
			return domain.ErrSpectatorCannotAct
		}
		return domain.ErrParticipantNotFound
	}
	if !c.board.IsActive(participantID) {
		return errParticipantEliminated
	}
	if c.mode == domain.ModeBattleRoyale && answer.Round <= 0 {
		return errRoundMissing
	}
	if c.phase != phaseQuestion || answer.QuestionIndex != c.questionIndex {
		return domain.ErrStaleAnswer
	}
	if answer.Round > 0 && answer.Round != c.round {
		return domain.ErrStaleAnswer
	}
	if _, dup := c.answers[participantID]; dup {
		return domain.ErrStaleAnswer
	}

	c.answers[participantID] = answer.Value
	if c.allAnsweredLocked() {
		c.resolveLocked(ctx)
	}
	return nil
}

// NextRound forces the battle-royale round forward: an open question is resolved now,
// and a pending pause is skipped.
func (c *Coordinator) NextRound(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.battleRoyaleActiveLocked(); err != nil {
		return err
	}
	switch c.phase {
	case phaseQuestion:
		c.resolveLocked(ctx)
	case phaseIntermission:
		c.roundClock.Cancel()
		c.beginRoundLocked()
	}
	return nil
}

// Eliminate removes a battle-royale participant outside the scoring path.
// round <= 0 means the current round.
func (c *Coordinator) Eliminate(ctx context.Context, participantID string, round int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.battleRoyaleActiveLocked(); err != nil {
		return err
	}
	if round <= 0 {
		round = c.round
	}
	if round > c.round {
		return errRoundInFuture
	}
	if err := c.eliminateLocked(participantID, round); err != nil {
		return err
	}
	if c.lastStandingLocked(ctx) {
		return nil
	}
	if c.phase == phaseQuestion && c.allAnsweredLocked() {
		c.resolveLocked(ctx)
	}
	return nil
}

// DeclareWinner completes a battle-royale session with participantID as winner.
// bonusXP <= 0 falls back to the configured default.
func (c *Coordinator) DeclareWinner(ctx context.Context, participantID string, bonusXP int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.battleRoyaleActiveLocked(); err != nil {
		return err
	}
	if !c.board.Has(participantID) {
		return domain.ErrParticipantNotFound
	}
	if bonusXP <= 0 {
		bonusXP = c.cfg.DefaultBonusXP
	}
	c.completeLocked(ctx, participantID, bonusXP)
	return nil
}

// Snapshot returns an independent copy of the session state.
func (c *Coordinator) Snapshot() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Stop disarms any pending clock. Commands still work but timers no longer fire.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token++
	c.roundClock.Cancel()
}

func (c *Coordinator) battleRoyaleActiveLocked() error {
	if c.mode != domain.ModeBattleRoyale {
		return domain.ErrWrongMode
	}
	switch c.status {
	case domain.StatusCompleted:
		return domain.ErrSessionClosed
	case domain.StatusWaiting:
		return domain.ErrNotStarted
	}
	return nil
}

func (c *Coordinator) beginRoundLocked() {
	c.round++
	c.token++
	c.phase = phaseQuestion
	c.answers = make(map[string]string)

	if c.mode == domain.ModeBattleRoyale {
		c.questionIndex = (c.round - 1) % len(c.questions)
		if c.round > 1 {
			c.emitLocked(EventNextRound, NextRoundPayload{Round: c.round, ActiveCount: c.board.ActiveCount()})
		}
	} else {
		c.questionIndex = c.round - 1
	}

	q := c.questions[c.questionIndex]
	c.emitLocked(EventQuestion, QuestionPayload{
		Index:       c.questionIndex,
		Round:       c.round,
		Prompt:      q.Prompt,
		Options:     append([]string(nil), q.Options...),
		TimeSeconds: int(c.cfg.QuestionTime / time.Second),
	})

	token := c.token
	c.roundClock.Arm(c.cfg.QuestionTime, func() { c.expire(token) })
	log.Debug().Str("session_id", c.id).Int("round", c.round).Int("question", c.questionIndex).Msg("round opened")
}

// expire is the RoundClock re-entry point; it queues on mu like any other command.
func (c *Coordinator) expire(token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.token || c.phase != phaseQuestion {
		return
	}
	c.resolveLocked(context.Background())
}

func (c *Coordinator) advance(token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.token || c.phase != phaseIntermission {
		return
	}
	c.beginRoundLocked()
}

func (c *Coordinator) resolveLocked(ctx context.Context) {
	c.roundClock.Cancel()
	c.token++
	c.phase = phaseIntermission

	q := c.questions[c.questionIndex]
	for id, points := range c.engine.Score(q, c.answers) {
		if points > 0 && c.board.IsActive(id) {
			_ = c.board.RecordAnswer(id, points)
		}
	}
	submitted := make(map[string]string, len(c.answers))
	for id, v := range c.answers {
		submitted[id] = v
	}
	c.emitLocked(EventResult, ResultPayload{
		Index:            c.questionIndex,
		Round:            c.round,
		SubmittedAnswers: submitted,
		Scores:           c.board.Scores(),
		CorrectAnswer:    q.CorrectOption,
	})

	for _, id := range c.engine.Cut(c.board.Active()) {
		_ = c.eliminateLocked(id, c.round)
	}

	if c.mode == domain.ModeBattleRoyale {
		if c.lastStandingLocked(ctx) {
			return
		}
	} else if c.questionIndex+1 >= len(c.questions) {
		c.completeLocked(ctx, "", 0)
		return
	}

	if c.cfg.ResultPause <= 0 {
		c.beginRoundLocked()
		return
	}
	token := c.token
	c.roundClock.Arm(c.cfg.ResultPause, func() { c.advance(token) })
}

func (c *Coordinator) eliminateLocked(participantID string, round int) error {
	if err := c.board.ApplyElimination(participantID, round); err != nil {
		return err
	}
	c.eliminated = append(c.eliminated, participantID)
	c.emitLocked(EventPlayerEliminated, PlayerEliminatedPayload{ParticipantID: participantID, Round: round})
	return nil
}

// lastStandingLocked completes a battle-royale session once at most one participant is active.
func (c *Coordinator) lastStandingLocked(ctx context.Context) bool {
	active := c.board.Active()
	switch len(active) {
	case 0:
		c.completeLocked(ctx, "", 0)
		return true
	case 1:
		c.completeLocked(ctx, active[0].ID, c.cfg.DefaultBonusXP)
		return true
	}
	return false
}

func (c *Coordinator) completeLocked(ctx context.Context, winnerID string, bonusXP int) {
	c.roundClock.Cancel()
	c.token++
	c.phase = phaseDone
	c.status = domain.StatusCompleted
	now := c.clock.Now()
	c.endedAt = &now
	c.winnerID = winnerID

	if winnerID != "" {
		c.emitLocked(EventWinner, WinnerPayload{ParticipantID: winnerID})
	}
	c.emitLocked(EventGameOver, GameOverPayload{
		FinalScores: c.board.Scores(),
		Ranking:     c.board.Ranking(winnerID),
		WinnerID:    winnerID,
	})
	log.Info().Str("session_id", c.id).Str("winner_id", winnerID).Int("rounds", c.round).Msg("session completed")

	if c.onComplete != nil {
		c.onComplete(ctx, Completion{State: c.snapshotLocked(), BonusXP: bonusXP})
	}
}

func (c *Coordinator) allAnsweredLocked() bool {
	active := c.board.Active()
	if len(active) == 0 {
		return false
	}
	for _, p := range active {
		if _, ok := c.answers[p.ID]; !ok {
			return false
		}
	}
	return true
}

func (c *Coordinator) addSpectatorLocked(participantID string) error {
	if c.isSpectatorLocked(participantID) {
		return domain.ErrAlreadyJoined
	}
	c.spectators = append(c.spectators, participantID)
	c.emitLocked(EventSpectatorJoined, SpectatorJoinedPayload{ParticipantID: participantID})
	return nil
}

func (c *Coordinator) isSpectatorLocked(participantID string) bool {
	for _, id := range c.spectators {
		if id == participantID {
			return true
		}
	}
	return false
}

func (c *Coordinator) removeSpectatorLocked(participantID string) bool {
	for i, id := range c.spectators {
		if id == participantID {
			c.spectators = append(c.spectators[:i], c.spectators[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Coordinator) emitLocked(eventType string, payload any) {
	if c.events == nil {
		return
	}
	c.events.Broadcast(Event{Type: eventType, SessionID: c.id, Payload: payload, At: c.clock.Now()})
}

func (c *Coordinator) snapshotLocked() domain.SessionState {
	state := domain.SessionState{
		ID:                   c.id,
		Mode:                 c.mode,
		Status:               c.status,
		InitiatorID:          c.initiatorID,
		Round:                c.round,
		CurrentQuestionIndex: c.questionIndex,
		Participants:         c.board.Snapshot(),
		Spectators:           append([]string(nil), c.spectators...),
		Questions:            domain.CopyQuestions(c.questions),
		EliminatedIDs:        append([]string{}, c.eliminated...),
		WinnerID:             c.winnerID,
		CreatedAt:            c.createdAt,
	}
	if c.startedAt != nil {
		t := *c.startedAt
		state.StartedAt = &t
	}
	if c.endedAt != nil {
		t := *c.endedAt
		state.EndedAt = &t
	}
	return state
}
