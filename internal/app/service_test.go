package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quiz-arena-service/internal/app"
	"quiz-arena-service/internal/app/mocks"
	"quiz-arena-service/internal/domain"
	"quiz-arena-service/internal/infra/memory"
)

const grace = 30 * time.Second

type serviceHarness struct {
	svc      *app.GameService
	registry *memory.SessionRegistry
	store    *memory.SnapshotStore
	events   *recorder
	clock    *clockwork.FakeClock
}

func newService(t *testing.T, store app.SnapshotStore, rewards *app.Rewarder) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		registry: memory.NewSessionRegistry(),
		events:   &recorder{},
		clock:    clockwork.NewFakeClock(),
	}
	if store == nil {
		h.store = memory.NewSnapshotStore()
		store = h.store
	}
	loader := memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"geo": {ID: "geo", Questions: questions(3)},
	})
	cfg := app.DefaultConfig()
	cfg.ResultPause = 0
	cfg.CompletionGrace = grace
	h.svc = app.NewGameService(h.registry, memory.NewQuizRepository(loader, time.Minute), store, rewards, h.events,
		app.WithConfig(cfg),
		app.WithClock(h.clock),
		app.WithPersistRetry(zeroRetry),
	)
	return h
}

func (h *serviceHarness) create(t *testing.T, id string, mode domain.Mode) domain.SessionState {
	t.Helper()
	state, err := h.svc.CreateSession(context.Background(), app.CreateSessionInput{
		SessionID: id,
		IssuerID:  "host",
		Mode:      mode,
		Questions: questions(2),
	})
	require.NoError(t, err)
	return state
}

func zeroRetry() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func TestCreateSession(t *testing.T) {
	h := newService(t, nil, nil)
	ctx := context.Background()

	state := h.create(t, "s-1", domain.ModeBattleRoyale)
	assert.Equal(t, domain.StatusWaiting, state.Status)
	assert.Equal(t, "host", state.InitiatorID)
	require.Len(t, state.Participants, 1, "battle royale seeds the host")

	stored, err := h.store.FindByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, stored.Status)
	assert.Equal(t, 1, h.events.count(app.EventSessionCreated))

	_, err = h.svc.CreateSession(ctx, app.CreateSessionInput{SessionID: "s-1", IssuerID: "host", Questions: questions(1)})
	require.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestCreateSessionValidation(t *testing.T) {
	h := newService(t, nil, nil)
	ctx := context.Background()

	_, err := h.svc.CreateSession(ctx, app.CreateSessionInput{IssuerID: "u1", InitiatorID: "u2", Questions: questions(1)})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.CreateSession(ctx, app.CreateSessionInput{IssuerID: "u1"})
	require.ErrorIs(t, err, domain.ErrEmptyQuestionSet)

	_, err = h.svc.CreateSession(ctx, app.CreateSessionInput{IssuerID: "u1", Mode: "relay", Questions: questions(1)})
	require.ErrorIs(t, err, domain.ErrUnknownMode)

	_, err = h.svc.CreateSession(ctx, app.CreateSessionInput{IssuerID: "u1", QuizID: "missing"})
	require.ErrorIs(t, err, domain.ErrQuizNotFound)
	assert.Zero(t, h.registry.Len())
}

func TestCreateSessionFromQuiz(t *testing.T) {
	h := newService(t, nil, nil)

	state, err := h.svc.CreateSession(context.Background(), app.CreateSessionInput{
		IssuerID: "host",
		Mode:     domain.ModeSynchronous,
		QuizID:   "geo",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, state.ID)
	assert.Len(t, state.Questions, 3)
	assert.Empty(t, state.Participants)
}

type failingStore struct {
	*memory.SnapshotStore
}

func (failingStore) CreateSnapshot(context.Context, domain.SessionState) error {
	return errors.New("disk full")
}

func TestCreateSessionRollsBackWhenPersistFails(t *testing.T) {
	h := newService(t, failingStore{memory.NewSnapshotStore()}, nil)

	_, err := h.svc.CreateSession(context.Background(), app.CreateSessionInput{SessionID: "s-1", IssuerID: "host", Questions: questions(1)})
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	_, ok := h.registry.Get("s-1")
	assert.False(t, ok)
	assert.Zero(t, h.events.count(app.EventSessionCreated))
}

func TestHostOnlyCommands(t *testing.T) {
	h := newService(t, nil, nil)
	ctx := context.Background()
	h.create(t, "s-1", domain.ModeBattleRoyale)
	_, err := h.svc.Join(ctx, "s-1", "p2", "Bob")
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, "s-1"))

	require.ErrorIs(t, h.svc.Eliminate(ctx, "s-1", "p2", "host", 0), domain.ErrNotHost)
	require.ErrorIs(t, h.svc.NextRound(ctx, "s-1", "p2"), domain.ErrNotHost)
	err = h.svc.DeclareWinner(ctx, "s-1", "p2", "p2", 0)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	require.ErrorIs(t, h.svc.Start(ctx, "nope"), domain.ErrSessionNotFound)
	require.ErrorIs(t, h.svc.Leave(ctx, "nope", "p2"), domain.ErrSessionNotFound)
}

func TestJoinRehydratesWaitingSession(t *testing.T) {
	first := newService(t, nil, nil)
	first.create(t, "s-1", domain.ModeBattleRoyale)
	_, err := first.svc.Join(context.Background(), "s-1", "p2", "Bob")
	require.NoError(t, err)

	// a second node sharing the store but not the registry
	second := newService(t, first.store, nil)
	res, err := second.svc.Join(context.Background(), "s-1", "p3", "Cara")
	require.NoError(t, err)
	assert.False(t, res.Spectator)
	assert.Equal(t, 1, second.registry.Len())
	ids := make([]string, 0, len(res.State.Participants))
	for _, p := range res.State.Participants {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"host", "p3"}, ids, "snapshot is taken at creation")

	require.ErrorIs(t, second.svc.Start(context.Background(), "unknown"), domain.ErrSessionNotFound)
}

func TestJoinCompletedSnapshotIsClosed(t *testing.T) {
	h := newService(t, nil, nil)
	require.NoError(t, h.store.CreateSnapshot(context.Background(), domain.SessionState{
		ID:     "old",
		Mode:   domain.ModeSynchronous,
		Status: domain.StatusCompleted,
	}))

	_, err := h.svc.Join(context.Background(), "old", "p1", "Ann")
	require.ErrorIs(t, err, domain.ErrSessionClosed)

	state, err := h.svc.Snapshot(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
}

func TestCompletionPersistsAndReleases(t *testing.T) {
	h := newService(t, nil, nil)
	ctx := context.Background()
	h.create(t, "s-1", domain.ModeSynchronous)
	_, err := h.svc.Join(ctx, "s-1", "p1", "Ann")
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, "s-1"))
	require.NoError(t, h.svc.SubmitAnswer(ctx, "s-1", "p1", domain.AnswerSubmission{QuestionIndex: 0, Value: "4"}))
	require.NoError(t, h.svc.SubmitAnswer(ctx, "s-1", "p1", domain.AnswerSubmission{QuestionIndex: 1, Value: "Venus"}))

	stored, err := h.store.FindByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	p1, ok := stored.Participant("p1")
	require.True(t, ok)
	assert.Equal(t, 1, p1.Score)
	require.NotNil(t, stored.EndedAt)

	_, live := h.registry.Get("s-1")
	assert.True(t, live, "completed session stays live during the grace period")
	require.ErrorIs(t, h.svc.SubmitAnswer(ctx, "s-1", "p1", domain.AnswerSubmission{QuestionIndex: 1, Value: "Mars"}), domain.ErrSessionClosed)

	h.clock.Advance(grace)
	require.Eventually(t, func() bool { return h.events.releasedCount() == 1 }, time.Second, 5*time.Millisecond)
	_, live = h.registry.Get("s-1")
	assert.False(t, live)

	require.ErrorIs(t, h.svc.SubmitAnswer(ctx, "s-1", "p1", domain.AnswerSubmission{QuestionIndex: 1, Value: "Mars"}), domain.ErrSessionClosed)
	state, err := h.svc.Snapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
}

func TestConcurrentDeclareWinnerAwardsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserProvider(ctrl)
	badges := mocks.NewMockBadgeProvider(ctrl)
	awardedAt := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	users.EXPECT().FindByID(gomock.Any(), "p2").Return(domain.UserProfile{ID: "p2", XP: 40}, nil).Times(1)
	users.EXPECT().Update(gomock.Any(), "p2", domain.UserUpdate{XP: 1040}).Return(domain.UserProfile{ID: "p2", XP: 1040}, nil).Times(1)
	badges.EXPECT().HasBadge(gomock.Any(), "p2", "battle_royale_winner").Return(false, nil).Times(1)
	badges.EXPECT().Award(gomock.Any(), "p2", "battle_royale_winner").
		Return(domain.BadgeRecord{ParticipantID: "p2", BadgeID: "battle_royale_winner", AwardedAt: awardedAt}, nil).Times(1)

	h := newService(t, nil, app.NewRewarder(users, badges, app.WithRetryPolicy(zeroRetry)))
	ctx := context.Background()
	h.create(t, "s-1", domain.ModeBattleRoyale)
	_, err := h.svc.Join(ctx, "s-1", "p2", "Bob")
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, "s-1"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.svc.DeclareWinner(ctx, "s-1", "host", "p2", 0)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, domain.ErrSessionClosed)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, h.events.count(app.EventWinner))
	assert.Equal(t, 1, h.events.count(app.EventGameOver))
	require.Equal(t, 1, h.events.count(app.EventBadgeAwarded))
	badge := h.events.last(app.EventBadgeAwarded).Payload.(app.BadgeAwardedPayload)
	assert.Equal(t, "p2", badge.ParticipantID)
	assert.Equal(t, awardedAt, badge.AwardedAt)
}

func TestWinnerWithBadgeAlreadyHeld(t *testing.T) {
	users := memory.NewUserStore()
	badges := memory.NewBadgeStore()
	_, err := badges.Award(context.Background(), "host", "battle_royale_winner")
	require.NoError(t, err)

	h := newService(t, nil, app.NewRewarder(users, badges, app.WithRetryPolicy(zeroRetry)))
	ctx := context.Background()
	h.create(t, "s-1", domain.ModeBattleRoyale)
	_, err = h.svc.Join(ctx, "s-1", "p2", "Bob")
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, "s-1"))
	require.NoError(t, h.svc.Eliminate(ctx, "s-1", "host", "p2", 0))

	user, err := users.FindByID(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, 1000, user.XP)
	assert.Zero(t, h.events.count(app.EventBadgeAwarded))
	assert.Equal(t, "host", h.events.last(app.EventGameOver).Payload.(app.GameOverPayload).WinnerID)
}

type lostUpdateStore struct {
	*memory.SnapshotStore
}

func (lostUpdateStore) UpdateSnapshot(context.Context, domain.SessionState) error {
	return errors.New("db down")
}

func TestCompletedSessionStaysClosedWhenFinalPersistFails(t *testing.T) {
	store := lostUpdateStore{memory.NewSnapshotStore()}
	h := newService(t, store, nil)
	ctx := context.Background()
	h.create(t, "s-1", domain.ModeSynchronous)
	_, err := h.svc.Join(ctx, "s-1", "p1", "Ann")
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, "s-1"))
	require.NoError(t, h.svc.SubmitAnswer(ctx, "s-1", "p1", domain.AnswerSubmission{QuestionIndex: 0, Value: "4"}))
	require.NoError(t, h.svc.SubmitAnswer(ctx, "s-1", "p1", domain.AnswerSubmission{QuestionIndex: 1, Value: "Mars"}))

	stored, err := store.FindByID(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusWaiting, stored.Status, "only the creation snapshot reached the store")

	h.clock.Advance(grace)
	require.Eventually(t, func() bool { return h.events.releasedCount() == 1 }, time.Second, 5*time.Millisecond)

	_, live := h.registry.Get("s-1")
	assert.True(t, live)
	_, err = h.svc.Join(ctx, "s-1", "p2", "Bob")
	require.ErrorIs(t, err, domain.ErrSessionClosed)
	require.ErrorIs(t, h.svc.Start(ctx, "s-1"), domain.ErrSessionClosed)

	state, err := h.svc.Snapshot(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
}

func TestCreateSessionRejectsUnsafeIDs(t *testing.T) {
	h := newService(t, nil, nil)

	for _, id := range []string{"a.b", "quiz.*", "s>1", "has space", string(make([]byte, 65))} {
		_, err := h.svc.CreateSession(context.Background(), app.CreateSessionInput{SessionID: id, IssuerID: "host", Questions: questions(1)})
		require.ErrorIs(t, err, domain.ErrInvalidInput, "id %q", id)
	}
	assert.Zero(t, h.registry.Len())

	h.create(t, "Room_42-b", domain.ModeSynchronous)
}

func TestListSessions(t *testing.T) {
	h := newService(t, nil, nil)
	ctx := context.Background()
	h.create(t, "s-1", domain.ModeSynchronous)
	h.clock.Advance(time.Second)
	h.create(t, "s-2", domain.ModeBattleRoyale)
	_, err := h.svc.Join(ctx, "s-1", "p1", "Ann")
	require.NoError(t, err)

	waiting, err := h.svc.ListSessions(ctx, domain.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, "s-2", waiting[0].ID, "newest first")
	assert.Len(t, waiting[1].Participants, 1, "live sessions report their current lobby")

	require.NoError(t, h.svc.Start(ctx, "s-1"))
	waiting, err = h.svc.ListSessions(ctx, domain.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "s-2", waiting[0].ID)

	all, err := h.svc.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = h.svc.ListSessions(ctx, "paused")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSetReadyThroughService(t *testing.T) {
	h := newService(t, nil, nil)
	ctx := context.Background()
	h.create(t, "s-1", domain.ModeSynchronous)
	_, err := h.svc.Join(ctx, "s-1", "p1", "Ann")
	require.NoError(t, err)

	require.NoError(t, h.svc.SetReady(ctx, "s-1", "p1", true))
	state, err := h.svc.Snapshot(ctx, "s-1")
	require.NoError(t, err)
	p1, _ := state.Participant("p1")
	assert.True(t, p1.Ready)
	require.ErrorIs(t, h.svc.SetReady(ctx, "nope", "p1", true), domain.ErrSessionNotFound)
}

type flakyStore struct {
	*memory.SnapshotStore
	failures *atomic.Int32
}

func (s flakyStore) UpdateSnapshot(ctx context.Context, state domain.SessionState) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("db down")
	}
	return s.SnapshotStore.UpdateSnapshot(ctx, state)
}

func TestFinalPersistRetriedAfterGrace(t *testing.T) {
	failures := &atomic.Int32{}
	failures.Store(3) // every attempt made at completion
	store := flakyStore{SnapshotStore: memory.NewSnapshotStore(), failures: failures}
	h := newService(t, store, nil)
	ctx := context.Background()
	h.create(t, "s-1", domain.ModeSynchronous)
	_, err := h.svc.Join(ctx, "s-1", "p1", "Ann")
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, "s-1"))
	require.NoError(t, h.svc.SubmitAnswer(ctx, "s-1", "p1", domain.AnswerSubmission{QuestionIndex: 0, Value: "4"}))
	require.NoError(t, h.svc.SubmitAnswer(ctx, "s-1", "p1", domain.AnswerSubmission{QuestionIndex: 1, Value: "Mars"}))

	h.clock.Advance(grace)
	require.Eventually(t, func() bool { return h.events.releasedCount() == 1 }, time.Second, 5*time.Millisecond)
	_, live := h.registry.Get("s-1")
	assert.False(t, live)

	stored, err := store.FindByID(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	_, err = h.svc.Join(ctx, "s-1", "p2", "Bob")
	require.ErrorIs(t, err, domain.ErrSessionClosed)
}
