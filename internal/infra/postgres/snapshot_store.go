package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-arena-service/internal/domain"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:game_sessions"`

	ID                   string               `bun:"id,pk"`
	Mode                 string               `bun:"mode,notnull"`
	Status               string               `bun:"status,notnull"`
	InitiatorID          string               `bun:"initiator_id,notnull"`
	Round                int                  `bun:"round,notnull"`
	CurrentQuestionIndex int                  `bun:"current_question_index,notnull"`
	Participants         []domain.Participant `bun:"participants,type:jsonb,notnull"`
	Spectators           []string             `bun:"spectators,type:jsonb,notnull"`
	Questions            []domain.Question    `bun:"questions,type:jsonb,notnull"`
	EliminatedIDs        []string             `bun:"eliminated_ids,type:jsonb,notnull"`
	WinnerID             string               `bun:"winner_id,nullzero"`
	CreatedAt            time.Time            `bun:"created_at,notnull"`
	StartedAt            *time.Time           `bun:"started_at"`
	EndedAt              *time.Time           `bun:"ended_at"`
	UpdatedAt            time.Time            `bun:"updated_at,notnull"`
}

// SnapshotStore persists session snapshots in the game_sessions table.
type SnapshotStore struct {
	db *bun.DB
}

func NewSnapshotStore(db *bun.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) CreateSnapshot(ctx context.Context, state domain.SessionState) error {
	row := toSessionRow(state)
	res, err := s.db.NewInsert().Model(&row).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", state.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionExists
	}
	return nil
}

func (s *SnapshotStore) UpdateSnapshot(ctx context.Context, state domain.SessionState) error {
	row := toSessionRow(state)
	res, err := s.db.NewUpdate().Model(&row).ExcludeColumn("created_at").WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("update session %s: %w", state.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SnapshotStore) FindByID(ctx context.Context, id string) (domain.SessionState, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("select session %s: %w", id, err)
	}
	return row.toState(), nil
}

func (s *SnapshotStore) ListSnapshots(ctx context.Context, status domain.Status) ([]domain.SessionState, error) {
	var rows []sessionRow
	q := s.db.NewSelect().Model(&rows).Order("created_at DESC", "id ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.SessionState, len(rows))
	for i, row := range rows {
		out[i] = row.toState()
	}
	return out, nil
}

func toSessionRow(state domain.SessionState) sessionRow {
	return sessionRow{
		ID:                   state.ID,
		Mode:                 string(state.Mode),
		Status:               string(state.Status),
		InitiatorID:          state.InitiatorID,
		Round:                state.Round,
		CurrentQuestionIndex: state.CurrentQuestionIndex,
		Participants:         nonNil(state.Participants),
		Spectators:           nonNil(state.Spectators),
		Questions:            nonNil(state.Questions),
		EliminatedIDs:        nonNil(state.EliminatedIDs),
		WinnerID:             state.WinnerID,
		CreatedAt:            state.CreatedAt,
		StartedAt:            state.StartedAt,
		EndedAt:              state.EndedAt,
		UpdatedAt:            time.Now().UTC(),
	}
}

func (r sessionRow) toState() domain.SessionState {
	return domain.SessionState{
		ID:                   r.ID,
		Mode:                 domain.Mode(r.Mode),
		Status:               domain.Status(r.Status),
		InitiatorID:          r.InitiatorID,
		Round:                r.Round,
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		Participants:         r.Participants,
		Spectators:           r.Spectators,
		Questions:            r.Questions,
		EliminatedIDs:        r.EliminatedIDs,
		WinnerID:             r.WinnerID,
		CreatedAt:            r.CreatedAt,
		StartedAt:            r.StartedAt,
		EndedAt:              r.EndedAt,
	}
}

// nonNil keeps jsonb columns as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
