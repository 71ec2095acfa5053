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

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID          string    `bun:"id,pk"`
	DisplayName string    `bun:"display_name,notnull"`
	XP          int       `bun:"xp,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

type badgeRow struct {
	bun.BaseModel `bun:"table:user_badges"`

	UserID    string    `bun:"user_id,pk"`
	BadgeID   string    `bun:"badge_id,pk"`
	AwardedAt time.Time `bun:"awarded_at,notnull"`
}

// UserStore keeps XP totals in the users table. Profiles are created lazily on first lookup.
type UserStore struct {
	db *bun.DB
}

func NewUserStore(db *bun.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) FindByID(ctx context.Context, id string) (domain.UserProfile, error) {
	seed := userRow{ID: id, DisplayName: id, UpdatedAt: time.Now().UTC()}
	if _, err := s.db.NewInsert().Model(&seed).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return domain.UserProfile{}, fmt.Errorf("ensure user %s: %w", id, err)
	}
	var row userRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("select user %s: %w", id, err)
	}
	return row.toProfile(), nil
}

func (s *UserStore) Update(ctx context.Context, id string, update domain.UserUpdate) (domain.UserProfile, error) {
	row := userRow{ID: id, XP: update.XP, UpdatedAt: time.Now().UTC()}
	err := s.db.NewUpdate().
		Model(&row).
		Column("xp", "updated_at").
		WherePK().
		Returning("*").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("update user %s: %w", id, err)
	}
	return row.toProfile(), nil
}

func (r userRow) toProfile() domain.UserProfile {
	return domain.UserProfile{ID: r.ID, DisplayName: r.DisplayName, XP: r.XP}
}

// BadgeStore grants badges through the user_badges table; its primary key makes grants unique.
type BadgeStore struct {
	db *bun.DB
}

func NewBadgeStore(db *bun.DB) *BadgeStore {
	return &BadgeStore{db: db}
}

func (s *BadgeStore) HasBadge(ctx context.Context, participantID, badgeID string) (bool, error) {
	return s.db.NewSelect().
		Model((*badgeRow)(nil)).
		Where("user_id = ?", participantID).
		Where("badge_id = ?", badgeID).
		Exists(ctx)
}

func (s *BadgeStore) Award(ctx context.Context, participantID, badgeID string) (domain.BadgeRecord, error) {
	row := badgeRow{UserID: participantID, BadgeID: badgeID, AwardedAt: time.Now().UTC()}
	res, err := s.db.NewInsert().Model(&row).On("CONFLICT (user_id, badge_id) DO NOTHING").Exec(ctx)
	if err != nil {
		return domain.BadgeRecord{}, fmt.Errorf("insert badge %s for %s: %w", badgeID, participantID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.BadgeRecord{}, domain.ErrBadgeAlreadyAwarded
	}
	return domain.BadgeRecord{ParticipantID: row.UserID, BadgeID: row.BadgeID, AwardedAt: row.AwardedAt}, nil
}
