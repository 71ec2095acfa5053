package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"quiz-arena-service/internal/domain"
)

//go:generate mockgen -package=mocks -destination=mocks/mock_rewards.go quiz-arena-service/internal/app UserProvider,BadgeProvider

// UserProvider reads and updates user profiles for XP awards.
type UserProvider interface {
	FindByID(ctx context.Context, id string) (domain.UserProfile, error)
	Update(ctx context.Context, id string, update domain.UserUpdate) (domain.UserProfile, error)
}

// BadgeProvider grants badges. Award returns domain.ErrBadgeAlreadyAwarded when the grant exists.
type BadgeProvider interface {
	HasBadge(ctx context.Context, participantID, badgeID string) (bool, error)
	Award(ctx context.Context, participantID, badgeID string) (domain.BadgeRecord, error)
}

// RewardResult reports what AwardWinner actually granted.
type RewardResult struct {
	XPAwarded int
	// Badge is nil when the participant already held the badge.
	Badge *domain.BadgeRecord
}

// Rewarder grants winner bonuses against the user and badge collaborators.
type Rewarder struct {
	users  UserProvider
	badges BadgeProvider
	policy func() backoff.BackOff
	awards singleflight.Group
}

type RewarderOption func(*Rewarder)

// WithRetryPolicy replaces the backoff used for collaborator calls.
func WithRetryPolicy(policy func() backoff.BackOff) RewarderOption {
	return func(r *Rewarder) { r.policy = policy }
}

func NewRewarder(users UserProvider, badges BadgeProvider, opts ...RewarderOption) *Rewarder {
	r := &Rewarder{
		users:  users,
		badges: badges,
		policy: DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRetryPolicy retries three times with short exponential delays.
func DefaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// AwardWinner adds bonusXP to the winner and grants badgeID unless already held.
// Both grants are attempted; their errors are joined.
func (r *Rewarder) AwardWinner(ctx context.Context, participantID string, bonusXP int, badgeID string) (RewardResult, error) {
	var result RewardResult
	var errs []error

	if bonusXP > 0 && r.users != nil {
		if err := r.addXP(ctx, participantID, bonusXP); err != nil {
			errs = append(errs, fmt.Errorf("award xp: %w", err))
		} else {
			result.XPAwarded = bonusXP
		}
	}

	if badgeID != "" && r.badges != nil {
		record, err := r.awardBadge(ctx, participantID, badgeID)
		if err != nil {
			errs = append(errs, fmt.Errorf("award badge: %w", err))
		}
		result.Badge = record
	}
	return result, errors.Join(errs...)
}

func (r *Rewarder) addXP(ctx context.Context, participantID string, bonusXP int) error {
	return r.retry(ctx, func() error {
		user, err := r.users.FindByID(ctx, participantID)
		if err != nil {
			return err
		}
		_, err = r.users.Update(ctx, participantID, domain.UserUpdate{XP: user.XP + bonusXP})
		return err
	})
}

// awardBadge is check-then-act. Concurrent duplicates within the process share one flight;
// a lost race against another process surfaces as ErrBadgeAlreadyAwarded and counts as held.
func (r *Rewarder) awardBadge(ctx context.Context, participantID, badgeID string) (*domain.BadgeRecord, error) {
	v, err, _ := r.awards.Do(participantID+"\x00"+badgeID, func() (interface{}, error) {
		var record *domain.BadgeRecord
		err := r.retry(ctx, func() error {
			has, err := r.badges.HasBadge(ctx, participantID, badgeID)
			if err != nil {
				return err
			}
			if has {
				return nil
			}
			awarded, err := r.badges.Award(ctx, participantID, badgeID)
			if errors.Is(err, domain.ErrBadgeAlreadyAwarded) {
				return nil
			}
			if err != nil {
				return err
			}
			record = &awarded
			return nil
		})
		return record, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.BadgeRecord), nil
}

func (r *Rewarder) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(r.policy(), ctx))
}
