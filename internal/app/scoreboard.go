package app

import (
	"sort"
	"time"

	"quiz-arena-service/internal/domain"
)

// ScoreBoard holds the participants of one session in join order.
// It is not safe for concurrent use; the owning Coordinator serialises access.
type ScoreBoard struct {
	order   []string
	entries map[string]*domain.Participant
}

func NewScoreBoard() *ScoreBoard {
	return &ScoreBoard{entries: make(map[string]*domain.Participant)}
}

// Add registers an active participant with a zero score. It reports false if id is already present.
func (b *ScoreBoard) Add(id, displayName string, joinedAt time.Time) bool {
	if _, ok := b.entries[id]; ok {
		return false
	}
	b.entries[id] = &domain.Participant{
		ID:          id,
		DisplayName: displayName,
		Active:      true,
		JoinedAt:    joinedAt,
	}
	b.order = append(b.order, id)
	return true
}

func (b *ScoreBoard) Has(id string) bool {
	_, ok := b.entries[id]
	return ok
}

func (b *ScoreBoard) IsActive(id string) bool {
	p, ok := b.entries[id]
	return ok && p.Active
}

func (b *ScoreBoard) Len() int {
	return len(b.order)
}

// Remove forgets id. It reports false if id is unknown.
func (b *ScoreBoard) Remove(id string) bool {
	if _, ok := b.entries[id]; !ok {
		return false
	}
	delete(b.entries, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

// SetReady sets the lobby ready flag of id and reports whether it changed.
func (b *ScoreBoard) SetReady(id string, ready bool) (bool, error) {
	p, ok := b.entries[id]
	if !ok {
		return false, domain.ErrParticipantNotFound
	}
	if p.Ready == ready {
		return false, nil
	}
	p.Ready = ready
	return true, nil
}

// ReadyCount counts participants that flagged themselves ready.
func (b *ScoreBoard) ReadyCount() int {
	n := 0
	for _, p := range b.entries {
		if p.Ready {
			n++
		}
	}
	return n
}

// RecordAnswer adds points to an active participant.
func (b *ScoreBoard) RecordAnswer(id string, points int) error {
	p, ok := b.entries[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if !p.Active {
		return domain.ErrAlreadyEliminated
	}
	p.Score += points
	return nil
}

// ApplyElimination marks id inactive as of round.
func (b *ScoreBoard) ApplyElimination(id string, round int) error {
	p, ok := b.entries[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if !p.Active {
		return domain.ErrAlreadyEliminated
	}
	r := round
	p.Active = false
	p.EliminatedAtRound = &r
	return nil
}

// Active returns copies of the active participants in join order.
func (b *ScoreBoard) Active() []domain.Participant {
	out := make([]domain.Participant, 0, len(b.order))
	for _, id := range b.order {
		if p := b.entries[id]; p.Active {
			out = append(out, copyParticipant(p))
		}
	}
	return out
}

func (b *ScoreBoard) ActiveCount() int {
	n := 0
	for _, p := range b.entries {
		if p.Active {
			n++
		}
	}
	return n
}

// Snapshot returns an independent copy of every participant in join order.
func (b *ScoreBoard) Snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, copyParticipant(b.entries[id]))
	}
	return out
}

func (b *ScoreBoard) Scores() map[string]int {
	out := make(map[string]int, len(b.entries))
	for id, p := range b.entries {
		out[id] = p.Score
	}
	return out
}

// Ranking orders participants for the final standings. The winner (if any) ranks first,
// survivors above eliminated participants, later eliminations above earlier ones, then
// higher scores, then earlier joiners.
func (b *ScoreBoard) Ranking(winnerID string) []domain.RankingEntry {
	participants := b.Snapshot()
	sort.SliceStable(participants, func(i, j int) bool {
		pi, pj := participants[i], participants[j]
		if (pi.ID == winnerID) != (pj.ID == winnerID) {
			return pi.ID == winnerID
		}
		if pi.Active != pj.Active {
			return pi.Active
		}
		if !pi.Active && *pi.EliminatedAtRound != *pj.EliminatedAtRound {
			return *pi.EliminatedAtRound > *pj.EliminatedAtRound
		}
		return pi.Score > pj.Score
	})
	ranking := make([]domain.RankingEntry, len(participants))
	for i, p := range participants {
		ranking[i] = domain.RankingEntry{ParticipantID: p.ID, Score: p.Score, Rank: i + 1}
	}
	return ranking
}

func copyParticipant(p *domain.Participant) domain.Participant {
	out := *p
	if p.EliminatedAtRound != nil {
		r := *p.EliminatedAtRound
		out.EliminatedAtRound = &r
	}
	return out
}
