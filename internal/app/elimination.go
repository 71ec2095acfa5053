package app

import (
	"sort"

	"quiz-arena-service/internal/domain"
)

// cutPercent is the share of active battle-royale participants cut per round.
const cutPercent = 20

// EliminationEngine decides per-round scoring and cuts for one mode.
type EliminationEngine interface {
	// Score returns the points earned by each submitter for question q.
	Score(q domain.Question, answers map[string]string) map[string]int
	// Cut returns the ids to eliminate given the active participants in join order.
	Cut(active []domain.Participant) []string
}

// NewEliminationEngine returns the rule set for mode.
func NewEliminationEngine(mode domain.Mode) (EliminationEngine, error) {
	switch mode {
	case domain.ModeBattleRoyale:
		return percentileEngine{percent: cutPercent}, nil
	case domain.ModeSynchronous:
		return correctnessEngine{}, nil
	default:
		return nil, domain.ErrUnknownMode
	}
}

// correctnessEngine awards one point per correct answer and never cuts.
type correctnessEngine struct{}

func (correctnessEngine) Score(q domain.Question, answers map[string]string) map[string]int {
	return scoreCorrect(q, answers)
}

func (correctnessEngine) Cut([]domain.Participant) []string {
	return nil
}

// percentileEngine scores like correctnessEngine and cuts the lowest scorers.
type percentileEngine struct {
	percent int
}

func (e percentileEngine) Score(q domain.Question, answers map[string]string) map[string]int {
	return scoreCorrect(q, answers)
}

func (e percentileEngine) Cut(active []domain.Participant) []string {
	n := CutCount(len(active), e.percent)
	if n == 0 {
		return nil
	}
	ranked := append([]domain.Participant(nil), active...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score < ranked[j].Score
	})
	return cutTies(ranked, n)
}

// cutTies picks n ids from participants sorted ascending by score. At the boundary score
// the latest joiners are cut so that earlier joiners survive ties.
func cutTies(ranked []domain.Participant, n int) []string {
	boundary := ranked[n-1].Score
	out := make([]string, 0, n)
	for _, p := range ranked {
		if p.Score < boundary {
			out = append(out, p.ID)
		}
	}
	var tied []domain.Participant
	for _, p := range ranked {
		if p.Score == boundary {
			tied = append(tied, p)
		}
	}
	// tied is in join order; take from the back.
	for i := len(tied) - 1; len(out) < n; i-- {
		out = append(out, tied[i].ID)
	}
	return out
}

// CutCount is max(1, ceil(active*percent/100)) while more than one participant is active.
func CutCount(active, percent int) int {
	if active <= 1 {
		return 0
	}
	n := (active*percent + 99) / 100
	if n < 1 {
		n = 1
	}
	if n >= active {
		n = active - 1
	}
	return n
}

func scoreCorrect(q domain.Question, answers map[string]string) map[string]int {
	out := make(map[string]int, len(answers))
	for id, value := range answers {
		if value == q.CorrectOption {
			out[id] = 1
		} else {
			out[id] = 0
		}
	}
	return out
}
