package app_test

import (
	"sync"

	"quiz-arena-service/internal/app"
	"quiz-arena-service/internal/domain"
)

// recorder is a Broadcaster that keeps every event.
type recorder struct {
	mu       sync.Mutex
	events   []app.Event
	released []string
}

func (r *recorder) Broadcast(ev app.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, sessionID)
}

func (r *recorder) all() []app.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]app.Event(nil), r.events...)
}

func (r *recorder) ofType(eventType string) []app.Event {
	var out []app.Event
	for _, ev := range r.all() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(eventType string) int {
	return len(r.ofType(eventType))
}

func (r *recorder) last(eventType string) app.Event {
	evs := r.ofType(eventType)
	if len(evs) == 0 {
		return app.Event{}
	}
	return evs[len(evs)-1]
}

func (r *recorder) releasedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.released)
}

func questions(n int) []domain.Question {
	bank := []domain.Question{
		{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectOption: "4"},
		{Prompt: "Which planet is red?", Options: []string{"Venus", "Mars"}, CorrectOption: "Mars"},
		{Prompt: "Capital of Japan?", Options: []string{"Osaka", "Tokyo"}, CorrectOption: "Tokyo"},
	}
	out := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, bank[i%len(bank)])
	}
	return out
}
