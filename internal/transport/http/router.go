package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"quiz-arena-service/internal/app"
	"quiz-arena-service/internal/domain"
)

// NewRouter wires the WebSocket gateway, health check and session history behind CORS.
func NewRouter(service *app.GameService, ws *WSHandler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", ws.ServeWS)
	mux.HandleFunc("GET /sessions", listHandler(service))
	mux.HandleFunc("GET /sessions/{id}", sessionHandler(service))
	mux.HandleFunc("GET /sessions/{id}/participants", participantsHandler(service))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// OriginChecker allows WebSocket upgrades from allowedOrigins; empty or "*" allows any origin.
func OriginChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func sessionHandler(service *app.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := service.Snapshot(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionView(state))
	}
}

type participantsResponse struct {
	SessionID    string               `json:"sessionId"`
	Status       domain.Status        `json:"status"`
	Participants []domain.Participant `json:"participants"`
	Spectators   []string             `json:"spectators"`
}

func participantsHandler(service *app.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := service.Snapshot(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, participantsResponse{
			SessionID:    state.ID,
			Status:       state.Status,
			Participants: state.Participants,
			Spectators:   append([]string{}, state.Spectators...),
		})
	}
}

// listHandler serves GET /sessions?status=waiting; without status every session is listed.
func listHandler(service *app.GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := service.ListSessions(r.Context(), domain.Status(r.URL.Query().Get("status")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		views := make([]sessionView, len(states))
		for i, state := range states {
			views[i] = newSessionView(state)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch kind := domain.KindOf(err); kind {
	case domain.KindNotFound:
		writeJSON(w, http.StatusNotFound, errorPayload{Kind: kind, Message: err.Error()})
	case domain.KindInvalidInput:
		writeJSON(w, http.StatusBadRequest, errorPayload{Kind: kind, Message: err.Error()})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("session query")
		writeJSON(w, http.StatusInternalServerError, errorPayload{Kind: domain.KindInternal, Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}
