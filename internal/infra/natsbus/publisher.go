package natsbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"quiz-arena-service/internal/app"
)

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "quiz.sessions",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Connect dials NATS with reconnect handling that logs through zerolog.
func Connect(cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("quiz-arena"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// EventPublisher mirrors session events onto <prefix>.<sessionId>.<eventType>.
type EventPublisher struct {
	conn   Conn
	prefix string
}

func NewEventPublisher(conn Conn, prefix string) *EventPublisher {
	return &EventPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Broadcast publishes ev. Failures are logged; the in-process gateway is the primary delivery path.
func (p *EventPublisher) Broadcast(ev app.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("session_id", ev.SessionID).Str("event", ev.Type).Msg("encode event")
		return
	}
	subject := p.Subject(ev.SessionID, ev.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}

// Release is a no-op; subjects need no per-session teardown.
func (p *EventPublisher) Release(string) {}

func (p *EventPublisher) Subject(sessionID, eventType string) string {
	return p.prefix + "." + sessionID + "." + eventType
}
