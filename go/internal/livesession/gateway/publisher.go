package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// EventPublisher mirrors outbound session events to downstream consumers such
// as live-stats dashboards or the service that persists submitted answers.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.SessionEvent) error
}

// NoOpPublisher drops every event. Used when no NATS URL is configured.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, *events.SessionEvent) error { return nil }

// NATSConfig holds the NATS connection and subject settings
type NATSConfig struct {
	URL           string        `yaml:"url"            env:"NATS_URL"`
	SubjectPrefix string        `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX"`
	MaxReconnects int           `yaml:"max_reconnects" env:"NATS_MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"NATS_RECONNECT_WAIT"`
}

// DefaultNATSConfig returns default NATS configuration. The empty URL leaves
// NATS disabled.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		SubjectPrefix: "live",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// ConnectNATS dials NATS with reconnect handling and logging hooks
func ConnectNATS(config NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("checkpoint-gateway"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
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

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSPublisher publishes each event on <prefix>.events.<session>.<type>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher on an established connection
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Publish(ctx context.Context, event *events.SessionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := EventSubject(p.prefix, event.SessionID, event.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", event.ID).
		Int("size", len(data)).
		Msg("event published to NATS")
	return nil
}

// EventSubject builds the subject an event is published on
func EventSubject(prefix, sessionID string, eventType events.EventType) string {
	return fmt.Sprintf("%s.events.%s.%s", prefix, subjectToken(sessionID), eventType)
}

// CommandSubject is the wildcard subject inbound commands are consumed from
func CommandSubject(prefix string) string {
	return prefix + ".commands.>"
}

// subjectToken makes an opaque session ID safe to use as one subject token
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
