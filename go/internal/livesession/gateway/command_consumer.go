package gateway

import (
	"errors"
	"fmt"

	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// CommandHandler applies a decoded command. conn is nil for commands that did
// not come from a websocket.
type CommandHandler interface {
	Handle(conn room.Conn, cmd events.Command) error
}

// CommandConsumer accepts already-authorized presenter commands from NATS.
//
// Core NATS, not JetStream: commands are live and must not be replayed after
// a restart. Every gateway instance subscribes without a queue group since each
// one owns its own rooms.
type CommandConsumer struct {
	nc      *nats.Conn
	handler CommandHandler
	subject string
	sub     *nats.Subscription
}

// NewCommandConsumer creates a consumer on <prefix>.commands.>
func NewCommandConsumer(nc *nats.Conn, handler CommandHandler, config NATSConfig) *CommandConsumer {
	return &CommandConsumer{
		nc:      nc,
		handler: handler,
		subject: CommandSubject(config.SubjectPrefix),
	}
}

// Start subscribes and returns immediately; messages are handled on the NATS
// delivery goroutine.
func (c *CommandConsumer) Start() error {
	sub, err := c.nc.Subscribe(c.subject, func(msg *nats.Msg) {
		c.processMessage(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.subject, err)
	}
	c.sub = sub

	log.Info().
		Str("subject", c.subject).
		Msg("NATS command consumer started")
	return nil
}

// processMessage decodes and applies one command. Invalid commands have no
// originator to reply to, so they are logged and dropped.
func (c *CommandConsumer) processMessage(subject string, data []byte) {
	cmd, err := events.DecodeCommand(data)
	if err == nil {
		err = c.handler.Handle(nil, cmd)
	}
	if err != nil {
		level := log.Error()
		if errors.Is(err, events.ErrInvalidCommand) {
			level = log.Warn()
		}
		level.
			Err(err).
			Str("subject", subject).
			Str("session_id", cmd.SessionID).
			Str("command", string(cmd.Type)).
			Msg("dropping NATS command")
		return
	}

	log.Debug().
		Str("subject", subject).
		Str("session_id", cmd.SessionID).
		Str("command", string(cmd.Type)).
		Msg("applied NATS command")
}

// Stop drains the subscription
func (c *CommandConsumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	log.Info().Msg("stopping NATS command consumer")
	if err := c.sub.Drain(); err != nil {
		return fmt.Errorf("drain command subscription: %w", err)
	}
	return nil
}
