package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/mcdev12/checkpoint/go/internal/livesession/lifecycle"
	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 2 * time.Second

// Hub applies inbound commands: it joins connections to rooms, drives the
// checkpoint lifecycle and fans the resulting events out.
//
// Every command is handled on the caller's goroutine. Nothing here blocks on a
// peer: delivery goes through Conn.Send, which never waits.
//
// Commands that read or change a session's checkpoint hold that session's lock
// until their events are queued. A joiner's sync and the room's start and stop
// events therefore reach every connection in registry order.
type Hub struct {
	locks      sessionLocks
	members    *room.Membership
	controller *lifecycle.Controller
	fanout     *Fanout
	syncer     *Synchronizer
	publisher  EventPublisher
}

// NewHub wires the session components together. publisher may be nil.
func NewHub(state ActiveReader, members *room.Membership, controller *lifecycle.Controller, fanout *Fanout, publisher EventPublisher) *Hub {
	if publisher == nil {
		publisher = NoOpPublisher{}
	}
	return &Hub{
		members:    members,
		controller: controller,
		fanout:     fanout,
		syncer:     NewSynchronizer(state, fanout),
		publisher:  publisher,
	}
}

// Handle dispatches a decoded command. conn is the originating connection and
// is nil for commands that did not arrive over a websocket.
func (h *Hub) Handle(conn room.Conn, cmd events.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	switch cmd.Type {
	case events.CommandJoinSession:
		if conn == nil {
			return fmt.Errorf("%w: %s needs a connection", events.ErrInvalidCommand, cmd.Type)
		}
		return h.Join(conn, cmd.SessionID, cmd.UserID, cmd.Role)
	case events.CommandTriggerCheckpoint:
		return h.TriggerCheckpoint(conn, cmd.SessionID, cmd.Checkpoint, cmd.Deadline)
	case events.CommandStopCheckpoint:
		return h.StopCheckpoint(conn, cmd.SessionID)
	case events.CommandSubmitAnswer:
		return h.SubmitAnswer(conn, cmd.SessionID, cmd.CheckpointID, cmd.Answer)
	default:
		return fmt.Errorf("%w: unknown command type %q", events.ErrInvalidCommand, cmd.Type)
	}
}

// Join adds conn to the session's room and replays the running checkpoint to it
func (h *Hub) Join(conn room.Conn, sessionID, userID, role string) error {
	if sessionID == "" {
		return fmt.Errorf("join session: %w: session_id is required", events.ErrInvalidCommand)
	}
	r, err := room.ParseRole(role)
	if err != nil {
		return fmt.Errorf("join session: %w: %w", events.ErrInvalidCommand, err)
	}

	unlock := h.locks.lock(sessionID)
	defer unlock()

	h.members.Join(conn, sessionID, userID, r)
	h.syncer.Sync(conn, sessionID)
	return nil
}

// TriggerCheckpoint starts a checkpoint and notifies the rest of the room
func (h *Hub) TriggerCheckpoint(originator room.Conn, sessionID string, checkpoint json.RawMessage, deadline int64) error {
	unlock := h.locks.lock(sessionID)
	defer unlock()

	active, err := h.controller.Start(sessionID, checkpoint, deadline)
	if err != nil {
		return err
	}

	h.broadcast(sessionID, events.EventTypeCheckpointStarted, events.CheckpointPayload{
		Checkpoint: active.Checkpoint,
		Deadline:   active.Deadline,
	}, originator)
	return nil
}

// StopCheckpoint clears the session and notifies the rest of the room. The
// stop event is sent even when the session was already idle.
func (h *Hub) StopCheckpoint(originator room.Conn, sessionID string) error {
	unlock := h.locks.lock(sessionID)
	defer unlock()

	if _, err := h.controller.Stop(sessionID); err != nil {
		return err
	}

	h.broadcast(sessionID, events.EventTypeCheckpointStopped, nil, originator)
	return nil
}

// SubmitAnswer relays a viewer's answer to the rest of the room. Answers are
// neither graded nor stored here.
func (h *Hub) SubmitAnswer(originator room.Conn, sessionID, checkpointID string, answer json.RawMessage) error {
	if sessionID == "" || checkpointID == "" {
		return fmt.Errorf("submit answer: %w: session_id and checkpoint_id are required", events.ErrInvalidCommand)
	}

	payload := events.AnswerSubmittedPayload{
		CheckpointID: checkpointID,
		Answer:       answer,
	}
	if originator != nil {
		if member, ok := h.members.Lookup(originator); ok {
			payload.UserID = member.UserID
		}
	}

	h.broadcast(sessionID, events.EventTypeAnswerSubmitted, payload, originator)
	return nil
}

// Disconnect drops conn from its room. Safe to call more than once.
func (h *Hub) Disconnect(conn room.Conn) {
	member, ok := h.members.Leave(conn)
	if !ok {
		return
	}
	log.Debug().
		Str("connection_id", conn.ID()).
		Str("session_id", member.SessionID).
		Str("user_id", member.UserID).
		Msg("connection left session")
}

// WithSession runs fn under the session's lock. The expiry scheduler uses it as
// its session guard, so fn must not call back into a locking Hub method.
func (h *Hub) WithSession(sessionID string, fn func()) {
	unlock := h.locks.lock(sessionID)
	defer unlock()
	fn()
}

// CheckpointExpired is the expiry scheduler callback and runs inside
// WithSession. Nobody originated the stop, so the whole room is told.
func (h *Hub) CheckpointExpired(sessionID string, revision uint64) {
	log.Info().
		Str("session_id", sessionID).
		Uint64("revision", revision).
		Msg("broadcasting expiry stop")
	h.broadcast(sessionID, events.EventTypeCheckpointStopped, nil, nil)
}

// ReplyError sends an ERROR event straight back to the originator of a rejected command
func (h *Hub) ReplyError(conn room.Conn, cmd events.Command, cause error) {
	_, err := h.fanout.SendTo(conn, cmd.SessionID, events.EventTypeError, events.ErrorPayload{
		Command: cmd.Type,
		Message: cause.Error(),
	})
	if err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID()).Msg("failed to reply with error")
	}
}

func (h *Hub) broadcast(sessionID string, eventType events.EventType, payload any, originator room.Conn) {
	event, err := h.fanout.Broadcast(sessionID, eventType, payload, originator)
	if err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("event_type", string(eventType)).
			Msg("failed to build event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.publisher.Publish(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event_id", event.ID).
			Str("session_id", sessionID).
			Msg("failed to publish event downstream")
	}
}
