package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
	"github.com/rs/zerolog/log"
)

// MemberLister returns the connections of a session's room
type MemberLister interface {
	MembersOf(sessionID string, exclude room.Conn) []room.Conn
}

// Fanout delivers session events to every member of a room
type Fanout struct {
	members MemberLister
	clock   clockwork.Clock
}

// NewFanout creates a fan-out over a membership table
func NewFanout(members MemberLister, clock clockwork.Clock) *Fanout {
	return &Fanout{members: members, clock: clock}
}

// Broadcast sends an event to every member of sessionID except originator
// (which may be nil). Each member is attempted independently; a failed
// delivery is logged and does not affect the others or the caller. The only
// error returned is a payload that cannot be encoded.
func (f *Fanout) Broadcast(sessionID string, eventType events.EventType, payload any, originator room.Conn) (*events.SessionEvent, error) {
	event, data, err := f.encode(sessionID, eventType, payload)
	if err != nil {
		return nil, err
	}

	targets := f.members.MembersOf(sessionID, originator)
	failed := 0
	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			failed++
			log.Warn().
				Err(err).
				Str("connection_id", conn.ID()).
				Str("session_id", sessionID).
				Str("event_type", string(eventType)).
				Msg("dropping event for unreachable connection")
		}
	}

	log.Debug().
		Str("event_type", string(eventType)).
		Str("session_id", sessionID).
		Int("connections", len(targets)).
		Int("failed", failed).
		Msg("event broadcasted")

	return event, nil
}

// SendTo delivers an event to a single connection
func (f *Fanout) SendTo(conn room.Conn, sessionID string, eventType events.EventType, payload any) (*events.SessionEvent, error) {
	event, data, err := f.encode(sessionID, eventType, payload)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(data); err != nil {
		return event, fmt.Errorf("send %s to %s: %w", eventType, conn.ID(), err)
	}
	return event, nil
}

// encode marshals the envelope once so every target gets the same bytes
func (f *Fanout) encode(sessionID string, eventType events.EventType, payload any) (*events.SessionEvent, []byte, error) {
	event, err := events.NewSessionEvent(sessionID, eventType, payload, f.clock.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return event, data, nil
}
