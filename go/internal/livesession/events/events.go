package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionEvent is the envelope pushed to clients for every outbound event
type SessionEvent struct {
	ID        string          `json:"id"`         // Event UUID
	SessionID string          `json:"session_id"` // Session the event belongs to
	Type      EventType       `json:"type"`       // Event type
	Timestamp time.Time       `json:"timestamp"`  // Event creation time
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType represents the type of outbound session event
type EventType string

const (
	EventTypeSyncCurrentCheckpoint EventType = "SYNC_CURRENT_CHECKPOINT"
	EventTypeCheckpointStarted     EventType = "CHECKPOINT_STARTED"
	EventTypeCheckpointStopped     EventType = "CHECKPOINT_STOPPED"
	EventTypeAnswerSubmitted       EventType = "ANSWER_SUBMITTED"
	EventTypeError                 EventType = "ERROR"
)

// CheckpointPayload carries an opaque checkpoint and its absolute deadline.
// Used by both CHECKPOINT_STARTED and SYNC_CURRENT_CHECKPOINT.
type CheckpointPayload struct {
	Checkpoint json.RawMessage `json:"checkpoint"`
	Deadline   int64           `json:"deadline"`
}

// AnswerSubmittedPayload is relayed to live-stats consumers; answers are not graded here
type AnswerSubmittedPayload struct {
	CheckpointID string          `json:"checkpoint_id"`
	UserID       string          `json:"user_id,omitempty"`
	Answer       json.RawMessage `json:"answer"`
}

// ErrorPayload is sent back to the originator of a rejected command
type ErrorPayload struct {
	Command CommandType `json:"command,omitempty"`
	Message string      `json:"message"`
}

// NewSessionEvent builds an envelope with a fresh ID. A nil payload leaves Data empty.
func NewSessionEvent(sessionID string, eventType EventType, payload any, now time.Time) (*SessionEvent, error) {
	event := &SessionEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: now,
	}
	if payload == nil {
		return event, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	event.Data = data
	return event, nil
}

// ParseEventPayload decodes event data into the payload struct for its type
func ParseEventPayload(event *SessionEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeCheckpointStarted, EventTypeSyncCurrentCheckpoint:
		var payload CheckpointPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAnswerSubmitted:
		var payload AnswerSubmittedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeError:
		var payload ErrorPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // CHECKPOINT_STOPPED and unknown types carry no payload
	}
}
