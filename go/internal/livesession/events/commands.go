package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCommand is returned for commands with a missing or malformed required field.
// Nothing is mutated when a command is rejected with it.
var ErrInvalidCommand = errors.New("invalid command")

// CommandType represents the type of inbound command
type CommandType string

const (
	CommandJoinSession       CommandType = "JOIN_SESSION"
	CommandTriggerCheckpoint CommandType = "TRIGGER_CHECKPOINT"
	CommandStopCheckpoint    CommandType = "STOP_CHECKPOINT"
	CommandSubmitAnswer      CommandType = "SUBMIT_ANSWER"
)

// Command is the wire form of every inbound command. Fields not used by a
// command type are ignored.
type Command struct {
	Type         CommandType     `json:"type"`
	SessionID    string          `json:"session_id"`
	UserID       string          `json:"user_id,omitempty"`
	Role         string          `json:"role,omitempty"`
	Checkpoint   json.RawMessage `json:"checkpoint,omitempty"`
	Deadline     int64           `json:"deadline,omitempty"`
	CheckpointID string          `json:"checkpoint_id,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
}

// DecodeCommand parses a raw frame and validates it
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: malformed json: %v", ErrInvalidCommand, err)
	}
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// Validate checks the fields required by the command type
func (c Command) Validate() error {
	if c.SessionID == "" {
		return invalid("session_id is required")
	}

	switch c.Type {
	case CommandJoinSession:
		// role is checked by the room package when the join is applied
		return nil
	case CommandTriggerCheckpoint:
		if isEmptyJSON(c.Checkpoint) {
			return invalid("checkpoint is required")
		}
		if c.Deadline <= 0 {
			return invalid("deadline must be a positive epoch millisecond timestamp")
		}
		return nil
	case CommandStopCheckpoint:
		return nil
	case CommandSubmitAnswer:
		if c.CheckpointID == "" {
			return invalid("checkpoint_id is required")
		}
		if isEmptyJSON(c.Answer) {
			return invalid("answer is required")
		}
		return nil
	case "":
		return invalid("type is required")
	default:
		return invalid(fmt.Sprintf("unknown command type %q", c.Type))
	}
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, reason)
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
