package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand_Valid(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"TRIGGER_CHECKPOINT","session_id":"S1","checkpoint":{"id":"Q1"},"deadline":1700000030000}`))
	require.NoError(t, err)

	assert.Equal(t, CommandTriggerCheckpoint, cmd.Type)
	assert.Equal(t, "S1", cmd.SessionID)
	assert.JSONEq(t, `{"id":"Q1"}`, string(cmd.Checkpoint))
	assert.Equal(t, int64(1700000030000), cmd.Deadline)
}

func TestDecodeCommand_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"type":`},
		{"missing session", `{"type":"STOP_CHECKPOINT"}`},
		{"missing type", `{"session_id":"S1"}`},
		{"unknown type", `{"type":"PAUSE","session_id":"S1"}`},
		{"trigger without checkpoint", `{"type":"TRIGGER_CHECKPOINT","session_id":"S1","deadline":1}`},
		{"trigger with null checkpoint", `{"type":"TRIGGER_CHECKPOINT","session_id":"S1","checkpoint":null,"deadline":1}`},
		{"trigger without deadline", `{"type":"TRIGGER_CHECKPOINT","session_id":"S1","checkpoint":{"id":"Q1"}}`},
		{"answer without checkpoint id", `{"type":"SUBMIT_ANSWER","session_id":"S1","answer":"B"}`},
		{"answer without answer", `{"type":"SUBMIT_ANSWER","session_id":"S1","checkpoint_id":"Q1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCommand)
		})
	}
}

func TestNewSessionEvent(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	event, err := NewSessionEvent("S1", EventTypeCheckpointStarted, CheckpointPayload{
		Checkpoint: json.RawMessage(`{"id":"Q1"}`),
		Deadline:   42,
	}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "S1", event.SessionID)
	assert.Equal(t, now, event.Timestamp)

	payload, err := ParseEventPayload(event)
	require.NoError(t, err)
	p := payload.(CheckpointPayload)
	assert.Equal(t, int64(42), p.Deadline)
	assert.JSONEq(t, `{"id":"Q1"}`, string(p.Checkpoint))
}

func TestNewSessionEvent_NilPayload(t *testing.T) {
	event, err := NewSessionEvent("S1", EventTypeCheckpointStopped, nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, event.Data)

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
}
