package gateway

import (
	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/mcdev12/checkpoint/go/internal/livesession/registry"
	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
	"github.com/rs/zerolog/log"
)

// ActiveReader reads the active checkpoint of a session
type ActiveReader interface {
	Get(sessionID string) (registry.Active, bool)
}

// Synchronizer replays the running checkpoint to a connection that joined
// after it started.
//
// The original deadline is sent, not the time left, so the client computes
// deadline - now itself. An idle session sends nothing.
type Synchronizer struct {
	state  ActiveReader
	fanout *Fanout
}

// NewSynchronizer creates a late-join synchronizer
func NewSynchronizer(state ActiveReader, fanout *Fanout) *Synchronizer {
	return &Synchronizer{state: state, fanout: fanout}
}

// Sync sends SYNC_CURRENT_CHECKPOINT to conn if sessionID has an active
// checkpoint. It reports whether a message was delivered.
func (s *Synchronizer) Sync(conn room.Conn, sessionID string) bool {
	active, ok := s.state.Get(sessionID)
	if !ok {
		return false
	}

	_, err := s.fanout.SendTo(conn, sessionID, events.EventTypeSyncCurrentCheckpoint, events.CheckpointPayload{
		Checkpoint: active.Checkpoint,
		Deadline:   active.Deadline,
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID()).
			Str("session_id", sessionID).
			Msg("late-join sync failed")
		return false
	}

	log.Debug().
		Str("connection_id", conn.ID()).
		Str("session_id", sessionID).
		Int64("deadline", active.Deadline).
		Msg("late joiner synced")
	return true
}
