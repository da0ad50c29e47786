// Package lifecycle applies start and stop commands to a session.
//
// A session is either Idle (no checkpoint) or Active (checkpoint plus deadline).
// Start is valid from both states and replaces whatever was running; Stop is
// valid from both states and is idempotent. The deadline is supplied by the
// caller and stored untouched. Unless an ExpiryScheduler is attached, nothing
// happens when it passes.
package lifecycle

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/mcdev12/checkpoint/go/internal/livesession/registry"
	"github.com/rs/zerolog/log"
)

// Store is the part of the session registry the controller mutates
type Store interface {
	Set(sessionID string, checkpoint json.RawMessage, deadline int64) registry.Active
	Clear(sessionID string) (registry.Active, bool)
	ClearRevision(sessionID string, revision uint64) bool
}

// Controller drives the Idle/Active state machine of every session
type Controller struct {
	store  Store
	expiry *ExpiryScheduler
}

// Option configures a Controller
type Option func(*Controller)

// WithExpiry makes the controller arm a timer for every started checkpoint
func WithExpiry(s *ExpiryScheduler) Option {
	return func(c *Controller) {
		c.expiry = s
	}
}

// NewController creates a controller on top of a registry
func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start makes checkpoint the active one for the session, replacing any
// checkpoint already running.
func (c *Controller) Start(sessionID string, checkpoint json.RawMessage, deadline int64) (registry.Active, error) {
	if sessionID == "" {
		return registry.Active{}, fmt.Errorf("start checkpoint: %w: session_id is required", events.ErrInvalidCommand)
	}
	if len(checkpoint) == 0 {
		return registry.Active{}, fmt.Errorf("start checkpoint: %w: checkpoint is required", events.ErrInvalidCommand)
	}
	if deadline <= 0 {
		return registry.Active{}, fmt.Errorf("start checkpoint: %w: deadline must be positive", events.ErrInvalidCommand)
	}

	active := c.store.Set(sessionID, checkpoint, deadline)
	if c.expiry != nil {
		c.expiry.Arm(sessionID, active)
	}

	log.Info().
		Str("session_id", sessionID).
		Int64("deadline", deadline).
		Uint64("revision", active.Revision).
		Msg("checkpoint started")

	return active, nil
}

// Stop returns the session to Idle. It reports whether a checkpoint was
// running; stopping an idle or unknown session is not an error.
func (c *Controller) Stop(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("stop checkpoint: %w: session_id is required", events.ErrInvalidCommand)
	}

	cleared, ok := c.store.Clear(sessionID)
	if !ok {
		log.Debug().Str("session_id", sessionID).Msg("stop on idle session")
		return false, nil
	}
	if c.expiry != nil {
		c.expiry.Cancel(sessionID, cleared.Revision)
	}

	log.Info().
		Str("session_id", sessionID).
		Uint64("revision", cleared.Revision).
		Msg("checkpoint stopped")

	return true, nil
}
