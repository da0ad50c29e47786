// Package registry holds the authoritative live state of every session: which
// checkpoint is active right now and when it expires.
//
// Checkpoint and deadline are stored together in one immutable Active value, so
// a reader never sees one without the other.
package registry

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is used when New is given a non-positive shard count
const DefaultShards = 32

// Active is the checkpoint currently running in a session
type Active struct {
	Checkpoint json.RawMessage `json:"checkpoint"`
	Deadline   int64           `json:"deadline"` // epoch milliseconds

	// Revision increases on every Set for the session. Used for compare-and-clear.
	Revision uint64 `json:"revision"`
}

// Session is a point-in-time copy of one registry entry
type Session struct {
	SessionID string  `json:"session_id"`
	Active    *Active `json:"active,omitempty"`
}

type entry struct {
	active   *Active
	revision uint64
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// Registry maps session IDs to their live state. Entries are created lazily on
// the first Set and are kept for the lifetime of the registry.
type Registry struct {
	shards []*shard
}

// New creates an empty registry split into the given number of shards
func New(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	r := &Registry{shards: make([]*shard, shards)}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shardFor(sessionID string) *shard {
	return r.shards[xxhash.Sum64String(sessionID)%uint64(len(r.shards))]
}

// Get returns the active checkpoint for a session. Unknown and idle sessions
// both report false.
func (r *Registry) Get(sessionID string) (Active, bool) {
	s := r.shardFor(sessionID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.active == nil {
		return Active{}, false
	}
	return *e.active, true
}

// Set replaces the session's active checkpoint and deadline, creating the
// entry if needed. The checkpoint is not inspected.
func (r *Registry) Set(sessionID string, checkpoint json.RawMessage, deadline int64) Active {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok {
		e = &entry{}
		s.sessions[sessionID] = e
	}
	e.revision++
	e.active = &Active{
		Checkpoint: append(json.RawMessage(nil), checkpoint...),
		Deadline:   deadline,
		Revision:   e.revision,
	}
	return *e.active
}

// Clear drops the active checkpoint and returns what was cleared. Clearing an
// unknown or idle session is a no-op and reports false.
func (r *Registry) Clear(sessionID string) (Active, bool) {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.active == nil {
		return Active{}, false
	}
	cleared := *e.active
	e.active = nil
	return cleared, true
}

// ClearRevision clears the session only while the active checkpoint still has
// the given revision. A later Set makes this a no-op.
func (r *Registry) ClearRevision(sessionID string, revision uint64) bool {
	s := r.shardFor(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || e.active == nil || e.active.Revision != revision {
		return false
	}
	e.active = nil
	return true
}

// Snapshot copies every known session, sorted by ID
func (r *Registry) Snapshot() []Session {
	var out []Session
	for _, s := range r.shards {
		s.mu.RLock()
		for id, e := range s.sessions {
			session := Session{SessionID: id}
			if e.active != nil {
				active := *e.active
				session.Active = &active
			}
			out = append(out, session)
		}
		s.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Len returns the number of known sessions, idle ones included
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.sessions)
		s.mu.RUnlock()
	}
	return n
}
