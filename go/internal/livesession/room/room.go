// Package room tracks which live connections belong to which session so that
// broadcasts can be scoped to a single session. It knows nothing about the
// transport behind a connection.
package room

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSendQueueFull is returned by Conn.Send when the peer is not draining its queue
	ErrSendQueueFull = errors.New("send queue full")
	// ErrConnClosed is returned by Conn.Send after the connection went away
	ErrConnClosed = errors.New("connection closed")
	// ErrInvalidRole is returned for roles other than presenter and viewer
	ErrInvalidRole = errors.New("invalid role")
)

// Conn is a live connection that can receive encoded events.
// Send must not block.
type Conn interface {
	ID() string
	Send(msg []byte) error
}

// Role of a participant in a session
type Role string

const (
	RolePresenter Role = "presenter"
	RoleViewer    Role = "viewer"
)

// ParseRole maps a wire value to a Role. An empty value defaults to viewer.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePresenter:
		return RolePresenter, nil
	case RoleViewer, "":
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Member describes a connection's current association
type Member struct {
	SessionID string
	UserID    string
	Role      Role
}

// Membership is the connection-to-session table
type Membership struct {
	mu       sync.RWMutex
	sessions map[string]map[Conn]struct{}
	members  map[Conn]Member
}

// NewMembership creates an empty membership table
func NewMembership() *Membership {
	return &Membership{
		sessions: make(map[string]map[Conn]struct{}),
		members:  make(map[Conn]Member),
	}
}

// Join registers conn under sessionID. A connection is in at most one room, so a
// previous membership in another session is dropped first. Joining the same
// session again only refreshes user and role.
func (m *Membership) Join(conn Conn, sessionID, userID string, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.members[conn]; ok && prev.SessionID != sessionID {
		m.removeLocked(conn, prev.SessionID)
		log.Debug().
			Str("connection_id", conn.ID()).
			Str("previous_session_id", prev.SessionID).
			Str("session_id", sessionID).
			Msg("connection switched session")
	}

	if m.sessions[sessionID] == nil {
		m.sessions[sessionID] = make(map[Conn]struct{})
	}
	m.sessions[sessionID][conn] = struct{}{}
	m.members[conn] = Member{SessionID: sessionID, UserID: userID, Role: role}

	log.Debug().
		Str("connection_id", conn.ID()).
		Str("session_id", sessionID).
		Str("user_id", userID).
		Str("role", string(role)).
		Int("room_size", len(m.sessions[sessionID])).
		Msg("connection joined session")
}

// Leave removes conn from whatever session it belongs to and returns the
// membership it had. No-op when conn is not a member.
func (m *Membership) Leave(conn Conn) (Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[conn]
	if !ok {
		return Member{}, false
	}
	m.removeLocked(conn, member.SessionID)
	return member, true
}

func (m *Membership) removeLocked(conn Conn, sessionID string) {
	delete(m.members, conn)
	if conns, ok := m.sessions[sessionID]; ok {
		delete(conns, conn)
		// Clean up empty rooms
		if len(conns) == 0 {
			delete(m.sessions, sessionID)
		}
	}
}

// MembersOf returns the connections joined to sessionID. exclude may be nil.
func (m *Membership) MembersOf(sessionID string, exclude Conn) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := m.sessions[sessionID]
	out := make([]Conn, 0, len(conns))
	for conn := range conns {
		if exclude != nil && conn == exclude {
			continue
		}
		out = append(out, conn)
	}
	return out
}

// Lookup returns the membership of conn, if any
func (m *Membership) Lookup(conn Conn) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[conn]
	return member, ok
}

// Count returns the number of connections in a session's room
func (m *Membership) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[sessionID])
}

// Stats summarizes the table
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveSessions   int            `json:"active_sessions"`
	Rooms            map[string]int `json:"rooms"`
}

// Stats returns connection counts per room
func (m *Membership) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(m.members),
		ActiveSessions:   len(m.sessions),
		Rooms:            make(map[string]int, len(m.sessions)),
	}
	for sessionID, conns := range m.sessions {
		stats.Rooms[sessionID] = len(conns)
	}
	return stats
}
