package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct{ id string }

func (c *stubConn) ID() string { return c.id }
func (c *stubConn) Send(_ []byte) error { return nil }

func ids(conns []Conn) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("presenter")
	require.NoError(t, err)
	assert.Equal(t, RolePresenter, role)

	role, err = ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role)

	_, err = ParseRole("admin")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestMembership_JoinAndMembersOf(t *testing.T) {
	m := NewMembership()
	p := &stubConn{id: "P"}
	v1 := &stubConn{id: "V1"}
	other := &stubConn{id: "X"}

	m.Join(p, "S1", "u-p", RolePresenter)
	m.Join(v1, "S1", "u-v1", RoleViewer)
	m.Join(other, "S2", "u-x", RoleViewer)

	assert.ElementsMatch(t, []string{"P", "V1"}, ids(m.MembersOf("S1", nil)))
	assert.ElementsMatch(t, []string{"V1"}, ids(m.MembersOf("S1", p)))
	assert.ElementsMatch(t, []string{"X"}, ids(m.MembersOf("S2", nil)))
	assert.Empty(t, m.MembersOf("S3", nil))

	member, ok := m.Lookup(p)
	require.True(t, ok)
	assert.Equal(t, Member{SessionID: "S1", UserID: "u-p", Role: RolePresenter}, member)
}

func TestMembership_JoinIsIdempotent(t *testing.T) {
	m := NewMembership()
	v := &stubConn{id: "V"}

	m.Join(v, "S1", "u", RoleViewer)
	m.Join(v, "S1", "u", RoleViewer)

	assert.Equal(t, 1, m.Count("S1"))
}

func TestMembership_JoinSupersedesPreviousRoom(t *testing.T) {
	m := NewMembership()
	v := &stubConn{id: "V"}

	m.Join(v, "S1", "u", RoleViewer)
	m.Join(v, "S2", "u", RoleViewer)

	assert.Empty(t, m.MembersOf("S1", nil))
	assert.ElementsMatch(t, []string{"V"}, ids(m.MembersOf("S2", nil)))

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.ActiveSessions)
}

func TestMembership_Leave(t *testing.T) {
	m := NewMembership()
	v := &stubConn{id: "V"}

	_, ok := m.Leave(v)
	assert.False(t, ok, "leaving without a room is a no-op")

	m.Join(v, "S1", "u", RoleViewer)
	member, ok := m.Leave(v)
	require.True(t, ok)
	assert.Equal(t, "S1", member.SessionID)

	assert.Empty(t, m.MembersOf("S1", nil))
	_, ok = m.Lookup(v)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Stats().ActiveSessions, "empty rooms are removed")
}

func TestMembership_ConcurrentJoinLeave(t *testing.T) {
	m := NewMembership()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &stubConn{id: fmt.Sprintf("C%d", i)}
			m.Join(c, fmt.Sprintf("S%d", i%4), "u", RoleViewer)
			m.MembersOf("S0", nil)
			m.Join(c, fmt.Sprintf("S%d", (i+1)%4), "u", RoleViewer)
			m.Leave(c)
		}(i)
	}
	wg.Wait()

	stats := m.Stats()
	assert.Zero(t, stats.TotalConnections)
	assert.Zero(t, stats.ActiveSessions)
}
