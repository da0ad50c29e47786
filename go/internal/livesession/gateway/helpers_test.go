package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/mcdev12/checkpoint/go/internal/livesession/lifecycle"
	"github.com/mcdev12/checkpoint/go/internal/livesession/registry"
	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

// recordingConn captures every frame sent to it
type recordingConn struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	sendErr error
}

func newRecordingConn(id string) *recordingConn {
	return &recordingConn{id: id}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, append([]byte(nil), msg...))
	return nil
}

func (c *recordingConn) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *recordingConn) events(t *testing.T) []events.SessionEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]events.SessionEvent, 0, len(c.frames))
	for _, frame := range c.frames {
		var event events.SessionEvent
		require.NoError(t, json.Unmarshal(frame, &event))
		out = append(out, event)
	}
	return out
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func eventTypes(evts []events.SessionEvent) []events.EventType {
	out := make([]events.EventType, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Type)
	}
	return out
}

// payloadOf decodes event through events.ParseEventPayload and asserts the
// payload type that event type maps to
func payloadOf[T any](t *testing.T, event events.SessionEvent) T {
	t.Helper()
	decoded, err := events.ParseEventPayload(&event)
	require.NoError(t, err)
	payload, ok := decoded.(T)
	require.Truef(t, ok, "%s decoded to %T", event.Type, decoded)
	return payload
}

func checkpointPayload(t *testing.T, event events.SessionEvent) events.CheckpointPayload {
	t.Helper()
	return payloadOf[events.CheckpointPayload](t, event)
}

// recordingPublisher stands in for NATS
type recordingPublisher struct {
	mu        sync.Mutex
	published []*events.SessionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event *events.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.published))
	for _, e := range p.published {
		out = append(out, e.Type)
	}
	return out
}

type testHub struct {
	hub       *Hub
	registry  *registry.Registry
	members   *room.Membership
	clock     *clockwork.FakeClock
	publisher *recordingPublisher
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	return newTestHubReading(t, func(reg *registry.Registry) ActiveReader { return reg })
}

// newTestHubReading builds a hub whose join sync reads through the reader
// that state returns
func newTestHubReading(t *testing.T, state func(*registry.Registry) ActiveReader) *testHub {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	reg := registry.New(4)
	members := room.NewMembership()
	publisher := &recordingPublisher{}
	fanout := NewFanout(members, clock)
	hub := NewHub(state(reg), members, lifecycle.NewController(reg), fanout, publisher)
	return &testHub{
		hub:       hub,
		registry:  reg,
		members:   members,
		clock:     clock,
		publisher: publisher,
	}
}

// interleavingReader runs a one-shot hook right after a sync has read the
// registry and before the sync message is sent
type interleavingReader struct {
	*registry.Registry

	mu   sync.Mutex
	hook func()
}

func (r *interleavingReader) Get(sessionID string) (registry.Active, bool) {
	active, ok := r.Registry.Get(sessionID)

	r.mu.Lock()
	hook := r.hook
	r.hook = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return active, ok
}

func (r *interleavingReader) interleave(hook func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}
