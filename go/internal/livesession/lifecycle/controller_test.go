package lifecycle

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/checkpoint/go/internal/livesession/events"
	"github.com/mcdev12/checkpoint/go/internal/livesession/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSession = "S1"
	waitFor     = time.Second
	pollEvery   = 5 * time.Millisecond
)

var (
	testCheckpoint = json.RawMessage(`{"id":"Q1"}`)
	testNow        = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
)

func TestController_StartAndStop(t *testing.T) {
	reg := registry.New(4)
	c := NewController(reg)
	deadline := testNow.Add(30 * time.Second).UnixMilli()

	active, err := c.Start(testSession, testCheckpoint, deadline)
	require.NoError(t, err)
	assert.Equal(t, deadline, active.Deadline)

	got, ok := reg.Get(testSession)
	require.True(t, ok)
	assert.Equal(t, deadline, got.Deadline, "deadline is stored unmodified")

	stopped, err := c.Stop(testSession)
	require.NoError(t, err)
	assert.True(t, stopped)

	_, ok = reg.Get(testSession)
	assert.False(t, ok)
}

func TestController_StartReplacesActive(t *testing.T) {
	reg := registry.New(4)
	c := NewController(reg)

	_, err := c.Start(testSession, testCheckpoint, 1000)
	require.NoError(t, err)
	_, err = c.Start(testSession, json.RawMessage(`{"id":"Q2"}`), 2000)
	require.NoError(t, err)

	got, ok := reg.Get(testSession)
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"Q2"}`, string(got.Checkpoint))
	assert.Equal(t, int64(2000), got.Deadline)
}

func TestController_StopIdleIsNoop(t *testing.T) {
	c := NewController(registry.New(4))

	stopped, err := c.Stop("never-started")
	require.NoError(t, err)
	assert.False(t, stopped)

	stopped, err = c.Stop("never-started")
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestController_InvalidInput(t *testing.T) {
	reg := registry.New(4)
	c := NewController(reg)

	_, err := c.Start("", testCheckpoint, 1000)
	assert.ErrorIs(t, err, events.ErrInvalidCommand)

	_, err = c.Start(testSession, nil, 1000)
	assert.ErrorIs(t, err, events.ErrInvalidCommand)

	_, err = c.Start(testSession, testCheckpoint, 0)
	assert.ErrorIs(t, err, events.ErrInvalidCommand)

	_, err = c.Stop("")
	assert.ErrorIs(t, err, events.ErrInvalidCommand)

	assert.Zero(t, reg.Len(), "rejected commands must not create sessions")
}

func TestController_InvariantUnderConcurrentCommands(t *testing.T) {
	reg := registry.New(4)
	c := NewController(reg)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%3 == 0 {
					_, _ = c.Stop(testSession)
				} else {
					_, _ = c.Start(testSession, testCheckpoint, int64(j+1))
				}
			}
		}(i)
	}
	wg.Wait()

	got, ok := reg.Get(testSession)
	if ok {
		assert.NotEmpty(t, got.Checkpoint)
		assert.Positive(t, got.Deadline)
	} else {
		assert.Empty(t, got.Checkpoint)
		assert.Zero(t, got.Deadline)
	}
}

type expiredCall struct {
	sessionID string
	revision  uint64
}

type expiryRecorder struct {
	mu    sync.Mutex
	calls []expiredCall
}

func (r *expiryRecorder) record(sessionID string, revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, expiredCall{sessionID: sessionID, revision: revision})
}

func (r *expiryRecorder) snapshot() []expiredCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]expiredCall(nil), r.calls...)
}

func newExpiringController(t *testing.T) (*Controller, *registry.Registry, *clockwork.FakeClock, *ExpiryScheduler, *expiryRecorder) {
	t.Helper()
	reg := registry.New(4)
	clock := clockwork.NewFakeClockAt(testNow)
	rec := &expiryRecorder{}
	scheduler := NewExpiryScheduler(clock, reg, rec.record)
	t.Cleanup(scheduler.Close)
	return NewController(reg, WithExpiry(scheduler)), reg, clock, scheduler, rec
}

func TestExpiry_StopsAtDeadline(t *testing.T) {
	c, reg, clock, scheduler, rec := newExpiringController(t)

	active, err := c.Start(testSession, testCheckpoint, testNow.Add(30*time.Second).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, 1, scheduler.Pending())

	clock.Advance(29 * time.Second)
	_, ok := reg.Get(testSession)
	assert.True(t, ok, "checkpoint is still active before the deadline")

	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		_, ok := reg.Get(testSession)
		return !ok
	}, waitFor, pollEvery)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, pollEvery)
	assert.Equal(t, expiredCall{sessionID: testSession, revision: active.Revision}, rec.snapshot()[0])
	assert.Zero(t, scheduler.Pending())
}

func TestExpiry_StopCancelsTimer(t *testing.T) {
	c, _, clock, scheduler, rec := newExpiringController(t)

	_, err := c.Start(testSession, testCheckpoint, testNow.Add(10*time.Second).UnixMilli())
	require.NoError(t, err)
	_, err = c.Stop(testSession)
	require.NoError(t, err)
	assert.Zero(t, scheduler.Pending())

	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return len(rec.snapshot()) > 0 }, 50*time.Millisecond, pollEvery)
}

func TestExpiry_RestartReplacesTimer(t *testing.T) {
	c, reg, clock, scheduler, rec := newExpiringController(t)

	_, err := c.Start(testSession, testCheckpoint, testNow.Add(10*time.Second).UnixMilli())
	require.NoError(t, err)
	second, err := c.Start(testSession, json.RawMessage(`{"id":"Q2"}`), testNow.Add(60*time.Second).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, 1, scheduler.Pending())

	clock.Advance(20 * time.Second)
	got, ok := reg.Get(testSession)
	require.True(t, ok, "the replacement checkpoint must survive the first deadline")
	assert.Equal(t, second.Revision, got.Revision)

	clock.Advance(40 * time.Second)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, pollEvery)
	assert.Equal(t, second.Revision, rec.snapshot()[0].revision)
}

func TestExpiry_StaleArmIgnored(t *testing.T) {
	reg := registry.New(4)
	clock := clockwork.NewFakeClockAt(testNow)
	scheduler := NewExpiryScheduler(clock, reg, nil)
	t.Cleanup(scheduler.Close)

	newer := registry.Active{Deadline: testNow.Add(time.Minute).UnixMilli(), Revision: 2}
	older := registry.Active{Deadline: testNow.Add(time.Second).UnixMilli(), Revision: 1}

	scheduler.Arm(testSession, newer)
	scheduler.Arm(testSession, older)

	scheduler.mu.Lock()
	armed := scheduler.timers[testSession]
	scheduler.mu.Unlock()
	assert.Equal(t, uint64(2), armed.revision)

	scheduler.Cancel(testSession, 1)
	assert.Equal(t, 1, scheduler.Pending(), "cancelling an older revision leaves the newer timer")
}

func TestExpiry_PastDeadlineFiresImmediately(t *testing.T) {
	c, reg, clock, _, rec := newExpiringController(t)

	_, err := c.Start(testSession, testCheckpoint, testNow.Add(-time.Second).UnixMilli())
	require.NoError(t, err)
	clock.Advance(time.Millisecond)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, waitFor, pollEvery)
	_, ok := reg.Get(testSession)
	assert.False(t, ok)
}

func TestExpiry_ClearsAndNotifiesInsideSessionGuard(t *testing.T) {
	c, reg, clock, scheduler, _ := newExpiringController(t)

	var (
		mu      sync.Mutex
		guarded []string
		inside  bool
		sawIdle bool
	)
	scheduler.SetSessionGuard(func(sessionID string, fn func()) {
		mu.Lock()
		guarded = append(guarded, sessionID)
		inside = true
		mu.Unlock()

		fn()

		mu.Lock()
		inside = false
		mu.Unlock()
	})
	scheduler.SetOnExpired(func(sessionID string, revision uint64) {
		_, active := reg.Get(sessionID)
		mu.Lock()
		defer mu.Unlock()
		sawIdle = inside && !active
	})

	_, err := c.Start(testSession, testCheckpoint, testNow.Add(5*time.Second).UnixMilli())
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sawIdle
	}, waitFor, pollEvery, "the callback runs inside the guard after the registry is cleared")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{testSession}, guarded)
}
