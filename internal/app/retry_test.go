package app

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sink collects dispatched batches for assertions.
type sink struct {
	mu     sync.Mutex
	frames []Outbound
}

func (s *sink) send(msgs []Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, msgs...)
}

func (s *sink) all() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outbound, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *sink) byEvent(event string) []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Outbound
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *sink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

func TestStateBackoffIsLinear(t *testing.T) {
	s := NewRetryScheduler(func([]Outbound) {}, DefaultRetryConfig())
	assert.Equal(t, 2*time.Second, s.StateBackoff(1))
	assert.Equal(t, 4*time.Second, s.StateBackoff(2))
	assert.Equal(t, 6*time.Second, s.StateBackoff(3))
}

func TestRestartBackoffIsExponentialWithCap(t *testing.T) {
	s := NewRetryScheduler(func([]Outbound) {}, DefaultRetryConfig())
	assert.Equal(t, 2*time.Second, s.RestartBackoff(1))
	assert.Equal(t, 4*time.Second, s.RestartBackoff(2))
	assert.Equal(t, 8*time.Second, s.RestartBackoff(3))
	assert.Equal(t, 10*time.Second, s.RestartBackoff(4))
	assert.Equal(t, 10*time.Second, s.RestartBackoff(20))
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		StateRetryMax:     3,
		StateRetryBackoff: time.Millisecond,
		FailRetryMax:      5,
		FailRetryBase:     time.Millisecond,
		FailRetryCap:      4 * time.Millisecond,
	}
}

func TestStateRetryFiresToBothSides(t *testing.T) {
	var out sink
	s := NewRetryScheduler(out.send, fastRetryConfig())

	s.ScheduleStateRetry("ABCD1234", "a", "b", 1)
	require.Eventually(t, func() bool {
		return len(out.byEvent(EventRetryConnection)) == 2
	}, time.Second, time.Millisecond)
	assert.Zero(t, s.Pending())

	targets := map[string]bool{}
	for _, f := range out.byEvent(EventRetryConnection) {
		targets[string(f.Target)] = true
	}
	assert.True(t, targets["a"])
	assert.True(t, targets["b"])
}

func TestRestartCarriesDialConfig(t *testing.T) {
	var out sink
	s := NewRetryScheduler(out.send, fastRetryConfig())

	s.ScheduleRestart("ABCD1234", "a", "b", 1)
	require.Eventually(t, func() bool {
		return len(out.byEvent(EventRestartConnection)) == 2
	}, time.Second, time.Millisecond)

	for _, f := range out.byEvent(EventRestartConnection) {
		payload, ok := f.Data.(map[string]any)
		require.True(t, ok)
		assert.Contains(t, payload, "webrtcConfig")
		assert.Contains(t, payload, "connectionId")
		assert.Equal(t, 1, payload["attempt"])
	}
}

func TestReschedulingReplacesPendingTimer(t *testing.T) {
	var out sink
	cfg := fastRetryConfig()
	cfg.StateRetryBackoff = 50 * time.Millisecond
	s := NewRetryScheduler(out.send, cfg)

	s.ScheduleStateRetry("ABCD1234", "a", "b", 1)
	s.ScheduleStateRetry("ABCD1234", "a", "b", 2)
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool {
		return len(out.byEvent(EventRetryConnection)) == 2
	}, time.Second, time.Millisecond)
	// Only the second attempt fires.
	for _, f := range out.byEvent(EventRetryConnection) {
		payload := f.Data.(map[string]any)
		assert.Equal(t, 2, payload["attempt"])
	}
}

func TestCancelForStopsTimersInvolvingConn(t *testing.T) {
	var out sink
	cfg := fastRetryConfig()
	cfg.StateRetryBackoff = 50 * time.Millisecond
	cfg.FailRetryBase = 50 * time.Millisecond
	s := NewRetryScheduler(out.send, cfg)

	s.ScheduleStateRetry("ABCD1234", "a", "b", 1)
	s.ScheduleRestart("ABCD1234", "b", "a", 1)
	s.ScheduleStateRetry("ABCD1234", "c", "d", 1)
	require.Equal(t, 3, s.Pending())

	s.CancelFor("a")
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool {
		return len(out.all()) == 2
	}, time.Second, time.Millisecond)
	for _, f := range out.all() {
		assert.NotEqual(t, "a", string(f.Target))
		assert.NotEqual(t, "b", string(f.Target))
	}
}
