package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/config"
	"github.com/avral/meetspace/internal/domain"
)

// RetryConfig bounds the two independent retry paths: state-change
// triggered retries (linear backoff) and explicit failure-signal
// restarts (exponential backoff with a cap).
type RetryConfig struct {
	StateRetryMax     int
	StateRetryBackoff time.Duration
	FailRetryMax      int
	FailRetryBase     time.Duration
	FailRetryCap      time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		StateRetryMax:     3,
		StateRetryBackoff: 2 * time.Second,
		FailRetryMax:      5,
		FailRetryBase:     time.Second,
		FailRetryCap:      10 * time.Second,
	}
}

type retryKind int

const (
	retryKindState retryKind = iota
	retryKindRestart
)

type retryKey struct {
	pair domain.ConnectionPair
	kind retryKind
}

// RetryScheduler owns the pending backoff timers. Timers are keyed by
// pair and cancelled when either member leaves, so a retry never fires
// against a departed participant.
type RetryScheduler struct {
	mu     sync.Mutex
	timers map[retryKey]*time.Timer
	send   SendFunc
	cfg    RetryConfig
}

func NewRetryScheduler(send SendFunc, cfg RetryConfig) *RetryScheduler {
	return &RetryScheduler{
		timers: make(map[retryKey]*time.Timer),
		send:   send,
		cfg:    cfg,
	}
}

func (s *RetryScheduler) StateRetryMax() int { return s.cfg.StateRetryMax }
func (s *RetryScheduler) FailRetryMax() int  { return s.cfg.FailRetryMax }

// StateBackoff is linear: backoff × attempt.
func (s *RetryScheduler) StateBackoff(attempt int) time.Duration {
	return s.cfg.StateRetryBackoff * time.Duration(attempt)
}

// RestartBackoff is exponential with a ceiling: min(base × 2^attempt, cap).
func (s *RetryScheduler) RestartBackoff(attempt int) time.Duration {
	d := s.cfg.FailRetryBase << uint(attempt)
	if d > s.cfg.FailRetryCap || d <= 0 {
		return s.cfg.FailRetryCap
	}
	return d
}

// ScheduleStateRetry asks both sides to retry the pair after a linear
// backoff.
func (s *RetryScheduler) ScheduleStateRetry(meetingID domain.MeetingID, from, to domain.ConnID, attempt int) {
	key := retryKey{pair: domain.ConnectionPair{From: from, To: to}, kind: retryKindState}
	s.schedule(key, s.StateBackoff(attempt), func() []Outbound {
		return []Outbound{
			unicast(from, EventRetryConnection, map[string]any{
				"targetSocketId": to,
				"attempt":        attempt,
			}),
			unicast(to, EventRetryConnection, map[string]any{
				"targetSocketId": from,
				"attempt":        attempt,
			}),
		}
	})
}

// ScheduleRestart asks both sides to rebuild the peer connection from
// scratch after an exponential backoff.
func (s *RetryScheduler) ScheduleRestart(meetingID domain.MeetingID, from, to domain.ConnID, attempt int) {
	key := retryKey{pair: domain.ConnectionPair{From: from, To: to}, kind: retryKindRestart}
	s.schedule(key, s.RestartBackoff(attempt), func() []Outbound {
		dial := config.WebRTCConfig()
		return []Outbound{
			unicast(from, EventRestartConnection, map[string]any{
				"targetSocketId": to,
				"attempt":        attempt,
				"webrtcConfig":   dial,
				"connectionId":   RestartConnectionID(from, to, attempt),
			}),
			unicast(to, EventRestartConnection, map[string]any{
				"targetSocketId": from,
				"attempt":        attempt,
				"webrtcConfig":   dial,
				"connectionId":   RestartConnectionID(to, from, attempt),
			}),
		}
	})
}

func (s *RetryScheduler) schedule(key retryKey, delay time.Duration, build func() []Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		s.send(build())
	})
	log.Debug().Str("module", "app.retry").Str("pair", key.pair.String()).
		Dur("delay", delay).Msg("retry scheduled")
}

// CancelFor stops every pending timer involving id.
func (s *RetryScheduler) CancelFor(id domain.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		if key.pair.Involves(id) {
			t.Stop()
			delete(s.timers, key)
		}
	}
}

// Pending returns the number of live timers. Test hook.
func (s *RetryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
