package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthMonitor periodically pings participants that have gone silent.
// It only notifies; removal always waits for an explicit disconnect.
type HealthMonitor struct {
	reg      *Registry
	send     SendFunc
	interval time.Duration
	silence  time.Duration
}

func NewHealthMonitor(reg *Registry, send SendFunc, interval, silence time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if silence <= 0 {
		silence = 60 * time.Second
	}
	return &HealthMonitor{reg: reg, send: send, interval: interval, silence: silence}
}

// Run blocks until ctx is cancelled.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep pings every silent participant once. Exposed for tests.
func (h *HealthMonitor) Sweep() {
	for _, m := range h.reg.Meetings() {
		silent := m.SilentParticipants(h.silence)
		if len(silent) == 0 {
			continue
		}
		log.Info().Str("module", "app.health").Str("meeting", string(m.ID())).
			Int("unhealthy", len(silent)).Msg("unhealthy connections found")
		msgs := make([]Outbound, 0, len(silent))
		for _, id := range silent {
			msgs = append(msgs, unicast(id, EventConnectionHealthCheck, struct{}{}))
		}
		h.send(msgs)
	}
}
