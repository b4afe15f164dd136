package app

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/config"
	"github.com/avral/meetspace/internal/domain"
)

// Peer-connection states reported by clients.
const (
	connStateConnected    = "connected"
	connStateFailed       = "failed"
	connStateDisconnected = "disconnected"
)

// handleParticipantReady pairs the newly ready participant with every
// other ready one. The already-ready side creates the offer, the new
// side waits, so exactly one offer exists per unordered pair and glare
// cannot happen.
func (r *Relay) handleParticipantReady(sid domain.ConnID) []Outbound {
	m, _, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !m.SetParticipantReady(sid) {
		return nil
	}

	dial := config.WebRTCConfig()
	var out []Outbound
	for _, peer := range m.ReadyParticipants() {
		if peer.ID == sid {
			continue
		}
		connectionID := string(peer.ID) + "-" + string(sid)
		out = append(out,
			unicast(peer.ID, EventInitiateConnection, map[string]any{
				"targetSocketId":    sid,
				"shouldCreateOffer": true,
				"iceServers":        dial.ICEServers,
				"webrtcConfig":      dial,
				"connectionId":      connectionID,
			}),
			unicast(sid, EventInitiateConnection, map[string]any{
				"targetSocketId":    peer.ID,
				"shouldCreateOffer": false,
				"iceServers":        dial.ICEServers,
				"webrtcConfig":      dial,
				"connectionId":      connectionID,
			}),
		)
	}
	log.Info().Str("module", "app.relay").Str("sid", string(sid)).
		Int("peers", len(out)/2).Msg("participant ready")
	return out
}

func (r *Relay) handleConnectionStateChange(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		TargetSocketID *string `json:"targetSocketId"`
		State          *string `json:"state"`
		ConnectionID   string  `json:"connectionId"`
	}
	// State reports are fire-and-forget: invalid payloads are logged,
	// not answered.
	if !decode(data, &p) || p.TargetSocketID == nil || p.State == nil {
		log.Error().Str("module", "app.relay").Str("sid", string(sid)).Msg("invalid connection-state-change payload")
		return nil
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}

	target := domain.ConnID(*p.TargetSocketID)
	state := *p.State
	m.UpdateConnectionState(sid, target, state)

	out := []Outbound{unicast(target, EventPeerConnectionState, map[string]any{
		"fromSocketId": sid,
		"state":        state,
		"connectionId": p.ConnectionID,
	})}

	switch state {
	case connStateFailed, connStateDisconnected:
		attempts := m.IncrementConnectionAttempts(sid, target)
		log.Info().Str("module", "app.relay").Str("from", string(sid)).Str("to", string(target)).
			Str("state", state).Int("attempt", attempts).Msg("peer connection degraded")
		if attempts < r.retry.StateRetryMax() {
			r.retry.ScheduleStateRetry(info.MeetingID, sid, target, attempts)
		}
	case connStateConnected:
		m.ResetConnectionAttempts(sid, target)
	}
	return out
}

// relayTo forwards a verbatim payload to the named target with the
// sender identity attached. Sender must still be a resolvable
// participant; otherwise the message is silently dropped.
func (r *Relay) relayTo(sid domain.ConnID, target string, event, payloadKey string, payload json.RawMessage, connectionID string) []Outbound {
	if _, ok := r.reg.Lookup(sid); !ok {
		return nil
	}
	return []Outbound{unicast(domain.ConnID(target), event, map[string]any{
		payloadKey:     payload,
		"sender":       sid,
		"connectionId": connectionID,
	})}
}

func (r *Relay) handleOffer(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Target       *string         `json:"target"`
		Offer        json.RawMessage `json:"offer"`
		ConnectionID string          `json:"connectionId"`
	}
	if !decode(data, &p) || p.Target == nil || len(p.Offer) == 0 {
		log.Error().Str("module", "app.relay").Str("sid", string(sid)).Msg("invalid offer payload")
		return nil
	}
	// Structural check only, the SDP is never inspected further.
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(p.Offer, &sd); err != nil || sd.SDP == "" {
		log.Error().Str("module", "app.relay").Str("sid", string(sid)).Msg("malformed offer description")
		return nil
	}
	return r.relayTo(sid, *p.Target, EventOffer, "offer", p.Offer, p.ConnectionID)
}

func (r *Relay) handleAnswer(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Target       *string         `json:"target"`
		Answer       json.RawMessage `json:"answer"`
		ConnectionID string          `json:"connectionId"`
	}
	if !decode(data, &p) || p.Target == nil || len(p.Answer) == 0 {
		log.Error().Str("module", "app.relay").Str("sid", string(sid)).Msg("invalid answer payload")
		return nil
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(p.Answer, &sd); err != nil || sd.SDP == "" {
		log.Error().Str("module", "app.relay").Str("sid", string(sid)).Msg("malformed answer description")
		return nil
	}
	return r.relayTo(sid, *p.Target, EventAnswer, "answer", p.Answer, p.ConnectionID)
}

func (r *Relay) handleICECandidate(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Target       *string         `json:"target"`
		Candidate    json.RawMessage `json:"candidate"`
		ConnectionID string          `json:"connectionId"`
	}
	if !decode(data, &p) || p.Target == nil || len(p.Candidate) == 0 {
		log.Error().Str("module", "app.relay").Str("sid", string(sid)).Msg("invalid ice-candidate payload")
		return nil
	}

	// A JSON null is the explicit end-of-candidates marker and is
	// forwarded as-is; anything else must look like a candidate.
	if !bytes.Equal(bytes.TrimSpace(p.Candidate), []byte("null")) {
		var ci webrtc.ICECandidateInit
		if err := json.Unmarshal(p.Candidate, &ci); err != nil {
			log.Warn().Str("module", "app.relay").Str("sid", string(sid)).Msg("malformed ice candidate")
			return nil
		}
	}
	return r.relayTo(sid, *p.Target, EventICECandidate, "candidate", p.Candidate, p.ConnectionID)
}

func (r *Relay) handleConnectionFailed(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		TargetSocketID *string `json:"targetSocketId"`
		Reason         string  `json:"reason"`
	}
	if !decode(data, &p) || p.TargetSocketID == nil {
		log.Error().Str("module", "app.relay").Str("sid", string(sid)).Msg("invalid connection-failed payload")
		return nil
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}

	target := domain.ConnID(*p.TargetSocketID)
	attempts := m.IncrementConnectionAttempts(sid, target)
	log.Info().Str("module", "app.relay").Str("from", string(sid)).Str("to", string(target)).
		Str("reason", p.Reason).Int("attempt", attempts).Msg("peer connection failed")

	if attempts < r.retry.FailRetryMax() {
		r.retry.ScheduleRestart(info.MeetingID, sid, target, attempts)
		return nil
	}

	log.Error().Str("module", "app.relay").Str("from", string(sid)).Str("to", string(target)).
		Msg("max connection attempts reached")
	return []Outbound{
		unicast(sid, EventConnPermanentlyFailed, map[string]any{"targetSocketId": target}),
		unicast(target, EventConnPermanentlyFailed, map[string]any{"targetSocketId": sid}),
	}
}

// handleAudioLevel drives auto-spotlight. Invalid payloads are dropped
// without an error event: this fires many times a second and error
// fan-out would just be log spam.
func (r *Relay) handleAudioLevel(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Level *float64 `json:"level"`
	}
	if !decode(data, &p) || p.Level == nil {
		return nil
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !m.HandleAudioActivity(sid, *p.Level) {
		return nil
	}
	spot, _ := m.Spotlighted()
	return []Outbound{room(info.MeetingID, EventParticipantSpotlighted, map[string]any{
		"spotlightedParticipant": spot,
		"participants":           m.Snapshot(),
		"reason":                 "audio-activity",
	})}
}

// handleComputerAudioLevel shares the silent-drop behavior of
// handleAudioLevel.
func (r *Relay) handleComputerAudioLevel(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Level *float64 `json:"level"`
	}
	if !decode(data, &p) || p.Level == nil {
		return nil
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	sharer, ok := m.Participant(sid)
	if !ok || !sharer.IsScreenSharing || !sharer.IsSharingComputerAudio {
		return nil
	}
	return []Outbound{roomExcept(info.MeetingID, sid, EventComputerAudioLevelUpdate, map[string]any{
		"participantId":   sid,
		"level":           *p.Level,
		"participantName": sharer.Name,
	})}
}

func (r *Relay) handleNetworkQuality(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Quality *string `json:"quality"`
	}
	if !decode(data, &p) || p.Quality == nil {
		log.Error().Str("module", "app.relay").Str("sid", string(sid)).Msg("invalid network-quality payload")
		return nil
	}

	m, _, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	m.UpdateNetworkQuality(sid, *p.Quality)
	log.Debug().Str("module", "app.relay").Str("sid", string(sid)).
		Str("quality", *p.Quality).Msg("network quality report")
	return nil
}

func (r *Relay) handleHeartbeat(sid domain.ConnID) []Outbound {
	m, _, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	m.Touch(sid)
	return nil
}

// RestartConnectionID labels a restarted pair for client-side
// correlation.
func RestartConnectionID(from, to domain.ConnID, attempt int) string {
	return fmt.Sprintf("restart-%s-%s-%d", from, to, attempt)
}
