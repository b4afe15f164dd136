package app

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/config"
	"github.com/avral/meetspace/internal/core"
	"github.com/avral/meetspace/internal/domain"
	"github.com/avral/meetspace/internal/metrics"
	"github.com/avral/meetspace/internal/stats"
)

// Relay translates inbound events into state-machine calls and
// outbound messages. Handlers never touch the transport: they return
// the fan-out and the dispatcher executes it, which keeps every event
// testable without a live connection.
type Relay struct {
	reg     *Registry
	retry   *RetryScheduler
	stats   stats.Recorder
	metrics *metrics.Metrics

	spotlightThreshold float64
}

func NewRelay(reg *Registry, retry *RetryScheduler, rec stats.Recorder, opts ...RelayOption) *Relay {
	r := &Relay{
		reg:                reg,
		retry:              retry,
		stats:              rec,
		spotlightThreshold: core.DefaultSpotlightThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type RelayOption func(*Relay)

func WithMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func WithSpotlightThreshold(v float64) RelayOption {
	return func(r *Relay) {
		if v > 0 {
			r.spotlightThreshold = v
		}
	}
}

// HandleEvent processes one inbound event from sid and returns the
// outbound fan-out. Unknown events are dropped with a log line; a
// malformed message never affects other connections.
func (r *Relay) HandleEvent(sid domain.ConnID, event string, data json.RawMessage) []Outbound {
	if r.metrics != nil {
		r.metrics.EventsTotal.WithLabelValues(event).Inc()
	}

	switch event {
	case EventJoinAsHost:
		return r.handleJoinAsHost(sid, data)
	case EventJoinMeeting:
		return r.handleJoinMeeting(sid, data)
	case EventChangeMeetingName:
		return r.handleChangeMeetingName(sid, data)
	case EventChangeParticipantName, EventRenameParticipant:
		return r.handleRenameSelf(sid, data)
	case EventToggleMeetingLock:
		return r.handleToggleMeetingLock(sid, data)
	case EventUpdatePermissions:
		return r.handleUpdatePermissions(sid, data)
	case EventParticipantReady:
		return r.handleParticipantReady(sid)
	case EventConnectionStateChange:
		return r.handleConnectionStateChange(sid, data)
	case EventOffer:
		return r.handleOffer(sid, data)
	case EventAnswer:
		return r.handleAnswer(sid, data)
	case EventICECandidate:
		return r.handleICECandidate(sid, data)
	case EventConnectionFailed:
		return r.handleConnectionFailed(sid, data)
	case EventAudioLevel:
		return r.handleAudioLevel(sid, data)
	case EventNetworkQuality:
		return r.handleNetworkQuality(sid, data)
	case EventHeartbeat:
		return r.handleHeartbeat(sid)
	case EventSendReaction:
		return r.handleSendReaction(sid, data)
	case EventRaiseHand:
		return r.handleRaiseHand(sid)
	case EventLowerHand:
		return r.handleLowerHand(sid)
	case EventStartScreenShare:
		return r.handleStartScreenShare(sid, data)
	case EventStopScreenShare:
		return r.handleStopScreenShare(sid)
	case EventToggleComputerAudio:
		return r.handleToggleComputerAudio(sid, data)
	case EventComputerAudioLevel:
		return r.handleComputerAudioLevel(sid, data)
	case EventSpotlightParticipant:
		return r.handleSpotlightParticipant(sid, data)
	case EventRemoveSpotlight:
		return r.handleRemoveSpotlight(sid)
	case EventPinParticipant:
		return r.handlePinParticipant(sid, data)
	case EventMuteParticipant:
		return r.handleMuteParticipant(sid, data)
	case EventMakeCoHost:
		return r.handleMakeCoHost(sid, data)
	case EventKickParticipant:
		return r.handleKickParticipant(sid, data)
	case EventToggleMic:
		return r.handleToggleMic(sid, data)
	case EventToggleCamera:
		return r.handleToggleCamera(sid, data)
	case EventHostRenameParticipant:
		return r.handleHostRenameParticipant(sid, data)
	case EventHostRenameSelf:
		return r.handleHostRenameSelf(sid, data)
	case EventMuteAllParticipants:
		return r.handleMuteAll(sid, data)
	default:
		log.Warn().Str("module", "app.relay").Str("sid", string(sid)).Str("event", event).Msg("unknown event")
		return nil
	}
}

func (r *Relay) reject(target domain.ConnID, msg string) []Outbound {
	if r.metrics != nil {
		r.metrics.RelayErrors.Inc()
	}
	return []Outbound{actionError(target, msg)}
}

func (r *Relay) rejectMeeting(target domain.ConnID, msg string) []Outbound {
	if r.metrics != nil {
		r.metrics.RelayErrors.Inc()
	}
	return []Outbound{meetingError(target, msg)}
}

func decode[T any](data json.RawMessage, v *T) bool {
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// joinedSnapshot is the full state snapshot sent on joined-meeting.
type joinedSnapshot struct {
	MeetingID    domain.MeetingID                     `json:"meetingId"`
	IsHost       bool                                 `json:"isHost"`
	Participants []domain.Participant                 `json:"participants"`
	Spotlighted  domain.ConnID                        `json:"spotlightedParticipant,omitempty"`
	ScreenShares map[domain.ConnID]domain.ScreenShare `json:"screenShares,omitempty"`
	RaisedHands  []domain.ConnID                      `json:"raisedHands"`
	ICEServers   any                                  `json:"iceServers"`
	WebRTCConfig config.DialConfig                    `json:"webrtcConfig"`
	IsLocked     bool                                 `json:"isLocked"`
	Permissions  domain.Permissions                   `json:"permissions"`
	MeetingName  string                               `json:"meetingName"`
}

func (r *Relay) snapshotFor(m *core.Meeting, isHost bool) joinedSnapshot {
	spot, _ := m.Spotlighted()
	return joinedSnapshot{
		MeetingID:    m.ID(),
		IsHost:       isHost,
		Participants: m.Snapshot(),
		Spotlighted:  spot,
		ScreenShares: m.ScreenShares(),
		RaisedHands:  m.RaisedHands(),
		ICEServers:   config.ICEServers(),
		WebRTCConfig: config.WebRTCConfig(),
		IsLocked:     m.IsLocked(),
		Permissions:  m.Permissions(),
		MeetingName:  m.Name(),
	}
}

func (r *Relay) handleJoinAsHost(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		MeetingID   *string `json:"meetingId"`
		HostName    *string `json:"hostName"`
		UserID      string  `json:"userId"`
		MeetingName string  `json:"meetingName"`
	}
	if !decode(data, &p) {
		return r.rejectMeeting(sid, "Invalid data format")
	}
	if p.MeetingID == nil {
		return r.rejectMeeting(sid, "Missing required field: meetingId")
	}
	if p.HostName == nil {
		return r.rejectMeeting(sid, "Missing required field: hostName")
	}

	mid := domain.MeetingID(*p.MeetingID)
	m := core.NewMeeting(mid, sid, *p.HostName)
	m.SetSpotlightThreshold(r.spotlightThreshold)
	if p.MeetingName != "" {
		if err := m.UpdateName(p.MeetingName); err != nil {
			log.Warn().Str("module", "app.relay").Str("meeting", string(mid)).Msg("ignoring invalid custom meeting name")
		}
	}

	r.reg.AddMeeting(m)
	m.AddParticipant(sid, *p.HostName, true)
	r.reg.Bind(sid, mid, true, p.UserID)
	r.updateGauges()

	out := []Outbound{joinRoom(mid, sid)}
	if p.UserID != "" {
		r.stats.RecordMeetingStart(p.UserID, mid, m.Name(), true)
		r.stats.RecordMeetingParticipant(p.UserID, 1)
		// Activity-tracking notice for the creator's own client.
		out = append(out, unicast(sid, EventMeetingStarted, map[string]any{
			"meetingId":   mid,
			"meetingName": m.Name(),
			"userId":      p.UserID,
			"isHost":      true,
		}))
	}

	log.Info().Str("module", "app.relay").Str("meeting", string(mid)).
		Str("host", *p.HostName).Msg("meeting created")

	return append(out, unicast(sid, EventJoinedMeeting, r.snapshotFor(m, true)))
}

func (r *Relay) handleJoinMeeting(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		MeetingID       *string `json:"meetingId"`
		ParticipantName *string `json:"participantName"`
		UserID          string  `json:"userId"`
	}
	if !decode(data, &p) {
		return r.rejectMeeting(sid, "Invalid data format")
	}
	if p.MeetingID == nil {
		return r.rejectMeeting(sid, "Missing required field: meetingId")
	}
	if p.ParticipantName == nil {
		return r.rejectMeeting(sid, "Missing required field: participantName")
	}

	mid := domain.MeetingID(*p.MeetingID)
	m, ok := r.reg.Meeting(mid)
	if !ok {
		return r.rejectMeeting(sid, "Meeting not found")
	}
	if !m.IsJoinAllowed(sid) {
		return []Outbound{unicast(sid, EventMeetingLocked, map[string]any{
			"message":   "The host disabled New Entries, Meeting Inaccessible",
			"meetingId": mid,
		})}
	}

	out := []Outbound{joinRoom(mid, sid)}
	if p.UserID != "" {
		r.stats.RecordMeetingStart(p.UserID, mid, m.Name(), false)
		out = append(out, unicast(sid, EventParticipantJoinedMeeting, map[string]any{
			"meetingId":   mid,
			"meetingName": m.Name(),
			"userId":      p.UserID,
		}))
	}
	if hostInfo, ok := r.reg.Lookup(m.HostID()); ok && hostInfo.UserID != "" {
		r.stats.RecordMeetingParticipant(hostInfo.UserID, 1)
	}

	joined := m.AddParticipant(sid, *p.ParticipantName, false)
	r.reg.Bind(sid, mid, false, p.UserID)
	r.updateGauges()

	log.Info().Str("module", "app.relay").Str("meeting", string(mid)).
		Str("participant", *p.ParticipantName).Msg("participant joined")

	return append(out,
		unicast(sid, EventJoinedMeeting, r.snapshotFor(m, false)),
		roomExcept(mid, sid, EventParticipantJoined, map[string]any{
			"participant":  joined,
			"participants": m.Snapshot(),
		}),
	)
}

// HandleDisconnect tears down a departed connection. A host departure
// ends the whole meeting.
func (r *Relay) HandleDisconnect(sid domain.ConnID, reason string) []Outbound {
	r.retry.CancelFor(sid)

	info, ok := r.reg.Lookup(sid)
	if !ok {
		return nil
	}
	defer func() {
		r.reg.Unbind(sid)
		r.updateGauges()
	}()

	m, okMeeting := r.reg.Meeting(info.MeetingID)
	if !okMeeting {
		return nil
	}

	if info.UserID != "" {
		r.stats.RecordMeetingEnd(info.UserID, info.MeetingID, m.ParticipantCount())
	}

	departed, _ := m.Participant(sid)
	m.RemoveParticipant(sid)

	if info.IsHost {
		r.reg.RemoveMeeting(info.MeetingID)
		log.Info().Str("module", "app.relay").Str("meeting", string(info.MeetingID)).Msg("meeting ended, host disconnected")
		return []Outbound{
			roomExcept(info.MeetingID, sid, EventMeetingEnded, map[string]any{
				"reason": "host-disconnected",
			}),
			dropRoom(info.MeetingID),
		}
	}

	log.Info().Str("module", "app.relay").Str("meeting", string(info.MeetingID)).
		Str("participant", string(sid)).Str("reason", reason).Msg("participant left")
	return []Outbound{
		roomExcept(info.MeetingID, sid, EventParticipantLeft, map[string]any{
			"socketId":        sid,
			"participantName": departed.Name,
			"participants":    m.Snapshot(),
			"reason":          reason,
		}),
		leaveRoom(info.MeetingID, sid),
	}
}

func (r *Relay) updateGauges() {
	if r.metrics == nil {
		return
	}
	r.metrics.ActiveMeetings.Set(float64(r.reg.MeetingCount()))
	r.metrics.ConnectedParticipants.Set(float64(r.reg.ConnCount()))
}

// NewMeetingID mints the shareable meeting identifier: uppercase
// 8-char uuid prefix, so no two IDs ever differ only by case.
func NewMeetingID() domain.MeetingID {
	return domain.MeetingID(strings.ToUpper(uuid.NewString()[:8]))
}
