package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avral/meetspace/internal/domain"
	"github.com/avral/meetspace/internal/stats"
)

func newTestRelay(t *testing.T) (*Relay, *Registry) {
	t.Helper()
	reg := NewRegistry()
	retry := NewRetryScheduler(func([]Outbound) {}, fastRetryConfig())
	return NewRelay(reg, retry, stats.Nop{}), reg
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// joinHost drives the host join and returns the meeting ID.
func joinHost(t *testing.T, r *Relay, sid domain.ConnID, name string) domain.MeetingID {
	t.Helper()
	mid := string(NewMeetingID())
	out := r.HandleEvent(sid, EventJoinAsHost, raw(t, map[string]any{
		"meetingId": mid,
		"hostName":  name,
	}))
	require.Len(t, out, 2)
	require.Equal(t, EventJoinedMeeting, out[1].Event)
	return domain.MeetingID(mid)
}

func joinParticipant(t *testing.T, r *Relay, sid domain.ConnID, mid domain.MeetingID, name string) []Outbound {
	t.Helper()
	out := r.HandleEvent(sid, EventJoinMeeting, raw(t, map[string]any{
		"meetingId":       string(mid),
		"participantName": name,
	}))
	require.NotEmpty(t, out)
	return out
}

func findEvent(out []Outbound, event string) (Outbound, bool) {
	for _, o := range out {
		if o.Event == event {
			return o, true
		}
	}
	return Outbound{}, false
}

func errMessage(t *testing.T, o Outbound) string {
	t.Helper()
	p, ok := o.Data.(errPayload)
	require.True(t, ok, "expected error payload, got %T", o.Data)
	return p.Message
}

func TestJoinAsHostCreatesMeeting(t *testing.T) {
	r, reg := newTestRelay(t)

	out := r.HandleEvent("host-sid", EventJoinAsHost, raw(t, map[string]any{
		"meetingId": "ABCD1234",
		"hostName":  "Alice",
	}))
	require.Len(t, out, 2)

	assert.Equal(t, ScopeJoinRoom, out[0].Scope)
	assert.Equal(t, domain.MeetingID("ABCD1234"), out[0].Meeting)
	assert.Equal(t, domain.ConnID("host-sid"), out[0].Target)

	require.Equal(t, EventJoinedMeeting, out[1].Event)
	snap, ok := out[1].Data.(joinedSnapshot)
	require.True(t, ok)
	assert.True(t, snap.IsHost)
	assert.Equal(t, "Alice's Meeting", snap.MeetingName)
	assert.Equal(t, domain.ConnID("host-sid"), snap.Spotlighted)
	assert.Len(t, snap.Participants, 1)
	assert.NotEmpty(t, snap.ICEServers)
	assert.Equal(t, domain.DefaultPermissions(), snap.Permissions)

	m, ok := reg.Meeting("ABCD1234")
	require.True(t, ok)
	assert.Equal(t, 1, m.ParticipantCount())
	info, ok := reg.Lookup("host-sid")
	require.True(t, ok)
	assert.True(t, info.IsHost)
}

func TestJoinAsHostWithCustomMeetingName(t *testing.T) {
	r, _ := newTestRelay(t)
	out := r.HandleEvent("host-sid", EventJoinAsHost, raw(t, map[string]any{
		"meetingId":   "ABCD1234",
		"hostName":    "Alice",
		"meetingName": "Weekly Standup",
	}))
	snap := out[1].Data.(joinedSnapshot)
	assert.Equal(t, "Weekly Standup", snap.MeetingName)
}

func TestJoinAsHostMissingFields(t *testing.T) {
	r, _ := newTestRelay(t)

	out := r.HandleEvent("host-sid", EventJoinAsHost, raw(t, map[string]any{
		"hostName": "Alice",
	}))
	require.Len(t, out, 1)
	assert.Equal(t, EventMeetingError, out[0].Event)
	assert.Equal(t, "Missing required field: meetingId", errMessage(t, out[0]))

	out = r.HandleEvent("host-sid", EventJoinAsHost, raw(t, map[string]any{
		"meetingId": "ABCD1234",
	}))
	assert.Equal(t, "Missing required field: hostName", errMessage(t, out[0]))

	out = r.HandleEvent("host-sid", EventJoinAsHost, json.RawMessage(`{broken`))
	assert.Equal(t, "Invalid data format", errMessage(t, out[0]))
}

func TestJoinWithUserIDEmitsActivityNotices(t *testing.T) {
	r, _ := newTestRelay(t)

	out := r.HandleEvent("host-sid", EventJoinAsHost, raw(t, map[string]any{
		"meetingId": "ABCD1234",
		"hostName":  "Alice",
		"userId":    "user-7",
	}))
	started, ok := findEvent(out, EventMeetingStarted)
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("host-sid"), started.Target)
	payload := started.Data.(map[string]any)
	assert.Equal(t, domain.MeetingID("ABCD1234"), payload["meetingId"])
	assert.Equal(t, "Alice's Meeting", payload["meetingName"])
	assert.Equal(t, "user-7", payload["userId"])
	assert.Equal(t, true, payload["isHost"])
	// The notice precedes the state snapshot.
	assert.Equal(t, EventJoinedMeeting, out[len(out)-1].Event)

	out = r.HandleEvent("bob-sid", EventJoinMeeting, raw(t, map[string]any{
		"meetingId":       "ABCD1234",
		"participantName": "Bob",
		"userId":          "user-9",
	}))
	joined, ok := findEvent(out, EventParticipantJoinedMeeting)
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("bob-sid"), joined.Target)
	payload = joined.Data.(map[string]any)
	assert.Equal(t, "user-9", payload["userId"])

	// Anonymous joins get no activity notice.
	out = r.HandleEvent("eve-sid", EventJoinMeeting, raw(t, map[string]any{
		"meetingId":       "ABCD1234",
		"participantName": "Eve",
	}))
	_, ok = findEvent(out, EventParticipantJoinedMeeting)
	assert.False(t, ok)
}

func TestJoinMeetingNotFound(t *testing.T) {
	r, _ := newTestRelay(t)
	out := r.HandleEvent("bob-sid", EventJoinMeeting, raw(t, map[string]any{
		"meetingId":       "NOPE",
		"participantName": "Bob",
	}))
	require.Len(t, out, 1)
	assert.Equal(t, EventMeetingError, out[0].Event)
	assert.Equal(t, "Meeting not found", errMessage(t, out[0]))
}

func TestJoinMeetingBroadcastsToOthers(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")

	out := joinParticipant(t, r, "bob-sid", mid, "Bob")
	require.Len(t, out, 3)

	assert.Equal(t, ScopeJoinRoom, out[0].Scope)

	snap := out[1].Data.(joinedSnapshot)
	assert.False(t, snap.IsHost)
	assert.Len(t, snap.Participants, 2)

	joined, ok := findEvent(out, EventParticipantJoined)
	require.True(t, ok)
	assert.Equal(t, ScopeRoomExcept, joined.Scope)
	assert.Equal(t, domain.ConnID("bob-sid"), joined.Exclude)
}

func TestJoinLockedMeeting(t *testing.T) {
	r, reg := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	m, _ := reg.Meeting(mid)
	m.Lock()

	out := r.HandleEvent("bob-sid", EventJoinMeeting, raw(t, map[string]any{
		"meetingId":       string(mid),
		"participantName": "Bob",
	}))
	require.Len(t, out, 1)
	assert.Equal(t, EventMeetingLocked, out[0].Event)
	assert.Equal(t, 1, m.ParticipantCount())
	_, bound := reg.Lookup("bob-sid")
	assert.False(t, bound)
}

func TestRenameCollisionIsCaseInsensitive(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	out := r.HandleEvent("bob-sid", EventChangeParticipantName, raw(t, map[string]any{
		"newName": "alice",
	}))
	require.Len(t, out, 1)
	assert.Equal(t, EventActionError, out[0].Event)
	assert.Equal(t, "This name is already taken by another participant", errMessage(t, out[0]))

	out = r.HandleEvent("bob-sid", EventChangeParticipantName, raw(t, map[string]any{
		"newName": "  Robert  ",
	}))
	renamed, ok := findEvent(out, EventParticipantRenamed)
	require.True(t, ok)
	payload := renamed.Data.(map[string]any)
	assert.Equal(t, "Bob", payload["oldName"])
	assert.Equal(t, "Robert", payload["newName"])
}

func TestRenameBlockedByPermission(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	r.HandleEvent("host-sid", EventUpdatePermissions, raw(t, map[string]any{
		"permissions": map[string]any{"allowRename": false},
	}))

	out := r.HandleEvent("bob-sid", EventRenameParticipant, raw(t, map[string]any{
		"newName": "Robert",
	}))
	require.Len(t, out, 1)
	assert.Equal(t, "You are not allowed to rename yourself", errMessage(t, out[0]))

	// The host is exempt.
	out = r.HandleEvent("host-sid", EventHostRenameSelf, raw(t, map[string]any{
		"newName": "Alicia",
	}))
	_, ok := findEvent(out, EventParticipantRenamed)
	assert.True(t, ok)
}

func TestChangeMeetingNameRequiresHost(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	out := r.HandleEvent("bob-sid", EventChangeMeetingName, raw(t, map[string]any{
		"newName": "Hijacked",
	}))
	assert.Equal(t, "Only host can change meeting name", errMessage(t, out[0]))

	out = r.HandleEvent("host-sid", EventChangeMeetingName, raw(t, map[string]any{
		"newName": "  Team Sync  ",
	}))
	changed, ok := findEvent(out, EventMeetingNameChanged)
	require.True(t, ok)
	payload := changed.Data.(map[string]any)
	assert.Equal(t, "Team Sync", payload["newName"])
	assert.Equal(t, "Alice", payload["changedBy"])
}

func TestSpotlightRequiresHostPrivileges(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	out := r.HandleEvent("bob-sid", EventSpotlightParticipant, raw(t, map[string]any{
		"targetSocketId": "host-sid",
	}))
	assert.Equal(t, "Insufficient permissions", errMessage(t, out[0]))

	out = r.HandleEvent("host-sid", EventSpotlightParticipant, raw(t, map[string]any{
		"targetSocketId": "missing-sid",
	}))
	assert.Equal(t, "Participant not found", errMessage(t, out[0]))

	out = r.HandleEvent("host-sid", EventSpotlightParticipant, raw(t, map[string]any{
		"targetSocketId": "bob-sid",
	}))
	spot, ok := findEvent(out, EventParticipantSpotlighted)
	require.True(t, ok)
	payload := spot.Data.(map[string]any)
	assert.Equal(t, "manual", payload["reason"])
}

func TestParticipantReadyPairsWithOneOfferPerPair(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	// First ready participant has nobody to pair with.
	out := r.HandleEvent("host-sid", EventParticipantReady, nil)
	assert.Empty(t, out)

	out = r.HandleEvent("bob-sid", EventParticipantReady, nil)
	require.Len(t, out, 2)

	offers := 0
	var connIDs []string
	for _, o := range out {
		require.Equal(t, EventInitiateConnection, o.Event)
		payload := o.Data.(map[string]any)
		connIDs = append(connIDs, payload["connectionId"].(string))
		if payload["shouldCreateOffer"].(bool) {
			offers++
			// The already-ready side creates the offer.
			assert.Equal(t, domain.ConnID("host-sid"), o.Target)
		}
	}
	assert.Equal(t, 1, offers)
	assert.Equal(t, connIDs[0], connIDs[1], "both sides see the same connection id")
}

func TestOfferRelayedVerbatim(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	sdp := map[string]any{"type": "offer", "sdp": "v=0\r\n"}
	out := r.HandleEvent("host-sid", EventOffer, raw(t, map[string]any{
		"target":       "bob-sid",
		"offer":        sdp,
		"connectionId": "host-sid-bob-sid",
	}))
	require.Len(t, out, 1)
	assert.Equal(t, domain.ConnID("bob-sid"), out[0].Target)
	payload := out[0].Data.(map[string]any)
	assert.Equal(t, domain.ConnID("host-sid"), payload["sender"])
	assert.JSONEq(t, string(raw(t, sdp)), string(payload["offer"].(json.RawMessage)))

	// Missing SDP body is dropped silently.
	out = r.HandleEvent("host-sid", EventOffer, raw(t, map[string]any{
		"target": "bob-sid",
		"offer":  map[string]any{"type": "offer"},
	}))
	assert.Empty(t, out)
}

func TestICECandidateNullForwarded(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	out := r.HandleEvent("host-sid", EventICECandidate, json.RawMessage(
		`{"target":"bob-sid","candidate":null,"connectionId":"c1"}`))
	require.Len(t, out, 1)
	payload := out[0].Data.(map[string]any)
	assert.Equal(t, "null", string(payload["candidate"].(json.RawMessage)))
}

func TestConnectionFailedEscalatesToPermanent(t *testing.T) {
	r, reg := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")
	m, _ := reg.Meeting(mid)

	failed := raw(t, map[string]any{"targetSocketId": "bob-sid", "reason": "ice"})
	for i := 0; i < r.retry.FailRetryMax()-1; i++ {
		out := r.HandleEvent("host-sid", EventConnectionFailed, failed)
		assert.Empty(t, out, "attempt %d still schedules a restart", i+1)
	}
	assert.Equal(t, r.retry.FailRetryMax()-1, m.ConnectionAttempts("host-sid", "bob-sid"))

	out := r.HandleEvent("host-sid", EventConnectionFailed, failed)
	require.Len(t, out, 2)
	for _, o := range out {
		assert.Equal(t, EventConnPermanentlyFailed, o.Event)
	}
	targets := map[domain.ConnID]bool{out[0].Target: true, out[1].Target: true}
	assert.True(t, targets["host-sid"])
	assert.True(t, targets["bob-sid"])
}

func TestConnectionStateChangeForwardsAndResets(t *testing.T) {
	r, reg := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")
	m, _ := reg.Meeting(mid)

	out := r.HandleEvent("host-sid", EventConnectionStateChange, raw(t, map[string]any{
		"targetSocketId": "bob-sid",
		"state":          "failed",
	}))
	require.Len(t, out, 1)
	assert.Equal(t, EventPeerConnectionState, out[0].Event)
	assert.Equal(t, domain.ConnID("bob-sid"), out[0].Target)
	assert.Equal(t, 1, m.ConnectionAttempts("host-sid", "bob-sid"))

	r.HandleEvent("host-sid", EventConnectionStateChange, raw(t, map[string]any{
		"targetSocketId": "bob-sid",
		"state":          "connected",
	}))
	assert.Zero(t, m.ConnectionAttempts("host-sid", "bob-sid"))
}

func TestAudioLevelSilentDropOnInvalidPayload(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	// No action-error for garbage: this event fires constantly.
	assert.Empty(t, r.HandleEvent("bob-sid", EventAudioLevel, json.RawMessage(`{broken`)))
	assert.Empty(t, r.HandleEvent("bob-sid", EventAudioLevel, raw(t, map[string]any{})))

	// Below threshold: no spotlight change.
	assert.Empty(t, r.HandleEvent("bob-sid", EventAudioLevel, raw(t, map[string]any{"level": 0.1})))

	out := r.HandleEvent("bob-sid", EventAudioLevel, raw(t, map[string]any{"level": 0.8}))
	require.Len(t, out, 1)
	assert.Equal(t, EventParticipantSpotlighted, out[0].Event)
	payload := out[0].Data.(map[string]any)
	assert.Equal(t, domain.ConnID("bob-sid"), payload["spotlightedParticipant"])
	assert.Equal(t, "audio-activity", payload["reason"])
}

func TestKickParticipant(t *testing.T) {
	r, reg := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")
	joinParticipant(t, r, "eve-sid", mid, "Eve")

	// Non-host cannot kick.
	out := r.HandleEvent("bob-sid", EventKickParticipant, raw(t, map[string]any{
		"targetSocketId": "eve-sid",
	}))
	assert.Equal(t, "Cannot kick this participant", errMessage(t, out[0]))

	// Co-hosts are protected.
	r.HandleEvent("host-sid", EventMakeCoHost, raw(t, map[string]any{
		"targetSocketId": "eve-sid",
	}))
	out = r.HandleEvent("host-sid", EventKickParticipant, raw(t, map[string]any{
		"targetSocketId": "eve-sid",
	}))
	assert.Equal(t, "Cannot kick this participant", errMessage(t, out[0]))

	out = r.HandleEvent("host-sid", EventKickParticipant, raw(t, map[string]any{
		"targetSocketId": "bob-sid",
	}))
	require.Len(t, out, 3)
	assert.Equal(t, EventKickedFromMeeting, out[0].Event)
	assert.Equal(t, domain.ConnID("bob-sid"), out[0].Target)
	assert.True(t, out[0].CloseTarget)
	assert.Equal(t, ScopeLeaveRoom, out[1].Scope)
	assert.Equal(t, EventParticipantKicked, out[2].Event)

	m, _ := reg.Meeting(mid)
	assert.False(t, m.Has("bob-sid"))
	_, bound := reg.Lookup("bob-sid")
	assert.False(t, bound)
}

func TestHostDisconnectEndsMeeting(t *testing.T) {
	r, reg := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	out := r.HandleDisconnect("host-sid", "transport closed")
	require.Len(t, out, 2)
	assert.Equal(t, EventMeetingEnded, out[0].Event)
	assert.Equal(t, ScopeRoomExcept, out[0].Scope)
	assert.Equal(t, ScopeDropRoom, out[1].Scope)

	_, ok := reg.Meeting(mid)
	assert.False(t, ok)
	_, bound := reg.Lookup("host-sid")
	assert.False(t, bound)
}

func TestParticipantDisconnectLeavesMeetingRunning(t *testing.T) {
	r, reg := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	out := r.HandleDisconnect("bob-sid", "transport closed")
	require.Len(t, out, 2)
	assert.Equal(t, EventParticipantLeft, out[0].Event)
	payload := out[0].Data.(map[string]any)
	assert.Equal(t, "Bob", payload["participantName"])
	assert.Equal(t, ScopeLeaveRoom, out[1].Scope)

	m, ok := reg.Meeting(mid)
	require.True(t, ok)
	assert.Equal(t, 1, m.ParticipantCount())
}

func TestDisconnectOfUnknownConnIsNoop(t *testing.T) {
	r, _ := newTestRelay(t)
	assert.Empty(t, r.HandleDisconnect("stranger", "transport closed"))
}

func TestMuteAllAndUnmuteGate(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	out := r.HandleEvent("host-sid", EventMuteAllParticipants, raw(t, map[string]any{
		"muteAll": true,
	}))
	muted, ok := findEvent(out, EventAllParticipantsMuted)
	require.True(t, ok)
	payload := muted.Data.(map[string]any)
	assert.Equal(t, true, payload["muteAll"])
	assert.Equal(t, "Alice", payload["mutedBy"])

	// Bob cannot unmute while the restriction stands.
	out = r.HandleEvent("bob-sid", EventToggleMic, raw(t, map[string]any{
		"isMuted": false,
	}))
	assert.Equal(t, "You are not allowed to unmute yourself", errMessage(t, out[0]))

	// Muting further is always allowed.
	out = r.HandleEvent("bob-sid", EventToggleMic, raw(t, map[string]any{
		"isMuted": true,
	}))
	_, ok = findEvent(out, EventParticipantAudioChanged)
	assert.True(t, ok)
}

func TestReactionGatedByPermission(t *testing.T) {
	r, _ := newTestRelay(t)
	mid := joinHost(t, r, "host-sid", "Alice")
	joinParticipant(t, r, "bob-sid", mid, "Bob")

	out := r.HandleEvent("bob-sid", EventSendReaction, raw(t, map[string]any{
		"emoji":     "🎉",
		"timestamp": time.Now().UnixMilli(),
	}))
	reaction, ok := findEvent(out, EventReactionReceived)
	require.True(t, ok)
	assert.Equal(t, "Bob", reaction.Data.(map[string]any)["participantName"])

	r.HandleEvent("host-sid", EventUpdatePermissions, raw(t, map[string]any{
		"permissions": map[string]any{"emojiReactions": false},
	}))
	out = r.HandleEvent("bob-sid", EventSendReaction, raw(t, map[string]any{
		"emoji":     "🎉",
		"timestamp": time.Now().UnixMilli(),
	}))
	assert.Equal(t, "Emoji reactions are disabled by the host", errMessage(t, out[0]))
}

func TestUnknownEventIsDropped(t *testing.T) {
	r, _ := newTestRelay(t)
	assert.Empty(t, r.HandleEvent("host-sid", "no-such-event", nil))
}

func TestNewMeetingIDShape(t *testing.T) {
	seen := map[domain.MeetingID]bool{}
	for i := 0; i < 100; i++ {
		id := NewMeetingID()
		assert.Len(t, string(id), 8)
		for _, c := range string(id) {
			assert.False(t, c >= 'a' && c <= 'z', "meeting id must be uppercase: %s", id)
		}
		assert.False(t, seen[id], "duplicate meeting id")
		seen[id] = true
	}
}
