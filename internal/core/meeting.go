// Package core owns the meeting state machine. A Meeting is the single
// authoritative owner of one meeting's state; it never reaches outside
// itself and never touches transport resources.
package core

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/domain"
)

// DefaultSpotlightThreshold is the audio activity level above which a
// speaker is auto-spotlighted. Tunable via config, not a precise VAD.
const DefaultSpotlightThreshold = 0.3

type connState struct {
	State     string
	Timestamp time.Time
}

// Meeting is threadsafe. Every operation validates participant
// existence before mutating; operations on missing participants are
// no-ops returning zero values, never panics.
type Meeting struct {
	mu sync.RWMutex

	id        domain.MeetingID
	hostID    domain.ConnID
	hostName  string
	name      string
	createdAt time.Time

	locked      bool
	permissions domain.Permissions

	participants map[domain.ConnID]*domain.Participant
	coHosts      map[domain.ConnID]struct{}
	screenShares map[domain.ConnID]*domain.ScreenShare
	raisedHands  map[domain.ConnID]struct{}

	spotlighted     domain.ConnID // "" means none
	manualSpotlight bool

	spotlightThreshold float64

	connAttempts map[domain.ConnectionPair]int
	connStates   map[domain.ConnectionPair]connState
}

func NewMeeting(id domain.MeetingID, hostID domain.ConnID, hostName string) *Meeting {
	return &Meeting{
		id:                 id,
		hostID:             hostID,
		hostName:           hostName,
		name:               hostName + "'s Meeting",
		createdAt:          time.Now(),
		permissions:        domain.DefaultPermissions(),
		participants:       make(map[domain.ConnID]*domain.Participant),
		coHosts:            make(map[domain.ConnID]struct{}),
		screenShares:       make(map[domain.ConnID]*domain.ScreenShare),
		raisedHands:        make(map[domain.ConnID]struct{}),
		spotlightThreshold: DefaultSpotlightThreshold,
	}
}

// SetSpotlightThreshold overrides the auto-spotlight activity level.
// Call before the meeting is shared between goroutines.
func (m *Meeting) SetSpotlightThreshold(v float64) {
	if v > 0 {
		m.spotlightThreshold = v
	}
}

func (m *Meeting) ID() domain.MeetingID { return m.id }

func (m *Meeting) HostID() domain.ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hostID
}

func (m *Meeting) HostName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hostName
}

func (m *Meeting) CreatedAt() time.Time { return m.createdAt }

// AddParticipant creates the participant record. The first host gets
// spotlighted if nothing is, without setting the manual flag, so audio
// activity can still move the spotlight later.
func (m *Meeting) AddParticipant(id domain.ConnID, name string, isHost bool) domain.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	p := &domain.Participant{
		ID:              id,
		Name:            name,
		IsHost:          isHost,
		ConnectionState: "new",
		NetworkQuality:  "unknown",
		JoinedAt:        now,
		LastSeen:        now,
	}
	m.participants[id] = p

	if isHost && m.spotlighted == "" {
		m.setSpotlight(id, false)
	}
	log.Info().Str("module", "core.meeting").Str("meeting", string(m.id)).
		Str("participant", string(id)).Bool("host", isHost).Msg("participant added")
	return *p
}

// RemoveParticipant deletes the participant and every piece of meeting
// state referencing it, atomically under the meeting lock. Idempotent.
func (m *Meeting) RemoveParticipant(id domain.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.participants[id]; !ok {
		return
	}
	delete(m.participants, id)
	delete(m.coHosts, id)
	delete(m.screenShares, id)
	delete(m.raisedHands, id)

	if m.spotlighted == id {
		m.spotlighted = ""
		m.manualSpotlight = false
	}
	for pair := range m.connAttempts {
		if pair.Involves(id) {
			delete(m.connAttempts, pair)
		}
	}
	for pair := range m.connStates {
		if pair.Involves(id) {
			delete(m.connStates, pair)
		}
	}
	log.Info().Str("module", "core.meeting").Str("meeting", string(m.id)).
		Str("participant", string(id)).Msg("participant removed")
}

// Participant returns a copy of the record.
func (m *Meeting) Participant(id domain.ConnID) (domain.Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (m *Meeting) Has(id domain.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.participants[id]
	return ok
}

func (m *Meeting) ParticipantCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.participants)
}

// Snapshot returns copies of all participants, host first for stable
// rendering on clients.
func (m *Meeting) Snapshot() []domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if p.IsHost {
			out = append([]domain.Participant{*p}, out...)
			continue
		}
		out = append(out, *p)
	}
	return out
}

// NameTakenBy reports whether name is already used, case-insensitively,
// by a participant other than exclude. Rename uniqueness lives at the
// relay boundary; this is the lookup it uses.
func (m *Meeting) NameTakenBy(name string, exclude domain.ConnID) bool {
	folded := strings.ToLower(strings.TrimSpace(name))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, p := range m.participants {
		if id != exclude && strings.ToLower(p.Name) == folded {
			return true
		}
	}
	return false
}

// setSpotlight moves the spotlight. Caller holds m.mu.
func (m *Meeting) setSpotlight(id domain.ConnID, manual bool) bool {
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	if prev, ok := m.participants[m.spotlighted]; ok {
		prev.IsSpotlighted = false
	}
	p.IsSpotlighted = true
	m.spotlighted = id
	m.manualSpotlight = manual
	return true
}

// SpotlightParticipant pins the spotlight manually, suppressing audio
// driven auto-spotlight until RemoveSpotlight.
func (m *Meeting) SpotlightParticipant(id domain.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setSpotlight(id, true)
}

func (m *Meeting) RemoveSpotlight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.participants[m.spotlighted]; ok {
		p.IsSpotlighted = false
	}
	m.spotlighted = ""
	m.manualSpotlight = false
}

// Spotlighted returns the current spotlight target, if any.
func (m *Meeting) Spotlighted() (domain.ConnID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spotlighted, m.spotlighted != ""
}

func (m *Meeting) ManualSpotlight() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manualSpotlight
}

// HandleAudioActivity records the speaker's level and auto-spotlights
// them when loud enough. Last speaker above threshold wins; a manual
// spotlight suppresses this entirely. Returns whether the spotlight
// moved.
func (m *Meeting) HandleAudioActivity(id domain.ConnID, level float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	p.AudioLevel = level
	p.LastSeen = time.Now()

	if m.manualSpotlight || level <= m.spotlightThreshold || m.spotlighted == id {
		return false
	}
	return m.setSpotlight(id, false)
}

// RenameParticipant trims and applies the new name. Returns the old
// name for the rename notification.
func (m *Meeting) RenameParticipant(id domain.ConnID, newName string) (oldName, applied string, err error) {
	trimmed := strings.TrimSpace(newName)
	if trimmed == "" {
		return "", "", domain.ErrNameEmpty
	}
	if len(trimmed) > domain.MaxParticipantNameLen {
		return "", "", domain.ErrNameTooLong
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return "", "", domain.ErrNameEmpty
	}
	oldName = p.Name
	p.Name = trimmed
	if p.IsHost {
		m.hostName = trimmed
	}
	return oldName, trimmed, nil
}

func (m *Meeting) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// UpdateName trims and applies the meeting display name.
func (m *Meeting) UpdateName(newName string) error {
	trimmed := strings.TrimSpace(newName)
	if trimmed == "" {
		return domain.ErrNameEmpty
	}
	if len(trimmed) > domain.MaxMeetingNameLen {
		return domain.ErrNameTooLong
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = trimmed
	return nil
}

func (m *Meeting) Lock()   { m.mu.Lock(); m.locked = true; m.mu.Unlock() }
func (m *Meeting) Unlock() { m.mu.Lock(); m.locked = false; m.mu.Unlock() }

func (m *Meeting) IsLocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked
}

// IsJoinAllowed: locked meetings only admit existing members.
func (m *Meeting) IsJoinAllowed(id domain.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.locked {
		return true
	}
	_, ok := m.participants[id]
	return ok
}

func (m *Meeting) Permissions() domain.Permissions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.permissions
}

// UpdatePermissions merges the patch. Setting muteAllParticipants=true
// force-mutes every non-host in the same mutation; it is a one-shot
// sweep, the continuing constraint is enforced by CanUnmute.
func (m *Meeting) UpdatePermissions(patch domain.PermissionPatch) domain.Permissions {
	m.mu.Lock()
	defer m.mu.Unlock()
	patch.Apply(&m.permissions)
	if patch.MuteAllParticipants != nil && *patch.MuteAllParticipants {
		for _, p := range m.participants {
			if !p.IsHost {
				p.IsMuted = true
			}
		}
	}
	return m.permissions
}

func (m *Meeting) MakeCoHost(id domain.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok || p.IsHost {
		return false
	}
	p.IsCoHost = true
	m.coHosts[id] = struct{}{}
	return true
}

func (m *Meeting) RemoveCoHost(id domain.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.participants[id]; ok {
		p.IsCoHost = false
	}
	delete(m.coHosts, id)
}

func (m *Meeting) CanPerformHostAction(id domain.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	return ok && (p.IsHost || p.IsCoHost)
}

func (m *Meeting) CanMakeCoHost(id domain.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	return ok && p.IsHost
}

func (m *Meeting) CanChangeMeetingName(id domain.ConnID) bool {
	return m.CanPerformHostAction(id)
}

func (m *Meeting) CanRename(id domain.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	return p.IsHost || m.permissions.AllowRename
}

func (m *Meeting) CanUnmute(id domain.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	if p.IsHost {
		return true
	}
	if m.permissions.MuteAllParticipants {
		return false
	}
	return m.permissions.AllowUnmute
}

func (m *Meeting) CanRaiseHand(id domain.ConnID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.participants[id]
	return ok && m.permissions.AllowHandRaising
}

// SetMuted applies the participant's own mic toggle.
func (m *Meeting) SetMuted(id domain.ConnID, muted bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	p.IsMuted = muted
	return true
}

// ToggleMuted flips the target's mute (host mute-other action) and
// returns the new value.
func (m *Meeting) ToggleMuted(id domain.ConnID) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false, false
	}
	p.IsMuted = !p.IsMuted
	return p.IsMuted, true
}

func (m *Meeting) SetCameraOff(id domain.ConnID, off bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	p.IsCameraOff = off
	return true
}

func (m *Meeting) RaiseHand(id domain.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	p.HandRaised = true
	m.raisedHands[id] = struct{}{}
	return true
}

func (m *Meeting) LowerHand(id domain.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	p.HandRaised = false
	delete(m.raisedHands, id)
	return true
}

func (m *Meeting) RaisedHands() []domain.ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ConnID, 0, len(m.raisedHands))
	for id := range m.raisedHands {
		out = append(out, id)
	}
	return out
}

func (m *Meeting) AddScreenShare(id domain.ConnID, streamID string, hasComputerAudio bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	m.screenShares[id] = &domain.ScreenShare{
		StreamID:         streamID,
		StartedAt:        time.Now(),
		HasComputerAudio: hasComputerAudio,
	}
	p.IsScreenSharing = true
	p.IsSharingComputerAudio = hasComputerAudio
	return true
}

func (m *Meeting) RemoveScreenShare(id domain.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.screenShares, id)
	if p, ok := m.participants[id]; ok {
		p.IsScreenSharing = false
		p.IsSharingComputerAudio = false
	}
}

// SetComputerAudio toggles computer audio on an active screen share.
func (m *Meeting) SetComputerAudio(id domain.ConnID, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok || !p.IsScreenSharing {
		return false
	}
	p.IsSharingComputerAudio = enabled
	if share, ok := m.screenShares[id]; ok {
		share.HasComputerAudio = enabled
	}
	return true
}

// ScreenShares returns a copy of the active share map.
func (m *Meeting) ScreenShares() map[domain.ConnID]domain.ScreenShare {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.ConnID]domain.ScreenShare, len(m.screenShares))
	for id, s := range m.screenShares {
		out[id] = *s
	}
	return out
}

func (m *Meeting) SetParticipantReady(id domain.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return false
	}
	p.IsReady = true
	p.ConnectionState = "ready"
	p.LastSeen = time.Now()
	return true
}

// ReadyParticipants returns copies of everyone who has signaled
// readiness for peer connections.
func (m *Meeting) ReadyParticipants() []domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if p.IsReady {
			out = append(out, *p)
		}
	}
	return out
}

// UpdateConnectionState records a peer-connection state transition
// reported by `from` about its link to `to`.
func (m *Meeting) UpdateConnectionState(from, to domain.ConnID, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connStates == nil {
		m.connStates = make(map[domain.ConnectionPair]connState)
	}
	m.connStates[domain.ConnectionPair{From: from, To: to}] = connState{
		State:     state,
		Timestamp: time.Now(),
	}
	if p, ok := m.participants[from]; ok {
		p.ConnectionState = state
		p.LastSeen = time.Now()
	}
}

func (m *Meeting) ConnectionAttempts(from, to domain.ConnID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connAttempts[domain.ConnectionPair{From: from, To: to}]
}

// IncrementConnectionAttempts bumps the ordered pair's counter and
// returns the new value.
func (m *Meeting) IncrementConnectionAttempts(from, to domain.ConnID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connAttempts == nil {
		m.connAttempts = make(map[domain.ConnectionPair]int)
	}
	key := domain.ConnectionPair{From: from, To: to}
	m.connAttempts[key]++
	return m.connAttempts[key]
}

func (m *Meeting) ResetConnectionAttempts(from, to domain.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connAttempts, domain.ConnectionPair{From: from, To: to})
}

func (m *Meeting) UpdateNetworkQuality(id domain.ConnID, quality string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.participants[id]; ok {
		p.NetworkQuality = quality
		p.LastSeen = time.Now()
	}
}

// Touch updates the participant's liveness timestamp.
func (m *Meeting) Touch(id domain.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.participants[id]; ok {
		p.LastSeen = time.Now()
	}
}

// SilentParticipants returns everyone unseen for longer than cutoff.
func (m *Meeting) SilentParticipants(cutoff time.Duration) []domain.ConnID {
	deadline := time.Now().Add(-cutoff)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ConnID
	for id, p := range m.participants {
		if p.LastSeen.Before(deadline) {
			out = append(out, id)
		}
	}
	return out
}
