package app

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/core"
	"github.com/avral/meetspace/internal/domain"
)

func (r *Relay) handleChangeMeetingName(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		NewName *string `json:"newName"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.NewName == nil {
		return r.reject(sid, "Missing required field: newName")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return r.reject(sid, "Meeting not found")
	}
	if !m.CanChangeMeetingName(sid) {
		return r.reject(sid, "Only host can change meeting name")
	}

	oldName := m.Name()
	if err := m.UpdateName(*p.NewName); err != nil {
		if err == domain.ErrNameTooLong {
			return r.reject(sid, fmt.Sprintf("Meeting name is too long (max %d characters)", domain.MaxMeetingNameLen))
		}
		return r.reject(sid, "Please enter a valid meeting name")
	}

	changedBy, _ := m.Participant(sid)
	log.Info().Str("module", "app.relay").Str("meeting", string(info.MeetingID)).
		Str("old", oldName).Str("new", m.Name()).Msg("meeting renamed")

	return []Outbound{room(info.MeetingID, EventMeetingNameChanged, map[string]any{
		"oldName":   oldName,
		"newName":   m.Name(),
		"changedBy": changedBy.Name,
	})}
}

// renameIn applies the shared rename path: permission is checked by
// the caller, this validates length, enforces case-insensitive
// uniqueness against the rest of the roster and broadcasts the result.
func (r *Relay) renameIn(m *core.Meeting, mid domain.MeetingID, requester, target domain.ConnID, newName string, extra map[string]any) []Outbound {
	if m.NameTakenBy(newName, target) {
		return r.reject(requester, "This name is already taken by another participant")
	}

	oldName, applied, err := m.RenameParticipant(target, newName)
	if err != nil {
		return r.reject(requester, fmt.Sprintf("Invalid name. Name must be 1-%d characters.", domain.MaxParticipantNameLen))
	}

	payload := map[string]any{
		"socketId":     target,
		"oldName":      oldName,
		"newName":      applied,
		"participants": m.Snapshot(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	log.Info().Str("module", "app.relay").Str("meeting", string(mid)).
		Str("old", oldName).Str("new", applied).Msg("participant renamed")
	return []Outbound{room(mid, EventParticipantRenamed, payload)}
}

func (r *Relay) handleRenameSelf(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		NewName *string `json:"newName"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.NewName == nil {
		return r.reject(sid, "Missing required field: newName")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return r.reject(sid, "Meeting not found")
	}
	self, ok := m.Participant(sid)
	if !ok {
		return r.reject(sid, "Participant not found in meeting")
	}
	if !m.CanRename(sid) {
		return r.reject(sid, "You are not allowed to rename yourself")
	}
	return r.renameIn(m, info.MeetingID, sid, sid, *p.NewName, map[string]any{
		"isHost": self.IsHost,
	})
}

func (r *Relay) handleHostRenameParticipant(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		TargetSocketID *string `json:"targetSocketId"`
		NewName        *string `json:"newName"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.TargetSocketID == nil {
		return r.reject(sid, "Missing required field: targetSocketId")
	}
	if p.NewName == nil {
		return r.reject(sid, "Missing required field: newName")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return r.reject(sid, "Meeting not found")
	}
	if !m.CanPerformHostAction(sid) {
		return r.reject(sid, "Only host can rename participants")
	}

	renamedBy, _ := m.Participant(sid)
	return r.renameIn(m, info.MeetingID, sid, domain.ConnID(*p.TargetSocketID), *p.NewName, map[string]any{
		"renamedBy": renamedBy.Name,
	})
}

func (r *Relay) handleHostRenameSelf(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		NewName *string `json:"newName"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.NewName == nil {
		return r.reject(sid, "Missing required field: newName")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return r.reject(sid, "Meeting not found")
	}
	self, ok := m.Participant(sid)
	if !ok || !self.IsHost {
		return r.reject(sid, "Only host can use this feature")
	}
	return r.renameIn(m, info.MeetingID, sid, sid, *p.NewName, map[string]any{
		"isHost": true,
	})
}

func (r *Relay) handleToggleMeetingLock(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		IsLocked *bool `json:"isLocked"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.IsLocked == nil {
		return r.reject(sid, "Missing required field: isLocked")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok || !m.CanPerformHostAction(sid) {
		return r.reject(sid, "Only host can lock/unlock the meeting")
	}

	if *p.IsLocked {
		m.Lock()
	} else {
		m.Unlock()
	}

	changedBy, _ := m.Participant(sid)
	log.Info().Str("module", "app.relay").Str("meeting", string(info.MeetingID)).
		Bool("locked", *p.IsLocked).Msg("meeting lock changed")
	return []Outbound{room(info.MeetingID, EventMeetingLockChanged, map[string]any{
		"isLocked":  m.IsLocked(),
		"changedBy": changedBy.Name,
	})}
}

func (r *Relay) handleUpdatePermissions(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Permissions *domain.PermissionPatch `json:"permissions"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.Permissions == nil {
		return r.reject(sid, "Missing required field: permissions")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok || !m.CanPerformHostAction(sid) {
		return r.reject(sid, "Only host can update meeting permissions")
	}

	updated := m.UpdatePermissions(*p.Permissions)
	changedBy, _ := m.Participant(sid)

	out := []Outbound{room(info.MeetingID, EventPermissionsUpdated, map[string]any{
		"permissions":  updated,
		"changedBy":    changedBy.Name,
		"participants": m.Snapshot(),
	})}
	if p.Permissions.AllowRename != nil {
		out = append(out, room(info.MeetingID, EventRenamePermissionUpdated, map[string]any{
			"permissions": map[string]bool{"allowRename": *p.Permissions.AllowRename},
			"changedBy":   changedBy.Name,
		}))
	}
	return out
}

func (r *Relay) handleSendReaction(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Emoji     *string `json:"emoji"`
		Timestamp *int64  `json:"timestamp"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.Emoji == nil {
		return r.reject(sid, "Missing required field: emoji")
	}
	if p.Timestamp == nil {
		return r.reject(sid, "Missing required field: timestamp")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !m.Permissions().EmojiReactions {
		return r.reject(sid, "Emoji reactions are disabled by the host")
	}
	sender, ok := m.Participant(sid)
	if !ok {
		return nil
	}
	return []Outbound{room(info.MeetingID, EventReactionReceived, map[string]any{
		"emoji":           *p.Emoji,
		"participantName": sender.Name,
		"socketId":        sid,
		"timestamp":       *p.Timestamp,
	})}
}

func (r *Relay) handleRaiseHand(sid domain.ConnID) []Outbound {
	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !m.CanRaiseHand(sid) {
		return r.reject(sid, "Hand raising is disabled by the host")
	}
	if !m.RaiseHand(sid) {
		return nil
	}
	p, _ := m.Participant(sid)
	return []Outbound{room(info.MeetingID, EventHandRaised, map[string]any{
		"socketId":        sid,
		"participantName": p.Name,
		"raisedHands":     m.RaisedHands(),
	})}
}

func (r *Relay) handleLowerHand(sid domain.ConnID) []Outbound {
	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !m.LowerHand(sid) {
		return nil
	}
	p, _ := m.Participant(sid)
	return []Outbound{room(info.MeetingID, EventHandLowered, map[string]any{
		"socketId":        sid,
		"participantName": p.Name,
		"raisedHands":     m.RaisedHands(),
	})}
}

func (r *Relay) handleStartScreenShare(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		StreamID         *string `json:"streamId"`
		HasComputerAudio bool    `json:"hasComputerAudio"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.StreamID == nil {
		return r.reject(sid, "Missing required field: streamId")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !m.AddScreenShare(sid, *p.StreamID, p.HasComputerAudio) {
		return nil
	}
	sharer, _ := m.Participant(sid)
	return []Outbound{roomExcept(info.MeetingID, sid, EventScreenShareStarted, map[string]any{
		"participantId":    sid,
		"streamId":         *p.StreamID,
		"participantName":  sharer.Name,
		"hasComputerAudio": p.HasComputerAudio,
	})}
}

func (r *Relay) handleStopScreenShare(sid domain.ConnID) []Outbound {
	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	m.RemoveScreenShare(sid)
	return []Outbound{roomExcept(info.MeetingID, sid, EventScreenShareStopped, map[string]any{
		"participantId": sid,
	})}
}

func (r *Relay) handleToggleComputerAudio(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.Enabled == nil {
		return r.reject(sid, "Missing required field: enabled")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !m.SetComputerAudio(sid, *p.Enabled) {
		return nil
	}
	sharer, _ := m.Participant(sid)
	return []Outbound{roomExcept(info.MeetingID, sid, EventComputerAudioToggled, map[string]any{
		"participantId":   sid,
		"enabled":         *p.Enabled,
		"participantName": sharer.Name,
	})}
}

func (r *Relay) handleSpotlightParticipant(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		TargetSocketID *string `json:"targetSocketId"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.TargetSocketID == nil {
		return r.reject(sid, "Missing required field: targetSocketId")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok || !m.CanPerformHostAction(sid) {
		return r.reject(sid, "Insufficient permissions")
	}

	target := domain.ConnID(*p.TargetSocketID)
	if !m.SpotlightParticipant(target) {
		return r.reject(sid, "Participant not found")
	}
	return []Outbound{room(info.MeetingID, EventParticipantSpotlighted, map[string]any{
		"spotlightedParticipant": target,
		"participants":           m.Snapshot(),
		"reason":                 "manual",
	})}
}

func (r *Relay) handleRemoveSpotlight(sid domain.ConnID) []Outbound {
	m, info, ok := r.reg.MeetingOf(sid)
	if !ok || !m.CanPerformHostAction(sid) {
		return r.reject(sid, "Insufficient permissions")
	}
	m.RemoveSpotlight()
	return []Outbound{room(info.MeetingID, EventSpotlightRemoved, map[string]any{
		"participants": m.Snapshot(),
	})}
}

func (r *Relay) handlePinParticipant(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		TargetSocketID *string `json:"targetSocketId"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.TargetSocketID == nil {
		return r.reject(sid, "Missing required field: targetSocketId")
	}
	if _, ok := r.reg.Lookup(sid); !ok {
		return nil
	}
	// Pinning is a sender-local view preference, no shared state.
	return []Outbound{unicast(sid, EventParticipantPinned, map[string]any{
		"pinnedParticipant": *p.TargetSocketID,
	})}
}

func (r *Relay) handleMuteParticipant(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		TargetSocketID *string `json:"targetSocketId"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.TargetSocketID == nil {
		return r.reject(sid, "Missing required field: targetSocketId")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok || !m.CanPerformHostAction(sid) {
		return r.reject(sid, "Insufficient permissions")
	}

	target := domain.ConnID(*p.TargetSocketID)
	muted, ok := m.ToggleMuted(target)
	if !ok {
		return nil
	}
	return []Outbound{
		unicast(target, EventForceMute, map[string]any{"isMuted": muted}),
		room(info.MeetingID, EventParticipantMuted, map[string]any{
			"targetSocketId": target,
			"isMuted":        muted,
			"participants":   m.Snapshot(),
		}),
	}
}

func (r *Relay) handleMakeCoHost(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		TargetSocketID *string `json:"targetSocketId"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.TargetSocketID == nil {
		return r.reject(sid, "Missing required field: targetSocketId")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok || !m.CanMakeCoHost(sid) {
		return r.reject(sid, "Only host can make co-hosts")
	}

	target := domain.ConnID(*p.TargetSocketID)
	if !m.MakeCoHost(target) {
		return nil
	}
	return []Outbound{
		unicast(target, EventMadeCoHost, struct{}{}),
		room(info.MeetingID, EventCoHostAssigned, map[string]any{
			"targetSocketId": target,
			"participants":   m.Snapshot(),
		}),
	}
}

func (r *Relay) handleKickParticipant(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		TargetSocketID *string `json:"targetSocketId"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.TargetSocketID == nil {
		return r.reject(sid, "Missing required field: targetSocketId")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}

	requester, okReq := m.Participant(sid)
	target := domain.ConnID(*p.TargetSocketID)
	victim, okTarget := m.Participant(target)
	if !okReq || !okTarget {
		return nil
	}
	if !requester.IsHost || victim.IsCoHost {
		return r.reject(sid, "Cannot kick this participant")
	}

	m.RemoveParticipant(target)
	r.retry.CancelFor(target)
	r.reg.Unbind(target)
	r.updateGauges()

	log.Info().Str("module", "app.relay").Str("meeting", string(info.MeetingID)).
		Str("participant", string(target)).Msg("participant kicked")

	return []Outbound{
		{Scope: ScopeUnicast, Target: target, Event: EventKickedFromMeeting, Data: struct{}{}, CloseTarget: true},
		leaveRoom(info.MeetingID, target),
		roomExcept(info.MeetingID, sid, EventParticipantKicked, map[string]any{
			"targetSocketId": target,
			"participants":   m.Snapshot(),
		}),
	}
}

func (r *Relay) handleToggleMic(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		IsMuted *bool `json:"isMuted"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.IsMuted == nil {
		return r.reject(sid, "Missing required field: isMuted")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !*p.IsMuted && !m.CanUnmute(sid) {
		return r.reject(sid, "You are not allowed to unmute yourself")
	}
	if !m.SetMuted(sid, *p.IsMuted) {
		return nil
	}
	return []Outbound{roomExcept(info.MeetingID, sid, EventParticipantAudioChanged, map[string]any{
		"socketId":     sid,
		"isMuted":      *p.IsMuted,
		"participants": m.Snapshot(),
	})}
}

func (r *Relay) handleToggleCamera(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		IsCameraOff *bool `json:"isCameraOff"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.IsCameraOff == nil {
		return r.reject(sid, "Missing required field: isCameraOff")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok {
		return nil
	}
	if !m.SetCameraOff(sid, *p.IsCameraOff) {
		return nil
	}
	return []Outbound{roomExcept(info.MeetingID, sid, EventParticipantVideoChanged, map[string]any{
		"socketId":     sid,
		"isCameraOff":  *p.IsCameraOff,
		"participants": m.Snapshot(),
	})}
}

func (r *Relay) handleMuteAll(sid domain.ConnID, data json.RawMessage) []Outbound {
	var p struct {
		MuteAll *bool `json:"muteAll"`
	}
	if !decode(data, &p) {
		return r.reject(sid, "Invalid data format")
	}
	if p.MuteAll == nil {
		return r.reject(sid, "Missing required field: muteAll")
	}

	m, info, ok := r.reg.MeetingOf(sid)
	if !ok || !m.CanPerformHostAction(sid) {
		return r.reject(sid, "Only host can mute all participants")
	}

	permissions := m.UpdatePermissions(domain.PermissionPatch{MuteAllParticipants: p.MuteAll})
	mutedBy, _ := m.Participant(sid)
	return []Outbound{room(info.MeetingID, EventAllParticipantsMuted, map[string]any{
		"muteAll":      *p.MuteAll,
		"participants": m.Snapshot(),
		"permissions":  permissions,
		"mutedBy":      mutedBy.Name,
	})}
}
