package domain

// Permissions is the per-meeting permission set the host controls.
type Permissions struct {
	ChatEnabled         bool `json:"chatEnabled"`
	FileSharing         bool `json:"fileSharing"`
	EmojiReactions      bool `json:"emojiReactions"`
	AllowRename         bool `json:"allowRename"`
	AllowUnmute         bool `json:"allowUnmute"`
	AllowHandRaising    bool `json:"allowHandRaising"`
	MuteAllParticipants bool `json:"muteAllParticipants"`
}

// DefaultPermissions matches a freshly created meeting.
func DefaultPermissions() Permissions {
	return Permissions{
		ChatEnabled:      true,
		FileSharing:      true,
		EmojiReactions:   true,
		AllowRename:      true,
		AllowUnmute:      true,
		AllowHandRaising: true,
	}
}

// PermissionPatch is a partial permission update. Nil fields are left
// untouched on merge.
type PermissionPatch struct {
	ChatEnabled         *bool `json:"chatEnabled,omitempty"`
	FileSharing         *bool `json:"fileSharing,omitempty"`
	EmojiReactions      *bool `json:"emojiReactions,omitempty"`
	AllowRename         *bool `json:"allowRename,omitempty"`
	AllowUnmute         *bool `json:"allowUnmute,omitempty"`
	AllowHandRaising    *bool `json:"allowHandRaising,omitempty"`
	MuteAllParticipants *bool `json:"muteAllParticipants,omitempty"`
}

// Apply merges the patch into p.
func (pp PermissionPatch) Apply(p *Permissions) {
	if pp.ChatEnabled != nil {
		p.ChatEnabled = *pp.ChatEnabled
	}
	if pp.FileSharing != nil {
		p.FileSharing = *pp.FileSharing
	}
	if pp.EmojiReactions != nil {
		p.EmojiReactions = *pp.EmojiReactions
	}
	if pp.AllowRename != nil {
		p.AllowRename = *pp.AllowRename
	}
	if pp.AllowUnmute != nil {
		p.AllowUnmute = *pp.AllowUnmute
	}
	if pp.AllowHandRaising != nil {
		p.AllowHandRaising = *pp.AllowHandRaising
	}
	if pp.MuteAllParticipants != nil {
		p.MuteAllParticipants = *pp.MuteAllParticipants
	}
}
