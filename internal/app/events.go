package app

// Inbound event names.
const (
	EventJoinAsHost            = "join-as-host"
	EventJoinMeeting           = "join-meeting"
	EventChangeMeetingName     = "change-meeting-name"
	EventChangeParticipantName = "change-participant-name"
	EventToggleMeetingLock     = "toggle-meeting-lock"
	EventUpdatePermissions     = "update-meeting-permissions"
	EventParticipantReady      = "participant-ready"
	EventConnectionStateChange = "connection-state-change"
	EventOffer                 = "offer"
	EventAnswer                = "answer"
	EventICECandidate          = "ice-candidate"
	EventConnectionFailed      = "connection-failed"
	EventAudioLevel            = "audio-level"
	EventNetworkQuality        = "network-quality"
	EventHeartbeat             = "heartbeat"
	EventSendReaction          = "send-reaction"
	EventRaiseHand             = "raise-hand"
	EventLowerHand             = "lower-hand"
	EventStartScreenShare      = "start-screen-share"
	EventStopScreenShare       = "stop-screen-share"
	EventToggleComputerAudio   = "toggle-computer-audio"
	EventComputerAudioLevel    = "computer-audio-level"
	EventSpotlightParticipant  = "spotlight-participant"
	EventRemoveSpotlight       = "remove-spotlight"
	EventPinParticipant        = "pin-participant"
	EventMuteParticipant       = "mute-participant"
	EventMakeCoHost            = "make-cohost"
	EventKickParticipant       = "kick-participant"
	EventToggleMic             = "toggle-mic"
	EventToggleCamera          = "toggle-camera"
	EventRenameParticipant     = "rename-participant"
	EventHostRenameParticipant = "host-rename-participant"
	EventHostRenameSelf        = "host-rename-self"
	EventMuteAllParticipants   = "mute-all-participants"
)

// Outbound event names.
const (
	EventJoinedMeeting            = "joined-meeting"
	EventMeetingStarted           = "meeting-started"
	EventParticipantJoinedMeeting = "participant-joined-meeting"
	EventParticipantJoined        = "participant-joined"
	EventParticipantLeft          = "participant-left"
	EventMeetingEnded             = "meeting-ended"
	EventMeetingNameChanged       = "meeting-name-changed"
	EventParticipantRenamed       = "participant-renamed"
	EventMeetingLockChanged       = "meeting-lock-changed"
	EventPermissionsUpdated       = "meeting-permissions-updated"
	EventRenamePermissionUpdated  = "rename-permission-updated"
	EventAllParticipantsMuted     = "all-participants-muted"
	EventParticipantMuted         = "participant-muted"
	EventForceMute                = "force-mute"
	EventMadeCoHost               = "made-cohost"
	EventCoHostAssigned           = "cohost-assigned"
	EventParticipantKicked        = "participant-kicked"
	EventKickedFromMeeting        = "kicked-from-meeting"
	EventParticipantSpotlighted   = "participant-spotlighted"
	EventSpotlightRemoved         = "spotlight-removed"
	EventParticipantPinned        = "participant-pinned"
	EventHandRaised               = "hand-raised"
	EventHandLowered              = "hand-lowered"
	EventReactionReceived         = "reaction-received"
	EventScreenShareStarted       = "screen-share-started"
	EventScreenShareStopped       = "screen-share-stopped"
	EventComputerAudioToggled     = "computer-audio-toggled"
	EventComputerAudioLevelUpdate = "computer-audio-level-update"
	EventParticipantAudioChanged  = "participant-audio-changed"
	EventParticipantVideoChanged  = "participant-video-changed"
	EventInitiateConnection       = "initiate-connection"
	EventPeerConnectionState      = "peer-connection-state"
	EventRetryConnection          = "retry-connection"
	EventRestartConnection        = "restart-connection"
	EventConnPermanentlyFailed    = "connection-permanently-failed"
	EventConnectionHealthCheck    = "connection-health-check"
	EventActionError              = "action-error"
	EventMeetingError             = "meeting-error"
	EventMeetingLocked            = "meeting-locked"
)
