// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"
)

const (
	MaxParticipantNameLen = 50
	MaxMeetingNameLen     = 100
)

var (
	ErrNameEmpty   = errors.New("name empty")
	ErrNameTooLong = errors.New("name too long")
)

// ConnID identifies one client connection. Unique across the process.
type ConnID string

// MeetingID is the human-shareable meeting identifier.
type MeetingID string

// Participant is one attendee of a meeting. The meeting state machine
// owns the instance; everything handed out of core is a copy.
type Participant struct {
	ID                     ConnID    `json:"socketId"`
	Name                   string    `json:"name"`
	IsHost                 bool      `json:"isHost"`
	IsCoHost               bool      `json:"isCoHost"`
	IsMuted                bool      `json:"isMuted"`
	IsCameraOff            bool      `json:"isCameraOff"`
	IsSpotlighted          bool      `json:"isSpotlighted"`
	IsScreenSharing        bool      `json:"isScreenSharing"`
	IsSharingComputerAudio bool      `json:"isSharingComputerAudio"`
	AudioLevel             float64   `json:"audioLevel"`
	HandRaised             bool      `json:"handRaised"`
	IsReady                bool      `json:"isReady"`
	ConnectionState        string    `json:"connectionState"`
	NetworkQuality         string    `json:"networkQuality"`
	JoinedAt               time.Time `json:"joinedAt"`
	LastSeen               time.Time `json:"-"`
}

// ScreenShare describes one participant's active screen-share stream.
type ScreenShare struct {
	StreamID         string    `json:"streamId"`
	StartedAt        time.Time `json:"startedAt"`
	HasComputerAudio bool      `json:"hasComputerAudio"`
}

// ConnectionPair is an ordered (from, to) peer-connection key.
type ConnectionPair struct {
	From ConnID
	To   ConnID
}

func (p ConnectionPair) String() string {
	return string(p.From) + "-" + string(p.To)
}

// Involves reports whether either side of the pair is id.
func (p ConnectionPair) Involves(id ConnID) bool {
	return p.From == id || p.To == id
}
