package config

import (
	"os"

	"github.com/pion/webrtc/v4"
)

// DialConfig is the WebRTC configuration clients use to build their
// RTCPeerConnection. The extended timeout fields are browser hints,
// not pion settings, so this is a plain serializable struct rather
// than webrtc.Configuration.
type DialConfig struct {
	ICEServers           []webrtc.ICEServer `json:"iceServers"`
	ICECandidatePoolSize int                `json:"iceCandidatePoolSize"`
	ICETransportPolicy   string             `json:"iceTransportPolicy"`
	BundlePolicy         string             `json:"bundlePolicy"`
	RTCPMuxPolicy        string             `json:"rtcpMuxPolicy"`

	// Timeout hints in milliseconds.
	ICEConnectionReceivingTimeout int `json:"iceConnectionReceivingTimeout"`
	ICEInactiveTimeout            int `json:"iceInactiveTimeout"`
	ICEGatheringTimeout           int `json:"iceGatheringTimeout"`
}

// defaultICEServers is the built-in STUN/TURN catalog. Public STUN
// plus free relay TURN; production deployments append their own TURN
// credentials via environment (see envTURNServers).
func defaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun2.l.google.com:19302",
			"stun:stun.stunprotocol.org:3478",
			"stun:stun.sipgate.net:3478",
		}},
		{
			URLs: []string{
				"turn:openrelay.metered.ca:80",
				"turn:openrelay.metered.ca:443",
				"turn:openrelay.metered.ca:443?transport=tcp",
			},
			Username:   "openrelayproject",
			Credential: "openrelayproject",
		},
	}
}

// envTURNServers picks up operator-supplied TURN credentials. Each
// provider triplet is added only when fully configured.
func envTURNServers() []webrtc.ICEServer {
	providers := []struct {
		url, username, credential string
	}{
		{"TWILIO_TURN_URL", "TWILIO_TURN_USERNAME", "TWILIO_TURN_CREDENTIAL"},
		{"XIRSYS_TURN_URL", "XIRSYS_USERNAME", "XIRSYS_CREDENTIAL"},
		{"METERED_TURN_URL", "METERED_USERNAME", "METERED_CREDENTIAL"},
	}

	var out []webrtc.ICEServer
	for _, p := range providers {
		url := os.Getenv(p.url)
		user := os.Getenv(p.username)
		cred := os.Getenv(p.credential)
		if url == "" || user == "" || cred == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{
			URLs:       []string{url},
			Username:   user,
			Credential: cred,
		})
	}
	return out
}

// ICEServers returns the full catalog handed to clients.
func ICEServers() []webrtc.ICEServer {
	return append(defaultICEServers(), envTURNServers()...)
}

// WebRTCConfig builds the dial configuration sent alongside ICE
// servers on join and connection restarts.
func WebRTCConfig() DialConfig {
	return DialConfig{
		ICEServers:           ICEServers(),
		ICECandidatePoolSize: 10,
		ICETransportPolicy:   "all",
		BundlePolicy:         "max-bundle",
		RTCPMuxPolicy:        "require",

		ICEConnectionReceivingTimeout: 60000,
		ICEInactiveTimeout:            120000,
		ICEGatheringTimeout:           30000,
	}
}
