// Package stats is the client of the external statistics recorder.
// Every call is fire-and-forget: failures are logged and never reach
// the signaling path.
package stats

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/domain"
)

// Recorder is the collaborator interface for meeting statistics.
type Recorder interface {
	RecordMeetingStart(userID string, meetingID domain.MeetingID, name string, isHost bool)
	RecordMeetingEnd(userID string, meetingID domain.MeetingID, participantCount int)
	RecordMeetingParticipant(userID string, count int)
}

// Nop discards everything. Used when no stats endpoint is configured
// and in tests.
type Nop struct{}

func (Nop) RecordMeetingStart(string, domain.MeetingID, string, bool) {}
func (Nop) RecordMeetingEnd(string, domain.MeetingID, int)            {}
func (Nop) RecordMeetingParticipant(string, int)                      {}

// HTTPRecorder posts events to the external statistics service.
type HTTPRecorder struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRecorder(baseURL string) *HTTPRecorder {
	return &HTTPRecorder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *HTTPRecorder) RecordMeetingStart(userID string, meetingID domain.MeetingID, name string, isHost bool) {
	r.post("/meetings/start", map[string]any{
		"userId":      userID,
		"meetingId":   meetingID,
		"meetingName": name,
		"isHost":      isHost,
	})
}

func (r *HTTPRecorder) RecordMeetingEnd(userID string, meetingID domain.MeetingID, participantCount int) {
	r.post("/meetings/end", map[string]any{
		"userId":           userID,
		"meetingId":        meetingID,
		"participantCount": participantCount,
	})
}

func (r *HTTPRecorder) RecordMeetingParticipant(userID string, count int) {
	r.post("/meetings/participants", map[string]any{
		"userId": userID,
		"count":  count,
	})
}

// post runs async so the caller never blocks on the stats service.
func (r *HTTPRecorder) post(path string, payload any) {
	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("module", "stats").Str("path", path).Msg("marshal stats payload")
			return
		}
		resp, err := r.client.Post(r.baseURL+path, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Error().Err(err).Str("module", "stats").Str("path", path).Msg("record stats")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Error().Int("status", resp.StatusCode).Str("module", "stats").Str("path", path).Msg("stats service rejected event")
		}
	}()
}
