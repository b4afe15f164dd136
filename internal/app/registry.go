// Package app is the relay layer: it owns the process-wide registries
// and translates inbound client events into state-machine calls plus
// outbound fan-out.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/core"
	"github.com/avral/meetspace/internal/domain"
)

// ConnInfo is the connection identity table entry: which meeting a
// connection belongs to and whether it is that meeting's host.
type ConnInfo struct {
	MeetingID domain.MeetingID
	IsHost    bool
	UserID    string
}

// Registry maps meeting IDs to their state machines and connection IDs
// to their meeting binding. These are the only cross-meeting shared
// structures; only the relay layer reads or writes them.
type Registry struct {
	mu       sync.RWMutex
	meetings map[domain.MeetingID]*core.Meeting
	conns    map[domain.ConnID]ConnInfo
}

func NewRegistry() *Registry {
	return &Registry{
		meetings: make(map[domain.MeetingID]*core.Meeting),
		conns:    make(map[domain.ConnID]ConnInfo),
	}
}

func (r *Registry) AddMeeting(m *core.Meeting) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meetings[m.ID()] = m
	log.Info().Str("module", "app.registry").Str("meeting", string(m.ID())).Msg("meeting registered")
}

func (r *Registry) Meeting(id domain.MeetingID) (*core.Meeting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meetings[id]
	return m, ok
}

func (r *Registry) RemoveMeeting(id domain.MeetingID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meetings, id)
	log.Info().Str("module", "app.registry").Str("meeting", string(id)).Msg("meeting removed")
}

func (r *Registry) MeetingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.meetings)
}

// Meetings returns the current meeting set. Used by the health sweep.
func (r *Registry) Meetings() []*core.Meeting {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Meeting, 0, len(r.meetings))
	for _, m := range r.meetings {
		out = append(out, m)
	}
	return out
}

// Bind records which meeting a connection belongs to.
func (r *Registry) Bind(id domain.ConnID, meetingID domain.MeetingID, isHost bool, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = ConnInfo{MeetingID: meetingID, IsHost: isHost, UserID: userID}
}

func (r *Registry) Lookup(id domain.ConnID) (ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.conns[id]
	return info, ok
}

func (r *Registry) Unbind(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// MeetingOf resolves a connection to its meeting in one step.
func (r *Registry) MeetingOf(id domain.ConnID) (*core.Meeting, ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.conns[id]
	if !ok {
		return nil, ConnInfo{}, false
	}
	m, ok := r.meetings[info.MeetingID]
	if !ok {
		return nil, info, false
	}
	return m, info, true
}
