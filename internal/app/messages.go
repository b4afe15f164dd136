package app

import "github.com/avral/meetspace/internal/domain"

// Scope selects how an Outbound message is routed by the dispatcher.
// Membership changes travel in the same stream so the dispatcher
// applies everything in handler order.
type Scope int

const (
	ScopeUnicast Scope = iota
	ScopeRoom
	ScopeRoomExcept
	ScopeJoinRoom  // add Target to Meeting's broadcast set
	ScopeLeaveRoom // remove Target from Meeting's broadcast set
	ScopeDropRoom  // remove the whole broadcast set for Meeting
)

// Outbound is one message (or membership instruction) produced by a
// relay handler. Handlers are pure with respect to transport: they
// return these and the dispatcher does the I/O.
type Outbound struct {
	Scope   Scope
	Target  domain.ConnID    // unicast / join / leave target
	Meeting domain.MeetingID // room scopes
	Exclude domain.ConnID    // ScopeRoomExcept only
	Event   string
	Data    any
	// CloseTarget force-disconnects the unicast target after delivery
	// (kick flow).
	CloseTarget bool
}

// SendFunc delivers a batch of outbound messages. The WS hub provides
// the real one; retry timers and the health sweep emit through it too.
type SendFunc func([]Outbound)

func unicast(target domain.ConnID, event string, data any) Outbound {
	return Outbound{Scope: ScopeUnicast, Target: target, Event: event, Data: data}
}

func room(id domain.MeetingID, event string, data any) Outbound {
	return Outbound{Scope: ScopeRoom, Meeting: id, Event: event, Data: data}
}

func roomExcept(id domain.MeetingID, exclude domain.ConnID, event string, data any) Outbound {
	return Outbound{Scope: ScopeRoomExcept, Meeting: id, Exclude: exclude, Event: event, Data: data}
}

func joinRoom(id domain.MeetingID, target domain.ConnID) Outbound {
	return Outbound{Scope: ScopeJoinRoom, Meeting: id, Target: target}
}

func leaveRoom(id domain.MeetingID, target domain.ConnID) Outbound {
	return Outbound{Scope: ScopeLeaveRoom, Meeting: id, Target: target}
}

func dropRoom(id domain.MeetingID) Outbound {
	return Outbound{Scope: ScopeDropRoom, Meeting: id}
}

func actionError(target domain.ConnID, msg string) Outbound {
	return unicast(target, EventActionError, errPayload{Message: msg})
}

func meetingError(target domain.ConnID, msg string) Outbound {
	return unicast(target, EventMeetingError, errPayload{Message: msg})
}

type errPayload struct {
	Message string `json:"message"`
}
