// Package adapters owns transport resources: WebSocket connections,
// the room broadcast mapping and the HTTP surface. Core and app never
// see a live socket.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/app"
	"github.com/avral/meetspace/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeDeadline = 5 * time.Second

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Conn is one client's transport endpoint with a buffered outbound
// queue. The adapter owns it and must Close() it.
type Conn struct {
	id   domain.ConnID
	conn WSConn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewConn(id domain.ConnID, ws WSConn) *Conn {
	return &Conn{
		id:   id,
		conn: ws,
		send: make(chan []byte, 64),
	}
}

func (c *Conn) ID() domain.ConnID { return c.id }

func (c *Conn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops accepting frames. Frames queued before Close are still
// drained by the write loop, which closes the socket afterwards, so a
// farewell notice queued right before Close reaches the wire.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// StartWriteLoop pumps queued frames to the network until the context
// ends or the queue is closed and drained, then closes the socket.
func (c *Conn) StartWriteLoop(ctx context.Context) {
	go func() {
		defer func() { _ = c.conn.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-c.send:
				if !ok {
					return
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Debug().Str("module", "adapters.hub").Str("sid", string(c.id)).
						Err(err).Msg("write failed")
					return
				}
			}
		}
	}()
}

// envelope is the wire shape in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub is the explicit room mapping: meeting ID → set of connected
// transport handles. Broadcast and unicast are set operations here,
// not a transport feature.
type Hub struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*Conn
	rooms map[domain.MeetingID]map[domain.ConnID]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[domain.ConnID]*Conn),
		rooms: make(map[domain.MeetingID]map[domain.ConnID]struct{}),
	}
}

func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

// Unregister drops the connection and any room membership left behind.
func (h *Hub) Unregister(id domain.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
	for mid, members := range h.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, mid)
		}
	}
}

func (h *Hub) RoomSize(id domain.MeetingID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[id])
}

// Dispatch executes a batch of outbound messages in order. It is the
// only place relay output touches the transport.
func (h *Hub) Dispatch(msgs []app.Outbound) {
	for _, msg := range msgs {
		switch msg.Scope {
		case app.ScopeJoinRoom:
			h.joinRoom(msg.Meeting, msg.Target)
		case app.ScopeLeaveRoom:
			h.leaveRoom(msg.Meeting, msg.Target)
		case app.ScopeDropRoom:
			h.dropRoom(msg.Meeting)
		case app.ScopeUnicast:
			h.unicast(msg)
		case app.ScopeRoom, app.ScopeRoomExcept:
			h.broadcast(msg)
		}
	}
}

func (h *Hub) joinRoom(mid domain.MeetingID, id domain.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[mid]
	if !ok {
		members = make(map[domain.ConnID]struct{})
		h.rooms[mid] = members
	}
	members[id] = struct{}{}
}

func (h *Hub) leaveRoom(mid domain.MeetingID, id domain.ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[mid]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, mid)
		}
	}
}

func (h *Hub) dropRoom(mid domain.MeetingID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, mid)
}

func (h *Hub) unicast(msg app.Outbound) {
	data, err := marshalEnvelope(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	c, ok := h.conns[msg.Target]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Str("module", "adapters.hub").Str("sid", string(msg.Target)).
			Str("event", msg.Event).Msg("dropped frame, slow consumer")
	}
	if msg.CloseTarget {
		c.Close()
	}
}

func (h *Hub) broadcast(msg app.Outbound) {
	data, err := marshalEnvelope(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	members := h.rooms[msg.Meeting]
	targets := make([]*Conn, 0, len(members))
	for id := range members {
		if msg.Scope == app.ScopeRoomExcept && id == msg.Exclude {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.TrySend(data); err != nil {
			log.Warn().Str("module", "adapters.hub").Str("sid", string(c.id)).
				Str("event", msg.Event).Msg("dropped frame, slow consumer")
		}
	}
}

func marshalEnvelope(msg app.Outbound) ([]byte, error) {
	payload, err := json.Marshal(msg.Data)
	if err != nil {
		log.Error().Str("module", "adapters.hub").Str("event", msg.Event).
			Err(err).Msg("marshal outbound payload")
		return nil, err
	}
	return json.Marshal(envelope{Event: msg.Event, Data: payload})
}
