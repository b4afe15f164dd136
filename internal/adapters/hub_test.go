package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avral/meetspace/internal/app"
	"github.com/avral/meetspace/internal/domain"
)

// fakeWS satisfies WSConn without a network.
type fakeWS struct {
	closed bool
}

func (f *fakeWS) ReadMessage() (int, []byte, error) { select {} }
func (f *fakeWS) WriteMessage(int, []byte) error    { return nil }
func (f *fakeWS) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeWS) SetReadLimit(int64)                {}
func (f *fakeWS) Close() error                      { f.closed = true; return nil }

func addConn(t *testing.T, h *Hub, id domain.ConnID) (*Conn, *fakeWS) {
	t.Helper()
	ws := &fakeWS{}
	c := NewConn(id, ws)
	h.Register(c)
	return c, ws
}

// drain pops one queued frame and decodes the envelope.
func drain(t *testing.T, c *Conn) envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	default:
		t.Fatalf("no frame queued for %s", c.ID())
		return envelope{}
	}
}

func queued(c *Conn) int { return len(c.send) }

func TestDispatchUnicast(t *testing.T) {
	h := NewHub()
	a, _ := addConn(t, h, "a")
	b, _ := addConn(t, h, "b")

	h.Dispatch([]app.Outbound{{
		Scope:  app.ScopeUnicast,
		Target: "a",
		Event:  "hello",
		Data:   map[string]any{"x": 1},
	}})

	env := drain(t, a)
	assert.Equal(t, "hello", env.Event)
	assert.JSONEq(t, `{"x":1}`, string(env.Data))
	assert.Zero(t, queued(b))
}

func TestDispatchRoomScopes(t *testing.T) {
	h := NewHub()
	a, _ := addConn(t, h, "a")
	b, _ := addConn(t, h, "b")
	c, _ := addConn(t, h, "c")

	h.Dispatch([]app.Outbound{
		{Scope: app.ScopeJoinRoom, Meeting: "M", Target: "a"},
		{Scope: app.ScopeJoinRoom, Meeting: "M", Target: "b"},
		{Scope: app.ScopeRoom, Meeting: "M", Event: "all", Data: struct{}{}},
		{Scope: app.ScopeRoomExcept, Meeting: "M", Exclude: "a", Event: "not-a", Data: struct{}{}},
	})

	assert.Equal(t, 2, h.RoomSize("M"))
	assert.Equal(t, 1, queued(a), "a gets the broadcast but not the excepted one")
	assert.Equal(t, 2, queued(b))
	assert.Zero(t, queued(c), "c never joined the room")
}

func TestDispatchLeaveAndDropRoom(t *testing.T) {
	h := NewHub()
	a, _ := addConn(t, h, "a")
	addConn(t, h, "b")

	h.Dispatch([]app.Outbound{
		{Scope: app.ScopeJoinRoom, Meeting: "M", Target: "a"},
		{Scope: app.ScopeJoinRoom, Meeting: "M", Target: "b"},
		{Scope: app.ScopeLeaveRoom, Meeting: "M", Target: "a"},
		{Scope: app.ScopeRoom, Meeting: "M", Event: "after-leave", Data: struct{}{}},
	})
	assert.Zero(t, queued(a))

	h.Dispatch([]app.Outbound{{Scope: app.ScopeDropRoom, Meeting: "M"}})
	assert.Zero(t, h.RoomSize("M"))
}

// Batch order matters: the meeting-ended broadcast must reach the room
// before the membership drop in the same batch.
func TestDispatchOrderWithinBatch(t *testing.T) {
	h := NewHub()
	addConn(t, h, "host")
	b, _ := addConn(t, h, "b")

	h.Dispatch([]app.Outbound{
		{Scope: app.ScopeJoinRoom, Meeting: "M", Target: "host"},
		{Scope: app.ScopeJoinRoom, Meeting: "M", Target: "b"},
	})
	h.Dispatch([]app.Outbound{
		{Scope: app.ScopeRoomExcept, Meeting: "M", Exclude: "host", Event: "meeting-ended", Data: struct{}{}},
		{Scope: app.ScopeDropRoom, Meeting: "M"},
	})

	env := drain(t, b)
	assert.Equal(t, "meeting-ended", env.Event)
	assert.Zero(t, h.RoomSize("M"))
}

// wireWS records frames actually written and rejects writes once the
// socket is closed, like a real connection would.
type wireWS struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (w *wireWS) ReadMessage() (int, []byte, error) { select {} }

func (w *wireWS) WriteMessage(_ int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("write on closed socket")
	}
	w.frames = append(w.frames, append([]byte(nil), data...))
	return nil
}

func (w *wireWS) SetWriteDeadline(time.Time) error { return nil }
func (w *wireWS) SetReadLimit(int64)               {}

func (w *wireWS) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *wireWS) state() (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames), w.closed
}

// A kick must put the farewell frame on the wire before the socket
// goes down.
func TestCloseTargetDeliversFrameBeforeClose(t *testing.T) {
	h := NewHub()
	ws := &wireWS{}
	c := NewConn("a", ws)
	h.Register(c)
	c.StartWriteLoop(context.Background())

	h.Dispatch([]app.Outbound{{
		Scope:       app.ScopeUnicast,
		Target:      "a",
		Event:       "kicked-from-meeting",
		Data:        struct{}{},
		CloseTarget: true,
	}})

	require.Eventually(t, func() bool {
		_, closed := ws.state()
		return closed
	}, time.Second, time.Millisecond)

	written, _ := ws.state()
	require.Equal(t, 1, written, "farewell frame must reach the wire")
	ws.mu.Lock()
	raw := append([]byte(nil), ws.frames[0]...)
	ws.mu.Unlock()
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "kicked-from-meeting", env.Event)
}

func TestUnregisterScrubsRooms(t *testing.T) {
	h := NewHub()
	addConn(t, h, "a")
	h.Dispatch([]app.Outbound{{Scope: app.ScopeJoinRoom, Meeting: "M", Target: "a"}})

	h.Unregister("a")
	assert.Zero(t, h.RoomSize("M"))

	// Messages to a gone connection are dropped, not delivered later.
	h.Dispatch([]app.Outbound{{Scope: app.ScopeUnicast, Target: "a", Event: "late", Data: struct{}{}}})
}

func TestTrySendBackpressure(t *testing.T) {
	c := NewConn("a", &fakeWS{})
	for i := 0; i < cap(c.send); i++ {
		require.NoError(t, c.TrySend([]byte("x")))
	}
	assert.ErrorIs(t, c.TrySend([]byte("x")), ErrBackpressure)
}

func TestTrySendAfterClose(t *testing.T) {
	c := NewConn("a", &fakeWS{})
	c.Close()
	assert.ErrorIs(t, c.TrySend([]byte("x")), ErrConnClosed)
	// Repeated Close is harmless.
	c.Close()
}
