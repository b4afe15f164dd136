package adapters

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/app"
	"github.com/avral/meetspace/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The browser client is served from the same origin; the auth gate
	// in front of the route is the access control, not Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SignalController upgrades HTTP requests to signaling sessions and
// feeds decoded frames into the relay.
type SignalController struct {
	hub       *Hub
	relay     *app.Relay
	readLimit int64
}

func NewSignalController(hub *Hub, relay *app.Relay, readLimit int64) *SignalController {
	return &SignalController{hub: hub, relay: relay, readLimit: readLimit}
}

// Handle is the GET /ws endpoint. Each upgrade mints a fresh session
// ID; the client learns it from the joined-meeting snapshot.
func (sc *SignalController) Handle(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "adapters.ws").Err(err).Msg("upgrade failed")
		return
	}

	sid := domain.ConnID(uuid.NewString())
	conn := NewConn(sid, ws)
	sc.hub.Register(conn)

	ctx, cancel := context.WithCancel(c.Request.Context())
	conn.StartWriteLoop(ctx)

	log.Debug().Str("module", "adapters.ws").Str("sid", string(sid)).Msg("session opened")
	sc.readLoop(sid, ws)

	sc.hub.Dispatch(sc.relay.HandleDisconnect(sid, "transport closed"))
	sc.hub.Unregister(sid)
	conn.Close()
	cancel()
	log.Debug().Str("module", "adapters.ws").Str("sid", string(sid)).Msg("session closed")
}

func (sc *SignalController) readLoop(sid domain.ConnID, ws WSConn) {
	ws.SetReadLimit(sc.readLimit)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("module", "adapters.ws").Str("sid", string(sid)).
					Err(err).Msg("read failed")
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			log.Debug().Str("module", "adapters.ws").Str("sid", string(sid)).
				Msg("malformed frame dropped")
			continue
		}

		// Explicit goodbye gets the same teardown as a dead socket.
		if env.Event == "disconnect" {
			return
		}

		sc.hub.Dispatch(sc.relay.HandleEvent(sid, env.Event, env.Data))
	}
}
