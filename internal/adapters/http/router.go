package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/avral/meetspace/internal/adapters"
	"github.com/avral/meetspace/internal/app"
	"github.com/avral/meetspace/internal/config"
	"github.com/avral/meetspace/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware is the identity gate in front of everything:
// every request resolves to a stable client token before any meeting
// route runs. A real deployment swaps this for its own auth.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, reg *app.Registry, sc *adapters.SignalController, prom *prometheus.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeetspaceSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	// Meeting entry pages. The join page is swapped for the locked
	// notice when the host has closed entries.
	r.GET("/host/:meetingId", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/meetingHost.html")
	})
	r.GET("/join/:meetingId", func(c *gin.Context) {
		id := domain.MeetingID(c.Param("meetingId"))
		if m, ok := reg.Meeting(id); ok && m.IsLocked() {
			c.File(cfg.StaticPath + "/meetingLocked.html")
			return
		}
		c.File(cfg.StaticPath + "/meetingJoin.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.POST("/create-meeting", func(c *gin.Context) {
		id := app.NewMeetingID()
		c.JSON(http.StatusOK, gin.H{
			"meetingId": id,
			"hostUrl":   "/host/" + string(id),
			"joinUrl":   "/join/" + string(id),
		})
	})

	api.GET("/meeting/:meetingId", func(c *gin.Context) {
		id := domain.MeetingID(c.Param("meetingId"))
		m, ok := reg.Meeting(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"meetingId":        m.ID(),
			"meetingName":      m.Name(),
			"participantCount": m.ParticipantCount(),
			"isLocked":         m.IsLocked(),
		})
	})

	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"iceServers":   config.ICEServers(),
			"webrtcConfig": config.WebRTCConfig(),
		})
	})

	// Latency probe used by the client's network quality meter.
	api.GET("/network-test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "ts": c.GetHeader("X-Request-Start")})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prom, promhttp.HandlerOpts{})))

	r.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws endpoint hit")
		sc.Handle(c)
	})

	return r
}
