// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"unipool/internal/http/handlers"
	"unipool/internal/http/middleware"
	"unipool/internal/realtime"
	"unipool/internal/types"
)

type ServerDeps struct {
	RideRequests  *handlers.RideRequestHandler
	EntryRequests *handlers.EntryRequestHandler
	Rides         *handlers.RideHandler
	Notifications *handlers.NotificationHandler
	Hub           *realtime.Hub
	Logger        *slog.Logger
}

type Server struct {
	deps     ServerDeps
	upgrader websocket.Upgrader
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(s.deps.Logger), middleware.Logging(s.deps.Logger))

	api := r.Group("/api")
	{
		api.POST("/ride-requests", s.deps.RideRequests.Create)
		api.GET("/ride-requests/:id", s.deps.RideRequests.Get)
		api.POST("/ride-requests/:id/cancel", s.deps.RideRequests.Cancel)

		api.GET("/entry-requests/:id", s.deps.EntryRequests.Get)
		api.POST("/entry-requests/:id/approve", s.deps.EntryRequests.Approve)
		api.POST("/entry-requests/:id/reject", s.deps.EntryRequests.Reject)
		api.POST("/entry-requests/:id/cancel", s.deps.EntryRequests.Cancel)

		api.POST("/rides", s.deps.Rides.Create)
		api.GET("/rides/:id", s.deps.Rides.Get)
		api.POST("/rides/:id/start", s.deps.Rides.Start)
		api.POST("/rides/:id/finish", s.deps.Rides.Finish)
		api.POST("/rides/:id/cancel", s.deps.Rides.Cancel)
		api.POST("/rides/:id/location", s.deps.Rides.PublishLocation)

		api.GET("/notifications/unread-count", s.deps.Notifications.UnreadCount)
		api.POST("/notifications/:id/read", s.deps.Notifications.MarkAsRead)
	}

	r.GET("/ws", s.handleWS)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

	return r
}

// handleWS upgrades the connection and attaches it to the caller's
// notification topic plus any ride topics named in the query.
func (s *Server) handleWS(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	topics := []string{realtime.UserTopic(types.ID(userID))}
	if rideID := c.Query("ride_id"); rideID != "" {
		topics = append(topics,
			realtime.RideStartedTopic(types.ID(rideID)),
			realtime.RideLocationTopic(types.ID(rideID)),
		)
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	session := s.deps.Hub.Attach(conn, topics...)

	// Drain client frames so pings are answered; drop the session on the
	// first read error.
	go func() {
		defer func() {
			s.deps.Hub.Detach(session)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
