// Package api serves the read-only admin HTTP API: health, presence, group
// and call status.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omochice/toy-voice-chat/internal/chat"
	"github.com/omochice/toy-voice-chat/internal/presence"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

const tracerName = "github.com/omochice/toy-voice-chat/internal/api"

// ClientCounter reports live connections per protocol.
type ClientCounter interface {
	ClientCounts() map[string]int
}

// Server holds the state the handlers read from.
type Server struct {
	router  *chat.Router
	clients ClientCounter
	log     *slog.Logger
	tracer  trace.Tracer
	started time.Time
}

// NewServer creates the API. clients may be nil when no listener is
// attached.
func NewServer(router *chat.Router, clients ClientCounter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		router:  router,
		clients: clients,
		log:     logger,
		tracer:  otel.Tracer(tracerName),
		started: time.Now(),
	}
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestIDMiddleware(), s.tracingMiddleware(), s.loggingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "toy-voice-chat",
		})
	})

	api := r.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/users", s.handleUsers)
	api.GET("/groups", s.handleGroups)
	api.GET("/groups/:name", s.handleGroup)
	api.GET("/calls", s.handleCalls)
	return r
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	presence.Stats
	ActiveCalls   int            `json:"active_calls"`
	Connections   map[string]int `json:"connections"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

func (s *Server) handleStats(c *gin.Context) {
	resp := StatsResponse{
		Stats:         s.router.Registry().Stats(),
		ActiveCalls:   len(s.router.Calls().Sessions()),
		Connections:   map[string]int{},
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.clients != nil {
		resp.Connections = s.clients.ClientCounts()
	}
	c.JSON(http.StatusOK, resp)
}

// UserResponse describes one online user.
type UserResponse struct {
	chat.UserInfo
	Groups []string `json:"groups"`
	InCall bool     `json:"in_call"`
}

func (s *Server) handleUsers(c *gin.Context) {
	online := s.router.OnlineUsers()
	users := make([]UserResponse, 0, len(online))
	for _, u := range online {
		_, inCall := s.router.Calls().ActiveFor(u.Username)
		users = append(users, UserResponse{
			UserInfo: u,
			Groups:   s.router.Registry().UserGroups(u.Username),
			InCall:   inCall,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) handleGroups(c *gin.Context) {
	registry := s.router.Registry()
	groups := make([]presence.Group, 0)
	for _, name := range registry.Groups() {
		if g, ok := registry.Group(name); ok {
			groups = append(groups, g)
		}
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (s *Server) handleGroup(c *gin.Context) {
	g, ok := s.router.Registry().Group(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": presence.ErrGroupNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handleCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": s.router.Calls().Sessions()})
}

func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := s.tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
				attribute.String("request.id", c.GetString(requestIDKey)),
			))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("admin request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString(requestIDKey),
		)
	}
}
