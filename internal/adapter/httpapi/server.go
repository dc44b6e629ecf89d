// Package httpapi exposes the scheduling API and the agent over HTTP.
//
// Errors are reported as {"error": "..."} with a status derived from the
// error kind. The stream endpoint keeps the agent loop going for as long as
// the client stays connected and the sseLoop setting allows it.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cronagent/internal/agent"
	"cronagent/internal/manage"
	"cronagent/internal/shared"
)

// Pinger reports datastore health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers.
type Server struct {
	svc   *manage.Service
	agent *agent.Agent
	ping  Pinger
	log   *slog.Logger
}

// New creates the server. ping may be nil.
func New(svc *manage.Service, ag *agent.Agent, ping Pinger, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, agent: ag, ping: ping, log: log.With("component", "http")}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", s.health)

	api := r.Group("/api/v1")
	api.GET("/settings", s.listSettings)
	api.GET("/settings/:key", s.getSetting)
	api.PUT("/settings/:key", s.putSetting)

	api.GET("/tasks", s.listTasks)
	api.GET("/tasks/:name", s.getTask)
	api.PUT("/tasks/:name", s.putTask)
	api.DELETE("/tasks/:name", s.deleteTask)
	api.PUT("/tasks/:name/system", s.putTaskSystem)

	api.GET("/instances", s.listInstances)
	api.PUT("/instances", s.putInstance)
	api.DELETE("/instances", s.deleteInstance)
	api.PUT("/instances/system", s.putInstanceSystem)

	api.POST("/agent/run", s.run)
	api.GET("/agent/stream", s.stream)

	api.GET("/logs", s.logs)
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) health(c *gin.Context) {
	if s.ping != nil {
		if err := s.ping.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest
	case shared.IsNotFound(err):
		return http.StatusNotFound
	case shared.IsConflict(err):
		return http.StatusConflict
	case shared.IsProtected(err):
		return http.StatusForbidden
	case shared.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case shared.IsTimeout(err):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// bind decodes the JSON body; decode failures are client errors.
func bind(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return shared.Validationf("request body: %v", err)
	}
	return nil
}
