// Package api exposes the operator HTTP surface: conditional action and
// queue management, system status, metrics, and a websocket event stream.
package api

import (
	"net/http"
	"time"

	"agent-core/internal/agent"
	"agent-core/internal/condition"
	"agent-core/internal/engine"
	"agent-core/internal/events"
	"agent-core/internal/monitor"
	"agent-core/internal/queue"
	"agent-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the engine's components.
type Server struct {
	Router      *gin.Engine
	Bus         *events.Bus
	Registry    *condition.Registry
	Queue       *queue.Queue
	Roster      *agent.Roster
	Coord       *engine.Coordinator
	Queries     *db.Queries
	Metrics     *monitor.SystemMetrics
	JWTSecret   string
	OperatorKey string
}

// Config carries the server's collaborators.
type Config struct {
	Bus         *events.Bus
	Registry    *condition.Registry
	Queue       *queue.Queue
	Roster      *agent.Roster
	Coord       *engine.Coordinator
	Queries     *db.Queries
	Metrics     *monitor.SystemMetrics
	JWTSecret   string
	OperatorKey string
}

// NewServer builds the router with the full middleware stack.
func NewServer(cfg Config) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                  // Panic recovery (first)
	r.Use(RequestIDMiddleware())           // Request ID tracking
	r.Use(RequestLogger(cfg.Metrics))      // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())           // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                // CORS (last before routes)

	s := &Server{
		Router:      r,
		Bus:         cfg.Bus,
		Registry:    cfg.Registry,
		Queue:       cfg.Queue,
		Roster:      cfg.Roster,
		Coord:       cfg.Coord,
		Queries:     cfg.Queries,
		Metrics:     cfg.Metrics,
		JWTSecret:   cfg.JWTSecret,
		OperatorKey: cfg.OperatorKey,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		// Auth endpoint (no auth required)
		api.POST("/auth/token", s.issueToken)

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/actions", s.addAction)
			protected.DELETE("/actions/:id", s.cancelAction)
			protected.GET("/actions", s.listPendingActions)
			protected.GET("/agents/:id/actions", s.listAgentActions)
			protected.GET("/agents", s.listAgents)

			protected.POST("/queue", s.enqueueAction)
			protected.GET("/queue/stats", s.queueStats)
			protected.DELETE("/queue/:owner", s.clearOwnerQueue)

			protected.GET("/executions", s.listExecutions)
			protected.POST("/cleanup", s.cleanup)

			protected.GET("/system/status", s.systemStatus)
			protected.GET("/metrics", s.getMetrics)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
