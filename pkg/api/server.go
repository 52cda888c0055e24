// Package api is the HTTP boundary: the query endpoints, the approval and
// clarification flow, and the SSE lifecycle stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/events"
	"github.com/querygate/querygate/pkg/orchestrator"
)

// Server is the HTTP server over the orchestrator and event bus.
type Server struct {
	cfg         *config.Config
	orc         *orchestrator.Orchestrator
	bus         *events.Bus
	connections []ConnectionInfo
	limiter     RateLimiter
	logger      *slog.Logger
}

// NewServer wires the HTTP boundary. limiter may be nil.
func NewServer(cfg *config.Config, orc *orchestrator.Orchestrator, bus *events.Bus, connections []ConnectionInfo, limiter RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		orc:         orc,
		bus:         bus,
		connections: connections,
		limiter:     limiter,
		logger:      logger.With("component", "api"),
	}
}

// Routes registers every endpoint on the echo instance.
func (s *Server) Routes(e *echo.Echo) {
	e.Use(securityHeaders())
	e.Use(requestLogger(s.logger))
	e.Use(rateLimit(s.limiter))

	e.GET("/healthz", s.healthHandler)
	e.GET("/connections", s.connectionsHandler)

	q := e.Group("/queries")
	q.POST("/submit", s.submitHandler)
	q.POST("/process", s.processHandler)
	q.POST("/clarify", s.clarifyHandler)
	q.POST("/:id/approve", s.approveHandler)
	q.POST("/:id/reject", s.rejectHandler)
	q.POST("/:id/cancel", s.cancelHandler)
	q.GET("/:id/status", s.statusHandler)
	q.GET("/:id/stream", s.streamHandler)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	e := echo.New()
	s.Routes(e)

	sc := echo.StartConfig{Address: addr, GracefulTimeout: 10 * time.Second}
	return sc.Start(ctx, e)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) connectionsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &ConnectionsResponse{
		Status:      StatusSuccess,
		Connections: s.connections,
	})
}
