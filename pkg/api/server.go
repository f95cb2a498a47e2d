// Package api implements the HTTP surface: the SSE connection endpoint,
// the publish endpoints and health.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/database"
	"github.com/codeready-toolchain/beacon/pkg/outbox"
	"github.com/codeready-toolchain/beacon/pkg/stream"
)

// Server is the HTTP server. It owns no delivery state of its own; all
// event flow goes through the publisher (write side) and the registry,
// replayer and checkpoint store (read side).
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg         config.ServerConfig
	streamCfg   config.StreamConfig
	publisher   *outbox.Publisher
	registry    *stream.Registry
	replayer    *stream.Replayer
	checkpoints outbox.CheckpointStore

	// dbClient is nil when running on the in-memory stores.
	dbClient *database.Client
}

// NewServer creates the server and registers all routes.
func NewServer(
	cfg config.ServerConfig,
	streamCfg config.StreamConfig,
	publisher *outbox.Publisher,
	registry *stream.Registry,
	replayer *stream.Replayer,
	checkpoints outbox.CheckpointStore,
	dbClient *database.Client,
) *Server {
	s := &Server{
		echo:        echo.New(),
		cfg:         cfg,
		streamCfg:   streamCfg,
		publisher:   publisher,
		registry:    registry,
		replayer:    replayer,
		checkpoints: checkpoints,
		dbClient:    dbClient,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.Use(securityHeaders())
	if s.cfg.APIKey != "" {
		s.echo.Use(apiKeyAuth(s.cfg.APIKey))
	}

	s.echo.GET("/health", s.healthHandler)

	sse := s.echo.Group("/api/sse")
	sse.GET("/connect", s.connectHandler)
	sse.POST("/broadcast", s.broadcastHandler)
	sse.POST("/send/:clientId", s.sendHandler)
	sse.POST("/notification", s.notificationHandler)
	sse.POST("/notification/:clientId", s.notificationHandler)
	sse.POST("/alert", s.alertHandler)
	sse.POST("/alert/:clientId", s.alertHandler)
	sse.POST("/data-update", s.dataUpdateHandler)
	sse.POST("/data-update/:clientId", s.dataUpdateHandler)
}

// Echo returns the underlying Echo instance. Used by tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start begins serving on addr. Blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE connections are long-lived by design and
		// a server-wide write deadline would sever them.
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests,
// bounded by ctx. Open SSE streams end when their request contexts are
// cancelled by the server closing.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
