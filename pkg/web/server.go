// Package web serves the node's HTTP surface: the message bus sockets,
// status and health endpoints, and prometheus metrics.
package web

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/teslashibe/go-facenode/pkg/bus"
	"github.com/teslashibe/go-facenode/pkg/metrics"
)

// StatusFunc reports the current state of whatever the server fronts,
// typically the node config and stats. It must be safe for concurrent use.
type StatusFunc func() any

// Server is the node's web server
type Server struct {
	app     *fiber.App
	broker  *bus.Broker
	metrics *metrics.Metrics
	status  StatusFunc
	logger  *slog.Logger
	started time.Time
}

// NewServer creates a web server fronting broker. status and m may be nil.
func NewServer(broker *bus.Broker, status StatusFunc, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		broker:  broker,
		metrics: m,
		status:  status,
		logger:  logger.With("component", "web"),
		started: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "facenode",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	broker.RegisterAPIRoutes(api)

	// WebSocket routes
	broker.RegisterRoutes(app)

	s.app = app
	return s
}

// App returns the underlying fiber app, for tests and extra routes.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("web server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Listener serves on an existing listener and blocks until the server stops.
func (s *Server) Listener(ln net.Listener) error {
	s.logger.Info("web server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync(addr string) {
	go func() {
		if err := s.Start(addr); err != nil {
			s.logger.Error("web server error", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting up to the context deadline for open
// connections to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStatus returns the node status along with bus statistics
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := fiber.Map{
		"bus": s.broker.Stats(),
	}
	if s.status != nil {
		resp["node"] = s.status()
	}
	return c.JSON(resp)
}
