// Package httpapi exposes the broker's operator surface over HTTP: route
// inspection and control, statistics, message injection and dead letter
// queue management. Mutating endpoints require an admin JWT.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
)

// Server represents the HTTP API server
type Server struct {
	broker     broker.Broker
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	log        *zap.Logger
}

// Config holds server configuration
type Config struct {
	Addr        string
	SecretKey   string
	AdminSecret string
	TokenTTL    time.Duration
	Logger      *zap.Logger
}

// NewServer creates a new HTTP API server
func NewServer(b broker.Broker, config Config) (*Server, error) {
	if b == nil {
		return nil, errors.New("broker cannot be nil")
	}
	if config.SecretKey == "" {
		return nil, errors.New("secret key cannot be empty")
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("httpapi")

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)
	s := &Server{
		broker:     b,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(b, jwtAuth, config.AdminSecret, log),
		middleware: NewMiddleware(jwtAuth, log),
		log:        log,
	}

	s.server = &http.Server{
		Addr:           config.Addr,
		Handler:        s.Handler(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s, nil
}

// Handler returns the fully wrapped request handler
func (s *Server) Handler() http.Handler {
	return s.middleware.Recovery(
		s.middleware.Logging(
			s.middleware.CORS(s.routes())))
}

// routes configures all HTTP routes
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	h := s.handlers
	auth := s.middleware.AuthRequired
	admin := s.middleware.AdminRequired

	// No auth required
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	// Read-only endpoints
	mux.HandleFunc("GET /api/v1/routes", auth(h.ListRoutes))
	mux.HandleFunc("GET /api/v1/routes/{id}", auth(h.GetRoute))
	mux.HandleFunc("GET /api/v1/stats", auth(h.GetStats))
	mux.HandleFunc("GET /api/v1/dlq", auth(h.ListDLQ))
	mux.HandleFunc("GET /api/v1/dlq/stats", auth(h.DLQStats))

	// Admin endpoints
	mux.HandleFunc("POST /api/v1/routes/{id}/enable", admin(h.EnableRoute))
	mux.HandleFunc("POST /api/v1/routes/{id}/disable", admin(h.DisableRoute))
	mux.HandleFunc("DELETE /api/v1/routes/{id}", admin(h.DeleteRoute))
	mux.HandleFunc("POST /api/v1/stats/reset", admin(h.ResetStats))
	mux.HandleFunc("POST /api/v1/messages", admin(h.PublishMessage))
	mux.HandleFunc("POST /api/v1/dlq/replay", admin(h.ReplayAll))
	mux.HandleFunc("POST /api/v1/dlq/{messageId}/replay", admin(h.ReplayMessage))
	mux.HandleFunc("DELETE /api/v1/dlq", admin(h.PurgeDLQ))

	return mux
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves requests from ln until Stop. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("Admin API listening", zap.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service":     "msgrouter admin API",
		"version":     "1.0.0",
		"description": "Route, statistics and dead letter queue management for the message router",
		"endpoints": map[string]interface{}{
			"auth":   map[string]string{"login": "POST /api/v1/auth/login"},
			"health": "GET /api/v1/health",
			"routes": map[string]string{
				"list":    "GET /api/v1/routes",
				"get":     "GET /api/v1/routes/{id}",
				"enable":  "POST /api/v1/routes/{id}/enable",
				"disable": "POST /api/v1/routes/{id}/disable",
				"delete":  "DELETE /api/v1/routes/{id}",
			},
			"stats": map[string]string{
				"get":   "GET /api/v1/stats",
				"reset": "POST /api/v1/stats/reset",
			},
			"messages": map[string]string{"publish": "POST /api/v1/messages"},
			"dlq": map[string]string{
				"list":      "GET /api/v1/dlq?limit={n}",
				"stats":     "GET /api/v1/dlq/stats",
				"replayAll": "POST /api/v1/dlq/replay",
				"replay":    "POST /api/v1/dlq/{messageId}/replay",
				"purge":     "DELETE /api/v1/dlq?older_than={duration}",
			},
		},
		"authentication": "Bearer JWT token required; mutating endpoints need an admin token",
	}

	writeJSON(w, info, http.StatusOK)
}
