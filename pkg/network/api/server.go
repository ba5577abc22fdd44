// Package api provides the HTTP status surface that replaces the legacy
// desktop monitor window: a rolling server log, the connected-client list,
// and relay statistics. It implements network.Monitor, so the relay engine
// pushes events here without knowing about HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatlink/relay-node/pkg/network"
)

// Server is the HTTP monitor for a relay.
type Server struct {
	relay      *network.RelayServer
	router     *gin.Engine
	port       int
	httpServer *http.Server

	mu      sync.RWMutex
	logs    []LogEntry
	logCap  int
	clients map[string]time.Time // username -> join time
}

// LogEntry is one line of the rolling server log.
type LogEntry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Config holds monitor server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // Requests per minute
	LogBuffer    int // Rolling log capacity
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		RateLimit:    100,
		LogBuffer:    500,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// NewServer creates the HTTP monitor for relay.
func NewServer(relay *network.RelayServer, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		relay:   relay,
		router:  router,
		port:    config.Port,
		logCap:  config.LogBuffer,
		clients: make(map[string]time.Time),
	}

	server.setupMiddleware(config)
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	s.router.Use(RateLimitMiddleware(config.RateLimit))
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/clients", s.handleClients)
		v1.GET("/logs", s.handleLogs)
		v1.GET("/stats", s.handleStats)
	}

	// Health check endpoint (outside versioning)
	s.router.GET("/health", s.handleHealth)
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("monitor server error: %v\n", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
