// Package server exposes the loader and the reconciler over HTTP and
// websocket.
//
// Routes:
//
//	GET  /load    full dataset
//	POST /sync    apply a changeset, returns the acknowledgment
//	GET  /health  liveness plus record counts
//	GET  /ws      websocket carrying the same load and sync messages
//
// Any other GET is served from the configured static directories.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
)

// maxBodyBytes caps sync bodies and websocket frames.
const maxBodyBytes = 8 << 20

// Counter reports record counts for the health endpoint.
type Counter interface {
	GetTaskCountContext(ctx context.Context) (int, error)
	GetDepCountContext(ctx context.Context) (int, error)
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":1337")
	Addr string

	// StaticDirs are searched in order for GET requests matching no route.
	StaticDirs []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Counter feeds /health. Optional.
	Counter Counter

	// Logger for server activity (default: log.Default())
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":1337",
		StaticDirs:   []string{"public"},
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Logger:       log.Default(),
	}
}

// Server serves the Gantt backend protocol.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	router   *gin.Engine

	loader     *gsync.Loader
	reconciler *gsync.Reconciler
	counter    Counter
	staticDirs []string

	readTimeout  time.Duration
	writeTimeout time.Duration

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a server in front of loader and reconciler.
func NewServer(loader *gsync.Loader, reconciler *gsync.Reconciler, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:         addr,
		loader:       loader,
		reconciler:   reconciler,
		counter:      config.Counter,
		staticDirs:   config.StaticDirs,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		clients:      make(map[*websocket.Conn]bool),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.RecoveryWithWriter(s.logger.Writer()))
	router.Use(requestID())
	router.Use(accessLog(s.logger))

	router.GET("/load", s.handleLoad)
	router.POST("/sync", s.handleSync)
	router.GET("/health", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)
	router.NoRoute(s.handleStatic)

	return router
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes websocket clients and shuts the HTTP server down, waiting up
// to five seconds for in-flight requests.
func (s *Server) Stop() error {
	s.logger.Println("Stopping server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Server stopped")
	return nil
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected websocket clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
