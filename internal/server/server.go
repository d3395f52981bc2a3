// Package server is the development server: it serves the site root over
// HTTP and pushes reload messages to connected browsers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conneroisu/sitebuild/internal/errors"
	"github.com/conneroisu/sitebuild/internal/logging"
	"github.com/conneroisu/sitebuild/internal/validation"
)

const (
	// ReloadPath is the websocket endpoint reload clients connect to.
	ReloadPath = "/__livereload"
	// ScriptPath serves the reload client script.
	ScriptPath = "/__livereload.js"

	// DefaultReloadWindow is how long reload notifications are collected
	// before one message is pushed.
	DefaultReloadWindow = 50 * time.Millisecond
)

// Options configures a Server.
type Options struct {
	Root         string
	Host         string
	Port         int
	ReloadWindow time.Duration
	// AllowedOrigins lists extra origin host patterns for websocket
	// clients; same-origin connections are always accepted.
	AllowedOrigins []string
	// Open launches the default browser once the server is listening.
	Open bool
	// Gatherer backs /metrics; the endpoint is omitted when nil.
	Gatherer prometheus.Gatherer
	// Errors backs /api/errors.
	Errors *errors.ErrorCollector
}

// ReloadMessage is pushed to clients when output changed.
type ReloadMessage struct {
	Type      string    `json:"type"`
	Paths     []string  `json:"paths"`
	Timestamp time.Time `json:"timestamp"`
}

// Server serves static files with live reload.
type Server struct {
	opts        Options
	logger      logging.Logger
	hub         *Hub
	listener    net.Listener
	httpServer  *http.Server
	serverMutex sync.Mutex

	pending     []string
	pendingSet  map[string]bool
	reloadTimer *time.Timer
	reloadMutex sync.Mutex

	shutdownOnce sync.Once
}

// New creates a server. Nothing is bound until Listen is called.
func New(opts Options, logger logging.Logger) *Server {
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.ReloadWindow <= 0 {
		opts.ReloadWindow = DefaultReloadWindow
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")

	return &Server{
		opts:       opts,
		logger:     logger,
		hub:        NewHub(logger),
		pendingSet: make(map[string]bool),
	}
}

// Listen binds the listening socket. A failure is a server bind error and
// leaves the server unusable.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprintf("%d", s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewBindError(addr, err)
	}

	s.serverMutex.Lock()
	s.listener = ln
	s.serverMutex.Unlock()
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.serverMutex.Lock()
	defer s.serverMutex.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.opts.Host, fmt.Sprintf("%d", s.opts.Port))
}

// URL returns the http URL of the server.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Serve serves requests until ctx is cancelled, then shuts down gracefully.
// Listen is called first if it has not been.
func (s *Server) Serve(ctx context.Context) error {
	s.serverMutex.Lock()
	bound := s.listener != nil
	s.serverMutex.Unlock()
	if !bound {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go s.hub.Run(ctx)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	ln := s.listener
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving", "url", s.URL(), "root", s.opts.Root)
	if s.opts.Open {
		go s.openBrowser(ctx, s.URL())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.reloadMutex.Lock()
		if s.reloadTimer != nil {
			s.reloadTimer.Stop()
		}
		s.reloadMutex.Unlock()

		s.serverMutex.Lock()
		server := s.httpServer
		ln := s.listener
		s.serverMutex.Unlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		} else if ln != nil {
			shutdownErr = ln.Close()
		}
		s.logger.Info(ctx, "Server stopped")
	})
	return shutdownErr
}

// Handler returns the HTTP handler for the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ReloadPath, s.handleWebSocket)
	mux.HandleFunc(ScriptPath, s.handleScript)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/errors", s.handleErrors)
	if s.opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.handleStatic)

	return s.logRequests(mux)
}

// Clients returns the number of connected reload clients.
func (s *Server) Clients() int {
	return s.hub.Clients()
}

// Reload schedules a reload message for paths. Calls within the reload
// window are merged into a single message.
func (s *Server) Reload(paths ...string) {
	s.reloadMutex.Lock()
	defer s.reloadMutex.Unlock()

	for _, p := range paths {
		if !s.pendingSet[p] {
			s.pendingSet[p] = true
			s.pending = append(s.pending, p)
		}
	}
	if s.reloadTimer == nil {
		s.reloadTimer = time.AfterFunc(s.opts.ReloadWindow, s.flushReload)
	}
}

func (s *Server) flushReload() {
	s.reloadMutex.Lock()
	paths := s.pending
	s.pending = nil
	s.pendingSet = make(map[string]bool)
	s.reloadTimer = nil
	s.reloadMutex.Unlock()

	sort.Strings(paths)
	msg := ReloadMessage{Type: "reload", Paths: paths, Timestamp: time.Now()}
	if msg.Paths == nil {
		msg.Paths = []string{}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		data = []byte(`{"type":"reload","paths":[]}`)
	}

	ctx := context.Background()
	if !s.hub.Broadcast(data) {
		s.logger.Debug(ctx, "Reload dropped, hub busy or stopped")
		return
	}
	s.logger.Info(ctx, "Reloading clients", "paths", len(paths))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}
	s.hub.attach(r.Context(), conn)
}

func (s *Server) openBrowser(ctx context.Context, url string) {
	if err := validation.ValidateURL(url); err != nil {
		s.logger.Warn(ctx, err, "Browser open failed due to invalid URL")
		return
	}

	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.CommandContext(ctx, "xdg-open", url).Start()
	case "windows":
		err = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.CommandContext(ctx, "open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(ctx, err, "Failed to open browser", "url", url)
	}
}
