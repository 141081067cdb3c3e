package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/mushroom/pkg/dispatch"
	"github.com/vango-dev/mushroom/pkg/plugin"
)

// AuthFunc decides whether a bootstrapping client may open a session.
// auth is the raw credential from the connect request, or null.
type AuthFunc func(sess *Session, auth json.RawMessage) bool

// Server is the mushroom RPC/WebSocket server. It owns the session set and
// routes inbound calls into an immutable dispatch table.
type Server struct {
	// Dispatch table, fixed at construction
	table *dispatch.Table

	// Live sessions
	sessions *SessionSet

	// Configuration
	config    *ServerConfig
	publicURL *url.URL

	// HTTP routing
	router   chi.Router
	upgrader websocket.Upgrader

	// Calls
	middleware  []CallMiddleware
	callLimiter *rateLimiter
	host        host

	// Lifecycle hooks
	authFunc       AuthFunc
	onSessionOpen  func(*Session)
	onSessionClose func(*Session)

	// Rate limiting of bootstrap requests
	connectLimiter *rateLimiter

	metrics *metricsCollector

	// Base context of every session; canceled by Shutdown
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server

	logger       *slog.Logger
	pluginLogger *slog.Logger
}

// New creates a server serving table. A nil table serves no functions.
func New(table *dispatch.Table, config *ServerConfig) *Server {
	config = config.withDefaults()
	if table == nil {
		table = dispatch.Empty()
	}

	logger := config.Logger.With("component", "mushroom_server")
	if err := config.Validate(); err != nil {
		logger.Error("config validation failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		table:    table,
		sessions: newSessionSet(),
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		callLimiter:    newRateLimiter(config.CallRateLimit),
		connectLimiter: newRateLimiter(config.ConnectRateLimit),
		metrics:        &metricsCollector{},
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
		pluginLogger:   config.Logger.With("component", "plugin"),
	}
	if config.PublicURL != "" {
		if u, err := url.Parse(config.PublicURL); err == nil && u.Host != "" {
			s.publicURL = u
		}
	}
	s.host = host{s: s}
	s.router = s.newRouter()
	return s
}

// SetAuthFunc sets the function that admits new sessions.
func (s *Server) SetAuthFunc(fn AuthFunc) {
	s.authFunc = fn
}

// SetOnSessionOpen sets the callback run after a session is admitted.
func (s *Server) SetOnSessionOpen(fn func(*Session)) {
	s.onSessionOpen = fn
}

// SetOnSessionClose sets the callback run after a session closes.
func (s *Server) SetOnSessionClose(fn func(*Session)) {
	s.onSessionClose = fn
}

func (s *Server) sessionOpened(sess *Session) {
	s.sessions.add(sess)
	s.metrics.sessionCreates.Add(1)
	sess.logger.Debug("session opened", "remote_ip", sess.remoteIP)
	if s.onSessionOpen != nil {
		s.onSessionOpen(sess)
	}
}

func (s *Server) sessionClosed(sess *Session) {
	if !s.sessions.remove(sess.id) {
		return
	}
	s.callLimiter.forget("session:" + sess.id)
	s.metrics.sessionCloses.Add(1)
	sess.logger.Debug("session closed")
	if s.onSessionClose != nil {
		s.onSessionClose(sess)
	}
}

// Listen binds the listener. Bind errors surface here, before any
// goroutine is started, so callers can report them synchronously.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyListening
	}
	ln, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections on the listener bound by Listen. It blocks
// until Shutdown and then returns nil.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	if ln == nil {
		s.mu.Unlock()
		return ErrNotListening
	}
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	srv := s.httpServer
	s.mu.Unlock()

	go s.reapLoop()

	s.logger.Info("server starting",
		"address", ln.Addr().String(),
		"functions", s.table.Len())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handle represents a server running in the background.
type Handle struct {
	done chan struct{}
	err  error
}

// Done is closed when the server stops serving.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the server stops and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Err returns the serve error once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// StartBackground binds the listener and serves on a new goroutine.
// A bind failure is returned directly.
func (s *Server) StartBackground() (*Handle, error) {
	if err := s.Listen(); err != nil {
		return nil, err
	}
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = s.Serve()
	}()
	return h, nil
}

// reapLoop closes sessions whose client went away without disconnecting.
func (s *Server) reapLoop() {
	interval := s.config.SessionTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.reapIdle(now)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) reapIdle(now time.Time) int {
	expired := s.sessions.expired(now, s.config.SessionTimeout)
	for _, sess := range expired {
		sess.Close()
	}
	if len(expired) > 0 {
		s.logger.Info("cleaned up idle sessions",
			"count", len(expired),
			"remaining", s.sessions.Len())
	}
	return len(expired)
}

// Shutdown closes every session and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.cancel()

	sessions := s.sessions.snapshot()
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.Close()
		}(sess)
	}
	wg.Wait()

	s.mu.Lock()
	srv := s.httpServer
	ln := s.listener
	s.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	} else if ln != nil {
		ln.Close()
	}

	s.logger.Info("server shutdown complete", "closed_sessions", len(sessions))
	return nil
}

// Sessions returns the live session set.
func (s *Server) Sessions() *SessionSet {
	return s.sessions
}

// Table returns the dispatch table.
func (s *Server) Table() *dispatch.Table {
	return s.table
}

// Host returns the handle plugin functions receive.
func (s *Server) Host() plugin.Host {
	return s.host
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
