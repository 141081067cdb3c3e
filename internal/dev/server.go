package dev

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/mushroom/internal/addrport"
	"github.com/vango-dev/mushroom/internal/config"
	"github.com/vango-dev/mushroom/internal/errors"
	"github.com/vango-dev/mushroom/pkg/dispatch"
	"github.com/vango-dev/mushroom/pkg/launcher"
	callmw "github.com/vango-dev/mushroom/pkg/middleware"
	"github.com/vango-dev/mushroom/pkg/plugin"
	"github.com/vango-dev/mushroom/pkg/server"
)

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Addr is where the development server listens. The mushroom server
	// listens on the same host.
	Addr addrport.Addr

	// MushroomPort overrides the configured mushroom port when non-zero.
	MushroomPort int

	// ServeStatic serves the static directory at the static prefix.
	ServeStatic bool

	// Catalog holds the linked plugins. Default: plugin.Default.
	Catalog *plugin.Catalog

	// Registry collects metrics. Default: a new registry.
	Registry *prometheus.Registry

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger

	// Stdout receives the banner and request log. Default: os.Stdout.
	Stdout io.Writer

	// OnTaskExit is called when a scheduled task stops.
	OnTaskExit func(*launcher.Task)
}

// Server runs the development server and the mushroom server side by side.
type Server struct {
	config  *config.Config
	options ServerOptions
	out     io.Writer
	logger  *slog.Logger

	table    *dispatch.Table
	scan     plugin.ScanResult
	mushroom *server.Server
	launcher *launcher.Launcher
	registry *prometheus.Registry

	mushroomAddr addrport.Addr
	proxies      []proxyRule
	handler      http.Handler

	mu         sync.Mutex
	running    bool
	listener   net.Listener
	httpServer *http.Server
}

type proxyRule struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// NewServer discovers the installed plugins and builds both servers.
// Nothing listens until Start.
func NewServer(options ServerOptions) (*Server, error) {
	cfg := options.Config
	if cfg == nil {
		cfg = config.New()
	}
	if options.Catalog == nil {
		options.Catalog = plugin.Default
	}
	if options.Registry == nil {
		options.Registry = prometheus.NewRegistry()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Stdout == nil {
		options.Stdout = os.Stdout
	}
	if options.Addr.Host == "" {
		options.Addr = addrport.Addr{Host: cfg.Dev.Host, Port: cfg.Dev.Port, IPv6: cfg.Dev.IPv6}
	}
	mushroomPort := options.MushroomPort
	if mushroomPort == 0 {
		switch {
		case cfg.Mushroom.Port != 0:
			mushroomPort = cfg.Mushroom.Port
		case options.Addr.Port != 0:
			mushroomPort = options.Addr.Port + config.MushroomPortOffset
		}
	}
	if mushroomPort < 0 || mushroomPort > 65535 {
		return nil, errors.New(errors.CodePortInvalid).WithSubject(strconv.Itoa(mushroomPort))
	}

	logger := options.Logger.With("component", "dev_server")

	table, scan, err := dispatch.Discover(options.Catalog, cfg.Apps(options.Catalog.IDs()),
		dispatch.WithCollisionPolicy(cfg.CollisionPolicy()),
		dispatch.WithLogger(options.Logger))
	if err != nil {
		return nil, errors.FromError(err, errors.CodeNameCollision)
	}

	s := &Server{
		config:       cfg,
		options:      options,
		out:          options.Stdout,
		logger:       logger,
		table:        table,
		scan:         scan,
		registry:     options.Registry,
		mushroomAddr: options.Addr.WithPort(mushroomPort),
	}

	s.mushroom = server.New(table, &server.ServerConfig{
		Address:        s.mushroomAddr.HostPort(),
		Network:        s.mushroomAddr.Network(),
		Transports:     cfg.Mushroom.Transports,
		PublicURL:      cfg.Mushroom.PublicURL,
		PollTimeout:    cfg.PollTimeout(),
		SessionTimeout: cfg.SessionTimeout(),
		CallRateLimit: server.RateLimit{
			RPS:   cfg.Mushroom.RateLimit.RPS,
			Burst: cfg.Mushroom.RateLimit.Burst,
		},
		Logger: options.Logger,
	})
	callMetrics := callmw.NewMetrics(callmw.WithRegistry(options.Registry))
	s.mushroom.Use(callMetrics.Middleware(), callmw.OpenTelemetry())
	s.mushroom.SetOnSessionOpen(callMetrics.SessionOpened)
	s.mushroom.SetOnSessionClose(callMetrics.SessionClosed)

	s.launcher = launcher.New(launcher.Options{
		Logger:     options.Logger,
		Registerer: options.Registry,
		OnExit:     options.OnTaskExit,
	})
	registerServerMetrics(options.Registry, s.mushroom)

	s.proxies, err = newProxyRules(cfg.Dev.Proxy)
	if err != nil {
		return nil, err
	}
	s.handler = s.newRouter()
	return s, nil
}

// newRouter builds the routes of the development server.
func (s *Server) newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, metricsHandler(s.registry))
	}
	if s.options.ServeStatic {
		prefix := s.config.Static.Prefix
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		fs := http.StripPrefix(prefix, http.FileServer(http.Dir(s.config.StaticPath())))
		r.Handle(prefix+"*", fs)
	}
	r.Get("/", s.handleIndex)
	r.NotFound(s.proxyHandler)
	r.MethodNotAllowed(s.proxyHandler)
	return r
}

// Handler returns the development server handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Table returns the discovered dispatch table.
func (s *Server) Table() *dispatch.Table {
	return s.table
}

// Scan returns the plugin scan result.
func (s *Server) Scan() plugin.ScanResult {
	return s.scan
}

// Mushroom returns the mushroom server.
func (s *Server) Mushroom() *server.Server {
	return s.mushroom
}

// Launcher returns the scheduled task launcher.
func (s *Server) Launcher() *launcher.Launcher {
	return s.launcher
}

// Addr returns the bound development server address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds both listeners, starts the scheduled tasks and serves until
// ctx is canceled or a server fails. A bind failure is returned as a coded
// error before anything is served. Start returns nil after ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.log("Discovering mushroom functions...")
	s.reportScan()

	if err := s.mushroom.Listen(); err != nil {
		s.Stop()
		return errors.BindError(err, s.mushroomAddr.HostPort())
	}
	ln, err := net.Listen(s.options.Addr.Network(), s.options.Addr.HostPort())
	if err != nil {
		s.Stop()
		return errors.BindError(err, s.options.Addr.HostPort())
	}
	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.printBanner()

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()
	if _, err := s.launcher.Start(taskCtx, s.table, s.mushroom.Host()); err != nil {
		s.Stop()
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.mushroom.Serve()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
	}
	cancelTasks()
	s.Stop()
	return err
}

// Stop stops the scheduled tasks and both servers.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv := s.httpServer
	ln := s.listener
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.launcher.Release()
	if err := s.mushroom.Shutdown(ctx); err != nil {
		s.logger.Error("mushroom shutdown failed", "error", err)
	}
	if srv != nil {
		srv.Shutdown(ctx)
	} else if ln != nil {
		ln.Close()
	}
}

func (s *Server) reportScan() {
	for _, skip := range s.scan.Skipped {
		s.logger.Debug(errors.PluginSkipped(skip.ID, skip.Err).FormatCompact(), "app", skip.ID)
	}
	s.log("%d functions (%d scheduled) from %d apps",
		s.table.Len(), len(s.table.Scheduled()), len(s.scan.Modules))
	if s.table.Len() == 0 {
		s.logger.Warn(errors.New(errors.CodeNoFunctions).FormatCompact())
	}
	fmt.Fprintln(s.out)
}

func (s *Server) printBanner() {
	quit := "CONTROL-C"
	if runtime.GOOS == "windows" {
		quit = "CTRL-BREAK"
	}
	fmt.Fprintf(s.out, "Development server is running at %s\n", s.options.Addr.WithPort(boundPort(s.Addr())).URL())
	fmt.Fprintf(s.out, "Mushroom server is running at %s\n", s.mushroomAddr.WithPort(boundPort(s.mushroom.Addr())).URL())
	fmt.Fprintf(s.out, "Quit the server with %s.\n", quit)
}

// boundPort returns the port of a bound address, which differs from the
// requested one when port 0 was asked for.
func boundPort(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// handleIndex describes the running servers.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if rule, ok := s.matchProxy("/"); ok {
		rule.proxy.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Mushroom server: %s\n\n", s.mushroomAddr.URL())
	for _, m := range s.table.Methods() {
		fmt.Fprintf(w, "  %s\n", m)
	}
}

// proxyHandler forwards requests to the longest matching proxy rule.
func (s *Server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	if rule, ok := s.matchProxy(r.URL.Path); ok {
		rule.proxy.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) matchProxy(path string) (proxyRule, bool) {
	for _, rule := range s.proxies {
		if strings.HasPrefix(path, rule.prefix) {
			return rule, true
		}
	}
	return proxyRule{}, false
}

// newProxyRules builds one reverse proxy per rule, longest prefix first.
func newProxyRules(rules map[string]string) ([]proxyRule, error) {
	out := make([]proxyRule, 0, len(rules))
	for prefix, target := range rules {
		targetURL, err := url.Parse(target)
		if err != nil || targetURL.Host == "" {
			return nil, errors.New(errors.CodeConfigInvalid).
				WithDetail(fmt.Sprintf("invalid proxy target for %q", prefix)).
				WithSubject(target)
		}
		proxy := httputil.NewSingleHostReverseProxy(targetURL)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, fmt.Sprintf("Proxy to %s failed: %v", target, err), http.StatusBadGateway)
		}
		out = append(out, proxyRule{prefix: prefix, proxy: proxy})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].prefix) != len(out[j].prefix) {
			return len(out[i].prefix) > len(out[j].prefix)
		}
		return out[i].prefix < out[j].prefix
	})
	return out, nil
}

// requestLog writes one line per request, like the runserver log.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log("\"%s %s %s\" %d %d", r.Method, r.URL.RequestURI(), r.Proto, ww.Status(), ww.BytesWritten())
	})
}

func (s *Server) log(format string, args ...any) {
	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(s.out, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
}
