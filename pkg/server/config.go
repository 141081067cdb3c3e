package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/mushroom/pkg/protocol"
)

// RateLimit configures a token bucket. A zero RPS disables limiting.
type RateLimit struct {
	// RPS is the sustained number of events per second.
	RPS float64

	// Burst is the bucket size. Default: max(1, 2*RPS).
	Burst int
}

// Enabled reports whether the limit applies.
func (r RateLimit) Enabled() bool {
	return r.RPS > 0
}

// ServerConfig holds configuration for the mushroom server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., "127.0.0.1:8100").
	// Default: "127.0.0.1:8100".
	Address string

	// Network is the listener network passed to net.Listen ("tcp", "tcp4"
	// or "tcp6"). Default: "tcp".
	Network string

	// Transports are the transports offered during bootstrap, in order of
	// preference. Default: ["ws", "poll"].
	Transports []string

	// PublicURL is the base URL advertised to clients in bootstrap responses.
	// Default: derived from the bootstrap request.
	PublicURL string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the WebSocket request origin.
	// Default: allows all origins, matching the permissive CORS preflight.
	CheckOrigin func(r *http.Request) bool

	// Limits

	// MaxMessageSize is the maximum size of a WebSocket message or poll body.
	// Default: 1MB.
	MaxMessageSize int64

	// OutboxSize is the maximum number of unacknowledged messages kept for a
	// session. Default: 1024.
	OutboxSize int

	// CallRateLimit limits RPC calls per session. Default: disabled.
	CallRateLimit RateLimit

	// ConnectRateLimit limits bootstrap requests per client IP. Default: disabled.
	ConnectRateLimit RateLimit

	// TrustProxyHeaders makes the client IP come from X-Forwarded-For.
	// Only enable behind a proxy that sets the header.
	TrustProxyHeaders bool

	// Timeouts

	// PollTimeout is how long a poll request waits for outbound messages.
	// Default: 30 seconds.
	PollTimeout time.Duration

	// SessionTimeout closes poll sessions that have not polled for this long.
	// Default: 2 minutes.
	SessionTimeout time.Duration

	// PingInterval is the time between WebSocket pings. A connection that
	// does not answer within two intervals is closed. Default: 30 seconds.
	PingInterval time.Duration

	// WriteTimeout is the maximum time to wait when writing to a WebSocket.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 5 seconds.
	ShutdownTimeout time.Duration

	// Logger is the server logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:         "127.0.0.1:8100",
		Network:         "tcp",
		Transports:      append([]string(nil), protocol.DefaultTransports...),
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
		MaxMessageSize:  protocol.DefaultMaxMessageSize,
		OutboxSize:      1024,
		PollTimeout:     30 * time.Second,
		SessionTimeout:  2 * time.Minute,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Logger:          slog.Default(),
	}
}

// withDefaults returns a copy of c with unset fields filled from the defaults.
func (c *ServerConfig) withDefaults() *ServerConfig {
	defaults := DefaultServerConfig()
	if c == nil {
		return defaults
	}
	out := *c
	if out.Address == "" {
		out.Address = defaults.Address
	}
	if out.Network == "" {
		out.Network = defaults.Network
	}
	if len(out.Transports) == 0 {
		out.Transports = defaults.Transports
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = defaults.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = defaults.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = defaults.CheckOrigin
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = defaults.MaxMessageSize
	}
	if out.OutboxSize == 0 {
		out.OutboxSize = defaults.OutboxSize
	}
	if out.PollTimeout == 0 {
		out.PollTimeout = defaults.PollTimeout
	}
	if out.SessionTimeout == 0 {
		out.SessionTimeout = defaults.SessionTimeout
	}
	if out.PingInterval == 0 {
		out.PingInterval = defaults.PingInterval
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// Validate checks the configuration for values the server cannot run with.
func (c *ServerConfig) Validate() error {
	for _, t := range c.Transports {
		if t != protocol.TransportWebSocket && t != protocol.TransportPoll {
			return fmt.Errorf("server: unknown transport %q", t)
		}
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("server: invalid public URL %q", c.PublicURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("server: public URL scheme must be http or https, got %q", u.Scheme)
		}
	}
	if c.MaxMessageSize < 0 || c.OutboxSize < 0 {
		return fmt.Errorf("server: limits must not be negative")
	}
	if c.CallRateLimit.RPS < 0 || c.ConnectRateLimit.RPS < 0 {
		return fmt.Errorf("server: rate limits must not be negative")
	}
	return nil
}
