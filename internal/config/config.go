package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/mushroom/internal/errors"
	"github.com/vango-dev/mushroom/pkg/dispatch"
	"github.com/vango-dev/mushroom/pkg/protocol"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "mushroom.json"

	// YAMLConfigFileName is the name of the YAML configuration file. It is
	// used when no JSON file exists.
	YAMLConfigFileName = "mushroom.yaml"

	// DefaultPort is the default development server port.
	DefaultPort = 8000

	// DefaultHost is the default development server host.
	DefaultHost = "127.0.0.1"

	// DefaultHostIPv6 is the default host when IPv6 is enabled.
	DefaultHostIPv6 = "::1"

	// MushroomPortOffset is added to the dev port when no mushroom port is set.
	MushroomPortOffset = 100

	// DefaultStaticPrefix is the URL prefix for static files.
	DefaultStaticPrefix = "/static/"

	// DefaultMetricsPath is where metrics are exposed when enabled.
	DefaultMetricsPath = "/metrics"
)

// Config represents the complete mushroom.json configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Debug enables debug logging and static file serving.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty" env:"MUSHROOM_DEBUG"`

	// InstalledApps is the ordered list of plugins to scan. Empty means
	// every plugin linked into the binary.
	InstalledApps []string `json:"installedApps,omitempty" yaml:"installedApps,omitempty" env:"MUSHROOM_INSTALLED_APPS" envSeparator:","`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty" yaml:"dev,omitempty"`

	// Static contains static file serving configuration.
	Static StaticConfig `json:"static,omitempty" yaml:"static,omitempty"`

	// Mushroom contains RPC server configuration.
	Mushroom MushroomConfig `json:"mushroom,omitempty" yaml:"mushroom,omitempty"`

	// Metrics contains the metrics endpoint configuration.
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Host is the host to bind to.
	Host string `json:"host,omitempty" yaml:"host,omitempty" env:"MUSHROOM_DEV_HOST"`

	// Port is the port to run the dev server on.
	Port int `json:"port,omitempty" yaml:"port,omitempty" env:"MUSHROOM_DEV_PORT"`

	// IPv6 binds to an IPv6 address.
	IPv6 bool `json:"ipv6,omitempty" yaml:"ipv6,omitempty" env:"MUSHROOM_IPV6"`

	// Proxy maps URL prefixes to upstream servers.
	Proxy map[string]string `json:"proxy,omitempty" yaml:"proxy,omitempty"`

	// ShutdownMessage is printed when the server is interrupted.
	ShutdownMessage string `json:"shutdownMessage,omitempty" yaml:"shutdownMessage,omitempty"`
}

// StaticConfig contains static file serving configuration.
type StaticConfig struct {
	// Enabled serves static files. Default: true.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Dir is the directory containing static files.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" env:"MUSHROOM_STATIC_DIR"`

	// Prefix is the URL prefix for static files (default: "/static/").
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// MushroomConfig contains RPC server settings.
type MushroomConfig struct {
	// Port is the mushroom server port. Default: dev port + 100.
	Port int `json:"port,omitempty" yaml:"port,omitempty" env:"MUSHROOM_PORT"`

	// PublicURL is the base URL advertised to clients.
	PublicURL string `json:"publicUrl,omitempty" yaml:"publicUrl,omitempty" env:"MUSHROOM_PUBLIC_URL"`

	// Transports are offered in order of preference. Default: ["ws", "poll"].
	Transports []string `json:"transports,omitempty" yaml:"transports,omitempty"`

	// PollTimeout is how long a poll waits for messages (e.g., "30s").
	PollTimeout string `json:"pollTimeout,omitempty" yaml:"pollTimeout,omitempty"`

	// SessionTimeout closes idle sessions (e.g., "2m").
	SessionTimeout string `json:"sessionTimeout,omitempty" yaml:"sessionTimeout,omitempty"`

	// RateLimit limits calls per session.
	RateLimit RateLimitConfig `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`

	// Collisions is the name collision policy: "last-write-wins" or "reject".
	Collisions string `json:"collisions,omitempty" yaml:"collisions,omitempty" env:"MUSHROOM_COLLISIONS"`
}

// RateLimitConfig is a token bucket. A zero RPS disables it.
type RateLimitConfig struct {
	RPS   float64 `json:"rps,omitempty" yaml:"rps,omitempty"`
	Burst int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// MetricsConfig contains the metrics endpoint settings.
type MetricsConfig struct {
	// Enabled exposes Prometheus metrics on the dev server.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty" env:"MUSHROOM_METRICS"`

	// Path is the metrics URL path (default: "/metrics").
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the specified directory. It looks for
// mushroom.json, then mushroom.yaml.
func Load(dir string) (*Config, error) {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New(errors.CodeConfigNotFound).WithSubject(dir)
}

// LoadFile reads configuration from the specified file path. The format
// follows the extension. Environment overrides are applied on top.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).WithSubject(path)
		}
		return nil, errors.New(errors.CodeConfigParse).WithSubject(path).Wrap(err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New(errors.CodeConfigParse).WithSubject(path).Wrap(err)
	}

	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv overrides fields from MUSHROOM_* environment variables. A nil
// environ reads the process environment. Unset variables leave fields alone.
func (c *Config) ApplyEnv(environ map[string]string) error {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return errors.New(errors.CodeConfigEnv).Wrap(err)
	}
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file, or the working
// directory for a config that was not loaded from a file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		if c.Dev.IPv6 {
			c.Dev.Host = DefaultHostIPv6
		} else {
			c.Dev.Host = DefaultHost
		}
	}

	if c.Static.Enabled == nil {
		enabled := true
		c.Static.Enabled = &enabled
	}
	if c.Static.Dir == "" {
		c.Static.Dir = "static"
	}
	if c.Static.Prefix == "" {
		c.Static.Prefix = DefaultStaticPrefix
	}

	if len(c.Mushroom.Transports) == 0 {
		c.Mushroom.Transports = append([]string(nil), protocol.DefaultTransports...)
	}
	if c.Mushroom.PollTimeout == "" {
		c.Mushroom.PollTimeout = "30s"
	}
	if c.Mushroom.SessionTimeout == "" {
		c.Mushroom.SessionTimeout = "2m"
	}
	if c.Mushroom.Collisions == "" {
		c.Mushroom.Collisions = dispatch.LastWriteWins.String()
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeConfigInvalid).WithDetail(fmt.Sprintf(format, args...))
	}

	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return invalid("dev.port must be between 0 and 65535, got %d", c.Dev.Port)
	}
	if p := c.MushroomPort(); p < 0 || p > 65535 {
		return invalid("mushroom.port must be between 0 and 65535, got %d", p)
	}
	if c.Dev.Port != 0 && c.MushroomPort() == c.Dev.Port {
		return invalid("mushroom.port must differ from dev.port (%d)", c.Dev.Port)
	}

	for _, t := range c.Mushroom.Transports {
		if t != protocol.TransportWebSocket && t != protocol.TransportPoll {
			return invalid("unknown transport %q", t)
		}
	}
	if d, err := time.ParseDuration(c.Mushroom.PollTimeout); err != nil {
		return invalid("mushroom.pollTimeout: %v", err)
	} else if d <= 0 {
		return invalid("mushroom.pollTimeout must be positive, got %s", c.Mushroom.PollTimeout)
	}
	if d, err := time.ParseDuration(c.Mushroom.SessionTimeout); err != nil {
		return invalid("mushroom.sessionTimeout: %v", err)
	} else if d <= 0 {
		return invalid("mushroom.sessionTimeout must be positive, got %s", c.Mushroom.SessionTimeout)
	}
	if c.Mushroom.RateLimit.RPS < 0 || c.Mushroom.RateLimit.Burst < 0 {
		return invalid("mushroom.rateLimit must not be negative")
	}
	if _, err := dispatch.ParseCollisionPolicy(c.Mushroom.Collisions); err != nil {
		return invalid("mushroom.collisions: %v", err)
	}

	if !strings.HasPrefix(c.Static.Prefix, "/") {
		return invalid("static.prefix must start with /, got %q", c.Static.Prefix)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	for prefix, target := range c.Dev.Proxy {
		if !strings.HasPrefix(prefix, "/") {
			return invalid("proxy prefix must start with /, got %q", prefix)
		}
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("proxy target for %q must be an http(s) URL, got %q", prefix, target)
		}
	}
	return nil
}

// MushroomPort returns the mushroom server port.
func (c *Config) MushroomPort() int {
	if c.Mushroom.Port != 0 {
		return c.Mushroom.Port
	}
	return c.Dev.Port + MushroomPortOffset
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return net.JoinHostPort(c.Dev.Host, strconv.Itoa(c.Dev.Port))
}

// StaticEnabled reports whether static files are served.
func (c *Config) StaticEnabled() bool {
	return c.Static.Enabled == nil || *c.Static.Enabled
}

// StaticPath returns the absolute path to the static directory.
func (c *Config) StaticPath() string {
	if filepath.IsAbs(c.Static.Dir) {
		return c.Static.Dir
	}
	return filepath.Join(c.Dir(), c.Static.Dir)
}

// PollTimeout returns the parsed poll timeout, or zero if invalid.
func (c *Config) PollTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Mushroom.PollTimeout)
	return d
}

// SessionTimeout returns the parsed session timeout, or zero if invalid.
func (c *Config) SessionTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Mushroom.SessionTimeout)
	return d
}

// CollisionPolicy returns the parsed collision policy.
func (c *Config) CollisionPolicy() dispatch.CollisionPolicy {
	p, _ := dispatch.ParseCollisionPolicy(c.Mushroom.Collisions)
	return p
}

// Apps returns the installed apps, or all when none are listed.
func (c *Config) Apps(all []string) []string {
	if len(c.InstalledApps) == 0 {
		return all
	}
	return c.InstalledApps
}

// Marshal renders the configuration as "json" or "yaml".
func (c *Config) Marshal(format string) ([]byte, error) {
	switch format {
	case "yaml", "yml":
		return yaml.Marshal(c)
	case "json", "":
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("config: unknown format %q", format)
	}
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing a config file, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New(errors.CodeConfigNotFound).WithSubject(startDir)
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory
// or its nearest parent with a config file.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}

// LoadOrDefault is LoadFromWorkingDir, falling back to the defaults plus
// environment overrides when no config file exists.
func LoadOrDefault() (*Config, error) {
	cfg, err := LoadFromWorkingDir()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, errors.CodeConfigNotFound) {
		return nil, err
	}
	cfg = &Config{}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}
