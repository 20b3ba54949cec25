// Package config provides reading and writing of collab configuration.
// Supports both global (~/.collab/config.yaml) and local (.collab/config.yaml).
// Reading: uses local if it exists, otherwise global.
// Writing: defaults to global, use --local for local.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jpl-au/collab/internal/auth"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoConfigPath is returned when the config path cannot be determined.
	ErrNoConfigPath = errors.New("cannot determine config path")
	// ErrUnknownKey is returned when getting/setting an unknown config key.
	ErrUnknownKey = errors.New("unknown config key")
	// ErrInvalidValue is returned when a config value is invalid.
	ErrInvalidValue = errors.New("invalid config value")
)

// Dir is the name of the state directory, both in the served root and in
// the user's home.
const Dir = ".collab"

// Scope represents the configuration scope (global or local).
type Scope int

const (
	// ScopeGlobal is user-wide config in ~/.collab/config.yaml (default)
	ScopeGlobal Scope = iota
	// ScopeLocal is repository-specific config in .collab/config.yaml
	ScopeLocal
)

// Transports accepted by server.transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// User identifies the principal for stdio sessions and CLI writes.
type User struct {
	Name string `yaml:"name,omitempty"`
}

// Server holds MCP serving options.
type Server struct {
	Transport string `yaml:"transport,omitempty"`
	Addr      string `yaml:"addr,omitempty"`
}

// Events holds event store retention options.
type Events struct {
	Capacity   *int           `yaml:"capacity,omitempty"`
	MaxStreams *int           `yaml:"max_streams,omitempty"`
	MaxAge     *time.Duration `yaml:"max_age,omitempty"`
}

// Presence holds awareness options.
type Presence struct {
	TTL              *time.Duration `yaml:"ttl,omitempty"`
	ActivityCapacity *int           `yaml:"activity_capacity,omitempty"`
}

// Session holds session registry options.
type Session struct {
	IdleGrace *time.Duration `yaml:"idle_grace,omitempty"`
}

// Limits holds size limit configuration options.
type Limits struct {
	MaxResults       *int   `yaml:"max_results,omitempty"`
	MaxContentLength *int   `yaml:"max_content_length,omitempty"`
	MaxContent       *int64 `yaml:"max_content,omitempty"`
	MaxPath          *int   `yaml:"max_path,omitempty"`
}

// Execution configures the notebook kernel.
type Execution struct {
	Command string         `yaml:"command,omitempty"`
	Timeout *time.Duration `yaml:"timeout,omitempty"`
}

// Redis configures the optional event relay. An empty Addr disables it.
type Redis struct {
	Addr   string `yaml:"addr,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Auth holds authorization rules and rate limits.
type Auth struct {
	Default    string         `yaml:"default,omitempty"`
	RateLimit  *int           `yaml:"rate_limit,omitempty"`
	RateWindow *time.Duration `yaml:"rate_window,omitempty"`
	Rules      []auth.Rule    `yaml:"rules,omitempty"`
}

// Defaults applied when not configured.
const (
	DefaultTransport        = TransportStdio
	DefaultAddr             = "127.0.0.1:7420"
	DefaultEventCapacity    = 100
	DefaultMaxStreams       = 1000
	DefaultEventMaxAge      = time.Hour
	DefaultPresenceTTL      = 5 * time.Minute
	DefaultActivityCapacity = 200
	DefaultIdleGrace        = 30 * time.Second
	DefaultMaxResults       = 1000
	DefaultMaxContentLength = 100000
	DefaultMaxContent       = 10 * 1024 * 1024 // 10 MB per operation
	DefaultMaxPath          = 1024
	DefaultCommand          = "python3"
	DefaultExecTimeout      = 30 * time.Second
	DefaultRedisPrefix      = "collab"
	DefaultUser             = "local"
)

// Validation bounds for configuration values.
const (
	MinCapacity   = 1
	MaxCapacity   = 100000
	MinMaxStreams = 1
	MaxMaxStreams = 1000000
	MinMaxResults = 1
	MaxMaxResults = 100000
	MinMaxPath    = 1
	MaxMaxPath    = 65536
	MinMaxContent = 1
	MaxMaxContent = 1024 * 1024 * 1024 // 1 GB
	MinDuration   = time.Millisecond
	MaxDuration   = 7 * 24 * time.Hour
)

// Config contains configuration for collab.
type Config struct {
	User      User      `yaml:"user,omitempty"`
	Server    Server    `yaml:"server,omitempty"`
	Events    Events    `yaml:"events,omitempty"`
	Presence  Presence  `yaml:"presence,omitempty"`
	Session   Session   `yaml:"session,omitempty"`
	Limits    Limits    `yaml:"limits,omitempty"`
	Execution Execution `yaml:"execution,omitempty"`
	Redis     Redis     `yaml:"redis,omitempty"`
	Auth      Auth      `yaml:"auth,omitempty"`

	// path is the file this config was loaded from (for Save)
	path  string
	scope Scope
}

func checkInt(key string, v *int, lo, hi int) error {
	if v != nil && (*v < lo || *v > hi) {
		return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidValue, key, lo, hi, *v)
	}
	return nil
}

func checkDuration(key string, v *time.Duration) error {
	if v != nil && (*v < MinDuration || *v > MaxDuration) {
		return fmt.Errorf("%w: %s must be between %s and %s, got %s", ErrInvalidValue, key, MinDuration, MaxDuration, *v)
	}
	return nil
}

// Validate checks that all configured values are within acceptable bounds.
// Returns nil if all values are valid or not set (defaults will be used).
func (c *Config) Validate() error {
	if t := c.Server.Transport; t != "" && t != TransportStdio && t != TransportHTTP {
		return fmt.Errorf("%w: server.transport must be %s or %s, got %q", ErrInvalidValue, TransportStdio, TransportHTTP, t)
	}
	ints := []struct {
		key    string
		v      *int
		lo, hi int
	}{
		{"events.capacity", c.Events.Capacity, MinCapacity, MaxCapacity},
		{"events.max_streams", c.Events.MaxStreams, MinMaxStreams, MaxMaxStreams},
		{"presence.activity_capacity", c.Presence.ActivityCapacity, MinCapacity, MaxCapacity},
		{"limits.max_results", c.Limits.MaxResults, MinMaxResults, MaxMaxResults},
		{"limits.max_content_length", c.Limits.MaxContentLength, 1, MaxMaxContent},
		{"limits.max_path", c.Limits.MaxPath, MinMaxPath, MaxMaxPath},
		{"auth.rate_limit", c.Auth.RateLimit, -1, 1000000},
	}
	for _, i := range ints {
		if err := checkInt(i.key, i.v, i.lo, i.hi); err != nil {
			return err
		}
	}
	if c.Limits.MaxContent != nil {
		v := *c.Limits.MaxContent
		if v < MinMaxContent || v > MaxMaxContent {
			return fmt.Errorf("%w: limits.max_content must be between %d and %d, got %d",
				ErrInvalidValue, MinMaxContent, MaxMaxContent, v)
		}
	}
	durations := []struct {
		key string
		v   *time.Duration
	}{
		{"events.max_age", c.Events.MaxAge},
		{"presence.ttl", c.Presence.TTL},
		{"session.idle_grace", c.Session.IdleGrace},
		{"execution.timeout", c.Execution.Timeout},
		{"auth.rate_window", c.Auth.RateWindow},
	}
	for _, d := range durations {
		if err := checkDuration(d.key, d.v); err != nil {
			return err
		}
	}
	if c.Auth.Default != "" {
		p, err := auth.ParsePermission(c.Auth.Default)
		if err != nil {
			return fmt.Errorf("%w: auth.default: %v", ErrInvalidValue, err)
		}
		if p == auth.None {
			return fmt.Errorf("%w: auth.default must grant at least read", ErrInvalidValue)
		}
	}
	if _, err := auth.New(c.AuthOptions()); err != nil {
		return fmt.Errorf("%w: auth.rules: %v", ErrInvalidValue, err)
	}
	return nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func durationOr(v *time.Duration, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// UserName returns the configured principal (defaults to "local").
func (c *Config) UserName() string { return stringOr(c.User.Name, DefaultUser) }

// Transport returns stdio or http (defaults to stdio).
func (c *Config) Transport() string { return stringOr(c.Server.Transport, DefaultTransport) }

// Addr returns the HTTP listen address.
func (c *Config) Addr() string { return stringOr(c.Server.Addr, DefaultAddr) }

// EventCapacity returns the per-stream retention (defaults to 100).
func (c *Config) EventCapacity() int { return intOr(c.Events.Capacity, DefaultEventCapacity) }

// MaxStreams returns the stream limit (defaults to 1000).
func (c *Config) MaxStreams() int { return intOr(c.Events.MaxStreams, DefaultMaxStreams) }

// EventMaxAge returns how long an idle stream is kept (defaults to 1h).
func (c *Config) EventMaxAge() time.Duration {
	return durationOr(c.Events.MaxAge, DefaultEventMaxAge)
}

// PresenceTTL returns how long a user stays online without activity.
func (c *Config) PresenceTTL() time.Duration {
	return durationOr(c.Presence.TTL, DefaultPresenceTTL)
}

// ActivityCapacity returns the activity ring size per scope.
func (c *Config) ActivityCapacity() int {
	return intOr(c.Presence.ActivityCapacity, DefaultActivityCapacity)
}

// IdleGrace returns how long an empty session lingers (defaults to 30s).
func (c *Config) IdleGrace() time.Duration {
	return durationOr(c.Session.IdleGrace, DefaultIdleGrace)
}

// MaxResults caps every list result (defaults to 1000).
func (c *Config) MaxResults() int { return intOr(c.Limits.MaxResults, DefaultMaxResults) }

// MaxContentLength is the default read budget in characters.
func (c *Config) MaxContentLength() int {
	return intOr(c.Limits.MaxContentLength, DefaultMaxContentLength)
}

// MaxContent is the largest text a single operation may carry, in bytes.
func (c *Config) MaxContent() int64 {
	if c.Limits.MaxContent == nil {
		return DefaultMaxContent
	}
	return *c.Limits.MaxContent
}

// MaxPath returns the maximum path length in bytes (defaults to 1024).
func (c *Config) MaxPath() int { return intOr(c.Limits.MaxPath, DefaultMaxPath) }

// Command returns the kernel command line (defaults to python3).
func (c *Config) Command() string { return stringOr(c.Execution.Command, DefaultCommand) }

// ExecTimeout returns the default per-cell timeout.
func (c *Config) ExecTimeout() time.Duration {
	return durationOr(c.Execution.Timeout, DefaultExecTimeout)
}

// RedisPrefix returns the channel prefix for the relay.
func (c *Config) RedisPrefix() string { return stringOr(c.Redis.Prefix, DefaultRedisPrefix) }

// AuthOptions converts the auth section for auth.New. An unparsable
// default falls back to the package default; Validate reports it.
func (c *Config) AuthOptions() auth.Options {
	opts := auth.Options{
		Rules:      c.Auth.Rules,
		RateLimit:  intOr(c.Auth.RateLimit, auth.DefaultRateLimit),
		RateWindow: durationOr(c.Auth.RateWindow, auth.DefaultRateWindow),
	}
	if p, err := auth.ParsePermission(c.Auth.Default); err == nil {
		opts.Default = p
	}
	return opts
}

// LocalPath returns the path to the local (repository) config file.
func LocalPath() string {
	return filepath.Join(Dir, "config.yaml")
}

// GlobalPath returns the path to the global (user) config file: ~/.collab/config.yaml
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, Dir, "config.yaml")
}

// Load reads configuration: uses local if it exists, otherwise global.
func Load() (*Config, error) {
	if _, err := os.Stat(LocalPath()); err == nil {
		return LoadScope(ScopeLocal)
	}
	return LoadScope(ScopeGlobal)
}

// LoadScope reads configuration from a specific scope.
func LoadScope(scope Scope) (*Config, error) {
	return LoadFile(pathForScope(scope), scope)
}

// LoadFile reads configuration from path. A missing file yields an empty
// config that saves back to path.
func LoadFile(path string, scope Scope) (*Config, error) {
	if path == "" {
		return &Config{scope: scope}, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{path: path, scope: scope}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("malformed config file %s: %w\n\nTo fix: edit the file to correct the YAML syntax, or delete it to use defaults", path, err)
	}
	cfg.path = path
	cfg.scope = scope

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Scope returns which scope this config was loaded from.
func (c *Config) Scope() Scope {
	return c.scope
}

// Save writes the configuration to its original location.
func (c *Config) Save() error {
	if c.path == "" {
		c.path = pathForScope(c.scope)
	}
	if c.path == "" {
		return ErrNoConfigPath
	}
	return c.saveToPath(c.path)
}

// saveToPath writes configuration to a specific filesystem path.
// Creates parent directories as needed with mode 0755.
func (c *Config) saveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// pathForScope returns the filesystem path for a given scope.
func pathForScope(scope Scope) string {
	switch scope {
	case ScopeLocal:
		return LocalPath()
	case ScopeGlobal:
		return GlobalPath()
	default:
		return ""
	}
}
