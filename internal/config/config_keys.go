// config_keys.go provides key-value access to configuration settings.
//
// Separated from config.go to isolate the key enumeration and string-based
// get/set logic used by the config command, where settings are addressed by
// dotted keys (e.g. "events.capacity"). auth.rules is a list and is edited
// in the YAML file directly.
//
// Design: Pointers are used for optional fields so we can distinguish between
// "not set" (nil) and "explicitly set to zero". Defaults only apply when the
// user hasn't set a value.

package config

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// key describes one string-addressable setting.
type key struct {
	get   func(c *Config) string
	set   func(c *Config, v string) error
	isSet func(c *Config) bool
}

func strKey(field func(c *Config) *string, def func(c *Config) string) key {
	return key{
		get: def,
		set: func(c *Config, v string) error {
			*field(c) = v
			return nil
		},
		isSet: func(c *Config) bool { return *field(c) != "" },
	}
}

func intKey(name string, field func(c *Config) **int, def func(c *Config) int) key {
	return key{
		get: func(c *Config) string { return strconv.Itoa(def(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s must be an integer", ErrInvalidValue, name)
			}
			*field(c) = &n
			return nil
		},
		isSet: func(c *Config) bool { return *field(c) != nil },
	}
}

func durationKey(name string, field func(c *Config) **time.Duration, def func(c *Config) time.Duration) key {
	return key{
		get: func(c *Config) string { return def(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: %s must be a duration such as 30s or 5m", ErrInvalidValue, name)
			}
			*field(c) = &d
			return nil
		},
		isSet: func(c *Config) bool { return *field(c) != nil },
	}
}

var keys = map[string]key{
	"user.name":        strKey(func(c *Config) *string { return &c.User.Name }, (*Config).UserName),
	"server.transport": strKey(func(c *Config) *string { return &c.Server.Transport }, (*Config).Transport),
	"server.addr":      strKey(func(c *Config) *string { return &c.Server.Addr }, (*Config).Addr),
	"events.capacity": intKey("events.capacity",
		func(c *Config) **int { return &c.Events.Capacity }, (*Config).EventCapacity),
	"events.max_streams": intKey("events.max_streams",
		func(c *Config) **int { return &c.Events.MaxStreams }, (*Config).MaxStreams),
	"events.max_age": durationKey("events.max_age",
		func(c *Config) **time.Duration { return &c.Events.MaxAge }, (*Config).EventMaxAge),
	"presence.ttl": durationKey("presence.ttl",
		func(c *Config) **time.Duration { return &c.Presence.TTL }, (*Config).PresenceTTL),
	"presence.activity_capacity": intKey("presence.activity_capacity",
		func(c *Config) **int { return &c.Presence.ActivityCapacity }, (*Config).ActivityCapacity),
	"session.idle_grace": durationKey("session.idle_grace",
		func(c *Config) **time.Duration { return &c.Session.IdleGrace }, (*Config).IdleGrace),
	"limits.max_results": intKey("limits.max_results",
		func(c *Config) **int { return &c.Limits.MaxResults }, (*Config).MaxResults),
	"limits.max_content_length": intKey("limits.max_content_length",
		func(c *Config) **int { return &c.Limits.MaxContentLength }, (*Config).MaxContentLength),
	"limits.max_content": {
		get: func(c *Config) string { return strconv.FormatInt(c.MaxContent(), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: limits.max_content must be an integer", ErrInvalidValue)
			}
			c.Limits.MaxContent = &n
			return nil
		},
		isSet: func(c *Config) bool { return c.Limits.MaxContent != nil },
	},
	"limits.max_path": intKey("limits.max_path",
		func(c *Config) **int { return &c.Limits.MaxPath }, (*Config).MaxPath),
	"execution.command": strKey(func(c *Config) *string { return &c.Execution.Command }, (*Config).Command),
	"execution.timeout": durationKey("execution.timeout",
		func(c *Config) **time.Duration { return &c.Execution.Timeout }, (*Config).ExecTimeout),
	"redis.addr":   strKey(func(c *Config) *string { return &c.Redis.Addr }, func(c *Config) string { return c.Redis.Addr }),
	"redis.prefix": strKey(func(c *Config) *string { return &c.Redis.Prefix }, (*Config).RedisPrefix),
	"auth.default": strKey(func(c *Config) *string { return &c.Auth.Default }, func(c *Config) string {
		return c.AuthOptions().Default.String()
	}),
	"auth.rate_limit": intKey("auth.rate_limit",
		func(c *Config) **int { return &c.Auth.RateLimit }, func(c *Config) int { return c.AuthOptions().RateLimit }),
	"auth.rate_window": durationKey("auth.rate_window",
		func(c *Config) **time.Duration { return &c.Auth.RateWindow }, func(c *Config) time.Duration { return c.AuthOptions().RateWindow }),
}

// ValidKeys returns all valid configuration keys, sorted.
func ValidKeys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// IsValidKey returns true if the key is a valid configuration key.
func IsValidKey(name string) bool {
	_, ok := keys[name]
	return ok
}

// Get returns the value of a configuration key as a string.
func (c *Config) Get(name string) (string, error) {
	k, ok := keys[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	return k.get(c), nil
}

// Set sets the value of a configuration key. The whole config is validated
// afterwards and the change is undone when it fails.
func (c *Config) Set(name, value string) error {
	k, ok := keys[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	prev := *c
	if err := k.set(c, value); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		*c = prev
		return err
	}
	return nil
}

// All returns all configuration values as a map.
func (c *Config) All() map[string]string {
	out := make(map[string]string, len(keys))
	for name, k := range keys {
		out[name] = k.get(c)
	}
	return out
}

// IsSet returns true if the key has an explicit value (not just defaults).
func (c *Config) IsSet(name string) bool {
	k, ok := keys[name]
	return ok && k.isSet(c)
}
