// Package auth decides what a principal may do to a path.
//
// Principals are established upstream and arrive in the request context;
// nothing here parses credentials. Permissions form a hierarchy, read <
// write < execute < admin, so holding one grants everything below it.
// Rules match a glob against the path and optionally a list of users; the
// first matching rule decides and paths no rule matches get the default.
//
// Each principal also has a token bucket refilled at limit per window.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jpl-au/collab/internal/glob"
	"golang.org/x/time/rate"
)

// Defaults for Options.
const (
	DefaultPermission = Execute
	DefaultRateLimit  = 100
	DefaultRateWindow = time.Minute
)

// Anonymous is the principal of requests that carry none.
const Anonymous = "anonymous"

var (
	// ErrForbidden is returned when a principal lacks a permission.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is returned when a principal exceeds its rate limit.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Permission is a level in the read < write < execute < admin hierarchy.
type Permission int

const (
	None Permission = iota
	Read
	Write
	Execute
	Admin
)

var permNames = []string{"none", "read", "write", "execute", "admin"}

func (p Permission) String() string {
	if p < None || int(p) >= len(permNames) {
		return fmt.Sprintf("Permission(%d)", int(p))
	}
	return permNames[p]
}

// ParsePermission parses a permission name.
func ParsePermission(s string) (Permission, error) {
	i := slices.Index(permNames, strings.ToLower(strings.TrimSpace(s)))
	if i < 0 {
		return None, fmt.Errorf("unknown permission %q (want one of %s)", s, strings.Join(permNames, ", "))
	}
	return Permission(i), nil
}

// Rule grants Permission on paths matching Pattern to Users, or to
// everyone when Users is empty.
type Rule struct {
	Pattern    string   `yaml:"pattern" json:"pattern"`
	Users      []string `yaml:"users,omitempty" json:"users,omitempty"`
	Permission string   `yaml:"permission" json:"permission"`
}

type rule struct {
	pattern string
	users   []string
	perm    Permission
}

// Options configures an Authorizer. Zero values select the defaults;
// a negative RateLimit disables limiting.
type Options struct {
	Default    Permission
	Rules      []Rule
	RateLimit  int
	RateWindow time.Duration
}

// Authorizer checks permissions and rate limits.
type Authorizer struct {
	def    Permission
	rules  []rule
	limit  int
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New validates opts and returns an Authorizer.
func New(opts Options) (*Authorizer, error) {
	if opts.Default == None {
		opts.Default = DefaultPermission
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = DefaultRateWindow
	}
	a := &Authorizer{
		def:      opts.Default,
		limit:    opts.RateLimit,
		window:   opts.RateWindow,
		limiters: make(map[string]*rate.Limiter),
	}
	for i, r := range opts.Rules {
		perm, err := ParsePermission(r.Permission)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, err := glob.Match(r.Pattern, "x"); err != nil {
			return nil, fmt.Errorf("rule %d: bad pattern %q: %w", i, r.Pattern, err)
		}
		a.rules = append(a.rules, rule{pattern: r.Pattern, users: r.Users, perm: perm})
	}
	return a, nil
}

// Granted returns user's permission on p. An empty path has the default.
func (a *Authorizer) Granted(user, p string) Permission {
	if p == "" {
		return a.def
	}
	for _, r := range a.rules {
		if len(r.users) > 0 && !slices.Contains(r.users, user) {
			continue
		}
		if ok, _ := glob.Match(r.pattern, p); ok {
			return r.perm
		}
	}
	return a.def
}

// Check returns ErrForbidden unless the context's principal holds need
// on p.
func (a *Authorizer) Check(ctx context.Context, p string, need Permission) error {
	user := User(ctx)
	if got := a.Granted(user, p); got < need {
		target := p
		if target == "" {
			target = "this server"
		}
		return fmt.Errorf("%w: %s needs %s on %s, has %s", ErrForbidden, user, need, target, got)
	}
	return nil
}

// Allow takes one request from user's bucket.
func (a *Authorizer) Allow(user string) error {
	if a.limit < 0 {
		return nil
	}
	a.mu.Lock()
	l, ok := a.limiters[user]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(a.limit)/a.window.Seconds()), a.limit)
		a.limiters[user] = l
	}
	a.mu.Unlock()
	if !l.Allow() {
		return fmt.Errorf("%w: %s is limited to %d requests per %s", ErrRateLimited, user, a.limit, a.window)
	}
	return nil
}

type ctxKey struct{}

// WithUser returns ctx carrying user as the principal.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// User returns the context's principal, or Anonymous.
func User(ctx context.Context) string {
	if u, ok := ctx.Value(ctxKey{}).(string); ok && u != "" {
		return u
	}
	return Anonymous
}
