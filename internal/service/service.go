// Package service wires the collaboration components together.
//
// A Service owns one served directory: the reference engine over it, the
// SQLite version log and fork records in its .collab directory, the event
// store and every registry built on top. The MCP façade, the WebSocket feed
// and the CLI all obtain their components from here rather than
// constructing them, so there is exactly one session per path per process.
//
// Always call Close() when done (use defer).
//
//	svc, err := service.New(ctx, service.Options{Root: "."})
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/broadcast"
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/document"
	"github.com/jpl-au/collab/internal/engine"
	"github.com/jpl-au/collab/internal/events"
	"github.com/jpl-au/collab/internal/exec"
	"github.com/jpl-au/collab/internal/feed"
	"github.com/jpl-au/collab/internal/fork"
	"github.com/jpl-au/collab/internal/log"
	"github.com/jpl-au/collab/internal/presence"
	"github.com/jpl-au/collab/internal/repo"
	"github.com/jpl-au/collab/internal/session"
	"github.com/jpl-au/collab/internal/store"
	"github.com/redis/go-redis/v9"
)

// minPruneInterval bounds how often idle event streams are swept.
const minPruneInterval = time.Minute

// Options configures New.
type Options struct {
	// Root is the served directory. Defaults to the working directory.
	Root string
	// DB overrides the database path (default <root>/.collab/collab.db).
	DB string
	// Config supplies limits and wiring; nil uses the defaults.
	Config *config.Config
	// Kernel overrides the cell execution kernel built from
	// execution.command.
	Kernel exec.Kernel
}

// Service holds every component of one served directory.
type Service struct {
	Config   *config.Config
	Engine   *engine.Local
	Store    *store.SQLiteStore
	Events   *events.Store
	Docs     *document.Adapter
	Sessions *session.Registry
	Presence *presence.Tracker
	Forks    *fork.Manager
	Runner   *exec.Runner
	Auth     *auth.Authorizer
	Feed     *feed.Handler
	// Relay is nil unless redis.addr is configured.
	Relay *broadcast.Relay

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New opens the store, builds every component and restores open forks.
func New(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	root := opts.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	authz, err := auth.New(cfg.AuthOptions())
	if err != nil {
		return nil, fmt.Errorf("auth rules: %w", err)
	}
	kernel := opts.Kernel
	if kernel == nil {
		p, err := exec.NewProcess(exec.ParseCommand(cfg.Command()), root)
		if err != nil {
			return nil, fmt.Errorf("execution.command: %w", err)
		}
		kernel = p
	}

	eng, err := engine.NewLocal(root)
	if err != nil {
		return nil, err
	}
	st, err := openStore(root, opts.DB)
	if err != nil {
		eng.Shutdown()
		return nil, err
	}
	log.SetProject(filepath.Join(root, repo.Dir))

	ev := events.NewStore(events.Options{
		Capacity:   cfg.EventCapacity(),
		MaxStreams: cfg.MaxStreams(),
		MaxAge:     cfg.EventMaxAge(),
	})
	docs := document.New(eng, st, ev)
	reg := session.NewRegistry(docs, ev, session.Options{IdleGrace: cfg.IdleGrace()})

	s := &Service{
		Config:   cfg,
		Engine:   eng,
		Store:    st,
		Events:   ev,
		Docs:     docs,
		Sessions: reg,
		Presence: presence.NewTracker(ev, presence.Options{
			TTL:              cfg.PresenceTTL(),
			ActivityCapacity: cfg.ActivityCapacity(),
		}),
		Forks:  fork.NewManager(docs, reg, ev, st),
		Runner: exec.NewRunner(kernel, docs),
		Auth:   authz,
		Feed:   feed.NewHandler(ev, authz, feed.Options{MaxPath: cfg.MaxPath()}),
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if cfg.Redis.Addr != "" {
		s.Relay = broadcast.NewRelay(&redis.Options{Addr: cfg.Redis.Addr}, cfg.RedisPrefix(), 0)
		pingCtx, done := context.WithTimeout(ctx, 5*time.Second)
		if err := s.Relay.Ping(pingCtx); err != nil {
			slog.Warn("redis relay unreachable, events will be dropped until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		done()
		ev.OnAppend(s.Relay.Enqueue)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.Relay.Run(runCtx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.prune(runCtx, cfg.EventMaxAge())
	}()

	if err := s.Forks.Load(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("restore forks: %w", err)
	}
	return s, nil
}

func openStore(root, db string) (*store.SQLiteStore, error) {
	if db == "" {
		p, err := repo.Init(root)
		if err != nil {
			return nil, err
		}
		db = p
	} else if err := os.MkdirAll(filepath.Dir(db), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	st, err := store.Open(db)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", db, err)
	}
	if err := st.Init(); err != nil {
		st.Close()
		return nil, fmt.Errorf("init store %s: %w", db, err)
	}
	return st, nil
}

// prune drops idle event streams until ctx ends.
func (s *Service) prune(ctx context.Context, maxAge time.Duration) {
	every := max(maxAge/4, minPruneInterval)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Events.Prune(0); n > 0 {
				slog.Debug("pruned idle event streams", "count", n)
			}
		}
	}
}

// Root returns the served directory.
func (s *Service) Root() string { return s.Engine.Root() }

// Close stops background work, tears down sessions and forks and
// checkpoints the database. Safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.Forks.Close()
		s.Sessions.Close()
		s.Engine.Shutdown()

		var errs []error
		if s.Relay != nil {
			errs = append(errs, s.Relay.Close())
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Store.Checkpoint(ctx); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint: %w", err))
		}
		errs = append(errs, s.Store.Close())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
