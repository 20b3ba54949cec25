// Package mcp implements the Model Context Protocol server, exposing the
// collaboration layer to agents as discrete named tools.
//
// Every tool call passes through one dispatch path (tools.go): principal,
// rate limit, path validation and authorization, closed-fork guard,
// presence, the handler itself, then the audit log. Handlers only translate
// arguments and results; the components do the work.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jpl-au/collab/internal/auth"
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/feed"
	"github.com/jpl-au/collab/internal/service"
	"github.com/jpl-au/collab/internal/version"
	"github.com/mark3labs/mcp-go/server"
)

// Endpoint paths of the HTTP transport.
const (
	PathMCP    = "/mcp"
	PathEvents = "/events"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the MCP server over transport until ctx is cancelled or the
// client goes away.
//
// Design: stdio serves one trusted local client, so every call is made as
// the configured user. HTTP serves many clients behind a proxy that
// authenticates them and names the principal in the X-Collab-User header;
// requests without it run as the anonymous principal.
func Serve(ctx context.Context, svc *service.Service, transport, addr string) error {
	// Log to stderr; stdout is reserved for MCP JSON-RPC messages
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	switch transport {
	case "", config.TransportStdio:
		s := NewServer(svc, svc.Config.UserName())
		slog.Info("collab MCP server ready", "version", version.Short(), "transport", "stdio", "root", svc.Root())
		err := server.ServeStdio(s)
		if errors.Is(err, context.Canceled) {
			slog.Info("server stopped")
			return nil
		}
		return err
	case config.TransportHTTP:
		return serveHTTP(ctx, svc, addr)
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", transport, config.TransportStdio, config.TransportHTTP)
	}
}

func serveHTTP(ctx context.Context, svc *service.Service, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("collab MCP server ready", "version", version.Short(), "transport", "http", "addr", addr, "root", svc.Root())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		slog.Info("server stopped")
		return err
	}
}

// Handler returns the HTTP mux: streamable MCP on /mcp and the WebSocket
// event feed on /events.
func Handler(svc *service.Service) http.Handler {
	mcpSrv := server.NewStreamableHTTPServer(NewServer(svc, ""),
		server.WithEndpointPath(PathMCP),
		server.WithHTTPContextFunc(principal),
	)
	mux := http.NewServeMux()
	mux.Handle(PathMCP, mcpSrv)
	mux.Handle(PathEvents, svc.Feed)
	return mux
}

// principal carries the proxy-supplied user into the tool context.
func principal(ctx context.Context, r *http.Request) context.Context {
	if u := strings.TrimSpace(r.Header.Get(feed.UserHeader)); u != "" {
		return auth.WithUser(ctx, u)
	}
	return ctx
}

// NewServer builds an MCP server with every tool registered. Calls whose
// context names no principal run as user, or as the anonymous principal
// when user is empty.
func NewServer(svc *service.Service, user string) *server.MCPServer {
	s := server.NewMCPServer(
		"collab",
		version.Short(),
		server.WithToolCapabilities(true),
	)
	registerTools(s, newHandlers(svc, user))
	return s
}

// handlers provides MCP request handlers with access to the components.
type handlers struct {
	svc  *service.Service
	cfg  *config.Config
	user string // principal for calls that carry none
}

func newHandlers(svc *service.Service, user string) *handlers {
	return &handlers{svc: svc, cfg: svc.Config, user: user}
}
