package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/exec"
	"github.com/jpl-au/collab/internal/service"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

type nopKernel struct{}

func (nopKernel) Execute(context.Context, string) (exec.Result, error) {
	return exec.Result{Stdout: "ok\n"}, nil
}

func setupHandlers(t *testing.T, cfg *config.Config, files map[string]string) *handlers {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	svc, err := service.New(context.Background(), service.Options{Root: root, Config: cfg, Kernel: nopKernel{}})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return newHandlers(svc, "alice")
}

// result is a decoded tool result.
type result struct {
	summary string
	data    map[string]any
	isError bool
}

func (r result) code() string {
	s, _ := r.data["code"].(string)
	return s
}

func call(t *testing.T, h *handlers, name string, args map[string]any) result {
	t.Helper()
	return callAs(t, h, context.Background(), name, args)
}

func callAs(t *testing.T, h *handlers, ctx context.Context, name string, args map[string]any) result {
	t.Helper()
	tl, ok := registry[name]
	require.True(t, ok, "unknown tool %s", name)
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	res := h.dispatch(ctx, tl, req)
	require.Len(t, res.Content, 2)
	summary, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	body, ok := res.Content[1].(mcp.TextContent)
	require.True(t, ok)
	out := result{summary: summary.Text, isError: res.IsError}
	require.NoError(t, json.Unmarshal([]byte(body.Text), &out.data), body.Text)
	return out
}

// succeeded fails the test unless r is a successful result.
func succeeded(t *testing.T, r result) result {
	t.Helper()
	require.False(t, r.isError, r.summary)
	return r
}

func list(r result, key string) []any {
	v, _ := r.data[key].([]any)
	return v
}
