package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jpl-au/collab/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setFlags sets the global flag variables for one test.
func setFlags(t *testing.T, o, u, d, r string) {
	t.Helper()
	prev := [4]string{output, user, db, root}
	output, user, db, root = o, u, d, r
	t.Cleanup(func() { output, user, db, root = prev[0], prev[1], prev[2], prev[3] })
}

func TestRootPriority(t *testing.T) {
	dir := t.TempDir()

	setFlags(t, "", "", "", dir)
	t.Setenv("COLLAB_ROOT", "/elsewhere")
	assert.Equal(t, dir, Root(), "flag wins")

	setFlags(t, "", "", "", "")
	assert.Equal(t, "/elsewhere", Root(), "env next")
}

func TestDBPriority(t *testing.T) {
	setFlags(t, "", "", "", "")
	t.Setenv("COLLAB_DB", "/tmp/env.db")
	assert.Equal(t, "/tmp/env.db", DB())

	setFlags(t, "", "", "/tmp/flag.db", "")
	assert.Equal(t, "/tmp/flag.db", DB())
}

func TestUser(t *testing.T) {
	cfg := &config.Config{User: config.User{Name: "carol"}}

	setFlags(t, "", "", "", "")
	assert.Equal(t, "carol", User(cfg))

	setFlags(t, "", "dave", "", "")
	assert.Equal(t, "dave", User(cfg))
}

func TestLoadConfigPrefersLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.Dir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.Dir, "config.yaml"), []byte("user:\n  name: erin\n"), 0644))

	setFlags(t, "", "", "", dir)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.ScopeLocal, cfg.Scope())
	assert.Equal(t, "erin", cfg.UserName())
}

func TestPrintJSONError(t *testing.T) {
	var buf bytes.Buffer
	SetOut(&buf)
	t.Cleanup(func() { SetOut(os.Stdout) })
	boom := errors.New("boom")

	setFlags(t, "", "", "", "")
	assert.Equal(t, boom, PrintJSONError(boom))
	assert.Empty(t, buf.String())

	setFlags(t, "json", "", "", "")
	assert.NoError(t, PrintJSONError(boom))
	assert.JSONEq(t, `{"error":"boom"}`, buf.String())
}

func TestTopLevelCmdName(t *testing.T) {
	root := &cobra.Command{Use: "collab"}
	cfg := &cobra.Command{Use: "config"}
	sub := &cobra.Command{Use: "get"}
	root.AddCommand(cfg)
	cfg.AddCommand(sub)

	assert.Equal(t, "config", topLevelCmdName(sub))
	assert.Equal(t, "config", topLevelCmdName(cfg))
}
