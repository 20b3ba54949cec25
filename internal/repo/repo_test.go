package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	root := t.TempDir()

	p, err := Init(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".collab", "collab.db"), p)
	assert.FileExists(t, p)
	assert.FileExists(t, filepath.Join(root, ".collab", ".gitignore"))

	custom := filepath.Join(root, ".collab", ".gitignore")
	require.NoError(t, os.WriteFile(custom, []byte("collab.db\n"), 0644))
	_, err = Init(root)
	require.NoError(t, err)
	data, err := os.ReadFile(custom)
	require.NoError(t, err)
	assert.Equal(t, "collab.db\n", string(data), "existing gitignore is kept")
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	_, err := Discover(nested)
	require.ErrorIs(t, err, ErrNotInitialised)

	_, err = Init(root)
	require.NoError(t, err)
	got, err := Discover(nested)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotReal, err := filepath.EvalSymlinks(got)
	require.NoError(t, err)
	assert.Equal(t, want, gotReal)
}
