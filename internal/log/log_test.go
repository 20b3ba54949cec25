package log

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLog(t *testing.T) *sql.DB {
	t.Helper()
	tmpDir := t.TempDir()
	origDBPath := dbPathFunc
	dbPathFunc = func() string {
		return filepath.Join(tmpDir, "log", "test.db")
	}
	Close()
	require.NoError(t, Open())
	SetProject("/test/project/.collab")
	t.Cleanup(func() {
		Close()
		dbPathFunc = origDBPath
	})

	db, err := sql.Open("sqlite", DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLogger(t *testing.T) {
	t.Run("log entry", func(t *testing.T) {
		db := setupLog(t)
		assert.FileExists(t, DBPath())

		Log(Entry{
			Source:  "mcp:get_document",
			Author:  "alice",
			Action:  "read",
			Path:    "notes/a.txt",
			Success: true,
		})

		var source, action, path string
		var success int
		err := db.QueryRow("SELECT source, action, path, success FROM audit WHERE id = 1").
			Scan(&source, &action, &path, &success)
		require.NoError(t, err)
		assert.Equal(t, "mcp:get_document", source)
		assert.Equal(t, "read", action)
		assert.Equal(t, "notes/a.txt", path)
		assert.Equal(t, 1, success)
	})

	t.Run("log without logger is noop", func(t *testing.T) {
		Close()
		Log(Entry{Source: "cli:version", Action: "read", Success: true})
	})

	t.Run("open is idempotent", func(t *testing.T) {
		setupLog(t)
		require.NoError(t, Open())
	})
}

func TestBuilder(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := setupLog(t)

		Event("mcp:batch_insert_text", "write").
			Author("alice").
			Path("a.txt").
			Version("Ab3dE6gH").
			Detail("applied", 2).
			Write(nil)

		var author, version, detail string
		var success int
		var start, end int64
		err := db.QueryRow("SELECT author, version, detail, success, start, end FROM audit ORDER BY id DESC LIMIT 1").
			Scan(&author, &version, &detail, &success, &start, &end)
		require.NoError(t, err)
		assert.Equal(t, "alice", author)
		assert.Equal(t, "Ab3dE6gH", version)
		assert.JSONEq(t, `{"applied":2}`, detail)
		assert.Equal(t, 1, success)
		assert.LessOrEqual(t, start, end)
	})

	t.Run("failure with code", func(t *testing.T) {
		db := setupLog(t)

		Event("mcp:merge_document_fork", "write").
			Author("bob").
			Code("fork_closed").
			Write(errors.New("fork closed"))

		var success int
		var code, msg string
		var path sql.NullString
		err := db.QueryRow("SELECT success, code, error, path FROM audit ORDER BY id DESC LIMIT 1").
			Scan(&success, &code, &msg, &path)
		require.NoError(t, err)
		assert.Equal(t, 0, success)
		assert.Equal(t, "fork_closed", code)
		assert.Equal(t, "fork closed", msg)
		assert.False(t, path.Valid, "empty path is stored as NULL")
	})
}

func TestHash(t *testing.T) {
	h1 := hash("/home/user/project/.collab")
	h2 := hash("/home/user/project/.collab")
	h3 := hash("/home/user/other/.collab")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 16, "BLAKE2b-64 should produce 16 hex chars")
}

func TestDBPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	origDBPath := dbPathFunc
	dbPathFunc = defaultDBPath
	defer func() { dbPathFunc = origDBPath }()

	assert.Equal(t, filepath.Join(home, ".collab", "log", "collab-log.db"), DBPath())
}
