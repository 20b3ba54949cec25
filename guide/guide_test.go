package guide

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	index, err := Get("")
	require.NoError(t, err)
	assert.Contains(t, index, "# collab")

	forks, err := Get(" Forks ")
	require.NoError(t, err)
	assert.Contains(t, forks, "merge_document_fork")

	_, err = Get("nope")
	assert.ErrorIs(t, err, ErrUnknownTopic)
	_, err = Get("../guide")
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestList(t *testing.T) {
	names, err := List()
	require.NoError(t, err)
	assert.Equal(t, []string{"config", "documents", "events", "forks", "notebooks", "presence"}, names)
}
