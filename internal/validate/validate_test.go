package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr error
	}{
		{"a.txt", "a.txt", nil},
		{"docs/./notes.md", "docs/notes.md", nil},
		{"docs\\nb.ipynb", "docs/nb.ipynb", nil},
		{"docs/", "docs", nil},
		{"", "", ErrInvalidPath},
		{"/etc/passwd", "", ErrInvalidPath},
		{"C:/x.txt", "", ErrInvalidPath},
		{"../x.txt", "", ErrInvalidPath},
		{"a/../../x.txt", "", ErrInvalidPath},
		{"a/../b.txt", "", ErrInvalidPath},
		{".", "", ErrInvalidPath},
		{"a\x00b", "", ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Path(tt.input, 0)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Path("abcdef", 3)
	assert.ErrorIs(t, err, ErrPathTooLong)
}

func TestPrefix(t *testing.T) {
	got, err := Prefix("", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Prefix("docs/", 0)
	require.NoError(t, err)
	assert.Equal(t, "docs/", got)

	_, err = Prefix("../", 0)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestContentAndPositions(t *testing.T) {
	assert.NoError(t, Content("abc", 3))
	assert.NoError(t, Content("abcd", 0))
	assert.ErrorIs(t, Content("abcd", 3), ErrContentTooLarge)

	assert.NoError(t, NonNegative("line", 0))
	assert.ErrorIs(t, NonNegative("line", -1), ErrNegative)
}
