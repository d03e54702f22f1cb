package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jscyril/golang_clip_player/internal/media"
	playerrors "github.com/jscyril/golang_clip_player/pkg/errors"
)

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nope.mp4")

	b, err := Open(path, media.OutputFormat{})
	require.Error(t, err)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, playerrors.ErrNoSuchFile)

	var oe *playerrors.OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, path, oe.Path)
}

func TestOpenGarbageFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "garbage.mp4")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a container"), 0o644))

	_, err := Open(path, media.OutputFormat{})
	require.Error(t, err)
	var oe *playerrors.OpenError
	assert.ErrorAs(t, err, &oe)
	assert.NotErrorIs(t, err, playerrors.ErrNoSuchFile)
}

func TestReadTitleFallsBackToFileName(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "holiday clip.mkv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	assert.Equal(t, "holiday clip", readTitle(path))
	assert.Equal(t, "gone", readTitle(filepath.Join(t.TempDir(), "gone.mp4")))
}

func TestMapErr(t *testing.T) {
	t.Parallel()
	other := errors.New("boom")

	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(astiav.ErrEagain), playerrors.ErrAgain)
	assert.ErrorIs(t, mapErr(fmt.Errorf("wrapped: %w", astiav.ErrEof)), io.EOF)
	assert.Same(t, other, mapErr(other))
}
