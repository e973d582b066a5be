package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/pkg/types"
)

func newTestArea(t *testing.T) *Area {
	t.Helper()
	root := t.TempDir()
	area, err := New(filepath.Join(root, "uploads"), filepath.Join(root, "staging"), zap.NewNop())
	require.NoError(t, err)
	return area
}

func TestStageUpload(t *testing.T) {
	area := newTestArea(t)
	area.now = func() time.Time { return time.Unix(0, 1700000000123456789) }

	content := "fake image bytes"
	asset, err := area.StageUpload("Holiday Photo.JPG", strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, "1700000000123456789.jpg", asset.StoredFilename)
	assert.Equal(t, filepath.Join(area.UploadsDir(), asset.StoredFilename), asset.Path())
	assert.Equal(t, int64(len(content)), asset.Size)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), asset.ContentDigest)

	stored, err := os.ReadFile(asset.Path())
	require.NoError(t, err)
	assert.Equal(t, content, string(stored))

	ref := asset.Ref()
	assert.Equal(t, asset.StoredFilename, ref.StoredFilename)
	assert.Equal(t, asset.ContentDigest, ref.ContentDigest)
}

func TestStageUpload_NameCollisionRetries(t *testing.T) {
	area := newTestArea(t)
	area.now = func() time.Time { return time.Unix(0, 42) }

	first, err := area.StageUpload("a.png", strings.NewReader("a"))
	require.NoError(t, err)
	second, err := area.StageUpload("b.png", strings.NewReader("b"))
	require.NoError(t, err)

	assert.Equal(t, "42.png", first.StoredFilename)
	assert.Equal(t, "43.png", second.StoredFilename)
}

func TestStageUpload_UnsafeExtensionDropped(t *testing.T) {
	area := newTestArea(t)

	asset, err := area.StageUpload("../../evil.p$p", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotContains(t, asset.StoredFilename, ".")
	assert.Equal(t, area.UploadsDir(), filepath.Dir(asset.Path()))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestStageUpload_FailureLeavesNothing(t *testing.T) {
	area := newTestArea(t)

	_, err := area.StageUpload("a.png", failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(area.UploadsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAssetRelease_Idempotent(t *testing.T) {
	area := newTestArea(t)
	asset, err := area.StageUpload("a.png", strings.NewReader("x"))
	require.NoError(t, err)

	asset.Release()
	assert.NoFileExists(t, asset.Path())

	// A file recreated at the same path is not touched by a second Release
	require.NoError(t, os.WriteFile(asset.Path(), []byte("new"), 0644))
	asset.Release()
	assert.FileExists(t, asset.Path())
}

func TestTemporaryOutput(t *testing.T) {
	area := newTestArea(t)

	out := area.TemporaryOutput(types.FormatMP4)
	other := area.TemporaryOutput(types.FormatMP4)

	assert.NotEqual(t, out.Path(), other.Path())
	assert.Equal(t, area.StagingDir(), filepath.Dir(out.Path()))
	assert.True(t, strings.HasSuffix(out.Path(), ".mp4"))
	assert.NoFileExists(t, out.Path(), "location is reserved, not created")

	require.NoError(t, os.WriteFile(out.Path(), []byte("partial"), 0644))
	out.Release()
	assert.NoFileExists(t, out.Path())

	// Releasing a location the renderer never wrote is fine
	other.Release()
	other.Release()
}

func TestInUse_UntilReleased(t *testing.T) {
	area := newTestArea(t)
	asset, err := area.StageUpload("a.png", strings.NewReader("x"))
	require.NoError(t, err)
	out := area.TemporaryOutput(types.FormatPNG)

	assert.True(t, area.InUse(asset.Path()))
	assert.True(t, area.InUse(filepath.Join(area.UploadsDir(), ".", asset.StoredFilename)))
	assert.True(t, area.InUse(out.Path()))
	assert.False(t, area.InUse(filepath.Join(area.UploadsDir(), "1.png")))

	asset.Release()
	out.Release()
	assert.False(t, area.InUse(asset.Path()))
	assert.False(t, area.InUse(out.Path()))

	_, err = area.StageUpload("b.png", failingReader{})
	require.Error(t, err)
	area.mu.Lock()
	assert.Empty(t, area.live, "a failed upload is not left registered")
	area.mu.Unlock()
}

func TestNew_RequiresDirectories(t *testing.T) {
	_, err := New("", t.TempDir(), zap.NewNop())
	assert.Error(t, err)
}
