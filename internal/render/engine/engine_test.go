package engine

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
	"github.com/edgecomet/mediacache/pkg/types"
)

// fakeEngine mimics the engine CLI: still/render copy the props into the
// output file, compositions prints a fixed id list.
const fakeEngine = `#!/bin/sh
echo "$@" >> "$CALL_LOG"
cmd="$1"
shift
case "$cmd" in
still|render)
	if [ "$2" = "Broken" ]; then
		echo "composition crashed" >&2
		exit 3
	fi
	if [ "$2" = "Silent" ]; then
		exit 0
	fi
	if [ "$2" = "Slow" ]; then
		exec sleep 5
	fi
	printf '%s|%s' "$4" "$5" > "$3"
	;;
compositions)
	echo "Twibbon Overlay"
	echo "Banner"
	;;
*)
	exit 64
	;;
esac
`

func newFakeCLI(t *testing.T) (*CLI, string) {
	t.Helper()

	dir := t.TempDir()
	script := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeEngine), 0o755))
	callLog := filepath.Join(dir, "calls.log")

	cli := NewCLI(configtypes.CLIConfig{
		Binary:   "/bin/sh",
		BaseArgs: []string{script},
		Env:      []string{"CALL_LOG=" + callLog},
	}, zap.NewNop())
	return cli, callLog
}

func TestCLI_RenderStill(t *testing.T) {
	cli, callLog := newFakeCLI(t)
	out := filepath.Join(t.TempDir(), "out.png")

	err := cli.RenderStill(context.Background(), NewBundle("/srv/bundle"), "Twibbon",
		map[string]any{"images": "1.png"}, out, types.FormatJPEG)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `--props={"images":"1.png"}|--image-format=jpeg`, string(data))

	calls, err := os.ReadFile(callLog)
	require.NoError(t, err)
	assert.Contains(t, string(calls), "still /srv/bundle Twibbon "+out)
}

func TestCLI_RenderVideoDefaultsCodec(t *testing.T) {
	cli, _ := newFakeCLI(t)
	out := filepath.Join(t.TempDir(), "out.mp4")

	err := cli.RenderVideo(context.Background(), NewBundle("/srv/bundle"), "Overlay", nil, out, "")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `--props={}|--codec=h264`, string(data))
}

func TestCLI_Failures(t *testing.T) {
	cli, _ := newFakeCLI(t)
	bundle := NewBundle("/srv/bundle")

	t.Run("non-zero exit carries stderr", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.png")
		err := cli.RenderStill(context.Background(), bundle, "Broken", nil, out, types.FormatPNG)
		require.ErrorIs(t, err, ErrRenderEngine)
		assert.Contains(t, err.Error(), "composition crashed")
	})

	t.Run("missing output", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.png")
		err := cli.RenderStill(context.Background(), bundle, "Silent", nil, out, types.FormatPNG)
		require.ErrorIs(t, err, ErrRenderEngine)
		assert.Contains(t, err.Error(), "no output")
	})

	t.Run("context deadline kills the process", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		out := filepath.Join(t.TempDir(), "out.png")
		start := time.Now()
		err := cli.RenderStill(ctx, bundle, "Slow", nil, out, types.FormatPNG)
		require.ErrorIs(t, err, ErrRenderEngine)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 4*time.Second)
	})

	t.Run("unserializable props", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.png")
		err := cli.RenderStill(context.Background(), bundle, "Twibbon", map[string]any{"f": func() {}}, out, types.FormatPNG)
		require.ErrorIs(t, err, ErrRenderEngine)
	})
}

func TestCLI_ListCompositions(t *testing.T) {
	cli, callLog := newFakeCLI(t)

	comps, err := cli.ListCompositions(context.Background(), NewBundle("/srv/bundle"), map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, []Composition{{ID: "Twibbon"}, {ID: "Overlay"}, {ID: "Banner"}}, comps)

	calls, err := os.ReadFile(callLog)
	require.NoError(t, err)
	assert.Contains(t, string(calls), `compositions /srv/bundle --props={"title":"x"} --quiet`)
}

func TestRequireComposition(t *testing.T) {
	resolver := NewStaticResolver([]string{"Twibbon", "Overlay"})
	bundle := NewBundle("/srv/bundle")

	assert.NoError(t, RequireComposition(context.Background(), resolver, bundle, "Overlay", nil))

	err := RequireComposition(context.Background(), resolver, bundle, "Missing", nil)
	require.ErrorIs(t, err, types.ErrBadRequest)
	assert.Contains(t, err.Error(), "Missing")

	cli, _ := newFakeCLI(t)
	assert.NoError(t, RequireComposition(context.Background(), cli, bundle, "Banner", nil))
}

type recordingRenderer struct {
	stills, videos int
}

func (r *recordingRenderer) RenderStill(context.Context, *Bundle, string, map[string]any, string, types.OutputFormat) error {
	r.stills++
	return nil
}

func (r *recordingRenderer) RenderVideo(context.Context, *Bundle, string, map[string]any, string, string) error {
	r.videos++
	return nil
}

func TestMux(t *testing.T) {
	still := &recordingRenderer{}
	video := &recordingRenderer{}
	mux := &Mux{Still: still, Video: video}

	require.NoError(t, mux.RenderStill(context.Background(), nil, "a", nil, "", types.FormatPNG))
	require.NoError(t, mux.RenderVideo(context.Background(), nil, "a", nil, "", "h264"))
	require.NoError(t, mux.RenderVideo(context.Background(), nil, "a", nil, "", "h264"))

	assert.Equal(t, 1, still.stills)
	assert.Equal(t, 0, still.videos)
	assert.Equal(t, 2, video.videos)
	assert.Equal(t, 0, video.stills)
}

func TestBuildBundle(t *testing.T) {
	t.Run("no build command", func(t *testing.T) {
		b, err := BuildBundle(context.Background(), configtypes.BundleConfig{Location: "http://localhost:3000"}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:3000", b.Location())
		assert.False(t, b.BuiltAt().IsZero())
	})

	t.Run("build command runs once", func(t *testing.T) {
		marker := filepath.Join(t.TempDir(), "built")
		b, err := BuildBundle(context.Background(), configtypes.BundleConfig{
			Location:     "/srv/bundle",
			BuildCommand: []string{"/bin/sh", "-c", "touch " + marker},
		}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "/srv/bundle", b.Location())
		assert.FileExists(t, marker)
	})

	t.Run("build failure", func(t *testing.T) {
		_, err := BuildBundle(context.Background(), configtypes.BundleConfig{
			Location:     "/srv/bundle",
			BuildCommand: []string{"/bin/sh", "-c", "echo bundler exploded >&2; exit 1"},
		}, zap.NewNop())
		require.ErrorIs(t, err, ErrRenderEngine)
		assert.Contains(t, err.Error(), "bundler exploded")
	})

	t.Run("build timeout", func(t *testing.T) {
		_, err := BuildBundle(context.Background(), configtypes.BundleConfig{
			Location:     "/srv/bundle",
			BuildCommand: []string{"/bin/sh", "-c", "sleep 5"},
			BuildTimeout: types.Duration(100 * time.Millisecond),
		}, zap.NewNop())
		require.ErrorIs(t, err, ErrRenderEngine)
	})

	t.Run("missing location", func(t *testing.T) {
		_, err := BuildBundle(context.Background(), configtypes.BundleConfig{}, zap.NewNop())
		require.Error(t, err)
	})
}

func TestPlayerURL(t *testing.T) {
	raw, err := playerURL("http://localhost:3000/player?v=2", "Twibbon", map[string]any{"images": "a b.png"})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/player", u.Path)
	assert.Equal(t, "2", u.Query().Get("v"))
	assert.Equal(t, "Twibbon", u.Query().Get("composition"))
	assert.Equal(t, `{"images":"a b.png"}`, u.Query().Get("props"))

	_, err = playerURL("http://[::1", "Twibbon", nil)
	assert.ErrorIs(t, err, ErrRenderEngine)
}

func TestChromeStill_RejectsVideo(t *testing.T) {
	c := NewChromeStill(configtypes.ChromeConfig{Width: 100, Height: 100}, zap.NewNop())
	defer c.Close()

	err := c.RenderVideo(context.Background(), NewBundle("http://localhost"), "Overlay", nil, "out.mp4", "h264")
	assert.ErrorIs(t, err, ErrRenderEngine)
}
