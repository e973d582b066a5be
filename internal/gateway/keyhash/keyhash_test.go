package keyhash

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/mediacache/pkg/types"
)

func stillRequest(props map[string]any) *types.RenderRequest {
	return &types.RenderRequest{
		CompositionID: "Twibbon",
		Kind:          types.KindStill,
		Format:        types.FormatPNG,
		InputProps:    props,
	}
}

func videoRequest(filename, digest string) *types.RenderRequest {
	return &types.RenderRequest{
		CompositionID: "Overlay",
		Kind:          types.KindVideo,
		Format:        types.FormatMP4,
		InputProps:    map[string]any{"title": "Hi"},
		Asset: &types.StagedAssetRef{
			StoredFilename: filename,
			StoredPath:     "/uploads/" + filename,
			ContentDigest:  digest,
		},
	}
}

func mustDerive(t *testing.T, req *types.RenderRequest) string {
	t.Helper()
	key, err := Derive(req)
	require.NoError(t, err)
	return key
}

func TestDerive_Format(t *testing.T) {
	key := mustDerive(t, stillRequest(map[string]any{"title": "Hi"}))
	assert.Len(t, key, KeyLength)
	assert.True(t, Valid(key))
}

func TestDerive_Determinism(t *testing.T) {
	t.Run("prop order does not matter", func(t *testing.T) {
		a := map[string]any{"title": "Hi", "color": "red", "size": "2"}
		b := map[string]any{"size": "2", "title": "Hi", "color": "red"}
		assert.Equal(t, mustDerive(t, stillRequest(a)), mustDerive(t, stillRequest(b)))
	})

	t.Run("nested prop order does not matter", func(t *testing.T) {
		a := map[string]any{"theme": map[string]any{"bg": "black", "fg": "white"}}
		b := map[string]any{"theme": map[string]any{"fg": "white", "bg": "black"}}
		assert.Equal(t, mustDerive(t, stillRequest(a)), mustDerive(t, stillRequest(b)))
	})

	t.Run("nil and empty props are equal", func(t *testing.T) {
		assert.Equal(t, mustDerive(t, stillRequest(nil)), mustDerive(t, stillRequest(map[string]any{})))
	})

	t.Run("asset filename does not matter", func(t *testing.T) {
		a := videoRequest("1700000000000000000.png", "aaaa")
		b := videoRequest("1800000000000000000.jpg", "aaaa")
		assert.Equal(t, mustDerive(t, a), mustDerive(t, b))
	})

	t.Run("repeated derivation", func(t *testing.T) {
		req := stillRequest(map[string]any{"title": "Hi", "tags": []any{"a", "b"}})
		first := mustDerive(t, req)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, mustDerive(t, req))
		}
	})
}

func TestDerive_Sensitivity(t *testing.T) {
	base := stillRequest(map[string]any{"title": "Hi"})
	baseKey := mustDerive(t, base)

	variants := map[string]*types.RenderRequest{
		"prop value": stillRequest(map[string]any{"title": "Ho"}),
		"extra prop": stillRequest(map[string]any{"title": "Hi", "x": "1"}),
		"prop type":  stillRequest(map[string]any{"title": []any{"Hi"}}),
		"format": {
			CompositionID: "Twibbon", Kind: types.KindStill, Format: types.FormatJPEG,
			InputProps: map[string]any{"title": "Hi"},
		},
		"composition": {
			CompositionID: "Twibbon2", Kind: types.KindStill, Format: types.FormatPNG,
			InputProps: map[string]any{"title": "Hi"},
		},
	}

	for name, req := range variants {
		t.Run(name, func(t *testing.T) {
			assert.NotEqual(t, baseKey, mustDerive(t, req))
		})
	}

	t.Run("asset bytes", func(t *testing.T) {
		a := mustDerive(t, videoRequest("same.png", "digest-a"))
		b := mustDerive(t, videoRequest("same.png", "digest-b"))
		assert.NotEqual(t, a, b)
	})
}

func TestDerive_FieldBoundaries(t *testing.T) {
	// Moving characters between adjacent fields must not collide
	a := &types.RenderRequest{CompositionID: "Astill", Kind: "", Format: types.FormatPNG}
	b := &types.RenderRequest{CompositionID: "A", Kind: "still", Format: types.FormatPNG}
	assert.NotEqual(t, mustDerive(t, a), mustDerive(t, b))
}

func TestDerive_Distribution(t *testing.T) {
	const samples = 2000
	keys := make(map[string]struct{}, samples)
	var firstNibble [16]int

	for i := 0; i < samples; i++ {
		key := mustDerive(t, stillRequest(map[string]any{"n": strconv.Itoa(i)}))
		keys[key] = struct{}{}
		n, err := strconv.ParseUint(key[:1], 16, 8)
		require.NoError(t, err)
		firstNibble[n]++
	}

	assert.Len(t, keys, samples, "every distinct request must get a distinct key")

	// Expect roughly 125 per bucket
	for i, count := range firstNibble {
		assert.InDelta(t, samples/16, count, 60, "bucket %x is skewed", i)
	}
}

func TestDerive_UnserializableProps(t *testing.T) {
	_, err := Derive(stillRequest(map[string]any{"bad": math.Inf(1)}))
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestCanonicalProps(t *testing.T) {
	got, err := CanonicalProps(map[string]any{"b": "<x>", "a": map[string]any{"d": 1, "c": 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"c":2,"d":1},"b":"<x>"}`, string(got))
}

func TestValid(t *testing.T) {
	assert.False(t, Valid("abc"))
	assert.False(t, Valid(string(make([]byte, KeyLength))))
	assert.True(t, Valid("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"))
}
