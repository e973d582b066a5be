package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/mediacache/pkg/types"
)

func TestCompress_RoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("The quick brown fox jumps over the lazy dog. "), 50)

	for _, algorithm := range []string{types.CompressionSnappy, types.CompressionLZ4} {
		t.Run(algorithm, func(t *testing.T) {
			compressed, ext, err := Compress(original, algorithm)
			require.NoError(t, err)
			assert.NotEmpty(t, ext)
			assert.Less(t, len(compressed), len(original))

			decompressed, err := Decompress(compressed, "entry.bin"+ext)
			require.NoError(t, err)
			assert.Equal(t, original, decompressed)
		})
	}
}

func TestCompress_Skipped(t *testing.T) {
	small := []byte("below threshold")
	out, ext, err := Compress(small, types.CompressionLZ4)
	require.NoError(t, err)
	assert.Empty(t, ext)
	assert.Equal(t, small, out)

	large := bytes.Repeat([]byte("a"), types.CompressionMinSize)
	out, ext, err = Compress(large, "unknown")
	require.NoError(t, err)
	assert.Empty(t, ext)
	assert.Equal(t, large, out)
}

func TestDecompress_Errors(t *testing.T) {
	_, err := Decompress([]byte("garbage"), "x.bin.lz4")
	assert.ErrorIs(t, err, ErrDecompression)

	out, err := Decompress([]byte("plain"), "x.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), out)
}
