package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/edgecomet/mediacache/pkg/types"
)

// ErrDecompression is returned when a stored entry cannot be decoded
var ErrDecompression = errors.New("decompression failed")

// compressedExtensions lists every suffix an entry file may carry, uncompressed first
var compressedExtensions = []string{"", types.ExtSnappy, types.ExtLZ4}

// Compress encodes content with the given algorithm and returns the file suffix to use.
// Content under CompressionMinSize is stored as-is with an empty suffix.
func Compress(content []byte, algorithm string) ([]byte, string, error) {
	if len(content) < types.CompressionMinSize {
		return content, "", nil
	}

	switch algorithm {
	case types.CompressionSnappy:
		return snappy.Encode(nil, content), types.ExtSnappy, nil

	case types.CompressionLZ4:
		// Stream format embeds the size
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			_ = w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), types.ExtLZ4, nil

	default:
		return content, "", nil
	}
}

// Decompress decodes content according to the suffix of filePath
func Decompress(content []byte, filePath string) ([]byte, error) {
	switch algorithmFromPath(filePath) {
	case types.CompressionSnappy:
		decoded, err := snappy.Decode(nil, content)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return decoded, nil

	case types.CompressionLZ4:
		decoded, err := io.ReadAll(lz4.NewReader(bytes.NewReader(content)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return decoded, nil

	default:
		return content, nil
	}
}

func algorithmFromPath(filePath string) string {
	switch {
	case strings.HasSuffix(filePath, types.ExtSnappy):
		return types.CompressionSnappy
	case strings.HasSuffix(filePath, types.ExtLZ4):
		return types.CompressionLZ4
	default:
		return types.CompressionNone
	}
}
