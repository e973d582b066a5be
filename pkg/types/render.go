package types

import (
	"fmt"
	"strings"
)

// RenderKind distinguishes single-frame renders from encoded video renders
type RenderKind string

const (
	KindStill RenderKind = "still"
	KindVideo RenderKind = "video"
)

// OutputFormat is the normalized output container/image format
type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatMP4  OutputFormat = "mp4"
)

// DefaultVideoCodec is the codec requested from the engine for mp4 output
const DefaultVideoCodec = "h264"

// ParseStillFormat maps a URL extension to an image format.
// jpg and jpeg are the same format and produce the same cache key.
func ParseStillFormat(ext string) (OutputFormat, error) {
	switch strings.ToLower(ext) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("%w: unsupported image format %q", ErrBadRequest, ext)
	}
}

// ContentType returns the MIME type served for the format
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatMP4:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension (without dot) used for outputs of this format
func (f OutputFormat) Extension() string {
	return string(f)
}

// StagedAssetRef is the part of an uploaded asset that identifies it for key derivation
// and for the renderer. The file itself is owned by the staging area.
type StagedAssetRef struct {
	StoredFilename string // name under the uploads root, exposed via /static
	StoredPath     string // absolute path of the stored upload
	ContentDigest  string // hex SHA-256 of the uploaded bytes
}

// RenderRequest describes one render. It is treated as immutable once built.
type RenderRequest struct {
	CompositionID string
	Kind          RenderKind
	Format        OutputFormat
	InputProps    map[string]any
	Asset         *StagedAssetRef
}

// Validate checks the request shape before any cache or render work
func (r *RenderRequest) Validate() error {
	if r.CompositionID == "" {
		return fmt.Errorf("%w: composition id is required", ErrBadRequest)
	}

	switch r.Kind {
	case KindStill:
		if r.Format != FormatPNG && r.Format != FormatJPEG {
			return fmt.Errorf("%w: still format must be png or jpeg, got %q", ErrBadRequest, r.Format)
		}
	case KindVideo:
		if r.Format != FormatMP4 {
			return fmt.Errorf("%w: video format must be mp4, got %q", ErrBadRequest, r.Format)
		}
		if r.Asset == nil {
			return fmt.Errorf("%w: no image uploaded", ErrBadRequest)
		}
	default:
		return fmt.Errorf("%w: unknown render kind %q", ErrBadRequest, r.Kind)
	}

	return nil
}

// RendererProps returns the props handed to the engine. For video renders the stored
// asset filename is exposed as "images" so the composition can load it from /static.
// The returned map is a copy; the request itself is never mutated.
func (r *RenderRequest) RendererProps() map[string]any {
	props := make(map[string]any, len(r.InputProps)+1)
	for k, v := range r.InputProps {
		props[k] = v
	}
	if r.Asset != nil {
		props["images"] = r.Asset.StoredFilename
	}
	return props
}
