// Package engine is the boundary to the external render engine. The gateway
// only sees Renderer and CompositionResolver; how pixels are produced is the
// engine's business.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgecomet/mediacache/pkg/types"
)

// ErrRenderEngine wraps every failure reported by the engine
var ErrRenderEngine = errors.New("render engine failure")

// Renderer writes one rendered artifact to outputPath
type Renderer interface {
	RenderStill(ctx context.Context, bundle *Bundle, composition string, props map[string]any, outputPath string, format types.OutputFormat) error
	RenderVideo(ctx context.Context, bundle *Bundle, composition string, props map[string]any, outputPath string, codec string) error
}

// Composition is one renderable definition exposed by the bundle
type Composition struct {
	ID string
}

// CompositionResolver lists the compositions a bundle provides for the given props
type CompositionResolver interface {
	ListCompositions(ctx context.Context, bundle *Bundle, props map[string]any) ([]Composition, error)
}

// RequireComposition returns a types.ErrBadRequest error when id is not provided by the bundle
func RequireComposition(ctx context.Context, resolver CompositionResolver, bundle *Bundle, id string, props map[string]any) error {
	comps, err := resolver.ListCompositions(ctx, bundle, props)
	if err != nil {
		return err
	}
	for _, c := range comps {
		if c.ID == id {
			return nil
		}
	}
	return fmt.Errorf("%w: no composition called %s", types.ErrBadRequest, id)
}

// Mux routes stills and videos to separately configured renderers
type Mux struct {
	Still Renderer
	Video Renderer
}

func (m *Mux) RenderStill(ctx context.Context, bundle *Bundle, composition string, props map[string]any, outputPath string, format types.OutputFormat) error {
	return m.Still.RenderStill(ctx, bundle, composition, props, outputPath, format)
}

func (m *Mux) RenderVideo(ctx context.Context, bundle *Bundle, composition string, props map[string]any, outputPath string, codec string) error {
	return m.Video.RenderVideo(ctx, bundle, composition, props, outputPath, codec)
}

// StaticResolver serves a fixed composition list from configuration
type StaticResolver struct {
	compositions []Composition
}

func NewStaticResolver(ids []string) *StaticResolver {
	comps := make([]Composition, len(ids))
	for i, id := range ids {
		comps[i] = Composition{ID: id}
	}
	return &StaticResolver{compositions: comps}
}

func (s *StaticResolver) ListCompositions(context.Context, *Bundle, map[string]any) ([]Composition, error) {
	return s.compositions, nil
}
