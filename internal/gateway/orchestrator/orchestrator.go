// Package orchestrator runs one render request through key derivation, the
// shared render coordinator and the engine.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/gateway/coordinator"
	"github.com/edgecomet/mediacache/internal/gateway/keyhash"
	"github.com/edgecomet/mediacache/internal/gateway/reqctx"
	"github.com/edgecomet/mediacache/internal/gateway/staging"
	"github.com/edgecomet/mediacache/internal/render/engine"
	"github.com/edgecomet/mediacache/pkg/types"
)

// CacheStatus is reported to clients in the X-Cache header
type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"   // this request led the render
	CacheShared CacheStatus = "SHARED" // this request joined another request's render
)

// Metrics is the subset of the metrics collector the orchestrator reports to
type Metrics interface {
	RecordCacheLookup(result string)
}

// Coordinator is implemented by *coordinator.Coordinator
type Coordinator interface {
	GetOrRender(ctx context.Context, key string, render coordinator.RenderFunc, release func()) (*coordinator.Result, error)
}

// Result is a successfully served render request
type Result struct {
	Bytes       []byte
	ContentType string
	CacheStatus CacheStatus
	RenderTime  time.Duration
}

type Config struct {
	VideoCodec string
}

type Orchestrator struct {
	coord    Coordinator
	staging  *staging.Area
	renderer engine.Renderer
	resolver engine.CompositionResolver
	bundle   *engine.Bundle
	codec    string
	metrics  Metrics
}

func New(
	cfg Config,
	coord Coordinator,
	stagingArea *staging.Area,
	renderer engine.Renderer,
	resolver engine.CompositionResolver,
	bundle *engine.Bundle,
	metrics Metrics,
) *Orchestrator {
	codec := cfg.VideoCodec
	if codec == "" {
		codec = types.DefaultVideoCodec
	}
	return &Orchestrator{
		coord:    coord,
		staging:  stagingArea,
		renderer: renderer,
		resolver: resolver,
		bundle:   bundle,
		codec:    codec,
		metrics:  metrics,
	}
}

// Process serves req from cache or renders it. asset, when non-nil, belongs
// to this request and is released exactly once whatever the outcome: after the
// render for the request that leads it, earlier for hits and joins.
func (o *Orchestrator) Process(ctx context.Context, rc *reqctx.RequestContext, req *types.RenderRequest, asset *staging.Asset) (*Result, error) {
	release := func() {}
	if asset != nil {
		release = asset.Release
	}

	if err := req.Validate(); err != nil {
		release()
		return nil, err
	}

	key, err := keyhash.Derive(req)
	if err != nil {
		release()
		return nil, err
	}
	rc.WithCacheKey(key)

	res, err := o.coord.GetOrRender(ctx, key, o.renderFunc(rc, req), release)
	if err != nil {
		return nil, err
	}

	status := cacheStatus(res.Outcome)
	o.metrics.RecordCacheLookup(metricResult(status))

	rc.Logger.Debug("Render request resolved",
		zap.String("cache_status", string(status)),
		zap.Int("size", len(res.Bytes)),
		zap.Duration("render_time", res.RenderTime))

	return &Result{
		Bytes:       res.Bytes,
		ContentType: req.Format.ContentType(),
		CacheStatus: status,
		RenderTime:  res.RenderTime,
	}, nil
}

// renderFunc checks the composition exists, renders into a reserved staging
// file and returns its bytes. The staging file is always deleted.
func (o *Orchestrator) renderFunc(rc *reqctx.RequestContext, req *types.RenderRequest) coordinator.RenderFunc {
	return func(ctx context.Context) ([]byte, error) {
		props := req.RendererProps()

		if err := engine.RequireComposition(ctx, o.resolver, o.bundle, req.CompositionID, props); err != nil {
			return nil, err
		}

		out := o.staging.TemporaryOutput(req.Format)
		defer out.Release()

		rc.Logger.Info("Rendering", zap.String("output", out.Path()))

		var err error
		switch req.Kind {
		case types.KindVideo:
			err = o.renderer.RenderVideo(ctx, o.bundle, req.CompositionID, props, out.Path(), o.codec)
		default:
			err = o.renderer.RenderStill(ctx, o.bundle, req.CompositionID, props, out.Path(), req.Format)
		}
		if err != nil {
			return nil, err
		}

		data, err := os.ReadFile(out.Path())
		if err != nil {
			return nil, fmt.Errorf("%w: reading rendered output: %v", engine.ErrRenderEngine, err)
		}
		return data, nil
	}
}

func cacheStatus(outcome coordinator.Outcome) CacheStatus {
	switch outcome {
	case coordinator.OutcomeHit:
		return CacheHit
	case coordinator.OutcomeJoined:
		return CacheShared
	default:
		return CacheMiss
	}
}

func metricResult(status CacheStatus) string {
	switch status {
	case CacheHit:
		return "hit"
	case CacheShared:
		return "shared"
	default:
		return "miss"
	}
}
