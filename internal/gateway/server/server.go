// Package server is the public HTTP surface of the media gateway.
package server

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
	"github.com/edgecomet/mediacache/internal/common/redis"
	"github.com/edgecomet/mediacache/internal/common/requestid"
	"github.com/edgecomet/mediacache/internal/gateway/clientip"
	"github.com/edgecomet/mediacache/internal/gateway/events"
	"github.com/edgecomet/mediacache/internal/gateway/orchestrator"
	"github.com/edgecomet/mediacache/internal/gateway/ratelimit"
	"github.com/edgecomet/mediacache/internal/gateway/reqctx"
	"github.com/edgecomet/mediacache/internal/gateway/staging"
	"github.com/edgecomet/mediacache/pkg/types"
)

const (
	pathHealth   = "/health"
	pathReady    = "/ready"
	staticPrefix = "/static/"

	headerCache = "X-Cache"

	// Bounds a rate limiter backend round trip, independent of the request
	limiterTimeout = 2 * time.Second
)

// Processor resolves render requests, implemented by *orchestrator.Orchestrator
type Processor interface {
	Process(ctx context.Context, rc *reqctx.RequestContext, req *types.RenderRequest, asset *staging.Asset) (*orchestrator.Result, error)
}

// Metrics is the subset of the metrics collector used by the server
type Metrics interface {
	RecordRequest(kind string, statusCode int, cacheResult string, duration time.Duration)
	RecordRateLimited()
	IncActiveRequests()
	DecActiveRequests()
}

type Server struct {
	processor   Processor
	staging     *staging.Area
	limiter     ratelimit.Limiter
	ipExtractor *clientip.Extractor
	metrics     Metrics
	redis       *redis.Client // optional, checked by /ready
	logger      *zap.Logger

	// Event logging, NoopEmitter if disabled
	eventEmitter events.Emitter

	waitBudget     time.Duration
	cacheRoot      string
	maxDiskPercent float64
	draining       atomic.Bool
}

func NewServer(
	cfg *configtypes.GatewayConfig,
	processor Processor,
	stagingArea *staging.Area,
	limiter ratelimit.Limiter,
	ipExtractor *clientip.Extractor,
	metricsCollector Metrics,
	eventEmitter events.Emitter,
	redisClient *redis.Client,
	logger *zap.Logger,
) *Server {
	if eventEmitter == nil {
		eventEmitter = events.NoopEmitter{}
	}
	return &Server{
		processor:      processor,
		staging:        stagingArea,
		limiter:        limiter,
		ipExtractor:    ipExtractor,
		metrics:        metricsCollector,
		redis:          redisClient,
		logger:         logger,
		eventEmitter:   eventEmitter,
		waitBudget:     time.Duration(cfg.Server.Timeout),
		cacheRoot:      cfg.Storage.CachePath,
		maxDiskPercent: cfg.Storage.MaxDiskUsedPercent,
	}
}

func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	requestID := requestid.FromHeader(string(ctx.Request.Header.Peek(requestid.HeaderName)))
	ctx.Response.Header.Set(requestid.HeaderName, requestID)

	path := string(ctx.Path())
	switch {
	case path == pathHealth:
		s.handleHealth(ctx)
	case path == pathReady:
		s.handleReady(ctx)
	case strings.HasPrefix(path, staticPrefix):
		s.handleStatic(ctx, strings.TrimPrefix(path, staticPrefix))
	default:
		rc := reqctx.New(requestID, ctx, s.logger, s.waitBudget)
		rc.WithClientIP(s.ipExtractor.Extract(ctx))
		s.handleRender(rc)
	}
}

// handleRender runs the rate limit, routing, upload staging and render steps
func (s *Server) handleRender(rc *reqctx.RequestContext) {
	ctx := rc.HTTPCtx

	s.metrics.IncActiveRequests()
	defer s.metrics.DecActiveRequests()

	if !s.allow(rc) {
		return
	}

	rt, reqErr := parseRoute(string(ctx.Method()), string(ctx.Path()))
	if reqErr != nil {
		if reqErr.allow != "" {
			ctx.Response.Header.Set("Allow", reqErr.allow)
		}
		s.handleRequestError(rc, reqErr.err, reqErr)
		return
	}
	rc.WithTarget(rt.compositionID, rt.kind, rt.format)
	rc.Logger.Debug("Render request received")

	req := &types.RenderRequest{
		CompositionID: rt.compositionID,
		Kind:          rt.kind,
		Format:        rt.format,
		InputProps:    queryProps(ctx.QueryArgs()),
	}

	var asset *staging.Asset
	if rt.kind == types.KindVideo {
		var err error
		asset, err = s.stageUpload(ctx)
		if err != nil {
			s.handleRequestError(rc, err, classify(err))
			return
		}
		req.Asset = asset.Ref()
		rc.Logger.Debug("Upload staged",
			zap.String("stored_filename", asset.StoredFilename),
			zap.Int64("size_bytes", asset.Size))
	}

	waitCtx, cancel := rc.Context()
	defer cancel()

	result, err := s.processor.Process(waitCtx, rc, req, asset)
	if err != nil {
		s.handleRequestError(rc, err, classify(err))
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(result.ContentType)
	ctx.Response.Header.Set(headerCache, string(result.CacheStatus))
	ctx.SetBody(result.Bytes)

	s.recordResult(rc, result)
}

// allow applies the rate limit. A limiter backend failure lets the request through.
func (s *Server) allow(rc *reqctx.RequestContext) bool {
	ctx := rc.HTTPCtx

	limitCtx, cancel := context.WithTimeout(context.Background(), limiterTimeout)
	defer cancel()

	decision, err := s.limiter.Allow(limitCtx, rc.ClientIP)
	if err != nil {
		rc.Logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
		return true
	}

	if decision.Limit > 0 {
		ctx.Response.Header.Set("X-RateLimit-Limit", itoa(decision.Limit))
		ctx.Response.Header.Set("X-RateLimit-Remaining", itoa(decision.Remaining))
	}
	if decision.Allowed {
		return true
	}

	ctx.Response.Header.Set("Retry-After", itoa(retryAfterSeconds(decision.ResetAfter)))
	s.metrics.RecordRateLimited()
	s.handleRequestError(rc, types.ErrTooManyRequests, &requestError{
		statusCode: fasthttp.StatusTooManyRequests,
		message:    "Too many requests, please try again later.",
		category:   "rate_limited",
		err:        types.ErrTooManyRequests,
	})
	return false
}

// recordResult records metrics and the access event for a served render
func (s *Server) recordResult(rc *reqctx.RequestContext, result *orchestrator.Result) {
	duration := rc.Elapsed()

	var source, cacheResult string
	switch result.CacheStatus {
	case orchestrator.CacheHit:
		source, cacheResult = events.SourceCache, "hit"
	case orchestrator.CacheShared:
		source, cacheResult = events.SourceShared, "shared"
	default:
		source, cacheResult = events.SourceRender, "miss"
	}

	s.metrics.RecordRequest(kindLabel(rc), fasthttp.StatusOK, cacheResult, duration)
	s.eventEmitter.Emit(events.BuildEvent(rc, events.Outcome{
		StatusCode: fasthttp.StatusOK,
		Source:     source,
		Size:       len(result.Bytes),
		RenderTime: result.RenderTime,
	}))

	rc.Logger.Info("Request completed",
		zap.String("source", source),
		zap.Int("bytes_served", len(result.Bytes)),
		zap.Duration("duration", duration))
}

// BeginShutdown makes /ready fail so load balancers stop routing here
func (s *Server) BeginShutdown() {
	s.draining.Store(true)
}

// Shutdown closes resources owned by the server
func (s *Server) Shutdown() error {
	if err := s.eventEmitter.Close(); err != nil {
		s.logger.Warn("Failed to close event emitter", zap.Error(err))
		return err
	}
	return nil
}

func kindLabel(rc *reqctx.RequestContext) string {
	if rc.Kind == "" {
		return "none"
	}
	return string(rc.Kind)
}
