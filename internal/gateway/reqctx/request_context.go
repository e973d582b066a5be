package reqctx

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/pkg/types"
)

// RequestContext carries per-request state through the dispatch pipeline.
// startTime and budget are immutable after creation, so TimeRemaining is safe
// to call from multiple goroutines.
type RequestContext struct {
	RequestID string
	Logger    *zap.Logger
	HTTPCtx   *fasthttp.RequestCtx

	startTime time.Time
	budget    time.Duration

	ClientIP      string
	CompositionID string
	Kind          types.RenderKind
	Format        types.OutputFormat
	CacheKey      string
}

// New creates a request context. budget bounds how long the client waits for
// a result, including time spent queued behind other renders.
func New(requestID string, httpCtx *fasthttp.RequestCtx, baseLogger *zap.Logger, budget time.Duration) *RequestContext {
	return &RequestContext{
		RequestID: requestID,
		Logger:    baseLogger.With(zap.String("request_id", requestID)),
		HTTPCtx:   httpCtx,
		startTime: time.Now().UTC(),
		budget:    budget,
	}
}

func (rc *RequestContext) WithClientIP(ip string) *RequestContext {
	rc.ClientIP = ip
	rc.Logger = rc.Logger.With(zap.String("client_ip", ip))
	return rc
}

// WithTarget records what is being rendered
func (rc *RequestContext) WithTarget(compositionID string, kind types.RenderKind, format types.OutputFormat) *RequestContext {
	rc.CompositionID = compositionID
	rc.Kind = kind
	rc.Format = format
	rc.Logger = rc.Logger.With(
		zap.String("composition_id", compositionID),
		zap.String("format", string(format)))
	return rc
}

func (rc *RequestContext) WithCacheKey(key string) *RequestContext {
	rc.CacheKey = key
	rc.Logger = rc.Logger.With(zap.String("cache_key", key))
	return rc
}

func (rc *RequestContext) StartTime() time.Time {
	return rc.startTime
}

// Elapsed is the time since the request arrived
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.startTime)
}

// TimeRemaining returns how much of the wait budget is left
func (rc *RequestContext) TimeRemaining() time.Duration {
	remaining := rc.budget - time.Now().UTC().Sub(rc.startTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Context returns a context bounded by the remaining wait budget
func (rc *RequestContext) Context() (context.Context, context.CancelFunc) {
	remaining := rc.TimeRemaining()
	if remaining <= 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx, cancel
	}
	return context.WithTimeout(context.Background(), remaining)
}
