package reqctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/edgecomet/mediacache/pkg/types"
)

func TestRequestContext_LoggerFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	rc := New("req-1", &fasthttp.RequestCtx{}, zap.New(core), time.Minute)

	rc.WithClientIP("203.0.113.9").
		WithTarget("Twibbon", types.KindStill, types.FormatPNG).
		WithCacheKey("abc")
	rc.Logger.Info("done")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "203.0.113.9", fields["client_ip"])
	assert.Equal(t, "Twibbon", fields["composition_id"])
	assert.Equal(t, "png", fields["format"])
	assert.Equal(t, "abc", fields["cache_key"])

	assert.Equal(t, types.KindStill, rc.Kind)
	assert.Equal(t, "abc", rc.CacheKey)
}

func TestRequestContext_Budget(t *testing.T) {
	rc := New("req-1", &fasthttp.RequestCtx{}, zap.NewNop(), time.Minute)
	assert.Greater(t, rc.TimeRemaining(), 59*time.Second)

	ctx, cancel := rc.Context()
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, rc.StartTime().Add(time.Minute), deadline, time.Second)
}

func TestRequestContext_ExhaustedBudget(t *testing.T) {
	rc := New("req-1", &fasthttp.RequestCtx{}, zap.NewNop(), time.Nanosecond)
	time.Sleep(time.Millisecond)

	assert.Zero(t, rc.TimeRemaining())
	ctx, cancel := rc.Context()
	defer cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Greater(t, rc.Elapsed(), time.Duration(0))
}
