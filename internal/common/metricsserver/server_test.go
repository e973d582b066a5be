package metricsserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
)

type stubMetrics struct {
	called bool
}

func (m *stubMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	m.called = true
	ctx.SetBodyString("mediacache_renders_total 3\n")
}

func TestStart_Disabled(t *testing.T) {
	srv, err := Start(configtypes.MetricsConfig{Enabled: false}, &stubMetrics{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, srv)
}

func TestStart_ServesAndShutsDown(t *testing.T) {
	metrics := &stubMetrics{}
	srv, err := Start(configtypes.MetricsConfig{
		Enabled: true,
		Listen:  "127.0.0.1:0",
		Path:    "/metrics",
	}, metrics, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, srv)

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://" + srv.Addr() + "/metrics")
	// Avoid keep-alive so shutdown does not race an idle connection
	req.Header.SetConnectionClose()

	require.NoError(t, fasthttp.DoTimeout(req, resp, 2*time.Second))
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), "mediacache_renders_total 3")
	assert.True(t, metrics.called)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, srv.ShutdownWithContext(ctx))
}

func TestStart_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv, err := Start(configtypes.MetricsConfig{
		Enabled: true,
		Listen:  ln.Addr().String(),
		Path:    "/metrics",
	}, &stubMetrics{}, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, srv)
}

func TestHandler_Paths(t *testing.T) {
	tests := []struct {
		path       string
		wantStatus int
		wantCalled bool
	}{
		{path: "/internal/metrics", wantStatus: fasthttp.StatusOK, wantCalled: true},
		{path: "/metrics", wantStatus: fasthttp.StatusNotFound},
		{path: "/", wantStatus: fasthttp.StatusNotFound},
		{path: "/internal/metrics/extra", wantStatus: fasthttp.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			metrics := &stubMetrics{}
			handler := newHandler("/internal/metrics", metrics)

			ctx := &fasthttp.RequestCtx{}
			ctx.Request.SetRequestURI(tt.path)
			handler(ctx)

			assert.Equal(t, tt.wantStatus, ctx.Response.StatusCode())
			assert.Equal(t, tt.wantCalled, metrics.called)
		})
	}
}
