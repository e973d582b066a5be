package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/httputil"
)

const readyCheckTimeout = 2 * time.Second

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.Response.SetStatusCode(fasthttp.StatusOK)
	ctx.Response.SetBodyString("OK")
}

// readiness is the /ready body
type readiness struct {
	Status          string  `json:"status"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
	Redis           string  `json:"redis,omitempty"`
}

// handleReady reports whether this instance should receive traffic: not
// shutting down, room on the cache volume, and Redis reachable when used.
func (s *Server) handleReady(ctx *fasthttp.RequestCtx) {
	if s.draining.Load() {
		writeError(ctx, fasthttp.StatusServiceUnavailable, "Shutting down")
		return
	}

	usage, err := disk.Usage(s.cacheRoot)
	if err != nil {
		s.logger.Warn("Cache volume usage unavailable", zap.String("path", s.cacheRoot), zap.Error(err))
		writeError(ctx, fasthttp.StatusServiceUnavailable, "Cache volume not available")
		return
	}
	if s.maxDiskPercent > 0 && usage.UsedPercent >= s.maxDiskPercent {
		writeError(ctx, fasthttp.StatusServiceUnavailable, "Cache volume is full")
		return
	}

	status := readiness{Status: "ready", DiskUsedPercent: usage.UsedPercent}

	if s.redis != nil {
		checkCtx, cancel := context.WithTimeout(context.Background(), readyCheckTimeout)
		defer cancel()
		if err := s.redis.HealthCheck(checkCtx); err != nil {
			writeError(ctx, fasthttp.StatusServiceUnavailable, "Redis not available")
			return
		}
		status.Redis = "ok"
	}

	httputil.WriteJSON(ctx, fasthttp.StatusOK, status)
}

// handleStatic serves stored uploads verbatim so compositions can load them
func (s *Server) handleStatic(ctx *fasthttp.RequestCtx, name string) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Response.Header.Set("Allow", "GET, HEAD")
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !validStaticName(name) {
		writeError(ctx, fasthttp.StatusNotFound, "File not found")
		return
	}

	path := filepath.Join(s.staging.UploadsDir(), name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		writeError(ctx, fasthttp.StatusNotFound, "File not found")
		return
	}

	ctx.SendFile(path)
}

// validStaticName accepts a single path element that is not hidden
func validStaticName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

func writeError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	httputil.WriteProblem(ctx, statusCode, message)
}
