package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/gateway/coordinator"
	"github.com/edgecomet/mediacache/internal/gateway/events"
	"github.com/edgecomet/mediacache/internal/gateway/reqctx"
	"github.com/edgecomet/mediacache/internal/gateway/staging"
	"github.com/edgecomet/mediacache/internal/render/engine"
	"github.com/edgecomet/mediacache/pkg/types"
)

// uploadField is the multipart field carrying the video asset
const uploadField = "image"

var (
	errNotFound     = errors.New("endpoint not found")
	errNoUpload     = fmt.Errorf("%w: no image uploaded", types.ErrBadRequest)
	errUploadFailed = errors.New("failed to store upload")
)

// requestError represents an error with HTTP status code and metrics category
type requestError struct {
	statusCode int
	message    string
	category   string
	allow      string // Allow header for 405 responses
	err        error
}

// route is a parsed render path
type route struct {
	compositionID string
	kind          types.RenderKind
	format        types.OutputFormat
}

// parseRoute maps "/{compositionId}.{ext}" to a render target:
// POST .mp4 is a video, GET/HEAD .png/.jpg/.jpeg is a still.
func parseRoute(method, path string) (*route, *requestError) {
	name := strings.TrimPrefix(path, "/")
	dot := strings.LastIndexByte(name, '.')
	if name == "" || strings.Contains(name, "/") || dot <= 0 {
		return nil, &requestError{
			statusCode: fasthttp.StatusNotFound,
			message:    "Endpoint not found",
			category:   "not_found",
			err:        errNotFound,
		}
	}

	id, ext := name[:dot], strings.ToLower(name[dot+1:])

	if ext == string(types.FormatMP4) {
		if method != fasthttp.MethodPost {
			return nil, methodNotAllowed(method, fasthttp.MethodPost)
		}
		return &route{compositionID: id, kind: types.KindVideo, format: types.FormatMP4}, nil
	}

	format, err := types.ParseStillFormat(ext)
	if err != nil {
		return nil, classify(err)
	}
	if method != fasthttp.MethodGet && method != fasthttp.MethodHead {
		return nil, methodNotAllowed(method, "GET, HEAD")
	}
	return &route{compositionID: id, kind: types.KindStill, format: format}, nil
}

func methodNotAllowed(method, allow string) *requestError {
	return &requestError{
		statusCode: fasthttp.StatusMethodNotAllowed,
		message:    "Method not allowed",
		category:   "method_not_allowed",
		allow:      allow,
		err:        fmt.Errorf("method %s not allowed", method),
	}
}

// queryProps turns query parameters into render props. A key given once maps
// to its string value; a repeated key maps to the list of its values in order.
func queryProps(args *fasthttp.Args) map[string]any {
	props := make(map[string]any, args.Len())
	args.VisitAll(func(k, v []byte) {
		key, value := string(k), string(v)
		switch current := props[key].(type) {
		case nil:
			props[key] = value
		case string:
			props[key] = []any{current, value}
		case []any:
			props[key] = append(current, value)
		}
	})
	return props
}

// stageUpload stores the multipart asset. A request that is not multipart or
// lacks the field gets errNoUpload.
func (s *Server) stageUpload(ctx *fasthttp.RequestCtx) (*staging.Asset, error) {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return nil, errNoUpload
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUploadFailed, err)
	}
	defer f.Close()

	asset, err := s.staging.StageUpload(fh.Filename, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUploadFailed, err)
	}
	return asset, nil
}

// classify maps a pipeline error to its HTTP response
func classify(err error) *requestError {
	reqErr := &requestError{err: err}

	switch {
	case errors.Is(err, types.ErrBadRequest):
		reqErr.statusCode, reqErr.category = fasthttp.StatusBadRequest, "bad_request"
		reqErr.message = badRequestMessage(err)
	case errors.Is(err, types.ErrTooManyRequests):
		reqErr.statusCode, reqErr.category = fasthttp.StatusTooManyRequests, "rate_limited"
		reqErr.message = "Too many requests, please try again later."
	case errors.Is(err, coordinator.ErrShuttingDown):
		reqErr.statusCode, reqErr.category = fasthttp.StatusServiceUnavailable, "shutting_down"
		reqErr.message = "Server is shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		reqErr.statusCode, reqErr.category = fasthttp.StatusGatewayTimeout, "wait_timeout"
		reqErr.message = "Render did not finish in time, try again later"
	case errors.Is(err, engine.ErrRenderEngine), errors.Is(err, coordinator.ErrRenderPanic):
		reqErr.statusCode, reqErr.category = fasthttp.StatusInternalServerError, "render_error"
		reqErr.message = "Render failed"
	case errors.Is(err, types.ErrCacheIO):
		reqErr.statusCode, reqErr.category = fasthttp.StatusInternalServerError, "cache_error"
		reqErr.message = "Cache failure"
	case errors.Is(err, errUploadFailed):
		reqErr.statusCode, reqErr.category = fasthttp.StatusInternalServerError, "upload_error"
		reqErr.message = "Failed to store upload"
	default:
		reqErr.statusCode, reqErr.category = fasthttp.StatusInternalServerError, "internal_error"
		reqErr.message = "Internal server error"
	}

	return reqErr
}

// badRequestMessage strips the error class prefix: "bad request: no image
// uploaded" becomes "No image uploaded".
func badRequestMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), types.ErrBadRequest.Error()+": ")
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return "Bad request"
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

// handleRequestError writes the error response, logs, records metrics and emits the event
func (s *Server) handleRequestError(rc *reqctx.RequestContext, err error, reqErr *requestError) {
	if reqErr.statusCode >= fasthttp.StatusInternalServerError {
		rc.Logger.Error("Request failed", zap.Error(err), zap.String("category", reqErr.category))
	} else {
		rc.Logger.Warn("Request rejected", zap.Error(err), zap.String("category", reqErr.category))
	}

	writeError(rc.HTTPCtx, reqErr.statusCode, reqErr.message)

	source := events.SourceError
	if reqErr.statusCode < fasthttp.StatusInternalServerError {
		source = events.SourceRejected
	}

	s.metrics.RecordRequest(kindLabel(rc), reqErr.statusCode, "", rc.Elapsed())
	s.eventEmitter.Emit(events.BuildEvent(rc, events.Outcome{
		StatusCode:   reqErr.statusCode,
		Source:       source,
		ErrorMessage: err.Error(),
	}))
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
