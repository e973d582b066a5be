package events

import "time"

// Source values describe where the response bytes came from
const (
	SourceCache    = "cache"    // cache hit
	SourceRender   = "render"   // this request led the render
	SourceShared   = "shared"   // this request joined another request's render
	SourceRejected = "rejected" // failed before a lookup (bad request, rate limit)
	SourceError    = "error"    // lookup or render failed
)

// AccessEvent is one line of the access event log
type AccessEvent struct {
	RequestID     string    `json:"request_id"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	CompositionID string    `json:"composition_id"`
	Kind          string    `json:"kind"`
	Format        string    `json:"format"`
	CacheKey      string    `json:"cache_key"`
	ClientIP      string    `json:"client_ip"`
	UserAgent     string    `json:"user_agent"`
	StatusCode    int       `json:"status_code"`
	Source        string    `json:"source"`
	Size          int       `json:"size"`
	ServeTime     float64   `json:"serve_time"`  // seconds
	RenderTime    float64   `json:"render_time"` // seconds, zero unless rendered
	ErrorMessage  string    `json:"error_message"`
	CreatedAt     time.Time `json:"created_at"`
}

// Emitter writes access events. Emit never blocks the request on I/O errors.
type Emitter interface {
	Emit(event *AccessEvent)
	Close() error
}

// NoopEmitter is used when event logging is disabled
type NoopEmitter struct{}

func (NoopEmitter) Emit(*AccessEvent) {}
func (NoopEmitter) Close() error      { return nil }
