package events

import (
	"time"

	"github.com/edgecomet/mediacache/internal/gateway/reqctx"
)

// Outcome is what the dispatcher learned about a finished request
type Outcome struct {
	StatusCode   int
	Source       string
	Size         int
	RenderTime   time.Duration
	ErrorMessage string
}

// BuildEvent assembles the access event for a finished request
func BuildEvent(rc *reqctx.RequestContext, outcome Outcome) *AccessEvent {
	event := &AccessEvent{
		RequestID:     rc.RequestID,
		CompositionID: rc.CompositionID,
		Kind:          string(rc.Kind),
		Format:        string(rc.Format),
		CacheKey:      rc.CacheKey,
		ClientIP:      rc.ClientIP,
		StatusCode:    outcome.StatusCode,
		Source:        outcome.Source,
		Size:          outcome.Size,
		ServeTime:     rc.Elapsed().Seconds(),
		RenderTime:    outcome.RenderTime.Seconds(),
		ErrorMessage:  outcome.ErrorMessage,
		CreatedAt:     time.Now().UTC(),
	}

	if rc.HTTPCtx != nil {
		event.Method = string(rc.HTTPCtx.Method())
		event.Path = string(rc.HTTPCtx.Path())
		event.UserAgent = string(rc.HTTPCtx.UserAgent())
	}

	return event
}
