// Package httputil writes the gateway's JSON side-channel responses:
// errors, readiness and other service endpoints. Rendered media never goes
// through here, so clients can tell a failure apart by content type alone.
package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/edgecomet/mediacache/internal/common/requestid"
)

const contentTypeJSON = "application/json"

// Problem is the body of every failed request
type Problem struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteProblem writes a Problem. The request id is taken from the response
// header when the handler already assigned one.
func WriteProblem(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	WriteJSON(ctx, statusCode, Problem{
		Status:    statusCode,
		Error:     message,
		RequestID: string(ctx.Response.Header.Peek(requestid.HeaderName)),
	})
}

// WriteJSON encodes v as the response body
func WriteJSON(ctx *fasthttp.RequestCtx, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		statusCode = fasthttp.StatusInternalServerError
		body = []byte(`{"status":500,"error":"Response encoding failed"}`)
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType(contentTypeJSON)
	ctx.SetBody(body)
}

// ParseProblem decodes a Problem body, for clients and tests
func ParseProblem(body []byte) (Problem, error) {
	var p Problem
	err := json.Unmarshal(body, &p)
	return p, err
}
