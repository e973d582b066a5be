package clientip

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/edgecomet/mediacache/pkg/types"
)

// Extractor resolves the client identity used for rate limiting and event logs
type Extractor struct {
	headers     []string
	trustedHops int
}

// NewExtractor builds an extractor from config. A nil config uses RemoteAddr only.
func NewExtractor(cfg *types.ClientIPConfig) *Extractor {
	if cfg == nil {
		return &Extractor{}
	}
	return &Extractor{headers: cfg.Headers, trustedHops: cfg.TrustedHops}
}

// Extract returns the client IP from the first configured header that yields one,
// falling back to the connection's remote address.
func (e *Extractor) Extract(ctx *fasthttp.RequestCtx) string {
	for _, header := range e.headers {
		value := strings.TrimSpace(string(ctx.Request.Header.Peek(header)))
		if value == "" {
			continue
		}
		if ip := e.pick(value); ip != "" {
			return ip
		}
	}
	return parseRemoteAddr(ctx.RemoteAddr().String())
}

// pick selects one address from a possibly comma-separated header value
func (e *Extractor) pick(value string) string {
	parts := strings.Split(value, ",")

	idx := 0
	if e.trustedHops > 0 {
		idx = len(parts) - e.trustedHops
		if idx < 0 {
			idx = 0
		}
	}

	candidate := strings.TrimSpace(parts[idx])
	if candidate == "" {
		return ""
	}
	return normalizeIP(candidate)
}

func parseRemoteAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return normalizeIP(addr)
	}
	return normalizeIP(host)
}

func normalizeIP(raw string) string {
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	if idx := strings.IndexByte(raw, '%'); idx >= 0 {
		raw = raw[:idx]
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	return ip.String()
}
