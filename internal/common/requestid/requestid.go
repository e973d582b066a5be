package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// HeaderName carries the request id on both the request and the response
const HeaderName = "X-Request-ID"

const (
	maxLength    = 36 // same as a UUID
	prefixLength = 5
	maxCustomLen = maxLength - prefixLength - 1
)

var (
	invalidChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	hyphenRuns   = regexp.MustCompile(`-{2,}`)
)

// New returns a fresh random request id
func New() string {
	return uuid.New().String()
}

// FromHeader derives a request id from a client-supplied header value.
// The value is reduced to [a-zA-Z0-9-] and prefixed with 5 random hex chars,
// so two clients reusing the same id still get distinct log lines.
// An empty or fully invalid value yields a new UUID.
func FromHeader(value string) string {
	cleaned := invalidChars.ReplaceAllString(strings.ReplaceAll(value, " ", "-"), "")
	cleaned = strings.Trim(hyphenRuns.ReplaceAllString(cleaned, "-"), "-")
	if cleaned == "" {
		return New()
	}

	if len(cleaned) > maxCustomLen {
		cleaned = cleaned[:maxCustomLen]
	}

	return randomPrefix() + "-" + cleaned
}

func randomPrefix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return New()[:prefixLength]
	}
	return hex.EncodeToString(buf)[:prefixLength]
}
