package requestid

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		pattern string // empty means a UUID is expected
	}{
		{name: "empty value", value: ""},
		{name: "only invalid characters", value: "@#$%^&*()"},
		{name: "plain id", value: "upload-42", pattern: `^[a-f0-9]{5}-upload-42$`},
		{name: "special characters stripped", value: "job@42#x!", pattern: `^[a-f0-9]{5}-job42x$`},
		{name: "spaces become hyphens", value: "render twibbon now", pattern: `^[a-f0-9]{5}-render-twibbon-now$`},
		{name: "hyphen runs collapsed and trimmed", value: "--a---b--", pattern: `^[a-f0-9]{5}-a-b$`},
		{name: "long value truncated", value: strings.Repeat("x", 80), pattern: `^[a-f0-9]{5}-x{30}$`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := FromHeader(tt.value)
			assert.LessOrEqual(t, len(id), maxLength)

			if tt.pattern == "" {
				_, err := uuid.Parse(id)
				assert.NoError(t, err, "expected UUID, got %q", id)
				return
			}
			assert.Regexp(t, regexp.MustCompile(tt.pattern), id)
		})
	}
}

func TestFromHeader_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		seen[FromHeader("same-client-id")] = struct{}{}
	}
	// 5 hex chars leave room for rare collisions
	assert.Greater(t, len(seen), 190)
}
