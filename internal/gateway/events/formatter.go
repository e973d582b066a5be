package events

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldFormatters maps each placeholder to the value it renders
var fieldFormatters = map[string]func(*AccessEvent) string{
	"timestamp":      func(e *AccessEvent) string { return e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z") },
	"request_id":     func(e *AccessEvent) string { return quote(e.RequestID) },
	"method":         func(e *AccessEvent) string { return quote(e.Method) },
	"path":           func(e *AccessEvent) string { return quote(e.Path) },
	"composition_id": func(e *AccessEvent) string { return quote(e.CompositionID) },
	"kind":           func(e *AccessEvent) string { return quote(e.Kind) },
	"format":         func(e *AccessEvent) string { return quote(e.Format) },
	"cache_key":      func(e *AccessEvent) string { return quote(e.CacheKey) },
	"client_ip":      func(e *AccessEvent) string { return quote(e.ClientIP) },
	"user_agent":     func(e *AccessEvent) string { return quote(e.UserAgent) },
	"status_code":    func(e *AccessEvent) string { return strconv.Itoa(e.StatusCode) },
	"source":         func(e *AccessEvent) string { return quote(e.Source) },
	"size":           func(e *AccessEvent) string { return strconv.Itoa(e.Size) },
	"serve_time":     func(e *AccessEvent) string { return strconv.FormatFloat(e.ServeTime, 'f', 3, 64) },
	"render_time":    func(e *AccessEvent) string { return strconv.FormatFloat(e.RenderTime, 'f', 3, 64) },
	"error_message":  func(e *AccessEvent) string { return quote(e.ErrorMessage) },
}

// segment is either literal text or a field placeholder
type segment struct {
	literal string
	field   func(*AccessEvent) string
}

// TemplateFormatter renders events with a "{field}" template
type TemplateFormatter struct {
	template string
	segments []segment
}

// NewTemplateFormatter parses the template and rejects unknown placeholders
func NewTemplateFormatter(template string) (*TemplateFormatter, error) {
	if template == "" {
		return nil, fmt.Errorf("template cannot be empty")
	}

	var segments []segment
	rest := template
	offset := 0
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("unclosed placeholder at position %d", offset+open)
		}
		name := rest[open+1 : open+closing]
		if name == "" {
			return nil, fmt.Errorf("empty placeholder at position %d", offset+open)
		}
		fn, ok := fieldFormatters[name]
		if !ok {
			return nil, fmt.Errorf("unknown placeholder {%s}", name)
		}

		if open > 0 {
			segments = append(segments, segment{literal: rest[:open]})
		}
		segments = append(segments, segment{field: fn})

		offset += open + closing + 1
		rest = rest[open+closing+1:]
	}
	if rest != "" {
		segments = append(segments, segment{literal: rest})
	}

	return &TemplateFormatter{template: template, segments: segments}, nil
}

// Template returns the source template
func (f *TemplateFormatter) Template() string {
	return f.template
}

// Format renders one event
func (f *TemplateFormatter) Format(event *AccessEvent) string {
	var b strings.Builder
	for _, s := range f.segments {
		if s.field != nil {
			b.WriteString(s.field(event))
		} else {
			b.WriteString(s.literal)
		}
	}
	return b.String()
}

var logEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\t", `\t`,
	"\r", `\r`,
)

// quote renders strings quoted and escaped so tab-separated lines stay parseable; empty is "-"
func quote(s string) string {
	if s == "" {
		return "-"
	}
	return `"` + logEscaper.Replace(s) + `"`
}
