// Package yamlutil decodes configuration YAML strictly.
package yamlutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned for a document with no content
var ErrEmpty = errors.New("configuration is empty")

// "line 3: field slot not found in type configtypes.RenderConfig"
var unknownFieldRe = regexp.MustCompile(`^(line \d+): field (\S+) not found in type \S+$`)

// UnmarshalStrict decodes a single YAML document into v and rejects keys
// that v does not declare. Unknown-key errors are rewritten to name the
// key and its line.
func UnmarshalStrict(data []byte, v any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmpty
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%s", strings.Join(describe(typeErr.Errors), "; "))
		}
		return err
	}

	// A second document is almost always a stray "---"
	var extra yaml.Node
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("configuration must be a single YAML document")
	}

	return nil
}

func describe(msgs []string) []string {
	out := make([]string, len(msgs))
	for i, msg := range msgs {
		if m := unknownFieldRe.FindStringSubmatch(msg); m != nil {
			out[i] = fmt.Sprintf("%s: unknown field %q (check for typos)", m[1], m[2])
			continue
		}
		out[i] = msg
	}
	return out
}
