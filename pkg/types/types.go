package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientIPConfig selects the headers that carry the caller's address when the
// gateway sits behind proxies. With TrustedHops N the client is the N-th
// address from the right of a comma-separated header; zero takes the leftmost.
type ClientIPConfig struct {
	Headers     []string `yaml:"headers,omitempty"`
	TrustedHops int      `yaml:"trusted_hops,omitempty"`
}

// Cache entry compression
const (
	CompressionNone   = "none" // media formats are already compressed
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// File suffixes of compressed cache entries
const (
	ExtSnappy = ".snappy"
	ExtLZ4    = ".lz4"
)

// CompressionMinSize is the smallest entry worth compressing, in bytes
const CompressionMinSize = 1024

// Duration is a config duration. Besides time.ParseDuration syntax it takes
// leading day and week components: "30d", "2w", "1d12h", "1.5d".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

var calendarUnits = []struct {
	suffix byte
	unit   time.Duration
}{
	{'w', 7 * 24 * time.Hour},
	{'d', 24 * time.Hour},
}

// ParseDuration parses time.ParseDuration syntax extended with w and d units.
// Weeks and days must precede the standard units.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var total time.Duration
	for _, cu := range calendarUnits {
		i := strings.IndexByte(s, cu.suffix)
		if i <= 0 {
			continue
		}
		n, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", orig)
		}
		total += time.Duration(n * float64(cu.unit))
		s = s[i+1:]
	}

	if s != "" {
		rest, err := time.ParseDuration(s)
		if err != nil || rest < 0 {
			return 0, fmt.Errorf("invalid duration %q", orig)
		}
		total += rest
	} else if total == 0 && !strings.ContainsAny(orig, "dw") {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}

	if neg {
		total = -total
	}
	return total, nil
}
