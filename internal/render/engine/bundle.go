package engine

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
)

// Bundle is the composition bundle handed to the engine. It is built once at
// startup and never changes for the life of the process.
type Bundle struct {
	location string
	builtAt  time.Time
}

// Location is the serve URL or directory passed to the engine
func (b *Bundle) Location() string {
	return b.location
}

func (b *Bundle) BuiltAt() time.Time {
	return b.builtAt
}

// NewBundle wraps an already built bundle
func NewBundle(location string) *Bundle {
	return &Bundle{location: location, builtAt: time.Now()}
}

// BuildBundle runs the optional build command and returns the bundle handle
func BuildBundle(ctx context.Context, cfg configtypes.BundleConfig, logger *zap.Logger) (*Bundle, error) {
	if cfg.Location == "" {
		return nil, fmt.Errorf("bundle location is required")
	}

	if len(cfg.BuildCommand) > 0 {
		if timeout := time.Duration(cfg.BuildTimeout); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		logger.Info("Building composition bundle", zap.Strings("command", cfg.BuildCommand))
		start := time.Now()

		cmd := exec.CommandContext(ctx, cfg.BuildCommand[0], cfg.BuildCommand[1:]...)
		if output, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("%w: bundle build failed: %v: %s", ErrRenderEngine, err, tail(output))
		}

		logger.Info("Composition bundle built",
			zap.String("location", cfg.Location),
			zap.Duration("duration", time.Since(start)))
	}

	return NewBundle(cfg.Location), nil
}
