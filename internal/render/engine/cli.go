package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
	"github.com/edgecomet/mediacache/pkg/types"
)

const (
	maxErrorOutput = 2048
	killGrace      = 5 * time.Second
)

// CLI drives the engine's command line:
//
//	<binary> <base args> still <bundle> <composition> <output> --props=<json> --image-format=<fmt>
//	<binary> <base args> render <bundle> <composition> <output> --props=<json> --codec=<codec>
//	<binary> <base args> compositions <bundle> --props=<json> --quiet
//
// It implements both Renderer and CompositionResolver.
type CLI struct {
	binary   string
	baseArgs []string
	env      []string
	logger   *zap.Logger
}

func NewCLI(cfg configtypes.CLIConfig, logger *zap.Logger) *CLI {
	return &CLI{
		binary:   cfg.Binary,
		baseArgs: cfg.BaseArgs,
		env:      cfg.Env,
		logger:   logger,
	}
}

func (c *CLI) RenderStill(ctx context.Context, bundle *Bundle, composition string, props map[string]any, outputPath string, format types.OutputFormat) error {
	propsArg, err := propsFlag(props)
	if err != nil {
		return err
	}
	if _, err := c.run(ctx, "still", bundle.Location(), composition, outputPath, propsArg, "--image-format="+string(format)); err != nil {
		return err
	}
	return requireOutput(outputPath)
}

func (c *CLI) RenderVideo(ctx context.Context, bundle *Bundle, composition string, props map[string]any, outputPath string, codec string) error {
	propsArg, err := propsFlag(props)
	if err != nil {
		return err
	}
	if codec == "" {
		codec = types.DefaultVideoCodec
	}
	if _, err := c.run(ctx, "render", bundle.Location(), composition, outputPath, propsArg, "--codec="+codec); err != nil {
		return err
	}
	return requireOutput(outputPath)
}

// ListCompositions parses the whitespace separated ids printed in quiet mode
func (c *CLI) ListCompositions(ctx context.Context, bundle *Bundle, props map[string]any) ([]Composition, error) {
	propsArg, err := propsFlag(props)
	if err != nil {
		return nil, err
	}
	out, err := c.run(ctx, "compositions", bundle.Location(), propsArg, "--quiet")
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(string(out))
	comps := make([]Composition, 0, len(fields))
	for _, id := range fields {
		comps = append(comps, Composition{ID: id})
	}
	return comps, nil
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	argv := append(append([]string{}, c.baseArgs...), args...)

	cmd := exec.CommandContext(ctx, c.binary, argv...)
	cmd.Env = append(os.Environ(), c.env...)
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("Engine command finished",
		zap.String("subcommand", args[0]),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s interrupted: %w", ErrRenderEngine, args[0], ctxErr)
		}
		return nil, fmt.Errorf("%w: %s failed: %v: %s", ErrRenderEngine, args[0], err, tail(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func propsFlag(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("%w: props are not serializable: %v", ErrRenderEngine, err)
	}
	return "--props=" + string(data), nil
}

func requireOutput(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: engine produced no output at %s", ErrRenderEngine, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRenderEngine, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: engine produced an empty file", ErrRenderEngine)
	}
	return nil
}

// tail keeps the end of engine output, where the error usually is
func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxErrorOutput {
		s = "..." + s[len(s)-maxErrorOutput:]
	}
	return s
}
