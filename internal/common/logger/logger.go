// Package logger builds the process logger: a zap core per configured output
// (console, rotating file) each with its own runtime-adjustable level.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
)

// output is one enabled log destination
type output struct {
	name       string
	level      zap.AtomicLevel
	configured zapcore.Level // level from the config file, restored after startup
}

// DynamicLogger is a zap.Logger whose output levels change during the
// process lifecycle: INFO while starting, configured levels while serving,
// INFO again while shutting down.
type DynamicLogger struct {
	*zap.Logger
	outputs []*output
}

// SwitchToConfiguredLevel applies the configured levels once startup is done
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	for _, out := range dl.outputs {
		if out.level.Level() != out.configured {
			dl.Info("Switching log output to configured level",
				zap.String("output", out.name),
				zap.Stringer("level", out.configured))
			out.level.SetLevel(out.configured)
		}
	}
}

// EnsureInfoLevelForShutdown lowers quieter outputs to INFO so the shutdown
// sequence shows up in the logs
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	lowered := false
	for _, out := range dl.outputs {
		if out.level.Level() > zap.InfoLevel {
			out.level.SetLevel(zap.InfoLevel)
			lowered = true
		}
	}
	if lowered {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

// level returns the current level of the named output
func (dl *DynamicLogger) level(name string) (zapcore.Level, bool) {
	for _, out := range dl.outputs {
		if out.name == name {
			return out.level.Level(), true
		}
	}
	return 0, false
}

// NewLogger builds a logger running at the configured levels
func NewLogger(cfg configtypes.LogConfig) (*DynamicLogger, error) {
	return build(cfg, false)
}

// NewLoggerWithStartupOverride starts every output at INFO or lower so
// startup messages are printed even when the config asks for WARN or ERROR.
// SwitchToConfiguredLevel restores the configured levels.
func NewLoggerWithStartupOverride(cfg configtypes.LogConfig) (*DynamicLogger, error) {
	return build(cfg, true)
}

// NewDefaultLogger is the console logger used until the config is loaded
func NewDefaultLogger() (*DynamicLogger, error) {
	return NewLogger(configtypes.LogConfig{
		Level:   configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{Enabled: true, Format: configtypes.LogFormatConsole},
	})
}

func build(cfg configtypes.LogConfig, startupOverride bool) (*DynamicLogger, error) {
	global := parseLogLevel(cfg.Level)
	dl := &DynamicLogger{}
	var cores []zapcore.Core

	add := func(name, level, format string, sink zapcore.WriteSyncer) {
		configured := resolveLogLevel(level, global)
		initial := configured
		if startupOverride && initial > zap.InfoLevel {
			initial = zap.InfoLevel
		}
		out := &output{name: name, level: zap.NewAtomicLevelAt(initial), configured: configured}
		dl.outputs = append(dl.outputs, out)
		cores = append(cores, zapcore.NewCore(createEncoder(format), sink, out.level))
	}

	if cfg.Console.Enabled {
		add("console", cfg.Console.Level, cfg.Console.Format, zapcore.Lock(os.Stdout))
	}
	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}
		add("file", cfg.File.Level, cfg.File.Format, createFileWriter(cfg.File.Path, cfg.File.Rotation))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}
	dl.Logger = zap.New(zapcore.NewTee(cores...))
	return dl, nil
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// resolveLogLevel prefers the output's own level over the global one
func resolveLogLevel(outputLevel string, global zapcore.Level) zapcore.Level {
	if outputLevel == "" {
		return global
	}
	return parseLogLevel(outputLevel)
}

func createEncoder(format string) zapcore.Encoder {
	switch format {
	case configtypes.LogFormatJSON:
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case configtypes.LogFormatText:
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	default:
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
}

func createFileWriter(path string, rotation configtypes.RotationConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	})
}
