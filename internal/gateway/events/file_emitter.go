package events

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
)

const (
	DefaultMaxSize    = 100 // MB
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10
	DefaultTemplate   = "{timestamp}\t{request_id}\t{method}\t{path}\t{status_code}\t{source}\t{cache_key}\t{size}\t{serve_time}\t{render_time}\t{client_ip}"
)

// FileEmitter appends formatted events to a rotated log file
type FileEmitter struct {
	writer    *lumberjack.Logger
	formatter *TemplateFormatter
	logger    *zap.Logger
}

// NewFileEmitter validates the template and prepares the log directory
func NewFileEmitter(cfg configtypes.EventFileConfig, logger *zap.Logger) (*FileEmitter, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	template := cfg.Template
	if template == "" {
		template = DefaultTemplate
	}
	formatter, err := NewTemplateFormatter(template)
	if err != nil {
		return nil, fmt.Errorf("invalid template for event log %s: %w", cfg.Path, err)
	}

	return &FileEmitter{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    orDefault(cfg.Rotation.MaxSize, DefaultMaxSize),
			MaxAge:     orDefault(cfg.Rotation.MaxAge, DefaultMaxAge),
			MaxBackups: orDefault(cfg.Rotation.MaxBackups, DefaultMaxBackups),
			Compress:   cfg.Rotation.Compress,
		},
		formatter: formatter,
		logger:    logger,
	}, nil
}

// Emit writes one line; failures are logged and dropped
func (f *FileEmitter) Emit(event *AccessEvent) {
	line := f.formatter.Format(event) + "\n"
	if _, err := f.writer.Write([]byte(line)); err != nil {
		f.logger.Warn("Failed to write access event",
			zap.String("request_id", event.RequestID),
			zap.Error(err))
	}
}

func (f *FileEmitter) Close() error {
	return f.writer.Close()
}

// NewEmitter returns a file emitter when event logging is enabled, a no-op otherwise
func NewEmitter(cfg *configtypes.EventLoggingConfig, logger *zap.Logger) (Emitter, error) {
	if cfg == nil || !cfg.File.Enabled {
		return NoopEmitter{}, nil
	}
	return NewFileEmitter(cfg.File, logger)
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
