package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/mediacache/internal/common/configtypes"
	"github.com/edgecomet/mediacache/internal/common/yamlutil"
	"github.com/edgecomet/mediacache/pkg/types"
)

const (
	defaultListen             = ":8000"
	defaultServerTimeout      = 10 * time.Minute
	defaultMaxRequestBodySize = 32 * 1024 * 1024
	defaultRenderTimeout      = 5 * time.Minute
	defaultBundleBuildTimeout = 10 * time.Minute
	defaultRateLimitRequests  = 20
	defaultRateLimitWindow    = time.Minute
	defaultCleanupInterval    = 10 * time.Minute
	defaultCleanupMaxAge      = time.Hour
	defaultMaxDiskUsedPercent = 95
	defaultMetricsPath        = "/metrics"
	defaultMetricsNamespace   = "mediacache"
	defaultChromeWidth        = 1080
	defaultChromeHeight       = 1080
)

// LoadGatewayConfig reads, decodes, defaults and validates the gateway configuration
func LoadGatewayConfig(path string, logger *zap.Logger) (*configtypes.GatewayConfig, error) {
	logger.Info("Loading media gateway configuration", zap.String("path", path))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseGatewayConfig(data)
	if err != nil {
		return nil, err
	}

	logger.Info("Media gateway configuration loaded",
		zap.String("listen", cfg.Server.Listen),
		zap.String("cache_path", cfg.Storage.CachePath),
		zap.String("still_engine", cfg.Render.StillEngine),
		zap.String("slots", cfg.Render.Slots),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled))

	return cfg, nil
}

// ParseGatewayConfig decodes YAML bytes, applies defaults and validates the result
func ParseGatewayConfig(data []byte) (*configtypes.GatewayConfig, error) {
	var cfg configtypes.GatewayConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
// This is the only place defaults are applied; no fallbacks elsewhere.
func ApplyDefaults(cfg *configtypes.GatewayConfig) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = types.Duration(defaultServerTimeout)
	}
	if cfg.Server.MaxRequestBodySize == 0 {
		cfg.Server.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = configtypes.TLSVersion13
	}

	if cfg.Storage.Compression == "" {
		cfg.Storage.Compression = types.CompressionNone
	}
	if cfg.Storage.MaxDiskUsedPercent == 0 {
		cfg.Storage.MaxDiskUsedPercent = defaultMaxDiskUsedPercent
	}
	if cl := cfg.Storage.Cleanup; cl != nil {
		if cl.Interval == 0 {
			cl.Interval = types.Duration(defaultCleanupInterval)
		}
		if cl.MaxAge == 0 {
			cl.MaxAge = types.Duration(defaultCleanupMaxAge)
		}
	}

	applyRenderDefaults(&cfg.Render)

	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = defaultRateLimitRequests
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = types.Duration(defaultRateLimitWindow)
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = configtypes.RateLimitBackendMemory
	}

	// If both outputs are disabled (zero values), enable console by default
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaultMetricsNamespace
	}
}

func applyRenderDefaults(r *configtypes.RenderConfig) {
	if r.Slots == "" {
		r.Slots = configtypes.SlotsAuto
	}
	if r.Timeout == 0 {
		r.Timeout = types.Duration(defaultRenderTimeout)
	}
	if r.StillEngine == "" {
		r.StillEngine = configtypes.EngineCLI
	}
	if r.VideoEngine == "" {
		r.VideoEngine = configtypes.EngineCLI
	}
	if r.VideoCodec == "" {
		r.VideoCodec = types.DefaultVideoCodec
	}
	if r.Bundle.BuildTimeout == 0 {
		r.Bundle.BuildTimeout = types.Duration(defaultBundleBuildTimeout)
	}
	if r.Chrome.Width == 0 {
		r.Chrome.Width = defaultChromeWidth
	}
	if r.Chrome.Height == 0 {
		r.Chrome.Height = defaultChromeHeight
	}
}
