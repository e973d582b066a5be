package configtypes

import (
	"fmt"
	"strconv"
	"time"

	"github.com/edgecomet/mediacache/pkg/types"
)

// Validate checks the gateway configuration after defaults have been applied
func (c *GatewayConfig) Validate() error {
	if err := ValidateListenAddress(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen: %w", err)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}

	if err := c.Server.TLS.validate(c.Server.Listen); err != nil {
		return err
	}

	if c.Storage.CachePath == "" {
		return fmt.Errorf("storage.cache_path must be specified")
	}
	if c.Storage.UploadsPath == "" {
		return fmt.Errorf("storage.uploads_path must be specified")
	}
	if c.Storage.StagingPath == "" {
		return fmt.Errorf("storage.staging_path must be specified")
	}
	if c.Storage.CachePath == c.Storage.UploadsPath || c.Storage.CachePath == c.Storage.StagingPath {
		return fmt.Errorf("storage.cache_path must not be shared with uploads or staging")
	}
	switch c.Storage.Compression {
	case types.CompressionNone, types.CompressionSnappy, types.CompressionLZ4:
	default:
		return fmt.Errorf("storage.compression must be one of none, snappy, lz4, got %q", c.Storage.Compression)
	}
	if c.Storage.MaxDiskUsedPercent < 0 || c.Storage.MaxDiskUsedPercent > 100 {
		return fmt.Errorf("storage.max_disk_used_percent must be between 0 and 100")
	}
	if cl := c.Storage.Cleanup; cl != nil && cl.Enabled {
		if time.Duration(cl.Interval) <= 0 {
			return fmt.Errorf("storage.cleanup.interval must be positive")
		}
		if time.Duration(cl.MaxAge) < time.Minute {
			return fmt.Errorf("storage.cleanup.max_age must be at least 1m, got %v", time.Duration(cl.MaxAge))
		}
	}

	if err := c.Render.validate(); err != nil {
		return err
	}
	if cl := c.Storage.Cleanup; cl != nil && cl.Enabled && cl.MaxAge <= c.Render.Timeout {
		return fmt.Errorf("storage.cleanup.max_age (%v) must exceed render.timeout (%v)",
			time.Duration(cl.MaxAge), time.Duration(c.Render.Timeout))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate_limit.requests must be positive")
		}
		if time.Duration(c.RateLimit.Window) <= 0 {
			return fmt.Errorf("rate_limit.window must be positive")
		}
		switch c.RateLimit.Backend {
		case RateLimitBackendMemory:
		case RateLimitBackendRedis:
			if c.Redis == nil || c.Redis.Addr == "" {
				return fmt.Errorf("rate_limit.backend=redis requires redis.addr")
			}
		default:
			return fmt.Errorf("rate_limit.backend must be memory or redis, got %q", c.RateLimit.Backend)
		}
	}

	if c.ClientIP != nil && c.ClientIP.TrustedHops < 0 {
		return fmt.Errorf("client_ip.trusted_hops must be >= 0")
	}

	if c.Redis != nil && c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if c.Metrics.Enabled {
		if err := ValidateListenAddress(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
		if listenersCollide(c.Metrics.Listen, c.Server.Listen) {
			return fmt.Errorf("metrics.listen must differ from server.listen")
		}
		if c.Server.TLS.Enabled && listenersCollide(c.Metrics.Listen, c.Server.TLS.Listen) {
			return fmt.Errorf("metrics.listen must differ from server.tls.listen")
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'")
		}
	}

	if c.EventLogging != nil && c.EventLogging.File.Enabled && c.EventLogging.File.Path == "" {
		return fmt.Errorf("event_logging.file.path must be specified when enabled")
	}

	return nil
}

func (r *RenderConfig) validate() error {
	if r.Slots != SlotsAuto {
		n, err := strconv.Atoi(r.Slots)
		if err != nil || n <= 0 {
			return fmt.Errorf("render.slots must be 'auto' or a positive integer, got %q", r.Slots)
		}
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("render.timeout must be positive")
	}

	switch r.StillEngine {
	case EngineCLI, EngineChrome:
	default:
		return fmt.Errorf("render.still_engine must be cli or chrome, got %q", r.StillEngine)
	}
	if r.VideoEngine != EngineCLI {
		return fmt.Errorf("render.video_engine must be cli, got %q", r.VideoEngine)
	}

	if r.Bundle.Location == "" {
		return fmt.Errorf("render.bundle.location must be specified")
	}
	if r.StillEngine == EngineCLI || r.VideoEngine == EngineCLI || len(r.Compositions) == 0 {
		if r.CLI.Binary == "" {
			return fmt.Errorf("render.cli.binary must be specified")
		}
	}
	if r.StillEngine == EngineChrome && (r.Chrome.Width <= 0 || r.Chrome.Height <= 0) {
		return fmt.Errorf("render.chrome.width and height must be positive")
	}

	return nil
}

func (t *TLSConfig) validate(plainListen string) error {
	if !t.Enabled {
		return nil
	}
	if err := ValidateListenAddress(t.Listen); err != nil {
		return fmt.Errorf("server.tls.listen: %w", err)
	}
	if listenersCollide(t.Listen, plainListen) {
		return fmt.Errorf("server.tls.listen must differ from server.listen")
	}
	if t.CertFile == "" || t.KeyFile == "" {
		return fmt.Errorf("server.tls.cert_file and key_file must be specified")
	}
	switch t.MinVersion {
	case TLSVersion12, TLSVersion13:
	default:
		return fmt.Errorf("server.tls.min_version must be 1.2 or 1.3, got %q", t.MinVersion)
	}
	return nil
}
