package configtypes

import (
	"github.com/edgecomet/mediacache/pkg/types"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// Renderer engine constants
const (
	EngineCLI    = "cli"
	EngineChrome = "chrome"
)

// Rate limit backend constants
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// SlotsAuto sizes the render slot count from system memory
const SlotsAuto = "auto"

const (
	TLSVersion12 = "1.2"
	TLSVersion13 = "1.3"
)

// GatewayConfig is the media gateway main configuration
type GatewayConfig struct {
	Server       ServerConfig          `yaml:"server"`
	Storage      StorageConfig         `yaml:"storage"`
	Render       RenderConfig          `yaml:"render"`
	RateLimit    RateLimitConfig       `yaml:"rate_limit"`
	ClientIP     *types.ClientIPConfig `yaml:"client_ip,omitempty"`
	Redis        *RedisConfig          `yaml:"redis,omitempty"`
	Log          LogConfig             `yaml:"log"`
	Metrics      MetricsConfig         `yaml:"metrics"`
	EventLogging *EventLoggingConfig   `yaml:"event_logging,omitempty"`
}

type ServerConfig struct {
	Listen             string         `yaml:"listen"`
	Timeout            types.Duration `yaml:"timeout"`
	MaxRequestBodySize int            `yaml:"max_request_body_size"` // bytes, bounds multipart uploads
	TLS                TLSConfig      `yaml:"tls"`
}

// TLSConfig enables an HTTPS listener next to the plain one.
// Relative cert and key paths resolve against the config file directory.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version,omitempty"` // "1.2" or "1.3"
}

type StorageConfig struct {
	CachePath          string         `yaml:"cache_path"`   // content cache root
	UploadsPath        string         `yaml:"uploads_path"` // uploaded assets, served under /static
	StagingPath        string         `yaml:"staging_path"` // temporary render outputs
	Compression        string         `yaml:"compression,omitempty"`
	MaxDiskUsedPercent float64        `yaml:"max_disk_used_percent,omitempty"` // readiness threshold for cache volume
	Cleanup            *CleanupConfig `yaml:"cleanup,omitempty"`
}

// CleanupConfig configures the orphaned staging file sweeper
type CleanupConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Interval types.Duration `yaml:"interval"`
	MaxAge   types.Duration `yaml:"max_age"`
}

type RenderConfig struct {
	Slots        string         `yaml:"slots"`   // "auto" or a positive integer
	Timeout      types.Duration `yaml:"timeout"` // per render invocation
	StillEngine  string         `yaml:"still_engine"`
	VideoEngine  string         `yaml:"video_engine"`
	VideoCodec   string         `yaml:"video_codec,omitempty"`
	Compositions []string       `yaml:"compositions,omitempty"` // static allow-list; empty = ask the engine
	Bundle       BundleConfig   `yaml:"bundle"`
	CLI          CLIConfig      `yaml:"cli"`
	Chrome       ChromeConfig   `yaml:"chrome"`
}

// BundleConfig describes the composition bundle built once at startup
type BundleConfig struct {
	Location     string         `yaml:"location"`                // serve URL or directory passed to the engine
	BuildCommand []string       `yaml:"build_command,omitempty"` // optional one-time build step
	BuildTimeout types.Duration `yaml:"build_timeout,omitempty"`
}

// CLIConfig configures the command-line renderer
type CLIConfig struct {
	Binary   string   `yaml:"binary"`
	BaseArgs []string `yaml:"base_args,omitempty"`
	Env      []string `yaml:"env,omitempty"`
}

// ChromeConfig configures the headless Chrome still renderer
type ChromeConfig struct {
	Width     int64          `yaml:"width"`
	Height    int64          `yaml:"height"`
	WaitFor   string         `yaml:"wait_for,omitempty"` // CSS selector that signals the frame is ready
	ExtraWait types.Duration `yaml:"extra_wait,omitempty"`
}

type RateLimitConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Requests int            `yaml:"requests"`
	Window   types.Duration `yaml:"window"`
	Backend  string         `yaml:"backend,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// EventLoggingConfig configures request event logging
type EventLoggingConfig struct {
	File EventFileConfig `yaml:"file"`
}

// EventFileConfig configures file-based event logging
type EventFileConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Template string         `yaml:"template"`
	Rotation RotationConfig `yaml:"rotation"`
}
