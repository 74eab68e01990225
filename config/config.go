// Package config loads mini-xpc configuration.
//
// Configuration is loaded from a single YAML file named by:
//   - MINI_XPC_CONFIG environment variable, or
//   - --config flag passed to the command
//
// Values missing from the file keep their defaults. ${VAR} and
// ${VAR:-default} are expanded in paths.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mini-xpc/codec"
	"mini-xpc/protocol"
	"mini-xpc/registry"
)

// Config is the configuration shared by the mini-xpc commands.
type Config struct {
	Codec    CodecConfig    `yaml:"codec"`
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Log      LogConfig      `yaml:"log"`
}

// CodecConfig bounds the messages a process builds and accepts.
type CodecConfig struct {
	// MaxDepth is the deepest container nesting. Default: 64
	MaxDepth int `yaml:"max_depth"`

	// MaxMessageSize is the largest envelope in bytes. Default: 16 MiB
	MaxMessageSize int `yaml:"max_message_size"`

	// MaxHandles is the most descriptors per message. Default: 253
	MaxHandles int `yaml:"max_handles"`
}

// ServerConfig configures a listening service.
type ServerConfig struct {
	// SocketPath is where the service listens.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/mini-xpc.sock
	SocketPath string `yaml:"socket_path"`

	// ServiceName is the name announced in the registry. Empty disables
	// announcement.
	ServiceName string `yaml:"service_name"`

	// RateLimit is requests per second across all peers; zero disables
	// limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	// RequestTimeout bounds one handler call. Default: 5s
	RequestTimeout string `yaml:"request_timeout"`

	// ShutdownTimeout bounds the wait for in-flight requests. Default: 10s
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// RegistryConfig configures name lookup through etcd. No endpoints means
// no registry.
type RegistryConfig struct {
	Endpoints   []string `yaml:"endpoints"`
	Prefix      string   `yaml:"prefix"`
	LeaseTTL    int64    `yaml:"lease_ttl"`    // seconds
	DialTimeout string   `yaml:"dial_timeout"` // Default: 5s
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level"`

	// Development selects human-readable console output.
	Development bool `yaml:"development"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Codec: CodecConfig{
			MaxDepth:       codec.DefaultMaxDepth,
			MaxMessageSize: protocol.DefaultMaxMessageSize,
			MaxHandles:     protocol.DefaultMaxHandles,
		},
		Server: ServerConfig{
			SocketPath:      expandVars("${XDG_RUNTIME_DIR:-/tmp}/mini-xpc.sock"),
			Burst:           1,
			RequestTimeout:  "5s",
			ShutdownTimeout: "10s",
		},
		Registry: RegistryConfig{
			Prefix:      "/mini-xpc/",
			LeaseTTL:    10,
			DialTimeout: "5s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by MINI_XPC_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("MINI_XPC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MINI_XPC_CONFIG environment variable not set; " +
			"set it to the path of your config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over the defaults and validates
// it.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Server.SocketPath = expandVars(c.Server.SocketPath)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Codec.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("codec.max_depth must be positive"))
	}
	if c.Codec.MaxMessageSize < protocol.EnvelopeSize {
		errs = append(errs, fmt.Errorf("codec.max_message_size must be at least %d", protocol.EnvelopeSize))
	}
	if c.Codec.MaxHandles < 0 || c.Codec.MaxHandles > protocol.DefaultMaxHandles {
		errs = append(errs, fmt.Errorf("codec.max_handles must be between 0 and %d", protocol.DefaultMaxHandles))
	}

	if c.Server.SocketPath == "" {
		errs = append(errs, fmt.Errorf("server.socket_path is required"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		errs = append(errs, fmt.Errorf("server.burst must be positive when rate_limit is set"))
	}
	for name, value := range map[string]string{
		"server.request_timeout":  c.Server.RequestTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"registry.dial_timeout":   c.Registry.DialTimeout,
	} {
		if _, err := parseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(c.Registry.Endpoints) > 0 && c.Server.ServiceName == "" {
		errs = append(errs, fmt.Errorf("server.service_name is required when registry.endpoints is set"))
	}
	if c.Registry.LeaseTTL < 1 {
		errs = append(errs, fmt.Errorf("registry.lease_ttl must be positive"))
	}

	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// parseDuration parses a non-negative duration; empty means zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}

// Limits returns the codec section as protocol options.
func (c CodecConfig) Limits() protocol.Options {
	return protocol.Options{
		Codec:          codec.Options{MaxDepth: c.MaxDepth},
		MaxMessageSize: c.MaxMessageSize,
		MaxHandles:     c.MaxHandles,
	}
}

// Timeouts returns the request and shutdown timeouts. Validate has
// already rejected malformed values.
func (c ServerConfig) Timeouts() (request, shutdown time.Duration) {
	request, _ = parseDuration(c.RequestTimeout)
	shutdown, _ = parseDuration(c.ShutdownTimeout)
	return request, shutdown
}

// Etcd returns the etcd registry configuration, or false when no
// endpoints are configured.
func (c RegistryConfig) Etcd(logger *zap.Logger) (registry.EtcdConfig, bool) {
	if len(c.Endpoints) == 0 {
		return registry.EtcdConfig{}, false
	}
	timeout, _ := parseDuration(c.DialTimeout)
	return registry.EtcdConfig{
		Endpoints:   c.Endpoints,
		DialTimeout: timeout,
		Prefix:      c.Prefix,
		Logger:      logger,
	}, true
}

// Build returns a logger for the configured level and encoding.
func (c LogConfig) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
