// Package config loads engine configuration from YAML, environment
// variables and defaults, and builds the zap logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v2"
)

// ErrInvalid is returned when a configuration value is out of range.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BLE_"

// Config is the complete engine configuration.
type Config struct {
	Workers  int            `yaml:"workers"`
	Log      LogConfig      `yaml:"log"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Registry RegistryConfig `yaml:"registry"`
	Notify   NotifyConfig   `yaml:"notify"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// SandboxConfig locates the guest module. An empty path uses the embedded
// demo guest.
type SandboxConfig struct {
	ModulePath       string `yaml:"module_path"`
	MemoryExport     string `yaml:"memory_export"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

// RegistryConfig selects the task record store.
type RegistryConfig struct {
	Backend   string `yaml:"backend"` // memory | redis
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
	Prefix    string `yaml:"prefix"`
}

// NotifyConfig configures completion notifications. An empty BaseURL and
// ZmqEndpoint disable them.
type NotifyConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Endpoint     string        `yaml:"endpoint"`
	ZmqEndpoint  string        `yaml:"zmq_endpoint"`
	Attempts     int           `yaml:"attempts"`
	QueueSize    int           `yaml:"queue_size"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
}

// ServerConfig holds listen addresses. An empty address disables the
// listener.
type ServerConfig struct {
	IngestAddr       string        `yaml:"ingest_addr"`
	GRPCAddr         string        `yaml:"grpc_addr"`
	HTTPAddr         string        `yaml:"http_addr"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
}

// AuthConfig configures ingest authentication.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Workers: 4,
		Log: LogConfig{
			Level: "info",
		},
		Sandbox: SandboxConfig{
			MemoryExport:     "memory",
			MemoryLimitPages: 16,
		},
		Registry: RegistryConfig{
			Backend:   "memory",
			RedisAddr: "127.0.0.1:6379",
			Prefix:    "blockless",
		},
		Notify: NotifyConfig{
			Endpoint:     "task/completed",
			Attempts:     3,
			QueueSize:    256,
			Timeout:      10 * time.Second,
			RetryInitial: 100 * time.Millisecond,
			RetryMax:     2 * time.Second,
		},
		Server: ServerConfig{
			IngestAddr:       ":9000",
			GRPCAddr:         ":50051",
			HTTPAddr:         ":8080",
			MetricsAddr:      ":9090",
			DispatchInterval: time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BLE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}

	num("WORKERS", &c.Workers)
	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_DEVELOPMENT", &c.Log.Development)

	str("SANDBOX_MODULE", &c.Sandbox.ModulePath)
	str("SANDBOX_MEMORY_EXPORT", &c.Sandbox.MemoryExport)
	if v, ok := lookup(EnvPrefix + "SANDBOX_MEMORY_PAGES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSANDBOX_MEMORY_PAGES: %w", EnvPrefix, err))
		} else {
			c.Sandbox.MemoryLimitPages = uint32(n)
		}
	}

	str("REGISTRY_BACKEND", &c.Registry.Backend)
	str("REDIS_ADDR", &c.Registry.RedisAddr)
	num("REDIS_DB", &c.Registry.RedisDB)

	str("NOTIFY_BASE_URL", &c.Notify.BaseURL)
	str("NOTIFY_ENDPOINT", &c.Notify.Endpoint)
	str("NOTIFY_ZMQ_ENDPOINT", &c.Notify.ZmqEndpoint)
	num("NOTIFY_ATTEMPTS", &c.Notify.Attempts)
	dur("NOTIFY_TIMEOUT", &c.Notify.Timeout)

	str("INGEST_ADDR", &c.Server.IngestAddr)
	str("GRPC_ADDR", &c.Server.GRPCAddr)
	str("HTTP_ADDR", &c.Server.HTTPAddr)
	str("METRICS_ADDR", &c.Server.MetricsAddr)
	dur("DISPATCH_INTERVAL", &c.Server.DispatchInterval)

	flag("AUTH_ENABLED", &c.Auth.Enabled)
	str("AUTH_TOKEN", &c.Auth.Token)

	return errors.Join(errs...)
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalid, c.Workers))
	}
	switch c.Registry.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown registry backend %q", ErrInvalid, c.Registry.Backend))
	}
	if c.Notify.Attempts < 1 {
		errs = append(errs, fmt.Errorf("%w: notify attempts must be at least 1", ErrInvalid))
	}
	if c.Server.DispatchInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: dispatch interval must be positive", ErrInvalid))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
