// Package config loads the service configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/querycost/internal/complexity"
)

// Config is the complete service configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	GRPC    GRPCConfig    `yaml:"grpc"`
	Schema  SchemaConfig  `yaml:"schema"`
	Limits  LimitsConfig  `yaml:"limits"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	OTel    OTelConfig    `yaml:"otel"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	Pretty       bool          `yaml:"pretty"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// GRPCConfig configures the cost service. An empty Addr disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type SchemaConfig struct {
	Files   []string `yaml:"files"`
	CostMap string   `yaml:"cost_map"`
}

// LimitsConfig holds the admission limits. Zero means unlimited.
type LimitsConfig struct {
	MaxComplexity                  float64 `yaml:"max_complexity"`
	MaxDepth                       int     `yaml:"max_depth"`
	DefaultCollectionChildrenCount int     `yaml:"default_collection_children_count"`
	SkipInclude                    bool    `yaml:"skip_include"`
}

type CacheConfig struct {
	MaxDocuments int64 `yaml:"max_documents"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// OTelConfig configures tracing. An empty Endpoint disables it.
type OTelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			Timeout:      10 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Limits: LimitsConfig{
			DefaultCollectionChildrenCount: complexity.DefaultCollectionChildrenCount,
		},
		Cache:   CacheConfig{MaxDocuments: 1000},
		Log:     LogConfig{Level: "info"},
		OTel:    OTelConfig{Service: "querycost"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" && c.GRPC.Addr == "" {
		errs = append(errs, errors.New("http.addr or grpc.addr must be set"))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, errors.New("http.timeout must not be negative"))
	}
	if c.HTTP.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("http.max_body_bytes must not be negative"))
	}
	if c.Limits.MaxComplexity < 0 {
		errs = append(errs, errors.New("limits.max_complexity must not be negative"))
	}
	if c.Limits.MaxDepth < 0 {
		errs = append(errs, errors.New("limits.max_depth must not be negative"))
	}
	if c.Limits.DefaultCollectionChildrenCount < 0 {
		errs = append(errs, errors.New("limits.default_collection_children_count must not be negative"))
	}
	if c.Cache.MaxDocuments < 0 {
		errs = append(errs, errors.New("cache.max_documents must not be negative"))
	}
	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Analysis returns the analysis configuration of the limits.
func (l LimitsConfig) Analysis() complexity.Config {
	opts := []complexity.Option{
		complexity.WithDefaultCollectionChildrenCount(l.DefaultCollectionChildrenCount),
		complexity.WithSkipIncludeDirectives(l.SkipInclude),
	}
	if l.MaxComplexity > 0 {
		opts = append(opts, complexity.WithMaxComplexity(l.MaxComplexity))
	}
	if l.MaxDepth > 0 {
		opts = append(opts, complexity.WithMaxDepth(l.MaxDepth))
	}
	return complexity.NewConfig(opts...)
}
