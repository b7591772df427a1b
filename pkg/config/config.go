// Package config loads the client configuration from a YAML file, a .env
// file and TXFLOW_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"txflow/pkg/api"
	"txflow/pkg/cache/memory"
	"txflow/pkg/cache/redis"
	"txflow/pkg/chain"
	"txflow/pkg/logging"
	"txflow/pkg/quote"
	"txflow/pkg/resilience"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    logging.Config   `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Categories []CategoryConfig `yaml:"categories"`
}

// BackendConfig configures the backend API client.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token. Usually supplied as TXFLOW_BACKEND_TOKEN.
	Token string `yaml:"token"`

	Resilience           resilience.ResilientConfig `yaml:"resilience"`
	ReadRetries          uint64                     `yaml:"read_retries"`
	RetryInitialInterval time.Duration              `yaml:"retry_initial_interval"`
}

// CacheConfig configures the read-through cache chain.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`

	// TTLDecay, when in (0, 1), shortens the TTL of each faster layer by
	// this factor. Zero keeps one TTL for all layers.
	TTLDecay float64 `yaml:"ttl_decay"`

	Memory memory.MemoryCacheConfig `yaml:"memory"`

	// Redis adds a shared L2 layer when Enabled.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig enables the optional Redis layer.
type RedisConfig struct {
	Enabled                bool `yaml:"enabled"`
	redis.RedisCacheConfig `yaml:",inline"`
}

// MetricsConfig configures metrics collection and the status server.
type MetricsConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Namespace string           `yaml:"namespace"`
	Server    api.ServerConfig `yaml:"server"`
}

// CategoryConfig declares a transaction category.
type CategoryConfig struct {
	Code     string `yaml:"code"`
	Kind     string `yaml:"kind"`
	Currency string `yaml:"currency"`
	Reserve  string `yaml:"reserve"`
}

// Default returns the built-in configuration.
func Default() Config {
	cats := quote.DefaultCategories()
	categories := make([]CategoryConfig, 0, len(cats))
	for _, c := range cats {
		categories = append(categories, CategoryConfig{
			Code:     c.Code,
			Kind:     c.Kind.String(),
			Currency: c.Currency,
			Reserve:  string(c.Reserve),
		})
	}

	return Config{
		Backend: BackendConfig{
			BaseURL:              "http://localhost:8080/api/v1",
			Resilience:           resilience.DefaultResilientConfig(),
			ReadRetries:          2,
			RetryInitialInterval: 200 * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
			Memory: memory.MemoryCacheConfig{
				Name:            "L1-memory",
				MaxSize:         1024,
				DefaultTTL:      5 * time.Minute,
				CleanupInterval: time.Minute,
			},
			Redis: RedisConfig{RedisCacheConfig: redis.DefaultRedisCacheConfig()},
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Namespace: "txflow",
			Server:    api.DefaultServerConfig(),
		},
		Categories: categories,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// not empty), then the .env files (missing files are ignored), then the
// environment. The result is validated.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()
		if err := MergeYAML(&cfg, f); err != nil {
			return cfg, err
		}
	}

	if err := loadDotEnv(envFiles...); err != nil {
		return cfg, err
	}
	if err := MergeEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Logging = logging.ApplyEnv(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	// godotenv.Load never overrides variables already set.
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

// MergeYAML merges YAML from src into cfg. ${VAR} references are expanded
// from the environment; ${VAR:-default} falls back to default when VAR is
// unset. An unset variable without a default is an error.
func MergeYAML(cfg *Config, src io.Reader) error {
	raw, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("config: read YAML: %w", err)
	}

	var missing []string
	expanded := os.Expand(string(raw), func(key string) string {
		if i := strings.Index(key, ":-"); i != -1 {
			if val, ok := os.LookupEnv(key[:i]); ok {
				return val
			}
			return key[i+2:]
		}
		val, ok := os.LookupEnv(key)
		if !ok {
			missing = append(missing, key)
		}
		return val
	})
	if len(missing) > 0 {
		return fmt.Errorf("config: YAML expects environment variables %v", missing)
	}

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("config: parse YAML: %w", err)
	}
	return nil
}

type envMapping func(cfg *Config, val string) error

var envMappings = map[string]envMapping{
	"TXFLOW_BACKEND_URL": func(cfg *Config, val string) error {
		cfg.Backend.BaseURL = val
		return nil
	},
	"TXFLOW_BACKEND_TOKEN": func(cfg *Config, val string) error {
		cfg.Backend.Token = val
		return nil
	},
	"TXFLOW_BACKEND_TIMEOUT": func(cfg *Config, val string) error {
		return mapDuration(&cfg.Backend.Resilience.Timeout, val)
	},
	"TXFLOW_BACKEND_READ_RETRIES": func(cfg *Config, val string) error {
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return err
		}
		cfg.Backend.ReadRetries = n
		return nil
	},
	"TXFLOW_CACHE_TTL": func(cfg *Config, val string) error {
		return mapDuration(&cfg.Cache.TTL, val)
	},
	"TXFLOW_CACHE_MEMORY_MAX_SIZE": func(cfg *Config, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		cfg.Cache.Memory.MaxSize = n
		return nil
	},
	"TXFLOW_REDIS_ENABLED": func(cfg *Config, val string) error {
		return mapBool(&cfg.Cache.Redis.Enabled, val)
	},
	"TXFLOW_REDIS_ADDR": func(cfg *Config, val string) error {
		cfg.Cache.Redis.Addr = val
		return nil
	},
	"TXFLOW_REDIS_PASSWORD": func(cfg *Config, val string) error {
		cfg.Cache.Redis.Password = val
		return nil
	},
	"TXFLOW_METRICS_ENABLED": func(cfg *Config, val string) error {
		return mapBool(&cfg.Metrics.Enabled, val)
	},
	"TXFLOW_METRICS_ADDR": func(cfg *Config, val string) error {
		cfg.Metrics.Server.Address = val
		return nil
	},
}

// MergeEnv applies TXFLOW_* environment overrides. It reports every
// malformed value, not only the first.
func MergeEnv(cfg *Config) error {
	var errs error
	for key, apply := range envMappings {
		val, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := apply(cfg, val); err != nil {
			errs = errors.Join(errs, fmt.Errorf("config: %s: %w", key, err))
		}
	}
	return errs
}

func mapDuration(tgt *time.Duration, val string) error {
	d, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*tgt = d
	return nil
}

func mapBool(tgt *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*tgt = b
	return nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Backend.BaseURL)
	if c.Backend.BaseURL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL))
	}
	if c.Backend.Resilience.Timeout < 0 {
		errs = append(errs, errors.New("backend.resilience.timeout must not be negative"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Cache.TTLDecay < 0 || c.Cache.TTLDecay >= 1 {
		errs = append(errs, errors.New("cache.ttl_decay must be in [0, 1)"))
	}
	if c.Cache.Memory.MaxSize < 0 {
		errs = append(errs, errors.New("cache.memory.max_size must not be negative"))
	}
	if c.Cache.Redis.Enabled && c.Cache.Redis.Addr == "" && len(c.Cache.Redis.ClusterAddrs) == 0 && len(c.Cache.Redis.SentinelAddrs) == 0 {
		errs = append(errs, errors.New("cache.redis needs addr, cluster_addrs or sentinel_addrs when enabled"))
	}
	if c.Metrics.Enabled && c.Metrics.Server.Address == "" {
		errs = append(errs, errors.New("metrics.server.address is required when metrics are enabled"))
	}

	if len(c.Categories) == 0 {
		errs = append(errs, errors.New("at least one category is required"))
	}
	seen := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		if _, err := cat.Category(); err != nil {
			errs = append(errs, fmt.Errorf("categories[%d]: %w", i, err))
		}
		if seen[cat.Code] {
			errs = append(errs, fmt.Errorf("categories[%d]: duplicate code %q", i, cat.Code))
		}
		seen[cat.Code] = true
	}

	return errors.Join(errs...)
}

// Category converts the declaration into a quote.Category.
func (c CategoryConfig) Category() (quote.Category, error) {
	if strings.TrimSpace(c.Code) == "" {
		return quote.Category{}, errors.New("code is required")
	}
	kind, ok := quote.ParseKind(c.Kind)
	if !ok {
		return quote.Category{}, fmt.Errorf("unknown kind %q", c.Kind)
	}

	reserve := quote.Endpoint(c.Reserve)
	switch reserve {
	case "":
		reserve = quote.EndpointInitiate
	case quote.EndpointInitiate, quote.EndpointPreview:
	default:
		return quote.Category{}, fmt.Errorf("unknown reserve endpoint %q", c.Reserve)
	}

	return quote.Category{Code: c.Code, Kind: kind, Currency: c.Currency, Reserve: reserve}, nil
}

// TTLStrategy returns the per-layer TTL strategy of the cache chain.
func (c CacheConfig) TTLStrategy() chain.TTLStrategy {
	if c.TTLDecay > 0 && c.TTLDecay < 1 {
		return chain.DecayingTTLStrategy{DecayFactor: c.TTLDecay}
	}
	return chain.UniformTTLStrategy{}
}

// QuoteCategories returns the configured categories. Call after Validate.
func (c Config) QuoteCategories() []quote.Category {
	out := make([]quote.Category, 0, len(c.Categories))
	for _, cc := range c.Categories {
		if cat, err := cc.Category(); err == nil {
			out = append(out, cat)
		}
	}
	return out
}
