// Package config loads the YAML configuration of a generated client and
// builds the client and its cache backend from it.
package config

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/phalt/clientele-sub001/cache"
	"github.com/phalt/clientele-sub001/client"
	"github.com/phalt/clientele-sub001/env"
	"github.com/phalt/clientele-sub001/logger"
	"github.com/phalt/clientele-sub001/resilience"
	"github.com/redis/go-redis/v9"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables applied by ApplyEnv.
const (
	EnvBaseURL      = "CLIENTELE_BASE_URL"
	EnvToken        = "CLIENTELE_TOKEN"
	EnvCacheEnabled = "CLIENTELE_CACHE_ENABLED"
	EnvCacheBackend = "CLIENTELE_CACHE_BACKEND"
	EnvRedisURL     = "CLIENTELE_REDIS_URL"
)

// Cache backend names.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendRistretto = "ristretto"
	// BackendTiered is a memory backend in front of Redis.
	BackendTiered = "tiered"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrMissingBaseURL = errors.New("missing base_url")
	ErrUnknownBackend = errors.New("unknown cache backend")
)

// Duration is a time.Duration written in go-str2duration syntax ("90s",
// "1h30m", "2d").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := str2duration.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return str2duration.String(time.Duration(d)), nil
}

type CacheConfig struct {
	// Enabled defaults to true.
	Enabled *bool  `yaml:"enabled,omitempty"`
	Backend string `yaml:"backend,omitempty"`
	MaxSize int    `yaml:"max_size,omitempty"`
	// TTL of memoized results. Zero means results never expire.
	TTL      Duration `yaml:"ttl,omitempty"`
	RedisURL string   `yaml:"redis_url,omitempty"`
	Prefix   string   `yaml:"prefix,omitempty"`
}

// IsEnabled reports whether memoized operations should cache at all.
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TTLOrNever returns the configured TTL, or cache.NoExpiration when unset.
func (c CacheConfig) TTLOrNever() time.Duration {
	if c.TTL <= 0 {
		return cache.NoExpiration
	}
	return time.Duration(c.TTL)
}

type Config struct {
	BaseURL string            `yaml:"base_url"`
	Token   string            `yaml:"token,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	// Retries is the number of attempts for retryable failures. Zero, like an
	// omitted value, means client.DefaultRetries.
	Retries int               `yaml:"retries,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Cache   CacheConfig       `yaml:"cache"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{Cache: CacheConfig{Backend: BackendMemory, MaxSize: cache.DefaultMaxSize}}
}

// Load reads a YAML config file. ${NAME}, ${NAME:-default} and ${env:NAME}
// references are resolved against the process environment before parsing.
func Load(fn string) (*Config, error) {
	buf, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrConfigNotFound, "%s", fn)
		}
		return nil, errors.Wrapf(err, "failed to read config file: %s", fn)
	}
	c, err := Parse(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode YAML config file: %s", fn)
	}
	return c, nil
}

// Parse decodes a YAML config document.
func Parse(buf []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal([]byte(env.Interpolate(string(buf), env.Environ())), c); err != nil {
		return nil, err
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = BackendMemory
	}
	return c, nil
}

// ApplyEnv overrides values with the CLIENTELE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvBaseURL); ok {
		c.BaseURL = v
	}
	if v, ok := os.LookupEnv(EnvToken); ok {
		c.Token = v
	}
	if v, ok := os.LookupEnv(EnvCacheEnabled); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvCacheEnabled)
		}
		c.Cache.Enabled = &enabled
	}
	if v, ok := os.LookupEnv(EnvCacheBackend); ok {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv(EnvRedisURL); ok {
		c.Cache.RedisURL = v
	}
	return nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errors.Wrap(err, "invalid base_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("invalid base_url %q: scheme must be http or https", c.BaseURL)
	}
	if c.Retries < 0 {
		return errors.Newf("retries must be >= 0, got %d", c.Retries)
	}
	if c.Cache.MaxSize < 0 {
		return errors.Newf("cache.max_size must be >= 0, got %d", c.Cache.MaxSize)
	}
	switch c.Cache.Backend {
	case BackendMemory, BackendRistretto:
	case BackendRedis, BackendTiered:
		if c.Cache.RedisURL == "" {
			return errors.Newf("cache.redis_url is required for the %s backend", c.Cache.Backend)
		}
	default:
		return errors.Wrapf(ErrUnknownBackend, "%q", c.Cache.Backend)
	}
	return nil
}

// Backend builds the configured cache backend. Redis is guarded by a circuit
// breaker so an unreachable server costs one fast failure per call instead of
// a timeout. The returned close function releases the Redis connection, if
// any, and is never nil.
func (c *Config) Backend(ctx context.Context, opts ...cache.Option) (cache.Backend, func() error, error) {
	noop := func() error { return nil }
	memory := func() cache.Backend {
		return cache.NewMemory(append([]cache.Option{cache.WithMaxSize(c.Cache.MaxSize)}, opts...)...)
	}
	switch c.Cache.Backend {
	case BackendMemory, "":
		return memory(), noop, nil
	case BackendRistretto:
		b, err := cache.NewRistretto(int64(c.Cache.MaxSize), opts...)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create ristretto cache")
		}
		return b, noop, nil
	case BackendRedis, BackendTiered:
		rdb, err := c.redis(ctx)
		if err != nil {
			return nil, nil, err
		}
		b := cache.NewGuarded(
			cache.NewRedis(rdb, append([]cache.Option{cache.WithPrefix(c.Cache.Prefix)}, opts...)...),
			resilience.New(resilience.DefaultConfig()),
		)
		if c.Cache.Backend == BackendTiered {
			b = cache.NewComposite(memory(), b)
		}
		return b, rdb.Close, nil
	}
	return nil, nil, errors.Wrapf(ErrUnknownBackend, "%q", c.Cache.Backend)
}

func (c *Config) redis(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(c.Cache.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid cache.redis_url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", opts.Addr)
	}
	return rdb, nil
}

// Client returns the client configuration, using backend for memoized
// operations.
func (c *Config) Client(backend cache.Backend, log logger.Logger) client.Config {
	return client.Config{
		BaseURL:      c.BaseURL,
		Token:        c.Token,
		Timeout:      time.Duration(c.Timeout),
		Retries:      c.Retries,
		Headers:      c.Headers,
		CacheBackend: backend,
		Logger:       log,
	}
}

// MemoizeOptions returns the wrapper options implied by the cache section.
func (c *Config) MemoizeOptions() []cache.MemoizeOption {
	return []cache.MemoizeOption{
		cache.WithTTL(c.Cache.TTLOrNever()),
		cache.WithEnabled(c.Cache.IsEnabled()),
	}
}
