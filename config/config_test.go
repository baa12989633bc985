package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/phalt/clientele-sub001/cache"
	"github.com/phalt/clientele-sub001/client"
	"github.com/phalt/clientele-sub001/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sample = `
base_url: https://pokeapi.co/api/v2
token: ${env:CLIENTELE_TEST_SECRET:-none}
timeout: 45s
retries: 3
headers:
  X-Client: tests
cache:
  enabled: true
  backend: memory
  max_size: 64
  ttl: 1d2h
  prefix: pokeapi
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "https://pokeapi.co/api/v2", c.BaseURL)
	assert.Equal(t, "none", c.Token)
	assert.Equal(t, Duration(45*time.Second), c.Timeout)
	assert.Equal(t, 3, c.Retries)
	assert.Equal(t, map[string]string{"X-Client": "tests"}, c.Headers)
	assert.True(t, c.Cache.IsEnabled())
	assert.Equal(t, BackendMemory, c.Cache.Backend)
	assert.Equal(t, 64, c.Cache.MaxSize)
	assert.Equal(t, 26*time.Hour, c.Cache.TTLOrNever())
	assert.Equal(t, "pokeapi", c.Cache.Prefix)
	assert.NoError(t, c.Validate())
}

func TestParseInterpolatesEnv(t *testing.T) {
	t.Setenv("CLIENTELE_TEST_SECRET", "s3cr3t")
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", c.Token)
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte("base_url: http://localhost:8000\n"))
	require.NoError(t, err)
	assert.True(t, c.Cache.IsEnabled())
	assert.Equal(t, BackendMemory, c.Cache.Backend)
	assert.Equal(t, cache.DefaultMaxSize, c.Cache.MaxSize)
	assert.Equal(t, cache.NoExpiration, c.Cache.TTLOrNever())
}

func TestParseInvalidDuration(t *testing.T) {
	_, err := Parse([]byte("cache:\n  ttl: soon\n"))
	assert.ErrorContains(t, err, `invalid duration "soon"`)
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(struct {
		TTL Duration `yaml:"ttl"`
	}{Duration(90 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, "ttl: 1h30m\n", string(out))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "clientele.yaml")
	require.NoError(t, os.WriteFile(fn, []byte(sample), 0644))

	c, err := Load(fn)
	require.NoError(t, err)
	assert.Equal(t, "https://pokeapi.co/api/v2", c.BaseURL)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, ErrConfigNotFound))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("base_url: [\n"), 0644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "failed to decode YAML config file")
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	t.Setenv(EnvBaseURL, "http://localhost:9000")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvCacheEnabled, "false")
	t.Setenv(EnvCacheBackend, "REDIS")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/1")

	require.NoError(t, c.ApplyEnv())
	assert.Equal(t, "http://localhost:9000", c.BaseURL)
	assert.Equal(t, "env-token", c.Token)
	assert.False(t, c.Cache.IsEnabled())
	assert.Equal(t, BackendRedis, c.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/1", c.Cache.RedisURL)

	t.Setenv(EnvCacheEnabled, "maybe")
	assert.ErrorContains(t, c.ApplyEnv(), EnvCacheEnabled)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.BaseURL = "https://example.com"
		return c
	}
	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.BaseURL = "" }, "missing base_url"},
		{"bad scheme", func(c *Config) { c.BaseURL = "ftp://example.com" }, "scheme must be http or https"},
		{"negative retries", func(c *Config) { c.Retries = -1 }, "retries must be >= 0"},
		{"negative size", func(c *Config) { c.Cache.MaxSize = -5 }, "cache.max_size"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "disk" }, "unknown cache backend"},
		{"redis without url", func(c *Config) { c.Cache.Backend = BackendRedis }, "cache.redis_url is required"},
		{"tiered without url", func(c *Config) { c.Cache.Backend = BackendTiered }, "cache.redis_url is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
	c := valid()
	c.Cache.Backend = "disk"
	assert.True(t, errors.Is(c.Validate(), ErrUnknownBackend))
}

func TestBackendMemory(t *testing.T) {
	ctx := context.Background()
	c := Default()
	c.Cache.MaxSize = 2

	b, closer, err := c.Backend(ctx)
	require.NoError(t, err)
	defer closer()
	mem, ok := b.(*cache.MemoryBackend)
	require.True(t, ok)
	for _, k := range []string{"a", "b", "c"} {
		mem.Set(ctx, k, k, cache.NoExpiration)
	}
	assert.Equal(t, 2, mem.Len())
}

func TestBackendRistretto(t *testing.T) {
	ctx := context.Background()
	c := Default()
	c.Cache.Backend = BackendRistretto

	b, closer, err := c.Backend(ctx)
	require.NoError(t, err)
	defer closer()
	require.NoError(t, b.Set(ctx, "k", "v", time.Minute))
	found, val, err := b.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)
}

func TestBackendRistrettoReportsEvictions(t *testing.T) {
	ctx := context.Background()
	c := Default()
	c.Cache.Backend = BackendRistretto
	c.Cache.MaxSize = 1

	var evictions int
	b, closer, err := c.Backend(ctx, cache.WithOnEvict(func(string, any) { evictions++ }))
	require.NoError(t, err)
	defer closer()
	require.NoError(t, b.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, b.Set(ctx, "b", 2, time.Minute))
	assert.Equal(t, 1, evictions)
}

func TestBackendRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := Default()
	c.Cache.Backend = BackendRedis
	c.Cache.RedisURL = "redis://" + mr.Addr()
	c.Cache.Prefix = "pokeapi"

	b, closer, err := c.Backend(ctx)
	require.NoError(t, err)
	defer closer()
	require.NoError(t, b.Set(ctx, "GET:/pokemon", "v", time.Minute))
	assert.True(t, mr.Exists("pokeapi:GET:/pokemon"))
}

func TestBackendTiered(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := Default()
	c.Cache.Backend = BackendTiered
	c.Cache.RedisURL = "redis://" + mr.Addr()

	b, closer, err := c.Backend(ctx)
	require.NoError(t, err)
	defer closer()
	require.NoError(t, b.Set(ctx, "k", "v", time.Minute))
	assert.True(t, mr.Exists("k"))

	// served from the memory layer even once redis forgets it
	mr.FlushAll()
	ok, val, err := cache.Get[string](ctx, b, "k")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestBackendRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := Default()
	c.Cache.Backend = BackendRedis
	c.Cache.RedisURL = "redis://" + addr
	_, _, err := c.Backend(context.Background())
	assert.ErrorContains(t, err, "failed to connect to redis")

	c.Cache.RedisURL = "not a url"
	_, _, err = c.Backend(context.Background())
	assert.ErrorContains(t, err, "invalid cache.redis_url")
}

func TestBackendUnknown(t *testing.T) {
	c := Default()
	c.Cache.Backend = "disk"
	_, _, err := c.Backend(context.Background())
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestClientAndMemoizeOptions(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	backend := cache.NewMemory()
	log := logger.NewTestLogger()

	cc := c.Client(backend, log)
	assert.Equal(t, c.BaseURL, cc.BaseURL)
	assert.Equal(t, "none", cc.Token)
	assert.Equal(t, 45*time.Second, cc.Timeout)
	assert.Equal(t, 3, cc.Retries)
	assert.Same(t, backend, cc.CacheBackend)
	assert.Same(t, log, cc.Logger)
	assert.Len(t, c.MemoizeOptions(), 2)

	c.Retries = 0
	assert.NoError(t, c.Validate())
	assert.Equal(t, client.DefaultRetries, client.New(c.Client(backend, log)).Config().Retries,
		"zero retries means the client default")

	// disabled caching bypasses the backend entirely
	f := false
	c.Cache.Enabled = &f
	var calls int
	op := cache.Func(cache.NewSignature("f"), func(context.Context, cache.Call) (int, error) {
		calls++
		return calls, nil
	})
	wrapped := cache.Memoize(op, append(c.MemoizeOptions(), cache.WithBackend(backend))...)
	wrapped(context.Background(), cache.Call{})
	wrapped(context.Background(), cache.Call{})
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, backend.Len())
}
