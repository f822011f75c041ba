package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir into an empty dir so a developer's .env never leaks into the test
func isolate(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, env := range bindings {
		t.Setenv(env, "")
		require.NoError(t, os.Unsetenv(env))
	}
	t.Setenv("CONFIG_FILE", "")
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 25*time.Second, cfg.WS.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WS.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Fanout.IdleTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Empty(t, cfg.Redis.Addrs)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://quiz@localhost/quiz")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDRS", "r1:6379, r2:6379")
	t.Setenv("WS_PING_INTERVAL", "10s")
	t.Setenv("LOG_DEV", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 10*time.Second, cfg.WS.PingInterval)
	assert.True(t, cfg.LogDev)
}

func TestLoad_DotEnvAndConfigFile(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("JWT_SECRET=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("JWT_SECRET") })

	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\nfanout:\n  idle_ttl: 1m\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.JWTSecret)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, time.Minute, cfg.Fanout.IdleTTL)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver: DriverMemory,
			JWTSecret:   "x",
			WS:          WSConfig{PingInterval: time.Second, ReadTimeout: 2 * time.Second, OutboxSize: 8},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "missing secret", mutate: func(c *Config) { c.JWTSecret = "" }},
		{name: "postgres without url", mutate: func(c *Config) { c.StoreDriver = DriverPostgres }},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "mongo" }},
		{name: "redis without addrs", mutate: func(c *Config) { c.Redis.Enabled = true }},
		{name: "read timeout shorter than ping", mutate: func(c *Config) { c.WS.ReadTimeout = time.Second / 2 }},
		{name: "zero outbox", mutate: func(c *Config) { c.WS.OutboxSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
