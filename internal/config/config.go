// Package config loads server settings from the environment, an optional .env
// file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	StoreDriver string `mapstructure:"store_driver"`
	DatabaseURL string `mapstructure:"database_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`

	LogLevel string `mapstructure:"log_level"`
	LogDev   bool   `mapstructure:"log_dev"`

	WS     WSConfig     `mapstructure:"ws"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Fanout FanoutConfig `mapstructure:"fanout"`
}

type WSConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	OutboxSize   int           `mapstructure:"outbox_size"`
}

type RedisConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Addrs         []string `mapstructure:"addrs"`
	Password      string   `mapstructure:"password"`
	DB            int      `mapstructure:"db"`
	MasterName    string   `mapstructure:"master_name"`
	ChannelPrefix string   `mapstructure:"channel_prefix"`
}

type FanoutConfig struct {
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

var bindings = map[string]string{
	"http_addr":            "HTTP_ADDR",
	"store_driver":         "STORE_DRIVER",
	"database_url":         "DATABASE_URL",
	"jwt_secret":           "JWT_SECRET",
	"log_level":            "LOG_LEVEL",
	"log_dev":              "LOG_DEV",
	"ws.ping_interval":     "WS_PING_INTERVAL",
	"ws.read_timeout":      "WS_READ_TIMEOUT",
	"ws.outbox_size":       "WS_OUTBOX_SIZE",
	"redis.enabled":        "REDIS_ENABLED",
	"redis.addrs":          "REDIS_ADDRS",
	"redis.password":       "REDIS_PASSWORD",
	"redis.db":             "REDIS_DB",
	"redis.master_name":    "REDIS_MASTER_NAME",
	"redis.channel_prefix": "REDIS_CHANNEL_PREFIX",
	"fanout.idle_ttl":      "FANOUT_IDLE_TTL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("store_driver", DriverMemory)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_dev", false)
	v.SetDefault("ws.ping_interval", 25*time.Second)
	v.SetDefault("ws.read_timeout", 60*time.Second)
	v.SetDefault("ws.outbox_size", 32)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.channel_prefix", "quiz:session:")
	v.SetDefault("fanout.idle_ttl", 5*time.Minute)
}

// Load reads .env (if present), then the file named by CONFIG_FILE (if set), then the
// environment. Environment wins.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	_ = v.BindEnv("config_file", "CONFIG_FILE")

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Redis.Addrs = splitAddrs(cfg.Redis.Addrs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitAddrs(in []string) []string {
	out := []string{}
	for _, a := range in {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Redis.Enabled && len(c.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("REDIS_ADDRS is required when REDIS_ENABLED=true"))
	}
	if c.WS.PingInterval <= 0 || c.WS.ReadTimeout <= c.WS.PingInterval {
		errs = append(errs, errors.New("WS_READ_TIMEOUT must be longer than a positive WS_PING_INTERVAL"))
	}
	if c.WS.OutboxSize <= 0 {
		errs = append(errs, errors.New("WS_OUTBOX_SIZE must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", multierr.Combine(errs...))
	}
	return nil
}
