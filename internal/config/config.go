// Package config loads hubd settings from the environment and an optional
// config file.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type SessionCfg struct {
	Token     string `mapstructure:"token"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type ServerCfg struct {
	URL                      string `mapstructure:"url"`
	DirectoryURL             string `mapstructure:"directory_url"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds"`
	HandshakeTimeoutSeconds  int    `mapstructure:"handshake_timeout_seconds"`
	WriteTimeoutSeconds      int    `mapstructure:"write_timeout_seconds"`
	BackoffBaseMillis        int    `mapstructure:"backoff_base_ms"`
	BackoffCapSeconds        int    `mapstructure:"backoff_cap_seconds"`
	Compress                 bool   `mapstructure:"compress"`
}

type HubCfg struct {
	QueueSize              int  `mapstructure:"queue_size"`
	Retention              int  `mapstructure:"retention"`
	CountBroadcast         bool `mapstructure:"count_broadcast"`
	TypingTTLMillis        int  `mapstructure:"typing_ttl_ms"`
	TypingIntervalMillis   int  `mapstructure:"typing_interval_ms"`
	BackfillTimeoutSeconds int  `mapstructure:"backfill_timeout_seconds"`
	MaxMessageLength       int  `mapstructure:"max_message_length"`
}

type DirectoryCfg struct {
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	RetryMaxElapsedSeconds int    `mapstructure:"retry_max_elapsed_seconds"`
	BreakerMaxFailures     uint32 `mapstructure:"breaker_max_failures"`
	BreakerTimeoutSeconds  int    `mapstructure:"breaker_timeout_seconds"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type BridgeCfg struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	Env         string       `mapstructure:"env"`
	LogLevel    string       `mapstructure:"log_level"`
	DatabaseDSN string       `mapstructure:"database_dsn"`
	Session     SessionCfg   `mapstructure:"session"`
	Server      ServerCfg    `mapstructure:"server"`
	Hub         HubCfg       `mapstructure:"hub"`
	Directory   DirectoryCfg `mapstructure:"directory"`
	Redis       RedisCfg     `mapstructure:"redis"`
	Bridge      BridgeCfg    `mapstructure:"bridge"`

	// Derived
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	TypingTTL         time.Duration
	TypingInterval    time.Duration
	BackfillTimeout   time.Duration
	DirectoryTimeout  time.Duration
	RetryMaxElapsed   time.Duration
	BreakerTimeout    time.Duration
}

var ErrMissingServerURL = errors.New("server url is required (HUB_SERVER_URL)")

func (c *Config) Development() bool {
	return c.Env == "" || c.Env == "development"
}

// Load reads .env (if present), then HUB_* environment variables and the
// optional config file at path. Nested keys map to env names with dots
// replaced by underscores: HUB_SERVER_URL, HUB_REDIS_ADDR.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.Bridge.AllowedOrigins = splitList(strings.Join(c.Bridge.AllowedOrigins, ","))

	if c.Server.URL == "" {
		return nil, ErrMissingServerURL
	}
	if c.Server.DirectoryURL == "" {
		c.Server.DirectoryURL = directoryFromSocket(c.Server.URL)
	}

	c.HeartbeatInterval = seconds(c.Server.HeartbeatIntervalSeconds)
	c.HandshakeTimeout = seconds(c.Server.HandshakeTimeoutSeconds)
	c.WriteTimeout = seconds(c.Server.WriteTimeoutSeconds)
	c.BackoffBase = time.Duration(c.Server.BackoffBaseMillis) * time.Millisecond
	c.BackoffCap = seconds(c.Server.BackoffCapSeconds)
	c.TypingTTL = time.Duration(c.Hub.TypingTTLMillis) * time.Millisecond
	c.TypingInterval = time.Duration(c.Hub.TypingIntervalMillis) * time.Millisecond
	c.BackfillTimeout = seconds(c.Hub.BackfillTimeoutSeconds)
	c.DirectoryTimeout = seconds(c.Directory.TimeoutSeconds)
	c.RetryMaxElapsed = seconds(c.Directory.RetryMaxElapsedSeconds)
	c.BreakerTimeout = seconds(c.Directory.BreakerTimeoutSeconds)
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_dsn", "")
	v.SetDefault("session.token", "")
	v.SetDefault("session.jwt_secret", "")

	v.SetDefault("server.url", "")
	v.SetDefault("server.directory_url", "")
	v.SetDefault("server.heartbeat_interval_seconds", 30)
	v.SetDefault("server.handshake_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 10)
	v.SetDefault("server.backoff_base_ms", 500)
	v.SetDefault("server.backoff_cap_seconds", 30)
	v.SetDefault("server.compress", false)

	v.SetDefault("hub.queue_size", 256)
	v.SetDefault("hub.retention", 500)
	v.SetDefault("hub.count_broadcast", false)
	v.SetDefault("hub.typing_ttl_ms", 3000)
	v.SetDefault("hub.typing_interval_ms", 2000)
	v.SetDefault("hub.backfill_timeout_seconds", 15)
	v.SetDefault("hub.max_message_length", 4000)

	v.SetDefault("directory.timeout_seconds", 10)
	v.SetDefault("directory.retry_max_elapsed_seconds", 30)
	v.SetDefault("directory.breaker_max_failures", 5)
	v.SetDefault("directory.breaker_timeout_seconds", 30)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "omhub:")

	v.SetDefault("bridge.addr", "127.0.0.1:7070")
	v.SetDefault("bridge.allowed_origins", []string{"http://localhost:3000"})
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// directoryFromSocket derives the REST base from the socket URL:
// wss://host/ws becomes https://host/api.
func directoryFromSocket(u string) string {
	u = strings.Replace(u, "wss://", "https://", 1)
	u = strings.Replace(u, "ws://", "http://", 1)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, "/ws")
	return u + "/api"
}
