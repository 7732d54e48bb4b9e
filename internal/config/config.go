package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultJWTSecret is the placeholder secret; it is only accepted in debug mode.
const DefaultJWTSecret = "secret"

// EnvPrefix marks environment variables read by the loader (BDC_CACHE__IN_DEBUG -> cache.in_debug).
const EnvPrefix = "BDC_"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Cache      CacheConfig      `koanf:"cache"`
	Auth       AuthConfig       `koanf:"auth"`
	Logging    LoggingConfig    `koanf:"logging"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	QueryStats QueryStatsConfig `koanf:"query_stats"`
}

type ServerConfig struct {
	Port  int  `koanf:"port"`
	Debug bool `koanf:"debug"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
	// SlowQueryMS is the elapsed time above which a statement is logged as slow.
	SlowQueryMS int `koanf:"slow_query_ms"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

// CacheConfig selects the cache backend and the response cache defaults.
type CacheConfig struct {
	Backend               string `koanf:"backend"`
	Namespace             string `koanf:"namespace"`
	DefaultTimeoutSeconds int    `koanf:"default_timeout_seconds"`
	// InDebug keeps response caching active while server.debug is on.
	InDebug          bool `koanf:"in_debug"`
	MemoryMaxEntries int  `koanf:"memory_max_entries"`
}

type AuthConfig struct {
	JWTSecret       string `koanf:"jwt_secret"`
	TokenTTLMinutes int    `koanf:"token_ttl_minutes"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RateLimitConfig struct {
	Enabled bool `koanf:"enabled"`
	PerHour int  `koanf:"per_hour"`
}

type QueryStatsConfig struct {
	Buffer int `koanf:"buffer"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{SlowQueryMS: 500},
		Redis:    RedisConfig{URL: "redis://localhost:6379"},
		Cache: CacheConfig{
			Backend:               "redis",
			Namespace:             "bdc:",
			DefaultTimeoutSeconds: 300,
			MemoryMaxEntries:      10000,
		},
		Auth:       AuthConfig{JWTSecret: DefaultJWTSecret, TokenTTLMinutes: 24 * 60},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		RateLimit:  RateLimitConfig{PerHour: 1000},
		QueryStats: QueryStatsConfig{Buffer: 1024},
	}
}

// Load reads .env, then layers defaults, the optional YAML file, the legacy
// variables and finally BDC_-prefixed variables.
func Load(ctx context.Context, path string) (Config, error) {
	godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(toMap(Default()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(confmap.Provider(legacyEnv(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load legacy env: %w", err)
	}

	transform := func(s string) string {
		key := strings.TrimPrefix(s, EnvPrefix)
		key = strings.ReplaceAll(strings.ToLower(key), "__", ".")
		return key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the rest of the application cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "redis", "valkey", "memory":
	default:
		return fmt.Errorf("config: unsupported cache.backend %q", c.Cache.Backend)
	}
	if c.Cache.DefaultTimeoutSeconds <= 0 {
		return errors.New("config: cache.default_timeout_seconds must be positive")
	}
	if c.Database.SlowQueryMS <= 0 {
		return errors.New("config: database.slow_query_ms must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret required")
	}
	if c.Auth.JWTSecret == DefaultJWTSecret && !c.Server.Debug {
		return errors.New("config: auth.jwt_secret must be changed from the default outside debug mode")
	}
	if c.RateLimit.Enabled && c.RateLimit.PerHour <= 0 {
		return errors.New("config: rate_limit.per_hour must be positive when enabled")
	}
	return nil
}

// legacyEnv maps the variable names used before the BDC_ prefix existed.
func legacyEnv() map[string]any {
	out := map[string]any{}
	if v := getEnv("DATABASE_URL", ""); v != "" {
		out["database.url"] = v
	}
	if v := getEnv("REDIS_URL", ""); v != "" {
		out["redis.url"] = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		out["auth.jwt_secret"] = v
	}
	if v := getEnv("SERVER_PORT", ""); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			out["server.port"] = port
		}
	}
	if v := getEnv("DEBUG", ""); v != "" {
		out["server.debug"] = isTrue(v)
	}
	if v := getEnv("CACHE_IN_DEBUG", ""); v != "" {
		out["cache.in_debug"] = isTrue(v)
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func toMap(cfg Config) map[string]any {
	return map[string]any{
		"server.port":                   cfg.Server.Port,
		"server.debug":                  cfg.Server.Debug,
		"database.url":                  cfg.Database.URL,
		"database.slow_query_ms":        cfg.Database.SlowQueryMS,
		"redis.url":                     cfg.Redis.URL,
		"cache.backend":                 cfg.Cache.Backend,
		"cache.namespace":               cfg.Cache.Namespace,
		"cache.default_timeout_seconds": cfg.Cache.DefaultTimeoutSeconds,
		"cache.in_debug":                cfg.Cache.InDebug,
		"cache.memory_max_entries":      cfg.Cache.MemoryMaxEntries,
		"auth.jwt_secret":               cfg.Auth.JWTSecret,
		"auth.token_ttl_minutes":        cfg.Auth.TokenTTLMinutes,
		"logging.level":                 cfg.Logging.Level,
		"logging.format":                cfg.Logging.Format,
		"rate_limit.enabled":            cfg.RateLimit.Enabled,
		"rate_limit.per_hour":           cfg.RateLimit.PerHour,
		"query_stats.buffer":            cfg.QueryStats.Buffer,
	}
}
