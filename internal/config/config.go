// Package config loads service configuration from YAML plus environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"assistgate/internal/cache"
	"assistgate/internal/errdefs"
	"assistgate/internal/llm"
	"assistgate/internal/session"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionConfig  `yaml:"sessions"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	VersionID      string        `yaml:"version_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type SessionConfig struct {
	MaxSessions      int    `yaml:"max_sessions"`
	EvictionStrategy string `yaml:"eviction_strategy"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	MaxSize       int           `yaml:"max_size"`
	Prefix        string        `yaml:"prefix"`
	SQLitePath    string        `yaml:"sqlite_path"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig defines the upstream compute provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Type       string        `yaml:"type"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			VersionID:      "v1",
			RequestTimeout: 15 * time.Second,
			MaxBodyBytes:   512 * 1024,
		},
		Sessions: SessionConfig{
			MaxSessions:      session.DefaultMaxSessions,
			EvictionStrategy: string(session.DefaultEvictionStrategy),
		},
		Cache: CacheConfig{
			Backend:    cache.BackendMemory,
			TTL:        5 * time.Minute,
			MaxSize:    1000,
			Prefix:     "assistgate",
			SQLitePath: "assistgate-cache.db",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Provider: ProviderConfig{
			Type: llm.ProviderOpenAI,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty), expands
// ${VAR} references and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config: %v", errdefs.ErrConfiguration, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	return cfg, nil
}

// applyEnv overrides fields from the process environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Server.Port)
	str("GATEWAY_VERSION", &c.Server.VersionID)
	str("CACHE_BACKEND", &c.Cache.Backend)
	duration("CACHE_TTL", &c.Cache.TTL)
	integer("CACHE_MAX_SIZE", &c.Cache.MaxSize)
	str("REDIS_ADDR", &c.Redis.Addr)
	integer("MAX_SESSIONS", &c.Sessions.MaxSessions)
	str("LLM_PROVIDER", &c.Provider.Type)
	str("LLM_BASE_URL", &c.Provider.BaseURL)
	str("LLM_API_KEY", &c.Provider.APIKey)
	str("LLM_MODEL", &c.Provider.Model)
	str("LOG_LEVEL", &c.Log.Level)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", errdefs.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Validate checks every section and reports all problems at once.
// requireProvider is false for commands that never call the provider.
func (c *Config) Validate(requireProvider bool) error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Sessions.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions must be positive, got %d", c.Sessions.MaxSessions))
	}
	if _, err := session.ParseEvictionStrategy(c.Sessions.EvictionStrategy); err != nil {
		errs = append(errs, err)
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL))
	}
	if c.Cache.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("cache.max_size must not be negative, got %d", c.Cache.MaxSize))
	}
	switch c.Cache.Backend {
	case cache.BackendMemory, cache.BackendRedis, cache.BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if requireProvider {
		pc := c.LLM()
		pc = pc.WithDefaults()
		if err := pc.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errdefs.ErrConfiguration, errors.Join(errs...))
}

// LLM maps the provider section onto the llm package config.
func (c *Config) LLM() llm.Config {
	return llm.Config{
		Provider:        c.Provider.Type,
		BaseURL:         c.Provider.BaseURL,
		APIKey:          c.Provider.APIKey,
		Model:           c.Provider.Model,
		MaxTokens:       c.Provider.MaxTokens,
		UpstreamTimeout: c.Provider.Timeout,
		MaxRetries:      c.Provider.MaxRetries,
	}
}

// SessionStore maps the sessions section onto the session package config.
func (c *Config) SessionStore() session.Config {
	return session.Config{
		MaxSessions:      c.Sessions.MaxSessions,
		EvictionStrategy: c.Sessions.EvictionStrategy,
	}
}

// QueryCache maps the cache section onto the cache package config.
func (c *Config) QueryCache() cache.Config {
	return cache.Config{
		Backend:    c.Cache.Backend,
		TTL:        c.Cache.TTL,
		MaxSize:    c.Cache.MaxSize,
		Prefix:     c.Cache.Prefix,
		SQLitePath: c.Cache.SQLitePath,
	}
}
