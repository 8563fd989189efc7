// Package config loads service configuration from an optional YAML file and
// the environment. Environment variables use the upper-cased key path with
// dots replaced by underscores, e.g. MODERATION_BAN_DURATION_MS or
// REDIS_ADDR.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/whisper/stream-moderation/internal/logging"
	"github.com/whisper/stream-moderation/internal/moderation"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Moderation ModerationConfig `mapstructure:"moderation"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
}

// ModerationConfig mirrors the engine options. Empty word lists fall back to
// the built-in lists.
type ModerationConfig struct {
	ProfanityWords          []string `mapstructure:"profanity_words"`
	SecondaryWords          []string `mapstructure:"secondary_words"`
	BanDurationMs           int64    `mapstructure:"ban_duration_ms"`
	WarningThreshold        int      `mapstructure:"warning_threshold"`
	SevereSeverityThreshold int      `mapstructure:"severe_severity_threshold"`
}

// RedisConfig selects Redis-backed stores. With Enabled false the service
// keeps all state in memory.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("moderation.ban_duration_ms", moderation.DefaultBanDuration.Milliseconds())
	v.SetDefault("moderation.warning_threshold", moderation.DefaultWarningThreshold)
	v.SetDefault("moderation.severe_severity_threshold", int(moderation.DefaultSevereThreshold))

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "stream-moderator")

	v.SetDefault("http.addr", ":9090")
	v.SetDefault("log.level", "info")
}

// Load reads configuration. An empty path means environment only; a
// non-empty path must name a readable YAML file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// word lists have no default, so they must be bound explicitly
	_ = v.BindEnv("moderation.profanity_words")
	_ = v.BindEnv("moderation.secondary_words")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	m := c.Moderation
	if m.BanDurationMs <= 0 {
		return fmt.Errorf("%w: moderation.ban_duration_ms must be positive, got %d", ErrInvalid, m.BanDurationMs)
	}
	if m.WarningThreshold <= 0 {
		return fmt.Errorf("%w: moderation.warning_threshold must be positive, got %d", ErrInvalid, m.WarningThreshold)
	}
	if m.SevereSeverityThreshold < int(moderation.SeverityLow) || m.SevereSeverityThreshold > int(moderation.SeverityHigh) {
		return fmt.Errorf("%w: moderation.severe_severity_threshold must be between %d and %d, got %d",
			ErrInvalid, moderation.SeverityLow, moderation.SeverityHigh, m.SevereSeverityThreshold)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required when redis is enabled", ErrInvalid)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("%w: nats.url is required", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	return nil
}

// Policy converts the moderation options into an engine policy.
func (m ModerationConfig) Policy() moderation.Policy {
	p := moderation.Policy{
		BanDuration:      time.Duration(m.BanDurationMs) * time.Millisecond,
		WarningThreshold: m.WarningThreshold,
		SevereThreshold:  moderation.Severity(m.SevereSeverityThreshold),
	}
	if len(m.ProfanityWords) > 0 {
		p.ProfanityWords = m.ProfanityWords
	}
	if len(m.SecondaryWords) > 0 {
		p.SecondaryWords = m.SecondaryWords
	}
	return p
}
