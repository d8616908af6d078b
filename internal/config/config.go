// Package config loads statboard settings from an optional YAML file and
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds server settings.
type Config struct {
	Port        int           `yaml:"port" validate:"min=1,max=65535"`
	AdminKey    string        `yaml:"admin_key"`
	DBPath      string        `yaml:"db_path"`
	LogLevel    string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	CORSOrigins []string      `yaml:"cors_origins" validate:"dive,url"`
	RandomOrg   string        `yaml:"random_org_api_key"`
	SessionTTL  time.Duration `yaml:"session_ttl" validate:"gte=1m"`
	MaxStreams  int           `yaml:"max_streams" validate:"min=1"`

	// ActionRate is the sustained number of action clicks per second
	// allowed from one client, with ActionBurst extra.
	ActionRate  float64 `yaml:"action_rate" validate:"gt=0"`
	ActionBurst int     `yaml:"action_burst" validate:"min=1"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:        7003,
		LogLevel:    "info",
		SessionTTL:  30 * time.Minute,
		MaxStreams:  64,
		ActionRate:  5,
		ActionBurst: 10,
	}
}

var validate = validator.New()

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("STATBOARD_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STATBOARD_PORT: %w", err)
		}
		c.Port = n
	}
	if v := os.Getenv("STATBOARD_ADMIN_KEY"); v != "" {
		c.AdminKey = v
	}
	if v := os.Getenv("STATBOARD_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("STATBOARD_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("STATBOARD_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STATBOARD_SESSION_TTL: %w", err)
		}
		c.SessionTTL = d
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.CORSOrigins = append(c.CORSOrigins, origin)
			}
		}
	}
	if v := os.Getenv("RANDOM_ORG_API_KEY"); v != "" {
		c.RandomOrg = v
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
