package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 7003, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
port: 8080
log_level: debug
session_ttl: 2h
cors_origins:
  - https://stats.example.com
action_rate: 1.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"https://stats.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, 1.5, cfg.ActionRate)
	// Unset keys keep their defaults.
	assert.Equal(t, 64, cfg.MaxStreams)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "port: 8080\n")
	t.Setenv("STATBOARD_PORT", "9090")
	t.Setenv("STATBOARD_ADMIN_KEY", "secret")
	t.Setenv("STATBOARD_LOG_LEVEL", "WARN")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("RANDOM_ORG_API_KEY", "rk")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "secret", cfg.AdminKey)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "rk", cfg.RandomOrg)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "port out of range", body: "port: 70000\n"},
		{name: "unknown log level", body: "log_level: loud\n"},
		{name: "short ttl", body: "session_ttl: 10s\n"},
		{name: "bad origin", body: "cors_origins: [\"not a url\"]\n"},
		{name: "zero rate", body: "action_rate: 0\n"},
		{name: "malformed yaml", body: "port: [\n"},
		{name: "bad env port", env: map[string]string{"STATBOARD_PORT": "eighty"}},
		{name: "bad env ttl", env: map[string]string{"STATBOARD_SESSION_TTL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeFile(t, tt.body)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
