package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoadValidFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "0.0.0.0"
  port: 9001

database:
  dsn: "postgres://localhost/missions"
  max_open_conns: 10

audit:
  dir: "/tmp/audit"

supervisor:
  default_timeout: 60s
  trace_dir: "/tmp/traces"

engines:
  claude:
    command: ["claude", "--role", "{ROLE}"]
    workdir: "/work"
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/missions", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, "/tmp/audit", cfg.Audit.Dir)
	assert.Equal(t, 60*time.Second, cfg.Supervisor.DefaultTimeout)
	require.Contains(t, cfg.Engines, "claude")
	assert.Equal(t, []string{"claude", "--role", "{ROLE}"}, cfg.Engines["claude"].Command)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("not: [valid: yaml"), 0o644))

	_, err := Load(configFile)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MISSIONS_HUB_API_BASE", "http://override:9000")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://override:9000", cfg.Signals.BaseURL)
}
