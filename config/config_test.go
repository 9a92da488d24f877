package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
  format: json
resolver:
  http_timeout: 2s
  redis_url: redis://cache:6379/0
  cache_ttl: 15m
composition:
  base_url: http://models.example.com
  self_composition: true
  map:
    SERIAL: "1234"
    MAX_SPEED: 10
directory:
  type: etcd
  endpoints: [etcd-0:2379, etcd-1:2379]
  namespace: things
  default_lifetime: 1h
server:
  port: 6000
  model_root: /srv/models
  fetch_schemes: [https]
telemetry:
  enabled: true
  service_name: tdkit-test
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Log.GetLevel())
	assert.Equal(t, 2*time.Second, cfg.Resolver.GetHTTPTimeout())
	assert.Equal(t, 15*time.Minute, cfg.Resolver.GetCacheTTL())
	assert.Equal(t, "redis://cache:6379/0", cfg.Resolver.RedisURL)
	assert.Equal(t, "tdkit:model", cfg.Resolver.GetKeyPrefix())

	assert.Equal(t, "http://models.example.com", cfg.Composition.BaseURL)
	assert.True(t, cfg.Composition.SelfComposition)
	assert.Equal(t, "1234", cfg.Composition.Map["SERIAL"])
	assert.Equal(t, 10, cfg.Composition.Map["MAX_SPEED"])

	assert.Equal(t, "etcd", cfg.Directory.GetType())
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.Directory.Endpoints)
	assert.Equal(t, "things", cfg.Directory.GetNamespace())
	assert.Equal(t, time.Hour, cfg.Directory.GetDefaultLifetime())
	assert.Equal(t, 5*time.Second, cfg.Directory.GetDialTimeout())

	assert.Equal(t, 6000, cfg.Server.GetPort())
	assert.Equal(t, 30*time.Second, cfg.Server.GetGracefulTimeout())
	assert.Equal(t, "/srv/models", cfg.Server.ModelRoot)
	assert.Equal(t, []string{"https"}, cfg.Server.FetchSchemes)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, slog.LevelInfo, cfg.Log.GetLevel())
	assert.Equal(t, 10*time.Second, cfg.Resolver.GetHTTPTimeout())
	assert.Equal(t, time.Hour, cfg.Resolver.GetCacheTTL())
	assert.Equal(t, "memory", cfg.Directory.GetType())
	assert.Equal(t, "tdkit", cfg.Directory.GetNamespace())
	assert.Zero(t, cfg.Directory.GetDefaultLifetime())
	assert.Equal(t, 50051, cfg.Server.GetPort())
}

func TestInvalidDurationsFallBack(t *testing.T) {
	cfg, err := Parse([]byte("resolver:\n  http_timeout: soon\nserver:\n  graceful_timeout: later\n"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Resolver.GetHTTPTimeout())
	assert.Equal(t, 30*time.Second, cfg.Server.GetGracefulTimeout())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("log: [unterminated"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvRedisURL, "redis://env:6379")
	t.Setenv(EnvDirectoryEndpoints, "a:2379, b:2379,")

	cfg, err := Parse([]byte("log:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, "redis://env:6379", cfg.Resolver.RedisURL)
	assert.Equal(t, "etcd", cfg.Directory.GetType())
	assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.Directory.Endpoints)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tdkit.yml"), []byte(sampleConfig), 0o600))

	t.Run("directory", func(t *testing.T) {
		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, 6000, cfg.Server.GetPort())
	})

	t.Run("file", func(t *testing.T) {
		cfg, err := Load(filepath.Join(dir, "tdkit.yml"))
		require.NoError(t, err)
		assert.Equal(t, "things", cfg.Directory.GetNamespace())
	})

	t.Run("walks up", func(t *testing.T) {
		nested := filepath.Join(dir, "a", "b")
		require.NoError(t, os.MkdirAll(nested, 0o755))
		cfg, err := LoadFromDir(nested)
		require.NoError(t, err)
		assert.True(t, cfg.Composition.SelfComposition)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Load(t.TempDir())
		assert.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := (&LogConfig{Level: "warn", Format: "json"}).NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "uri", "file://lamp.tm.json")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"uri":"file://lamp.tm.json"`)
}

func TestTLSConfig(t *testing.T) {
	var disabled *TLSConfig
	cfg, err := disabled.ClientConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = (&TLSConfig{Enabled: true}).ClientConfig()
	assert.ErrorContains(t, err, "cert file")

	_, err = (&TLSConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem"}).ClientConfig()
	assert.ErrorContains(t, err, "CA file")

	_, err = (&TLSConfig{Enabled: true, CertFile: "missing.pem", KeyFile: "missing.pem", CAFile: "ca.pem"}).ClientConfig()
	assert.ErrorContains(t, err, "failed to load client certificate")
}
