// Package config provides loading and parsing of tdkit.yaml configuration
// files for the toolkit, the CLI and the gRPC server.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables overriding file settings.
const (
	EnvRedisURL           = "TDKIT_REDIS_URL"
	EnvDirectoryEndpoints = "TDKIT_DIRECTORY_ENDPOINTS"
)

// Config represents a tdkit.yaml configuration file.
type Config struct {
	Log         *LogConfig         `yaml:"log,omitempty"`
	Resolver    *ResolverConfig    `yaml:"resolver,omitempty"`
	Composition *CompositionConfig `yaml:"composition,omitempty"`
	Directory   *DirectoryConfig   `yaml:"directory,omitempty"`
	Server      *ServerConfig      `yaml:"server,omitempty"`
	Telemetry   *TelemetryConfig   `yaml:"telemetry,omitempty"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json". Default: text
	Format string `yaml:"format,omitempty"`
}

// GetLevel returns the configured level, or Info when unset or unknown.
func (l *LogConfig) GetLevel() slog.Level {
	if l == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NewLogger builds a logger writing to w.
func (l *LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.GetLevel()}
	if l != nil && strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ResolverConfig configures how referenced models are fetched.
type ResolverConfig struct {
	// HTTPTimeout bounds one HTTP fetch. Format: Go duration. Default: 10s
	HTTPTimeout string `yaml:"http_timeout,omitempty"`

	// RedisURL enables the shared model cache when set.
	RedisURL string `yaml:"redis_url,omitempty"`

	// CacheTTL is how long cached models live. Default: 1h
	CacheTTL string `yaml:"cache_ttl,omitempty"`

	// KeyPrefix prefixes cache keys. Default: "tdkit:model"
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// GetHTTPTimeout returns the HTTP timeout or the default value.
func (r *ResolverConfig) GetHTTPTimeout() time.Duration {
	if r == nil {
		return 10 * time.Second
	}
	return parseDuration(r.HTTPTimeout, 10*time.Second)
}

// GetCacheTTL returns the cache TTL or the default value.
func (r *ResolverConfig) GetCacheTTL() time.Duration {
	if r == nil {
		return time.Hour
	}
	return parseDuration(r.CacheTTL, time.Hour)
}

// GetKeyPrefix returns the cache key prefix or the default value.
func (r *ResolverConfig) GetKeyPrefix() string {
	if r == nil || r.KeyPrefix == "" {
		return "tdkit:model"
	}
	return r.KeyPrefix
}

// CompositionConfig holds default Thing Model composition options.
type CompositionConfig struct {
	BaseURL         string         `yaml:"base_url,omitempty"`
	SelfComposition bool           `yaml:"self_composition,omitempty"`
	Map             map[string]any `yaml:"map,omitempty"`
}

// DirectoryConfig configures the Thing Description directory.
type DirectoryConfig struct {
	// Type is "memory" or "etcd". Default: memory
	Type string `yaml:"type,omitempty"`

	// Endpoints lists etcd endpoints for the etcd type.
	Endpoints []string `yaml:"endpoints,omitempty"`

	// Namespace prefixes every directory key. Default: "tdkit"
	Namespace string `yaml:"namespace,omitempty"`

	// DefaultLifetime applies to TDs registered without a lifetime.
	// Zero means TDs never expire.
	DefaultLifetime string `yaml:"default_lifetime,omitempty"`

	// DialTimeout bounds the etcd connection. Default: 5s
	DialTimeout string `yaml:"dial_timeout,omitempty"`

	TLS *TLSConfig `yaml:"tls,omitempty"`
}

// GetType returns the directory type or the default value.
func (d *DirectoryConfig) GetType() string {
	if d == nil || d.Type == "" {
		return "memory"
	}
	return strings.ToLower(d.Type)
}

// GetNamespace returns the namespace or the default value.
func (d *DirectoryConfig) GetNamespace() string {
	if d == nil || d.Namespace == "" {
		return "tdkit"
	}
	return d.Namespace
}

// GetDefaultLifetime returns the default TD lifetime; zero means forever.
func (d *DirectoryConfig) GetDefaultLifetime() time.Duration {
	if d == nil {
		return 0
	}
	return parseDuration(d.DefaultLifetime, 0)
}

// GetDialTimeout returns the etcd dial timeout or the default value.
func (d *DirectoryConfig) GetDialTimeout() time.Duration {
	if d == nil {
		return 5 * time.Second
	}
	return parseDuration(d.DialTimeout, 5*time.Second)
}

// ServerConfig configures the gRPC server.
type ServerConfig struct {
	// Port is the TCP port. Default: 50051
	Port int `yaml:"port,omitempty"`

	// GracefulTimeout bounds graceful shutdown. Default: 30s
	GracefulTimeout string `yaml:"graceful_timeout,omitempty"`

	TLSCertFile string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty"`

	// ModelRoot is the directory remote callers may read models from. When
	// empty, the service reads no files.
	ModelRoot string `yaml:"model_root,omitempty"`

	// FetchSchemes lists the remote schemes (http, https) the service may
	// fetch models over. Default: none
	FetchSchemes []string `yaml:"fetch_schemes,omitempty"`
}

// GetPort returns the port or the default value.
func (s *ServerConfig) GetPort() int {
	if s == nil || s.Port <= 0 {
		return 50051
	}
	return s.Port
}

// GetGracefulTimeout returns the shutdown timeout or the default value.
func (s *ServerConfig) GetGracefulTimeout() time.Duration {
	if s == nil {
		return 30 * time.Second
	}
	return parseDuration(s.GracefulTimeout, 30*time.Second)
}

// TelemetryConfig enables span logging.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Default returns an empty configuration; every getter yields its default.
func Default() *Config {
	return &Config{}
}

// Parse decodes YAML configuration and applies environment overrides.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyEnv()
	return &config, nil
}

// Load reads and parses a tdkit.yaml file from the given path.
// If the path is a directory, it looks for tdkit.yaml or tdkit.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"tdkit.yaml", "tdkit.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no tdkit.yaml or tdkit.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadFromDir searches for tdkit.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no tdkit.yaml found in %s or parent directories", dir)
		}
		absDir = parent
	}
}

// ApplyEnv overrides settings from TDKIT_* environment variables.
func (c *Config) ApplyEnv() {
	if url := os.Getenv(EnvRedisURL); url != "" {
		if c.Resolver == nil {
			c.Resolver = &ResolverConfig{}
		}
		c.Resolver.RedisURL = url
	}
	if endpoints := os.Getenv(EnvDirectoryEndpoints); endpoints != "" {
		if c.Directory == nil {
			c.Directory = &DirectoryConfig{}
		}
		c.Directory.Type = "etcd"
		c.Directory.Endpoints = nil
		for _, ep := range strings.Split(endpoints, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.Directory.Endpoints = append(c.Directory.Endpoints, ep)
			}
		}
	}
}
