// ABOUTME: Configuration loading and parsing for meili-gateway
// ABOUTME: Supports YAML or TOML files with ${VAR} expansion, env overlay, and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/meili-gateway/internal/auth"
	"github.com/2389/meili-gateway/internal/llm"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "MEILI_GATEWAY_CONFIG"

// Config represents the complete meili-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Meilisearch MeilisearchConfig `yaml:"meilisearch" toml:"meilisearch"`
	AI          AIConfig          `yaml:"ai" toml:"ai"`
	Session     SessionConfig     `yaml:"session" toml:"session"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener and MCP endpoint settings
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr" toml:"http_addr"`
	Endpoint       string   `yaml:"endpoint" toml:"endpoint"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	SSEKeepAlive    time.Duration `yaml:"-" toml:"-"`
	SSEKeepAliveRaw string        `yaml:"sse_keepalive" toml:"sse_keepalive"`
}

// MeilisearchConfig holds the upstream search engine connection
type MeilisearchConfig struct {
	Host      string  `yaml:"host" toml:"host"`
	APIKey    string  `yaml:"api_key" toml:"api_key"`
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"` // requests per second, 0 = unlimited

	Timeout          time.Duration `yaml:"-" toml:"-"`
	TaskWaitTimeout  time.Duration `yaml:"-" toml:"-"`
	TaskPollInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw          string `yaml:"timeout" toml:"timeout"`
	TaskWaitTimeoutRaw  string `yaml:"task_wait_timeout" toml:"task_wait_timeout"`
	TaskPollIntervalRaw string `yaml:"task_poll_interval" toml:"task_poll_interval"`
}

// AIConfig selects the language-model backend. An empty provider disables
// the natural-language tool.
type AIConfig struct {
	Provider    string `yaml:"provider" toml:"provider"`
	APIKey      string `yaml:"api_key" toml:"api_key"`
	Model       string `yaml:"model" toml:"model"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	MaxTokens   int    `yaml:"max_tokens" toml:"max_tokens"`
	ChunkSize   int    `yaml:"chunk_size" toml:"chunk_size"`
	MaxParallel int    `yaml:"max_parallel" toml:"max_parallel"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// Enabled reports whether a provider is configured.
func (a AIConfig) Enabled() bool { return a.Provider != "" }

// SessionConfig holds idle-session eviction settings
type SessionConfig struct {
	Timeout       time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw       string `yaml:"timeout" toml:"timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// DatabaseConfig holds the audit ledger location. An empty path disables it.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// Enabled reports whether bearer auth is required on the MCP endpoint.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve :443 with tailnet certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:     ":8080",
			Endpoint:     "/mcp",
			SSEKeepAlive: 30 * time.Second,
		},
		Meilisearch: MeilisearchConfig{
			Host:             "http://localhost:7700",
			Timeout:          30 * time.Second,
			TaskWaitTimeout:  5 * time.Second,
			TaskPollInterval: 50 * time.Millisecond,
		},
		AI: AIConfig{
			MaxTokens:   1024,
			ChunkSize:   8000,
			MaxParallel: 4,
			Timeout:     60 * time.Second,
		},
		Session: SessionConfig{
			Timeout: time.Hour,
		},
		Tailscale: TailscaleConfig{
			Hostname: "meili-gateway",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults plus the environment overlay.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Resolve loads the file at path when it exists, then applies the
// environment overlay. A missing file means environment-only configuration.
func Resolve(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := load(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ResolvePath picks the config path: the flag value, then
// MEILI_GATEWAY_CONFIG, then the XDG default.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath()
}

// DefaultPath returns $XDG_CONFIG_HOME/meili-gateway/gateway.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "meili-gateway", "gateway.yaml")
}

// ApplyEnv overlays the recognized environment variables. Millisecond
// values are used for the session timings.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("MEILI_HOST", &c.Meilisearch.Host)
	set("MEILI_API_KEY", &c.Meilisearch.APIKey)
	set("AI_PROVIDER", &c.AI.Provider)
	set("AI_PROVIDER_API_KEY", &c.AI.APIKey)
	set("AI_MODEL", &c.AI.Model)
	set("MCP_ENDPOINT", &c.Server.Endpoint)
	set("MEILI_GATEWAY_JWT_SECRET", &c.Auth.JWTSecret)

	if port, ok := lookup("PORT"); ok && port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("PORT %q is not a valid port", port)
		}
		c.Server.HTTPAddr = ":" + port
	}

	millis := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("%s %q must be a non-negative number of milliseconds", key, v)
		}
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
	if err := millis("SESSION_TIMEOUT", &c.Session.Timeout); err != nil {
		return err
	}
	return millis("SESSION_CLEANUP_INTERVAL", &c.Session.SweepInterval)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if !strings.HasPrefix(c.Server.Endpoint, "/") {
		return fmt.Errorf("server.endpoint must start with /, got %q", c.Server.Endpoint)
	}

	u, err := url.Parse(c.Meilisearch.Host)
	if err != nil {
		return fmt.Errorf("meilisearch.host is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("meilisearch.host must use http or https scheme")
	}
	if c.Meilisearch.RateLimit < 0 {
		return fmt.Errorf("meilisearch.rate_limit must not be negative")
	}

	if c.AI.Enabled() && !slices.Contains(llm.Providers(), c.AI.Provider) {
		return fmt.Errorf("ai.provider %q is not one of %s", c.AI.Provider, strings.Join(llm.Providers(), ", "))
	}
	if c.AI.ChunkSize <= 0 {
		return fmt.Errorf("ai.chunk_size must be positive")
	}
	if c.AI.MaxParallel <= 0 {
		return fmt.Errorf("ai.max_parallel must be positive")
	}

	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}

	if c.Auth.Enabled() && len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.sse_keepalive", cfg.Server.SSEKeepAliveRaw, &cfg.Server.SSEKeepAlive},
		{"meilisearch.timeout", cfg.Meilisearch.TimeoutRaw, &cfg.Meilisearch.Timeout},
		{"meilisearch.task_wait_timeout", cfg.Meilisearch.TaskWaitTimeoutRaw, &cfg.Meilisearch.TaskWaitTimeout},
		{"meilisearch.task_poll_interval", cfg.Meilisearch.TaskPollIntervalRaw, &cfg.Meilisearch.TaskPollInterval},
		{"ai.timeout", cfg.AI.TimeoutRaw, &cfg.AI.Timeout},
		{"session.timeout", cfg.Session.TimeoutRaw, &cfg.Session.Timeout},
		{"session.sweep_interval", cfg.Session.SweepIntervalRaw, &cfg.Session.SweepInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
