// Package config loads medistream's YAML configuration. One file serves both the
// API server and the streaming client; each binary reads the sections it needs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	Port          int    `yaml:"port" json:"port"`
	Debug         bool   `yaml:"debug" json:"debug"`
	LoggingToFile bool   `yaml:"logging-to-file" json:"logging-to-file"`
	ProxyURL      string `yaml:"proxy-url" json:"proxy-url"`

	// KeepAliveSeconds shuts the server down after this many idle seconds without a
	// /keep-alive ping. Zero disables the endpoint.
	KeepAliveSeconds int `yaml:"keep-alive-seconds" json:"keep-alive-seconds"`

	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`
	Limits   LimitsConfig   `yaml:"limits" json:"limits"`
	Prompts  PromptsConfig  `yaml:"prompts" json:"prompts"`
	Usage    UsageConfig    `yaml:"usage" json:"usage"`
	Client   ClientConfig   `yaml:"client" json:"client"`
}

// AuthConfig selects how the server verifies bearer tokens. The first non-empty
// option wins: JWKSURL, then HMACSecret, then APIKeys.
type AuthConfig struct {
	JWKSURL    string   `yaml:"jwks-url" json:"jwks-url"`
	HMACSecret string   `yaml:"hmac-secret" json:"-"`
	Issuer     string   `yaml:"issuer" json:"issuer"`
	APIKeys    []string `yaml:"api-keys" json:"-"`
	// Disabled accepts every request as the anonymous subject. Local development only.
	Disabled bool `yaml:"disabled" json:"disabled"`
}

// UpstreamConfig describes the LLM the server streams completions from.
type UpstreamConfig struct {
	Provider       string `yaml:"provider" json:"provider"`
	BaseURL        string `yaml:"base-url" json:"base-url"`
	APIKey         string `yaml:"api-key" json:"-"`
	Model          string `yaml:"model" json:"model"`
	TimeoutSeconds int    `yaml:"timeout-seconds" json:"timeout-seconds"`
}

type LimitsConfig struct {
	MaxPromptTokens int `yaml:"max-prompt-tokens" json:"max-prompt-tokens"`
}

// PromptsConfig overrides the built-in system prompts. Empty values keep the defaults.
type PromptsConfig struct {
	Consultation string `yaml:"consultation" json:"consultation"`
	Idea         string `yaml:"idea" json:"idea"`
}

type UsageConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	DBPath            string `yaml:"db-path" json:"db-path"`
	BatchSize         int    `yaml:"batch-size" json:"batch-size"`
	FlushIntervalSecs int    `yaml:"flush-interval-secs" json:"flush-interval-secs"`
	RetentionDays     int    `yaml:"retention-days" json:"retention-days"`
}

// ClientConfig configures the streaming client.
type ClientConfig struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	RetryIntervalMs int    `yaml:"retry-interval-ms" json:"retry-interval-ms"`
	// MaxRetries bounds reconnection attempts after a failed stream. Zero means unlimited.
	MaxRetries int    `yaml:"max-retries" json:"max-retries"`
	Token      string `yaml:"token" json:"-"`
	TokenEnv   string `yaml:"token-env" json:"token-env"`
	OAuth      OAuth  `yaml:"oauth" json:"oauth"`
}

// OAuth configures a client-credentials or refresh-token flow used as the client's
// credential source.
type OAuth struct {
	TokenURL     string   `yaml:"token-url" json:"token-url"`
	ClientID     string   `yaml:"client-id" json:"client-id"`
	ClientSecret string   `yaml:"client-secret" json:"-"`
	RefreshToken string   `yaml:"refresh-token" json:"-"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// Enabled reports whether enough is configured to mint tokens.
func (o OAuth) Enabled() bool {
	return strings.TrimSpace(o.TokenURL) != "" && strings.TrimSpace(o.ClientID) != ""
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultPort     = 8000
	DefaultModel    = "gpt-5-nano"
	DefaultEndpoint = "http://localhost:8000/api"
)

// NewDefaultConfig creates a Config with defaults that allow a zero-config start.
func NewDefaultConfig() *Config {
	return &Config{
		Port: DefaultPort,
		Upstream: UpstreamConfig{
			Provider:       ProviderOpenAI,
			BaseURL:        "https://api.openai.com/v1",
			Model:          DefaultModel,
			TimeoutSeconds: 300,
		},
		Limits: LimitsConfig{MaxPromptTokens: 16000},
		Usage: UsageConfig{
			DBPath:            "~/.local/share/medistream/usage.db",
			BatchSize:         50,
			FlushIntervalSecs: 5,
			RetentionDays:     90,
		},
		Client: ClientConfig{
			Endpoint:        DefaultEndpoint,
			RetryIntervalMs: 1000,
			MaxRetries:      3,
			TokenEnv:        "MEDISTREAM_TOKEN",
		},
	}
}

// LoadConfig reads a YAML configuration file and fails when it is missing.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile. When optional is true a missing or
// empty file yields the defaults instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg := NewDefaultConfig()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if optional && len(strings.TrimSpace(string(data))) == 0 {
		cfg := NewDefaultConfig()
		cfg.applyEnv()
		return cfg, nil
	}

	cfg := *NewDefaultConfig()
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyEnv()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv fills secrets from the environment when the file leaves them empty.
func (c *Config) applyEnv() {
	if c.Upstream.APIKey == "" {
		switch c.Upstream.Provider {
		case ProviderGemini:
			c.Upstream.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		default:
			c.Upstream.APIKey = firstEnv("OPENAI_API_KEY")
		}
	}
	if c.Auth.JWKSURL == "" {
		c.Auth.JWKSURL = firstEnv("CLERK_JWKS_URL", "JWKS_URL")
	}
	if c.Auth.HMACSecret == "" {
		c.Auth.HMACSecret = firstEnv("MEDISTREAM_JWT_SECRET")
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Upstream.Provider {
	case ProviderOpenAI, ProviderGemini:
	case "":
		c.Upstream.Provider = ProviderOpenAI
	default:
		return fmt.Errorf("config: unsupported upstream provider %q", c.Upstream.Provider)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("config: client.max-retries must not be negative")
	}
	return nil
}

// ExpandPath resolves a leading ~ and $XDG_CONFIG_HOME in path.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "$XDG_CONFIG_HOME") {
		xdg := os.Getenv("XDG_CONFIG_HOME")
		if xdg == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("expand path: %w", err)
			}
			xdg = filepath.Join(home, ".config")
		}
		rest := strings.TrimLeft(strings.TrimPrefix(path, "$XDG_CONFIG_HOME"), "/\\")
		return filepath.Clean(filepath.Join(xdg, filepath.FromSlash(rest))), nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand path: %w", err)
		}
		rest := strings.TrimLeft(strings.TrimPrefix(path, "~"), "/\\")
		return filepath.Clean(filepath.Join(home, filepath.FromSlash(rest))), nil
	}
	return filepath.Clean(path), nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
