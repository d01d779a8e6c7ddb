// Package config loads taskchat configuration from $TASKCHAT_HOME/config.yaml
// with defaults and environment overrides.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/basket/taskchat/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// ProviderConfig holds per-provider settings for multi-provider LLM support.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LLMConfig holds configuration for all LLM providers.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic",
	// "openai", "openai_compatible".
	Provider string `yaml:"provider"`

	GeminiModel    string `yaml:"gemini_model"`
	AnthropicModel string `yaml:"anthropic_model"`
	OpenAIModel    string `yaml:"openai_model"`

	// OpenAICompatible config.
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	// JWTSecret signs access tokens. TASKCHAT_JWT_SECRET overrides.
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTLMinutes is the access token lifetime. Default 60.
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	// RecurrenceSpec is the cron spec for the recurring-task roll job.
	// Default "@hourly".
	RecurrenceSpec string `yaml:"recurrence_spec"`
	Disabled       bool   `yaml:"disabled"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`
	// DBPath overrides the sqlite file location. Empty uses <home>/taskchat.db.
	DBPath string `yaml:"db_path"`

	LLM LLMConfig `yaml:"llm"`

	// Providers holds per-provider API keys and endpoints.
	Providers map[string]ProviderConfig `yaml:"providers"`

	Auth      AuthConfig       `yaml:"auth"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	OTel      telemetry.Config `yaml:"otel"`

	// PERSONA is the contents of <home>/PERSONA.md, prepended to the
	// system prompt. Not read from yaml.
	PERSONA string `yaml:"-"`
}

// HomeDir returns the taskchat home directory, honoring TASKCHAT_HOME.
func HomeDir() string {
	if override := os.Getenv("TASKCHAT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskchat")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// PersonaPath returns the path to PERSONA.md within the given home directory.
func PersonaPath(homeDir string) string {
	return filepath.Join(homeDir, "PERSONA.md")
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:8000",
		LogLevel: "info",
		Auth: AuthConfig{
			TokenTTLMinutes: 60,
		},
		Scheduler: SchedulerConfig{
			RecurrenceSpec: "@hourly",
		},
	}
}

// Load reads config.yaml from the taskchat home, applies env overrides,
// and loads PERSONA.md. A missing config file is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskchat home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	loadTextFiles(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "taskchat.db")
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	// Normalize legacy provider name.
	if cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 60
	}
	if strings.TrimSpace(cfg.Scheduler.RecurrenceSpec) == "" {
		cfg.Scheduler.RecurrenceSpec = "@hourly"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKCHAT_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TASKCHAT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKCHAT_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("TASKCHAT_JWT_SECRET"); raw != "" {
		cfg.Auth.JWTSecret = raw
	}
	if raw := os.Getenv("TASKCHAT_TOKEN_TTL_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Auth.TokenTTLMinutes = v
		}
	}
	if raw := os.Getenv("TASKCHAT_LLM_PROVIDER"); raw != "" {
		cfg.LLM.Provider = raw
	}
}

func loadTextFiles(cfg *Config) {
	if b, err := os.ReadFile(PersonaPath(cfg.HomeDir)); err == nil {
		cfg.PERSONA = string(b)
	}
}

// ProviderAPIKey returns the API key for the given provider, checking env
// overrides first.
func (c Config) ProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":            "GEMINI_API_KEY",
		"anthropic":         "ANTHROPIC_API_KEY",
		"openai":            "OPENAI_API_KEY",
		"openai_compatible": "OPENAI_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok {
			return p.APIKey
		}
	}
	return ""
}

// ResolveLLMConfig returns the effective provider, model, and API key.
func (c Config) ResolveLLMConfig() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	if provider == "" {
		provider = "google"
	}
	switch provider {
	case "anthropic":
		model = c.LLM.AnthropicModel
	case "openai", "openai_compatible":
		model = c.LLM.OpenAIModel
	case "google":
		model = c.LLM.GeminiModel
	}
	apiKey = c.ProviderAPIKey(provider)
	return provider, model, apiKey
}

// Fingerprint returns a stable hash of the active config, logged at startup
// and after reloads so operators can tell which settings took effect.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|db=%s|provider=%s|ttl=%d|cron=%s",
		c.BindAddr, c.LogLevel, c.DBPath, c.LLM.Provider,
		c.Auth.TokenTTLMinutes, c.Scheduler.RecurrenceSpec)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
