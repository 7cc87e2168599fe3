package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ChatCore/internal/backend"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendOllama = "ollama"
	BackendGrok   = "grok"
	BackendOpenAI = "openai"
)

// Preset describes the defaults of a known backend
type Preset struct {
	BaseURL       string
	Model         string
	KeyEnv        string
	RequireAPIKey bool
}

// Presets maps backend names to their OpenAI-compatible endpoints
var Presets = map[string]Preset{
	BackendOpenAI: {BaseURL: "https://api.openai.com/v1", Model: "gpt-3.5-turbo", KeyEnv: "OPENAI_API_KEY", RequireAPIKey: true},
	BackendGrok:   {BaseURL: "https://api.x.ai/v1", Model: "grok-1", KeyEnv: "GROK_API_KEY", RequireAPIKey: true},
	BackendOllama: {BaseURL: "http://localhost:11434/v1", Model: "llama3:latest"},
}

// Config holds application configuration.
// The values are read by viper from a config file or environment variables.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Transport TransportConfig `mapstructure:"transport"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`

	// SessionID resumes a stored session; set from the command line
	SessionID string `mapstructure:"-"`
}

// APIConfig selects the remote service
type APIConfig struct {
	Backend          string        `mapstructure:"backend"`
	BaseURL          string        `mapstructure:"base_url"`
	Key              string        `mapstructure:"key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
}

// ChatConfig holds generation parameters and session behaviour
type ChatConfig struct {
	Model           string   `mapstructure:"model"`
	Temperature     *float64 `mapstructure:"temperature"`
	MaxTokens       *int     `mapstructure:"max_tokens"`
	Stream          bool     `mapstructure:"stream"`
	SystemPrompt    string   `mapstructure:"system_prompt"`
	RollbackOnError bool     `mapstructure:"rollback_on_error"`
	HistoryLimit    int      `mapstructure:"history_limit"`
}

// TransportConfig tunes the decorators around the HTTP transport
type TransportConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst  int           `mapstructure:"rate_burst"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"` // 0 disables the response cache
}

// StoreConfig locates the conversation database; an empty path disables it
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level"`
	Debug bool   `mapstructure:"debug"`
}

type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.backend", BackendOpenAI)
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.key", "")
	v.SetDefault("api.timeout", "60s")
	v.SetDefault("api.max_response_bytes", 10*1024*1024)

	v.SetDefault("chat.model", "")
	v.SetDefault("chat.stream", false)
	v.SetDefault("chat.system_prompt", "")
	v.SetDefault("chat.rollback_on_error", false)
	v.SetDefault("chat.history_limit", 0)

	v.SetDefault("transport.max_retries", 2)
	v.SetDefault("transport.rate_limit", 0)
	v.SetDefault("transport.rate_burst", 1)
	v.SetDefault("transport.cache_ttl", "0s")

	v.SetDefault("store.path", "chatbot.db")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.debug", false)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.dir", "logs")
	v.SetDefault("server.addr", ":8080")
}

// Load reads configuration from defaults, an optional config file, a .env
// file and CHATCORE_ prefixed environment variables, in increasing priority.
// An empty path searches the working directory and $HOME/.chatcore.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".chatcore"))
		}
	}

	v.SetEnvPrefix("CHATCORE")
	// Replace dots with underscores in env var names e.g. api.base_url becomes CHATCORE_API_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Bound explicitly so Unmarshal sees them even without a default
	for _, key := range []string{"chat.temperature", "chat.max_tokens"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.applyPreset()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPreset fills endpoint, model and key from the backend preset
func (c *Config) applyPreset() {
	c.API.Backend = strings.ToLower(strings.TrimSpace(c.API.Backend))
	preset, ok := Presets[c.API.Backend]
	if !ok {
		return
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = preset.BaseURL
	}
	if c.Chat.Model == "" {
		c.Chat.Model = preset.Model
	}
	if c.API.Key == "" && preset.KeyEnv != "" {
		c.API.Key = os.Getenv(preset.KeyEnv)
	}
}

// RequireAPIKey reports whether the selected backend needs a key
func (c *Config) RequireAPIKey() bool {
	return Presets[c.API.Backend].RequireAPIKey
}

// Params returns the generation parameters for a session
func (c *Config) Params() backend.Params {
	p := backend.Params{Model: c.Chat.Model, Stream: c.Chat.Stream}
	if c.Chat.Temperature != nil {
		p = p.WithTemperature(*c.Chat.Temperature)
	}
	if c.Chat.MaxTokens != nil {
		p = p.WithMaxTokens(*c.Chat.MaxTokens)
	}
	return p
}

// Validate rejects values no session could work with. A missing API key is
// left to the transport so it surfaces as a session fault.
func (c *Config) Validate() error {
	if c.API.Backend == "" {
		return fmt.Errorf("invalid config: api.backend must be set")
	}
	if _, ok := Presets[c.API.Backend]; !ok && c.API.BaseURL == "" {
		return fmt.Errorf("invalid config: unknown backend %q needs api.base_url", c.API.Backend)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("invalid config: api.timeout must not be negative")
	}
	if c.API.MaxResponseBytes < 0 {
		return fmt.Errorf("invalid config: api.max_response_bytes must not be negative")
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("invalid config: chat.history_limit must not be negative")
	}
	if c.Transport.MaxRetries < 0 {
		return fmt.Errorf("invalid config: transport.max_retries must not be negative")
	}
	if c.Transport.RateLimit < 0 || c.Transport.RateBurst < 0 {
		return fmt.Errorf("invalid config: transport rate limit must not be negative")
	}
	if c.Transport.CacheTTL < 0 {
		return fmt.Errorf("invalid config: transport.cache_ttl must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid config: unknown log.level %q", c.Log.Level)
	}
	return nil
}
