package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	path := writeConfig(t, "config.yaml", "api:\n  backend: openai\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendOpenAI, cfg.API.Backend)
	assert.Equal(t, "https://api.openai.com/v1", cfg.API.BaseURL)
	assert.Equal(t, "sk-env", cfg.API.Key)
	assert.Equal(t, 60*time.Second, cfg.API.Timeout)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Chat.Model)
	assert.Nil(t, cfg.Chat.Temperature)
	assert.Nil(t, cfg.Chat.MaxTokens)
	assert.Equal(t, 2, cfg.Transport.MaxRetries)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.RequireAPIKey())
}

func TestLoadFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "config.yaml", `
api:
  backend: ollama
  timeout: 5s
chat:
  model: mistral:latest
  temperature: 0.3
  max_tokens: 256
  system_prompt: You are terse.
  rollback_on_error: true
  history_limit: 20
transport:
  max_retries: 0
  cache_ttl: 10m
store:
  path: ""
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434/v1", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.False(t, cfg.RequireAPIKey())
	assert.Equal(t, "You are terse.", cfg.Chat.SystemPrompt)
	assert.True(t, cfg.Chat.RollbackOnError)
	assert.Equal(t, 20, cfg.Chat.HistoryLimit)
	assert.Equal(t, 10*time.Minute, cfg.Transport.CacheTTL)
	assert.Empty(t, cfg.Store.Path)

	params := cfg.Params()
	assert.Equal(t, "mistral:latest", params.Model)
	require.NotNil(t, params.Temperature)
	assert.Equal(t, 0.3, *params.Temperature)
	require.NotNil(t, params.MaxTokens)
	assert.Equal(t, 256, *params.MaxTokens)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATCORE_API_BACKEND", "grok")
	t.Setenv("CHATCORE_API_KEY", "xai-key")
	t.Setenv("CHATCORE_CHAT_TEMPERATURE", "1.5")
	path := writeConfig(t, "config.yaml", "api:\n  backend: openai\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendGrok, cfg.API.Backend)
	assert.Equal(t, "https://api.x.ai/v1", cfg.API.BaseURL)
	assert.Equal(t, "xai-key", cfg.API.Key)
	require.NotNil(t, cfg.Chat.Temperature)
	assert.Equal(t, 1.5, *cfg.Chat.Temperature)
}

func TestLoadMissingKeyIsNotAnError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "config.yaml", "api:\n  backend: openai\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.API.Key)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"temperature too high", "chat:\n  temperature: 2.5\n"},
		{"zero max tokens", "chat:\n  max_tokens: 0\n"},
		{"unknown backend without url", "api:\n  backend: custom\n"},
		{"negative retries", "transport:\n  max_retries: -1\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"negative history limit", "chat:\n  history_limit: -3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestCustomBackend(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
api:
  backend: custom
  base_url: http://127.0.0.1:9000/v1
chat:
  model: local
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000/v1", cfg.API.BaseURL)
	assert.False(t, cfg.RequireAPIKey())
}
