package telemetry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"ChatCore/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, ParseLevel("", false))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN", false))
	assert.Equal(t, slog.LevelError, ParseLevel("error", false))
	assert.Equal(t, slog.LevelDebug, ParseLevel("error", true))
}

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logger, closer, err := InitLogger(config.LogConfig{Dir: dir, Level: "info"})
	require.NoError(t, err)

	logger.Info("session saved", "session_id", "abc")
	logger.Debug("dropped")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "chatcore.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"session saved"`)
	assert.Contains(t, string(raw), `"session_id":"abc"`)
	assert.NotContains(t, string(raw), "dropped")
}

func TestInitTelemetryDisabled(t *testing.T) {
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NotNil(t, tracer)
	assert.NotNil(t, meter)
	cleanup()
}
