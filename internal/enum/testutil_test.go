package enum

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/artemis/internal/config"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/database"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/logger"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/telemetry"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	store, err := database.NewStore(config.DatabaseConfig{DSN: ""}, newTestLogger(t))
	require.NoError(t, err)
	return store
}

func newTestMetrics(t *testing.T) telemetry.Recorder {
	t.Helper()
	metrics, err := telemetry.New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	return metrics
}

func newTestConsole() *Console {
	return NewConsole(io.Discard)
}
