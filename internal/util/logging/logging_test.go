//go:build unit

package logging_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/xenmachinery/internal/util/logging"
)

func TestSetup(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	t.Run("warn survives the logr bridge", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logging.Setup(logging.Options{Level: slog.LevelInfo, Output: buf})

		slog.Warn("trying to stop an already stopped VM", "machine", "vm-1")

		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), `"machine":"vm-1"`)
	})

	t.Run("level filters records", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logging.Setup(logging.Options{Level: slog.LevelWarn, Output: buf})

		slog.Info("dropped")
		slog.Warn("kept")

		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("debug in development", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logging.Setup(logging.Options{Development: true, Level: slog.LevelDebug, Output: buf})

		slog.Debug("reverting vm to snapshot")

		assert.Contains(t, buf.String(), "reverting vm to snapshot")
	})

	t.Run("logr logger shares the sink", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := logging.Setup(logging.Options{Output: buf})

		logger.Info("from logr", "component", "test")

		assert.Contains(t, buf.String(), "from logr")
	})
}

func TestParseLevel(t *testing.T) {
	for _, tt := range []struct {
		in       string
		expected slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	} {
		t.Run(tt.in, func(t *testing.T) {
			level, err := logging.ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}

	_, err := logging.ParseLevel("verbose")
	assert.Error(t, err)
}
