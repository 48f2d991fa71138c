// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/telco-harvester/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newBufferLogger(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		buf := newBufferLogger(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "harvester",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Named("auth").Info("landing detected")
		Sync()

		out := buf.String()
		assert.Contains(t, out, colorGreen+"INFO"+colorReset)
		assert.Contains(t, out, "harvester.auth.")
		assert.Contains(t, out, "landing detected")
	})

	t.Run("json logger", func(t *testing.T) {
		buf := newBufferLogger(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "harvester"})
		GetLogger().Warn("vendor down", zap.String("contract", "current"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "harvester", entry["logger"])
		assert.Equal(t, "vendor down", entry["msg"])
		assert.Equal(t, "current", entry["contract"])
	})

	t.Run("level filtering", func(t *testing.T) {
		buf := newBufferLogger(t, config.LoggerConfig{Level: "warn", Format: "json"})
		GetLogger().Info("hidden")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "harvester.log")
		newBufferLogger(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: logFile, MaxSize: 1})
		GetLogger().Error("written to file")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"written to file"`)
	})

	t.Run("only initializes once", func(t *testing.T) {
		newBufferLogger(t, config.LoggerConfig{Level: "info", ServiceName: "first"})
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "second"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.Same(t, first, GetLogger())
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Equal(t, "fallback", logger.Name())
}

func TestForRun(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ForRun(zap.New(core), "run-1", "jane.doe@example.com").Info("started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "ja***@example.com", fields["account"])
}

func TestMaskAccount(t *testing.T) {
	testCases := map[string]string{
		"":                 "",
		"a@b.fr":           "a***@b.fr",
		"jane@example.com": "ja***@example.com",
		"0612345678":       "***78",
		"7":                "***",
	}
	for in, want := range testCases {
		assert.Equal(t, want, MaskAccount(in), in)
	}
}
