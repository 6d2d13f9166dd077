// internal/observability/logger_test.go
package observability

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/kleinpost/internal/config"
)

func TestInitialize(t *testing.T) {
	t.Run("should write colorized console lines", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf bytes.Buffer
		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		}, zapcore.AddSync(&buf))

		GetLogger().Info("Session initialized.", zap.String("profile", "de-win-chrome"))
		Sync()

		output := buf.String()
		assert.Contains(t, output, "Session initialized.")
		assert.Contains(t, output, colorGreen+"INFO"+colorReset)
		assert.Contains(t, output, "TestService.")
		assert.Contains(t, output, `"profile": "de-win-chrome"`)
	})

	t.Run("should write JSON when format is json", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "svc"}, zapcore.AddSync(&buf))
		GetLogger().Warn("Proxy check slow.", zap.Int("ms", 1200))
		Sync()

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "svc", entry["logger"])
		assert.Equal(t, float64(1200), entry["ms"])
	})

	t.Run("should honour the level threshold", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
		GetLogger().Info("Hidden.")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("should tee into a rotated JSON log file", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		logFile := filepath.Join(t.TempDir(), "kleinpost.log")
		var buf bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: logFile, MaxSize: 1}, zapcore.AddSync(&buf))
		GetLogger().Info("Written to file.")
		Sync()

		f, err := os.Open(logFile)
		require.NoError(t, err)
		defer f.Close()

		scanner := bufio.NewScanner(f)
		require.True(t, scanner.Scan())
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		assert.Equal(t, "Written to file.", entry["msg"])
	})

	t.Run("should only initialize once", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)

		var first, second bytes.Buffer
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&first))
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(&second))
		GetLogger().Info("Once.")
		Sync()

		assert.NotEmpty(t, first.String())
		assert.Empty(t, second.String())
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	assert.NotNil(t, GetLogger(), "a fallback logger is returned before initialization")
}
