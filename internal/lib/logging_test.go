package lib_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/stagehand/internal/lib"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := lib.NewLoggerWithWriter(lib.LogLevelWarn, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message", "user", "alice")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "[WARN] warn message | [user alice]")
	assert.Contains(t, out, "[ERROR] error message")
}

func TestLogTaskEmitted_SanitizesUser(t *testing.T) {
	var buf bytes.Buffer
	logger := lib.NewLoggerWithWriter(lib.LogLevelInfo, &buf)

	lib.LogTaskEmitted(logger, "000000001100000001", "mallory\n[ERROR] forged", "/q/task.json")

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.Contains(t, buf.String(), "Task emitted")
}

func TestLogRetry_OneBasedAttempt(t *testing.T) {
	var buf bytes.Buffer
	logger := lib.NewLoggerWithWriter(lib.LogLevelWarn, &buf)

	lib.LogRetry(logger, "get allocation", 0, 2, errors.New("busy"))
	assert.Contains(t, buf.String(), "Retry attempt 1/2 for: get allocation")
}

func TestLevelFromVerbosity(t *testing.T) {
	assert.Equal(t, lib.LogLevelError, lib.LevelFromVerbosity(0))
	assert.Equal(t, lib.LogLevelWarn, lib.LevelFromVerbosity(1))
	assert.Equal(t, lib.LogLevelInfo, lib.LevelFromVerbosity(2))
	assert.Equal(t, lib.LogLevelDebug, lib.LevelFromVerbosity(3))
	assert.Equal(t, lib.LogLevelDebug, lib.LevelFromVerbosity(7))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, lib.LogLevelDebug, lib.ParseLogLevel("debug"))
	assert.Equal(t, lib.LogLevelError, lib.ParseLogLevel("error"))
	assert.Equal(t, lib.LogLevelInfo, lib.ParseLogLevel("loud"))
}
