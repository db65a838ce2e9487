package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeEntry lê a última linha JSON escrita no buffer
func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		format   string
		expected logrus.Level
	}{
		{name: "Debug level JSON format", level: "debug", format: "json", expected: logrus.DebugLevel},
		{name: "Info level text format", level: "info", format: "text", expected: logrus.InfoLevel},
		{name: "Invalid level defaults to info", level: "invalid", format: "json", expected: logrus.InfoLevel},
		{name: "Warn level", level: "warn", format: "json", expected: logrus.WarnLevel},
		{name: "Error level", level: "error", format: "json", expected: logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.level, tt.format)
			require.NotNil(t, logger)

			structLogger, ok := logger.(*StructuredLogger)
			require.True(t, ok)
			assert.Equal(t, tt.expected, structLogger.logger.GetLevel())
		})
	}
}

func TestStructuredLogger_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	structLogger := NewLoggerWithOutput("debug", "json", &buf)

	tests := []struct {
		name     string
		logFunc  func()
		expected string
	}{
		{
			name:     "Debug log",
			logFunc:  func() { structLogger.Debug("Debug message", map[string]interface{}{"key": "value"}) },
			expected: "debug",
		},
		{
			name:     "Info log",
			logFunc:  func() { structLogger.Info("Info message", map[string]interface{}{"key": "value"}) },
			expected: "info",
		},
		{
			name:     "Warn log",
			logFunc:  func() { structLogger.Warn("Warn message", map[string]interface{}{"key": "value"}) },
			expected: "warning",
		},
		{
			name: "Error log",
			logFunc: func() {
				structLogger.Error("Error message", errors.New("test error"), map[string]interface{}{"key": "value"})
			},
			expected: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()

			entry := decodeEntry(t, &buf)
			assert.Equal(t, tt.expected, entry["level"])
			assert.Equal(t, "redis_limiter", entry["component"])
			assert.Equal(t, "value", entry["key"])
		})
	}
}

func TestStructuredLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	structLogger := NewLoggerWithOutput("warn", "json", &buf)

	structLogger.Debug("hidden", nil)
	structLogger.Info("hidden", nil)
	assert.Empty(t, buf.String())

	structLogger.Warn("visible", nil)
	assert.Contains(t, buf.String(), "visible")
}

func TestStructuredLogger_ErrorDoesNotMutateFields(t *testing.T) {
	var buf bytes.Buffer
	structLogger := NewLoggerWithOutput("info", "json", &buf)

	fields := map[string]interface{}{"operation": "hit"}
	structLogger.Error("Storage operation failed", errors.New("connection refused"), fields)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "connection refused", entry["error"])
	assert.NotContains(t, fields, "error")
}

func TestStructuredLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	structLogger := NewLoggerWithOutput("debug", "json", &buf)

	ctx := ContextWithRequestInfo(context.Background(), "req-123", "192.168.1.1", "abc123456789", "test-agent")
	structLogger.WithContext(ctx).Info("Test message with context", nil)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "192.168.1.1", entry["ip"])
	assert.Equal(t, "abc12345***", entry["token"])
	assert.Equal(t, "test-agent", entry["user_agent"])

	// O logger original continua sem os campos da requisição
	buf.Reset()
	structLogger.Info("Plain message", nil)
	assert.NotContains(t, decodeEntry(t, &buf), "request_id")
}

func TestStructuredLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	structLogger := NewLoggerWithOutput("info", "json", &buf)

	scoped := structLogger.WithFields(map[string]interface{}{"limiter": "login"})
	scoped.Info("scoped", map[string]interface{}{"rule": "perMinute"})

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "login", entry["limiter"])
	assert.Equal(t, "perMinute", entry["rule"])
}

func TestContextWithRequestInfo(t *testing.T) {
	enrichedCtx := ContextWithRequestInfo(context.Background(), "req-456", "10.0.0.1", "token123", "Mozilla/5.0")

	assert.Equal(t, "req-456", enrichedCtx.Value(RequestIDKey))
	assert.Equal(t, "10.0.0.1", enrichedCtx.Value(IPKey))
	assert.Equal(t, "token123", enrichedCtx.Value(TokenKey))
	assert.Equal(t, "Mozilla/5.0", enrichedCtx.Value(UserAgentKey))

	withoutToken := ContextWithRequestInfo(context.Background(), "req-1", "10.0.0.1", "", "agent")
	assert.Nil(t, withoutToken.Value(TokenKey))
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{name: "Nil context", ctx: nil, expected: ""},
		{name: "Context without request ID", ctx: context.Background(), expected: ""},
		{name: "Context with request ID", ctx: context.WithValue(context.Background(), RequestIDKey, "req-789"), expected: "req-789"},
		{name: "Context with invalid request ID type", ctx: context.WithValue(context.Background(), RequestIDKey, 123), expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetRequestID(tt.ctx))
		})
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected string
	}{
		{name: "Empty token", token: "", expected: ""},
		{name: "Long token", token: "verylongtoken123456789", expected: "verylong***"},
		{name: "Short token", token: "short", expected: "short***"},
		{name: "Exact 8 chars", token: "exactly8", expected: "exactly8***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskToken(tt.token))
		})
	}
}

func TestStructuredLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	structLogger := NewLoggerWithOutput("info", "json", &buf)

	structLogger.Info("Test JSON format", map[string]interface{}{
		"test_field": "test_value",
		"number":     123,
	})

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "Test JSON format", entry["message"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "level")
	assert.Equal(t, "redis_limiter", entry["component"])
	assert.Equal(t, "test_value", entry["test_field"])
	assert.Equal(t, float64(123), entry["number"])
}
