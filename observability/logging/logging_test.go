package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithLevelRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithLevel(&buf, "ledgerd", "test", "warn")
	logger.Info("dropped")
	logger.Warn("kept", MaskField("token", "secret"), MaskField("holding", "vlth1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "kept", line["message"])
	require.Equal(t, "WARN", line["severity"])
	require.Equal(t, "ledgerd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, RedactedValue, line["token"])
	require.Equal(t, "vlth1", line["holding"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	require.Contains(t, RedactionAllowlist(), "operation")
}
