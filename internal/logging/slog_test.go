package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormatIncludesAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", "info")

	log.With("session", "01H").Info(context.Background(), "capture committed", "identifier", "CASE-001_S1_SEALED_001")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "capture committed", entry["msg"])
	require.Equal(t, "CASE-001_S1_SEALED_001", entry["identifier"])
	require.Equal(t, "01H", entry["session"])
}

func TestNew_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", "warn")

	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "hidden too")
	log.Warn(context.Background(), "visible")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.Contains(out, "visible"))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestDiscard_DoesNotPanic(t *testing.T) {
	log := Discard()
	log.Error(context.Background(), "dropped", "k", "v")
	log.With("a", 1).Warn(context.Background(), "dropped")
}
