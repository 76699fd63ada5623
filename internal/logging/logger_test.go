package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerPrefixAndDefaultArgs(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelDebug, &buf)

	ctx := WithDefaultArgs(context.Background(), "lease", "abc")
	log.InfoCtx(ctx, "persisted", "version", 3)

	out := buf.String()
	require.Contains(t, out, "[mvlease] persisted")
	require.Contains(t, out, "version=3")
	require.Contains(t, out, "lease=abc")
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(slog.LevelWarn, &buf)
	log.Info("hidden")
	log.Warn("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
}
