package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":  zapcore.DebugLevel,
		" Info ": zapcore.InfoLevel,
		"warn":   zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
		"panic":  zapcore.PanicLevel,
		"fatal":  zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestFromContext_FallsBackToGlobal ensures a bare context yields the global logger.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestContextHelpers checks that scoped loggers carry names and fields into entries.
func TestContextHelpers(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())

	ctx = WithName(ctx, "host")
	ctx = WithName(ctx, "registry")
	ctx = WithKV(ctx, "peer", "10.0.0.2:4100")
	ctx = WithFields(ctx, "kind", "HEARTBEAT")

	InfoKV(ctx, "Event received", "bytes", 42)

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "host.registry", entries[0].LoggerName)
	require.Equal(t, "Event received", entries[0].Message)

	fields := entries[0].ContextMap()
	require.Equal(t, "10.0.0.2:4100", fields["peer"])
	require.Equal(t, "HEARTBEAT", fields["kind"])
	require.EqualValues(t, 42, fields["bytes"])
}
