package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/weir/sym"
)

func restoreGlobal(t *testing.T) {
	t.Helper()
	saved, savedJSON := Logger, JSONOutput
	t.Cleanup(func() {
		Logger, JSONOutput = saved, savedJSON
	})
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
		wantLevel  zapcore.Level
	}{
		{"JSON output at user verbosity", true, 0, zapcore.WarnLevel},
		{"console output at -v", false, 1, zapcore.InfoLevel},
		{"console output at -vv", false, 2, zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restoreGlobal(t)

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
			assert.True(t, Logger.Desugar().Core().Enabled(tt.wantLevel))
			if tt.wantLevel > zapcore.DebugLevel {
				assert.False(t, Logger.Desugar().Core().Enabled(tt.wantLevel-1))
			}
		})
	}
}

func TestCleanupWithNilLogger(t *testing.T) {
	restoreGlobal(t)
	Logger = nil
	assert.NotPanics(t, Cleanup)
	assert.NotPanics(t, func() { Infow("ignored", "k", "v") })
}

func TestOr(t *testing.T) {
	restoreGlobal(t)
	own := zap.NewNop().Sugar()
	assert.Same(t, own, Or(own))
	assert.Same(t, Logger, Or(nil))
}

func TestSymbolWrappers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	AddTransSymbol(base).Infow("graph started", FieldGraph, "load_customers")
	AddJobSymbol(base).Debugw("entry finished", FieldEntry, "mail")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, sym.Trans, entries[0].ContextMap()[FieldSymbol])
	assert.Equal(t, "load_customers", entries[0].ContextMap()[FieldGraph])
	assert.Equal(t, sym.Job, entries[1].ContextMap()[FieldSymbol])
}

func TestVerbosity(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(9))

	assert.False(t, ShouldLogTrace(2))
	assert.True(t, ShouldLogTrace(3))

	assert.Equal(t, "User", LevelName(0))
	assert.Equal(t, "Debug (-vv)", LevelName(2))
	assert.Equal(t, "Trace (-vvv+)", LevelName(7))
	assert.Equal(t, "Unknown", LevelName(-1))
}
