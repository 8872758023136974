package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerAttachesSource(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap("pay-in-3-cron", zap.New(core))

	l.Info("tick finished", "processed", 3)
	l.Named("pay-in-3-webhook").Warn("missing token")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "tick finished", entries[0].Message)
	assert.Equal(t, "pay-in-3-cron", entries[0].ContextMap()["source"])
	assert.EqualValues(t, 3, entries[0].ContextMap()["processed"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "pay-in-3-webhook", entries[1].ContextMap()["source"])
}

func TestNewWithOptionsFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payin3.log")
	l := NewWithOptions("pay-in-3-checkout", Options{FilePath: path, Level: "debug", JSON: true})

	l.Debug("debug entry")
	l.Error("error entry", "order_id", "1001")
	_ = l.Sync()

	assert.FileExists(t, path)
	assert.Equal(t, "pay-in-3-checkout", l.Service())
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info("ignored", "k", "v")
		l.Error("ignored")
	})
}
