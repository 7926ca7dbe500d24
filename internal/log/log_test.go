package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorPrependsErrField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { Configure(Options{}) })

	Error("frame dropped", errors.New("bad json"), "session", "abc")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "frame dropped", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "bad json", fields["err"])
	assert.Equal(t, "abc", fields["session"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, parseLevel("debug"))
	assert.Equal(t, LevelError, parseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, parseLevel(""))
	assert.Equal(t, LevelInfo, parseLevel("verbose"))
}
