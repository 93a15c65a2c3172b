package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestSessionKeysAreHashed(t *testing.T) {
	log, logs := observed()

	log.With("session_id", "8b1f3c2e-aaaa").Info("question answered", "context", 4)

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, hashValue("8b1f3c2e-aaaa"), fields["session_id"])
	assert.NotContains(t, fields["session_id"], "8b1f3c2e")
	assert.Equal(t, int64(4), fields["context"])
}

func TestHashValue(t *testing.T) {
	assert.Empty(t, hashValue(""))
	h := hashValue("abc")
	assert.Len(t, h, len("hash:")+12)
	assert.Equal(t, h, hashValue("abc"))
}

func TestNew(t *testing.T) {
	for _, mode := range []string{"dev", "prod"} {
		log, err := New(mode, true)
		require.NoError(t, err)
		assert.NotNil(t, log.SugaredLogger)
	}
	Nop().Info("discarded")
}
