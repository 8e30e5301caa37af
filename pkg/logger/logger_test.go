package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}

	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestScopes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := Wrap(zap.New(core))

	log.WithRequest("corr-1", "acme", "").Info("request")
	log.WithConversation("acme", "conv-1").WithChatSession("cs-1").Warn("escalated")

	entries := logs.All()
	assert.Len(t, entries, 2)

	req := entries[0].ContextMap()
	assert.Equal(t, "corr-1", req["correlation_id"])
	assert.Equal(t, "acme", req["client_id"])
	assert.NotContains(t, req, "agent_id")

	esc := entries[1].ContextMap()
	assert.Equal(t, "conv-1", esc["conversation_id"])
	assert.Equal(t, "cs-1", esc["chat_session_id"])
}
