// Package logger wraps zap with the field scopes the support platform logs under.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger.
type Logger struct {
	*zap.Logger
}

// New creates a JSON logger at the given level. With ENV=development it
// switches to the console encoder.
func New(level string) (*Logger, error) {
	if os.Getenv("ENV") == "development" {
		return newDevelopment(parseLevel(level))
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "ts"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder.EncodeDuration = zapcore.SecondsDurationEncoder

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Encoding:         "json",
		EncoderConfig:    encoder,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger.With(zap.String("service", "support-platform"))}, nil
}

// NewDevelopment creates a development logger with pretty output.
func NewDevelopment() (*Logger, error) {
	return newDevelopment(zapcore.DebugLevel)
}

func newDevelopment(level zapcore.Level) (*Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// NewNop creates a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Wrap adapts an existing zap logger, e.g. an observer core in tests.
func Wrap(l *zap.Logger) *Logger {
	return &Logger{Logger: l}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// WithRequest scopes a logger to one HTTP request.
func (l *Logger) WithRequest(correlationID, clientID, agentID string) *Logger {
	fields := []zap.Field{zap.String("correlation_id", correlationID)}
	if clientID != "" {
		fields = append(fields, zap.String("client_id", clientID))
	}
	if agentID != "" {
		fields = append(fields, zap.String("agent_id", agentID))
	}
	return l.With(fields...)
}

// WithConversation scopes a logger to a conversation.
func (l *Logger) WithConversation(clientID, conversationID string) *Logger {
	return l.With(
		zap.String("client_id", clientID),
		zap.String("conversation_id", conversationID),
	)
}

// WithChatSession scopes a logger to an agent chat session.
func (l *Logger) WithChatSession(chatSessionID string) *Logger {
	return l.With(zap.String("chat_session_id", chatSessionID))
}

// parseLevel falls back to info for unknown names.
func parseLevel(level string) zapcore.Level {
	if level == "warning" {
		return zapcore.WarnLevel
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Global logger instance for convenience.
var global = NewNop()

// Global returns the global logger instance.
func Global() *Logger {
	return global
}

// SetGlobal sets the global logger instance.
func SetGlobal(l *Logger) {
	global = l
}
