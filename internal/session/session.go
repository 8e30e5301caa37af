// Package session decides when a customer's logical chat session starts and
// which messages each audience may see.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is a customer's logical session: a token plus the window it is valid for.
type Session struct {
	ID             string    `json:"session_id"`
	ConversationID string    `json:"conversation_id"`
	StartedAt      time.Time `json:"started_at"`
	ValidUntil     time.Time `json:"valid_until"`
}

// Valid reports whether the session can still be resumed at t.
func (s Session) Valid(t time.Time) bool {
	return s.ID != "" && !t.After(s.ValidUntil)
}

type contextKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session carried by ctx, if any.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}

// IDGenerator mints session tokens.
type IDGenerator func() string

// NewID mints a time-ordered session token.
func NewID() string {
	return "sess_" + uuid.Must(uuid.NewV7()).String()
}
