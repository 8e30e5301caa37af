package session

import (
	"sort"
	"time"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/model"
)

// DefaultVisibilityWindow is how far back a customer without a session token can see.
const DefaultVisibilityWindow = 24 * time.Hour

// Viewer describes who a transcript is rendered for.
type Viewer struct {
	Role      model.ViewerRole
	SessionID string
}

// Filter projects a conversation's messages onto what a viewer may see.
type Filter struct {
	window time.Duration
	clock  clock.Clock
}

// NewFilter creates a visibility filter.
func NewFilter(window time.Duration, clk clock.Clock) *Filter {
	if window <= 0 {
		window = DefaultVisibilityWindow
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Filter{window: window, clock: clk}
}

// MessagesFor returns the messages viewer may see, oldest first. Agents see
// everything; customers see only their session, or only the recent window
// when no session is known yet. The input slice is not modified.
func (f *Filter) MessagesFor(messages []model.Message, viewer Viewer) []model.Message {
	var keep func(m *model.Message) bool

	switch {
	case viewer.Role == model.ViewerAgent:
		keep = func(*model.Message) bool { return true }
	case viewer.SessionID != "":
		keep = func(m *model.Message) bool { return m.SessionID == viewer.SessionID }
	default:
		cutoff := f.clock.Now().Add(-f.window)
		keep = func(m *model.Message) bool { return !m.CreatedAt.Before(cutoff) }
	}

	out := make([]model.Message, 0, len(messages))
	for i := range messages {
		if keep(&messages[i]) {
			out = append(out, messages[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
