package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-platform/internal/model"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLStore(context.Background(), DriverSQLite, ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range factories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newConversation(id, email string, createdAt time.Time) *model.Conversation {
	return &model.Conversation{
		ID:            id,
		ClientID:      "C1",
		CustomerEmail: email,
		CustomerName:  "Ada",
		SessionID:     "sess-" + id,
		IsNewSession:  true,
		Status:        model.ConversationActive,
		LastMessageAt: createdAt,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func newChatSession(id, conversationID string, startedAt time.Time) *model.ChatSession {
	return &model.ChatSession{
		ID:             id,
		TicketID:       "t-" + id,
		ConversationID: conversationID,
		AgentID:        "agent-1",
		ClientID:       "C1",
		Status:         model.ChatSessionActive,
		Sentiment:      model.SentimentAnalysis{CurrentSentiment: model.SentimentUnknown},
		StartedAt:      startedAt,
	}
}

func TestConversationLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		conv := newConversation("c1", "a@x.com", base)
		conv.PreviousSessions = []model.SessionSummary{{
			SessionID:      "sess-old",
			ConversationID: "c0",
			StartedAt:      base.Add(-48 * time.Hour),
			EndedAt:        base.Add(-47 * time.Hour),
			MessageCount:   3,
		}}
		require.NoError(t, s.CreateConversation(ctx, conv))

		got, err := s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", got.CustomerEmail)
		assert.True(t, got.IsNewSession)
		require.Len(t, got.PreviousSessions, 1)
		assert.Equal(t, 3, got.PreviousSessions[0].MessageCount)
		assert.True(t, got.CreatedAt.Equal(base))

		later := base.Add(time.Hour)
		require.NoError(t, s.TouchConversation(ctx, "c1", later))
		require.NoError(t, s.TouchConversation(ctx, "c1", base.Add(time.Minute)))
		require.NoError(t, s.SetConversationStatus(ctx, "c1", model.ConversationWithAgent, later))

		got, err = s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, got.LastMessageAt.Equal(later), "last message time must not move backwards")
		assert.Equal(t, model.ConversationWithAgent, got.Status)

		_, err = s.GetConversation(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.TouchConversation(ctx, "missing", later), ErrNotFound)
	})
}

func TestFindConversationsByCustomerNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "a@x.com", base)))
		require.NoError(t, s.CreateConversation(ctx, newConversation("c2", "a@x.com", base.Add(48*time.Hour))))
		require.NoError(t, s.CreateConversation(ctx, newConversation("c3", "b@x.com", base.Add(time.Hour))))
		other := newConversation("c4", "a@x.com", base.Add(2*time.Hour))
		other.ClientID = "C2"
		require.NoError(t, s.CreateConversation(ctx, other))

		convs, err := s.FindConversationsByCustomer(ctx, model.NewCustomerIdentity("a@x.com", "C1"))
		require.NoError(t, err)
		require.Len(t, convs, 2)
		assert.Equal(t, "c2", convs[0].ID)
		assert.Equal(t, "c1", convs[1].ID)

		page, total, err := s.ListConversations(ctx, "C1", 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 2)
		assert.Equal(t, "c2", page[0].ID)

		page, _, err = s.ListConversations(ctx, "C1", 10, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "c1", page[0].ID)
	})
}

func TestMessagesOrderedAndCounted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateConversation(ctx, newConversation("c1", "a@x.com", base)))
		require.NoError(t, s.CreateConversation(ctx, newConversation("c2", "a@x.com", base)))

		msgs := []model.Message{
			{ID: "m3", ConversationID: "c1", ClientID: "C1", SessionID: "s1", SenderType: model.SenderAgent, Content: "third", CreatedAt: base.Add(3 * time.Second)},
			{ID: "m1", ConversationID: "c1", ClientID: "C1", SessionID: "s1", SenderType: model.SenderCustomer, Content: "first", CreatedAt: base.Add(time.Second)},
			{ID: "m2", ConversationID: "c2", ClientID: "C1", SessionID: "s2", SenderType: model.SenderCustomer, Content: "second", CreatedAt: base.Add(2 * time.Second)},
		}
		for i := range msgs {
			require.NoError(t, s.CreateMessage(ctx, &msgs[i]))
		}

		got, err := s.ListMessages(ctx, []string{"c1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "m1", got[0].ID)
		assert.Equal(t, "m3", got[1].ID)

		got, err = s.ListMessages(ctx, []string{"c1", "c2"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})
		assert.Equal(t, "s2", got[1].SessionID)

		n, err := s.CountMessages(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.CountMessages(ctx, "none")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestChatSessionCounters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs1", "c1", base)))

		require.NoError(t, s.RecordCustomerMessage(ctx, "cs1", model.SentimentNegative, -0.4))
		require.NoError(t, s.RecordCustomerMessage(ctx, "cs1", model.SentimentPositive, 0.6))
		require.NoError(t, s.RecordAgentMessage(ctx, "cs1"))

		cs, err := s.GetChatSession(ctx, "cs1")
		require.NoError(t, err)
		assert.Equal(t, 3, cs.TotalMessages)
		assert.Equal(t, 2, cs.CustomerMessages)
		assert.Equal(t, 1, cs.AgentMessages)
		assert.Equal(t, model.SentimentPositive, cs.Sentiment.CurrentSentiment)
		assert.InDelta(t, 0.6, cs.Sentiment.SentimentScore, 1e-9)

		assert.ErrorIs(t, s.RecordAgentMessage(ctx, "missing"), ErrNotFound)
	})
}

func TestTryEscalateFirstWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs1", "c1", base)))

		first := base.Add(time.Minute)
		ok, err := s.TryEscalate(ctx, "cs1", "Escalation keyword detected", first)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.TryEscalate(ctx, "cs1", "Negative sentiment detected", base.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)

		cs, err := s.GetChatSession(ctx, "cs1")
		require.NoError(t, err)
		assert.Equal(t, model.ChatSessionEscalated, cs.Status)
		assert.True(t, cs.Sentiment.EscalationTriggered)
		assert.Equal(t, "Escalation keyword detected", cs.Sentiment.EscalationReason)
		require.NotNil(t, cs.Sentiment.EscalationTimestamp)
		assert.True(t, cs.Sentiment.EscalationTimestamp.Equal(first))
	})
}

func TestTryEscalateConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs1", "c1", base)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.TryEscalate(ctx, "cs1", "reason", base.Add(time.Duration(i)*time.Second))
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestChatSessionTransitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs1", "c1", base)))

		require.NoError(t, s.TransitionChatSession(ctx, "cs1", model.ChatSessionActive, model.ChatSessionOnHold))
		err := s.TransitionChatSession(ctx, "cs1", model.ChatSessionActive, model.ChatSessionOnHold)
		assert.ErrorIs(t, err, ErrConflict)

		ok, err := s.TryEscalate(ctx, "cs1", "reason", base.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok, "on_hold sessions can escalate")

		closed, err := s.CloseChatSession(ctx, "cs1", base.Add(90*time.Second+500*time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, model.ChatSessionClosed, closed.Status)
		assert.Equal(t, int64(90), closed.Duration)
		require.NotNil(t, closed.ClosedAt)

		_, err = s.CloseChatSession(ctx, "cs1", base.Add(time.Hour))
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, s.RecordCustomerMessage(ctx, "cs1", model.SentimentNeutral, 0), ErrClosed)
		_, err = s.TryEscalate(ctx, "cs1", "reason", base.Add(time.Hour))
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, s.TransitionChatSession(ctx, "cs1", model.ChatSessionOnHold, model.ChatSessionActive), ErrClosed)

		_, err = s.FindOpenChatSession(ctx, "c1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindOpenChatSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs1", "c1", base)))
		_, err := s.CloseChatSession(ctx, "cs1", base.Add(time.Hour))
		require.NoError(t, err)

		_, err = s.FindOpenChatSession(ctx, "c1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs2", "c1", base.Add(2*time.Hour))))
		cs, err := s.FindOpenChatSession(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "cs2", cs.ID)
	})
}

func TestOneOpenChatSessionPerConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs1", "c1", base)))

		err := s.CreateChatSession(ctx, newChatSession("cs2", "c1", base.Add(time.Minute)))
		assert.ErrorIs(t, err, ErrConflict)

		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs3", "c2", base)))

		var (
			wg      sync.WaitGroup
			created atomic.Int32
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cs := newChatSession(fmt.Sprintf("race-%d", i), "c3", base)
				if s.CreateChatSession(ctx, cs) == nil {
					created.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), created.Load())
	})
}

func TestChatSessionFlagsAndNotes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		cs := newChatSession("cs1", "c1", base)
		cs.AISuggestionsEnabled = true
		require.NoError(t, s.CreateChatSession(ctx, cs))

		got, err := s.GetChatSession(ctx, "cs1")
		require.NoError(t, err)
		assert.True(t, got.AISuggestionsEnabled)
		assert.False(t, got.AutoCompleteEnabled)
		assert.Empty(t, got.Notes)

		_, err = s.CloseChatSession(ctx, "cs1", base.Add(time.Minute))
		require.NoError(t, err)
		require.NoError(t, s.AddChatSessionNote(ctx, "cs1", model.SessionNote{
			AuthorID: "agent-1", Text: "refund issued", Internal: true, CreatedAt: base.Add(2 * time.Minute),
		}))
		require.NoError(t, s.AddChatSessionNote(ctx, "cs1", model.SessionNote{
			AuthorID: "agent-2", Text: "customer confirmed", Internal: true, CreatedAt: base.Add(3 * time.Minute),
		}))
		assert.ErrorIs(t, s.AddChatSessionNote(ctx, "missing", model.SessionNote{Text: "x", CreatedAt: base}), ErrNotFound)

		got, err = s.GetChatSession(ctx, "cs1")
		require.NoError(t, err)
		require.Len(t, got.Notes, 2)
		assert.Equal(t, "refund issued", got.Notes[0].Text)
		assert.Equal(t, "agent-2", got.Notes[1].AuthorID)
		assert.True(t, got.Notes[1].Internal)
		assert.True(t, got.Notes[1].CreatedAt.Equal(base.Add(3*time.Minute)))
	})
}

func TestListOpenChatSessionsByAgent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs1", "c1", base)))
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs2", "c2", base.Add(time.Hour))))
		require.NoError(t, s.CreateChatSession(ctx, newChatSession("cs3", "c3", base.Add(2*time.Hour))))
		other := newChatSession("cs4", "c4", base)
		other.AgentID = "agent-2"
		require.NoError(t, s.CreateChatSession(ctx, other))
		foreign := newChatSession("cs5", "c5", base)
		foreign.ClientID = "C2"
		require.NoError(t, s.CreateChatSession(ctx, foreign))

		require.NoError(t, s.TransitionChatSession(ctx, "cs1", model.ChatSessionActive, model.ChatSessionOnHold))
		_, err := s.CloseChatSession(ctx, "cs3", base.Add(3*time.Hour))
		require.NoError(t, err)

		sessions, err := s.ListOpenChatSessionsByAgent(ctx, "C1", "agent-1")
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "cs2", sessions[0].ID)
		assert.Equal(t, "cs1", sessions[1].ID)
		assert.Equal(t, model.ChatSessionOnHold, sessions[1].Status)

		none, err := s.ListOpenChatSessionsByAgent(ctx, "C1", "agent-9")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestTickets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ticket := &model.Ticket{
			ID:             "t1",
			ClientID:       "C1",
			ConversationID: "c1",
			Subject:        "Login broken",
			Status:         model.TicketOpen,
			Priority:       model.PriorityNormal,
			CreatedAt:      base,
			UpdatedAt:      base,
		}
		require.NoError(t, s.CreateTicket(ctx, ticket))
		require.NoError(t, s.EscalateTicket(ctx, "t1", base.Add(time.Minute)))

		got, err := s.GetTicket(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, model.TicketEscalated, got.Status)
		assert.Equal(t, model.PriorityUrgent, got.Priority)

		_, err = s.GetTicket(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.EscalateTicket(ctx, "missing", base), ErrNotFound)
	})
}

func TestNewSQLStoreRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLStore(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}
