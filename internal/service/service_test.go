package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/escalation"
	"github.com/capitalize-ai/support-platform/internal/llm"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/internal/sentiment"
	"github.com/capitalize-ai/support-platform/internal/session"
	"github.com/capitalize-ai/support-platform/internal/store"
	"github.com/capitalize-ai/support-platform/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingLog struct {
	mu       sync.Mutex
	messages []*model.Message
	events   []*model.ConversationEvent
	err      error
}

func (r *recordingLog) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.messages = append(r.messages, msg)
	return uint64(len(r.messages) + len(r.events)), nil
}

func (r *recordingLog) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.events = append(r.events, event)
	return uint64(len(r.messages) + len(r.events)), nil
}

func (r *recordingLog) eventTypes() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	store         *store.MemoryStore
	clock         *clock.Fake
	log           *recordingLog
	conversations *ConversationService
	messages      *MessageService
	chats         *ChatSessionService
}

func sequentialIDs() session.IDGenerator {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("SESS-%d", n)
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := store.NewMemoryStore()
	clk := clock.NewFake(t0)
	events := &recordingLog{}
	log := logger.NewNop()

	resolver := session.NewResolver(st, session.ResolverConfig{Clock: clk, NewID: sequentialIDs()}, log)
	conversations := NewConversationService(st, resolver, events, clk, log)

	analyzer := sentiment.NewAnalyzer(nil, sentiment.DefaultConfig())
	machine := escalation.NewMachine(st, analyzer, NewTicketRouter(st), clk, log)
	filter := session.NewFilter(session.DefaultVisibilityWindow, clk)

	return &harness{
		store:         st,
		clock:         clk,
		log:           events,
		conversations: conversations,
		messages:      NewMessageService(st, conversations, machine, filter, events, clk, log),
		chats:         NewChatSessionService(st, conversations, machine, events, clk, log),
	}
}

func (h *harness) start(t *testing.T, email string) *model.StartConversationResponse {
	t.Helper()
	resp, err := h.conversations.Start(context.Background(), "acme", &model.StartConversationRequest{CustomerEmail: email, CustomerName: "Ann"})
	require.NoError(t, err)
	return resp
}

func (h *harness) send(t *testing.T, convID string, sender model.SenderType, content string) *model.SendMessageResponse {
	t.Helper()
	resp, err := h.messages.Send(context.Background(), "acme", convID, Sender{Type: sender, ID: "x"}, &model.SendMessageRequest{Content: content})
	require.NoError(t, err)
	return resp
}

func TestConversationStart_ReturningCustomerLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.start(t, "A@Example.com ")
	assert.True(t, first.IsNewCustomer)
	assert.True(t, first.IsNewSession)
	assert.Equal(t, "SESS-1", first.SessionID)
	assert.Empty(t, first.PreviousSessions)
	assert.Equal(t, "a@example.com", first.Conversation.CustomerEmail)

	h.clock.Advance(time.Minute)
	m1 := h.send(t, first.Conversation.ID, model.SenderCustomer, "my order never arrived")
	assert.Equal(t, "SESS-1", m1.Message.SessionID)

	h.clock.Advance(25 * time.Hour)
	second := h.start(t, "a@example.com")
	assert.False(t, second.IsNewCustomer)
	assert.True(t, second.IsNewSession)
	assert.Equal(t, "SESS-2", second.SessionID)
	assert.NotEqual(t, first.Conversation.ID, second.Conversation.ID)
	require.Len(t, second.PreviousSessions, 1)
	assert.Equal(t, "SESS-1", second.PreviousSessions[0].SessionID)
	assert.Equal(t, first.Conversation.ID, second.PreviousSessions[0].ConversationID)
	assert.Equal(t, 1, second.PreviousSessions[0].MessageCount)

	h.clock.Advance(time.Minute)
	m2 := h.send(t, second.Conversation.ID, model.SenderCustomer, "still waiting on my parcel")
	assert.Equal(t, "SESS-2", m2.Message.SessionID)

	h.clock.Advance(time.Hour)
	third := h.start(t, "a@example.com")
	assert.False(t, third.IsNewSession)
	assert.False(t, third.IsNewCustomer)
	assert.Equal(t, "SESS-2", third.SessionID)
	assert.Equal(t, second.Conversation.ID, third.Conversation.ID)
	require.NotNil(t, third.PreviousSessions)
	assert.Empty(t, third.PreviousSessions, "a resumed session has nothing new to report")

	stored, err := h.conversations.Get(ctx, "acme", second.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, stored.PreviousSessions, 1)

	agentView, err := h.messages.List(ctx, "acme", second.Conversation.ID, session.Viewer{Role: model.ViewerAgent})
	require.NoError(t, err)
	require.Len(t, agentView.Messages, 2)
	assert.Equal(t, m1.Message.ID, agentView.Messages[0].ID)
	assert.Equal(t, m2.Message.ID, agentView.Messages[1].ID)
	assert.Equal(t, model.ViewerAgent, agentView.Viewer)

	customerView, err := h.messages.List(ctx, "acme", second.Conversation.ID, session.Viewer{Role: model.ViewerCustomer, SessionID: "SESS-2"})
	require.NoError(t, err)
	require.Len(t, customerView.Messages, 1)
	assert.Equal(t, m2.Message.ID, customerView.Messages[0].ID)

	assert.Equal(t, []model.EventType{model.EventTypeSessionStarted, model.EventTypeSessionStarted}, h.log.eventTypes())
}

func TestConversationStart_ConcurrentSameCustomer(t *testing.T) {
	h := newHarness(t)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := h.conversations.Start(context.Background(), "acme", &model.StartConversationRequest{CustomerEmail: "race@example.com"})
			if assert.NoError(t, err) {
				ids[i] = resp.Conversation.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	convs, err := h.store.FindConversationsByCustomer(context.Background(), model.NewCustomerIdentity("race@example.com", "acme"))
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestConversationStart_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.conversations.Start(context.Background(), "acme", &model.StartConversationRequest{CustomerEmail: "  "})
	assert.ErrorIs(t, err, ErrInvalidCustomer)
	_, err = h.conversations.Start(context.Background(), "", &model.StartConversationRequest{CustomerEmail: "a@example.com"})
	assert.ErrorIs(t, err, ErrInvalidCustomer)
}

func TestConversationGet_ScopedToClient(t *testing.T) {
	h := newHarness(t)
	conv := h.start(t, "a@example.com").Conversation

	_, err := h.conversations.Get(context.Background(), "other", conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = h.conversations.Get(context.Background(), "acme", "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)

	got, err := h.conversations.Get(context.Background(), "acme", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestConversationList(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		h.start(t, fmt.Sprintf("c%d@example.com", i))
		h.clock.Advance(time.Second)
	}

	page, err := h.conversations.List(context.Background(), "acme", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Conversations, 2)
	assert.Equal(t, "c2@example.com", page.Conversations[0].CustomerEmail)

	page, err = h.conversations.List(context.Background(), "acme", 2, 2)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Len(t, page.Conversations, 1)

	page, err = h.conversations.List(context.Background(), "nobody", 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, page.Conversations)
	assert.Zero(t, page.Total)
}

func TestConversationUpdateStatus(t *testing.T) {
	h := newHarness(t)
	conv := h.start(t, "a@example.com").Conversation

	got, err := h.conversations.UpdateStatus(context.Background(), "acme", conv.ID, model.ConversationResolved)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationResolved, got.Status)

	_, err = h.conversations.UpdateStatus(context.Background(), "acme", conv.ID, "bogus")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = h.conversations.UpdateStatus(context.Background(), "other", conv.ID, model.ConversationClosed)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMessageSend_Validation(t *testing.T) {
	h := newHarness(t)
	conv := h.start(t, "a@example.com").Conversation
	ctx := context.Background()

	_, err := h.messages.Send(ctx, "acme", conv.ID, Sender{Type: model.SenderCustomer}, &model.SendMessageRequest{Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	long := make([]rune, MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = h.messages.Send(ctx, "acme", conv.ID, Sender{Type: model.SenderCustomer}, &model.SendMessageRequest{Content: string(long)})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = h.messages.Send(ctx, "acme", conv.ID, Sender{Type: "robot"}, &model.SendMessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidSender)

	_, err = h.messages.Send(ctx, "other", conv.ID, Sender{Type: model.SenderCustomer}, &model.SendMessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMessageSend_SessionFromContext(t *testing.T) {
	h := newHarness(t)
	start := h.start(t, "a@example.com")
	req := &model.SendMessageRequest{Content: "hi"}
	sender := Sender{Type: model.SenderCustomer, ID: "a@example.com"}

	stale := session.WithSession(context.Background(), session.Session{ID: "SESS-old"})
	_, err := h.messages.Send(stale, "acme", start.Conversation.ID, sender, req)
	assert.ErrorIs(t, err, ErrStaleSession)

	current := session.WithSession(context.Background(), session.Session{ID: start.SessionID})
	resp, err := h.messages.Send(current, "acme", start.Conversation.ID, sender, req)
	require.NoError(t, err)
	assert.Equal(t, start.SessionID, resp.Message.SessionID)
}

func TestMessageSend_PublishesAndTouches(t *testing.T) {
	h := newHarness(t)
	conv := h.start(t, "a@example.com").Conversation

	h.clock.Advance(10 * time.Minute)
	resp := h.send(t, conv.ID, model.SenderCustomer, "hello there")
	assert.NotZero(t, resp.Message.Sequence)
	assert.Nil(t, resp.Sentiment)
	assert.False(t, resp.Escalated)

	got, err := h.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(10*time.Minute), got.LastMessageAt)
	assert.Len(t, h.log.messages, 1)
}

func TestMessageSend_EventLogFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	conv := h.start(t, "a@example.com").Conversation
	h.log.err = errors.New("nats down")

	resp := h.send(t, conv.ID, model.SenderCustomer, "hello")
	assert.Zero(t, resp.Message.Sequence)

	n, err := h.store.CountMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMessageSend_EscalatesOpenChatSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation

	cs, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID})
	require.NoError(t, err)

	calm := h.send(t, conv.ID, model.SenderCustomer, "thanks, that was helpful")
	require.NotNil(t, calm.Sentiment)
	assert.Equal(t, model.SentimentPositive, calm.Sentiment.CurrentSentiment)
	assert.False(t, calm.Escalated)
	assert.Equal(t, model.ChatSessionActive, calm.ChatStatus)

	h.send(t, conv.ID, model.SenderAgent, "Glad to help!")

	h.clock.Advance(time.Minute)
	angry := h.send(t, conv.ID, model.SenderCustomer, "Actually I want a refund right now")
	assert.True(t, angry.Escalated)
	assert.Equal(t, model.ChatSessionEscalated, angry.ChatStatus)
	assert.Equal(t, sentiment.ReasonEscalationKeyword, angry.Sentiment.EscalationReason)

	again := h.send(t, conv.ID, model.SenderCustomer, "get me a manager")
	assert.False(t, again.Escalated)
	assert.Equal(t, model.ChatSessionEscalated, again.ChatStatus)

	ticket, err := h.store.GetTicket(ctx, cs.TicketID)
	require.NoError(t, err)
	assert.Equal(t, model.TicketEscalated, ticket.Status)
	assert.Equal(t, model.PriorityUrgent, ticket.Priority)

	got, err := h.conversations.Get(ctx, "acme", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationEscalated, got.Status)

	final, err := h.chats.Get(ctx, "acme", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, final.TotalMessages)
	assert.Equal(t, 3, final.CustomerMessages)
	assert.Equal(t, 1, final.AgentMessages)
}

func TestChatSession_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation

	cs, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID, Subject: "Late parcel"})
	require.NoError(t, err)
	assert.Equal(t, model.ChatSessionActive, cs.Status)
	assert.Equal(t, model.SentimentUnknown, cs.Sentiment.CurrentSentiment)
	assert.True(t, cs.AISuggestionsEnabled)
	assert.True(t, cs.AutoCompleteEnabled)

	ticket, err := h.store.GetTicket(ctx, cs.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "Late parcel", ticket.Subject)
	assert.Equal(t, "agent-7", ticket.AssignedAgent)

	routed, err := h.conversations.Get(ctx, "acme", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationWithAgent, routed.Status)

	same, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Equal(t, cs.ID, same.ID)

	held, err := h.chats.Hold(ctx, "acme", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChatSessionOnHold, held.Status)

	resumed, err := h.chats.Resume(ctx, "acme", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ChatSessionActive, resumed.Status)

	h.clock.Advance(90 * time.Second)
	closed, err := h.chats.Close(ctx, "acme", "agent-7", cs.ID, &model.CloseChatSessionRequest{Notes: "  parcel re-shipped  "})
	require.NoError(t, err)
	assert.Equal(t, model.ChatSessionClosed, closed.Status)
	assert.Equal(t, int64(90), closed.Duration)
	assert.Contains(t, h.log.eventTypes(), model.EventTypeChatSessionClosed)
	require.Len(t, closed.Notes, 1)
	assert.Equal(t, "parcel re-shipped", closed.Notes[0].Text)
	assert.Equal(t, "agent-7", closed.Notes[0].AuthorID)
	assert.True(t, closed.Notes[0].Internal)

	stored, err := h.chats.Get(ctx, "acme", cs.ID)
	require.NoError(t, err)
	require.Len(t, stored.Notes, 1)

	_, err = h.chats.Close(ctx, "acme", "agent-7", cs.ID, nil)
	assert.ErrorIs(t, err, escalation.ErrSessionClosed)

	// A closed session no longer tracks messages.
	resp := h.send(t, conv.ID, model.SenderCustomer, "refund!")
	assert.Nil(t, resp.Sentiment)

	reopened, err := h.chats.Open(ctx, "acme", "agent-8", &model.OpenChatSessionRequest{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.NotEqual(t, cs.ID, reopened.ID)
}

func TestChatSession_ScopedToClient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation

	cs, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID})
	require.NoError(t, err)

	_, err = h.chats.Get(ctx, "other", cs.ID)
	assert.ErrorIs(t, err, ErrChatSessionNotFound)
	_, err = h.chats.Hold(ctx, "other", cs.ID)
	assert.ErrorIs(t, err, ErrChatSessionNotFound)
	_, err = h.chats.Open(ctx, "other", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestChatSession_ExistingTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation

	require.NoError(t, h.store.CreateTicket(ctx, &model.Ticket{ID: "T-1", ClientID: "acme", Status: model.TicketOpen, Priority: model.PriorityHigh}))
	require.NoError(t, h.store.CreateTicket(ctx, &model.Ticket{ID: "T-2", ClientID: "other", Status: model.TicketOpen}))

	_, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID, TicketID: "T-2"})
	assert.ErrorIs(t, err, ErrTicketNotFound)
	_, err = h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID, TicketID: "T-404"})
	assert.ErrorIs(t, err, ErrTicketNotFound)

	cs, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID, TicketID: "T-1"})
	require.NoError(t, err)
	assert.Equal(t, "T-1", cs.TicketID)
}

func TestChatSession_ConcurrentOpenSharesOneSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation

	const callers = 32
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cs, err := h.chats.Open(ctx, "acme", fmt.Sprintf("agent-%d", i), &model.OpenChatSessionRequest{ConversationID: conv.ID})
			if assert.NoError(t, err) {
				ids[i] = cs.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	open, err := h.store.FindOpenChatSession(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], open.ID)
}

func TestChatSession_ListActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.start(t, "a@example.com").Conversation
	second := h.start(t, "b@example.com").Conversation
	third := h.start(t, "c@example.com").Conversation

	cs1, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: first.ID})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	cs2, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: second.ID})
	require.NoError(t, err)
	_, err = h.chats.Open(ctx, "acme", "agent-8", &model.OpenChatSessionRequest{ConversationID: third.ID})
	require.NoError(t, err)

	_, err = h.chats.Hold(ctx, "acme", cs1.ID)
	require.NoError(t, err)

	active, err := h.chats.ListActive(ctx, "acme", "agent-7")
	require.NoError(t, err)
	assert.Equal(t, "agent-7", active.AgentID)
	assert.Equal(t, 2, active.Count)
	require.Len(t, active.ActiveSessions, 2)
	assert.Equal(t, cs2.ID, active.ActiveSessions[0].ID)
	assert.Equal(t, model.ChatSessionOnHold, active.ActiveSessions[1].Status)

	_, err = h.chats.Close(ctx, "acme", "agent-7", cs2.ID, nil)
	require.NoError(t, err)
	active, err = h.chats.ListActive(ctx, "acme", "agent-7")
	require.NoError(t, err)
	assert.Equal(t, 1, active.Count)

	other, err := h.chats.ListActive(ctx, "other", "agent-7")
	require.NoError(t, err)
	assert.NotNil(t, other.ActiveSessions)
	assert.Zero(t, other.Count)

	_, err = h.chats.ListActive(ctx, "acme", " ")
	assert.ErrorIs(t, err, ErrInvalidAgent)
}

func TestConversationHistoryAndSessionSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.start(t, "a@example.com")
	h.send(t, first.Conversation.ID, model.SenderCustomer, "my order never arrived")
	h.send(t, first.Conversation.ID, model.SenderAgent, "checking now")

	h.clock.Advance(25 * time.Hour)
	second := h.start(t, "a@example.com")
	require.Len(t, second.PreviousSessions, 1)
	assert.Equal(t, 2, second.PreviousSessions[0].MessageCount)
	h.send(t, second.Conversation.ID, model.SenderCustomer, "still nothing")

	h.start(t, "b@example.com")

	history, err := h.conversations.History(ctx, "acme", second.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", history.CustomerEmail)
	assert.Equal(t, 2, history.Total)
	require.Len(t, history.Conversations, 2)
	assert.Equal(t, second.Conversation.ID, history.Conversations[0].ConversationID)
	assert.True(t, history.Conversations[0].IsCurrent)
	assert.Equal(t, 1, history.Conversations[0].MessageCount)
	assert.Equal(t, first.Conversation.ID, history.Conversations[1].ConversationID)
	assert.False(t, history.Conversations[1].IsCurrent)
	assert.Equal(t, 2, history.Conversations[1].MessageCount)
	assert.Equal(t, "SESS-1", history.Conversations[1].SessionID)

	// A late message on the old conversation shows up in the recount.
	h.send(t, first.Conversation.ID, model.SenderAgent, "found it")

	summary, err := h.conversations.SessionSummary(ctx, "acme", second.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ann", summary.CustomerName)
	assert.Equal(t, "SESS-2", summary.CurrentSession.SessionID)
	assert.Equal(t, 1, summary.CurrentSession.MessageCount)
	require.Len(t, summary.PreviousSessions, 1)
	assert.Equal(t, 3, summary.PreviousSessions[0].MessageCount)
	assert.Equal(t, 4, summary.TotalMessages)
	assert.Equal(t, 2, summary.TotalSessions)

	fresh, err := h.conversations.SessionSummary(ctx, "acme", first.Conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.PreviousSessions)
	assert.Equal(t, 1, fresh.TotalSessions)
	assert.Equal(t, 3, fresh.TotalMessages)

	_, err = h.conversations.History(ctx, "other", second.Conversation.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	_, err = h.conversations.SessionSummary(ctx, "other", second.Conversation.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

type scriptedLLM struct {
	mu   sync.Mutex
	last *llm.CompletionRequest
	text string
	err  error
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: s.text + "\n", Model: "scripted-1", TokensOut: 5}, nil
}

func (s *scriptedLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for i, tok := range []string{"I'm ", "sorry"} {
		if err := cb(tok, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: "I'm sorry", Model: "scripted-1"}, nil
}

func TestSuggestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation

	_, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID})
	require.NoError(t, err)
	h.send(t, conv.ID, model.SenderCustomer, "this is unacceptable, I want a refund")
	h.send(t, conv.ID, model.SenderAgent, "Let me look into it.")

	client := &scriptedLLM{text: "I understand, let me escalate this for you."}
	svc := NewSuggestionService(h.messages, h.store, client, "m-test", h.log, h.clock, logger.NewNop())

	s, err := svc.Suggest(ctx, "acme", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "I understand, let me escalate this for you.", s.Content)
	assert.Equal(t, "scripted-1", s.Model)

	require.NotNil(t, client.last)
	assert.Equal(t, "m-test", client.last.Model)
	assert.Contains(t, client.last.System, "escalated")
	require.Len(t, client.last.Messages, 2)
	assert.Equal(t, llm.RoleUser, client.last.Messages[0].Role)
	assert.Equal(t, llm.RoleAssistant, client.last.Messages[1].Role)

	var tokens []string
	s, err = svc.SuggestStream(ctx, "acme", conv.ID, func(token string, index int) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"I'm ", "sorry"}, tokens)
	assert.Equal(t, "I'm sorry", s.Content)
}

func TestSuggestion_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation

	disabled := NewSuggestionService(h.messages, h.store, nil, "", h.log, h.clock, logger.NewNop())
	_, err := disabled.Suggest(ctx, "acme", conv.ID)
	assert.ErrorIs(t, err, ErrSuggestionsDisabled)

	client := &scriptedLLM{}
	svc := NewSuggestionService(h.messages, h.store, client, "", h.log, h.clock, logger.NewNop())
	_, err = svc.Suggest(ctx, "acme", conv.ID)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	h.send(t, conv.ID, model.SenderCustomer, "hello")
	client.err = errors.New("overloaded")
	_, err = svc.Suggest(ctx, "acme", conv.ID)
	require.Error(t, err)
	assert.Contains(t, h.log.eventTypes(), model.EventTypeError)
}

func TestSuggestion_SessionFlagOff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation
	h.send(t, conv.ID, model.SenderCustomer, "hello")

	off := false
	_, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID, AISuggestionsEnabled: &off})
	require.NoError(t, err)

	client := &scriptedLLM{text: "Hi!"}
	svc := NewSuggestionService(h.messages, h.store, client, "", h.log, h.clock, logger.NewNop())
	_, err = svc.Suggest(ctx, "acme", conv.ID)
	assert.ErrorIs(t, err, ErrSessionSuggestionsOff)
	assert.Nil(t, client.last, "the provider must not be called")
}

func TestAutoComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation
	cs, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID})
	require.NoError(t, err)

	client := &scriptedLLM{text: "COMPLETION 1: you within 24 hours.\nCOMPLETION 2: , thank you for waiting.\ncompletion 3:\nCOMPLETION 4: shortly"}
	svc := NewSuggestionService(h.messages, h.store, client, "m-test", h.log, h.clock, logger.NewNop())

	resp, err := svc.AutoComplete(ctx, "acme", cs.ID, &model.AutoCompleteRequest{CurrentText: " We will get back to "})
	require.NoError(t, err)
	assert.Equal(t, cs.ID, resp.ChatSessionID)
	assert.Equal(t, "We will get back to", resp.PartialText)
	require.Len(t, resp.Completions, 3)
	assert.Equal(t, "We will get back to you within 24 hours.", resp.Completions[0].Text)
	assert.Equal(t, "We will get back to, thank you for waiting.", resp.Completions[1].Text)
	assert.Equal(t, "We will get back to shortly", resp.Completions[2].Text)
	assert.Equal(t, "completion_0", resp.Completions[0].ID)
	assert.Greater(t, resp.Completions[0].Confidence, resp.Completions[1].Confidence)
	require.NotNil(t, client.last)
	assert.Equal(t, "We will get back to", client.last.Messages[0].Content)

	_, err = svc.AutoComplete(ctx, "acme", cs.ID, &model.AutoCompleteRequest{CurrentText: "  "})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = svc.AutoComplete(ctx, "other", cs.ID, &model.AutoCompleteRequest{CurrentText: "Hi"})
	assert.ErrorIs(t, err, ErrChatSessionNotFound)

	disabled := NewSuggestionService(h.messages, h.store, nil, "", h.log, h.clock, logger.NewNop())
	_, err = disabled.AutoComplete(ctx, "acme", cs.ID, &model.AutoCompleteRequest{CurrentText: "Hi"})
	assert.ErrorIs(t, err, ErrSuggestionsDisabled)

	other := h.start(t, "b@example.com").Conversation
	off := false
	noComplete, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: other.ID, AutoCompleteEnabled: &off})
	require.NoError(t, err)
	assert.True(t, noComplete.AISuggestionsEnabled)
	_, err = svc.AutoComplete(ctx, "acme", noComplete.ID, &model.AutoCompleteRequest{CurrentText: "Hi"})
	assert.ErrorIs(t, err, ErrAutoCompleteOff)
}

func TestCommonPhrases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation
	cs, err := h.chats.Open(ctx, "acme", "agent-7", &model.OpenChatSessionRequest{ConversationID: conv.ID})
	require.NoError(t, err)

	// Canned phrases need no model provider.
	svc := NewSuggestionService(h.messages, h.store, nil, "", h.log, h.clock, logger.NewNop())

	general, err := svc.CommonPhrases(ctx, "acme", cs.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.PhraseGeneral, general.Context)
	require.Len(t, general.Phrases, 3)
	assert.Equal(t, "Hello! Thank you for contacting us.", general.Phrases[0].Text)
	assert.Equal(t, "phrase_general_0", general.Phrases[0].ID)

	for _, c := range []model.PhraseContext{
		model.PhraseGreeting, model.PhraseAcknowledgment, model.PhraseExplanation,
		model.PhraseSolution, model.PhraseClosing, model.PhraseEscalation,
	} {
		resp, err := svc.CommonPhrases(ctx, "acme", cs.ID, c)
		require.NoError(t, err, c)
		require.Len(t, resp.Phrases, 3, c)
		assert.Equal(t, c, resp.Phrases[2].Category)
	}

	_, err = svc.CommonPhrases(ctx, "acme", cs.ID, "sarcasm")
	assert.ErrorIs(t, err, ErrInvalidPhraseContext)
	_, err = svc.CommonPhrases(ctx, "other", cs.ID, model.PhraseClosing)
	assert.ErrorIs(t, err, ErrChatSessionNotFound)
}

func TestSummarize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.start(t, "a@example.com").Conversation

	client := &scriptedLLM{text: "- Parcel lost\n- Re-shipped\n- Resolved"}
	svc := NewSuggestionService(h.messages, h.store, client, "m-test", h.log, h.clock, logger.NewNop())

	_, err := svc.Summarize(ctx, "acme", conv.ID)
	assert.ErrorIs(t, err, ErrInvalidMessage)

	h.send(t, conv.ID, model.SenderCustomer, "my parcel is lost")
	h.send(t, conv.ID, model.SenderAgent, "I've re-shipped it")

	summary, err := svc.Summarize(ctx, "acme", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, summary.ConversationID)
	assert.Equal(t, "- Parcel lost\n- Re-shipped\n- Resolved", summary.Summary)
	assert.Equal(t, "scripted-1", summary.Model)

	require.NotNil(t, client.last)
	require.Len(t, client.last.Messages, 1)
	assert.Equal(t, "Customer: my parcel is lost\nAgent: I've re-shipped it\n", client.last.Messages[0].Content)

	_, err = svc.Summarize(ctx, "other", conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestParseCompletionsCapsAtFive(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&b, "COMPLETION %d: option %d\n", i, i)
	}
	got := parseCompletions(b.String())
	require.Len(t, got, 5)
	assert.Equal(t, "option 5", got[4])
	assert.Empty(t, parseCompletions("no labels here"))
}

func TestTicketRouter_ReportsBothFailures(t *testing.T) {
	st := store.NewMemoryStore()
	err := NewTicketRouter(st).Escalated(context.Background(), escalation.Escalation{TicketID: "T-x", ConversationID: "C-x", At: t0})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, err.Error(), "T-x")
	assert.Contains(t, err.Error(), "C-x")
}
