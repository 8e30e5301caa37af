package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/support-platform/internal/model"
)

// MemoryStore is an in-process Store backed by maps.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
	chatSessions  map[string]*model.ChatSession
	tickets       map[string]*model.Ticket
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		chatSessions:  make(map[string]*model.ChatSession),
		tickets:       make(map[string]*model.Ticket),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.PreviousSessions = append([]model.SessionSummary(nil), c.PreviousSessions...)
	return &out
}

// CreateConversation stores a new conversation.
func (s *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrConflict)
	}
	s.conversations[conv.ID] = cloneConversation(conv)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// ListConversations returns a page of a client's conversations, newest first.
func (s *MemoryStore) ListConversations(ctx context.Context, clientID string, limit, offset int) ([]model.Conversation, int, error) {
	s.mu.RLock()
	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.ClientID == clientID {
			convs = append(convs, *cloneConversation(conv))
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(convs)

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return convs[start:end], total, nil
}

// FindConversationsByCustomer returns the customer's conversations newest first.
func (s *MemoryStore) FindConversationsByCustomer(ctx context.Context, identity model.CustomerIdentity) ([]model.Conversation, error) {
	s.mu.RLock()
	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.ClientID == identity.ClientID && conv.CustomerEmail == identity.Email {
			convs = append(convs, *cloneConversation(conv))
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(convs)
	return convs, nil
}

func sortNewestFirst(convs []model.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
}

// TouchConversation records message activity on a conversation.
func (s *MemoryStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	if at.After(conv.LastMessageAt) {
		conv.LastMessageAt = at
	}
	conv.UpdatedAt = at
	return nil
}

// SetConversationStatus updates a conversation's lifecycle status.
func (s *MemoryStore) SetConversationStatus(ctx context.Context, id string, status model.ConversationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	conv.Status = status
	conv.UpdatedAt = at
	return nil
}

// CreateMessage appends a message to its conversation.
func (s *MemoryStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[msg.ConversationID]; !exists {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

// ListMessages returns messages of the given conversations in creation order.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationIDs []string) ([]model.Message, error) {
	s.mu.RLock()
	var msgs []model.Message
	seen := make(map[string]bool, len(conversationIDs))
	for _, id := range conversationIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		msgs = append(msgs, s.messages[id]...)
	}
	s.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// CountMessages counts the messages of a conversation.
func (s *MemoryStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID]), nil
}

// CreateChatSession stores a new chat session.
func (s *MemoryStore) CreateChatSession(ctx context.Context, cs *model.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chatSessions[cs.ID]; exists {
		return fmt.Errorf("chat session %s: %w", cs.ID, ErrConflict)
	}
	if !cs.Closed() {
		for _, other := range s.chatSessions {
			if other.ConversationID == cs.ConversationID && !other.Closed() {
				return fmt.Errorf("conversation %s already has chat session %s: %w", cs.ConversationID, other.ID, ErrConflict)
			}
		}
	}
	s.chatSessions[cs.ID] = cloneChatSession(cs)
	return nil
}

func cloneChatSession(cs *model.ChatSession) *model.ChatSession {
	c := *cs
	c.Notes = append([]model.SessionNote(nil), cs.Notes...)
	return &c
}

// GetChatSession retrieves a chat session by ID.
func (s *MemoryStore) GetChatSession(ctx context.Context, id string) (*model.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, exists := s.chatSessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneChatSession(cs), nil
}

// ListOpenChatSessionsByAgent returns an agent's non-closed sessions, newest first.
func (s *MemoryStore) ListOpenChatSessionsByAgent(ctx context.Context, clientID, agentID string) ([]model.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ChatSession
	for _, cs := range s.chatSessions {
		if cs.ClientID == clientID && cs.AgentID == agentID && !cs.Closed() {
			out = append(out, *cloneChatSession(cs))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// AddChatSessionNote appends a note to a chat session.
func (s *MemoryStore) AddChatSessionNote(ctx context.Context, id string, note model.SessionNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, exists := s.chatSessions[id]
	if !exists {
		return ErrNotFound
	}
	cs.Notes = append(cs.Notes, note)
	return nil
}

// FindOpenChatSession returns the newest non-closed chat session of a conversation.
func (s *MemoryStore) FindOpenChatSession(ctx context.Context, conversationID string) (*model.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *model.ChatSession
	for _, cs := range s.chatSessions {
		if cs.ConversationID != conversationID || cs.Closed() {
			continue
		}
		if found == nil || cs.StartedAt.After(found.StartedAt) ||
			(cs.StartedAt.Equal(found.StartedAt) && cs.ID > found.ID) {
			found = cs
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return cloneChatSession(found), nil
}

// RecordCustomerMessage bumps customer counters and overwrites the current sentiment.
func (s *MemoryStore) RecordCustomerMessage(ctx context.Context, id string, sentiment model.Sentiment, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, err := s.openChatSessionLocked(id)
	if err != nil {
		return err
	}
	cs.TotalMessages++
	cs.CustomerMessages++
	cs.Sentiment.CurrentSentiment = sentiment
	cs.Sentiment.SentimentScore = score
	return nil
}

// RecordAgentMessage bumps agent counters.
func (s *MemoryStore) RecordAgentMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, err := s.openChatSessionLocked(id)
	if err != nil {
		return err
	}
	cs.TotalMessages++
	cs.AgentMessages++
	return nil
}

// TryEscalate moves an active or on_hold session to escalated.
func (s *MemoryStore) TryEscalate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, err := s.openChatSessionLocked(id)
	if err != nil {
		return false, err
	}
	if cs.Sentiment.EscalationTriggered || cs.Status == model.ChatSessionEscalated {
		return false, nil
	}
	ts := at
	cs.Status = model.ChatSessionEscalated
	cs.Sentiment.EscalationTriggered = true
	cs.Sentiment.EscalationReason = reason
	cs.Sentiment.EscalationTimestamp = &ts
	return true, nil
}

// TransitionChatSession moves a session between two statuses.
func (s *MemoryStore) TransitionChatSession(ctx context.Context, id string, from, to model.ChatSessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, err := s.openChatSessionLocked(id)
	if err != nil {
		return err
	}
	if cs.Status != from {
		return fmt.Errorf("chat session %s is %s: %w", id, cs.Status, ErrConflict)
	}
	cs.Status = to
	return nil
}

// CloseChatSession closes a session and computes its duration in whole seconds.
func (s *MemoryStore) CloseChatSession(ctx context.Context, id string, at time.Time) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, err := s.openChatSessionLocked(id)
	if err != nil {
		return nil, err
	}
	closedAt := at
	cs.Status = model.ChatSessionClosed
	cs.ClosedAt = &closedAt
	cs.Duration = int64(closedAt.Sub(cs.StartedAt) / time.Second)
	return cloneChatSession(cs), nil
}

func (s *MemoryStore) openChatSessionLocked(id string) (*model.ChatSession, error) {
	cs, exists := s.chatSessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	if cs.Closed() {
		return nil, ErrClosed
	}
	return cs, nil
}

// CreateTicket stores a new ticket.
func (s *MemoryStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[t.ID]; exists {
		return fmt.Errorf("ticket %s: %w", t.ID, ErrConflict)
	}
	c := *t
	s.tickets[t.ID] = &c
	return nil
}

// GetTicket retrieves a ticket by ID.
func (s *MemoryStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.tickets[id]
	if !exists {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

// EscalateTicket marks a ticket escalated with urgent priority.
func (s *MemoryStore) EscalateTicket(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tickets[id]
	if !exists {
		return ErrNotFound
	}
	t.Status = model.TicketEscalated
	t.Priority = model.PriorityUrgent
	t.UpdatedAt = at
	return nil
}
