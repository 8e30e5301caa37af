package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/support-platform/internal/model"
)

// countConcurrency bounds parallel message-count lookups.
const countConcurrency = 8

// History lists every conversation of the customer behind conversationID,
// newest first, with message counts. The requested one is marked current.
func (s *ConversationService) History(ctx context.Context, clientID, conversationID string) (*model.ConversationHistoryResponse, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.History")
	defer span.End()

	conv, err := s.Get(ctx, clientID, conversationID)
	if err != nil {
		return nil, err
	}

	convs, err := s.store.FindConversationsByCustomer(ctx, conv.Identity())
	if err != nil {
		return nil, fmt.Errorf("find customer conversations: %w", err)
	}

	ids := make([]string, len(convs))
	for i := range convs {
		ids[i] = convs[i].ID
	}
	counts, err := s.countMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]model.ConversationHistoryEntry, len(convs))
	for i, c := range convs {
		entries[i] = model.ConversationHistoryEntry{
			ConversationID: c.ID,
			SessionID:      c.SessionID,
			CustomerName:   c.CustomerName,
			CustomerEmail:  c.CustomerEmail,
			Status:         c.Status,
			StartedAt:      c.CreatedAt,
			LastMessageAt:  c.LastMessageAt,
			MessageCount:   counts[i],
			IsCurrent:      c.ID == conv.ID,
		}
	}

	return &model.ConversationHistoryResponse{
		CustomerEmail: conv.CustomerEmail,
		Conversations: entries,
		Total:         len(entries),
	}, nil
}

// SessionSummary reports the current session's message count next to fresh
// counts for each session recorded before it.
func (s *ConversationService) SessionSummary(ctx context.Context, clientID, conversationID string) (*model.SessionSummaryResponse, error) {
	ctx, span := tracer.Start(ctx, "ConversationService.SessionSummary")
	defer span.End()

	conv, err := s.Get(ctx, clientID, conversationID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(conv.PreviousSessions)+1)
	ids = append(ids, conv.ID)
	for _, prev := range conv.PreviousSessions {
		ids = append(ids, prev.ConversationID)
	}
	counts, err := s.countMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	total := counts[0]
	previous := make([]model.SessionSummary, len(conv.PreviousSessions))
	for i, prev := range conv.PreviousSessions {
		prev.MessageCount = counts[i+1]
		previous[i] = prev
		total += prev.MessageCount
	}

	return &model.SessionSummaryResponse{
		CustomerName:  conv.CustomerName,
		CustomerEmail: conv.CustomerEmail,
		CurrentSession: model.SessionStats{
			SessionID:    conv.SessionID,
			MessageCount: counts[0],
		},
		PreviousSessions: previous,
		TotalMessages:    total,
		TotalSessions:    1 + len(previous),
	}, nil
}

func (s *ConversationService) countMessages(ctx context.Context, ids []string) ([]int, error) {
	counts := make([]int, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for i := range ids {
		i := i
		g.Go(func() error {
			n, err := s.store.CountMessages(gctx, ids[i])
			if err != nil {
				return fmt.Errorf("count messages of %s: %w", ids[i], err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}
