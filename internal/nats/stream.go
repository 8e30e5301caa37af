package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-platform/internal/model"
)

const (
	// StreamName is the name of the support event stream.
	StreamName = "SUPPORT"

	// SubjectPrefix is the prefix for all support subjects.
	SubjectPrefix = "support"
)

// EntryKind distinguishes messages from events on the stream.
type EntryKind string

const (
	EntryMessage EntryKind = "message"
	EntryEvent   EntryKind = "event"
)

// Entry is one decoded record from a conversation's subjects.
type Entry struct {
	Kind     EntryKind                `json:"kind"`
	Message  *model.Message           `json:"message,omitempty"`
	Event    *model.ConversationEvent `json:"event,omitempty"`
	Sequence uint64                   `json:"sequence"`
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the support stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    100 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Support conversation messages and escalation events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject for a message.
func MessageSubject(clientID, conversationID string, sender model.SenderType) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, token(clientID), token(conversationID), sender)
}

// EventSubject returns the subject for an event.
func EventSubject(clientID, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, token(clientID), token(conversationID), eventType)
}

// ConversationFilter returns the filter subject for everything in a conversation.
func ConversationFilter(clientID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, token(clientID), token(conversationID))
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// kindOf reads the entry kind from the fourth subject token.
func kindOf(subject string) (EntryKind, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) < 5 || parts[0] != SubjectPrefix {
		return "", false
	}
	switch parts[3] {
	case "msg":
		return EntryMessage, true
	case "event":
		return EntryEvent, true
	}
	return "", false
}

// PublishMessage publishes a message to JetStream.
func (m *StreamManager) PublishMessage(ctx context.Context, msg *model.Message) (uint64, error) {
	subject := MessageSubject(msg.ClientID, msg.ConversationID, msg.SenderType)

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(msg.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	return ack.Sequence, nil
}

// PublishEvent publishes an event to JetStream.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	subject := EventSubject(event.ClientID, event.ConversationID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// GetEvents retrieves a conversation's events starting after a sequence.
func (m *StreamManager) GetEvents(ctx context.Context, clientID, conversationID string, afterSequence uint64, limit int) ([]model.ConversationEvent, uint64, bool, error) {
	js := m.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     fmt.Sprintf("%s.%s.%s.event.>", SubjectPrefix, token(clientID), token(conversationID)),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		name := consumer.CachedInfo().Name
		if err := js.DeleteConsumer(context.Background(), StreamName, name); err != nil {
			m.client.logger.Debug("ephemeral consumer cleanup failed", zap.String("consumer", name), zap.Error(err))
		}
	}()

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch events: %w", err)
	}

	var (
		events       []model.ConversationEvent
		lastSequence uint64
	)
	for msg := range batch.Messages() {
		var event model.ConversationEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		events = append(events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return events, lastSequence, len(events) == limit, nil
}

// Watch delivers every message and event published to a conversation after
// the call returns. The returned stop function ends delivery.
func (m *StreamManager) Watch(ctx context.Context, clientID, conversationID string, handle func(Entry)) (func(), error) {
	consumer, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ConversationFilter(clientID, conversationID)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ordered consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		entry, err := decodeEntry(msg.Subject(), msg.Data())
		if err != nil {
			m.client.logger.Debug("skipping undecodable entry", zap.String("subject", msg.Subject()), zap.Error(err))
			return
		}
		if meta, err := msg.Metadata(); err == nil {
			entry.Sequence = meta.Sequence.Stream
			if entry.Message != nil {
				entry.Message.Sequence = entry.Sequence
			}
			if entry.Event != nil {
				entry.Event.Sequence = entry.Sequence
			}
		}
		handle(entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	return cc.Stop, nil
}

func decodeEntry(subject string, data []byte) (Entry, error) {
	kind, ok := kindOf(subject)
	if !ok {
		return Entry{}, fmt.Errorf("unexpected subject %q", subject)
	}

	entry := Entry{Kind: kind}
	switch kind {
	case EntryMessage:
		entry.Message = &model.Message{}
		if err := json.Unmarshal(data, entry.Message); err != nil {
			return Entry{}, fmt.Errorf("decode message: %w", err)
		}
	case EntryEvent:
		entry.Event = &model.ConversationEvent{}
		if err := json.Unmarshal(data, entry.Event); err != nil {
			return Entry{}, fmt.Errorf("decode event: %w", err)
		}
	}
	return entry, nil
}
