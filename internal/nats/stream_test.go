package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-platform/internal/escalation"
	"github.com/capitalize-ai/support-platform/internal/model"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "support.acme.c1.msg.customer", MessageSubject("acme", "c1", model.SenderCustomer))
	assert.Equal(t, "support.acme.c1.event.escalated", EventSubject("acme", "c1", model.EventTypeEscalated))
	assert.Equal(t, "support.acme.c1.>", ConversationFilter("acme", "c1"))
}

func TestSubjects_SanitizeTokens(t *testing.T) {
	assert.Equal(t, "support.acme_com.c_1.msg.agent", MessageSubject("acme.com", "c 1", model.SenderAgent))
	assert.Equal(t, "support.a__.b.>", ConversationFilter("a*>", "b"))
}

func TestDecodeEntry(t *testing.T) {
	msg := model.Message{ID: "m1", ConversationID: "c1", ClientID: "acme", SenderType: model.SenderCustomer, Content: "hi"}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	entry, err := decodeEntry(MessageSubject("acme", "c1", model.SenderCustomer), data)
	require.NoError(t, err)
	assert.Equal(t, EntryMessage, entry.Kind)
	require.NotNil(t, entry.Message)
	assert.Equal(t, "hi", entry.Message.Content)
	assert.Nil(t, entry.Event)

	ev := model.ConversationEvent{ID: "e1", ConversationID: "c1", Type: model.EventTypeEscalated, Reason: "x"}
	data, err = json.Marshal(ev)
	require.NoError(t, err)

	entry, err = decodeEntry(EventSubject("acme", "c1", model.EventTypeEscalated), data)
	require.NoError(t, err)
	assert.Equal(t, EntryEvent, entry.Kind)
	require.NotNil(t, entry.Event)
	assert.Equal(t, model.EventTypeEscalated, entry.Event.Type)

	_, err = decodeEntry("other.acme.c1.msg.agent", data)
	assert.Error(t, err)
	_, err = decodeEntry(MessageSubject("acme", "c1", model.SenderAgent), []byte("{"))
	assert.Error(t, err)
}

type fakeEvents struct {
	published []*model.ConversationEvent
	err       error
}

func (f *fakeEvents) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.published = append(f.published, event)
	return uint64(len(f.published)), nil
}

func TestEscalationPublisher(t *testing.T) {
	events := &fakeEvents{}
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := NewEscalationPublisher(events).Escalated(context.Background(), escalation.Escalation{
		ChatSessionID:  "cs1",
		TicketID:       "t1",
		ConversationID: "c1",
		ClientID:       "acme",
		AgentID:        "agent-1",
		Reason:         "Escalation keyword detected",
		Score:          -0.4,
		At:             at,
	})
	require.NoError(t, err)
	require.Len(t, events.published, 1)

	ev := events.published[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, model.EventTypeEscalated, ev.Type)
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, "acme", ev.ClientID)
	assert.Equal(t, "Escalation keyword detected", ev.Reason)
	assert.Equal(t, at, ev.CreatedAt)
	assert.Equal(t, "cs1", ev.Metadata["chat_session_id"])
	assert.Equal(t, "t1", ev.Metadata["ticket_id"])
}

func TestEscalationPublisher_Error(t *testing.T) {
	events := &fakeEvents{err: errors.New("no responders")}

	err := NewEscalationPublisher(events).Escalated(context.Background(), escalation.Escalation{ChatSessionID: "cs1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cs1")
}
