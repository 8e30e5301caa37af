package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/model"
)

func twoSessionTranscript() []model.Message {
	return []model.Message{
		{ID: "m4", SessionID: "S2", SenderType: model.SenderAgent, CreatedAt: t0.Add(49 * time.Hour)},
		{ID: "m1", SessionID: "S1", SenderType: model.SenderCustomer, CreatedAt: t0},
		{ID: "m3", SessionID: "S2", SenderType: model.SenderCustomer, CreatedAt: t0.Add(48 * time.Hour)},
		{ID: "m2", SessionID: "S1", SenderType: model.SenderAgent, CreatedAt: t0.Add(time.Minute)},
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestAgentSeesEverySession(t *testing.T) {
	f := NewFilter(0, clock.NewFake(t0.Add(50*time.Hour)))

	got := f.MessagesFor(twoSessionTranscript(), Viewer{Role: model.ViewerAgent})
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(got))
}

func TestCustomerSeesOnlyOwnSession(t *testing.T) {
	f := NewFilter(0, clock.NewFake(t0.Add(50*time.Hour)))
	msgs := twoSessionTranscript()

	got := f.MessagesFor(msgs, Viewer{Role: model.ViewerCustomer, SessionID: "S2"})
	assert.Equal(t, []string{"m3", "m4"}, ids(got))
	for _, m := range got {
		assert.NotEqual(t, "S1", m.SessionID)
	}

	got = f.MessagesFor(msgs, Viewer{Role: model.ViewerCustomer, SessionID: "S1"})
	assert.Equal(t, []string{"m1", "m2"}, ids(got))

	got = f.MessagesFor(msgs, Viewer{Role: model.ViewerCustomer, SessionID: "unknown"})
	assert.Empty(t, got)
}

func TestCustomerWithoutSessionSeesRecentWindow(t *testing.T) {
	f := NewFilter(0, clock.NewFake(t0.Add(50*time.Hour)))

	got := f.MessagesFor(twoSessionTranscript(), Viewer{Role: model.ViewerCustomer})
	assert.Equal(t, []string{"m3", "m4"}, ids(got))
}

func TestCustomerWindowIsConfigurable(t *testing.T) {
	f := NewFilter(90*time.Minute, clock.NewFake(t0.Add(50*time.Hour)))

	got := f.MessagesFor(twoSessionTranscript(), Viewer{Role: model.ViewerCustomer})
	assert.Equal(t, []string{"m4"}, ids(got))
}

func TestUnknownRoleIsTreatedAsCustomer(t *testing.T) {
	f := NewFilter(0, clock.NewFake(t0.Add(50*time.Hour)))

	got := f.MessagesFor(twoSessionTranscript(), Viewer{Role: "auditor", SessionID: "S1"})
	assert.Equal(t, []string{"m1", "m2"}, ids(got))
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	f := NewFilter(0, clock.NewFake(t0.Add(50*time.Hour)))
	msgs := twoSessionTranscript()
	before := ids(msgs)

	f.MessagesFor(msgs, Viewer{Role: model.ViewerAgent})
	f.MessagesFor(msgs, Viewer{Role: model.ViewerCustomer, SessionID: "S2"})

	assert.Equal(t, before, ids(msgs))
}

func TestFilterOrdersTiesByID(t *testing.T) {
	f := NewFilter(0, clock.NewFake(t0))
	msgs := []model.Message{
		{ID: "b", SessionID: "S1", CreatedAt: t0},
		{ID: "a", SessionID: "S1", CreatedAt: t0},
	}

	assert.Equal(t, []string{"a", "b"}, ids(f.MessagesFor(msgs, Viewer{Role: model.ViewerAgent})))
}
