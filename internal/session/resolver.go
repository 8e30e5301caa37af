package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/support-platform/internal/clock"
	"github.com/capitalize-ai/support-platform/internal/model"
	"github.com/capitalize-ai/support-platform/pkg/logger"
	"github.com/capitalize-ai/support-platform/pkg/metrics"
)

// DefaultInactivityWindow separates a customer stepping away from a customer
// returning with a new problem.
const DefaultInactivityWindow = 24 * time.Hour

// countConcurrency bounds parallel message-count lookups.
const countConcurrency = 8

// Lookup is the persistence the resolver reads from.
type Lookup interface {
	FindConversationsByCustomer(ctx context.Context, identity model.CustomerIdentity) ([]model.Conversation, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
}

// Decision is the outcome of resolving an inbound contact.
type Decision struct {
	Session          Session
	IsNewCustomer    bool
	IsNewSession     bool
	PreviousSessions []model.SessionSummary
	// Fallback is set when the lookup failed and a fresh session was minted instead.
	Fallback bool
}

// SessionID returns the resolved session token.
func (d Decision) SessionID() string {
	return d.Session.ID
}

// Resumed reports whether an existing conversation continues.
func (d Decision) Resumed() bool {
	return !d.IsNewSession
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	InactivityWindow time.Duration
	Clock            clock.Clock
	NewID            IDGenerator
}

// Resolver decides whether a returning customer resumes or starts a session.
type Resolver struct {
	lookup Lookup
	window time.Duration
	clock  clock.Clock
	newID  IDGenerator
	logger *logger.Logger
}

// NewResolver creates a resolver.
func NewResolver(lookup Lookup, cfg ResolverConfig, log *logger.Logger) *Resolver {
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = DefaultInactivityWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.NewID == nil {
		cfg.NewID = NewID
	}
	return &Resolver{
		lookup: lookup,
		window: cfg.InactivityWindow,
		clock:  cfg.Clock,
		newID:  cfg.NewID,
		logger: log,
	}
}

// Resolve decides the session for a contact. It never fails: lookup errors
// produce a fresh session.
func (r *Resolver) Resolve(ctx context.Context, identity model.CustomerIdentity) Decision {
	ctx, span := otel.Tracer("session").Start(ctx, "session.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("client_id", identity.ClientID))

	now := r.clock.Now()

	convs, err := r.lookup.FindConversationsByCustomer(ctx, identity)
	if err != nil {
		return r.fallback(identity, now, err)
	}

	if len(convs) == 0 {
		metrics.RecordSessionResolution("new_customer")
		return Decision{
			Session:       r.fresh(now),
			IsNewCustomer: true,
			IsNewSession:  true,
		}
	}

	last := convs[0]
	inactive := now.Sub(last.LastMessageAt)
	if inactive <= r.window {
		metrics.RecordSessionResolution("resumed")
		return Decision{
			Session: Session{
				ID:             last.SessionID,
				ConversationID: last.ID,
				StartedAt:      last.CreatedAt,
				ValidUntil:     now.Add(r.window),
			},
		}
	}

	previous, err := r.summarize(ctx, convs)
	if err != nil {
		return r.fallback(identity, now, err)
	}

	metrics.RecordSessionResolution("new_session")
	return Decision{
		Session:          r.fresh(now),
		IsNewSession:     true,
		PreviousSessions: previous,
	}
}

func (r *Resolver) fresh(now time.Time) Session {
	return Session{
		ID:         r.newID(),
		StartedAt:  now,
		ValidUntil: now.Add(r.window),
	}
}

func (r *Resolver) fallback(identity model.CustomerIdentity, now time.Time, err error) Decision {
	if r.logger != nil {
		r.logger.Warn("session lookup failed, starting fresh session",
			zap.String("client_id", identity.ClientID),
			zap.Error(err),
		)
	}
	metrics.RecordSessionResolution("fallback")
	return Decision{
		Session:      r.fresh(now),
		IsNewSession: true,
		Fallback:     true,
	}
}

// summarize seals every prior conversation into a summary. All summaries end
// at the creation time of the newest conversation.
func (r *Resolver) summarize(ctx context.Context, convs []model.Conversation) ([]model.SessionSummary, error) {
	endedAt := convs[0].CreatedAt
	summaries := make([]model.SessionSummary, len(convs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for i := range convs {
		i := i
		g.Go(func() error {
			n, err := r.lookup.CountMessages(gctx, convs[i].ID)
			if err != nil {
				return err
			}
			summaries[i] = model.SessionSummary{
				SessionID:      convs[i].SessionID,
				ConversationID: convs[i].ID,
				StartedAt:      convs[i].CreatedAt,
				EndedAt:        endedAt,
				MessageCount:   n,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}
