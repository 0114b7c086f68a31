// Package lifecycle moves claims through pending → claimed and pending →
// expired, and presents a recipient's claims.
//
// Every transition is a conditional update in the store; the manager never
// holds a lock. When two requests race for the same claim exactly one update
// matches and the other caller gets a domain error describing why it lost.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	donationmetrics "caredrop/internal/donation/metrics"
	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
	audit "caredrop/pkg/platform/audit"
	"caredrop/pkg/platform/sentinel"
	"caredrop/pkg/requestcontext"
	"caredrop/pkg/secrets"
)

var tracer = otel.Tracer("caredrop/internal/donation/lifecycle")

// Expiry triggers, used as the metrics label.
const (
	triggerClaim = "claim"
	triggerSweep = "sweep"
)

type Store interface {
	FindClaim(ctx context.Context, claimID id.ClaimID) (*models.Claim, error)
	FindActiveClaim(ctx context.Context, recipientID id.RecipientID) (*models.Claim, error)
	ListClaimViews(ctx context.Context, recipientID id.RecipientID) ([]*models.ClaimView, error)
	MarkClaimed(ctx context.Context, claimID id.ClaimID, recipientID id.RecipientID, digest string, now time.Time) (*models.Claim, error)
	MarkExpired(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error)
	ExpirePending(ctx context.Context, now time.Time) ([]*models.Claim, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Manager owns claim lifecycle transitions.
type Manager struct {
	store          Store
	logger         *slog.Logger
	metrics        *donationmetrics.Metrics
	auditPublisher AuditPublisher
	newToken       func() (token, digest string, err error)
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(metrics *donationmetrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(m *Manager) {
		m.auditPublisher = publisher
	}
}

func New(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		logger:   slog.Default(),
		newToken: secrets.NewToken,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Claim accepts a pending claim on behalf of its recipient. On success the
// claim is active, a fresh bearer token is issued, and the redemption window
// of seven days starts.
//
// Errors:
//   - CodeNotFound when the claim does not exist, belongs to someone else, or
//     is no longer pending
//   - CodeClaimExpired when the pending deadline has passed
//   - CodeActiveClaimExists when the recipient already holds an active claim
func (m *Manager) Claim(ctx context.Context, claimID id.ClaimID, recipientID id.RecipientID) (result *models.ClaimResult, err error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Claim", trace.WithAttributes(
		attribute.String("claim_id", claimID.String()),
	))
	defer func() { endSpan(span, err) }()

	claim, err := m.store.FindClaim(ctx, claimID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "pending claim not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load claim")
	}
	if claim.RecipientID != recipientID || claim.Status != models.ClaimStatusPending {
		return nil, dErrors.New(dErrors.CodeNotFound, "pending claim not found")
	}

	now := requestcontext.Now(ctx)
	if claim.IsPendingExpired(now) {
		if _, err := m.checkAndExpire(ctx, claim, triggerClaim); err != nil {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeClaimExpired, "this donation offer has expired")
	}

	token, digest, err := m.newToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate claim token")
	}
	claimed, err := m.store.MarkClaimed(ctx, claim.ID, recipientID, digest, now)
	if err != nil {
		return nil, m.claimLost(ctx, recipientID, err)
	}

	m.metrics.IncrementClaimed()
	m.logAudit(ctx, audit.Event{
		Action:      string(audit.EventClaimClaimed),
		ClaimID:     claimed.ID,
		CampaignID:  claimed.CampaignID,
		RecipientID: recipientID,
		ActorID:     recipientID.String(),
	})
	return &models.ClaimResult{
		ClaimID:   claimed.ID,
		Token:     token,
		ClaimedAt: *claimed.ClaimedAt,
		RedeemBy:  claimed.RedeemableUntil(),
	}, nil
}

// claimLost explains why the conditional pending → claimed update matched nothing.
func (m *Manager) claimLost(ctx context.Context, recipientID id.RecipientID, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeActiveClaimExists, "you already have an active donation; redeem it before claiming another")
	case errors.Is(err, sentinel.ErrInvalidState):
		_, findErr := m.store.FindActiveClaim(ctx, recipientID)
		if findErr == nil {
			return dErrors.New(dErrors.CodeActiveClaimExists, "you already have an active donation; redeem it before claiming another")
		}
		if !errors.Is(findErr, sentinel.ErrNotFound) {
			return dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to load active claim")
		}
		return dErrors.New(dErrors.CodeNotFound, "pending claim not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim donation")
	}
}

// CheckAndExpire moves claim to expired when it is pending past its deadline.
// It is idempotent: a claim already expired, or moved on by another request,
// reports false without error.
func (m *Manager) CheckAndExpire(ctx context.Context, claim *models.Claim) (bool, error) {
	return m.checkAndExpire(ctx, claim, triggerClaim)
}

func (m *Manager) checkAndExpire(ctx context.Context, claim *models.Claim, trigger string) (bool, error) {
	now := requestcontext.Now(ctx)
	if !claim.IsPendingExpired(now) {
		return false, nil
	}
	expired, err := m.store.MarkExpired(ctx, claim.ID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire claim")
	}
	m.metrics.AddExpired(trigger, 1)
	m.logAudit(ctx, audit.Event{
		Action:      string(audit.EventClaimExpired),
		ClaimID:     expired.ID,
		CampaignID:  expired.CampaignID,
		RecipientID: expired.RecipientID,
		Reason:      trigger,
	})
	return true, nil
}

// SweepExpired expires every overdue pending claim and returns how many moved.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	expired, err := m.store.ExpirePending(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep expired claims")
	}
	m.metrics.AddExpired(triggerSweep, len(expired))
	for _, claim := range expired {
		m.logAudit(ctx, audit.Event{
			Action:      string(audit.EventClaimExpired),
			ClaimID:     claim.ID,
			CampaignID:  claim.CampaignID,
			RecipientID: claim.RecipientID,
			Reason:      triggerSweep,
		})
	}
	return len(expired), nil
}

// ListForRecipient groups the recipient's claims for display. It does not
// mutate anything: a pending claim past its deadline is reported in History
// as expired even if no request has expired it yet.
func (m *Manager) ListForRecipient(ctx context.Context, recipientID id.RecipientID) (*models.RecipientClaims, error) {
	views, err := m.store.ListClaimViews(ctx, recipientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}

	now := requestcontext.Now(ctx)
	out := &models.RecipientClaims{Pending: []models.ClaimView{}, History: []models.ClaimView{}}
	for _, view := range views {
		v := *view
		switch {
		case v.Status == models.ClaimStatusPending && v.IsPendingExpired(now):
			v.Status = models.ClaimStatusExpired
			out.History = append(out.History, v)
		case v.Status == models.ClaimStatusPending:
			out.Pending = append(out.Pending, v)
		case v.Status == models.ClaimStatusClaimed:
			out.Active = &v
		default:
			out.History = append(out.History, v)
		}
	}
	return out, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

func (m *Manager) logAudit(ctx context.Context, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	args := []any{
		"event", event.Action,
		"log_type", "audit",
		"claim_id", event.ClaimID.String(),
		"recipient_id", event.RecipientID.String(),
	}
	if event.Reason != "" {
		args = append(args, "reason", event.Reason)
	}
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	if m.logger != nil {
		m.logger.InfoContext(ctx, event.Action, args...)
	}
	if m.auditPublisher == nil {
		return
	}
	if err := m.auditPublisher.Emit(ctx, event); err != nil {
		m.logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
