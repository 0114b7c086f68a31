// Package redemption validates bearer tokens presented at the point of sale
// and marks the matching claim redeemed.
//
// Checks run in a fixed order and stop at the first failure:
//
//	attempt limit → token known → not redeemed → claimed →
//	campaign window open → claim window open → claimed → redeemed
//
// The final transition is conditional, so of two concurrent scans of the same
// token exactly one succeeds and the other sees AlreadyRedeemed.
package redemption

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"caredrop/internal/donation/guard"
	donationmetrics "caredrop/internal/donation/metrics"
	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
	audit "caredrop/pkg/platform/audit"
	"caredrop/pkg/platform/sentinel"
	"caredrop/pkg/requestcontext"
	"caredrop/pkg/secrets"
)

var tracer = otel.Tracer("caredrop/internal/donation/redemption")

type Store interface {
	FindClaimByTokenDigest(ctx context.Context, digest string) (*models.Claim, error)
	FindCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error)
	MarkExpired(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error)
	MarkRedeemed(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Validator redeems claim tokens.
type Validator struct {
	store          Store
	limiter        guard.AttemptLimiter
	logger         *slog.Logger
	metrics        *donationmetrics.Metrics
	auditPublisher AuditPublisher
}

type Option func(*Validator)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func WithMetrics(m *donationmetrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(v *Validator) {
		v.auditPublisher = publisher
	}
}

// WithAttemptLimiter throttles businesses presenting unknown tokens.
// Without one, attempts are not limited.
func WithAttemptLimiter(limiter guard.AttemptLimiter) Option {
	return func(v *Validator) {
		v.limiter = limiter
	}
}

func New(store Store, opts ...Option) *Validator {
	v := &Validator{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Redeem validates token on behalf of redeemer and marks its claim redeemed.
// Retrying a successful redemption reports AlreadyRedeemed and changes nothing.
func (v *Validator) Redeem(ctx context.Context, token string, redeemer models.Redeemer) (result *models.RedemptionResult, err error) {
	ctx, span := tracer.Start(ctx, "redemption.Redeem", trace.WithAttributes(
		attribute.String("business_id", redeemer.BusinessID.String()),
	))
	start := time.Now()
	defer func() {
		v.metrics.ObserveRedeem(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()

	if err := v.checkAttempts(ctx, redeemer); err != nil {
		return nil, err
	}

	claim, err := v.lookup(ctx, token)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidToken) {
			v.recordFailure(ctx, redeemer)
			return nil, v.reject(ctx, redeemer, nil, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("claim_id", claim.ID.String()))

	now := requestcontext.Now(ctx)
	switch claim.Status {
	case models.ClaimStatusRedeemed:
		return nil, v.reject(ctx, redeemer, claim, dErrors.New(dErrors.CodeAlreadyRedeemed, "this donation has already been redeemed"))
	case models.ClaimStatusPending:
		if err := v.expireIfOverdue(ctx, claim, now); err != nil {
			return nil, err
		}
		return nil, v.reject(ctx, redeemer, claim, dErrors.New(dErrors.CodeNotYetClaimed, "this donation has not been claimed"))
	case models.ClaimStatusExpired:
		return nil, v.reject(ctx, redeemer, claim, dErrors.New(dErrors.CodeNotYetClaimed, "this donation has expired without being claimed"))
	}

	campaign, err := v.store.FindCampaign(ctx, claim.CampaignID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load campaign")
	}
	if !campaign.OpenOn(now) {
		return nil, v.reject(ctx, redeemer, claim, dErrors.New(dErrors.CodeCampaignWindowExpired, "the campaign's redemption window has ended"))
	}
	if now.After(claim.RedeemableUntil()) {
		return nil, v.reject(ctx, redeemer, claim, dErrors.New(dErrors.CodeClaimWindowExpired, "the 7-day redemption window has ended"))
	}

	redeemed, err := v.store.MarkRedeemed(ctx, claim.ID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, v.reject(ctx, redeemer, claim, dErrors.New(dErrors.CodeAlreadyRedeemed, "this donation has already been redeemed"))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to redeem donation")
	}

	v.metrics.IncrementRedeemed()
	v.logAudit(ctx, audit.Event{
		Action:      string(audit.EventClaimRedeemed),
		ClaimID:     redeemed.ID,
		CampaignID:  redeemed.CampaignID,
		RecipientID: redeemed.RecipientID,
		ActorID:     redeemer.BusinessID.String(),
	})
	return &models.RedemptionResult{
		ClaimID:    redeemed.ID,
		ItemName:   campaign.ItemName,
		RedeemedAt: *redeemed.RedeemedAt,
	}, nil
}

func (v *Validator) lookup(ctx context.Context, token string) (*models.Claim, error) {
	digest, err := secrets.Digest(token)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "invalid token")
	}
	claim, err := v.store.FindClaimByTokenDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidToken, "invalid token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up token")
	}
	return claim, nil
}

// checkAttempts refuses a redeemer that already presented too many unknown
// tokens in the current window. The check runs before the token is looked up
// so a throttled caller learns nothing about it.
func (v *Validator) checkAttempts(ctx context.Context, redeemer models.Redeemer) error {
	if v.limiter == nil {
		return nil
	}
	allowed, err := v.limiter.Allowed(ctx, guard.RedeemerKey(redeemer.BusinessID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check redemption attempts")
	}
	if allowed {
		return nil
	}
	v.metrics.IncrementRejected(string(dErrors.CodeTooManyRequests))
	v.logAudit(ctx, audit.Event{
		Action:  string(audit.EventRedemptionThrottled),
		ActorID: redeemer.BusinessID.String(),
	})
	return dErrors.New(dErrors.CodeTooManyRequests, "too many invalid redemption attempts, try again later")
}

func (v *Validator) recordFailure(ctx context.Context, redeemer models.Redeemer) {
	if v.limiter == nil {
		return
	}
	count, err := v.limiter.RecordFailure(ctx, guard.RedeemerKey(redeemer.BusinessID))
	if err != nil {
		v.logger.WarnContext(ctx, "failed to record redemption failure",
			"business_id", redeemer.BusinessID.String(),
			"error", err,
		)
		return
	}
	v.logger.DebugContext(ctx, "invalid token presented",
		"business_id", redeemer.BusinessID.String(),
		"failures", count,
	)
}

// expireIfOverdue lazily expires a pending claim whose deadline has passed.
// Losing the race to another expiry is not an error.
func (v *Validator) expireIfOverdue(ctx context.Context, claim *models.Claim, now time.Time) error {
	if !claim.IsPendingExpired(now) {
		return nil
	}
	if _, err := v.store.MarkExpired(ctx, claim.ID, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire claim")
	}
	v.metrics.AddExpired("redeem", 1)
	return nil
}

// reject records a refused redemption and returns err unchanged.
func (v *Validator) reject(ctx context.Context, redeemer models.Redeemer, claim *models.Claim, err error) error {
	code := dErrors.CodeOf(err)
	v.metrics.IncrementRejected(string(code))
	event := audit.Event{
		Action:  string(audit.EventRedemptionRejected),
		ActorID: redeemer.BusinessID.String(),
		Reason:  string(code),
	}
	if claim != nil {
		event.ClaimID = claim.ID
		event.CampaignID = claim.CampaignID
		event.RecipientID = claim.RecipientID
	}
	v.logAudit(ctx, event)
	return err
}

func (v *Validator) logAudit(ctx context.Context, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	args := []any{"event", event.Action, "log_type", "audit", "business_id", event.ActorID}
	if !event.ClaimID.IsNil() {
		args = append(args, "claim_id", event.ClaimID.String())
	}
	if event.Reason != "" {
		args = append(args, "reason", event.Reason)
	}
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	if v.logger != nil {
		v.logger.InfoContext(ctx, event.Action, args...)
	}
	if v.auditPublisher == nil {
		return
	}
	if err := v.auditPublisher.Emit(ctx, event); err != nil {
		v.logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
