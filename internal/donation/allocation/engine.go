// Package allocation distributes a campaign's units to eligible recipients
// as pending claims.
//
// An allocation run splits the requested quantity evenly across the target
// agencies, then hands each agency's share to its recipients in eligibility
// order. Units an agency cannot place are not moved to another agency; the
// shortfall is reported through metrics and the run result.
package allocation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
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

const defaultLockTTL = 30 * time.Second

var tracer = otel.Tracer("caredrop/internal/donation/allocation")

// Store is the persistence the engine needs.
type Store interface {
	FindCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error)
	FindAgency(ctx context.Context, agencyID id.AgencyID) (*models.Agency, error)
	ListAgencies(ctx context.Context) ([]*models.Agency, error)
	FindRecipient(ctx context.Context, recipientID id.RecipientID) (*models.Recipient, error)
	ListOpenCampaignsForAgency(ctx context.Context, agencyID id.AgencyID, now time.Time) ([]*models.Campaign, error)
	CountClaims(ctx context.Context, campaignID id.CampaignID) (int, error)
	RecipientsWithClaim(ctx context.Context, campaignID id.CampaignID, recipientIDs []id.RecipientID) (map[id.RecipientID]struct{}, error)
	InsertClaim(ctx context.Context, claim *models.Claim) error
}

// Resolver orders each agency's recipients for allocation.
type Resolver interface {
	ResolveAll(ctx context.Context, agencyIDs []id.AgencyID) (map[id.AgencyID][]id.RecipientID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Engine runs allocations. It is safe for concurrent use; runs for the same
// campaign are serialized by a non-blocking lock.
type Engine struct {
	store          Store
	resolver       Resolver
	locker         guard.Locker
	lockTTL        time.Duration
	logger         *slog.Logger
	metrics        *donationmetrics.Metrics
	auditPublisher AuditPublisher
	newToken       func() (token, digest string, err error)
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *donationmetrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(e *Engine) {
		e.auditPublisher = publisher
	}
}

// WithLocker replaces the process-local allocation lock, typically with a
// Redis-backed one when several replicas serve the same campaigns.
func WithLocker(locker guard.Locker) Option {
	return func(e *Engine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

func New(store Store, resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		resolver: resolver,
		locker:   guard.NewInMemoryLocker(),
		lockTTL:  defaultLockTTL,
		logger:   slog.Default(),
		newToken: secrets.NewToken,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allocate creates up to cmd.Quantity pending claims for the campaign and
// returns how many were created.
//
// The caller must be the sponsoring business or an admin. The quantity is
// capped at the campaign's remaining capacity, and the store refuses inserts
// past the campaign quantity, so neither repeated nor concurrent runs create
// more claims than the campaign offers. The lock only turns a second run away
// early.
//
// When a store failure stops a run part way, the returned result still
// reports the claims created before it alongside the error.
func (e *Engine) Allocate(ctx context.Context, caller requestcontext.Principal, cmd models.AllocateCommand) (result *models.AllocationResult, err error) {
	ctx, span := tracer.Start(ctx, "allocation.Allocate", trace.WithAttributes(
		attribute.String("campaign_id", cmd.CampaignID.String()),
		attribute.Int("quantity", cmd.Quantity),
	))
	start := time.Now()
	defer func() {
		e.metrics.ObserveAllocate(start)
		endSpan(span, err)
	}()

	if cmd.CampaignID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "campaign_id is required")
	}
	if cmd.Quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "quantity must be positive")
	}

	campaign, err := e.store.FindCampaign(ctx, cmd.CampaignID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "campaign not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load campaign")
	}
	if !mayAllocate(caller, campaign) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the sponsoring business can allocate this campaign")
	}

	agencies, err := e.targetAgencies(ctx, campaign, cmd.AgencyID)
	if err != nil {
		return nil, err
	}

	release, ok, err := e.locker.TryLock(ctx, guard.AllocationKey(campaign.ID), e.lockTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire allocation lock")
	}
	if !ok {
		e.metrics.IncrementContended()
		e.logAudit(ctx, audit.Event{
			Action:     string(audit.EventAllocationContended),
			CampaignID: campaign.ID,
			ActorID:    caller.UserID.String(),
		})
		return nil, dErrors.New(dErrors.CodeConflict, "allocation already in progress")
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			e.logger.WarnContext(ctx, "failed to release allocation lock",
				"campaign_id", campaign.ID.String(),
				"error", relErr,
			)
		}
	}()

	result, err = e.allocate(ctx, campaign, agencies, cmd.Quantity)
	if err != nil {
		return result, err
	}

	span.SetAttributes(attribute.Int("distributed", result.Distributed))
	e.logAudit(ctx, audit.Event{
		Action:     string(audit.EventAllocationRun),
		CampaignID: campaign.ID,
		ActorID:    caller.UserID.String(),
		Quantity:   result.Distributed,
	})
	return result, nil
}

// allocate does the work of one run while the campaign lock is held.
func (e *Engine) allocate(ctx context.Context, campaign *models.Campaign, agencies []*models.Agency, requested int) (*models.AllocationResult, error) {
	result := &models.AllocationResult{CampaignID: campaign.ID, Agencies: []models.AgencyAllocation{}}

	existing, err := e.store.CountClaims(ctx, campaign.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count campaign claims")
	}
	quantity := min(requested, campaign.Quantity-existing)
	if quantity <= 0 {
		e.logger.InfoContext(ctx, "campaign has no remaining capacity",
			"campaign_id", campaign.ID.String(),
			"quantity", campaign.Quantity,
			"existing_claims", existing,
		)
		return result, nil
	}

	shares := SplitQuantity(quantity, len(agencies))
	targets := make([]id.AgencyID, 0, len(agencies))
	for i, agency := range agencies {
		if shares[i] > 0 {
			targets = append(targets, agency.ID)
		}
	}
	orderings, err := e.resolver.ResolveAll(ctx, targets)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	for i, agency := range agencies {
		if shares[i] == 0 {
			continue
		}
		created, err := e.allocateToAgency(ctx, campaign, agency.ID, shares[i], orderings[agency.ID], now)
		result.Agencies = append(result.Agencies, models.AgencyAllocation{
			AgencyID: agency.ID,
			Share:    shares[i],
			Created:  created,
		})
		result.Distributed += created
		if errors.Is(err, sentinel.ErrCapacityExhausted) {
			e.logger.InfoContext(ctx, "campaign filled by a concurrent writer",
				"campaign_id", campaign.ID.String(),
				"distributed", result.Distributed,
			)
			return result, nil
		}
		if err != nil {
			e.logger.WarnContext(ctx, "allocation stopped part way",
				"campaign_id", campaign.ID.String(),
				"agency_id", agency.ID.String(),
				"distributed", result.Distributed,
				"error", err,
			)
			return result, err
		}
	}

	if shortfall := quantity - result.Distributed; shortfall > 0 {
		e.metrics.AddShortfall(shortfall)
		e.logger.InfoContext(ctx, "allocation shortfall",
			"campaign_id", campaign.ID.String(),
			"requested", quantity,
			"distributed", result.Distributed,
		)
	}
	return result, nil
}

// allocateToAgency creates up to share claims for the agency's recipients in
// eligibility order, skipping anyone who already holds a claim for the
// campaign. A uniqueness violation means a concurrent writer got there first;
// that recipient is skipped and the unit is not counted. A full campaign ends
// the run with sentinel.ErrCapacityExhausted and the count created so far.
func (e *Engine) allocateToAgency(ctx context.Context, campaign *models.Campaign, agencyID id.AgencyID, share int, ordered []id.RecipientID, now time.Time) (int, error) {
	if len(ordered) == 0 {
		return 0, nil
	}
	holders, err := e.store.RecipientsWithClaim(ctx, campaign.ID, ordered)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load existing claims")
	}

	created := 0
	for _, recipientID := range ordered {
		if created == share {
			break
		}
		if _, ok := holders[recipientID]; ok {
			continue
		}
		claim, err := e.insertPendingClaim(ctx, campaign.ID, recipientID, now)
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			e.logger.DebugContext(ctx, "recipient already holds a claim, skipping",
				"campaign_id", campaign.ID.String(),
				"recipient_id", recipientID.String(),
			)
			continue
		}
		if err != nil {
			return created, err
		}
		created++
		e.metrics.AddAllocated(1)
		e.logAudit(ctx, audit.Event{
			Action:      string(audit.EventClaimAllocated),
			ClaimID:     claim.ID,
			CampaignID:  campaign.ID,
			RecipientID: recipientID,
			AgencyID:    agencyID,
		})
	}
	return created, nil
}

func (e *Engine) insertPendingClaim(ctx context.Context, campaignID id.CampaignID, recipientID id.RecipientID, now time.Time) (*models.Claim, error) {
	_, digest, err := e.newToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate claim token")
	}
	claim := models.NewPendingClaim(id.ClaimID(uuid.New()), campaignID, recipientID, digest, now)
	if err := e.store.InsertClaim(ctx, claim); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) || errors.Is(err, sentinel.ErrCapacityExhausted) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert claim")
	}
	return claim, nil
}

// targetAgencies resolves which agencies an allocation run covers: the
// requested agency, else the campaign's agency, else every agency.
func (e *Engine) targetAgencies(ctx context.Context, campaign *models.Campaign, requested *id.AgencyID) ([]*models.Agency, error) {
	agencyID := requested
	if agencyID != nil && campaign.AgencyID != nil && *agencyID != *campaign.AgencyID {
		return nil, dErrors.New(dErrors.CodeValidation, "agency_id does not match the campaign's agency")
	}
	if agencyID == nil {
		agencyID = campaign.AgencyID
	}

	if agencyID != nil {
		agency, err := e.store.FindAgency(ctx, *agencyID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "agency not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load agency")
		}
		return []*models.Agency{agency}, nil
	}

	agencies, err := e.store.ListAgencies(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list agencies")
	}
	if len(agencies) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no agencies registered")
	}
	return agencies, nil
}

func mayAllocate(caller requestcontext.Principal, campaign *models.Campaign) bool {
	switch caller.Role {
	case requestcontext.RoleAdmin:
		return true
	case requestcontext.RoleBusiness:
		return id.BusinessID(caller.UserID) == campaign.BusinessID
	default:
		return false
	}
}

// SplitQuantity divides q units over n agencies: everyone gets q/n and the
// first q%n agencies get one more. The shares always sum to q.
func SplitQuantity(q, n int) []int {
	if n <= 0 {
		return nil
	}
	shares := make([]int, n)
	if q <= 0 {
		return shares
	}
	base, remainder := q/n, q%n
	for i := range shares {
		shares[i] = base
		if i < remainder {
			shares[i]++
		}
	}
	return shares
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}

func (e *Engine) logAudit(ctx context.Context, event audit.Event) {
	event.RequestID = requestcontext.RequestID(ctx)
	args := []any{"event", event.Action, "log_type", "audit"}
	if !event.CampaignID.IsNil() {
		args = append(args, "campaign_id", event.CampaignID.String())
	}
	if !event.ClaimID.IsNil() {
		args = append(args, "claim_id", event.ClaimID.String())
	}
	if !event.RecipientID.IsNil() {
		args = append(args, "recipient_id", event.RecipientID.String())
	}
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	if e.logger != nil {
		e.logger.InfoContext(ctx, event.Action, args...)
	}
	if e.auditPublisher == nil {
		return
	}
	if err := e.auditPublisher.Emit(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
