package allocation

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"caredrop/internal/donation/guard"
	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
	audit "caredrop/pkg/platform/audit"
	"caredrop/pkg/platform/sentinel"
	"caredrop/pkg/requestcontext"
)

// OnRecipientEnrolled gives a newly enrolled recipient one pending claim from
// the oldest open campaign of their agency that still has capacity. It
// returns nil when no campaign qualifies. The recipient must be enrolled with
// agencyID.
//
// A campaign whose allocation lock is held by a running allocation is passed
// over rather than waited on. A campaign the store reports as full is passed
// over too.
func (e *Engine) OnRecipientEnrolled(ctx context.Context, recipientID id.RecipientID, agencyID id.AgencyID) (claim *models.Claim, err error) {
	ctx, span := tracer.Start(ctx, "allocation.OnRecipientEnrolled", trace.WithAttributes(
		attribute.String("recipient_id", recipientID.String()),
		attribute.String("agency_id", agencyID.String()),
	))
	defer func() { endSpan(span, err) }()

	recipient, err := e.store.FindRecipient(ctx, recipientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "recipient not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load recipient")
	}
	if recipient.AgencyID != agencyID {
		return nil, dErrors.New(dErrors.CodeValidation, "recipient is not enrolled with this agency")
	}

	now := requestcontext.Now(ctx)
	campaigns, err := e.store.ListOpenCampaignsForAgency(ctx, agencyID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list open campaigns")
	}

	for _, campaign := range campaigns {
		claim, err := e.claimFromCampaign(ctx, campaign, recipientID)
		if err != nil {
			return nil, err
		}
		if claim == nil {
			continue
		}
		e.metrics.AddAllocated(1)
		e.logAudit(ctx, audit.Event{
			Action:      string(audit.EventClaimAllocated),
			ClaimID:     claim.ID,
			CampaignID:  campaign.ID,
			RecipientID: recipientID,
			AgencyID:    agencyID,
			Reason:      "enrollment",
		})
		return claim, nil
	}
	return nil, nil
}

// claimFromCampaign returns nil, nil when the campaign cannot take the recipient.
func (e *Engine) claimFromCampaign(ctx context.Context, campaign *models.Campaign, recipientID id.RecipientID) (*models.Claim, error) {
	release, ok, err := e.locker.TryLock(ctx, guard.AllocationKey(campaign.ID), e.lockTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire allocation lock")
	}
	if !ok {
		e.metrics.IncrementContended()
		e.logger.InfoContext(ctx, "campaign busy, skipping for enrollment",
			"campaign_id", campaign.ID.String(),
			"recipient_id", recipientID.String(),
		)
		return nil, nil
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			e.logger.WarnContext(ctx, "failed to release allocation lock",
				"campaign_id", campaign.ID.String(),
				"error", relErr,
			)
		}
	}()

	existing, err := e.store.CountClaims(ctx, campaign.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count campaign claims")
	}
	if existing >= campaign.Quantity {
		return nil, nil
	}
	holders, err := e.store.RecipientsWithClaim(ctx, campaign.ID, []id.RecipientID{recipientID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load existing claims")
	}
	if _, ok := holders[recipientID]; ok {
		return nil, nil
	}

	claim, err := e.insertPendingClaim(ctx, campaign.ID, recipientID, requestcontext.Now(ctx))
	if errors.Is(err, sentinel.ErrAlreadyUsed) || errors.Is(err, sentinel.ErrCapacityExhausted) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return claim, nil
}
