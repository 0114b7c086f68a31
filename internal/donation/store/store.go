// Package store persists agencies, recipients, campaigns and claims.
//
// Error contract, shared by every implementation:
//   - sentinel.ErrNotFound when the requested entity does not exist
//   - sentinel.ErrAlreadyUsed when an insert violates a uniqueness constraint
//   - sentinel.ErrConflict when a claim transition would give the recipient a
//     second claimed claim
//   - sentinel.ErrInvalidState when a conditional status update matched nothing
//   - wrapped errors for infrastructure failures
//
// Conditional updates are the only concurrency control; callers never hold
// locks across store calls.
package store

import (
	"context"
	"time"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
)

// Store is the full persistence contract consumed by the donation services.
type Store interface {
	CreateAgency(ctx context.Context, agency *models.Agency) error
	FindAgency(ctx context.Context, agencyID id.AgencyID) (*models.Agency, error)
	// ListAgencies returns agencies ordered by name, then id.
	ListAgencies(ctx context.Context) ([]*models.Agency, error)

	CreateRosterEntry(ctx context.Context, entry *models.RosterEntry) error
	// FindRosterEntry matches a roster entry of the agency by normalized full name.
	FindRosterEntry(ctx context.Context, agencyID id.AgencyID, fullName string) (*models.RosterEntry, error)

	// CreateRecipient fails with ErrAlreadyUsed when the account or the roster
	// entry already has a profile.
	CreateRecipient(ctx context.Context, recipient *models.Recipient) error
	FindRecipient(ctx context.Context, recipientID id.RecipientID) (*models.Recipient, error)
	// ListEligibleRecipients returns the agency's recipients with their claim history.
	ListEligibleRecipients(ctx context.Context, agencyID id.AgencyID) ([]models.EligibleRecipient, error)

	CreateCampaign(ctx context.Context, campaign *models.Campaign) error
	FindCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error)
	// ListCampaignsByBusiness returns the business's campaigns, newest first.
	ListCampaignsByBusiness(ctx context.Context, businessID id.BusinessID) ([]*models.Campaign, error)
	// ListOpenCampaignsForAgency returns campaigns targeting the agency whose
	// redemption end date is on or after the day of now, ordered by created_at, then id.
	ListOpenCampaignsForAgency(ctx context.Context, agencyID id.AgencyID, now time.Time) ([]*models.Campaign, error)

	// InsertClaim fails with ErrAlreadyUsed when the recipient already holds a
	// claim for the campaign or the token digest is taken, and with
	// ErrCapacityExhausted when the campaign already has quantity claims.
	InsertClaim(ctx context.Context, claim *models.Claim) error
	FindClaim(ctx context.Context, claimID id.ClaimID) (*models.Claim, error)
	FindClaimByTokenDigest(ctx context.Context, digest string) (*models.Claim, error)
	// FindActiveClaim returns the recipient's claimed claim.
	FindActiveClaim(ctx context.Context, recipientID id.RecipientID) (*models.Claim, error)
	// ListClaimViews returns the recipient's claims joined with campaign data, newest first.
	ListClaimViews(ctx context.Context, recipientID id.RecipientID) ([]*models.ClaimView, error)
	CountClaims(ctx context.Context, campaignID id.CampaignID) (int, error)
	CountClaimsByCampaign(ctx context.Context, campaignIDs []id.CampaignID) (map[id.CampaignID]models.ClaimCounts, error)
	// RecipientsWithClaim returns the subset of recipientIDs already holding a
	// claim for the campaign.
	RecipientsWithClaim(ctx context.Context, campaignID id.CampaignID, recipientIDs []id.RecipientID) (map[id.RecipientID]struct{}, error)

	// MarkClaimed moves an unexpired pending claim owned by recipientID to
	// claimed and installs the new token digest.
	MarkClaimed(ctx context.Context, claimID id.ClaimID, recipientID id.RecipientID, digest string, now time.Time) (*models.Claim, error)
	// MarkExpired moves a pending claim whose deadline has passed to expired.
	MarkExpired(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error)
	// ExpirePending expires every overdue pending claim and returns them.
	ExpirePending(ctx context.Context, now time.Time) ([]*models.Claim, error)
	// MarkRedeemed moves a claimed claim to redeemed.
	MarkRedeemed(ctx context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error)
}
