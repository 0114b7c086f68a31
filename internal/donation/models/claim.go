package models

import (
	"time"

	id "caredrop/pkg/domain"
)

const (
	// PendingClaimTTL is how long an allocated claim waits for the recipient.
	PendingClaimTTL = 3 * 24 * time.Hour
	// RedemptionWindow is how long a claimed donation stays redeemable.
	RedemptionWindow = 7 * 24 * time.Hour
)

type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusClaimed  ClaimStatus = "claimed"
	ClaimStatusRedeemed ClaimStatus = "redeemed"
	ClaimStatusExpired  ClaimStatus = "expired"
)

func (s ClaimStatus) IsValid() bool {
	switch s {
	case ClaimStatusPending, ClaimStatusClaimed, ClaimStatusRedeemed, ClaimStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimStatusRedeemed || s == ClaimStatusExpired
}

// CanTransitionTo encodes the claim state machine:
// pending → claimed | expired, claimed → redeemed.
func (s ClaimStatus) CanTransitionTo(next ClaimStatus) bool {
	switch s {
	case ClaimStatusPending:
		return next == ClaimStatusClaimed || next == ClaimStatusExpired
	case ClaimStatusClaimed:
		return next == ClaimStatusRedeemed
	default:
		return false
	}
}

// Claim is one unit of a campaign allocated to one recipient.
//
// Invariants:
//   - exactly one Claim per (CampaignID, RecipientID)
//   - at most one Claim per recipient has Status claimed
//   - ExpiresAt only governs the pending state; a claimed claim is redeemable
//     until ClaimedAt + RedemptionWindow
//   - status transitions follow ClaimStatus.CanTransitionTo
//
// Only the digest of the bearer token is kept; the raw token is handed to the
// recipient once, when the claim transitions to claimed.
type Claim struct {
	ID          id.ClaimID     `json:"id"`
	CampaignID  id.CampaignID  `json:"campaign_id"`
	RecipientID id.RecipientID `json:"recipient_id"`
	Status      ClaimStatus    `json:"status"`
	TokenDigest string         `json:"-"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	RedeemedAt  *time.Time     `json:"redeemed_at,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewPendingClaim builds a freshly allocated claim.
func NewPendingClaim(claimID id.ClaimID, campaignID id.CampaignID, recipientID id.RecipientID, tokenDigest string, now time.Time) *Claim {
	return &Claim{
		ID:          claimID,
		CampaignID:  campaignID,
		RecipientID: recipientID,
		Status:      ClaimStatusPending,
		TokenDigest: tokenDigest,
		ExpiresAt:   now.Add(PendingClaimTTL),
		CreatedAt:   now,
	}
}

// IsPendingExpired reports whether a pending claim is past its deadline.
func (c *Claim) IsPendingExpired(now time.Time) bool {
	return c.Status == ClaimStatusPending && !now.Before(c.ExpiresAt)
}

// RedeemableUntil is the end of the post-claim redemption window.
// Zero when the claim has not been claimed.
func (c *Claim) RedeemableUntil() time.Time {
	if c.ClaimedAt == nil {
		return time.Time{}
	}
	return c.ClaimedAt.Add(RedemptionWindow)
}

// ClaimView is a claim joined with the campaign fields a recipient sees.
type ClaimView struct {
	Claim
	ItemName          string    `json:"item_name"`
	BusinessName      string    `json:"business_name"`
	RedemptionEndDate time.Time `json:"redemption_end_date"`
}
