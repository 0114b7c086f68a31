package models

import (
	"strings"
	"time"

	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
)

// Campaign is a single business's offer of Quantity units of one item.
// It is immutable after creation; progress is derived from its claims.
type Campaign struct {
	ID           id.CampaignID `json:"id"`
	BusinessID   id.BusinessID `json:"business_id"`
	BusinessName string        `json:"business_name"`
	ItemName     string        `json:"item_name"`
	Quantity     int           `json:"quantity"`
	// AgencyID nil means the campaign spans all agencies.
	AgencyID *id.AgencyID `json:"agency_id,omitempty"`
	// RedemptionEndDate is a calendar date (UTC midnight); redemption is
	// allowed through the end of that day.
	RedemptionEndDate time.Time `json:"redemption_end_date"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewCampaign validates and builds a campaign.
func NewCampaign(
	campaignID id.CampaignID,
	businessID id.BusinessID,
	businessName, itemName string,
	quantity int,
	agencyID *id.AgencyID,
	redemptionEnd time.Time,
	now time.Time,
) (*Campaign, error) {
	itemName = strings.TrimSpace(itemName)
	if businessID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "business id cannot be nil")
	}
	if itemName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "item name cannot be empty")
	}
	if len(itemName) > 200 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "item name must be 200 characters or less")
	}
	if quantity <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "quantity must be positive")
	}
	endDate := DateOf(redemptionEnd)
	if endDate.Before(DateOf(now)) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "redemption end date cannot be in the past")
	}
	return &Campaign{
		ID:                campaignID,
		BusinessID:        businessID,
		BusinessName:      strings.TrimSpace(businessName),
		ItemName:          itemName,
		Quantity:          quantity,
		AgencyID:          agencyID,
		RedemptionEndDate: endDate,
		CreatedAt:         now,
	}, nil
}

// OpenOn reports whether the redemption window still includes the day of now.
func (c *Campaign) OpenOn(now time.Time) bool {
	return !c.RedemptionEndDate.Before(DateOf(now))
}

// Targets reports whether the campaign is restricted to agencyID.
func (c *Campaign) Targets(agencyID id.AgencyID) bool {
	return c.AgencyID != nil && *c.AgencyID == agencyID
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ClaimCounts aggregates claim progress for a campaign.
type ClaimCounts struct {
	Allocated int `json:"allocated"`
	Claimed   int `json:"claimed"`
	Redeemed  int `json:"redeemed"`
	Expired   int `json:"expired"`
}

// CampaignSummary is a campaign plus its derived claim progress.
type CampaignSummary struct {
	Campaign
	Counts ClaimCounts `json:"counts"`
}
