package models

import (
	"time"

	id "caredrop/pkg/domain"
)

// AgencyAllocation reports what one agency received in an allocation run.
type AgencyAllocation struct {
	AgencyID id.AgencyID `json:"agency_id"`
	Share    int         `json:"share"`
	Created  int         `json:"created"`
}

// AllocationResult is the outcome of an allocation run.
type AllocationResult struct {
	CampaignID  id.CampaignID      `json:"campaign_id"`
	Distributed int                `json:"distributed"`
	Agencies    []AgencyAllocation `json:"agencies"`
}

// ClaimResult is returned to a recipient who claimed a donation.
type ClaimResult struct {
	ClaimID   id.ClaimID `json:"claim_id"`
	Token     string     `json:"token"`
	ClaimedAt time.Time  `json:"claimed_at"`
	RedeemBy  time.Time  `json:"redeem_by"`
}

// RedemptionResult is returned to the business that scanned a token.
type RedemptionResult struct {
	ClaimID    id.ClaimID `json:"claim_id"`
	ItemName   string     `json:"item_name"`
	RedeemedAt time.Time  `json:"redeemed_at"`
}

// Redeemer identifies the business presenting a token.
type Redeemer struct {
	BusinessID id.BusinessID
	Name       string
}

// RecipientClaims groups a recipient's claims the way the dashboard shows them.
type RecipientClaims struct {
	Pending []ClaimView `json:"pending"`
	Active  *ClaimView  `json:"active,omitempty"`
	History []ClaimView `json:"history"`
}

// AllocateResponse is the body returned by POST /allocate.
type AllocateResponse struct {
	Distributed int                `json:"distributed"`
	Agencies    []AgencyAllocation `json:"agencies,omitempty"`
}

// RedeemResponse is the body returned by POST /redeem.
type RedeemResponse struct {
	ClaimID    string    `json:"claim_id"`
	ItemName   string    `json:"item_name"`
	RedeemedAt time.Time `json:"redeemed_at"`
	Message    string    `json:"message"`
}

// CreateCampaignResponse is the body returned by POST /campaigns.
type CreateCampaignResponse struct {
	Campaign    *Campaign `json:"campaign"`
	Distributed int       `json:"distributed"`
}

// ExpireResponse is the body returned by the admin sweep endpoint.
type ExpireResponse struct {
	Expired int `json:"expired"`
}
