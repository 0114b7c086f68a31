package models

import (
	"strings"
	"time"

	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
)

// AllocateRequest is the body of POST /allocate.
type AllocateRequest struct {
	CampaignID string  `json:"campaign_id"`
	AgencyID   *string `json:"agency_id"`
	Quantity   int     `json:"quantity"`
}

// AllocateCommand is a validated allocation request.
type AllocateCommand struct {
	CampaignID id.CampaignID
	// AgencyID nil defers to the campaign's target (or all agencies).
	AgencyID *id.AgencyID
	Quantity int
}

// Parse validates the request and converts it into a command.
func (r *AllocateRequest) Parse() (AllocateCommand, error) {
	campaignID, err := id.ParseCampaignID(r.CampaignID)
	if err != nil {
		return AllocateCommand{}, err
	}
	if r.Quantity <= 0 {
		return AllocateCommand{}, dErrors.New(dErrors.CodeValidation, "quantity must be a positive integer")
	}
	agencyID, err := parseOptionalAgency(r.AgencyID)
	if err != nil {
		return AllocateCommand{}, err
	}
	return AllocateCommand{CampaignID: campaignID, AgencyID: agencyID, Quantity: r.Quantity}, nil
}

// ClaimRequest is the body of POST /claim.
type ClaimRequest struct {
	ClaimID string `json:"claim_id"`
}

// RedeemRequest is the body of POST /redeem.
type RedeemRequest struct {
	Token string `json:"token"`
}

// Normalize trims whitespace from the presented token.
func (r *RedeemRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
}

func (r *RedeemRequest) Validate() error {
	if r.Token == "" {
		return dErrors.New(dErrors.CodeValidation, "token is required")
	}
	if len(r.Token) > 512 {
		return dErrors.New(dErrors.CodeValidation, "token is too long")
	}
	return nil
}

// CreateCampaignRequest is the body of POST /campaigns.
type CreateCampaignRequest struct {
	ItemName          string  `json:"item_name"`
	Quantity          int     `json:"quantity"`
	AgencyID          *string `json:"agency_id"`
	RedemptionEndDate string  `json:"redemption_end_date"`
}

// CreateCampaignCommand is a validated campaign creation request.
type CreateCampaignCommand struct {
	ItemName          string
	Quantity          int
	AgencyID          *id.AgencyID
	RedemptionEndDate time.Time
}

const dateLayout = "2006-01-02"

func (r *CreateCampaignRequest) Parse() (CreateCampaignCommand, error) {
	itemName := strings.TrimSpace(r.ItemName)
	if itemName == "" {
		return CreateCampaignCommand{}, dErrors.New(dErrors.CodeValidation, "item_name is required")
	}
	if r.Quantity <= 0 {
		return CreateCampaignCommand{}, dErrors.New(dErrors.CodeValidation, "quantity must be a positive integer")
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(r.RedemptionEndDate))
	if err != nil {
		return CreateCampaignCommand{}, dErrors.New(dErrors.CodeValidation, "redemption_end_date must be YYYY-MM-DD")
	}
	agencyID, err := parseOptionalAgency(r.AgencyID)
	if err != nil {
		return CreateCampaignCommand{}, err
	}
	return CreateCampaignCommand{
		ItemName:          itemName,
		Quantity:          r.Quantity,
		AgencyID:          agencyID,
		RedemptionEndDate: end,
	}, nil
}

// EnrollRequest is the body of POST /enrollments.
type EnrollRequest struct {
	AgencyID string `json:"agency_id"`
	FullName string `json:"full_name"`
}

// RecipientEnrolledRequest is the body of the admin enrollment hook.
type RecipientEnrolledRequest struct {
	AgencyID string `json:"agency_id"`
}

func parseOptionalAgency(raw *string) (*id.AgencyID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	agencyID, err := id.ParseAgencyID(*raw)
	if err != nil {
		return nil, err
	}
	return &agencyID, nil
}
