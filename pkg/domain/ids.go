// Package domain holds the typed identifiers shared across modules.
//
// Every identifier is a distinct named UUID type so the compiler rejects
// passing a CampaignID where a ClaimID is expected. Parsing happens once at
// the trust boundary (HTTP handlers, config); everything below works with
// already-valid values.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "caredrop/pkg/domain-errors"
)

type (
	AgencyID      uuid.UUID
	RosterEntryID uuid.UUID
	RecipientID   uuid.UUID
	BusinessID    uuid.UUID
	CampaignID    uuid.UUID
	ClaimID       uuid.UUID
)

func (id AgencyID) String() string      { return uuid.UUID(id).String() }
func (id RosterEntryID) String() string { return uuid.UUID(id).String() }
func (id RecipientID) String() string   { return uuid.UUID(id).String() }
func (id BusinessID) String() string    { return uuid.UUID(id).String() }
func (id CampaignID) String() string    { return uuid.UUID(id).String() }
func (id ClaimID) String() string       { return uuid.UUID(id).String() }

func (id AgencyID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id RosterEntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RecipientID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id BusinessID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CampaignID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ClaimID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

// parseUUID enforces that identifiers are non-empty, well formed and not the nil UUID.
func parseUUID(kind, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

func ParseAgencyID(s string) (AgencyID, error) {
	u, err := parseUUID("agency_id", s)
	return AgencyID(u), err
}

func ParseRosterEntryID(s string) (RosterEntryID, error) {
	u, err := parseUUID("roster_entry_id", s)
	return RosterEntryID(u), err
}

func ParseRecipientID(s string) (RecipientID, error) {
	u, err := parseUUID("recipient_id", s)
	return RecipientID(u), err
}

func ParseBusinessID(s string) (BusinessID, error) {
	u, err := parseUUID("business_id", s)
	return BusinessID(u), err
}

func ParseCampaignID(s string) (CampaignID, error) {
	u, err := parseUUID("campaign_id", s)
	return CampaignID(u), err
}

func ParseClaimID(s string) (ClaimID, error) {
	u, err := parseUUID("claim_id", s)
	return ClaimID(u), err
}
