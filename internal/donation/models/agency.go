package models

import (
	"strings"
	"time"

	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
)

// Agency is a registered care agency. Agencies are enumerated in a stable
// order (name, then id) wherever allocation needs "the first N agencies".
type Agency struct {
	ID   id.AgencyID `json:"id"`
	Name string      `json:"name"`
}

// RosterEntry is an agency-maintained record of a care worker. It is owned by
// agency administration and only read here to verify identity at enrollment.
type RosterEntry struct {
	ID       id.RosterEntryID `json:"id"`
	FullName string           `json:"full_name"`
	AgencyID id.AgencyID      `json:"agency_id"`
	Contact  string           `json:"contact,omitempty"`
}

// Recipient is the profile of an enrolled care worker.
//
// Invariants:
//   - ID equals the account id of the enrolled user
//   - at most one Recipient references a given roster entry
//   - AgencyID is derived from the roster entry and never changes
type Recipient struct {
	ID            id.RecipientID   `json:"id"`
	RosterEntryID id.RosterEntryID `json:"roster_entry_id"`
	AgencyID      id.AgencyID      `json:"agency_id"`
	FullName      string           `json:"full_name"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewRecipient links an account to a verified roster entry.
func NewRecipient(accountID id.RecipientID, entry RosterEntry, now time.Time) (*Recipient, error) {
	if accountID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "recipient id cannot be nil")
	}
	if entry.ID.IsNil() || entry.AgencyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "roster entry is incomplete")
	}
	return &Recipient{
		ID:            accountID,
		RosterEntryID: entry.ID,
		AgencyID:      entry.AgencyID,
		FullName:      entry.FullName,
		CreatedAt:     now,
	}, nil
}

// NormalizeName folds a person name for roster matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// EligibleRecipient is a recipient of an agency together with the history the
// eligibility ordering needs.
type EligibleRecipient struct {
	RecipientID id.RecipientID
	EnrolledAt  time.Time
	// LastClaimAt is the creation time of the recipient's most recent claim
	// in any state; nil when the recipient has never been allocated one.
	LastClaimAt *time.Time
}
