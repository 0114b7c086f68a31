package domain

import "github.com/google/uuid"

// Identifiers travel as canonical UUID strings in JSON and other text encodings.

func (id AgencyID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id RosterEntryID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RecipientID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id BusinessID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id CampaignID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id ClaimID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }

func (id *AgencyID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *RosterEntryID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *RecipientID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *BusinessID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *CampaignID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id *ClaimID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
