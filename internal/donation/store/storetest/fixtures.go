// Package storetest builds donation fixtures on top of any store.Store.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"caredrop/internal/donation/models"
	"caredrop/internal/donation/store"
	id "caredrop/pkg/domain"
)

// Fixtures creates records with sensible defaults and fails the test on error.
type Fixtures struct {
	t     testing.TB
	ctx   context.Context
	Store store.Store
	Now   time.Time
}

func New(t testing.TB, s store.Store, now time.Time) *Fixtures {
	return &Fixtures{t: t, ctx: context.Background(), Store: s, Now: now}
}

func (f *Fixtures) Agency(name string) *models.Agency {
	f.t.Helper()
	agency := &models.Agency{ID: id.AgencyID(uuid.New()), Name: name}
	require.NoError(f.t, f.Store.CreateAgency(f.ctx, agency))
	return agency
}

func (f *Fixtures) RosterEntry(agency *models.Agency, fullName string) *models.RosterEntry {
	f.t.Helper()
	entry := &models.RosterEntry{ID: id.RosterEntryID(uuid.New()), AgencyID: agency.ID, FullName: fullName}
	require.NoError(f.t, f.Store.CreateRosterEntry(f.ctx, entry))
	return entry
}

// Recipient enrolls a new recipient in the agency at enrolledAt.
func (f *Fixtures) Recipient(agency *models.Agency, fullName string, enrolledAt time.Time) *models.Recipient {
	f.t.Helper()
	entry := f.RosterEntry(agency, fullName)
	recipient, err := models.NewRecipient(id.RecipientID(uuid.New()), *entry, enrolledAt)
	require.NoError(f.t, err)
	require.NoError(f.t, f.Store.CreateRecipient(f.ctx, recipient))
	return recipient
}

// Campaign creates a campaign sponsored by businessID that stays open for two weeks.
// A nil agency targets every agency.
func (f *Fixtures) Campaign(businessID id.BusinessID, agency *models.Agency, quantity int) *models.Campaign {
	f.t.Helper()
	return f.CampaignEnding(businessID, agency, quantity, f.Now.AddDate(0, 0, 14))
}

func (f *Fixtures) CampaignEnding(businessID id.BusinessID, agency *models.Agency, quantity int, end time.Time) *models.Campaign {
	f.t.Helper()
	var agencyID *id.AgencyID
	if agency != nil {
		agencyID = &agency.ID
	}
	campaign, err := models.NewCampaign(id.CampaignID(uuid.New()), businessID, "Corner Deli",
		"Sandwich", quantity, agencyID, f.Now, f.Now)
	require.NoError(f.t, err)
	// Bypass the constructor so tests can build campaigns that already closed.
	campaign.RedemptionEndDate = models.DateOf(end)
	require.NoError(f.t, f.Store.CreateCampaign(f.ctx, campaign))
	return campaign
}

// PendingClaim inserts a pending claim created at createdAt whose digest is
// derived from the claim id.
func (f *Fixtures) PendingClaim(campaign *models.Campaign, recipient *models.Recipient, createdAt time.Time) *models.Claim {
	f.t.Helper()
	claimID := id.ClaimID(uuid.New())
	claim := models.NewPendingClaim(claimID, campaign.ID, recipient.ID, "pending-"+claimID.String(), createdAt)
	require.NoError(f.t, f.Store.InsertClaim(f.ctx, claim))
	return claim
}

// ClaimedClaim inserts a claim and moves it to claimed at claimedAt under digest.
func (f *Fixtures) ClaimedClaim(campaign *models.Campaign, recipient *models.Recipient, digest string, claimedAt time.Time) *models.Claim {
	f.t.Helper()
	pending := f.PendingClaim(campaign, recipient, claimedAt.Add(-time.Hour))
	claimed, err := f.Store.MarkClaimed(f.ctx, pending.ID, recipient.ID, digest, claimedAt)
	require.NoError(f.t, err)
	return claimed
}
