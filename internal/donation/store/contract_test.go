package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	"caredrop/pkg/platform/sentinel"
)

// contractSuite holds behavior every Store implementation must share.
// Concrete suites embed it and set store in SetupTest.
type contractSuite struct {
	suite.Suite
	store Store
	ctx   context.Context
	now   time.Time
}

func (s *contractSuite) givenAgency(name string) *models.Agency {
	agency := &models.Agency{ID: id.AgencyID(uuid.New()), Name: name}
	s.Require().NoError(s.store.CreateAgency(s.ctx, agency))
	return agency
}

func (s *contractSuite) givenRecipient(agency *models.Agency, name string, enrolledAt time.Time) *models.Recipient {
	entry := &models.RosterEntry{ID: id.RosterEntryID(uuid.New()), AgencyID: agency.ID, FullName: name}
	s.Require().NoError(s.store.CreateRosterEntry(s.ctx, entry))
	recipient, err := models.NewRecipient(id.RecipientID(uuid.New()), *entry, enrolledAt)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateRecipient(s.ctx, recipient))
	return recipient
}

func (s *contractSuite) givenCampaign(agency *models.Agency, quantity int, createdAt time.Time) *models.Campaign {
	var agencyID *id.AgencyID
	if agency != nil {
		agencyID = &agency.ID
	}
	campaign, err := models.NewCampaign(id.CampaignID(uuid.New()), id.BusinessID(uuid.New()), "Corner Deli",
		"Sandwich", quantity, agencyID, createdAt.AddDate(0, 0, 14), createdAt)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateCampaign(s.ctx, campaign))
	return campaign
}

func (s *contractSuite) givenPendingClaim(campaign *models.Campaign, recipient *models.Recipient, createdAt time.Time) *models.Claim {
	claim := models.NewPendingClaim(id.ClaimID(uuid.New()), campaign.ID, recipient.ID, uuid.NewString(), createdAt)
	s.Require().NoError(s.store.InsertClaim(s.ctx, claim))
	return claim
}

func (s *contractSuite) TestAgencyOrdering() {
	b := s.givenAgency("Beta Care")
	a := s.givenAgency("Alpha Care")

	agencies, err := s.store.ListAgencies(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(agencies, 2)
	s.Equal(a.ID, agencies[0].ID)
	s.Equal(b.ID, agencies[1].ID)
}

func (s *contractSuite) TestRosterAndRecipients() {
	agency := s.givenAgency("North")
	entry := &models.RosterEntry{ID: id.RosterEntryID(uuid.New()), AgencyID: agency.ID, FullName: "Maria  Lopez"}
	s.Require().NoError(s.store.CreateRosterEntry(s.ctx, entry))

	s.Run("matches roster names case-insensitively", func() {
		found, err := s.store.FindRosterEntry(s.ctx, agency.ID, "  maria lopez ")
		s.Require().NoError(err)
		s.Equal(entry.ID, found.ID)
	})

	s.Run("does not match other agencies", func() {
		other := s.givenAgency("South")
		_, err := s.store.FindRosterEntry(s.ctx, other.ID, "Maria Lopez")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("one profile per roster entry", func() {
		first, err := models.NewRecipient(id.RecipientID(uuid.New()), *entry, s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.CreateRecipient(s.ctx, first))

		second, err := models.NewRecipient(id.RecipientID(uuid.New()), *entry, s.now)
		s.Require().NoError(err)
		s.ErrorIs(s.store.CreateRecipient(s.ctx, second), sentinel.ErrAlreadyUsed)

		found, err := s.store.FindRecipient(s.ctx, first.ID)
		s.Require().NoError(err)
		s.Equal(agency.ID, found.AgencyID)
	})
}

func (s *contractSuite) TestClaimUniqueness() {
	agency := s.givenAgency("North")
	recipient := s.givenRecipient(agency, "Maria Lopez", s.now)
	campaign := s.givenCampaign(agency, 5, s.now)
	s.givenPendingClaim(campaign, recipient, s.now)

	s.Run("second claim for same campaign and recipient is rejected", func() {
		dup := models.NewPendingClaim(id.ClaimID(uuid.New()), campaign.ID, recipient.ID, uuid.NewString(), s.now)
		s.ErrorIs(s.store.InsertClaim(s.ctx, dup), sentinel.ErrAlreadyUsed)
	})

	s.Run("reports recipients already holding a claim", func() {
		other := s.givenRecipient(agency, "James Chen", s.now)
		held, err := s.store.RecipientsWithClaim(s.ctx, campaign.ID, []id.RecipientID{recipient.ID, other.ID})
		s.Require().NoError(err)
		s.Contains(held, recipient.ID)
		s.NotContains(held, other.ID)

		count, err := s.store.CountClaims(s.ctx, campaign.ID)
		s.Require().NoError(err)
		s.Equal(1, count)
	})
}

func (s *contractSuite) TestClaimCapacity() {
	agency := s.givenAgency("North")

	s.Run("insert past quantity is refused", func() {
		campaign := s.givenCampaign(agency, 2, s.now)
		s.givenPendingClaim(campaign, s.givenRecipient(agency, "Maria Lopez", s.now), s.now)
		s.givenPendingClaim(campaign, s.givenRecipient(agency, "James Chen", s.now), s.now)

		late := models.NewPendingClaim(id.ClaimID(uuid.New()), campaign.ID,
			s.givenRecipient(agency, "Tom Novak", s.now).ID, uuid.NewString(), s.now)
		s.ErrorIs(s.store.InsertClaim(s.ctx, late), sentinel.ErrCapacityExhausted)

		count, err := s.store.CountClaims(s.ctx, campaign.ID)
		s.Require().NoError(err)
		s.Equal(2, count)
	})

	s.Run("concurrent inserts stop at quantity", func() {
		campaign := s.givenCampaign(agency, 3, s.now)
		const writers = 10
		recipients := make([]*models.Recipient, writers)
		for i := range recipients {
			recipients[i] = s.givenRecipient(agency, uuid.NewString(), s.now)
		}

		var wg sync.WaitGroup
		var inserted, refused atomic.Int32
		for _, recipient := range recipients {
			wg.Add(1)
			go func(recipientID id.RecipientID) {
				defer wg.Done()
				claim := models.NewPendingClaim(id.ClaimID(uuid.New()), campaign.ID, recipientID, uuid.NewString(), s.now)
				err := s.store.InsertClaim(s.ctx, claim)
				switch {
				case err == nil:
					inserted.Add(1)
				case errors.Is(err, sentinel.ErrCapacityExhausted):
					refused.Add(1)
				}
			}(recipient.ID)
		}
		wg.Wait()

		s.Equal(int32(3), inserted.Load())
		s.Equal(int32(writers-3), refused.Load())
		count, err := s.store.CountClaims(s.ctx, campaign.ID)
		s.Require().NoError(err)
		s.Equal(3, count)
	})
}

func (s *contractSuite) TestClaimTransitions() {
	agency := s.givenAgency("North")
	recipient := s.givenRecipient(agency, "Maria Lopez", s.now)
	first := s.givenCampaign(agency, 5, s.now)
	second := s.givenCampaign(agency, 5, s.now.Add(time.Minute))
	claimA := s.givenPendingClaim(first, recipient, s.now)
	claimB := s.givenPendingClaim(second, recipient, s.now)

	s.Run("claims a pending claim and rotates the digest", func() {
		claimed, err := s.store.MarkClaimed(s.ctx, claimA.ID, recipient.ID, "digest-a", s.now.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(models.ClaimStatusClaimed, claimed.Status)
		s.Require().NotNil(claimed.ClaimedAt)

		_, err = s.store.FindClaimByTokenDigest(s.ctx, claimA.TokenDigest)
		s.ErrorIs(err, sentinel.ErrNotFound)
		byDigest, err := s.store.FindClaimByTokenDigest(s.ctx, "digest-a")
		s.Require().NoError(err)
		s.Equal(claimA.ID, byDigest.ID)

		active, err := s.store.FindActiveClaim(s.ctx, recipient.ID)
		s.Require().NoError(err)
		s.Equal(claimA.ID, active.ID)
	})

	s.Run("rejects a second active claim for the recipient", func() {
		_, err := s.store.MarkClaimed(s.ctx, claimB.ID, recipient.ID, "digest-b", s.now.Add(time.Hour))
		s.Require().Error(err)
		s.True(isOneOf(err, sentinel.ErrConflict, sentinel.ErrInvalidState))
	})

	s.Run("claimed claim cannot be claimed again", func() {
		_, err := s.store.MarkClaimed(s.ctx, claimA.ID, recipient.ID, "digest-c", s.now.Add(time.Hour))
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("redeems once", func() {
		redeemed, err := s.store.MarkRedeemed(s.ctx, claimA.ID, s.now.Add(2*time.Hour))
		s.Require().NoError(err)
		s.Equal(models.ClaimStatusRedeemed, redeemed.Status)

		_, err = s.store.MarkRedeemed(s.ctx, claimA.ID, s.now.Add(3*time.Hour))
		s.ErrorIs(err, sentinel.ErrInvalidState)

		_, err = s.store.FindActiveClaim(s.ctx, recipient.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("redeeming frees the recipient to claim again", func() {
		claimed, err := s.store.MarkClaimed(s.ctx, claimB.ID, recipient.ID, "digest-b", s.now.Add(4*time.Hour))
		s.Require().NoError(err)
		s.Equal(models.ClaimStatusClaimed, claimed.Status)
	})
}

func (s *contractSuite) TestExpiry() {
	agency := s.givenAgency("North")
	recipient := s.givenRecipient(agency, "Maria Lopez", s.now)
	other := s.givenRecipient(agency, "James Chen", s.now)
	campaign := s.givenCampaign(agency, 5, s.now)
	claim := s.givenPendingClaim(campaign, recipient, s.now)
	s.givenPendingClaim(campaign, other, s.now.Add(time.Hour))

	s.Run("pending claim cannot be expired before its deadline", func() {
		_, err := s.store.MarkExpired(s.ctx, claim.ID, claim.ExpiresAt.Add(-time.Second))
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("overdue pending claim cannot be claimed", func() {
		_, err := s.store.MarkClaimed(s.ctx, claim.ID, recipient.ID, "late", claim.ExpiresAt)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("expires exactly once", func() {
		expired, err := s.store.MarkExpired(s.ctx, claim.ID, claim.ExpiresAt)
		s.Require().NoError(err)
		s.Equal(models.ClaimStatusExpired, expired.Status)

		_, err = s.store.MarkExpired(s.ctx, claim.ID, claim.ExpiresAt)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("sweep expires only overdue pending claims", func() {
		swept, err := s.store.ExpirePending(s.ctx, claim.ExpiresAt.Add(30*time.Minute))
		s.Require().NoError(err)
		s.Empty(swept)

		swept, err = s.store.ExpirePending(s.ctx, claim.ExpiresAt.Add(time.Hour))
		s.Require().NoError(err)
		s.Require().Len(swept, 1)
		s.Equal(other.ID, swept[0].RecipientID)
	})

	s.Run("counts reflect terminal states", func() {
		counts, err := s.store.CountClaimsByCampaign(s.ctx, []id.CampaignID{campaign.ID})
		s.Require().NoError(err)
		s.Equal(models.ClaimCounts{Allocated: 2, Expired: 2}, counts[campaign.ID])
	})
}

func (s *contractSuite) TestEligibleRecipientHistory() {
	agency := s.givenAgency("North")
	served := s.givenRecipient(agency, "Maria Lopez", s.now)
	fresh := s.givenRecipient(agency, "James Chen", s.now.Add(time.Minute))
	first := s.givenCampaign(agency, 5, s.now)
	second := s.givenCampaign(nil, 5, s.now)
	s.givenPendingClaim(first, served, s.now.Add(time.Hour))
	s.givenPendingClaim(second, served, s.now.Add(2*time.Hour))

	rows, err := s.store.ListEligibleRecipients(s.ctx, agency.ID)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	byID := make(map[id.RecipientID]models.EligibleRecipient)
	for _, row := range rows {
		byID[row.RecipientID] = row
	}
	s.Nil(byID[fresh.ID].LastClaimAt)
	s.Require().NotNil(byID[served.ID].LastClaimAt)
	s.WithinDuration(s.now.Add(2*time.Hour), *byID[served.ID].LastClaimAt, time.Millisecond)
}

func (s *contractSuite) TestOpenCampaignsForAgency() {
	agency := s.givenAgency("North")
	later := s.givenCampaign(agency, 1, s.now.Add(time.Hour))
	earlier := s.givenCampaign(agency, 1, s.now)
	s.givenCampaign(nil, 1, s.now)

	open, err := s.store.ListOpenCampaignsForAgency(s.ctx, agency.ID, s.now)
	s.Require().NoError(err)
	s.Require().Len(open, 2)
	s.Equal(earlier.ID, open[0].ID)
	s.Equal(later.ID, open[1].ID)

	closed, err := s.store.ListOpenCampaignsForAgency(s.ctx, agency.ID, s.now.AddDate(0, 0, 30))
	s.Require().NoError(err)
	s.Empty(closed)
}

func (s *contractSuite) TestClaimViews() {
	agency := s.givenAgency("North")
	recipient := s.givenRecipient(agency, "Maria Lopez", s.now)
	campaign := s.givenCampaign(agency, 1, s.now)
	s.givenPendingClaim(campaign, recipient, s.now)

	views, err := s.store.ListClaimViews(s.ctx, recipient.ID)
	s.Require().NoError(err)
	s.Require().Len(views, 1)
	s.Equal("Sandwich", views[0].ItemName)
	s.Equal("Corner Deli", views[0].BusinessName)
}

// TestConcurrentClaimsSingleActive races claims for different campaigns by
// the same recipient; exactly one may win.
func (s *contractSuite) TestConcurrentClaimsSingleActive() {
	agency := s.givenAgency("North")
	recipient := s.givenRecipient(agency, "Maria Lopez", s.now)
	const campaigns = 8
	claims := make([]*models.Claim, 0, campaigns)
	for i := 0; i < campaigns; i++ {
		campaign := s.givenCampaign(agency, 1, s.now.Add(time.Duration(i)*time.Second))
		claims = append(claims, s.givenPendingClaim(campaign, recipient, s.now))
	}

	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, claim := range claims {
		wg.Add(1)
		go func(claimID id.ClaimID) {
			defer wg.Done()
			_, err := s.store.MarkClaimed(s.ctx, claimID, recipient.ID, uuid.NewString(), s.now.Add(time.Minute))
			if err == nil {
				wins.Add(1)
			}
		}(claim.ID)
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func isOneOf(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
