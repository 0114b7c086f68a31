package allocation

import (
	"time"

	"github.com/google/uuid"

	"caredrop/internal/donation/eligibility"
	"caredrop/internal/donation/guard"
	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
)

func (s *EngineSuite) TestOnRecipientEnrolled() {
	agency := s.fx.Agency("North")
	other := s.fx.Agency("South")

	s.Run("no open campaign yields nothing", func() {
		recipient := s.fx.Recipient(other, "Tom Novak", s.now)
		claim, err := s.engine.OnRecipientEnrolled(s.ctx, recipient.ID, other.ID)
		s.Require().NoError(err)
		s.Nil(claim)
	})

	full := s.fx.Campaign(id.BusinessID(uuid.New()), agency, 1)
	s.fx.PendingClaim(full, s.fx.Recipient(agency, "Early Bird", s.now), s.now)
	s.fx.CampaignEnding(id.BusinessID(uuid.New()), agency, 5, s.now.AddDate(0, 0, -1))
	s.fx.Campaign(id.BusinessID(uuid.New()), nil, 5)
	open := s.fx.Campaign(id.BusinessID(uuid.New()), agency, 5)

	s.Run("takes the first open campaign with capacity", func() {
		recipient := s.fx.Recipient(agency, "Maria Lopez", s.now)
		claim, err := s.engine.OnRecipientEnrolled(s.ctx, recipient.ID, agency.ID)
		s.Require().NoError(err)
		s.Require().NotNil(claim)
		s.Equal(open.ID, claim.CampaignID)
		s.Equal(models.ClaimStatusPending, claim.Status)
		s.Equal(s.now.Add(models.PendingClaimTTL), claim.ExpiresAt)

		s.Run("at most one claim per call and none twice", func() {
			again, err := s.engine.OnRecipientEnrolled(s.ctx, recipient.ID, agency.ID)
			s.Require().NoError(err)
			s.Nil(again)
			s.Equal(1, s.claimsFor(open))
		})
	})

	s.Run("a campaign under allocation is passed over", func() {
		release, ok, err := s.locker.TryLock(s.ctx, guard.AllocationKey(open.ID), time.Minute)
		s.Require().NoError(err)
		s.Require().True(ok)
		defer func() { s.Require().NoError(release(s.ctx)) }()

		recipient := s.fx.Recipient(agency, "James Chen", s.now)
		claim, err := s.engine.OnRecipientEnrolled(s.ctx, recipient.ID, agency.ID)
		s.Require().NoError(err)
		s.Nil(claim)
	})

	s.Run("the agency must be the recipient's own", func() {
		recipient := s.fx.Recipient(other, "Ana Silva", s.now)
		claim, err := s.engine.OnRecipientEnrolled(s.ctx, recipient.ID, agency.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "unexpected error: %v", err)
		s.Nil(claim)

		held, err := s.store.RecipientsWithClaim(s.ctx, open.ID, []id.RecipientID{recipient.ID})
		s.Require().NoError(err)
		s.Empty(held)
	})

	s.Run("unknown recipient", func() {
		_, err := s.engine.OnRecipientEnrolled(s.ctx, id.RecipientID(uuid.New()), agency.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// TestOnRecipientEnrolledSkipsFullCampaign fills the campaign behind the
// lock's back; the store still refuses the extra claim.
func (s *EngineSuite) TestOnRecipientEnrolledSkipsFullCampaign() {
	agency := s.fx.Agency("North")
	campaign := s.fx.Campaign(id.BusinessID(uuid.New()), agency, 1)
	recipient := s.fx.Recipient(agency, "Maria Lopez", s.now)
	engine := New(&staleCounts{InMemory: s.store}, eligibility.New(s.store), WithLocker(s.locker))

	s.fx.PendingClaim(campaign, s.fx.Recipient(agency, "Early Bird", s.now), s.now)

	claim, err := engine.OnRecipientEnrolled(s.ctx, recipient.ID, agency.ID)
	s.Require().NoError(err)
	s.Nil(claim)
	s.Equal(1, s.claimsFor(campaign))
}
