package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"caredrop/internal/donation/models"
	"caredrop/internal/donation/store"
	"caredrop/internal/donation/store/storetest"
	id "caredrop/pkg/domain"
	dErrors "caredrop/pkg/domain-errors"
	audit "caredrop/pkg/platform/audit"
	"caredrop/pkg/platform/audit/publisher"
	auditmemory "caredrop/pkg/platform/audit/store/memory"
	"caredrop/pkg/requestcontext"
	"caredrop/pkg/secrets"
)

type ManagerSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	store     *store.InMemory
	fx        *storetest.Fixtures
	auditLog  *auditmemory.InMemoryStore
	manager   *Manager
	agency    *models.Agency
	recipient *models.Recipient
	campaign  *models.Campaign
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = store.NewInMemory()
	s.fx = storetest.New(s.T(), s.store, s.now)
	s.auditLog = auditmemory.NewInMemoryStore()
	s.manager = New(s.store, WithAuditPublisher(publisher.NewPublisher(s.auditLog)))
	s.agency = s.fx.Agency("North")
	s.recipient = s.fx.Recipient(s.agency, "Maria Lopez", s.now.AddDate(0, -1, 0))
	s.campaign = s.fx.Campaign(id.BusinessID(uuid.New()), s.agency, 5)
}

func (s *ManagerSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ManagerSuite) TestClaim() {
	pending := s.fx.PendingClaim(s.campaign, s.recipient, s.now.Add(-time.Hour))

	result, err := s.manager.Claim(s.ctx, pending.ID, s.recipient.ID)
	s.Require().NoError(err)

	s.Equal(pending.ID, result.ClaimID)
	s.Equal(s.now, result.ClaimedAt)
	s.Equal(s.now.Add(models.RedemptionWindow), result.RedeemBy)
	s.NotEmpty(result.Token)

	s.Run("only the digest of the new token is stored", func() {
		digest, err := secrets.Digest(result.Token)
		s.Require().NoError(err)
		stored, err := s.store.FindClaimByTokenDigest(s.ctx, digest)
		s.Require().NoError(err)
		s.Equal(pending.ID, stored.ID)
		s.Equal(models.ClaimStatusClaimed, stored.Status)
		s.NotEqual(result.Token, stored.TokenDigest)
	})

	s.Run("claiming again finds no pending claim", func() {
		_, err := s.manager.Claim(s.ctx, pending.ID, s.recipient.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	events, err := s.auditLog.ListByClaim(s.ctx, pending.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventClaimClaimed), events[0].Action)
}

func (s *ManagerSuite) TestClaimNotFound() {
	pending := s.fx.PendingClaim(s.campaign, s.recipient, s.now)

	s.Run("unknown claim", func() {
		_, err := s.manager.Claim(s.ctx, id.ClaimID(uuid.New()), s.recipient.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("claim of another recipient", func() {
		other := s.fx.Recipient(s.agency, "James Chen", s.now)
		_, err := s.manager.Claim(s.ctx, pending.ID, other.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ManagerSuite) TestClaimAfterDeadlineExpires() {
	pending := s.fx.PendingClaim(s.campaign, s.recipient, s.now)
	deadline := s.at(pending.ExpiresAt)

	_, err := s.manager.Claim(deadline, pending.ID, s.recipient.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeClaimExpired))

	stored, err := s.store.FindClaim(s.ctx, pending.ID)
	s.Require().NoError(err)
	s.Equal(models.ClaimStatusExpired, stored.Status)

	_, err = s.manager.Claim(deadline, pending.ID, s.recipient.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "expired claims never come back")
}

func (s *ManagerSuite) TestSecondActiveClaimIsRefused() {
	first := s.fx.PendingClaim(s.campaign, s.recipient, s.now)
	second := s.fx.PendingClaim(s.fx.Campaign(id.BusinessID(uuid.New()), s.agency, 1), s.recipient, s.now)

	_, err := s.manager.Claim(s.ctx, first.ID, s.recipient.ID)
	s.Require().NoError(err)

	_, err = s.manager.Claim(s.ctx, second.ID, s.recipient.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeActiveClaimExists))

	stored, err := s.store.FindClaim(s.ctx, second.ID)
	s.Require().NoError(err)
	s.Equal(models.ClaimStatusPending, stored.Status)
}

func (s *ManagerSuite) TestConcurrentClaimsYieldOneActive() {
	claims := make([]*models.Claim, 6)
	for i := range claims {
		campaign := s.fx.Campaign(id.BusinessID(uuid.New()), s.agency, 1)
		claims[i] = s.fx.PendingClaim(campaign, s.recipient, s.now)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for _, claim := range claims {
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.manager.Claim(s.ctx, claim.ID, s.recipient.ID)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				failures = append(failures, err)
			}()
		}
	}
	wg.Wait()

	s.Equal(1, successes)
	for _, err := range failures {
		code := dErrors.CodeOf(err)
		s.Contains([]dErrors.Code{dErrors.CodeActiveClaimExists, dErrors.CodeNotFound}, code)
	}
	active, err := s.store.FindActiveClaim(s.ctx, s.recipient.ID)
	s.Require().NoError(err)
	s.Equal(models.ClaimStatusClaimed, active.Status)
}

func (s *ManagerSuite) TestCheckAndExpireIsIdempotent() {
	pending := s.fx.PendingClaim(s.campaign, s.recipient, s.now)

	expired, err := s.manager.CheckAndExpire(s.ctx, pending)
	s.Require().NoError(err)
	s.False(expired, "claim is still within its deadline")

	later := s.at(pending.ExpiresAt.Add(time.Minute))
	expired, err = s.manager.CheckAndExpire(later, pending)
	s.Require().NoError(err)
	s.True(expired)

	expired, err = s.manager.CheckAndExpire(later, pending)
	s.Require().NoError(err)
	s.False(expired)

	events, err := s.auditLog.ListByAction(s.ctx, audit.EventClaimExpired)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *ManagerSuite) TestSweepExpired() {
	other := s.fx.Recipient(s.agency, "James Chen", s.now)
	third := s.fx.Recipient(s.agency, "Aisha Bello", s.now)
	s.fx.PendingClaim(s.campaign, s.recipient, s.now.Add(-80*time.Hour))
	s.fx.PendingClaim(s.campaign, other, s.now.Add(-72*time.Hour))
	fresh := s.fx.PendingClaim(s.campaign, third, s.now.Add(-time.Hour))

	count, err := s.manager.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, count)

	stored, err := s.store.FindClaim(s.ctx, fresh.ID)
	s.Require().NoError(err)
	s.Equal(models.ClaimStatusPending, stored.Status)

	count, err = s.manager.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)

	s.Run("sweeper pins the sweep to the tick time", func() {
		s.Equal(1, s.manager.sweepOnce(context.Background(), fresh.ExpiresAt))
	})
}

func (s *ManagerSuite) TestListForRecipient() {
	active := s.fx.ClaimedClaim(s.campaign, s.recipient, "digest-active", s.now.Add(-time.Hour))
	pending := s.fx.PendingClaim(s.fx.Campaign(id.BusinessID(uuid.New()), s.agency, 1), s.recipient, s.now.Add(-time.Hour))
	overdue := s.fx.PendingClaim(s.fx.Campaign(id.BusinessID(uuid.New()), s.agency, 1), s.recipient, s.now.Add(-100*time.Hour))

	claims, err := s.manager.ListForRecipient(s.ctx, s.recipient.ID)
	s.Require().NoError(err)

	s.Require().NotNil(claims.Active)
	s.Equal(active.ID, claims.Active.ID)
	s.Require().Len(claims.Pending, 1)
	s.Equal(pending.ID, claims.Pending[0].ID)
	s.Equal("Sandwich", claims.Pending[0].ItemName)
	s.Require().Len(claims.History, 1)
	s.Equal(overdue.ID, claims.History[0].ID)
	s.Equal(models.ClaimStatusExpired, claims.History[0].Status)

	stored, err := s.store.FindClaim(s.ctx, overdue.ID)
	s.Require().NoError(err)
	s.Equal(models.ClaimStatusPending, stored.Status, "listing never mutates")
}

func (s *ManagerSuite) TestStoreFailureIsInternal() {
	manager := New(brokenStore{s.store})
	_, err := manager.Claim(s.ctx, id.ClaimID(uuid.New()), s.recipient.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.True(dErrors.Retryable(err))
}

type brokenStore struct {
	*store.InMemory
}

func (brokenStore) FindClaim(context.Context, id.ClaimID) (*models.Claim, error) {
	return nil, errors.New("connection reset")
}
