package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	"caredrop/pkg/platform/sentinel"
)

type campaignRecipient struct {
	campaignID  id.CampaignID
	recipientID id.RecipientID
}

// InMemory keeps donation state in process memory for tests and local runs.
// It enforces the same uniqueness constraints and conditional updates as the
// Postgres store. Records are copied on the way in and out.
type InMemory struct {
	mu sync.RWMutex

	agencies          map[id.AgencyID]*models.Agency
	rosterEntries     map[id.RosterEntryID]*models.RosterEntry
	recipients        map[id.RecipientID]*models.Recipient
	recipientByRoster map[id.RosterEntryID]id.RecipientID
	campaigns         map[id.CampaignID]*models.Campaign
	claims            map[id.ClaimID]*models.Claim
	claimByPair       map[campaignRecipient]id.ClaimID
	claimByDigest     map[string]id.ClaimID
	activeClaim       map[id.RecipientID]id.ClaimID
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		agencies:          make(map[id.AgencyID]*models.Agency),
		rosterEntries:     make(map[id.RosterEntryID]*models.RosterEntry),
		recipients:        make(map[id.RecipientID]*models.Recipient),
		recipientByRoster: make(map[id.RosterEntryID]id.RecipientID),
		campaigns:         make(map[id.CampaignID]*models.Campaign),
		claims:            make(map[id.ClaimID]*models.Claim),
		claimByPair:       make(map[campaignRecipient]id.ClaimID),
		claimByDigest:     make(map[string]id.ClaimID),
		activeClaim:       make(map[id.RecipientID]id.ClaimID),
	}
}

func (s *InMemory) CreateAgency(_ context.Context, agency *models.Agency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agencies[agency.ID]; ok {
		return fmt.Errorf("agency %s exists: %w", agency.ID, sentinel.ErrAlreadyUsed)
	}
	cp := *agency
	s.agencies[agency.ID] = &cp
	return nil
}

func (s *InMemory) FindAgency(_ context.Context, agencyID id.AgencyID) (*models.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agency, ok := s.agencies[agencyID]
	if !ok {
		return nil, fmt.Errorf("agency not found: %w", sentinel.ErrNotFound)
	}
	cp := *agency
	return &cp, nil
}

func (s *InMemory) ListAgencies(_ context.Context) ([]*models.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Agency, 0, len(s.agencies))
	for _, agency := range s.agencies {
		cp := *agency
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *InMemory) CreateRosterEntry(_ context.Context, entry *models.RosterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agencies[entry.AgencyID]; !ok {
		return fmt.Errorf("roster entry agency: %w", sentinel.ErrNotFound)
	}
	if _, ok := s.rosterEntries[entry.ID]; ok {
		return fmt.Errorf("roster entry %s exists: %w", entry.ID, sentinel.ErrAlreadyUsed)
	}
	cp := *entry
	s.rosterEntries[entry.ID] = &cp
	return nil
}

func (s *InMemory) FindRosterEntry(_ context.Context, agencyID id.AgencyID, fullName string) (*models.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := models.NormalizeName(fullName)
	var match *models.RosterEntry
	for _, entry := range s.rosterEntries {
		if entry.AgencyID != agencyID || models.NormalizeName(entry.FullName) != want {
			continue
		}
		// Duplicate names resolve to the lowest id so lookups are repeatable.
		if match == nil || entry.ID.String() < match.ID.String() {
			match = entry
		}
	}
	if match == nil {
		return nil, fmt.Errorf("roster entry not found: %w", sentinel.ErrNotFound)
	}
	cp := *match
	return &cp, nil
}

func (s *InMemory) CreateRecipient(_ context.Context, recipient *models.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rosterEntries[recipient.RosterEntryID]; !ok {
		return fmt.Errorf("recipient roster entry: %w", sentinel.ErrNotFound)
	}
	if _, ok := s.recipients[recipient.ID]; ok {
		return fmt.Errorf("recipient %s exists: %w", recipient.ID, sentinel.ErrAlreadyUsed)
	}
	if _, ok := s.recipientByRoster[recipient.RosterEntryID]; ok {
		return fmt.Errorf("roster entry already enrolled: %w", sentinel.ErrAlreadyUsed)
	}
	cp := *recipient
	s.recipients[recipient.ID] = &cp
	s.recipientByRoster[recipient.RosterEntryID] = recipient.ID
	return nil
}

func (s *InMemory) FindRecipient(_ context.Context, recipientID id.RecipientID) (*models.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recipient, ok := s.recipients[recipientID]
	if !ok {
		return nil, fmt.Errorf("recipient not found: %w", sentinel.ErrNotFound)
	}
	cp := *recipient
	return &cp, nil
}

func (s *InMemory) ListEligibleRecipients(_ context.Context, agencyID id.AgencyID) ([]models.EligibleRecipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lastClaim := make(map[id.RecipientID]time.Time)
	for _, claim := range s.claims {
		if last, ok := lastClaim[claim.RecipientID]; !ok || claim.CreatedAt.After(last) {
			lastClaim[claim.RecipientID] = claim.CreatedAt
		}
	}
	var out []models.EligibleRecipient
	for _, recipient := range s.recipients {
		if recipient.AgencyID != agencyID {
			continue
		}
		row := models.EligibleRecipient{RecipientID: recipient.ID, EnrolledAt: recipient.CreatedAt}
		if last, ok := lastClaim[recipient.ID]; ok {
			row.LastClaimAt = &last
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *InMemory) CreateCampaign(_ context.Context, campaign *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[campaign.ID]; ok {
		return fmt.Errorf("campaign %s exists: %w", campaign.ID, sentinel.ErrAlreadyUsed)
	}
	if campaign.AgencyID != nil {
		if _, ok := s.agencies[*campaign.AgencyID]; !ok {
			return fmt.Errorf("campaign agency: %w", sentinel.ErrNotFound)
		}
	}
	s.campaigns[campaign.ID] = copyCampaign(campaign)
	return nil
}

func (s *InMemory) FindCampaign(_ context.Context, campaignID id.CampaignID) (*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	campaign, ok := s.campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("campaign not found: %w", sentinel.ErrNotFound)
	}
	return copyCampaign(campaign), nil
}

func (s *InMemory) ListCampaignsByBusiness(_ context.Context, businessID id.BusinessID) ([]*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Campaign
	for _, campaign := range s.campaigns {
		if campaign.BusinessID == businessID {
			out = append(out, copyCampaign(campaign))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

func (s *InMemory) ListOpenCampaignsForAgency(_ context.Context, agencyID id.AgencyID, now time.Time) ([]*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Campaign
	for _, campaign := range s.campaigns {
		if campaign.Targets(agencyID) && campaign.OpenOn(now) {
			out = append(out, copyCampaign(campaign))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *InMemory) InsertClaim(_ context.Context, claim *models.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	campaign, ok := s.campaigns[claim.CampaignID]
	if !ok {
		return fmt.Errorf("claim campaign: %w", sentinel.ErrNotFound)
	}
	if _, ok := s.recipients[claim.RecipientID]; !ok {
		return fmt.Errorf("claim recipient: %w", sentinel.ErrNotFound)
	}
	if _, ok := s.claims[claim.ID]; ok {
		return fmt.Errorf("claim %s exists: %w", claim.ID, sentinel.ErrAlreadyUsed)
	}
	pair := campaignRecipient{campaignID: claim.CampaignID, recipientID: claim.RecipientID}
	if _, ok := s.claimByPair[pair]; ok {
		return fmt.Errorf("recipient already holds a claim for campaign: %w", sentinel.ErrAlreadyUsed)
	}
	if _, ok := s.claimByDigest[claim.TokenDigest]; ok {
		return fmt.Errorf("token digest collision: %w", sentinel.ErrAlreadyUsed)
	}
	if s.countClaimsLocked(claim.CampaignID) >= campaign.Quantity {
		return fmt.Errorf("campaign %s is full: %w", claim.CampaignID, sentinel.ErrCapacityExhausted)
	}
	if claim.Status == models.ClaimStatusClaimed {
		if _, ok := s.activeClaim[claim.RecipientID]; ok {
			return fmt.Errorf("recipient already has an active claim: %w", sentinel.ErrConflict)
		}
		s.activeClaim[claim.RecipientID] = claim.ID
	}
	s.claims[claim.ID] = copyClaim(claim)
	s.claimByPair[pair] = claim.ID
	s.claimByDigest[claim.TokenDigest] = claim.ID
	return nil
}

func (s *InMemory) FindClaim(_ context.Context, claimID id.ClaimID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	claim, ok := s.claims[claimID]
	if !ok {
		return nil, fmt.Errorf("claim not found: %w", sentinel.ErrNotFound)
	}
	return copyClaim(claim), nil
}

func (s *InMemory) FindClaimByTokenDigest(_ context.Context, digest string) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	claimID, ok := s.claimByDigest[digest]
	if !ok {
		return nil, fmt.Errorf("claim not found: %w", sentinel.ErrNotFound)
	}
	return copyClaim(s.claims[claimID]), nil
}

func (s *InMemory) FindActiveClaim(_ context.Context, recipientID id.RecipientID) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	claimID, ok := s.activeClaim[recipientID]
	if !ok {
		return nil, fmt.Errorf("active claim not found: %w", sentinel.ErrNotFound)
	}
	return copyClaim(s.claims[claimID]), nil
}

func (s *InMemory) ListClaimViews(_ context.Context, recipientID id.RecipientID) ([]*models.ClaimView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ClaimView
	for _, claim := range s.claims {
		if claim.RecipientID != recipientID {
			continue
		}
		campaign := s.campaigns[claim.CampaignID]
		out = append(out, &models.ClaimView{
			Claim:             *copyClaim(claim),
			ItemName:          campaign.ItemName,
			BusinessName:      campaign.BusinessName,
			RedemptionEndDate: campaign.RedemptionEndDate,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

func (s *InMemory) CountClaims(_ context.Context, campaignID id.CampaignID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countClaimsLocked(campaignID), nil
}

// countClaimsLocked requires s.mu.
func (s *InMemory) countClaimsLocked(campaignID id.CampaignID) int {
	count := 0
	for pair := range s.claimByPair {
		if pair.campaignID == campaignID {
			count++
		}
	}
	return count
}

func (s *InMemory) CountClaimsByCampaign(_ context.Context, campaignIDs []id.CampaignID) (map[id.CampaignID]models.ClaimCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.CampaignID]models.ClaimCounts, len(campaignIDs))
	for _, campaignID := range campaignIDs {
		out[campaignID] = models.ClaimCounts{}
	}
	for _, claim := range s.claims {
		counts, ok := out[claim.CampaignID]
		if !ok {
			continue
		}
		out[claim.CampaignID] = tally(counts, claim.Status)
	}
	return out, nil
}

func (s *InMemory) RecipientsWithClaim(_ context.Context, campaignID id.CampaignID, recipientIDs []id.RecipientID) (map[id.RecipientID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.RecipientID]struct{})
	for _, recipientID := range recipientIDs {
		if _, ok := s.claimByPair[campaignRecipient{campaignID: campaignID, recipientID: recipientID}]; ok {
			out[recipientID] = struct{}{}
		}
	}
	return out, nil
}

func (s *InMemory) MarkClaimed(_ context.Context, claimID id.ClaimID, recipientID id.RecipientID, digest string, now time.Time) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[claimID]
	if !ok || claim.RecipientID != recipientID || claim.Status != models.ClaimStatusPending || !now.Before(claim.ExpiresAt) {
		return nil, fmt.Errorf("claim is not claimable: %w", sentinel.ErrInvalidState)
	}
	if _, ok := s.activeClaim[recipientID]; ok {
		return nil, fmt.Errorf("recipient already has an active claim: %w", sentinel.ErrConflict)
	}
	if _, ok := s.claimByDigest[digest]; ok {
		return nil, fmt.Errorf("token digest collision: %w", sentinel.ErrAlreadyUsed)
	}
	delete(s.claimByDigest, claim.TokenDigest)
	claimedAt := now
	claim.Status = models.ClaimStatusClaimed
	claim.ClaimedAt = &claimedAt
	claim.TokenDigest = digest
	s.claimByDigest[digest] = claim.ID
	s.activeClaim[recipientID] = claim.ID
	return copyClaim(claim), nil
}

func (s *InMemory) MarkExpired(_ context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[claimID]
	if !ok || !claim.IsPendingExpired(now) {
		return nil, fmt.Errorf("claim is not expirable: %w", sentinel.ErrInvalidState)
	}
	claim.Status = models.ClaimStatusExpired
	return copyClaim(claim), nil
}

func (s *InMemory) ExpirePending(_ context.Context, now time.Time) ([]*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Claim
	for _, claim := range s.claims {
		if claim.IsPendingExpired(now) {
			claim.Status = models.ClaimStatusExpired
			out = append(out, copyClaim(claim))
		}
	}
	return out, nil
}

func (s *InMemory) MarkRedeemed(_ context.Context, claimID id.ClaimID, now time.Time) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[claimID]
	if !ok || claim.Status != models.ClaimStatusClaimed {
		return nil, fmt.Errorf("claim is not redeemable: %w", sentinel.ErrInvalidState)
	}
	redeemedAt := now
	claim.Status = models.ClaimStatusRedeemed
	claim.RedeemedAt = &redeemedAt
	delete(s.activeClaim, claim.RecipientID)
	return copyClaim(claim), nil
}

func tally(counts models.ClaimCounts, status models.ClaimStatus) models.ClaimCounts {
	counts.Allocated++
	switch status {
	case models.ClaimStatusClaimed:
		counts.Claimed++
	case models.ClaimStatusRedeemed:
		counts.Redeemed++
	case models.ClaimStatusExpired:
		counts.Expired++
	}
	return counts
}

func copyCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	if c.AgencyID != nil {
		agencyID := *c.AgencyID
		cp.AgencyID = &agencyID
	}
	return &cp
}

func copyClaim(c *models.Claim) *models.Claim {
	cp := *c
	if c.ClaimedAt != nil {
		t := *c.ClaimedAt
		cp.ClaimedAt = &t
	}
	if c.RedeemedAt != nil {
		t := *c.RedeemedAt
		cp.RedeemedAt = &t
	}
	return &cp
}
