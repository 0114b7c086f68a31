package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
)

// CachedStore serves campaign lookups from an LRU cache. Campaigns are
// immutable after creation, so entries never go stale.
type CachedStore struct {
	Store
	campaigns *lru.Cache
}

// WithCampaignCache wraps backend with a campaign cache of the given size.
func WithCampaignCache(backend Store, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create campaign cache: %w", err)
	}
	return &CachedStore{Store: backend, campaigns: cache}, nil
}

func (s *CachedStore) CreateCampaign(ctx context.Context, campaign *models.Campaign) error {
	if err := s.Store.CreateCampaign(ctx, campaign); err != nil {
		return err
	}
	s.campaigns.Add(campaign.ID, copyCampaign(campaign))
	return nil
}

func (s *CachedStore) FindCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error) {
	if cached, ok := s.campaigns.Get(campaignID); ok {
		return copyCampaign(cached.(*models.Campaign)), nil
	}
	campaign, err := s.Store.FindCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	s.campaigns.Add(campaignID, copyCampaign(campaign))
	return campaign, nil
}

// Len reports how many campaigns are cached.
func (s *CachedStore) Len() int {
	return s.campaigns.Len()
}
