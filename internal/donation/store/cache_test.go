package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caredrop/internal/donation/models"
	id "caredrop/pkg/domain"
	"caredrop/pkg/platform/sentinel"
)

type countingStore struct {
	Store
	finds int
}

func (c *countingStore) FindCampaign(ctx context.Context, campaignID id.CampaignID) (*models.Campaign, error) {
	c.finds++
	return c.Store.FindCampaign(ctx, campaignID)
}

func TestCachedStore_FindCampaign(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := &countingStore{Store: NewInMemory()}
	cached, err := WithCampaignCache(backend, 2)
	require.NoError(t, err)

	campaign, err := models.NewCampaign(id.CampaignID(uuid.New()), id.BusinessID(uuid.New()), "Deli", "Soup", 3, nil, now, now)
	require.NoError(t, err)
	require.NoError(t, backend.Store.CreateCampaign(ctx, campaign))

	t.Run("reads through once", func(t *testing.T) {
		for range 3 {
			found, err := cached.FindCampaign(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, "Soup", found.ItemName)
		}
		assert.Equal(t, 1, backend.finds)
		assert.Equal(t, 1, cached.Len())
	})

	t.Run("cached copies are isolated from callers", func(t *testing.T) {
		found, err := cached.FindCampaign(ctx, campaign.ID)
		require.NoError(t, err)
		found.ItemName = "changed"

		again, err := cached.FindCampaign(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, "Soup", again.ItemName)
	})

	t.Run("misses are not cached", func(t *testing.T) {
		_, err := cached.FindCampaign(ctx, id.CampaignID(uuid.New()))
		require.ErrorIs(t, err, sentinel.ErrNotFound)
		assert.Equal(t, 1, cached.Len())
	})

	t.Run("created campaigns are cached on write", func(t *testing.T) {
		fresh, err := models.NewCampaign(id.CampaignID(uuid.New()), id.BusinessID(uuid.New()), "Deli", "Bread", 1, nil, now, now)
		require.NoError(t, err)
		require.NoError(t, cached.CreateCampaign(ctx, fresh))
		before := backend.finds

		_, err = cached.FindCampaign(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, before, backend.finds)
	})

	t.Run("rejects invalid size", func(t *testing.T) {
		_, err := WithCampaignCache(NewInMemory(), 0)
		require.Error(t, err)
	})
}
