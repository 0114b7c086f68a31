package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "caredrop/pkg/domain-errors"
)

func TestAllocateRequest_Parse(t *testing.T) {
	campaignID := uuid.NewString()

	t.Run("null agency defers to campaign", func(t *testing.T) {
		cmd, err := (&AllocateRequest{CampaignID: campaignID, Quantity: 5}).Parse()
		require.NoError(t, err)
		assert.Nil(t, cmd.AgencyID)
		assert.Equal(t, 5, cmd.Quantity)
	})

	t.Run("empty agency string is treated as null", func(t *testing.T) {
		empty := ""
		cmd, err := (&AllocateRequest{CampaignID: campaignID, AgencyID: &empty, Quantity: 1}).Parse()
		require.NoError(t, err)
		assert.Nil(t, cmd.AgencyID)
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		_, err := (&AllocateRequest{CampaignID: campaignID}).Parse()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects malformed agency", func(t *testing.T) {
		bad := "agency-7"
		_, err := (&AllocateRequest{CampaignID: campaignID, AgencyID: &bad, Quantity: 1}).Parse()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestCreateCampaignRequest_Parse(t *testing.T) {
	t.Run("parses calendar date", func(t *testing.T) {
		cmd, err := (&CreateCampaignRequest{ItemName: "Soup", Quantity: 2, RedemptionEndDate: "2026-12-31"}).Parse()
		require.NoError(t, err)
		assert.Equal(t, 2026, cmd.RedemptionEndDate.Year())
	})

	t.Run("rejects other date formats", func(t *testing.T) {
		_, err := (&CreateCampaignRequest{ItemName: "Soup", Quantity: 2, RedemptionEndDate: "12/31/2026"}).Parse()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestRedeemRequest_Validate(t *testing.T) {
	req := &RedeemRequest{Token: "  \t"}
	req.Normalize()
	require.Error(t, req.Validate())

	req = &RedeemRequest{Token: " abc "}
	req.Normalize()
	require.NoError(t, req.Validate())
	assert.Equal(t, "abc", req.Token)
}
