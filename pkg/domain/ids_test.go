package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "caredrop/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseClaimID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseClaimID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseCampaignID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		raw := uuid.New()
		id, err := ParseAgencyID("  " + raw.String() + "\n")
		require.NoError(t, err)
		assert.Equal(t, AgencyID(raw), id)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseRecipientID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, RecipientID(validUUID), id)
		assert.Equal(t, validUUID.String(), id.String())
		assert.False(t, id.IsNil())
	})
}

// TestTypeDistinction verifies distinct identifier types stay distinct at runtime.
func TestTypeDistinction(t *testing.T) {
	claimID := ClaimID(uuid.New())
	campaignID := CampaignID(uuid.New())

	// var _ ClaimID = campaignID // compile error

	assert.NotEqual(t, uuid.UUID(claimID), uuid.UUID(campaignID))
}

func TestIDs_JSONText(t *testing.T) {
	raw := uuid.New()
	payload, err := json.Marshal(struct {
		Campaign CampaignID `json:"campaign"`
		Agency   *AgencyID  `json:"agency"`
	}{Campaign: CampaignID(raw)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"campaign":"`+raw.String()+`","agency":null}`, string(payload))

	var decoded struct {
		Claim ClaimID `json:"claim"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"claim":"`+raw.String()+`"}`), &decoded))
	assert.Equal(t, raw.String(), decoded.Claim.String())
}
