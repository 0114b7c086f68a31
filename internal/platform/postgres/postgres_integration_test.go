//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "caredrop/pkg/domain"
	audit "caredrop/pkg/platform/audit"
	auditpostgres "caredrop/pkg/platform/audit/store/postgres"
	"caredrop/pkg/testutil/containers"
)

func TestOpenAndMigrate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	pg := containers.GetManager().GetPostgres(t)

	db, err := Open(ctx, pg.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db), "migrations are idempotent")

	t.Run("audit events round trip", func(t *testing.T) {
		require.NoError(t, pg.TruncateTables(ctx, "audit_events"))
		auditStore := auditpostgres.New(db)
		claimID := id.ClaimID(uuid.New())
		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		claimed := audit.Event{ID: uuid.New(), Action: string(audit.EventClaimClaimed), ClaimID: claimID, Timestamp: at}
		redeemed := audit.Event{ID: uuid.New(), Action: string(audit.EventClaimRedeemed), ClaimID: claimID, Timestamp: at.Add(time.Hour)}
		require.NoError(t, auditStore.Append(ctx, redeemed))
		require.NoError(t, auditStore.Append(ctx, claimed))
		require.NoError(t, auditStore.Append(ctx, claimed), "re-appending is a no-op")

		events, err := auditStore.ListByClaim(ctx, claimID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, claimed.ID, events[0].ID)
		assert.Equal(t, redeemed.ID, events[1].ID)
	})
}

func TestOpenWithoutURL(t *testing.T) {
	db, err := Open(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, db)
}
