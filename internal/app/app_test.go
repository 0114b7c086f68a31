package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caredrop/internal/platform/config"
	"caredrop/pkg/testutil"
)

func inMemoryConfig() config.Server {
	return config.Server{
		JWTSigningKey: "app-test-key",
		JWTIssuer:     "caredrop",
		SeedDemo:      true,
		Donation: config.DonationConfig{
			AllocationLockTTL:   30 * time.Second,
			RedeemMaxFailures:   3,
			RedeemFailureWindow: time.Minute,
			CampaignCacheSize:   16,
			AuditBuffer:         8,
		},
	}
}

func TestBuildInMemory(t *testing.T) {
	a, err := Build(context.Background(), inMemoryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	t.Run("health check is public", func(t *testing.T) {
		rr := testutil.DoRequest(a.Router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("metrics are exported", func(t *testing.T) {
		rr := testutil.DoRequest(a.Router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		testutil.AssertStatusOK(t, rr)
		assert.Contains(t, rr.Body.String(), "go_goroutines")
	})

	t.Run("donation routes require a token", func(t *testing.T) {
		rr := testutil.DoRequest(a.Router, testutil.NewRequest(t, http.MethodGet, "/campaigns"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("demo agencies are seeded", func(t *testing.T) {
		agencies, err := a.Store.ListAgencies(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, agencies)
	})
}

func TestBuildRejectsUnreachableBackends(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.Redis.URL = "not a url"

	_, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
