package search

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/memengine/internal/db/gorm"
	"github.com/thebtf/memengine/pkg/models"
)

// openIntegrationManager opens a live Postgres-backed Manager, skipping when DATABASE_DSN is
// unset, per the store packages' own integration-test convention.
func openIntegrationManager(t *testing.T) (*Manager, *gorm.ObservationStore) {
	t.Helper()
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("DATABASE_DSN not set, skipping integration test")
	}

	store, err := gorm.NewStore(gorm.Config{DSN: dsn, EmbeddingDims: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	obsStore := gorm.NewObservationStore(store)
	mgr := NewManager(obsStore, nil, nil, zerolog.Nop())
	t.Cleanup(mgr.Close)
	return mgr, obsStore
}

func TestManager_SearchWithFilters_EmptyQueryFallsBackToRecent(t *testing.T) {
	mgr, obsStore := openIntegrationManager(t)
	ctx := context.Background()

	obs := models.NewObservation("sess-search-1", "proj-search", models.ObsTypeDiscovery, "a searchable finding")
	created, err := obsStore.SaveObservation(obs)
	require.NoError(t, err)
	require.True(t, created)

	results, err := mgr.SearchWithFilters(ctx, Params{Project: "proj-search", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, obs.ID, results[0].ID)
}

func TestManager_TextOnlyHybrid_ScoresAndFilters(t *testing.T) {
	mgr, obsStore := openIntegrationManager(t)
	ctx := context.Background()

	obs := models.NewObservation("sess-search-2", "proj-search-2", models.ObsTypeGotcha, "race condition in the worker pool shutdown path")
	obs.Keywords = models.JSONStringArray{"race", "shutdown", "worker"}
	created, err := obsStore.SaveObservation(obs)
	require.NoError(t, err)
	require.True(t, created)

	results, err := mgr.SearchWithFilters(ctx, Params{Query: "race condition worker", Project: "proj-search-2", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, obs.ID, results[0].ID)
	require.Greater(t, results[0].Score, 0.0)
}
