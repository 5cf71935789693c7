package gorm

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/memengine/pkg/models"
)

// openIntegrationStore opens a Store against DATABASE_DSN, skipping the test when it is
// unset — the same convention the teacher's migrations integration test uses.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("DATABASE_DSN not set, skipping integration test")
	}
	store, err := NewStore(Config{DSN: dsn, LogLevel: logger.Warn, EmbeddingDims: 384})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionStore_EnsureSessionIsIdempotent(t *testing.T) {
	store := openIntegrationStore(t)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	contentID := "test-session-" + models.NormalizeForUniqueness(t.Name())

	require.NoError(t, sessions.EnsureSession(ctx, contentID, "proj", "do a thing"))
	require.NoError(t, sessions.EnsureSession(ctx, contentID, "proj", "do a thing"))

	got, err := sessions.GetSessionByContentID(ctx, contentID)
	require.NoError(t, err)
	require.Equal(t, contentID, got.ContentSessionID)
}

func TestSessionStore_IncrementPromptCounter(t *testing.T) {
	store := openIntegrationStore(t)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	contentID := "counter-session-" + models.NormalizeForUniqueness(t.Name())
	require.NoError(t, sessions.EnsureSession(ctx, contentID, "proj", ""))

	n1, err := sessions.IncrementPromptCounter(ctx, contentID)
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	n2, err := sessions.IncrementPromptCounter(ctx, contentID)
	require.NoError(t, err)
	require.Equal(t, 2, n2)
}

func TestSessionStore_CompleteSession(t *testing.T) {
	store := openIntegrationStore(t)
	sessions := NewSessionStore(store)
	ctx := context.Background()

	contentID := "complete-session-" + models.NormalizeForUniqueness(t.Name())
	require.NoError(t, sessions.EnsureSession(ctx, contentID, "proj", ""))
	require.NoError(t, sessions.CompleteSession(ctx, contentID))

	got, err := sessions.GetSessionByContentID(ctx, contentID)
	require.NoError(t, err)
	require.Equal(t, models.SessionCompleted, got.Status)
	require.True(t, got.EndedAtEpoch.Valid)
}
