// ABOUTME: Tests for the SQLite ledger.
// ABOUTME: Covers append, newest-first listing, filters, and reopening.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "ledger.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestToolInvocations_AppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i, tool := range []string{"search", "get-index", "search"} {
		inv := &ToolInvocation{
			SessionID: "sess-1",
			Tool:      tool,
			OK:        i != 1,
			Duration:  time.Duration(i+1) * 10 * time.Millisecond,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if !inv.OK {
			inv.Error = "Meilisearch API error (status 404)"
		}
		require.NoError(t, store.AppendToolInvocation(ctx, inv))
		assert.NotEmpty(t, inv.ID)
	}

	all, err := store.ListToolInvocations(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Newest first
	assert.Equal(t, "search", all[0].Tool)
	assert.Equal(t, 30*time.Millisecond, all[0].Duration)
	assert.False(t, all[1].OK)
	assert.Equal(t, "Meilisearch API error (status 404)", all[1].Error)
	assert.Empty(t, all[2].Error)

	tool := "search"
	filtered, err := store.ListToolInvocations(ctx, ListFilter{Tool: &tool, Limit: 1})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.True(t, filtered[0].Timestamp.Equal(base.Add(2*time.Second)))
}

func TestToolInvocations_Since(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendToolInvocation(ctx, &ToolInvocation{
			SessionID: "s",
			Tool:      "health",
			OK:        true,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Minute),
		}))
	}

	since := base.Add(15 * time.Minute)
	got, err := store.ListToolInvocations(ctx, ListFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRouteDecisions_AppendAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendRouteDecision(ctx, &RouteDecision{
		Query:      "search movies about space",
		Candidates: 40,
		Tool:       "search",
		Reasoning:  "search fits",
		Provider:   "openai",
		Duration:   1200 * time.Millisecond,
	}))
	require.NoError(t, store.AppendRouteDecision(ctx, &RouteDecision{
		Query:      "order pizza",
		Candidates: 40,
		Tool:       "none",
		ReasonCode: "NO_SUITABLE_TOOL",
		Provider:   "openai",
	}))

	got, err := store.ListRouteDecisions(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "none", got[0].Tool)
	assert.Equal(t, "NO_SUITABLE_TOOL", got[0].ReasonCode)
	assert.Equal(t, "search", got[1].Tool)
	assert.Equal(t, 1200*time.Millisecond, got[1].Duration)
	assert.Equal(t, "openai", got[1].Provider)
}

func TestNewSQLiteStore_ReopenKeepsRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.AppendToolInvocation(ctx, &ToolInvocation{SessionID: "a", Tool: "version", OK: true}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.ListToolInvocations(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.NoError(t, s2.Ping(ctx))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 1000, normalizeLimit(5000))
	assert.Equal(t, 7, normalizeLimit(7))
}
