package postgres_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
	"github.com/1broseidon/memory-graph-mcp/internal/storage/postgres"
)

// postgresTestDSN returns the DSN for the test database. If
// POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a Store connected to the test database with empty
// tables.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	store, err := postgres.NewStore(postgresTestDSN(t))
	require.NoError(t, err, "NewStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustSave(t *testing.T, store *postgres.Store, key, content string, tags ...string) *storage.MemoryRecord {
	t.Helper()
	rec, err := store.Save(context.Background(), key, content, tags, nil)
	require.NoError(t, err, "Save(%q)", key)
	return rec
}

// TestUpsertPreservesIDAndRelationships checks the two correctness-critical
// invariants together: re-saving a key keeps the internal ID, so links made
// before the re-save still resolve.
func TestUpsertPreservesIDAndRelationships(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustSave(t, store, "a", "memory a")
	mustSave(t, store, "b", "memory b")
	_, err := store.Link(ctx, "a", "b", "relates_to", 1.0)
	require.NoError(t, err)

	updated := mustSave(t, store, "a", "memory a, revised", "fresh")
	assert.Equal(t, a.ID, updated.ID)

	related, err := store.Related(ctx, "a", "", 1)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "b", related[0].Memory.Key)

	got, err := store.GetByKey(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "memory a, revised", got.Content)
	assert.Equal(t, []string{"fresh"}, got.Tags)
}

func TestDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "a", "memory a", "tag")
	mustSave(t, store, "b", "memory b")
	_, err := store.Link(ctx, "a", "b", "relates_to", 1.0)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "a"))

	_, err = store.GetByKey(ctx, "a")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	related, err := store.Related(ctx, "b", "", 1)
	require.NoError(t, err)
	assert.Empty(t, related)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoryCount)
	assert.Equal(t, 0, stats.RelationshipCount)
	assert.Equal(t, 0, stats.TagCount)
}

func TestLinkNamesMissingKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "a", "memory a")

	_, err := store.Link(ctx, "a", "ghost", "relates_to", 1.0)
	require.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, strings.Contains(err.Error(), `"ghost"`), "error: %v", err)
}

func TestSearchMatchesCaseInsensitively(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "m1", "Deploy checklist", "ops")
	mustSave(t, store, "m2", "grocery list", "home")

	got, err := store.Search(ctx, storage.SearchOptions{Query: "deploy"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Key)

	got, err = store.Search(ctx, storage.SearchOptions{Tags: []string{"ops", "home"}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTraversalDepthAndDirection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		mustSave(t, store, key, "memory "+key)
	}
	_, err := store.Link(ctx, "a", "b", "next", 1.0)
	require.NoError(t, err)
	_, err = store.Link(ctx, "b", "c", "next", 1.0)
	require.NoError(t, err)

	related, err := store.Related(ctx, "c", "", 1)
	require.NoError(t, err)
	require.Len(t, related, 1, "edges are discoverable against their stored direction")
	assert.Equal(t, "b", related[0].Memory.Key)

	related, err = store.Related(ctx, "c", "", 2)
	require.NoError(t, err)
	assert.Len(t, related, 2)
}
