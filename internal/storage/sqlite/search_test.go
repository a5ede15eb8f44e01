package sqlite

import (
	"context"
	"testing"

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
)

func keysOf(memories []storage.MemoryRecord) []string {
	keys := make([]string, len(memories))
	for i, m := range memories {
		keys[i] = m.Key
	}
	return keys
}

func assertKeys(t *testing.T, memories []storage.MemoryRecord, want ...string) {
	t.Helper()
	got := keysOf(memories)
	if len(got) != len(want) {
		t.Fatalf("keys: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys: got %v, want %v", got, want)
		}
	}
}

// TestSearchTagOrSemantics verifies OR across supplied tags: a memory matches
// when it carries any one of them.
func TestSearchTagOrSemantics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "m1", "first", "x")
	mustSave(t, store, "m2", "second", "y")
	mustSave(t, store, "m3", "third", "z")

	got, err := store.Search(ctx, storage.SearchOptions{Tags: []string{"x", "y"}})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want m1 and m2", keysOf(got))
	}
	for _, m := range got {
		if m.Key == "m3" {
			t.Errorf("m3 matched without a requested tag")
		}
	}
}

// TestSearchQueryMatchesContentAndKey verifies substring match over both
// fields, case-insensitively.
func TestSearchQueryMatchesContentAndKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "deploy-notes", "steps for the rollout")
	mustSave(t, store, "other", "contains DEPLOY in content")
	mustSave(t, store, "unrelated", "nothing here")

	got, err := store.Search(ctx, storage.SearchOptions{Query: "deploy"})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want deploy-notes and other", keysOf(got))
	}
}

// TestSearchFiltersCompose verifies that query and tags combine with AND.
func TestSearchFiltersCompose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "m1", "shared phrase", "wanted")
	mustSave(t, store, "m2", "shared phrase", "unwanted")
	mustSave(t, store, "m3", "different", "wanted")

	got, err := store.Search(ctx, storage.SearchOptions{
		Query: "shared",
		Tags:  []string{"wanted"},
	})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	assertKeys(t, got, "m1")
}

// TestSearchDeduplicatesTagJoin verifies that a memory matching several
// requested tags is returned once.
func TestSearchDeduplicatesTagJoin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "m1", "content", "x", "y")

	got, err := store.Search(ctx, storage.SearchOptions{Tags: []string{"x", "y"}})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	assertKeys(t, got, "m1")
	if len(got[0].Tags) != 2 {
		t.Errorf("Tags: got %v, want both x and y", got[0].Tags)
	}
}

// TestSearchOrderingAndLimit verifies most-recently-updated-first ordering
// and limit truncation. Re-saving bumps a memory to the front.
func TestSearchOrderingAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "first", "match")
	mustSave(t, store, "second", "match")
	mustSave(t, store, "third", "match")
	mustSave(t, store, "first", "match, revised")

	got, err := store.Search(ctx, storage.SearchOptions{Query: "match"})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	assertKeys(t, got, "first", "third", "second")

	got, err = store.Search(ctx, storage.SearchOptions{Query: "match", Limit: 2})
	if err != nil {
		t.Fatalf("Search() with limit failed: %v", err)
	}
	assertKeys(t, got, "first", "third")
}

// TestSearchLikeWildcardsAreLiteral verifies that % and _ in the query match
// literally instead of acting as LIKE wildcards.
func TestSearchLikeWildcardsAreLiteral(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "m1", "rollout at 100% done")
	mustSave(t, store, "m2", "rollout at 100 percent")
	mustSave(t, store, "m3", "acb sequence, wildcard bait")

	got, err := store.Search(ctx, storage.SearchOptions{Query: "100%"})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	assertKeys(t, got, "m1")

	got, err = store.Search(ctx, storage.SearchOptions{Query: "acb"})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	assertKeys(t, got, "m3")

	got, err = store.Search(ctx, storage.SearchOptions{Query: "a_b"})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("underscore acted as wildcard: got %v", keysOf(got))
	}
}

// TestSearchNoFilters returns everything up to the default limit.
func TestSearchNoFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "a", "one")
	mustSave(t, store, "b", "two")

	got, err := store.Search(ctx, storage.SearchOptions{})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %v, want both memories", keysOf(got))
	}
}

func TestListPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustSave(t, store, "a", "one")
	mustSave(t, store, "b", "two")
	mustSave(t, store, "c", "three")

	page1, err := store.List(ctx, storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	assertKeys(t, page1, "c", "b")

	page2, err := store.List(ctx, storage.ListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	assertKeys(t, page2, "a")
}
