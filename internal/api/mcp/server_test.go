package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
	"github.com/1broseidon/memory-graph-mcp/internal/storage/sqlite"
)

// newTestServer builds a Server over an in-memory SQLite store. The store
// implements all three storage interfaces, so NewServer wires search and
// traversal automatically.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewServer(store)
}

func mustSaveMemory(t *testing.T, srv *Server, key, content string, tags ...string) {
	t.Helper()
	_, err := srv.SaveMemory(context.Background(), SaveMemoryArgs{
		Key:     key,
		Content: content,
		Tags:    tags,
	})
	require.NoError(t, err)
}

func TestSaveAndRecall(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	saved, err := srv.SaveMemory(ctx, SaveMemoryArgs{
		Key:      "alpha",
		Content:  "the alpha memory",
		Tags:     []string{"t1"},
		Metadata: map[string]interface{}{"source": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", saved.Key)
	assert.NotEmpty(t, saved.ID)

	recalled, err := srv.RecallMemory(ctx, RecallMemoryArgs{Key: "alpha"})
	require.NoError(t, err)
	require.True(t, recalled.Found)
	assert.Equal(t, "the alpha memory", recalled.Memory.Content)
	assert.Equal(t, []string{"t1"}, recalled.Memory.Tags)
	assert.Equal(t, "test", recalled.Memory.Metadata["source"])
}

// TestRecallMissingKeyIsNotError verifies the not-found contract: a success
// payload indicating absence, never an error.
func TestRecallMissingKeyIsNotError(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.RecallMemory(context.Background(), RecallMemoryArgs{Key: "missing"})
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Nil(t, result.Memory)
	assert.Contains(t, result.Message, "missing")
}

func TestSaveValidation(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	_, err := srv.SaveMemory(ctx, SaveMemoryArgs{Content: "no key"})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Contains(t, err.Error(), "key")

	_, err = srv.SaveMemory(ctx, SaveMemoryArgs{Key: "no-content"})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Contains(t, err.Error(), "content")
}

func TestResaveMessageMentionsUpdate(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	first, err := srv.SaveMemory(ctx, SaveMemoryArgs{Key: "k", Content: "v1"})
	require.NoError(t, err)

	second, err := srv.SaveMemory(ctx, SaveMemoryArgs{Key: "k", Content: "v2"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-save must preserve the internal ID")
	assert.Contains(t, second.Message, "updated")
}

func TestRecallIncludeRelated(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	mustSaveMemory(t, srv, "a", "memory a")
	mustSaveMemory(t, srv, "b", "memory b")
	_, err := srv.LinkMemories(ctx, LinkMemoriesArgs{
		FromKey: "a", ToKey: "b", RelationshipType: "relates_to",
	})
	require.NoError(t, err)

	result, err := srv.RecallMemory(ctx, RecallMemoryArgs{Key: "a", IncludeRelated: true})
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Len(t, result.Related, 1)
	assert.Equal(t, "b", result.Related[0].Memory.Key)
	assert.Equal(t, 1, result.Related[0].Depth)
}

func TestLinkDefaultsAndResult(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	mustSaveMemory(t, srv, "a", "memory a")
	mustSaveMemory(t, srv, "b", "memory b")

	result, err := srv.LinkMemories(ctx, LinkMemoriesArgs{
		FromKey: "a", ToKey: "b", RelationshipType: "depends_on",
	})
	require.NoError(t, err)
	assert.True(t, result.Linked)
	require.NotNil(t, result.Relationship)
	assert.Equal(t, 1.0, result.Relationship.Strength, "strength defaults to 1.0")
	assert.Equal(t, "depends_on", result.Relationship.Type)
}

// TestLinkMissingEndpointIsNotError verifies that unresolved keys produce a
// Linked=false payload naming the missing key.
func TestLinkMissingEndpointIsNotError(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	mustSaveMemory(t, srv, "a", "memory a")

	result, err := srv.LinkMemories(ctx, LinkMemoriesArgs{
		FromKey: "a", ToKey: "ghost", RelationshipType: "relates_to",
	})
	require.NoError(t, err)
	assert.False(t, result.Linked)
	assert.Contains(t, result.Message, "ghost")
}

func TestSearchMemories(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	mustSaveMemory(t, srv, "m1", "about databases", "infra")
	mustSaveMemory(t, srv, "m2", "about queues", "infra")
	mustSaveMemory(t, srv, "m3", "about cooking", "food")

	result, err := srv.SearchMemories(ctx, SearchMemoriesArgs{Tags: []string{"infra"}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)

	result, err = srv.SearchMemories(ctx, SearchMemoriesArgs{Query: "cooking"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "m3", result.Memories[0].Key)

	result, err = srv.SearchMemories(ctx, SearchMemoriesArgs{Query: "no such thing"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.NotNil(t, result.Memories, "empty result must serialize as [], not null")
}

func TestGetRelatedMemoriesDefaultDepth(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	mustSaveMemory(t, srv, "a", "memory a")
	mustSaveMemory(t, srv, "b", "memory b")
	mustSaveMemory(t, srv, "c", "memory c")
	for _, pair := range [][2]string{{"a", "b"}, {"b", "c"}} {
		_, err := srv.LinkMemories(ctx, LinkMemoriesArgs{
			FromKey: pair[0], ToKey: pair[1], RelationshipType: "next",
		})
		require.NoError(t, err)
	}

	result, err := srv.GetRelatedMemories(ctx, GetRelatedMemoriesArgs{Key: "a"})
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, 1, result.Total, "default max_depth is 1")
	assert.Equal(t, "b", result.Related[0].Memory.Key)

	result, err = srv.GetRelatedMemories(ctx, GetRelatedMemoriesArgs{Key: "a", MaxDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
}

func TestGetRelatedMemoriesMissingStart(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.GetRelatedMemories(context.Background(), GetRelatedMemoriesArgs{Key: "missing"})
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Empty(t, result.Related)
	assert.Contains(t, result.Message, "missing")
}

func TestDeleteMemory(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	mustSaveMemory(t, srv, "doomed", "to be deleted")

	result, err := srv.DeleteMemory(ctx, DeleteMemoryArgs{Key: "doomed"})
	require.NoError(t, err)
	assert.True(t, result.Deleted)

	recalled, err := srv.RecallMemory(ctx, RecallMemoryArgs{Key: "doomed"})
	require.NoError(t, err)
	assert.False(t, recalled.Found)

	// Deleting again reports absence, not an error.
	result, err = srv.DeleteMemory(ctx, DeleteMemoryArgs{Key: "doomed"})
	require.NoError(t, err)
	assert.False(t, result.Deleted)
}

func TestListAllMemories(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	mustSaveMemory(t, srv, "a", "one")
	mustSaveMemory(t, srv, "b", "two")
	mustSaveMemory(t, srv, "c", "three")

	result, err := srv.ListAllMemories(ctx, ListAllMemoriesArgs{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, "c", result.Memories[0].Key, "most recently updated first")

	result, err = srv.ListAllMemories(ctx, ListAllMemoriesArgs{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "b", result.Memories[0].Key)
}

func TestGetMemoryStats(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	mustSaveMemory(t, srv, "a", "memory a", "x", "y")
	mustSaveMemory(t, srv, "b", "memory b", "x")
	_, err := srv.LinkMemories(ctx, LinkMemoriesArgs{
		FromKey: "a", ToKey: "b", RelationshipType: "relates_to",
	})
	require.NoError(t, err)

	stats, err := srv.GetMemoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemoryCount)
	assert.Equal(t, 1, stats.RelationshipCount)
	assert.Equal(t, 2, stats.DistinctTagCount)
	assert.Equal(t, 3, stats.TagCount)
}

// ---------------------------------------------------------------------------
// JSON-RPC / MCP protocol dispatch
// ---------------------------------------------------------------------------

func handle(t *testing.T, srv *Server, request string) JSONRPCResponse {
	t.Helper()
	raw, err := srv.HandleRequest(context.Background(), []byte(request))
	require.NoError(t, err)
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestHandleRequestInitialize(t *testing.T) {
	srv := newTestServer(t)

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0.1"}}}`)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	serverInfo, ok := result["serverInfo"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "memory-graph-mcp", serverInfo["name"])
}

func TestHandleRequestToolsList(t *testing.T) {
	srv := newTestServer(t)

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	tools, ok := result["tools"].([]interface{})
	require.True(t, ok)
	require.Len(t, tools, 8)

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.(map[string]interface{})["name"].(string)] = true
	}
	for _, want := range []string{
		"save_memory", "recall_memory", "search_memories", "link_memories",
		"get_related_memories", "list_all_memories", "delete_memory", "get_memory_stats",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestHandleRequestToolsCall(t *testing.T) {
	srv := newTestServer(t)

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"save_memory","arguments":{"key":"k","content":"hello"}}}`)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Nil(t, result["isError"])
	content, ok := result["content"].([]interface{})
	require.True(t, ok)
	require.Len(t, content, 1)

	var saved SaveMemoryResult
	text := content[0].(map[string]interface{})["text"].(string)
	require.NoError(t, json.Unmarshal([]byte(text), &saved))
	assert.Equal(t, "k", saved.Key)
}

func TestHandleRequestToolsCallUnknownTool(t *testing.T) {
	srv := newTestServer(t)

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["isError"])
}

func TestHandleRequestToolsCallValidationError(t *testing.T) {
	srv := newTestServer(t)

	// Missing required key: surfaced as an isError tool result, not a
	// protocol-level error.
	resp := handle(t, srv, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"save_memory","arguments":{"content":"no key"}}}`)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["isError"])
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	srv := newTestServer(t)

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":6,"method":"frobnicate"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "frobnicate")
}

func TestHandleRequestParseError(t *testing.T) {
	srv := newTestServer(t)

	resp := handle(t, srv, `{not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestHandleRequestInvalidVersion(t *testing.T) {
	srv := newTestServer(t)

	resp := handle(t, srv, `{"jsonrpc":"1.0","id":7,"method":"tools/list"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestHandleRequestNativeMethodValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":8,"method":"save_memory","params":{"content":"no key"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

// TestFlexibleTagParsing covers clients that send tags as a JSON-encoded
// string or a comma-separated string.
func TestFlexibleTagParsing(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"array", `{"key":"k","content":"c","tags":["a","b"]}`, []string{"a", "b"}},
		{"encoded array", `{"key":"k","content":"c","tags":"[\"a\",\"b\"]"}`, []string{"a", "b"}},
		{"comma separated", `{"key":"k","content":"c","tags":"a, b"}`, []string{"a", "b"}},
		{"absent", `{"key":"k","content":"c"}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var args SaveMemoryArgs
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &args))
			assert.Equal(t, tc.want, args.Tags)
			assert.Equal(t, "k", args.Key)
			assert.Equal(t, "c", args.Content)
		})
	}
}
