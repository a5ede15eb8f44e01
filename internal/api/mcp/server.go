package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/1broseidon/memory-graph-mcp/internal/config"
	"github.com/1broseidon/memory-graph-mcp/internal/storage"
)

// serverVersion is reported in the initialize handshake.
const serverVersion = "1.0.0"

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2024-11-05"

// Server implements the Model Context Protocol (MCP) for the memory graph.
// It provides JSON-RPC 2.0 based tools for AI assistants to save, recall,
// search, link, and traverse memories.
type Server struct {
	memoryStore    storage.MemoryStore
	searchProvider storage.SearchProvider
	graphTraverser storage.GraphTraverser
	config         *config.Config
	serverName     string
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithConfig injects a *config.Config into the Server. The server name
// reported during the initialize handshake is taken from it.
func WithConfig(cfg *config.Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
		if cfg != nil && cfg.Server.Name != "" {
			s.serverName = cfg.Server.Name
		}
	}
}

// WithSearchProvider injects a storage.SearchProvider into the Server.
// When omitted, NewServer checks whether the MemoryStore itself implements
// SearchProvider.
func WithSearchProvider(sp storage.SearchProvider) ServerOption {
	return func(s *Server) {
		s.searchProvider = sp
	}
}

// WithGraphTraverser injects a storage.GraphTraverser into the Server.
// When omitted, NewServer checks whether the MemoryStore itself implements
// GraphTraverser.
func WithGraphTraverser(gt storage.GraphTraverser) ServerOption {
	return func(s *Server) {
		s.graphTraverser = gt
	}
}

// NewServer creates a new MCP server instance.
//
// The sqlite and postgres stores implement all three storage interfaces, so
// the common construction is simply:
//
//	srv := mcp.NewServer(store)
func NewServer(store storage.MemoryStore, opts ...ServerOption) *Server {
	s := &Server{
		memoryStore: store,
		serverName:  "memory-graph-mcp",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.searchProvider == nil {
		if sp, ok := store.(storage.SearchProvider); ok {
			s.searchProvider = sp
		}
	}
	if s.graphTraverser == nil {
		if gt, ok := store.(storage.GraphTraverser); ok {
			s.graphTraverser = gt
		}
	}
	return s
}

// Config returns the configuration that was injected via WithConfig, or nil
// if no config option was provided.
func (s *Server) Config() *config.Config {
	return s.config
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "notifications/initialized":
		// Notification, no response body required; return empty object.
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods (kept for direct callers that skip the MCP
	// tools/call envelope)
	case "save_memory":
		result, err = s.handleSaveMemory(ctx, req.Params)
	case "recall_memory":
		result, err = s.handleRecallMemory(ctx, req.Params)
	case "search_memories":
		result, err = s.handleSearchMemories(ctx, req.Params)
	case "link_memories":
		result, err = s.handleLinkMemories(ctx, req.Params)
	case "get_related_memories":
		result, err = s.handleGetRelatedMemories(ctx, req.Params)
	case "list_all_memories":
		result, err = s.handleListAllMemories(ctx, req.Params)
	case "delete_memory":
		result, err = s.handleDeleteMemory(ctx, req.Params)
	case "get_memory_stats":
		result, err = s.handleGetMemoryStats(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			return s.errorResponse(req.ID, ErrCodeInvalidParams, err.Error(), nil)
		}
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}

	return s.successResponse(req.ID, result)
}

// SaveMemory creates or updates the memory with the given key. Re-saving an
// existing key replaces its content, metadata, and tag set while preserving
// the internal ID, so existing relationships survive the update.
func (s *Server) SaveMemory(ctx context.Context, args SaveMemoryArgs) (*SaveMemoryResult, error) {
	if args.Key == "" {
		return nil, fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}
	if args.Content == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	existed := true
	if _, err := s.memoryStore.GetByKey(ctx, args.Key); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to check existing memory: %w", err)
		}
		existed = false
	}

	rec, err := s.memoryStore.Save(ctx, args.Key, args.Content, args.Tags, args.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to save memory: %w", err)
	}

	msg := fmt.Sprintf("Memory %q saved.", rec.Key)
	if existed {
		msg = fmt.Sprintf("Memory %q updated; existing relationships preserved.", rec.Key)
	}
	return &SaveMemoryResult{
		ID:      rec.ID,
		Key:     rec.Key,
		Message: msg,
	}, nil
}

// RecallMemory retrieves a memory by key. A missing key is a normal result
// (Found=false), not an error. When IncludeRelated is set and a graph
// traverser is available, memories one hop away are attached.
func (s *Server) RecallMemory(ctx context.Context, args RecallMemoryArgs) (*RecallMemoryResult, error) {
	if args.Key == "" {
		return nil, fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}

	rec, err := s.memoryStore.GetByKey(ctx, args.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &RecallMemoryResult{
				Found:   false,
				Message: fmt.Sprintf("No memory found with key %q.", args.Key),
			}, nil
		}
		return nil, fmt.Errorf("failed to recall memory: %w", err)
	}

	result := &RecallMemoryResult{Memory: rec, Found: true}

	if args.IncludeRelated && s.graphTraverser != nil {
		related, err := s.graphTraverser.Related(ctx, args.Key, "", 1)
		if err != nil {
			return nil, fmt.Errorf("failed to load related memories: %w", err)
		}
		result.Related = related
	}

	return result, nil
}

// SearchMemories finds memories by case-insensitive substring match over
// content and key, and/or by tag membership (OR across supplied tags). Both
// filters compose with AND. Results are ordered most recently updated first.
func (s *Server) SearchMemories(ctx context.Context, args SearchMemoriesArgs) (*SearchMemoriesResult, error) {
	if s.searchProvider == nil {
		return nil, fmt.Errorf("search is not supported by the configured store")
	}

	memories, err := s.searchProvider.Search(ctx, storage.SearchOptions{
		Query: args.Query,
		Tags:  args.Tags,
		Limit: args.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	if memories == nil {
		memories = []storage.MemoryRecord{}
	}
	return &SearchMemoriesResult{Memories: memories, Total: len(memories)}, nil
}

// LinkMemories creates a directed, typed, weighted relationship between two
// memories. Unresolved endpoint keys are a normal result (Linked=false) with
// a message naming which key(s) were missing.
func (s *Server) LinkMemories(ctx context.Context, args LinkMemoriesArgs) (*LinkMemoriesResult, error) {
	if args.FromKey == "" {
		return nil, fmt.Errorf("%w: from_key is required", storage.ErrInvalidInput)
	}
	if args.ToKey == "" {
		return nil, fmt.Errorf("%w: to_key is required", storage.ErrInvalidInput)
	}
	if args.RelationshipType == "" {
		return nil, fmt.Errorf("%w: relationship_type is required", storage.ErrInvalidInput)
	}
	strength := args.Strength
	if strength == 0 {
		strength = 1.0
	}

	rel, err := s.memoryStore.Link(ctx, args.FromKey, args.ToKey, args.RelationshipType, strength)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &LinkMemoriesResult{Linked: false, Message: err.Error()}, nil
		}
		return nil, fmt.Errorf("failed to link memories: %w", err)
	}

	return &LinkMemoriesResult{
		Linked:       true,
		Relationship: rel,
		Message: fmt.Sprintf("Linked %q -> %q (%s, strength %.2f).",
			rel.FromKey, rel.ToKey, rel.Type, rel.Strength),
	}, nil
}

// GetRelatedMemories walks the relationship graph outward from the given key
// with a breadth-first, depth-bounded traversal. Edges are followed in both
// directions regardless of how they were stored. A missing start key is a
// normal result (Found=false); a memory with no relationships yields an
// empty list.
func (s *Server) GetRelatedMemories(ctx context.Context, args GetRelatedMemoriesArgs) (*GetRelatedMemoriesResult, error) {
	if args.Key == "" {
		return nil, fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}
	if s.graphTraverser == nil {
		return nil, fmt.Errorf("graph traversal is not supported by the configured store")
	}
	maxDepth := args.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	related, err := s.graphTraverser.Related(ctx, args.Key, args.RelationshipType, maxDepth)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &GetRelatedMemoriesResult{
				Found:   false,
				Related: []storage.RelatedMemory{},
				Message: fmt.Sprintf("No memory found with key %q.", args.Key),
			}, nil
		}
		return nil, fmt.Errorf("failed to traverse memory graph: %w", err)
	}
	if related == nil {
		related = []storage.RelatedMemory{}
	}
	return &GetRelatedMemoriesResult{
		Found:   true,
		Related: related,
		Total:   len(related),
	}, nil
}

// ListAllMemories returns memories without filtering, most recently updated
// first, with offset pagination.
func (s *Server) ListAllMemories(ctx context.Context, args ListAllMemoriesArgs) (*ListAllMemoriesResult, error) {
	if s.searchProvider == nil {
		return nil, fmt.Errorf("listing is not supported by the configured store")
	}

	memories, err := s.searchProvider.List(ctx, storage.ListOptions{
		Limit:  args.Limit,
		Offset: args.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	if memories == nil {
		memories = []storage.MemoryRecord{}
	}
	return &ListAllMemoriesResult{Memories: memories, Total: len(memories)}, nil
}

// DeleteMemory removes a memory and cascades to its tags and relationships
// in a single transaction. A missing key is a normal result (Deleted=false).
func (s *Server) DeleteMemory(ctx context.Context, args DeleteMemoryArgs) (*DeleteMemoryResult, error) {
	if args.Key == "" {
		return nil, fmt.Errorf("%w: key is required", storage.ErrInvalidInput)
	}

	if err := s.memoryStore.Delete(ctx, args.Key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &DeleteMemoryResult{
				Key:     args.Key,
				Deleted: false,
				Message: fmt.Sprintf("No memory found with key %q.", args.Key),
			}, nil
		}
		return nil, fmt.Errorf("failed to delete memory: %w", err)
	}

	return &DeleteMemoryResult{
		Key:     args.Key,
		Deleted: true,
		Message: fmt.Sprintf("Memory %q deleted along with its tags and relationships.", args.Key),
	}, nil
}

// GetMemoryStats reports aggregate counters over the whole store.
func (s *Server) GetMemoryStats(ctx context.Context) (*GetMemoryStatsResult, error) {
	stats, err := s.memoryStore.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return &GetMemoryStatsResult{
		MemoryCount:       stats.MemoryCount,
		RelationshipCount: stats.RelationshipCount,
		DistinctTagCount:  stats.DistinctTagCount,
		TagCount:          stats.TagCount,
		Message: fmt.Sprintf("%d memories, %d relationships, %d distinct tags.",
			stats.MemoryCount, stats.RelationshipCount, stats.DistinctTagCount),
	}, nil
}

// ---------------------------------------------------------------------------
// JSON-RPC handler wrappers
// ---------------------------------------------------------------------------

func (s *Server) handleSaveMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args SaveMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.SaveMemory(ctx, args)
}

func (s *Server) handleRecallMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args RecallMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.RecallMemory(ctx, args)
}

func (s *Server) handleSearchMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.SearchMemories(ctx, args)
}

func (s *Server) handleLinkMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args LinkMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.LinkMemories(ctx, args)
}

func (s *Server) handleGetRelatedMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetRelatedMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetRelatedMemories(ctx, args)
}

func (s *Server) handleListAllMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args ListAllMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.ListAllMemories(ctx, args)
}

func (s *Server) handleDeleteMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args DeleteMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.DeleteMemory(ctx, args)
}

func (s *Server) handleGetMemoryStats(ctx context.Context, params interface{}) (interface{}, error) {
	return s.GetMemoryStats(ctx)
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    s.serverName,
			Version: serverVersion,
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	// Re-marshal arguments so they can be passed to the handlers, which
	// expect an interface{} produced by JSON unmarshal.
	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "save_memory":
		result, handlerErr = s.handleSaveMemory(ctx, rawParams)
	case "recall_memory":
		result, handlerErr = s.handleRecallMemory(ctx, rawParams)
	case "search_memories":
		result, handlerErr = s.handleSearchMemories(ctx, rawParams)
	case "link_memories":
		result, handlerErr = s.handleLinkMemories(ctx, rawParams)
	case "get_related_memories":
		result, handlerErr = s.handleGetRelatedMemories(ctx, rawParams)
	case "list_all_memories":
		result, handlerErr = s.handleListAllMemories(ctx, rawParams)
	case "delete_memory":
		result, handlerErr = s.handleDeleteMemory(ctx, rawParams)
	case "get_memory_stats":
		result, handlerErr = s.handleGetMemoryStats(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name:        "save_memory",
			Description: "Save a memory under a unique key. Saving an existing key updates its content, metadata, and tags in place while preserving all relationships.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"key", "content"},
				"properties": map[string]interface{}{
					"key":      map[string]interface{}{"type": "string", "description": "Unique key identifying the memory (required)"},
					"content":  map[string]interface{}{"type": "string", "description": "The memory content to store (required)"},
					"tags":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Tags for filtering; replaces the existing tag set on re-save"},
					"metadata": map[string]interface{}{"type": "object", "description": "Arbitrary key-value metadata"},
				},
			},
		},
		{
			Name:        "recall_memory",
			Description: "Retrieve a memory by its key. Returns found=false (not an error) when no memory has that key. Set include_related=true to also return memories one relationship hop away.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"key"},
				"properties": map[string]interface{}{
					"key":             map[string]interface{}{"type": "string", "description": "Key of the memory to recall (required)"},
					"include_related": map[string]interface{}{"type": "boolean", "description": "Also return directly related memories (default: false)"},
				},
			},
		},
		{
			Name:        "search_memories",
			Description: "Search memories by case-insensitive substring over content and key, and/or by tags (a memory matches when it has at least one of the supplied tags). Both filters combine with AND. Most recently updated first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Substring to match against content and key"},
					"tags":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Match memories having any of these tags"},
					"limit": map[string]interface{}{"type": "integer", "description": "Max results (default 10, max 100)"},
				},
			},
		},
		{
			Name:        "link_memories",
			Description: "Create a typed, weighted relationship between two memories identified by key. Returns linked=false naming any key that does not resolve to a memory.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"from_key", "to_key", "relationship_type"},
				"properties": map[string]interface{}{
					"from_key":          map[string]interface{}{"type": "string", "description": "Key of the source memory (required)"},
					"to_key":            map[string]interface{}{"type": "string", "description": "Key of the target memory (required)"},
					"relationship_type": map[string]interface{}{"type": "string", "description": "Label for the relationship, e.g. 'relates_to' (required)"},
					"strength":          map[string]interface{}{"type": "number", "description": "Relationship weight, expected in [0.0, 1.0] (default 1.0)"},
				},
			},
		},
		{
			Name:        "get_related_memories",
			Description: "Find memories connected to the given key through relationships, following edges in either direction. max_depth bounds the number of hops; relationship_type restricts the walk to edges of that type.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"key"},
				"properties": map[string]interface{}{
					"key":               map[string]interface{}{"type": "string", "description": "Key of the starting memory (required)"},
					"relationship_type": map[string]interface{}{"type": "string", "description": "Only follow edges of this type"},
					"max_depth":         map[string]interface{}{"type": "integer", "description": "Maximum number of hops (default 1, capped at 10)"},
				},
			},
		},
		{
			Name:        "list_all_memories",
			Description: "List memories without filtering, most recently updated first, with offset pagination.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit":  map[string]interface{}{"type": "integer", "description": "Max results (default 50, max 200)"},
					"offset": map[string]interface{}{"type": "integer", "description": "Number of memories to skip (default 0)"},
				},
			},
		},
		{
			Name:        "delete_memory",
			Description: "Delete a memory by key. Its tags and all relationships where it is either endpoint are removed atomically. Returns deleted=false (not an error) when no memory has that key.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"key"},
				"properties": map[string]interface{}{
					"key": map[string]interface{}{"type": "string", "description": "Key of the memory to delete (required)"},
				},
			},
		},
		{
			Name:        "get_memory_stats",
			Description: "Report aggregate counters: total memories, total relationships, and distinct tag values.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}

	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
