// Package mcp implements the Model Context Protocol (MCP) server for the
// memory graph. It provides JSON-RPC 2.0 based tools for storing, linking,
// searching, and traversing memories.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/1broseidon/memory-graph-mcp/internal/storage"
)

// SaveMemoryArgs contains arguments for the save_memory tool.
type SaveMemoryArgs struct {
	Key      string                 `json:"key"`                // Unique memory key (required)
	Content  string                 `json:"content"`            // Memory content (required)
	Tags     []string               `json:"tags,omitempty"`     // User-defined tags; replaces the existing set on re-save
	Metadata map[string]interface{} `json:"metadata,omitempty"` // Arbitrary metadata
}

// UnmarshalJSON handles the case where some MCP clients send array fields
// like "tags" as a JSON-encoded string ("[\"a\",\"b\"]") or a comma-separated
// string rather than a proper JSON array. All forms are accepted.
func (a *SaveMemoryArgs) UnmarshalJSON(data []byte) error {
	type Alias SaveMemoryArgs
	aux := &struct {
		Tags json.RawMessage `json:"tags,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	a.Tags = parseFlexibleStrings(aux.Tags)
	return nil
}

// SaveMemoryResult contains the result of saving a memory.
type SaveMemoryResult struct {
	ID      string `json:"id"`      // Internal memory ID (stable across re-saves)
	Key     string `json:"key"`     // The memory key
	Message string `json:"message"` // Status message
}

// RecallMemoryArgs contains arguments for the recall_memory tool.
type RecallMemoryArgs struct {
	Key string `json:"key"` // Memory key to look up (required)

	// IncludeRelated additionally returns memories one relationship hop away.
	IncludeRelated bool `json:"include_related,omitempty"`
}

// RecallMemoryResult contains the result of recalling a memory.
//
// A missing key is reported via Found=false with a descriptive message, not
// as an error, so callers can branch on the payload.
type RecallMemoryResult struct {
	Memory  *storage.MemoryRecord   `json:"memory,omitempty"`
	Found   bool                    `json:"found"`
	Related []storage.RelatedMemory `json:"related,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// SearchMemoriesArgs contains arguments for the search_memories tool.
type SearchMemoriesArgs struct {
	Query string   `json:"query,omitempty"` // Case-insensitive substring over content and key
	Tags  []string `json:"tags,omitempty"`  // OR semantics: any matching tag qualifies
	Limit int      `json:"limit,omitempty"` // Max results (default 10, max 100)
}

// UnmarshalJSON accepts the same flexible tag encodings as SaveMemoryArgs.
func (a *SearchMemoriesArgs) UnmarshalJSON(data []byte) error {
	type Alias SearchMemoriesArgs
	aux := &struct {
		Tags json.RawMessage `json:"tags,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	a.Tags = parseFlexibleStrings(aux.Tags)
	return nil
}

// SearchMemoriesResult contains the result of searching memories.
type SearchMemoriesResult struct {
	Memories []storage.MemoryRecord `json:"memories"`
	Total    int                    `json:"total"`
}

// LinkMemoriesArgs contains arguments for the link_memories tool.
type LinkMemoriesArgs struct {
	FromKey          string  `json:"from_key"`           // Source memory key (required)
	ToKey            string  `json:"to_key"`             // Target memory key (required)
	RelationshipType string  `json:"relationship_type"`  // Edge label (required)
	Strength         float64 `json:"strength,omitempty"` // Edge weight (default 1.0)
}

// LinkMemoriesResult contains the result of linking two memories.
//
// A missing endpoint is reported via Linked=false with a message naming the
// unresolved key(s), not as an error.
type LinkMemoriesResult struct {
	Linked       bool                        `json:"linked"`
	Relationship *storage.RelationshipRecord `json:"relationship,omitempty"`
	Message      string                      `json:"message"`
}

// GetRelatedMemoriesArgs contains arguments for the get_related_memories tool.
type GetRelatedMemoriesArgs struct {
	Key              string `json:"key"`                         // Starting memory key (required)
	RelationshipType string `json:"relationship_type,omitempty"` // Restrict traversal to edges of this type
	MaxDepth         int    `json:"max_depth,omitempty"`         // Hop bound (default 1, capped at 10)
}

// GetRelatedMemoriesResult contains the result of a graph traversal.
type GetRelatedMemoriesResult struct {
	Found   bool                    `json:"found"` // Whether the starting memory exists
	Related []storage.RelatedMemory `json:"related"`
	Total   int                     `json:"total"`
	Message string                  `json:"message,omitempty"`
}

// ListAllMemoriesArgs contains arguments for the list_all_memories tool.
type ListAllMemoriesArgs struct {
	Limit  int `json:"limit,omitempty"`  // Max results (default 50, max 200)
	Offset int `json:"offset,omitempty"` // Pagination offset (default 0)
}

// ListAllMemoriesResult contains the result of listing memories.
type ListAllMemoriesResult struct {
	Memories []storage.MemoryRecord `json:"memories"`
	Total    int                    `json:"total"` // Number of memories in this page
}

// DeleteMemoryArgs contains arguments for the delete_memory tool.
type DeleteMemoryArgs struct {
	Key string `json:"key"` // Memory key to delete (required)
}

// DeleteMemoryResult contains the result of deleting a memory.
//
// A missing key is reported via Deleted=false with a message, not as an
// error. Deletion cascades to the memory's tags and relationships.
type DeleteMemoryResult struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}

// GetMemoryStatsResult contains aggregate counters over the whole store.
type GetMemoryStatsResult struct {
	MemoryCount       int    `json:"memory_count"`
	RelationshipCount int    `json:"relationship_count"`
	DistinctTagCount  int    `json:"distinct_tag_count"`
	TagCount          int    `json:"tag_count"`
	Message           string `json:"message,omitempty"`
}

// parseFlexibleStrings decodes a string list that may arrive as a proper JSON
// array, a JSON-encoded array string, or a comma-separated string.
// Unrecognised shapes yield nil rather than an error.
func parseFlexibleStrings(raw json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		_ = json.Unmarshal([]byte(s), &list)
		return list
	}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
