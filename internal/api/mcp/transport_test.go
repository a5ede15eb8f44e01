package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveLines runs a transport over the given stdin content until EOF and
// returns the response lines.
func serveLines(t *testing.T, srv *Server, input string) []string {
	t.Helper()
	var out bytes.Buffer
	transport := NewStdioTransport(srv, strings.NewReader(input), &out)
	require.NoError(t, transport.Serve(context.Background()))

	raw := strings.TrimRight(out.String(), "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

func TestStdioTransportRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"save_memory","params":{"key":"k","content":"hello"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"recall_memory","params":{"key":"k"}}`,
	}, "\n") + "\n"

	lines := serveLines(t, srv, input)
	require.Len(t, lines, 3)

	// Every line must be a valid JSON-RPC response frame.
	for i, line := range lines {
		var resp JSONRPCResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "line %d", i)
		assert.Equal(t, "2.0", resp.JSONRPC)
		assert.Nil(t, resp.Error)
	}

	var recall struct {
		Result RecallMemoryResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &recall))
	assert.True(t, recall.Result.Found)
	assert.Equal(t, "hello", recall.Result.Memory.Content)
}

func TestStdioTransportSkipsBlankLines(t *testing.T) {
	srv := newTestServer(t)

	lines := serveLines(t, srv, "\n\n"+`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n\n")
	require.Len(t, lines, 1)
}

func TestStdioTransportMalformedLine(t *testing.T) {
	srv := newTestServer(t)

	lines := serveLines(t, srv, "{garbage\n")
	require.Len(t, lines, 1)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestStdioTransportContextCancelled(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	transport := NewStdioTransport(srv, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n"), &out)
	err := transport.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String(), "no frames after cancellation")
}
