package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Decoder extracts the typed request from a tool call.
type Decoder func(*mcp.CallToolRequest) (any, error)

// RegisterMCPTool exposes endpoint as an MCP tool. Decode, endpoint and
// marshal failures are reported as IsError results so the client sees
// the message; the protocol error is reserved for transport problems.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode Decoder) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := decode(call)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		resp, err := endpoint(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}

// DecodeJSON unmarshals the tool arguments into a fresh *T. Missing
// arguments leave T at its zero value.
func DecodeJSON[T any]() Decoder {
	return func(call *mcp.CallToolRequest) (any, error) {
		r := new(T)
		if args := call.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, r); err != nil {
				return nil, err
			}
		}
		return r, nil
	}
}
