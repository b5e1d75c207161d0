// Package testfixture provides a minimal streamable-HTTP MCP server for
// exercising the broker against a real wire-protocol upstream in tests,
// adapted from the teacher's own internal/tests/server2 sample tool
// server down to the handful of tools an end-to-end test needs.
package testfixture

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewHandler builds an http.Handler serving an MCP streamable-HTTP
// server at "/mcp" with a small fixed tool set: "echo" (returns its
// input), "time" (returns the current time), and "slow" (sleeps for N
// seconds, useful for exercising call timeouts).
func NewHandler() http.Handler {
	s := server.NewMCPServer("fixture-upstream", "1.0.0", server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo the given text back"),
		mcp.WithString("text", mcp.Required(), mcp.Description("text to echo")),
	), echoHandler)

	s.AddTool(mcp.NewTool("time",
		mcp.WithDescription("Get the current time"),
	), timeHandler)

	s.AddTool(mcp.NewTool("slow",
		mcp.WithDescription("Sleep for N seconds before returning"),
		mcp.WithString("seconds", mcp.Required(), mcp.Description("number of seconds to wait")),
	), slowHandler)

	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s))
	return mux
}

func echoHandler(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func timeHandler(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(time.Now().UTC().Format(time.RFC3339)), nil
}

func slowHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seconds, err := request.RequireInt("seconds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
		return mcp.NewToolResultText(fmt.Sprintf("slept %ds", seconds)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
