package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/safetransfer/internal/apiclient"
	"github.com/mbd888/safetransfer/internal/circuitbreaker"
	"github.com/mbd888/safetransfer/internal/signing"
)

// Config holds the configuration for connecting to a safetransfer server.
type Config struct {
	APIURL string         // Base URL, e.g. "http://localhost:8080"
	Key    *signing.Key   // signs initialize/complete/pull_back; optional
	Scheme signing.Scheme // signature scheme used with Key
}

// NewMCPServer creates a configured MCP server with all escrow tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("safetransfer", "1.0.0")
	breaker := circuitbreaker.New(circuitbreaker.Config{IsFailure: apiclient.IsUpstreamFailure})
	h := NewHandlers(apiclient.New(cfg.APIURL, apiclient.WithBreaker(breaker)), cfg.Key, cfg.Scheme)

	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolDeriveAddresses, h.HandleDeriveAddresses)
	s.AddTool(ToolGetTokenBalance, h.HandleGetTokenBalance)
	s.AddTool(ToolInitializeEscrow, h.HandleInitializeEscrow)
	s.AddTool(ToolCompleteEscrow, h.HandleCompleteEscrow)
	s.AddTool(ToolPullBackEscrow, h.HandlePullBackEscrow)

	return s
}
