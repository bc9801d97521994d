// Command mcp exposes safetransfer escrow operations as MCP tools over stdio.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/safetransfer/internal/mcpserver"
	"github.com/mbd888/safetransfer/internal/signing"
)

func main() {
	cfg := mcpserver.Config{
		APIURL: envOrDefault("SAFETRANSFER_API_URL", "http://localhost:8080"),
	}

	scheme, err := signing.ParseScheme(envOrDefault("SAFETRANSFER_SIGNATURE_SCHEME", "schnorr"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Scheme = scheme

	// Without a key only the read-only tools succeed.
	if keyHex := os.Getenv("SAFETRANSFER_KEY"); keyHex != "" {
		key, err := signing.KeyFromHex(keyHex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "SAFETRANSFER_KEY: %v\n", err)
			os.Exit(1)
		}
		cfg.Key = key
		fmt.Fprintf(os.Stderr, "signing as %s\n", key.Address())
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
