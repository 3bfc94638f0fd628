// agentwatch MCP server: exposes the agentwatch API as MCP tools for LLM operators.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/agentwatch/internal/mcpserver"
)

// Set at build time via -ldflags.
var Version = "dev"

func main() {
	cfg := mcpserver.Config{
		APIURL:   envOrDefault("AGENTWATCH_API_URL", "http://localhost:8080"),
		APIToken: os.Getenv("AGENTWATCH_API_TOKEN"),
	}

	s := mcpserver.NewMCPServer(cfg, Version)
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
