package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all agentwatch tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("agentwatch", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolListAgents, h.HandleListAgents)
	s.AddTool(ToolListIncidents, h.HandleListIncidents)
	s.AddTool(ToolProcessMessage, h.HandleProcessMessage)
	s.AddTool(ToolDetectSMS, h.HandleDetectSMS)

	return s
}
