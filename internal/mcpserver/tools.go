package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the agentwatch MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListAgents = mcp.NewTool("list_agents",
	mcp.WithDescription(
		"List every monitored agent with its current risk score, status tier "+
			"(SAFE / SUSPICIOUS / BLOCKED), last message and repeat count."),
)

var ToolListIncidents = mcp.NewTool("list_incidents",
	mcp.WithDescription(
		"List incident log entries in chronological order. An incident is recorded "+
			"every time an agent's message leaves it SUSPICIOUS or BLOCKED."),
	mcp.WithString("agent_id",
		mcp.Description("Only incidents for this agent (e.g. 'agent_001')")),
	mcp.WithString("status",
		mcp.Description("Only incidents at this status tier"),
		mcp.Enum("SUSPICIOUS", "BLOCKED")),
	mcp.WithNumber("limit",
		mcp.Description("Return only the most recent N incidents (default 20)")),
)

var ToolProcessMessage = mcp.NewTool("process_message",
	mcp.WithDescription(
		"Score a message as if the given agent sent it. Updates the agent's risk "+
			"score and may log an incident. Scoring is cumulative and cannot be undone."),
	mcp.WithString("agent_id",
		mcp.Required(),
		mcp.Description("Registered agent identifier (e.g. 'agent_001')")),
	mcp.WithString("message",
		mcp.Required(),
		mcp.Description("Message text to score")),
)

var ToolDetectSMS = mcp.NewTool("detect_sms",
	mcp.WithDescription(
		"Classify an SMS text with the hosted spam model. Returns the spam probability "+
			"(0-100) and a SAFE or BLOCKED verdict. Does not affect any agent."),
	mcp.WithString("message",
		mcp.Required(),
		mcp.Description("SMS text to classify")),
)
