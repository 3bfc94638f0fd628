package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/agentwatch/internal/risk"
	"github.com/mbd888/agentwatch/internal/spam"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleListAgents lists every agent's risk record.
func (h *Handlers) HandleListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agents, err := h.client.ListAgents(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list agents: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAgents(agents)), nil
}

// HandleListIncidents lists incidents, most recent last.
func (h *Handlers) HandleListIncidents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	status := strings.ToUpper(req.GetString("status", ""))
	limit := req.GetInt("limit", 20)

	incidents, err := h.client.ListIncidents(ctx, agentID, status)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list incidents: %v", err)), nil
	}
	return mcp.NewToolResultText(formatIncidents(incidents, limit)), nil
}

// HandleProcessMessage scores a message for an agent.
func (h *Handlers) HandleProcessMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	message := req.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	snap, err := h.client.ProcessMessage(ctx, agentID, message)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "agent_not_found" {
			return mcp.NewToolResultError(fmt.Sprintf("Agent %q is not registered. Use list_agents to see valid ids.", agentID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to process message: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Agent %s is now %s (risk score %d).\n", snap.AgentID, snap.Status, snap.TotalRisk)
	fmt.Fprintf(&sb, "  Keyword risk: %d | Behavior risk: %d\n", snap.KeywordRisk, snap.BehaviorRisk)
	if snap.Status.Elevated() {
		sb.WriteString("  An incident was logged.\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleDetectSMS classifies an SMS text.
func (h *Handlers) HandleDetectSMS(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	verdict, err := h.client.DetectSMS(ctx, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Spam classification failed: %v", err)), nil
	}

	label := "not spam"
	if verdict.Status == spam.StatusBlocked {
		label = "spam"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Verdict: %s (%s)\nSpam probability: %.2f%%", verdict.Status, label, verdict.SpamProbability,
	)), nil
}

// --- Formatting helpers ---

func formatAgents(agents map[string]risk.AgentRecord) string {
	if len(agents) == 0 {
		return "No agents are registered."
	}

	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d agent(s):\n\n", len(ids))
	for i, id := range ids {
		a := agents[id]
		fmt.Fprintf(&sb, "%d. %s: %s (risk score %d)\n", i+1, id, a.Status, a.RiskScore)
		if a.LastMessage != "" {
			fmt.Fprintf(&sb, "   Last message: %q at %s\n", a.LastMessage, a.LastTime.Format("2006-01-02 15:04:05"))
		}
		if a.RepeatCount > 0 {
			fmt.Fprintf(&sb, "   Repeated %d time(s) in a row\n", a.RepeatCount)
		}
	}
	return sb.String()
}

func formatIncidents(incidents []risk.Incident, limit int) string {
	if len(incidents) == 0 {
		return "No incidents logged."
	}

	total := len(incidents)
	if limit > 0 && total > limit {
		incidents = incidents[total-limit:]
	}

	var sb strings.Builder
	if len(incidents) < total {
		fmt.Fprintf(&sb, "Showing the latest %d of %d incident(s):\n\n", len(incidents), total)
	} else {
		fmt.Fprintf(&sb, "%d incident(s):\n\n", total)
	}
	for _, inc := range incidents {
		fmt.Fprintf(&sb, "- [%s] %s %s (score %d): %q\n",
			inc.Time.Format("2006-01-02 15:04:05"), inc.AgentID, inc.Status, inc.RiskScore, inc.Message)
	}
	return sb.String()
}
