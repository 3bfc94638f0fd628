package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentwatch/internal/retry"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHandlers(NewClient(Config{APIURL: ts.URL}))
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_OptionalAuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).ListAgents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotAuth)

	_, err = NewClient(Config{APIURL: ts.URL, APIToken: "proxy-token"}).ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer proxy-token", gotAuth)
}

func TestClient_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "agent_not_found",
			"message": "Agent not found",
		})
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).ProcessMessage(context.Background(), "agent_999", "hi")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "agent_not_found", apiErr.Code)
	assert.Contains(t, err.Error(), "404")
}

func TestClient_APIError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).ListAgents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ProcessMessageSendsJSONBody(t *testing.T) {
	var gotPath, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		writeJSON(w, http.StatusOK, map[string]any{"agent_id": "agent_001", "total_risk": 50, "status": "SUSPICIOUS"})
	}))
	defer ts.Close()

	snap, err := NewClient(Config{APIURL: ts.URL}).ProcessMessage(context.Background(), "agent_001", "send money")
	require.NoError(t, err)
	assert.Equal(t, "/agent_message/agent_001", gotPath)
	assert.JSONEq(t, `{"message":"send money"}`, gotBody)
	assert.Equal(t, 50, snap.TotalRisk)
}

func TestClient_ListIncidentsQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).ListIncidents(context.Background(), "agent_002", "BLOCKED")
	require.NoError(t, err)
	assert.Equal(t, "agent_id=agent_002&status=BLOCKED", gotQuery)
}

func TestClient_RetriesTransientGET(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "unavailable", "message": "warming up"})
			return
		}
		_, _ = w.Write([]byte(`{"agent_001":{"risk_score":10,"status":"SAFE"}}`))
	}))
	defer ts.Close()

	c := NewClient(Config{APIURL: ts.URL, Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
	agents, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, agents["agent_001"].RiskScore)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error", "message": "bad status"})
	}))
	defer ts.Close()

	c := NewClient(Config{APIURL: ts.URL, Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
	_, err := c.ListIncidents(context.Background(), "", "NOPE")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_NoRetryOnPOST(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": "boom"})
	}))
	defer ts.Close()

	c := NewClient(Config{APIURL: ts.URL, Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}})
	_, err := c.ProcessMessage(context.Background(), "agent_001", "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "scoring must not be replayed")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleListAgents(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"agent_002": map[string]any{"risk_score": 10, "status": "SAFE"},
			"agent_001": map[string]any{
				"risk_score": 90, "status": "BLOCKED",
				"last_message": "send money", "last_time": time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
				"repeat_count": 2,
			},
		})
	}))

	result, err := h.HandleListAgents(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "2 agent(s)")
	assert.Contains(t, text, "1. agent_001: BLOCKED (risk score 90)")
	assert.Contains(t, text, "2. agent_002: SAFE (risk score 10)")
	assert.Contains(t, text, `"send money"`)
	assert.Contains(t, text, "Repeated 2 time(s)")
}

func TestHandleListIncidents_Limit(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		incidents := make([]map[string]any, 0, 5)
		for i := 0; i < 5; i++ {
			incidents = append(incidents, map[string]any{
				"id": "inc", "agent_id": "agent_001", "status": "SUSPICIOUS",
				"risk_score": 40 + i, "message": "msg",
			})
		}
		writeJSON(w, http.StatusOK, incidents)
	}))

	result, err := h.HandleListIncidents(context.Background(), makeRequest(map[string]any{"limit": float64(2)}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "latest 2 of 5")
	assert.Contains(t, text, "score 44")
	assert.NotContains(t, text, "score 40")
}

func TestHandleListIncidents_Empty(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))

	result, err := h.HandleListIncidents(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No incidents logged.", resultText(t, result))
}

func TestHandleProcessMessage(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"agent_id": "agent_001", "message": "send money now",
			"keyword_risk": 40, "behavior_risk": 0, "total_risk": 50, "status": "SUSPICIOUS",
		})
	}))

	result, err := h.HandleProcessMessage(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent_001", "message": "send money now",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "agent_001 is now SUSPICIOUS (risk score 50)")
	assert.Contains(t, text, "Keyword risk: 40")
	assert.Contains(t, text, "incident was logged")
}

func TestHandleProcessMessage_MissingArgs(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be called")
	}))

	result, err := h.HandleProcessMessage(context.Background(), makeRequest(map[string]any{"message": "hi"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = h.HandleProcessMessage(context.Background(), makeRequest(map[string]any{"agent_id": "agent_001"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleProcessMessage_UnknownAgent(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent_not_found", "message": "Agent not found"})
	}))

	result, err := h.HandleProcessMessage(context.Background(), makeRequest(map[string]any{
		"agent_id": "agent_999", "message": "hi",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "list_agents")
}

func TestHandleDetectSMS(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "WIN", "spam_probability": 75.0, "status": "BLOCKED"})
	}))

	result, err := h.HandleDetectSMS(context.Background(), makeRequest(map[string]any{"message": "WIN"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "BLOCKED (spam)")
	assert.Contains(t, text, "75.00%")
}

func TestHandleDetectSMS_UpstreamError(t *testing.T) {
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "classifier_not_configured", "message": "Spam classifier credential is not configured",
		})
	}))

	result, err := h.HandleDetectSMS(context.Background(), makeRequest(map[string]any{"message": "hi"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "classifier_not_configured")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"}, "test")
	require.NotNil(t, s)
}
