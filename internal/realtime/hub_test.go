package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/agentwatch/internal/risk"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func incidentEvent(agentID string, status risk.Status, score int) *Event {
	return &Event{
		Type:      EventIncident,
		Timestamp: time.Now(),
		Data:      EventData{AgentID: agentID, Status: status, RiskScore: score},
	}
}

// ---------------------------------------------------------------------------
// Subscription tests
// ---------------------------------------------------------------------------

func TestSubscription_EmptyMatchesAll(t *testing.T) {
	var sub Subscription
	if !sub.Matches(incidentEvent("agent_001", risk.StatusSuspicious, 50)) {
		t.Error("empty subscription should receive events")
	}
}

func TestSubscription_EventTypeFilter(t *testing.T) {
	sub := Subscription{EventTypes: []EventType{EventStatusChanged}}

	if sub.Matches(incidentEvent("agent_001", risk.StatusBlocked, 90)) {
		t.Error("should NOT receive incident events")
	}
	if !sub.Matches(&Event{Type: EventStatusChanged}) {
		t.Error("should receive status_changed events")
	}
}

func TestSubscription_AgentFilter(t *testing.T) {
	sub := Subscription{AgentIDs: []string{"agent_001"}}

	if !sub.Matches(incidentEvent("agent_001", risk.StatusSuspicious, 50)) {
		t.Error("should match watched agent")
	}
	if sub.Matches(incidentEvent("agent_002", risk.StatusSuspicious, 50)) {
		t.Error("should NOT match other agents")
	}
}

func TestSubscription_StatusAndScoreFilter(t *testing.T) {
	sub := Subscription{Statuses: []risk.Status{risk.StatusBlocked}, MinRiskScore: 100}

	if sub.Matches(incidentEvent("agent_001", risk.StatusSuspicious, 150)) {
		t.Error("status filter should reject SUSPICIOUS")
	}
	if sub.Matches(incidentEvent("agent_001", risk.StatusBlocked, 90)) {
		t.Error("score filter should reject 90")
	}
	if !sub.Matches(incidentEvent("agent_001", risk.StatusBlocked, 120)) {
		t.Error("should match BLOCKED at 120")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connected_clients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connected_clients"])
	}
	if stats["total_events"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["total_events"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256)}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connected_clients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connected_clients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connected_clients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connected_clients"])
	}
	if stats["peak_clients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peak_clients"])
	}
}

func TestHub_EmitIncidentReachesClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256)}
	h.register <- client

	inc := &risk.Incident{
		ID:        "inc_1",
		Time:      time.Now(),
		AgentID:   "agent_001",
		Message:   "send money",
		RiskScore: 50,
		Status:    risk.StatusSuspicious,
	}
	h.EmitIncident(inc)

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if ev.Type != EventIncident || ev.Data.AgentID != "agent_001" || ev.Data.Incident == nil {
			t.Errorf("unexpected event: %+v", ev)
		}
		if ev.Data.Incident.Message != "send money" {
			t.Errorf("incident message = %q", ev.Data.Incident.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventStatusChanged}},
	}
	h.register <- client

	h.EmitIncident(&risk.Incident{AgentID: "agent_001", Status: risk.StatusBlocked})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Fatal("client should NOT receive incident event")
	default:
	}

	h.EmitStatusChange("agent_001", risk.StatusSuspicious, risk.StatusBlocked, 90)

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if ev.Data.FromStatus != risk.StatusSuspicious || ev.Data.Status != risk.StatusBlocked {
			t.Errorf("unexpected transition: %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("client should receive status_changed event")
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte)} // unbuffered, never read
	h.register <- client

	h.EmitStatusChange("agent_001", risk.StatusSafe, risk.StatusSuspicious, 40)
	time.Sleep(100 * time.Millisecond)

	if n := h.Stats()["connected_clients"].(int); n != 0 {
		t.Errorf("slow client should be dropped, got %d clients", n)
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub, _ := json.Marshal(Subscription{AgentIDs: []string{"agent_002"}})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write subscription: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.EmitStatusChange("agent_001", risk.StatusSafe, risk.StatusSuspicious, 50)
	h.EmitStatusChange("agent_002", risk.StatusSafe, risk.StatusBlocked, 110)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if ev.Data.AgentID != "agent_002" || ev.Data.Status != risk.StatusBlocked {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHub_RejectsAfterShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	if w.Code != 503 {
		t.Errorf("Expected 503 after shutdown, got %d", w.Code)
	}
}
