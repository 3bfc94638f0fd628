// Package risk implements heuristic misuse scoring for a fixed registry of agents.
//
// Every message sent by an agent is scored on two components: scam keyword
// matches and behavior (rapid-fire timing and exact repetition). Non-zero
// scores accumulate onto the agent's risk score; a clean message lets the
// score decay toward the floor. The agent's status tier is derived from the
// score alone, and elevated tiers are recorded in an append-only incident log.
package risk

import (
	"context"
	"errors"
	"time"
)

// Status is the tier an agent's risk score falls into.
type Status string

const (
	StatusSafe       Status = "SAFE"
	StatusSuspicious Status = "SUSPICIOUS"
	StatusBlocked    Status = "BLOCKED"
)

// Elevated reports whether the status warrants an incident entry.
func (s Status) Elevated() bool {
	return s == StatusSuspicious || s == StatusBlocked
}

// Valid reports whether s is one of the known tiers.
func (s Status) Valid() bool {
	switch s {
	case StatusSafe, StatusSuspicious, StatusBlocked:
		return true
	}
	return false
}

// Scoring constants.
const (
	InitialScore    = 10
	ScoreFloor      = 10
	DecayStep       = 5
	KeywordWeight   = 20
	RapidFireWeight = 10
	RepeatWeight    = 10
	RapidFireWindow = 5 * time.Second
	SuspiciousAt    = 40
	BlockedAt       = 80
)

// StatusFor derives the status tier from a risk score.
func StatusFor(score int) Status {
	switch {
	case score >= BlockedAt:
		return StatusBlocked
	case score >= SuspiciousAt:
		return StatusSuspicious
	default:
		return StatusSafe
	}
}

var (
	ErrAgentNotFound   = errors.New("agent not found")
	ErrMessageRequired = errors.New("message is required")
)

// AgentRecord is a point-in-time copy of an agent's risk state.
type AgentRecord struct {
	RiskScore   int       `json:"risk_score"`
	Status      Status    `json:"status"`
	LastMessage string    `json:"last_message"`
	LastTime    time.Time `json:"last_time"`
	RepeatCount int       `json:"repeat_count"`
}

// Incident is one append-only entry in the incident log.
type Incident struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	AgentID   string    `json:"agent_id"`
	Message   string    `json:"message"`
	RiskScore int       `json:"risk_score"`
	Status    Status    `json:"status"`

	// Seq is the log position, assigned on append starting at 1.
	Seq int64 `json:"-"`
}

// Snapshot is the result of processing a single message.
type Snapshot struct {
	AgentID      string `json:"agent_id"`
	Message      string `json:"message"`
	KeywordRisk  int    `json:"keyword_risk"`
	BehaviorRisk int    `json:"behavior_risk"`
	TotalRisk    int    `json:"total_risk"`
	Status       Status `json:"status"`
}

// IncidentFilter narrows an incident listing. Zero values match everything.
type IncidentFilter struct {
	AgentID string
	Status  Status

	AfterSeq int64 // only incidents logged after this position
	Limit    int   // at most this many results; zero means no limit
}

// Matches reports whether the incident passes the filter.
func (f IncidentFilter) Matches(inc *Incident) bool {
	if f.AgentID != "" && inc.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && inc.Status != f.Status {
		return false
	}
	return f.AfterSeq == 0 || inc.Seq > f.AfterSeq
}

// IncidentLog is the append-only incident store.
type IncidentLog interface {
	Append(ctx context.Context, incident *Incident) error
	List(ctx context.Context, filter IncidentFilter) ([]*Incident, error)
}

// Clock supplies the current time. Times from time.Now carry a monotonic
// reading, so elapsed-time comparisons ignore wall-clock jumps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the process wall clock.
var SystemClock Clock = systemClock{}

// EventEmitter receives engine notifications. Calls happen after the agent
// lock is released and must not block.
type EventEmitter interface {
	EmitIncident(incident *Incident)
	EmitStatusChange(agentID string, from, to Status, score int)
}

// MultiEmitter fans notifications out to several emitters in order.
type MultiEmitter []EventEmitter

func (m MultiEmitter) EmitIncident(incident *Incident) {
	for _, e := range m {
		e.EmitIncident(incident)
	}
}

func (m MultiEmitter) EmitStatusChange(agentID string, from, to Status, score int) {
	for _, e := range m {
		e.EmitStatusChange(agentID, from, to, score)
	}
}
