package risk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/agentwatch/internal/idgen"
	"github.com/mbd888/agentwatch/internal/logging"
	"github.com/mbd888/agentwatch/internal/metrics"
	"github.com/mbd888/agentwatch/internal/syncutil"
	"github.com/mbd888/agentwatch/internal/traces"
)

// Engine scores agent messages against a fixed agent registry.
//
// The registry map is built once in NewEngine and never resized, so it is
// read without locking. Each agent's state is only read or written while
// holding that agent's lock.
type Engine struct {
	agents   map[string]*agentState
	order    []string
	locks    *syncutil.KeyedMutex
	keywords *KeywordSet
	log      IncidentLog
	clock    Clock
	events   EventEmitter
}

type agentState struct {
	riskScore   int
	status      Status
	lastMessage string
	lastTime    time.Time
	repeatCount int
}

func (st *agentState) record() AgentRecord {
	return AgentRecord{
		RiskScore:   st.riskScore,
		Status:      st.status,
		LastMessage: st.lastMessage,
		LastTime:    st.lastTime,
		RepeatCount: st.repeatCount,
	}
}

// NewEngine creates an engine for the given agents, all starting SAFE at
// InitialScore, logging incidents to log.
func NewEngine(agentIDs []string, log IncidentLog) *Engine {
	e := &Engine{
		agents:   make(map[string]*agentState, len(agentIDs)),
		locks:    syncutil.NewKeyedMutex(agentIDs),
		keywords: NewKeywordSet(DefaultKeywords),
		log:      log,
		clock:    SystemClock,
	}
	for _, id := range agentIDs {
		if _, dup := e.agents[id]; dup {
			continue
		}
		e.agents[id] = &agentState{riskScore: InitialScore, status: StatusFor(InitialScore)}
		e.order = append(e.order, id)
		metrics.AgentRiskScore.WithLabelValues(id).Set(InitialScore)
	}
	return e
}

// WithClock overrides the time source.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// WithKeywords overrides the scam keyword set.
func (e *Engine) WithKeywords(ks *KeywordSet) *Engine {
	e.keywords = ks
	return e
}

// WithEvents adds an event emitter for incidents and status changes.
func (e *Engine) WithEvents(events EventEmitter) *Engine {
	e.events = events
	return e
}

// AgentIDs returns the registry identifiers in registration order.
func (e *Engine) AgentIDs() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// HasAgent reports whether id is in the registry.
func (e *Engine) HasAgent(id string) bool {
	_, ok := e.agents[id]
	return ok
}

// ProcessMessage scores message for agentID, updates the agent's state and
// appends an incident if the resulting status is elevated. The whole
// read-score-write-log sequence is atomic per agent.
func (e *Engine) ProcessMessage(ctx context.Context, agentID, message string) (*Snapshot, error) {
	ctx, span := traces.StartSpan(ctx, "risk.ProcessMessage",
		traces.AgentID(agentID),
		traces.MessageLength(len(message)),
	)
	defer span.End()

	st, ok := e.agents[agentID]
	if !ok {
		traces.RecordError(span, ErrAgentNotFound)
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if message == "" {
		traces.RecordError(span, ErrMessageRequired)
		return nil, ErrMessageRequired
	}

	hits := e.keywords.Match(message)
	keywordRisk := KeywordWeight * len(hits)

	unlock, err := e.locks.LockContext(ctx, agentID)
	if err != nil {
		traces.RecordError(span, err)
		return nil, fmt.Errorf("lock agent %s: %w", agentID, err)
	}

	now := e.clock.Now()
	prevStatus := st.status

	// Work on a copy and commit at the end.
	next := *st
	behaviorRisk := behaviorScore(&next, message, now)
	applyScores(&next, keywordRisk, behaviorRisk)
	*st = next

	snap := &Snapshot{
		AgentID:      agentID,
		Message:      message,
		KeywordRisk:  keywordRisk,
		BehaviorRisk: behaviorRisk,
		TotalRisk:    next.riskScore,
		Status:       next.status,
	}

	var incident *Incident
	if next.status.Elevated() {
		incident = &Incident{
			ID:        idgen.WithPrefix("inc_"),
			Time:      now,
			AgentID:   agentID,
			Message:   message,
			RiskScore: next.riskScore,
			Status:    next.status,
		}
		if err := e.log.Append(ctx, incident); err != nil {
			logging.L(ctx).Error("failed to append incident",
				"agent_id", agentID,
				"error", err,
			)
			incident = nil
		}
	}
	unlock()

	e.observe(agentID, hits, snap)
	if incident != nil {
		logging.L(ctx).Warn("incident logged",
			"agent_id", agentID,
			"risk_score", incident.RiskScore,
			"status", incident.Status,
		)
	}
	if e.events != nil {
		if incident != nil {
			e.events.EmitIncident(incident)
		}
		if prevStatus != snap.Status {
			e.events.EmitStatusChange(agentID, prevStatus, snap.Status, snap.TotalRisk)
		}
	}

	span.SetAttributes(
		traces.KeywordRisk(keywordRisk),
		traces.BehaviorRisk(behaviorRisk),
		traces.RiskScore(snap.TotalRisk),
		traces.Status(string(snap.Status)),
	)
	return snap, nil
}

// behaviorScore applies the rapid-fire and repetition heuristics against the
// agent's previous message, then records message and now as the latest.
func behaviorScore(st *agentState, message string, now time.Time) int {
	score := 0

	if !st.lastTime.IsZero() && now.Sub(st.lastTime) < RapidFireWindow {
		score += RapidFireWeight
	}

	if strings.ToLower(message) == strings.ToLower(st.lastMessage) {
		st.repeatCount++
		score += RepeatWeight * st.repeatCount
	} else {
		st.repeatCount = 0
	}

	st.lastTime = now
	st.lastMessage = message
	return score
}

// applyScores decays the score when both components are zero and
// accumulates otherwise, then re-derives the status.
func applyScores(st *agentState, keywordRisk, behaviorRisk int) {
	if keywordRisk == 0 && behaviorRisk == 0 {
		if st.riskScore > ScoreFloor {
			st.riskScore -= DecayStep
			if st.riskScore < ScoreFloor {
				st.riskScore = ScoreFloor
			}
		}
	} else {
		st.riskScore += keywordRisk + behaviorRisk
	}
	st.status = StatusFor(st.riskScore)
}

func (e *Engine) observe(agentID string, hits []string, snap *Snapshot) {
	metrics.MessagesProcessedTotal.WithLabelValues(string(snap.Status)).Inc()
	metrics.AgentRiskScore.WithLabelValues(agentID).Set(float64(snap.TotalRisk))
	for _, kw := range hits {
		metrics.KeywordHitsTotal.WithLabelValues(kw).Inc()
	}
	if snap.Status.Elevated() {
		metrics.IncidentsTotal.WithLabelValues(string(snap.Status)).Inc()
	}
}

// Agent returns a copy of one agent's record.
func (e *Engine) Agent(ctx context.Context, agentID string) (*AgentRecord, error) {
	st, ok := e.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	unlock, err := e.locks.LockContext(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("lock agent %s: %w", agentID, err)
	}
	rec := st.record()
	unlock()
	return &rec, nil
}

// ListAgents returns a copy of every agent's record. Each record is
// internally consistent; records of different agents are read one at a time.
func (e *Engine) ListAgents(ctx context.Context) (map[string]AgentRecord, error) {
	out := make(map[string]AgentRecord, len(e.order))
	for _, id := range e.order {
		rec, err := e.Agent(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = *rec
	}
	return out, nil
}

// ListIncidents returns logged incidents in chronological order.
func (e *Engine) ListIncidents(ctx context.Context, filter IncidentFilter) ([]*Incident, error) {
	return e.log.List(ctx, filter)
}
