package webhooks

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/agentwatch/internal/idgen"
	"github.com/mbd888/agentwatch/internal/risk"
)

var (
	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentwatch",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by event type and result.",
	}, []string{"event_type", "result"})

	deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentwatch",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering one webhook, retries included.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentwatch",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Events that could not be handed to the dispatcher.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(deliveriesTotal, deliveryDuration, emitErrors)
}

// Emitter adapts a Dispatcher to risk.EventEmitter.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
	now    func() time.Time
}

var _ risk.EventEmitter = (*Emitter)(nil)

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger, now: time.Now}
}

func (e *Emitter) emit(eventType EventType, ts time.Time, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: ts,
		Data:      data,
	}
	if err := e.d.Dispatch(event); err != nil {
		emitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "error", err)
	}
}

// EmitIncident emits an incident.logged event.
func (e *Emitter) EmitIncident(incident *risk.Incident) {
	if e == nil || incident == nil {
		return
	}
	e.emit(EventIncidentLogged, incident.Time, map[string]any{
		"incident_id": incident.ID,
		"agent_id":    incident.AgentID,
		"message":     incident.Message,
		"risk_score":  incident.RiskScore,
		"status":      incident.Status,
	})
}

// EmitStatusChange emits an agent.status_changed event.
func (e *Emitter) EmitStatusChange(agentID string, from, to risk.Status, score int) {
	if e == nil {
		return
	}
	e.emit(EventStatusChanged, e.now(), map[string]any{
		"agent_id":    agentID,
		"from_status": from,
		"status":      to,
		"risk_score":  score,
	})
}
