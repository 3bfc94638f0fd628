// Package spam proxies SMS texts to a hosted text-classification model and
// maps the returned spam probability to a binary verdict.
//
// The classifier keeps no per-message state. Its only mutable state is a
// circuit breaker keyed by model endpoint, which sheds calls while the
// upstream is failing. Calls are never retried automatically.
package spam

import (
	"errors"
	"math"
	"time"
)

// Status is the binary spam verdict.
type Status string

const (
	StatusSafe    Status = "SAFE"
	StatusBlocked Status = "BLOCKED"
)

// BlockThreshold is the raw probability above which a message is BLOCKED.
const BlockThreshold = 0.6

// Classifier defaults.
const (
	DefaultLabel        = "spam"
	DefaultTimeout      = 30 * time.Second
	breakerThreshold    = 5
	breakerOpenDuration = 30 * time.Second
	maxResponseBytes    = 1 << 20
)

// Upstream failures. Each is reported to the caller and never turned into a
// verdict.
var (
	ErrNotConfigured       = errors.New("spam classifier credential not configured")
	ErrUpstreamUnavailable = errors.New("spam classifier unreachable")
	ErrUpstreamTimeout     = errors.New("spam classifier timed out")
	ErrUpstreamStatus      = errors.New("spam classifier returned error status")
	ErrMalformedResponse   = errors.New("spam classifier returned malformed response")
	ErrCircuitOpen         = errors.New("spam classifier circuit open")
	ErrMessageRequired     = errors.New("message is required")
)

// Verdict is the classification result returned to callers.
type Verdict struct {
	Message         string  `json:"message"`
	SpamProbability float64 `json:"spam_probability"`
	Status          Status  `json:"status"`
}

// NewVerdict builds a verdict from a raw probability in [0,1].
func NewVerdict(message string, score float64) *Verdict {
	status := StatusSafe
	if score > BlockThreshold {
		status = StatusBlocked
	}
	return &Verdict{
		Message:         message,
		SpamProbability: toPercent(score),
		Status:          status,
	}
}

// toPercent scales a probability to a percentage rounded to 2 decimals.
func toPercent(score float64) float64 {
	return math.Round(score*10000) / 100
}

// errorKind names an upstream failure for metrics and logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, ErrUpstreamStatus):
		return "status"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
