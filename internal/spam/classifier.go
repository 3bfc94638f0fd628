package spam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbd888/agentwatch/internal/circuitbreaker"
	"github.com/mbd888/agentwatch/internal/logging"
	"github.com/mbd888/agentwatch/internal/metrics"
	"github.com/mbd888/agentwatch/internal/traces"
)

// Config holds the upstream model settings.
type Config struct {
	Endpoint string        // Model inference URL
	Token    string        // Bearer token; empty disables classification
	Label    string        // Label whose score is the spam probability
	Timeout  time.Duration // Bounded wait per call
}

// Classifier calls a hosted text-classification model.
type Classifier struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClassifier creates a classifier. Zero Label and Timeout take defaults.
func NewClassifier(cfg Config) *Classifier {
	if cfg.Label == "" {
		cfg.Label = DefaultLabel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Classifier{
		cfg:        cfg,
		httpClient: &http.Client{},
		breaker:    circuitbreaker.New(breakerThreshold, breakerOpenDuration),
	}
}

// WithHTTPClient overrides the HTTP client used for upstream calls.
func (c *Classifier) WithHTTPClient(hc *http.Client) *Classifier {
	c.httpClient = hc
	return c
}

// WithBreaker overrides the circuit breaker.
func (c *Classifier) WithBreaker(b *circuitbreaker.Breaker) *Classifier {
	c.breaker = b
	return c
}

// Configured reports whether a credential is present.
func (c *Classifier) Configured() bool {
	return c.cfg.Token != ""
}

// Endpoint returns the model URL.
func (c *Classifier) Endpoint() string {
	return c.cfg.Endpoint
}

// Check reports classifier readiness without calling the upstream model.
func (c *Classifier) Check(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if c.breaker.State(c.cfg.Endpoint) == circuitbreaker.StateOpen {
		return fmt.Errorf("%w after %d consecutive failures", ErrCircuitOpen, c.breaker.Failures(c.cfg.Endpoint))
	}
	return nil
}

// inferenceRequest is the hosted inference API request body.
type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// prediction is one label/score pair. Pointers distinguish missing fields.
type prediction struct {
	Label *string  `json:"label"`
	Score *float64 `json:"score"`
}

// Classify sends message to the model and returns its verdict.
func (c *Classifier) Classify(ctx context.Context, message string) (*Verdict, error) {
	ctx, span := traces.StartSpan(ctx, "spam.Classify", traces.MessageLength(len(message)))
	defer span.End()

	verdict, err := c.classify(ctx, message)
	if err != nil {
		traces.RecordError(span, err)
		if !errors.Is(err, ErrMessageRequired) {
			kind := errorKind(err)
			metrics.ClassifierErrorsTotal.WithLabelValues(kind).Inc()
			logging.L(ctx).Warn("spam classification failed",
				"endpoint", c.cfg.Endpoint,
				"kind", kind,
				"error", err,
			)
		}
		return nil, err
	}

	metrics.SpamClassificationsTotal.WithLabelValues(string(verdict.Status)).Inc()
	span.SetAttributes(
		traces.SpamProbability(verdict.SpamProbability),
		traces.Status(string(verdict.Status)),
	)
	return verdict, nil
}

func (c *Classifier) classify(ctx context.Context, message string) (*Verdict, error) {
	if message == "" {
		return nil, ErrMessageRequired
	}
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	key := c.cfg.Endpoint
	if !c.breaker.Allow(key) {
		return nil, ErrCircuitOpen
	}

	score, err := c.call(ctx, message)
	if err != nil {
		// A caller that went away says nothing about upstream health.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		c.breaker.RecordFailure(key)
		return nil, err
	}
	c.breaker.RecordSuccess(key)
	return NewVerdict(message, score), nil
}

// call performs one upstream request and returns the raw spam probability.
func (c *Classifier) call(ctx context.Context, message string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(inferenceRequest{Inputs: message})
	if err != nil {
		return 0, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ClassifierRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return 0, fmt.Errorf("%w after %s", ErrUpstreamTimeout, c.cfg.Timeout)
		case errors.Is(err, context.Canceled):
			return 0, fmt.Errorf("classify: %w", err)
		default:
			return 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w reading response", ErrUpstreamTimeout)
		}
		return 0, fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w (%d): %s", ErrUpstreamStatus, resp.StatusCode, truncate(string(body), 256))
	}

	return extractScore(body, c.cfg.Label)
}

// extractScore parses a [{label,score}] response, or the same wrapped in
// one extra array, and returns the score for label. A missing label scores 0.
func extractScore(body []byte, label string) (float64, error) {
	if b := bytes.TrimSpace(body); len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var preds []prediction
	if err := json.Unmarshal(body, &preds); err != nil {
		var nested [][]prediction
		if nerr := json.Unmarshal(body, &nested); nerr != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(nested) == 0 || len(nested[0]) == 0 {
			return 0, fmt.Errorf("%w: empty prediction batch", ErrMalformedResponse)
		}
		preds = nested[0]
	}

	score := 0.0
	found := false
	for _, p := range preds {
		if p.Label == nil || p.Score == nil {
			return 0, fmt.Errorf("%w: prediction missing label or score", ErrMalformedResponse)
		}
		if *p.Score < 0 || *p.Score > 1 {
			return 0, fmt.Errorf("%w: score %v out of range", ErrMalformedResponse, *p.Score)
		}
		if !found && strings.EqualFold(*p.Label, label) {
			score = *p.Score
			found = true
		}
	}
	return score, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
