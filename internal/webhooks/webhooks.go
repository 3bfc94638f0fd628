// Package webhooks delivers risk alerts to external services.
//
// Operators configure one or more URLs that receive a signed JSON POST for:
// - incident.logged: a message pushed an agent to SUSPICIOUS or BLOCKED
// - agent.status_changed: an agent moved between status tiers
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/agentwatch/internal/retry"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventIncidentLogged EventType = "incident.logged"
	EventStatusChanged  EventType = "agent.status_changed"
)

// AllEvents lists every event type a subscription can receive.
var AllEvents = []EventType{EventIncidentLogged, EventStatusChanged}

// Delivery headers.
const (
	HeaderEvent     = "X-Agentwatch-Event"
	HeaderDelivery  = "X-Agentwatch-Delivery"
	HeaderTimestamp = "X-Agentwatch-Timestamp"
	HeaderSignature = "X-Agentwatch-Signature"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrQueueFull            = errors.New("webhook queue full")
)

// Delivery concurrency. Deliveries beyond the queue are dropped and counted.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Event represents a webhook event
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // Used for HMAC signing
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
	Deliveries  int64       `json:"deliveries"`
	Failures    int64       `json:"failures"`
	LastSuccess *time.Time  `json:"last_success,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
}

// Wants reports whether the subscription receives eventType.
func (s *Subscription) Wants(eventType EventType) bool {
	for _, et := range s.Events {
		if et == eventType {
			return true
		}
	}
	return false
}

// Store holds webhook subscriptions and their delivery status.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	RecordResult(ctx context.Context, id string, at time.Time, deliveryErr error) error
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store    Store
	client   *http.Client
	logger   *slog.Logger
	policy   retry.Policy
	validate func(ctx context.Context, rawURL string) error

	ctx    context.Context
	cancel context.CancelFunc

	jobs chan delivery

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup // queued and in-flight deliveries
}

type delivery struct {
	sub     *Subscription
	event   *Event
	payload []byte
}

// NewDispatcher creates a new webhook dispatcher and starts its workers.
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	return newDispatcher(store, logger, DefaultWorkers, DefaultQueueSize)
}

func newDispatcher(store Store, logger *slog.Logger, workers, queueSize int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		policy: retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan delivery, queueSize),
	}
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	for job := range d.jobs {
		d.deliver(job.sub, job.event, job.payload)
		d.wg.Done()
	}
}

// WithHTTPClient replaces the delivery client.
func (d *Dispatcher) WithHTTPClient(c *http.Client) *Dispatcher {
	d.client = c
	return d
}

// WithRetry sets the per-delivery retry policy.
func (d *Dispatcher) WithRetry(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

// WithURLValidator checks each target URL before delivery.
func (d *Dispatcher) WithURLValidator(fn func(ctx context.Context, rawURL string) error) *Dispatcher {
	d.validate = fn
	return d
}

// Dispatch queues an event for every active subscriber. When the queue is
// full the remaining subscribers are skipped and ErrQueueFull is returned.
func (d *Dispatcher) Dispatch(event *Event) error {
	subs, err := d.store.GetByEvent(d.ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		d.wg.Add(1)
		select {
		case d.jobs <- delivery{sub: sub, event: event, payload: payload}:
		default:
			d.wg.Done()
			return ErrQueueFull
		}
	}
	return nil
}

// Stop cancels in-flight deliveries and waits for them to finish or ctx to expire.
// Queued deliveries fail fast against the cancelled context.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all queued deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(sub *Subscription, event *Event, payload []byte) {
	ctx, cancel := context.WithTimeout(d.ctx, 60*time.Second)
	defer cancel()

	start := time.Now()
	var err error
	if d.validate != nil {
		if verr := d.validate(ctx, sub.URL); verr != nil {
			err = fmt.Errorf("target rejected: %w", verr)
		}
	}
	if err == nil {
		err = retry.Do(ctx, d.policy, func(ctx context.Context) error {
			return d.post(ctx, sub, event, payload)
		})
	}

	result := "success"
	if err != nil {
		result = "failure"
		d.logger.Warn("webhook delivery failed",
			"subscription", sub.ID,
			"event", event.Type,
			"event_id", event.ID,
			"error", err,
		)
	}
	deliveriesTotal.WithLabelValues(string(event.Type), result).Inc()
	deliveryDuration.Observe(time.Since(start).Seconds())

	if rerr := d.store.RecordResult(context.Background(), sub.ID, time.Now(), err); rerr != nil {
		d.logger.Warn("failed to record webhook result", "subscription", sub.ID, "error", rerr)
	}
}

// post makes one delivery attempt. Client errors other than 429 are not retried.
func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderDelivery, event.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))

	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryStore is an in-memory, process-lifetime Store. Reads return copies.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	c := *sub
	c.Events = append([]EventType(nil), sub.Events...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = &c
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		c := *sub
		return &c, nil
	}
	return nil, ErrSubscriptionNotFound
}

// List returns all subscriptions ordered by creation time.
func (m *MemoryStore) List(ctx context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	result := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		c := *sub
		result = append(result, &c)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Wants(eventType) {
			c := *sub
			result = append(result, &c)
		}
	}
	return result, nil
}

func (m *MemoryStore) RecordResult(ctx context.Context, id string, at time.Time, deliveryErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Deliveries++
	if deliveryErr != nil {
		sub.Failures++
		sub.LastError = deliveryErr.Error()
		return nil
	}
	sub.LastSuccess = &at
	sub.LastError = ""
	return nil
}
