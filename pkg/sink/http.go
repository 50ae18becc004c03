package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/suggest"
)

// Paths of the time detection authority's endpoints.
const (
	TimePath     = "/v1/time"
	TimeZonePath = "/v1/timezone"
)

// HTTP posts suggestions as JSON to the time detection authority.
//
// SuggestDeviceTime and SuggestDeviceTimeZone only queue the suggestion;
// Run delivers the queue in order. A queued suggestion is replaced by a
// newer one for the same slot and kind, and suggestions arriving while the
// queue is full are dropped. Failed deliveries are logged and dropped.
type HTTP struct {
	logger    *slog.Logger
	client    *http.Client
	wake      chan struct{}
	pending   map[queueKey]any
	base      string
	order     []queueKey
	timeout   time.Duration
	delay     time.Duration
	attempts  uint
	queueSize int
	dropped   int
	mu        sync.Mutex
}

type queueKey struct {
	path string
	slot int
}

// HTTPOption configures an HTTP sink.
type HTTPOption func(*HTTP)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = c
	}
}

// WithTimeout bounds one delivery including retries.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.timeout = d
	}
}

// WithRetry sets the attempt budget and the initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.attempts = attempts
		h.delay = delay
	}
}

// WithQueue sets how many suggestions may wait for delivery.
func WithQueue(size int) HTTPOption {
	return func(h *HTTP) {
		h.queueSize = size
	}
}

// NewHTTP creates a sink posting to baseURL. Nothing is posted until Run
// is started.
func NewHTTP(baseURL string, logger *slog.Logger, opts ...HTTPOption) (*HTTP, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing sink url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("sink url %q must be an absolute http(s) url", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &HTTP{
		logger:    logger,
		client:    &http.Client{Timeout: 5 * time.Second},
		base:      strings.TrimSuffix(baseURL, "/"),
		timeout:   30 * time.Second,
		delay:     200 * time.Millisecond,
		attempts:  5,
		queueSize: 64,
		wake:      make(chan struct{}, 1),
		pending:   make(map[queueKey]any),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.queueSize < 1 {
		h.queueSize = 1
	}
	return h, nil
}

// SuggestDeviceTime queues a time suggestion.
func (h *HTTP) SuggestDeviceTime(s suggest.TimeSuggestion) {
	h.enqueue(queueKey{path: TimePath, slot: s.SlotIndex}, s)
}

// SuggestDeviceTimeZone queues a time zone suggestion.
func (h *HTTP) SuggestDeviceTimeZone(s suggest.TimeZoneSuggestion) {
	h.enqueue(queueKey{path: TimeZonePath, slot: s.SlotIndex}, s)
}

func (h *HTTP) enqueue(key queueKey, v any) {
	h.mu.Lock()
	if _, queued := h.pending[key]; queued {
		h.pending[key] = v
		h.mu.Unlock()
		h.logger.Debug("replaced queued suggestion", "slot", key.slot, "path", key.path)
		return
	}
	if len(h.order) >= h.queueSize {
		h.dropped++
		h.mu.Unlock()
		h.logger.Warn("suggestion queue full, dropping suggestion", "slot", key.slot, "path", key.path)
		return
	}
	h.pending[key] = v
	h.order = append(h.order, key)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest queued suggestion.
func (h *HTTP) next() (queueKey, any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.order) == 0 {
		return queueKey{}, nil, false
	}
	key := h.order[0]
	h.order = h.order[1:]
	v := h.pending[key]
	delete(h.pending, key)
	return key, v, true
}

// Queued returns the number of suggestions waiting for delivery.
func (h *HTTP) Queued() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// Dropped returns the number of suggestions dropped on a full queue.
func (h *HTTP) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Run delivers queued suggestions until ctx ends. Suggestions still queued
// then are abandoned.
func (h *HTTP) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			if n := h.Queued(); n > 0 {
				h.logger.Warn("abandoning queued suggestions", "count", n)
			}
			return nil
		}
		key, v, ok := h.next()
		if !ok {
			select {
			case <-ctx.Done():
			case <-h.wake:
			}
			continue
		}
		h.send(ctx, key, v)
	}
}

func (h *HTTP) send(ctx context.Context, key queueKey, v any) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.Deliver(ctx, key.path, v); err != nil {
		h.logger.Error("suggestion delivery failed", "slot", key.slot, "path", key.path, "error", err)
	}
}

// errStatus is a non-success response from the authority.
type errStatus struct {
	body string
	code int
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// Deliver posts v as JSON to path, retrying network errors, 429 and 5xx
// with exponential backoff and jitter.
func (h *HTTP) Deliver(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding suggestion: %w", err)
	}
	target := h.base + path
	start := time.Now()

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := h.client.Do(req)
			if err != nil {
				h.logger.Warn("suggestion post failed", "url", target, "error", err)
				return err
			}
			defer func() { _ = resp.Body.Close() }() //nolint:errcheck // best effort
			if resp.StatusCode < 300 {
				_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for reuse
				return nil
			}
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // diagnostic only
			return &errStatus{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
		},
		retry.Context(ctx),
		retry.Attempts(h.attempts),
		retry.Delay(h.delay),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(h.delay),
		retry.OnRetry(func(n uint, err error) {
			h.logger.Info("retrying suggestion post", "url", target, "attempt", n+1, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var se *errStatus
			if errors.As(err, &se) {
				return se.code == http.StatusTooManyRequests || se.code >= 500
			}
			return true
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", target, err)
	}
	h.logger.Debug("suggestion delivered", "url", target, "duration", time.Since(start))
	return nil
}
