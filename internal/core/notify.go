package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// notify.go — reliable operator notification over webhooks, with exponential
// backoff, dead letter buffer, and circuit breaker.
//
// Control-room teams depend on alert-operators notifications reaching their
// paging stack. A transient 503 from the receiver must not silently drop a
// CRITICAL grid alert.
//
//   - Async delivery queue with configurable concurrency
//   - Exponential backoff: 1s → 2s → 4s → 8s → 16s (max 5 retries)
//   - Dead letter buffer for permanently failed deliveries (queryable via API)
//   - Circuit breaker: if a URL fails 5 times in a row, pause for 60s
// ---------------------------------------------------------------------------

// OperatorAlert is the payload delivered to notification webhooks.
type OperatorAlert struct {
	ThreatID   string                 `json:"threat_id"`
	ThreatType string                 `json:"threat_type"`
	Severity   string                 `json:"severity"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RaisedAt   time.Time              `json:"raised_at"`
}

// WebhookDelivery represents a single webhook delivery attempt.
type WebhookDelivery struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	Alert     OperatorAlert `json:"alert"`
	CreatedAt time.Time     `json:"created_at"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	Status    string        `json:"status"` // "pending", "delivered", "dead_letter"
}

// DeadLetterEntry is a failed delivery preserved for inspection.
type DeadLetterEntry struct {
	Delivery  WebhookDelivery `json:"delivery"`
	FailedAt  time.Time       `json:"failed_at"`
	LastError string          `json:"last_error"`
}

// NotifierConfig controls webhook delivery behavior.
type NotifierConfig struct {
	WebhookURLs    []string
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	QueueSize      int
	Workers        int
	CircuitBreaker int
	CircuitPause   time.Duration
}

// DefaultNotifierConfig returns sane defaults.
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		QueueSize:      1000,
		Workers:        4,
		CircuitBreaker: 5,
		CircuitPause:   60 * time.Second,
	}
}

// WebhookNotifier delivers operator alerts to the configured webhook URLs.
type WebhookNotifier struct {
	logger     zerolog.Logger
	cfg        NotifierConfig
	urlMu      sync.RWMutex
	urls       []string
	queue      chan *WebhookDelivery
	deadLetter []*DeadLetterEntry
	dlMu       sync.RWMutex
	maxDL      int

	// Circuit breaker state per URL
	cbMu       sync.Mutex
	cbFailures map[string]int
	cbOpenedAt map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhookNotifier creates a notifier with background delivery workers.
func NewWebhookNotifier(logger zerolog.Logger, cfg NotifierConfig) *WebhookNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &WebhookNotifier{
		logger:     logger.With().Str("component", "notifier").Logger(),
		cfg:        cfg,
		urls:       cfg.WebhookURLs,
		queue:      make(chan *WebhookDelivery, cfg.QueueSize),
		deadLetter: make([]*DeadLetterEntry, 0, 100),
		maxDL:      500,
		cbFailures: make(map[string]int),
		cbOpenedAt: make(map[string]time.Time),
		ctx:        ctx,
		cancel:     cancel,
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	n.logger.Info().Int("workers", workers).Int("urls", len(cfg.WebhookURLs)).Msg("webhook notifier started")
	return n
}

// Notify fans the alert out to every configured webhook URL. Returns
// immediately; delivery happens in the background with retries.
func (n *WebhookNotifier) Notify(alert OperatorAlert) {
	n.urlMu.RLock()
	urls := n.urls
	n.urlMu.RUnlock()
	for _, url := range urls {
		n.enqueue(url, alert)
	}
}

// SetWebhookURLs replaces the delivery URL set. In-flight deliveries to
// removed URLs run to completion.
func (n *WebhookNotifier) SetWebhookURLs(urls []string) {
	n.urlMu.Lock()
	n.urls = urls
	n.urlMu.Unlock()
}

func (n *WebhookNotifier) enqueue(url string, alert OperatorAlert) {
	delivery := &WebhookDelivery{
		ID:        uuid.New().String(),
		URL:       url,
		Alert:     alert,
		CreatedAt: time.Now().UTC(),
		Status:    "pending",
	}

	select {
	case n.queue <- delivery:
		n.logger.Debug().Str("id", delivery.ID).Str("url", url).Msg("alert enqueued")
	default:
		n.logger.Warn().Str("url", url).Msg("notification queue full — delivery dropped")
		n.addDeadLetter(delivery, "queue full — delivery dropped")
	}
}

// DeadLetters returns failed deliveries for inspection, newest last.
func (n *WebhookNotifier) DeadLetters(limit int) []*DeadLetterEntry {
	n.dlMu.RLock()
	defer n.dlMu.RUnlock()

	if limit <= 0 || limit > len(n.deadLetter) {
		limit = len(n.deadLetter)
	}
	result := make([]*DeadLetterEntry, 0, limit)
	start := len(n.deadLetter) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(n.deadLetter); i++ {
		result = append(result, n.deadLetter[i])
	}
	return result
}

// RetryDeadLetter re-enqueues a dead letter entry by delivery ID.
func (n *WebhookNotifier) RetryDeadLetter(id string) bool {
	n.dlMu.Lock()
	defer n.dlMu.Unlock()

	for i, dl := range n.deadLetter {
		if dl.Delivery.ID == id {
			dl.Delivery.Attempts = 0
			dl.Delivery.Status = "pending"
			dl.Delivery.LastError = ""
			select {
			case n.queue <- &dl.Delivery:
				n.deadLetter = append(n.deadLetter[:i], n.deadLetter[i+1:]...)
				return true
			default:
				return false
			}
		}
	}
	return false
}

// Stats returns notifier statistics.
func (n *WebhookNotifier) Stats() map[string]interface{} {
	n.dlMu.RLock()
	dlCount := len(n.deadLetter)
	n.dlMu.RUnlock()

	n.cbMu.Lock()
	openCircuits := 0
	for url, openedAt := range n.cbOpenedAt {
		if time.Since(openedAt) < n.cfg.CircuitPause {
			openCircuits++
		} else {
			delete(n.cbOpenedAt, url)
			delete(n.cbFailures, url)
		}
	}
	n.cbMu.Unlock()

	n.urlMu.RLock()
	urlCount := len(n.urls)
	n.urlMu.RUnlock()

	return map[string]interface{}{
		"urls":           urlCount,
		"queue_depth":    len(n.queue),
		"queue_capacity": n.cfg.QueueSize,
		"dead_letters":   dlCount,
		"open_circuits":  openCircuits,
		"max_retries":    n.cfg.MaxRetries,
	}
}

// Stop shuts down the notifier.
func (n *WebhookNotifier) Stop() {
	n.cancel()
	n.wg.Wait()
	n.logger.Info().Int("dead_letters", len(n.deadLetter)).Msg("webhook notifier stopped")
}

func (n *WebhookNotifier) worker() {
	defer n.wg.Done()
	client := &http.Client{Timeout: 15 * time.Second}

	for {
		select {
		case <-n.ctx.Done():
			return
		case delivery, ok := <-n.queue:
			if !ok {
				return
			}
			n.deliver(client, delivery)
		}
	}
}

func (n *WebhookNotifier) deliver(client *http.Client, delivery *WebhookDelivery) {
	if n.isCircuitOpen(delivery.URL) {
		n.logger.Warn().Str("url", delivery.URL).Msg("circuit breaker open — skipping delivery")
		n.addDeadLetter(delivery, "circuit breaker open for URL")
		return
	}

	data, err := json.Marshal(delivery.Alert)
	if err != nil {
		delivery.LastError = fmt.Sprintf("marshal error: %v", err)
		n.addDeadLetter(delivery, delivery.LastError)
		return
	}

	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		delivery.Attempts = attempt + 1

		req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, delivery.URL, bytes.NewReader(data))
		if err != nil {
			delivery.LastError = fmt.Sprintf("request creation error: %v", err)
			n.addDeadLetter(delivery, delivery.LastError)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "gridward-notifier/1.0")
		req.Header.Set("X-Gridward-Delivery-ID", delivery.ID)
		req.Header.Set("X-Gridward-Attempt", fmt.Sprintf("%d", delivery.Attempts))

		resp, err := client.Do(req)
		if err != nil {
			delivery.LastError = fmt.Sprintf("request failed: %v", err)
			n.recordFailure(delivery.URL)
			if attempt < n.cfg.MaxRetries {
				n.backoff(attempt)
				continue
			}
			n.addDeadLetter(delivery, delivery.LastError)
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			delivery.Status = "delivered"
			n.recordSuccess(delivery.URL)
			n.logger.Debug().
				Str("id", delivery.ID).
				Str("url", delivery.URL).
				Int("attempts", delivery.Attempts).
				Int("status", resp.StatusCode).
				Msg("alert delivered")
			return
		}

		// Retry on 5xx and 429, dead-letter on other 4xx
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
			delivery.LastError = fmt.Sprintf("client error: HTTP %d", resp.StatusCode)
			n.addDeadLetter(delivery, delivery.LastError)
			return
		}

		delivery.LastError = fmt.Sprintf("server error: HTTP %d", resp.StatusCode)
		n.recordFailure(delivery.URL)
		if attempt < n.cfg.MaxRetries {
			n.backoff(attempt)
		}
	}

	n.addDeadLetter(delivery, delivery.LastError)
}

func (n *WebhookNotifier) backoff(attempt int) {
	delay := time.Duration(float64(n.cfg.InitialBackoff) * math.Pow(2, float64(attempt)))
	if delay > n.cfg.MaxBackoff {
		delay = n.cfg.MaxBackoff
	}
	select {
	case <-time.After(delay):
	case <-n.ctx.Done():
	}
}

func (n *WebhookNotifier) addDeadLetter(delivery *WebhookDelivery, reason string) {
	delivery.Status = "dead_letter"
	n.dlMu.Lock()
	if len(n.deadLetter) >= n.maxDL {
		n.deadLetter = n.deadLetter[n.maxDL/10:]
	}
	n.deadLetter = append(n.deadLetter, &DeadLetterEntry{
		Delivery:  *delivery,
		FailedAt:  time.Now().UTC(),
		LastError: reason,
	})
	n.dlMu.Unlock()
	n.logger.Warn().
		Str("id", delivery.ID).
		Str("url", delivery.URL).
		Int("attempts", delivery.Attempts).
		Str("error", reason).
		Msg("alert moved to dead letter")
}

func (n *WebhookNotifier) isCircuitOpen(url string) bool {
	n.cbMu.Lock()
	defer n.cbMu.Unlock()
	if openedAt, ok := n.cbOpenedAt[url]; ok {
		if time.Since(openedAt) < n.cfg.CircuitPause {
			return true
		}
		// Circuit half-open — allow retry
		delete(n.cbOpenedAt, url)
		n.cbFailures[url] = 0
	}
	return false
}

func (n *WebhookNotifier) recordFailure(url string) {
	n.cbMu.Lock()
	defer n.cbMu.Unlock()
	n.cbFailures[url]++
	if n.cbFailures[url] >= n.cfg.CircuitBreaker {
		n.cbOpenedAt[url] = time.Now()
		n.logger.Warn().Str("url", url).Int("failures", n.cbFailures[url]).Msg("circuit breaker opened for webhook URL")
	}
}

func (n *WebhookNotifier) recordSuccess(url string) {
	n.cbMu.Lock()
	defer n.cbMu.Unlock()
	n.cbFailures[url] = 0
	delete(n.cbOpenedAt, url)
}
