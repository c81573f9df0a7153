package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/gridward-project/gridward/internal/store"
)

// EventBus wraps NATS JetStream for threat ingestion and audit publishing.
// Threats and audit records ride durable streams; control events and
// request/reply to the control plane use core NATS, they are ephemeral by
// nature.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	metrics *BusMetrics
}

// BusMetrics tracks event bus performance counters.
type BusMetrics struct {
	mu               sync.Mutex `json:"-"`
	ThreatsPublished int64      `json:"threats_published"`
	PublishFailed    int64      `json:"publish_failed"`
	AuditPublished   int64      `json:"audit_published"`
	MessagesAcked    int64      `json:"messages_acked"`
	MessagesNaked    int64      `json:"messages_naked"`
}

// NewEventBus creates a new EventBus. If cfg.Embedded is true, it starts an
// embedded NATS server.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger:  logger.With().Str("component", "event_bus").Logger(),
		subs:    make([]*nats.Subscription, 0),
		metrics: &BusMetrics{},
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}

		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	}

	url := cfg.URL
	if cfg.Embedded {
		url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.Port)
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	// Create or update the threat ingestion stream. AddStream returns the
	// existing stream if config matches; if it exists with a different config
	// (e.g. after a version upgrade), we update it.
	threatsStreamCfg := &nats.StreamConfig{
		Name:      "GRID_THREATS",
		Subjects:  []string{"grid.threats.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour * 7, // 7 days retention
		MaxBytes:  1024 * 1024 * 1024, // 1GB max
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	_, err = js.AddStream(threatsStreamCfg)
	if err != nil {
		if _, updateErr := js.UpdateStream(threatsStreamCfg); updateErr != nil {
			return nil, fmt.Errorf("creating/updating threats stream: %w (original: %v)", updateErr, err)
		}
	}

	// Create or update the response audit stream.
	auditStreamCfg := &nats.StreamConfig{
		Name:      "GRID_AUDIT",
		Subjects:  []string{"grid.audit.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour * 30, // 30 days retention
		MaxBytes:  512 * 1024 * 1024,   // 512MB max
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	_, err = js.AddStream(auditStreamCfg)
	if err != nil {
		if _, updateErr := js.UpdateStream(auditStreamCfg); updateErr != nil {
			return nil, fmt.Errorf("creating/updating audit stream: %w (original: %v)", updateErr, err)
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// PublishThreat publishes a threat event to the threat stream.
func (b *EventBus) PublishThreat(event *ThreatEvent) error {
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling threat: %w", err)
	}

	subject := fmt.Sprintf("grid.threats.%s.%s", event.Type, event.Severity)
	_, err = b.js.Publish(subject, data)
	if err != nil {
		b.metrics.mu.Lock()
		b.metrics.PublishFailed++
		b.metrics.mu.Unlock()
		return fmt.Errorf("publishing threat to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.ThreatsPublished++
	b.metrics.mu.Unlock()

	b.logger.Debug().
		Str("threat_id", event.ID).
		Str("subject", subject).
		Str("severity", event.Severity.String()).
		Msg("threat published")

	return nil
}

// PublishAuditRecord publishes a terminal response record to the audit stream.
func (b *EventBus) PublishAuditRecord(rec *store.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	subject := fmt.Sprintf("grid.audit.responses.%s", rec.ActionName)
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing audit record to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.AuditPublished++
	b.metrics.mu.Unlock()

	return nil
}

// PublishControl emits an ephemeral control event over core NATS.
func (b *EventBus) PublishControl(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling control event: %w", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing control event to %s: %w", subject, err)
	}
	return nil
}

// Request performs a core NATS request/reply against the control plane.
func (b *EventBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := b.nc.RequestWithContext(rctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Subscribe creates a durable subscription to a subject pattern.
func (b *EventBus) Subscribe(subject, durableName string, handler func(msg *nats.Msg)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Str("durable", durableName).Msg("subscribed")
	return nil
}

// SubscribeToThreats subscribes to all inbound threats with a durable consumer.
func (b *EventBus) SubscribeToThreats(handler func(event *ThreatEvent)) error {
	return b.Subscribe("grid.threats.>", "gridward-engine-threats", func(msg *nats.Msg) {
		event, err := UnmarshalThreatEvent(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to unmarshal threat")
			_ = msg.Nak()
			b.metrics.mu.Lock()
			b.metrics.MessagesNaked++
			b.metrics.mu.Unlock()
			return
		}
		handler(event)
		_ = msg.Ack()
		b.metrics.mu.Lock()
		b.metrics.MessagesAcked++
		b.metrics.mu.Unlock()
	})
}

// Close shuts down the event bus.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}

	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.logger.Info().Msg("embedded NATS server stopped")
	}

	return nil
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// GetMetrics returns a snapshot of bus metrics.
func (b *EventBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"threats_published": b.metrics.ThreatsPublished,
		"publish_failed":    b.metrics.PublishFailed,
		"audit_published":   b.metrics.AuditPublished,
		"messages_acked":    b.metrics.MessagesAcked,
		"messages_naked":    b.metrics.MessagesNaked,
	}
}
