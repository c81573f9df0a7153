package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/gridward-project/gridward/internal/securechannel"
	"github.com/gridward-project/gridward/internal/store"
)

// Engine is the main gridward engine that wires all components together:
// threat ingestion off the bus, the response orchestrator, the manual
// approval queue, the secure device channel, and the audit trail.
type Engine struct {
	Config       *Config
	Bus          *EventBus
	Store        *store.Store
	Channel      *securechannel.Channel
	Devices      *DeviceRegistry
	Catalog      *ActionCatalog
	Metrics      *Metrics
	Emergency    *EmergencyState
	Approvals    *ApprovalQueue
	Orchestrator *Orchestrator
	Control      ControlPlane
	Notifier     *WebhookNotifier
	Registry     *prometheus.Registry
	LogBuffer    *LogRingBuffer
	Logger       zerolog.Logger

	audit      *StoreAuditSink
	dedup      *ThreatDedup
	stopDedup  func()
	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewEngine creates a new gridward engine.
func NewEngine(cfg *Config) (*Engine, error) {
	// Configure logger. The ring buffer captures recent output for the
	// /api/v1/logs endpoint regardless of format.
	logBuffer := NewLogRingBuffer(1000)
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(logBuffer.MultiWriter(os.Stdout)).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(logBuffer.MultiWriter(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	anchors, err := cfg.TrustAnchorKeys()
	if err != nil {
		return nil, fmt.Errorf("loading trust anchors: %w", err)
	}
	trust := securechannel.NewTrustStore(anchors...)
	channel := securechannel.NewChannel(logger, trust, time.Duration(cfg.Channel.SessionIdleMinutes)*time.Minute)

	devices := NewDeviceRegistry()
	for _, path := range cfg.Channel.DeviceCertFiles {
		if err := devices.LoadCertificateFile(path); err != nil {
			return nil, fmt.Errorf("loading device certificate %s: %w", path, err)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	emergency := NewEmergencyState(logger)
	approvals := NewApprovalQueue(logger,
		time.Duration(cfg.Approval.TTLMinutes)*time.Minute,
		cfg.Approval.MaxPending)

	audit := NewStoreAuditSink(st, nil, logger)
	catalog := NewActionCatalog()
	orchestrator := NewOrchestrator(logger, catalog, metrics, emergency, approvals, audit, cfg.OrchestratorConfig())

	// Mirror approval decisions into the store for the audit trail.
	approvals.SetPersistFunc(func(pa *PendingApproval) {
		dec := &store.ApprovalDecision{
			ID:         pa.ID,
			ThreatID:   pa.Event.ID,
			ActionName: pa.ActionName,
			Status:     pa.Status,
			DecidedBy:  pa.DecidedBy,
			CreatedAt:  pa.CreatedAt,
			DecidedAt:  pa.DecidedAt,
		}
		if err := st.UpsertApproval(dec); err != nil {
			logger.Error().Err(err).Str("approval_id", pa.ID).Msg("approval persist failed")
		}
	})

	notifier := NewWebhookNotifier(logger, cfg.NotifierConfig())

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		Config:       cfg,
		Store:        st,
		Channel:      channel,
		Devices:      devices,
		Catalog:      catalog,
		Metrics:      metrics,
		Emergency:    emergency,
		Approvals:    approvals,
		Orchestrator: orchestrator,
		Notifier:     notifier,
		Registry:     registry,
		LogBuffer:    logBuffer,
		Logger:       logger.With().Str("component", "engine").Logger(),
		audit:        audit,
		dedup:        NewThreatDedup(cfg.DedupTTL(), 0),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// SetConfigPath records where the config was loaded from, enabling hot reload.
func (e *Engine) SetConfigPath(path string) {
	e.configPath = path
}

// Reload re-reads the config file and applies hot-reloadable settings.
func (e *Engine) Reload() ([]string, error) {
	return ReloadConfig(e, e.configPath, e.Logger)
}

// Start brings up the event bus, registers the response actions against the
// selected control plane, validates the policy, and begins consuming threats.
func (e *Engine) Start() error {
	e.Logger.Info().Msg("starting gridward engine")

	bus, err := NewEventBus(&e.Config.Bus, e.Logger)
	if err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	e.Bus = bus
	e.audit.AttachBus(bus)

	switch e.Config.Control.Mode {
	case "nats":
		e.Control = NewNATSControlPlane(bus, e.Logger, time.Duration(e.Config.Control.TimeoutSeconds)*time.Second)
	default:
		e.Control = NewLogControlPlane(e.Logger)
	}

	if err := RegisterBuiltinActions(e.Catalog, ActionDeps{
		Logger:   e.Logger,
		Control:  e.Control,
		Channel:  e.Channel,
		Devices:  e.Devices,
		Store:    e.Store,
		Bus:      bus,
		Notifier: e.Notifier,
	}); err != nil {
		return fmt.Errorf("registering response actions: %w", err)
	}

	// A policy that names an unregistered action must never reach runtime.
	if err := ValidatePolicy(e.Catalog); err != nil {
		return fmt.Errorf("validating response policy: %w", err)
	}

	e.Orchestrator.Start()
	e.stopDedup = e.dedup.StartCleanup(time.Minute)

	if err := bus.SubscribeToThreats(func(event *ThreatEvent) {
		if e.dedup.IsDuplicate(event) {
			e.Logger.Debug().Str("threat_id", event.ID).Str("type", string(event.Type)).Msg("duplicate threat suppressed")
			return
		}
		go e.Orchestrator.HandleThreat(event)
	}); err != nil {
		return fmt.Errorf("subscribing to threats: %w", err)
	}

	e.Logger.Info().
		Int("actions", e.Catalog.Len()).
		Int("devices", e.Devices.Count()).
		Str("control_mode", e.Config.Control.Mode).
		Msg("gridward engine started")

	return nil
}

// Run starts the engine and blocks until shutdown signal is received.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.ctx.Done():
		e.Logger.Info().Msg("context cancelled")
	}

	return e.Shutdown()
}

// Shutdown gracefully stops the engine.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down gridward engine")
	e.cancel()

	e.Orchestrator.Stop()
	e.Approvals.Stop()
	if e.stopDedup != nil {
		e.stopDedup()
	}
	e.Notifier.Stop()
	e.Channel.Close()

	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing event bus")
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing store")
		}
	}

	e.Logger.Info().Msg("gridward engine stopped")
	return nil
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}
