package core

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// ReloadConfig reloads the configuration from disk and applies changes that
// can be hot-reloaded without restarting the engine. Returns a list of what
// changed.
//
// Hot-reloadable settings:
//   - logging level
//   - API keys and CORS origins
//   - notification webhook URLs
//   - device certificate files (new certs are loaded; existing stay)
//
// NOT hot-reloadable (require restart):
//   - bus config (NATS URL, port, data dir)
//   - server host/port
//   - store path, trust anchors, control-plane mode
func ReloadConfig(engine *Engine, configPath string, logger zerolog.Logger) ([]string, error) {
	if configPath == "" {
		return nil, fmt.Errorf("no config path set — cannot reload")
	}

	// LoadConfig falls back to defaults when the file is absent, which is
	// fine at boot but wrong here: a reload against a vanished file must not
	// wipe API keys and webhook URLs. Fail instead.
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}

	newCfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var changes []string

	if newCfg.LogLevel() != engine.Config.LogLevel() {
		engine.Config.Logging.Level = newCfg.Logging.Level
		if lvl, err := zerolog.ParseLevel(newCfg.LogLevel()); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
		changes = append(changes, "logging.level → "+newCfg.LogLevel())
	}

	// API keys and CORS origins apply on the next request (allows rotating
	// keys without restart).
	if len(newCfg.Server.APIKeys) != len(engine.Config.Server.APIKeys) {
		changes = append(changes, fmt.Sprintf("server.api_keys → %d keys", len(newCfg.Server.APIKeys)))
	}
	engine.Config.Server.APIKeys = newCfg.Server.APIKeys
	engine.Config.Server.CORSOrigins = newCfg.Server.CORSOrigins

	if len(newCfg.Notify.WebhookURLs) != len(engine.Config.Notify.WebhookURLs) {
		changes = append(changes, fmt.Sprintf("notify.webhook_urls → %d URLs", len(newCfg.Notify.WebhookURLs)))
	}
	engine.Config.Notify.WebhookURLs = newCfg.Notify.WebhookURLs
	if engine.Notifier != nil {
		engine.Notifier.SetWebhookURLs(newCfg.Notify.WebhookURLs)
	}

	// Load any newly listed device certificates. Certificates already in the
	// registry are left alone; removal requires a restart.
	before := engine.Devices.Count()
	for _, path := range newCfg.Channel.DeviceCertFiles {
		if err := engine.Devices.LoadCertificateFile(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("skipping device certificate")
		}
	}
	engine.Config.Channel.DeviceCertFiles = newCfg.Channel.DeviceCertFiles
	if added := engine.Devices.Count() - before; added > 0 {
		changes = append(changes, fmt.Sprintf("%d device certificate(s) loaded", added))
	}

	if len(changes) == 0 {
		changes = append(changes, "no changes detected")
	}

	logger.Info().Strs("changes", changes).Msg("configuration reloaded")
	return changes, nil
}
