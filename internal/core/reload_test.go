package core

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func reloadEngine(cfg *Config) *Engine {
	return &Engine{
		Config:  cfg,
		Devices: NewDeviceRegistry(),
		Logger:  zerolog.Nop(),
	}
}

func writeReloadConfig(t *testing.T, cfg *Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gridward.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	return path
}

// ─── ReloadConfig ───────────────────────────────────────────────────────────

func TestReloadConfig_NoPath_Errors(t *testing.T) {
	engine := reloadEngine(DefaultConfig())
	if _, err := ReloadConfig(engine, "", zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty config path")
	}
}

func TestReloadConfig_MissingFile_Errors(t *testing.T) {
	engine := reloadEngine(DefaultConfig())
	if _, err := ReloadConfig(engine, filepath.Join(t.TempDir(), "nope.yaml"), zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestReloadConfig_MissingFile_PreservesState(t *testing.T) {
	running := DefaultConfig()
	running.Server.APIKeys = []string{"live-key"}
	running.Notify.WebhookURLs = []string{"http://hook.local"}
	engine := reloadEngine(running)

	if _, err := ReloadConfig(engine, filepath.Join(t.TempDir(), "gone.yaml"), zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing config file")
	}
	if len(engine.Config.Server.APIKeys) != 1 || len(engine.Config.Notify.WebhookURLs) != 1 {
		t.Errorf("failed reload must not alter config: keys=%v urls=%v",
			engine.Config.Server.APIKeys, engine.Config.Notify.WebhookURLs)
	}
}

func TestReloadConfig_NoChanges_ReportsNone(t *testing.T) {
	cfg := DefaultConfig()
	path := writeReloadConfig(t, cfg)
	engine := reloadEngine(cfg)

	changes, err := ReloadConfig(engine, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	if len(changes) != 1 || changes[0] != "no changes detected" {
		t.Fatalf("changes = %v, want [no changes detected]", changes)
	}
}

func TestReloadConfig_LogLevelChange_Applied(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	newCfg := DefaultConfig()
	newCfg.Logging.Level = "warn"
	path := writeReloadConfig(t, newCfg)

	running := DefaultConfig()
	running.Logging.Level = "debug"
	engine := reloadEngine(running)

	changes, err := ReloadConfig(engine, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	if engine.Config.Logging.Level != "warn" {
		t.Errorf("engine log level = %q, want warn", engine.Config.Logging.Level)
	}
	if len(changes) == 0 {
		t.Fatal("expected a recorded change")
	}
}

func TestReloadConfig_APIKeys_Rotated(t *testing.T) {
	newCfg := DefaultConfig()
	newCfg.Server.APIKeys = []string{"new-key-1", "new-key-2"}
	path := writeReloadConfig(t, newCfg)

	running := DefaultConfig()
	running.Server.APIKeys = []string{"old-key"}
	engine := reloadEngine(running)

	if _, err := ReloadConfig(engine, path, zerolog.Nop()); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	if len(engine.Config.Server.APIKeys) != 2 || engine.Config.Server.APIKeys[0] != "new-key-1" {
		t.Errorf("api keys = %v, want the rotated pair", engine.Config.Server.APIKeys)
	}
}

func TestReloadConfig_WebhookURLs_PushedToNotifier(t *testing.T) {
	newCfg := DefaultConfig()
	newCfg.Notify.WebhookURLs = []string{"http://hook-a.local", "http://hook-b.local"}
	path := writeReloadConfig(t, newCfg)

	engine := reloadEngine(DefaultConfig())
	engine.Notifier = NewWebhookNotifier(zerolog.Nop(), DefaultNotifierConfig())
	defer engine.Notifier.Stop()

	if _, err := ReloadConfig(engine, path, zerolog.Nop()); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}

	stats := engine.Notifier.Stats()
	if got := stats["urls"].(int); got != 2 {
		t.Errorf("notifier urls = %d, want 2", got)
	}
}
