package main

// ---------------------------------------------------------------------------
// cmd_up.go — start the response engine and API server
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridward-project/gridward/internal/api"
	"github.com/gridward-project/gridward/internal/core"
)

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Override log level (debug, info, warn, error)")
	dryRun := fs.Bool("dry-run", false, "Validate config and exit")
	quiet := fs.Bool("quiet", false, "Suppress startup output")
	noBanner := fs.Bool("no-banner", false, "Skip the ASCII banner")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if *dryRun {
		anchors, err := cfg.TrustAnchorKeys()
		if err != nil {
			errorf("config invalid: %v", err)
		}
		fmt.Fprintf(os.Stdout, "%s Config valid. %d trust anchor(s), %d device cert file(s), control mode %q.\n",
			green("✓"), len(anchors), len(cfg.Channel.DeviceCertFiles), cfg.Control.Mode)
		os.Exit(0)
	}

	if !*quiet && !*noBanner {
		fmt.Fprint(os.Stderr, bannerText())
	}

	engine, err := core.NewEngine(cfg)
	if err != nil {
		errorf("creating engine: %v", err)
	}
	engine.SetConfigPath(*configPath)

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s Starting gridward engine...\n", dim("▸"))
	}

	if err := engine.Start(); err != nil {
		errorf("starting engine: %v", err)
	}

	srv := api.NewServer(engine)
	if err := srv.Start(); err != nil {
		errorf("starting API server: %v", err)
	}

	if !*quiet {
		emergencyStatus := ""
		if engine.Emergency.Active() {
			emergencyStatus = fmt.Sprintf(", emergency %s", red("ACTIVE"))
		}
		fmt.Fprintf(os.Stderr, "%s gridward running — %d actions registered, %d device cert(s), API on :%d%s\n",
			green("✓"), engine.Catalog.Len(), engine.Devices.Count(), cfg.Server.Port, emergencyStatus)
		fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop\n", dim("▸"))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	if !*quiet {
		fmt.Fprintf(os.Stderr, "\n%s Received %s, shutting down...\n", dim("▸"), sig)
	}

	srv.Stop()
	engine.Shutdown()

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s gridward stopped.\n", green("✓"))
	}
}
