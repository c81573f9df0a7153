package main

// ---------------------------------------------------------------------------
// cmd_config.go — show, validate, or initialize configuration
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridward-project/gridward/internal/core"
)

func cmdConfig(args []string) {
	if len(args) > 0 {
		switch args[0] {
		case "show":
			cmdConfigShow(args[1:])
			return
		case "init":
			cmdConfigInit(args[1:])
			return
		case "check":
			cmdConfigCheck(args[1:])
			return
		case "reload":
			cmdConfigReload(args[1:])
			return
		}
	}
	cmdHelp("config")
	os.Exit(1)
}

func cmdConfigShow(args []string) {
	fs := flag.NewFlagSet("config-show", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	local := fs.Bool("local", false, "Print the local config file instead of the running instance's")
	timeoutStr := fs.String("timeout", "5s", "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	if *local {
		cfg, err := core.LoadConfig(*configPath)
		if err != nil {
			errorf("loading config: %v", err)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			errorf("encoding config: %v", err)
		}
		os.Stdout.Write(data)
		return
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiGet(base+"/api/v1/config", apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}
	fmt.Fprintln(os.Stdout, string(body))
}

func cmdConfigInit(args []string) {
	fs := flag.NewFlagSet("config-init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path to write")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil && !*force {
		errorf("%s already exists (use --force to overwrite)", *configPath)
	}

	if err := core.SaveConfig(core.DefaultConfig(), *configPath); err != nil {
		errorf("writing config: %v", err)
	}

	fmt.Fprintf(os.Stdout, "%s Starter config written to %s\n", green("✓"), *configPath)
	fmt.Fprintf(os.Stdout, "  %s Generate trust material with: gridward certs anchor\n", dim("▸"))
	fmt.Fprintf(os.Stdout, "  %s Then start the engine with:   gridward up --config %s\n", dim("▸"), *configPath)
}

func cmdConfigReload(args []string) {
	fs := flag.NewFlagSet("config-reload", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	timeoutStr := fs.String("timeout", "10s", "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiPost(base+"/api/v1/config/reload", nil, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	var resp struct {
		Status  string   `json:"status"`
		Changes []string `json:"changes"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	fmt.Fprintf(os.Stdout, "%s Config reloaded\n", green("✓"))
	for _, c := range resp.Changes {
		fmt.Fprintf(os.Stdout, "  %s %s\n", dim("▸"), c)
	}
}

func cmdConfigCheck(args []string) {
	fs := flag.NewFlagSet("config-check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("config invalid: %v", err)
	}

	anchors, err := cfg.TrustAnchorKeys()
	if err != nil {
		errorf("config invalid: %v", err)
	}

	if len(anchors) == 0 {
		warnf("no trust anchors configured — device commands will fail certificate verification")
	}
	for _, path := range cfg.Channel.DeviceCertFiles {
		if _, err := os.Stat(path); err != nil {
			warnf("device cert file %s: %v", path, err)
		}
	}
	if !cfg.AuthEnabled() {
		warnf("no API keys configured — the API is open")
	}

	fmt.Fprintf(os.Stdout, "%s Config valid: %s\n", green("✓"), *configPath)
}
