package main

// ---------------------------------------------------------------------------
// cmd_logs.go — tail the engine's recent log entries
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"
)

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	limit := fs.Int("limit", 50, "Number of entries to fetch")
	level := fs.String("level", "", "Only show entries at or above this level (debug, info, warn, error)")
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	timeoutStr := fs.String("timeout", "5s", "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiGet(fmt.Sprintf("%s/api/v1/logs?limit=%d", base, *limit), apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	if *jsonOut {
		fmt.Println(string(body))
		return
	}

	var resp struct {
		Entries []struct {
			Timestamp time.Time `json:"timestamp"`
			Level     string    `json:"level"`
			Component string    `json:"component"`
			Message   string    `json:"message"`
			Raw       string    `json:"raw"`
		} `json:"entries"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	minRank := levelRank(*level)
	shown := 0
	for _, e := range resp.Entries {
		if minRank > 0 && levelRank(e.Level) < minRank {
			continue
		}
		shown++
		if e.Message == "" && e.Raw != "" {
			fmt.Println(strings.TrimRight(e.Raw, "\n"))
			continue
		}
		comp := e.Component
		if comp == "" {
			comp = "-"
		}
		fmt.Printf("%s %s %s %s\n",
			dim(e.Timestamp.Format("15:04:05")),
			levelColor(e.Level),
			cyan(comp),
			e.Message)
	}
	if shown == 0 {
		fmt.Printf("%s No log entries.\n", dim("▸"))
	}
}

func levelRank(level string) int {
	switch strings.ToLower(level) {
	case "debug":
		return 1
	case "info":
		return 2
	case "warn", "warning":
		return 3
	case "error", "fatal":
		return 4
	default:
		return 0
	}
}

func levelColor(level string) string {
	padded := fmt.Sprintf("%-5s", strings.ToUpper(level))
	switch strings.ToLower(level) {
	case "error", "fatal":
		return red(padded)
	case "warn", "warning":
		return yellow(padded)
	case "debug":
		return dim(padded)
	default:
		return padded
	}
}
