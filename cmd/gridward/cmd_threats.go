package main

// ---------------------------------------------------------------------------
// cmd_threats.go — inject threat events and inspect their responses
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func cmdThreats(args []string) {
	if len(args) > 0 {
		switch args[0] {
		case "inject":
			cmdThreatsInject(args[1:])
			return
		case "responses":
			cmdThreatsResponses(args[1:])
			return
		}
	}
	cmdHelp("threats")
	os.Exit(1)
}

// detailFlags collects repeated --detail k=v pairs.
type detailFlags map[string]string

func (d detailFlags) String() string { return "" }

func (d detailFlags) Set(v string) error {
	key, val, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	d[key] = val
	return nil
}

func cmdThreatsInject(args []string) {
	fs := flag.NewFlagSet("threats-inject", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	threatType := fs.String("type", "", "Threat type (required), e.g. modbus_flooding")
	severity := fs.String("severity", "MEDIUM", "Severity: LOW, MEDIUM, HIGH, CRITICAL")
	source := fs.String("source", "", "Attacker source address detail")
	device := fs.String("device", "", "Target device identifier detail")
	account := fs.String("account", "", "Account identifier detail")
	eventID := fs.String("id", "", "Event ID (generated if empty)")
	timeoutStr := fs.String("timeout", "5s", "Request timeout")
	details := detailFlags{}
	fs.Var(details, "detail", "Extra detail pair key=value (repeatable)")
	fs.Parse(args)

	if *threatType == "" {
		errorf("--type is required (e.g. --type modbus_flooding)")
	}

	*configPath = envConfig(*configPath)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	detailMap := map[string]interface{}{}
	for k, v := range details {
		detailMap[k] = v
	}
	if *source != "" {
		detailMap["source_address"] = *source
	}
	if *device != "" {
		detailMap["device_id"] = *device
	}
	if *account != "" {
		detailMap["account_id"] = *account
	}

	event := map[string]interface{}{
		"type":        *threatType,
		"severity":    strings.ToUpper(*severity),
		"detected_at": time.Now().UTC(),
	}
	if *eventID != "" {
		event["id"] = *eventID
	}
	if len(detailMap) > 0 {
		event["details"] = detailMap
	}

	payload, err := json.Marshal(event)
	if err != nil {
		errorf("encoding event: %v", err)
	}

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiPost(base+"/api/v1/threats", payload, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	fmt.Fprintf(os.Stdout, "%s Threat accepted: %s (%s %s)\n",
		green("✓"), cyan(fmt.Sprintf("%v", resp["threat_id"])), *threatType, strings.ToUpper(*severity))
	fmt.Fprintf(os.Stdout, "  %s gridward threats responses %v\n", dim("▸"), resp["threat_id"])
}

func cmdThreatsResponses(args []string) {
	fs := flag.NewFlagSet("threats-responses", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	format := fs.String("format", "table", "Output format: table, json, csv")
	output := fs.String("output", "", "Write output to file")
	timeoutStr := fs.String("timeout", "5s", "Request timeout")
	fs.Parse(args)

	if fs.NArg() < 1 {
		errorf("usage: gridward threats responses <threat-id>")
	}
	threatID := fs.Arg(0)

	*configPath = envConfig(*configPath)
	outFmt := parseFormat(*format)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiGet(base+"/api/v1/threats/"+threatID+"/responses", apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if outFmt == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var resp struct {
		Executions []executionRow `json:"executions"`
		Total      int            `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	renderExecutions(w, outFmt, resp.Executions)
}
