package main

// ---------------------------------------------------------------------------
// cmd_emergency.go — show or clear the emergency state
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

func cmdEmergency(args []string) {
	if len(args) > 0 && args[0] == "clear" {
		cmdEmergencyClear(args[1:])
		return
	}

	fs := flag.NewFlagSet("emergency", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
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
	body, err := apiGet(base+"/api/v1/emergency", apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	if *jsonOut {
		fmt.Fprintln(os.Stdout, string(body))
		return
	}

	var resp struct {
		Status struct {
			Active      bool       `json:"active"`
			ActivatedAt *time.Time `json:"activated_at"`
			Transitions int        `json:"transitions"`
		} `json:"status"`
		Transitions []struct {
			Active    bool      `json:"active"`
			At        time.Time `json:"at"`
			ThreatID  string    `json:"threat_id,omitempty"`
			ClearedBy string    `json:"cleared_by,omitempty"`
		} `json:"transitions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	if resp.Status.Active {
		fmt.Fprintf(os.Stdout, "%s Emergency %s", bold("●"), red("ACTIVE"))
		if resp.Status.ActivatedAt != nil {
			fmt.Fprintf(os.Stdout, " since %s", resp.Status.ActivatedAt.Format(time.RFC3339))
		}
		fmt.Fprintln(os.Stdout)
		fmt.Fprintf(os.Stdout, "  %s All response actions auto-execute until cleared.\n", dim("▸"))
		fmt.Fprintf(os.Stdout, "  %s gridward emergency clear --by <operator>\n", dim("▸"))
	} else {
		fmt.Fprintf(os.Stdout, "%s Emergency %s\n", bold("●"), green("inactive"))
	}

	if len(resp.Transitions) > 0 {
		fmt.Fprintf(os.Stdout, "\n%s\n", bold("TRANSITIONS"))
		for _, t := range resp.Transitions {
			state := green("cleared")
			detail := t.ClearedBy
			if t.Active {
				state = red("activated")
				detail = t.ThreatID
			}
			fmt.Fprintf(os.Stdout, "  %s  %-9s  %s\n", t.At.Format(time.RFC3339), state, detail)
		}
	}
}

func cmdEmergencyClear(args []string) {
	fs := flag.NewFlagSet("emergency-clear", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	by := fs.String("by", "", "Operator clearing the emergency")
	timeoutStr := fs.String("timeout", "5s", "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	payload, _ := json.Marshal(map[string]string{"cleared_by": *by})

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiPost(base+"/api/v1/emergency/clear", payload, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	var resp map[string]string
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%s Emergency cleared by %s\n", green("✓"), resp["cleared_by"])
}
