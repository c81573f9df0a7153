package main

// ---------------------------------------------------------------------------
// cmd_sessions.go — list active secure device sessions
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

func cmdSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	timeoutStr := fs.String("timeout", "5s", "Request timeout")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiGet(base+"/api/v1/sessions", apiKey, timeout)
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
		Sessions []struct {
			SessionID     string    `json:"session_id"`
			DeviceID      string    `json:"device_id"`
			EstablishedAt time.Time `json:"established_at"`
			LastUsedAt    time.Time `json:"last_used_at"`
		} `json:"sessions"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	if outFmt == FormatCSV {
		headers := []string{"session_id", "device_id", "established_at", "last_used_at"}
		rows := make([][]string, 0, len(resp.Sessions))
		for _, s := range resp.Sessions {
			rows = append(rows, []string{
				s.SessionID, s.DeviceID,
				s.EstablishedAt.Format(time.RFC3339), s.LastUsedAt.Format(time.RFC3339),
			})
		}
		writeCSV(w, headers, rows)
		return
	}

	if len(resp.Sessions) == 0 {
		fmt.Fprintf(w, "%s No active sessions.\n", dim("▸"))
		return
	}

	tbl := NewTable(w, "SESSION", "DEVICE", "ESTABLISHED", "LAST USED")
	for _, s := range resp.Sessions {
		id := s.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		tbl.AddRow(id, s.DeviceID,
			s.EstablishedAt.Format("15:04:05"), s.LastUsedAt.Format("15:04:05"))
	}
	tbl.Render()
	fmt.Fprintf(w, "%d session(s)\n", len(resp.Sessions))
}
