package main

// ---------------------------------------------------------------------------
// cmd_audit.go — fetch the response audit trail
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

func cmdAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	threatID := fs.String("threat", "", "Filter by threat ID")
	limit := fs.Int("limit", 100, "Maximum records to fetch")
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
	url := fmt.Sprintf("%s/api/v1/audit?limit=%d", base, *limit)
	if *threatID != "" {
		url = base + "/api/v1/audit?threat_id=" + *threatID
	}

	body, err := apiGet(url, apiKey, timeout)
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
		Records []struct {
			ResponseID string     `json:"response_id"`
			ThreatID   string     `json:"threat_id"`
			ActionName string     `json:"action_name"`
			Status     string     `json:"status"`
			StartedAt  time.Time  `json:"started_at"`
			EndedAt    *time.Time `json:"ended_at,omitempty"`
			Details    string     `json:"details,omitempty"`
		} `json:"records"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	if outFmt == FormatCSV {
		headers := []string{"response_id", "threat_id", "action", "status", "started_at", "ended_at", "details"}
		rows := make([][]string, 0, len(resp.Records))
		for _, rec := range resp.Records {
			ended := ""
			if rec.EndedAt != nil {
				ended = rec.EndedAt.Format(time.RFC3339)
			}
			rows = append(rows, []string{
				rec.ResponseID, rec.ThreatID, rec.ActionName, rec.Status,
				rec.StartedAt.Format(time.RFC3339), ended, rec.Details,
			})
		}
		writeCSV(w, headers, rows)
		return
	}

	if len(resp.Records) == 0 {
		fmt.Fprintf(w, "%s No audit records.\n", dim("▸"))
		return
	}

	tbl := NewTable(w, "RESPONSE", "THREAT", "ACTION", "STATUS", "STARTED")
	for _, rec := range resp.Records {
		id := rec.ResponseID
		if len(id) > 8 {
			id = id[:8]
		}
		tbl.AddRow(id, rec.ThreatID, rec.ActionName, statusColor(rec.Status),
			rec.StartedAt.Format("2006-01-02 15:04:05"))
	}
	tbl.Render()
	fmt.Fprintf(w, "%d record(s)\n", len(resp.Records))
}
