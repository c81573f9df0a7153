package main

// ---------------------------------------------------------------------------
// cmd_executions.go — list and inspect response executions
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"
)

// executionRow mirrors the API's execution JSON for rendering.
type executionRow struct {
	ID         string     `json:"id"`
	ThreatID   string     `json:"threat_id"`
	ActionName string     `json:"action_name"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func statusColor(status string) string {
	switch status {
	case "COMPLETED":
		return green(status)
	case "FAILED", "TIMEOUT":
		return red(status)
	case "EXECUTING":
		return yellow(status)
	default:
		return dim(status)
	}
}

func renderExecutions(w io.Writer, outFmt OutputFormat, execs []executionRow) {
	if outFmt == FormatCSV {
		headers := []string{"id", "threat_id", "action", "status", "started_at", "outcome", "error"}
		rows := make([][]string, 0, len(execs))
		for _, e := range execs {
			rows = append(rows, []string{
				e.ID, e.ThreatID, e.ActionName, e.Status,
				e.StartedAt.Format(time.RFC3339), e.Outcome, e.Error,
			})
		}
		writeCSV(w, headers, rows)
		return
	}

	if len(execs) == 0 {
		fmt.Fprintf(w, "%s No executions.\n", dim("▸"))
		return
	}

	tbl := NewTable(w, "ID", "THREAT", "ACTION", "STATUS", "STARTED")
	for _, e := range execs {
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		tbl.AddRow(id, e.ThreatID, e.ActionName, statusColor(e.Status),
			e.StartedAt.Format("15:04:05"))
	}
	tbl.Render()
	fmt.Fprintf(w, "%d execution(s)\n", len(execs))
}

func cmdExecutions(args []string) {
	fs := flag.NewFlagSet("executions", flag.ExitOnError)
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

	// With an ID argument, fetch a single execution in full.
	if fs.NArg() >= 1 {
		body, err := apiGet(base+"/api/v1/executions/"+fs.Arg(0), apiKey, timeout)
		if err != nil {
			errorf("%v", err)
		}
		w, cleanup := outputWriter(*output)
		defer cleanup()

		if outFmt == FormatJSON {
			fmt.Fprintln(w, string(body))
			return
		}
		var e executionRow
		if err := json.Unmarshal(body, &e); err != nil {
			errorf("parsing response: %v", err)
		}
		fmt.Fprintf(w, "%s Execution %s\n\n", bold("●"), cyan(e.ID))
		fmt.Fprintf(w, "  %-12s %s\n", "Threat:", e.ThreatID)
		fmt.Fprintf(w, "  %-12s %s\n", "Action:", e.ActionName)
		fmt.Fprintf(w, "  %-12s %s\n", "Status:", statusColor(e.Status))
		fmt.Fprintf(w, "  %-12s %s\n", "Started:", e.StartedAt.Format(time.RFC3339))
		if e.EndedAt != nil {
			fmt.Fprintf(w, "  %-12s %s (%s)\n", "Ended:", e.EndedAt.Format(time.RFC3339),
				e.EndedAt.Sub(e.StartedAt).Round(time.Millisecond))
		}
		if e.Outcome != "" {
			fmt.Fprintf(w, "  %-12s %s\n", "Outcome:", e.Outcome)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "  %-12s %s\n", "Error:", red(e.Error))
		}
		return
	}

	body, err := apiGet(base+"/api/v1/executions", apiKey, timeout)
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
