package main

// ---------------------------------------------------------------------------
// cmd_approvals.go — list, approve, or reject pending manual actions
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

type approvalRow struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	ActionName  string     `json:"action_name"`
	Status      string     `json:"status"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	Event       *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"event,omitempty"`
}

func cmdApprovals(args []string) {
	if len(args) > 0 {
		switch args[0] {
		case "approve":
			cmdApprovalsDecide(args[1:], "approve")
			return
		case "reject":
			cmdApprovalsDecide(args[1:], "reject")
			return
		}
	}

	fs := flag.NewFlagSet("approvals", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	history := fs.Bool("history", false, "Show decided approvals instead of pending")
	limit := fs.Int("limit", 50, "Maximum history entries to fetch")
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
	body, err := apiGet(fmt.Sprintf("%s/api/v1/approvals?limit=%d", base, *limit), apiKey, timeout)
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
		Pending []approvalRow `json:"pending"`
		History []approvalRow `json:"history"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		errorf("parsing response: %v", err)
	}

	rows := resp.Pending
	if *history {
		rows = resp.History
	}

	if outFmt == FormatCSV {
		headers := []string{"id", "action", "status", "threat", "created_at", "expires_at", "decided_by"}
		csvRows := make([][]string, 0, len(rows))
		for _, a := range rows {
			threat := ""
			if a.Event != nil {
				threat = a.Event.Type
			}
			csvRows = append(csvRows, []string{
				a.ID, a.ActionName, a.Status, threat,
				a.CreatedAt.Format(time.RFC3339), a.ExpiresAt.Format(time.RFC3339), a.DecidedBy,
			})
		}
		writeCSV(w, headers, csvRows)
		return
	}

	if len(rows) == 0 {
		if *history {
			fmt.Fprintf(w, "%s No decided approvals.\n", dim("▸"))
		} else {
			fmt.Fprintf(w, "%s No pending approvals.\n", dim("▸"))
		}
		return
	}

	tbl := NewTable(w, "ID", "ACTION", "THREAT", "STATUS", "EXPIRES")
	for _, a := range rows {
		threat := ""
		if a.Event != nil {
			threat = a.Event.Type
		}
		id := a.ID
		if len(id) > 8 {
			id = id[:8]
		}
		status := a.Status
		switch status {
		case "PENDING":
			status = yellow(status)
		case "APPROVED":
			status = green(status)
		case "REJECTED", "EXPIRED":
			status = red(status)
		}
		tbl.AddRow(id, a.ActionName, threat, status, a.ExpiresAt.Format("15:04:05"))
	}
	tbl.Render()
	fmt.Fprintf(w, "%d approval(s)\n", len(rows))
}

func cmdApprovalsDecide(args []string, verb string) {
	fs := flag.NewFlagSet("approvals-"+verb, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	host := fs.String("host", "", "API host override")
	port := fs.Int("port", 0, "API port override")
	apiKeyFlag := fs.String("api-key", "", "API key for authentication")
	by := fs.String("by", "", "Operator recording the decision")
	timeoutStr := fs.String("timeout", "5s", "Request timeout")
	fs.Parse(args)

	if fs.NArg() < 1 {
		errorf("usage: gridward approvals %s <approval-id> [--by <operator>]", verb)
	}
	id := fs.Arg(0)

	*configPath = envConfig(*configPath)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	payload, _ := json.Marshal(map[string]string{"decided_by": *by})

	base := apiBase(*configPath, envHost(*host), envPort(*port))
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiPost(fmt.Sprintf("%s/api/v1/approvals/%s/%s", base, id, verb), payload, apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	var pa approvalRow
	if err := json.Unmarshal(body, &pa); err != nil {
		errorf("parsing response: %v", err)
	}

	mark := green("✓")
	if verb == "reject" {
		mark = red("✗")
	}
	fmt.Fprintf(os.Stdout, "%s %s %sd (%s) by %s\n",
		mark, pa.ActionName, verb, pa.ID, pa.DecidedBy)
}
