package main

// ---------------------------------------------------------------------------
// cmd_status.go — fetch status from a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"
)

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
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
	hostVal := envHost(*host)
	portVal := envPort(*port)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	base := apiBase(*configPath, hostVal, portVal)
	apiKey := resolveAPIKey(*apiKeyFlag, *configPath)
	body, err := apiGet(base+"/api/v1/status", apiKey, timeout)
	if err != nil {
		errorf("%v", err)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if outFmt == FormatJSON {
		fmt.Fprintln(w, string(body))
		return
	}

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		errorf("parsing response: %v", err)
	}

	emergency, _ := status["emergency"].(map[string]interface{})
	emergencyActive, _ := emergency["active"].(bool)
	executions, _ := status["executions"].(map[string]interface{})
	approvals, _ := status["approvals"].(map[string]interface{})

	if outFmt == FormatCSV {
		headers := []string{"field", "value"}
		rows := [][]string{
			{"version", fmt.Sprintf("%v", status["version"])},
			{"status", fmt.Sprintf("%v", status["status"])},
			{"bus_connected", fmt.Sprintf("%v", status["bus_connected"])},
			{"devices", fmt.Sprintf("%v", status["devices"])},
			{"sessions", fmt.Sprintf("%v", status["sessions"])},
			{"control_mode", fmt.Sprintf("%v", status["control_mode"])},
			{"emergency_active", fmt.Sprintf("%v", emergencyActive)},
			{"timestamp", fmt.Sprintf("%v", status["timestamp"])},
		}
		writeCSV(w, headers, rows)
		return
	}

	// Table (default)
	fmt.Fprintf(w, "%s gridward Status\n\n", bold("●"))
	fmt.Fprintf(w, "  %-18s %s\n", "Version:", green(fmt.Sprintf("%v", status["version"])))
	fmt.Fprintf(w, "  %-18s %s\n", "Status:", green(fmt.Sprintf("%v", status["status"])))
	fmt.Fprintf(w, "  %-18s %v\n", "Bus Connected:", status["bus_connected"])
	fmt.Fprintf(w, "  %-18s %v\n", "Devices:", status["devices"])
	fmt.Fprintf(w, "  %-18s %v\n", "Sessions:", status["sessions"])
	fmt.Fprintf(w, "  %-18s %v\n", "Control Mode:", status["control_mode"])
	if emergencyActive {
		fmt.Fprintf(w, "  %-18s %s\n", "Emergency:", red("ACTIVE"))
		if at, ok := emergency["activated_at"]; ok {
			fmt.Fprintf(w, "  %-18s %v\n", "Activated At:", at)
		}
	} else {
		fmt.Fprintf(w, "  %-18s %s\n", "Emergency:", dim("inactive"))
	}
	if executions != nil {
		fmt.Fprintf(w, "  %-18s %v tracked\n", "Executions:", executions["total_executions"])
	}
	if approvals != nil {
		fmt.Fprintf(w, "  %-18s %v pending\n", "Approvals:", approvals["pending_count"])
	}
	if actions, ok := status["actions"].([]interface{}); ok {
		fmt.Fprintf(w, "  %-18s %d registered\n", "Actions:", len(actions))
	}
	fmt.Fprintln(w)
}
