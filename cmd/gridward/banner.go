package main

// ---------------------------------------------------------------------------
// banner.go — ASCII art banner, version/usage printing, per-command help
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func bannerText() string {
	if !colorEnabled() {
		return `
    ╔══════════════════════════════════════════════════════════════╗
    ║                                                              ║
    ║   ██████╗ ██████╗ ██╗██████╗ ██╗    ██╗ █████╗ ██████╗ ██████╗  ║
    ║  ██╔════╝ ██╔══██╗██║██╔══██╗██║    ██║██╔══██╗██╔══██╗██╔══██╗ ║
    ║  ██║  ███╗██████╔╝██║██║  ██║██║ █╗ ██║███████║██████╔╝██║  ██║ ║
    ║  ██║   ██║██╔══██╗██║██║  ██║██║███╗██║██╔══██║██╔══██╗██║  ██║ ║
    ║  ╚██████╔╝██║  ██║██║██████╔╝╚███╔███╔╝██║  ██║██║  ██║██████╔╝ ║
    ║   ╚═════╝ ╚═╝  ╚═╝╚═╝╚═════╝  ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝  ║
    ║                                                              ║
    ║        AUTONOMOUS GRID INCIDENT RESPONSE ENGINE              ║
    ║                                                              ║
    ╚══════════════════════════════════════════════════════════════╝
`
	}
	return "\033[36m" + `
    ╔══════════════════════════════════════════════════════════════╗
    ║                                                              ║
    ║` + "\033[97m" + `   ██████╗ ██████╗ ██╗██████╗ ██╗    ██╗ █████╗ ██████╗ ██████╗` + "\033[36m" + `  ║
    ║` + "\033[97m" + `  ██╔════╝ ██╔══██╗██║██╔══██╗██║    ██║██╔══██╗██╔══██╗██╔══██╗` + "\033[36m" + ` ║
    ║` + "\033[93m" + `  ██║  ███╗██████╔╝██║██║  ██║██║ █╗ ██║███████║██████╔╝██║  ██║` + "\033[36m" + ` ║
    ║` + "\033[93m" + `  ██║   ██║██╔══██╗██║██║  ██║██║███╗██║██╔══██║██╔══██╗██║  ██║` + "\033[36m" + ` ║
    ║` + "\033[91m" + `  ╚██████╔╝██║  ██║██║██████╔╝╚███╔███╔╝██║  ██║██║  ██║██████╔╝` + "\033[36m" + ` ║
    ║` + "\033[91m" + `   ╚═════╝ ╚═╝  ╚═╝╚═╝╚═════╝  ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝` + "\033[36m" + `  ║
    ║                                                              ║
    ║` + "\033[97m" + `        AUTONOMOUS GRID INCIDENT RESPONSE ENGINE` + "\033[36m" + `              ║
    ║                                                              ║
    ╚══════════════════════════════════════════════════════════════╝` + "\033[0m" + `
`
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "gridward v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, bannerText())
	fmt.Fprintf(w, "  %s\n\n", dim("v"+version))
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  gridward <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	fmt.Fprintf(w, "  %-12s  %s\n", bold("up"), "Start the response engine and API server")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("stop"), "Gracefully stop a running instance")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("status"), "Show status of a running instance")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("threats"), "Inject threat events, inspect their responses")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("executions"), "List or inspect response executions")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("approvals"), "List, approve, or reject pending manual actions")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("emergency"), "Show or clear the emergency state")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("audit"), "Fetch the response audit trail")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("sessions"), "List active secure device sessions")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("logs"), "Tail recent engine log entries")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("certs"), "Generate trust anchors and device certificates")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("config"), "Show, validate, or initialize configuration")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("version"), "Print version and build info")
	fmt.Fprintf(w, "  %-12s  %s\n", bold("help"), "Show help for a command")
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (default: configs/default.yaml, env: GRIDWARD_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--api-key <key>", "API key (env: GRIDWARD_API_KEY)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--format <fmt>", "Output format: table, json, csv (default: table)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "  %-22s  %s\n", "--help, -h", "Show help")
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT VARIABLES"))
	fmt.Fprintf(w, "  %-22s  %s\n", "GRIDWARD_CONFIG", "Default config file path")
	fmt.Fprintf(w, "  %-22s  %s\n", "GRIDWARD_HOST", "API host override")
	fmt.Fprintf(w, "  %-22s  %s\n", "GRIDWARD_PORT", "API port override")
	fmt.Fprintf(w, "  %-22s  %s\n", "GRIDWARD_API_KEY", "API key for authentication")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Start with defaults (embedded NATS, SQLite store)"))
	fmt.Fprintf(w, "  gridward up\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Inject a threat event"))
	fmt.Fprintf(w, "  gridward threats inject --type modbus_flooding --severity HIGH --source 10.40.1.17\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Check a running instance"))
	fmt.Fprintf(w, "  gridward status --format json\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Approve a held manual action"))
	fmt.Fprintf(w, "  gridward approvals approve <id> --by ops-oncall\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Export the audit trail as CSV"))
	fmt.Fprintf(w, "  gridward audit --limit 500 --format csv --output audit.csv\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("gridward help <command>"))
}

func cmdHelp(name string) {
	w := os.Stdout
	switch name {
	case "up":
		fmt.Fprintf(w, "%s\n\n", bold("gridward up"))
		fmt.Fprintf(w, "Start the response engine: event bus, policy engine, secure device\n")
		fmt.Fprintf(w, "channel, and the HTTP API.\n\n")
		fmt.Fprintf(w, "%s\n", bold("FLAGS"))
		fmt.Fprintf(w, "  --config <path>      Config file path\n")
		fmt.Fprintf(w, "  --log-level <level>  Override log level (debug, info, warn, error)\n")
		fmt.Fprintf(w, "  --dry-run            Validate config and exit\n")
		fmt.Fprintf(w, "  --quiet              Suppress startup output\n")
		fmt.Fprintf(w, "  --no-banner          Skip the ASCII banner\n")
	case "threats":
		fmt.Fprintf(w, "%s\n\n", bold("gridward threats"))
		fmt.Fprintf(w, "Inject threat events into a running instance and inspect the\n")
		fmt.Fprintf(w, "responses they triggered.\n\n")
		fmt.Fprintf(w, "%s\n", bold("SUBCOMMANDS"))
		fmt.Fprintf(w, "  inject              Publish a threat event onto the bus\n")
		fmt.Fprintf(w, "  responses <id>      List executions for a threat\n\n")
		fmt.Fprintf(w, "%s\n", bold("INJECT FLAGS"))
		fmt.Fprintf(w, "  --type <type>       Threat type (required), e.g. modbus_flooding\n")
		fmt.Fprintf(w, "  --severity <sev>    LOW, MEDIUM, HIGH, CRITICAL (default: MEDIUM)\n")
		fmt.Fprintf(w, "  --source <addr>     Attacker source address detail\n")
		fmt.Fprintf(w, "  --device <id>       Target device identifier detail\n")
		fmt.Fprintf(w, "  --account <id>      Account identifier detail\n")
		fmt.Fprintf(w, "  --detail k=v        Extra detail pair (repeatable)\n")
	case "approvals":
		fmt.Fprintf(w, "%s\n\n", bold("gridward approvals"))
		fmt.Fprintf(w, "Manage actions held for manual approval.\n\n")
		fmt.Fprintf(w, "%s\n", bold("SUBCOMMANDS"))
		fmt.Fprintf(w, "  approve <id>        Approve a pending action (--by <operator>)\n")
		fmt.Fprintf(w, "  reject <id>         Reject a pending action (--by <operator>)\n")
		fmt.Fprintf(w, "  (no subcommand)     List pending approvals\n")
	case "certs":
		fmt.Fprintf(w, "%s\n\n", bold("gridward certs"))
		fmt.Fprintf(w, "Provision the secure channel trust material.\n\n")
		fmt.Fprintf(w, "%s\n", bold("SUBCOMMANDS"))
		fmt.Fprintf(w, "  anchor              Generate a trust anchor keypair\n")
		fmt.Fprintf(w, "  issue               Issue a signed device certificate\n")
	case "emergency":
		fmt.Fprintf(w, "%s\n\n", bold("gridward emergency"))
		fmt.Fprintf(w, "Show the emergency state, or clear it after operator review.\n\n")
		fmt.Fprintf(w, "%s\n", bold("SUBCOMMANDS"))
		fmt.Fprintf(w, "  clear               Deactivate an active emergency\n")
		fmt.Fprintf(w, "  (no subcommand)     Show emergency status\n")
	case "config":
		fmt.Fprintf(w, "%s\n\n", bold("gridward config"))
		fmt.Fprintf(w, "Inspect and manage the YAML configuration.\n\n")
		fmt.Fprintf(w, "%s\n", bold("SUBCOMMANDS"))
		fmt.Fprintf(w, "  show                Print the running instance's config\n")
		fmt.Fprintf(w, "  init                Write a starter config file\n")
		fmt.Fprintf(w, "  check               Validate a config file locally\n")
		fmt.Fprintf(w, "  reload              Ask a running instance to re-read its config\n")
	default:
		printUsage(w)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
