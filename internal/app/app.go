package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "serve":
		return runServe(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "trigger":
		return runTrigger(args[1:])
	case "ingest-urls":
		return runIngestURLs(args[1:])
	case "source-add":
		return runSourceAdd(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "zeke CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  zeke <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health       Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  migrate      Create or update the zeke schema")
	fmt.Fprintln(os.Stderr, "  serve        Start the HTTP API")
	fmt.Fprintln(os.Stderr, "  worker       Run job handlers and the discovery scheduler")
	fmt.Fprintln(os.Stderr, "  trigger      Queue a job: rss | video-channel | video-search | extract | analyze")
	fmt.Fprintln(os.Stderr, "  ingest-urls  Submit one-off article or video URLs")
	fmt.Fprintln(os.Stderr, "  source-add   Register an rss, video_channel or video_search source")
	fmt.Fprintln(os.Stderr, "  validate     Validate source or job payload JSON files")
	fmt.Fprintln(os.Stderr, "  daemon       Manage systemd units for serve and worker")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"zeke <command> -h\" for command-specific flags.")
}
