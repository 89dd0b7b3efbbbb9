package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/zeke/internal/cli"
	"horse.fit/zeke/internal/orchestrator"
)

func runTrigger(args []string) int {
	if len(args) == 0 {
		printTriggerUsage()
		return 2
	}

	target := strings.ToLower(strings.TrimSpace(args[0]))
	if target == "help" || target == "-h" || target == "--help" {
		printTriggerUsage()
		return 0
	}

	fs := flag.NewFlagSet("trigger "+target, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 20*time.Second, "Command timeout")
	ids := fs.String("ids", "", "Comma-separated raw item ids (extract)")
	storyID := fs.Int64("story", 0, "Story id (analyze)")
	sourceID := fs.Int64("source", 0, "Limit discovery to one source id (rss, video-channel, video-search)")

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var rawItemIDs []int64
	switch target {
	case "rss", "video-channel", "video-search":
	case "extract":
		parsed, err := parseIDList(*ids)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --ids: %v\n", err)
			return 2
		}
		rawItemIDs = parsed
	case "analyze":
		if *storyID <= 0 {
			fmt.Fprintln(os.Stderr, "--story must be > 0")
			return 2
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown trigger: %s\n\n", args[0])
		printTriggerUsage()
		return 2
	}

	rt, err := openRuntime(envLoader, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	orch := rt.orchestrator(rt.queue())
	var ack orchestrator.Enqueued
	switch target {
	case "extract":
		ack, err = orch.TriggerContentExtraction(ctx, rawItemIDs, orchestrator.TriggerCLI)
	case "analyze":
		ack, err = orch.TriggerStoryAnalysis(ctx, *storyID, orchestrator.TriggerCLI)
	default:
		kind := strings.ReplaceAll(target, "-", "_")
		if *sourceID > 0 {
			ack, err = orch.TriggerSourceIngest(ctx, kind, *sourceID, orchestrator.TriggerCLI)
		} else {
			ack, err = orch.TriggerByTopic(ctx, "ingest."+kind, orchestrator.TriggerCLI)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Trigger failed: %v\n", err)
		return 1
	}

	if ack.Skipped {
		fmt.Printf("skipped topic=%s reason=%q\n", ack.Topic, ack.Reason)
		return 0
	}
	fmt.Printf("queued topic=%s job_id=%s\n", ack.Topic, ack.JobID)
	return 0
}

func parseIDList(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%q is not a positive integer", part)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one id is required")
	}
	return out, nil
}

func printTriggerUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  zeke trigger rss [--source ID]")
	fmt.Fprintln(os.Stderr, "  zeke trigger video-channel [--source ID]")
	fmt.Fprintln(os.Stderr, "  zeke trigger video-search [--source ID]")
	fmt.Fprintln(os.Stderr, "  zeke trigger extract --ids 1,2,3")
	fmt.Fprintln(os.Stderr, "  zeke trigger analyze --story 42")
}
