package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/zeke/internal/cli"
	"horse.fit/zeke/internal/orchestrator"
)

func runIngestURLs(args []string) int {
	fs := flag.NewFlagSet("ingest-urls", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	file := fs.String("file", "", "Read URLs from this file, one per line (- for stdin)")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	urls := append([]string{}, fs.Args()...)
	if path := strings.TrimSpace(*file); path != "" {
		fromFile, err := readURLList(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read --file: %v\n", err)
			return 2
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "at least one URL is required")
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

	results := rt.orchestrator(rt.queue()).TriggerOneOffIngest(ctx, urls, orchestrator.TriggerCLI)
	if err := printOneOffResults(results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}

	for _, r := range results {
		if !r.OK {
			return 1
		}
	}
	return 0
}

func readURLList(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

func printOneOffResults(results []orchestrator.OneOffResult, format string) error {
	if format == outputFormatJSON {
		return printJSON(map[string]any{"items": results})
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rawItemID := ""
		if r.RawItemID != nil {
			rawItemID = strconv.FormatInt(*r.RawItemID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatBool(r.OK),
			r.Type,
			rawItemID,
			r.JobID,
			r.URL,
			r.Error,
		})
	}
	return writeTable([]string{"OK", "TYPE", "RAW_ITEM_ID", "JOB_ID", "URL", "ERROR"}, rows)
}
