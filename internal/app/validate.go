package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	payloadschema "horse.fit/zeke/schema"
)

// fileCheck is the outcome of validating one JSON file.
type fileCheck struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dir := fs.String("dir", "testdata/sources", "Directory scanned when no files are given")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	topic := fs.String("topic", "", "Validate files as job payloads for this topic instead of source definitions")
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

	files := fs.Args()
	if len(files) == 0 {
		files, err = collectJSONFiles(strings.TrimSpace(*dir), *recursive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
			return 1
		}
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}

	checks, invalid := validateFiles(files, strings.TrimSpace(*topic))
	if format == outputFormatJSON {
		if err := printJSON(map[string]any{"files": checks, "invalid": invalid}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
			return 1
		}
	} else {
		rows := make([][]string, 0, len(checks))
		for _, check := range checks {
			state := "ok"
			if !check.Valid {
				state = "invalid"
			}
			rows = append(rows, []string{state, check.Path, check.Error})
		}
		if err := writeTable([]string{"STATE", "FILE", "ERROR"}, rows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
			return 1
		}
	}

	if invalid > 0 {
		return 1
	}
	return 0
}

func validateFiles(paths []string, topic string) ([]fileCheck, int) {
	checks := make([]fileCheck, 0, len(paths))
	invalid := 0
	for _, path := range paths {
		check := fileCheck{Path: path, Valid: true}
		if err := validateFile(path, topic); err != nil {
			check.Valid = false
			check.Error = err.Error()
			invalid++
		}
		checks = append(checks, check)
	}
	return checks, invalid
}

// validateFile checks one file as a source definition, or as a job payload when topic is set.
func validateFile(path, topic string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("malformed JSON")
	}

	if topic == "" {
		_, err := payloadschema.ValidateSourceDefinition(json.RawMessage(raw))
		return err
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}
	return payloadschema.ValidateJobPayload(topic, payload)
}

// collectJSONFiles lists visible .json files under root in lexical order.
// Hidden files and directories are skipped.
func collectJSONFiles(root string, recursive bool) ([]string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("directory path is empty")
	}
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden || !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !hidden && strings.EqualFold(filepath.Ext(d.Name()), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
