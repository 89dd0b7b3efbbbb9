package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/zeke/internal/cli"
	"horse.fit/zeke/internal/db"
	"horse.fit/zeke/internal/orchestrator"
	payloadschema "horse.fit/zeke/schema"
)

func runSourceAdd(args []string) int {
	fs := flag.NewFlagSet("source-add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 20*time.Second, "Command timeout")
	kind := fs.String("kind", db.SourceKindRSS, "Source kind: rss, video_channel or video_search")
	sourceURL := fs.String("url", "", "Feed or channel URL")
	name := fs.String("name", "", "Display name")
	metadata := fs.String("metadata", "", "Kind-specific metadata JSON, e.g. {\"query\":\"ai policy\"}")
	definitionFile := fs.String("file", "", "Path to a full source definition JSON (overrides other flags)")
	ingestNow := fs.Bool("ingest", false, "Queue discovery for the source after saving it")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	raw, err := sourceDefinitionJSON(*kind, *sourceURL, *name, *metadata, *definitionFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid source: %v\n", err)
		return 2
	}
	def, err := payloadschema.ValidateSourceDefinition(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid source: %v\n", err)
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

	rec, created, err := rt.pool.UpsertSource(ctx, db.SourceInput{
		Kind:     def.Kind,
		URL:      def.URL,
		Name:     def.Name,
		Metadata: def.Metadata,
	})
	if err != nil {
		rt.logger.Error().Err(err).Str("kind", def.Kind).Msg("source upsert failed")
		fmt.Fprintf(os.Stderr, "Failed to save source: %v\n", err)
		return 1
	}
	fmt.Printf("source_id=%d kind=%s created=%t url=%s\n", rec.SourceID, rec.Kind, created, rec.URL)

	if *ingestNow {
		ack, err := rt.orchestrator(rt.queue()).TriggerSourceIngest(ctx, rec.Kind, rec.SourceID, orchestrator.TriggerManual)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Source saved but ingest could not be queued: %v\n", err)
			return 1
		}
		if ack.Skipped {
			fmt.Printf("ingest skipped: %s\n", ack.Reason)
		} else {
			fmt.Printf("ingest queued job_id=%s\n", ack.JobID)
		}
	}
	return 0
}

// sourceDefinitionJSON assembles a definition from flags unless a file is given.
func sourceDefinitionJSON(kind, sourceURL, name, metadataRaw, filePath string) (json.RawMessage, error) {
	if strings.TrimSpace(filePath) != "" {
		return loadJSONInput("", filePath, "source definition")
	}

	def := map[string]any{"kind": strings.TrimSpace(kind)}
	if v := strings.TrimSpace(sourceURL); v != "" {
		def["url"] = v
	}
	if v := strings.TrimSpace(name); v != "" {
		def["name"] = v
	}
	if v := strings.TrimSpace(metadataRaw); v != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(v), &metadata); err != nil {
			return nil, fmt.Errorf("--metadata must be a JSON object: %w", err)
		}
		def["metadata"] = metadata
	}
	return json.Marshal(def)
}
