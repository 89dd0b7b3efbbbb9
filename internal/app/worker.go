package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"horse.fit/zeke/internal/analysis"
	"horse.fit/zeke/internal/cli"
	"horse.fit/zeke/internal/discovery"
	"horse.fit/zeke/internal/extract"
	"horse.fit/zeke/internal/feeds"
	"horse.fit/zeke/internal/logging"
	"horse.fit/zeke/internal/orchestrator"
	"horse.fit/zeke/internal/queue"
	"horse.fit/zeke/internal/retry"
	"horse.fit/zeke/internal/story"
	"horse.fit/zeke/internal/video"
	"horse.fit/zeke/internal/worker"
	"horse.fit/zeke/internal/youtube"
)

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	once := fs.Bool("once", false, "Drain one batch per topic and exit")
	noScheduler := fs.Bool("no-scheduler", false, "Do not register or fire cron schedules")
	timeout := fs.Duration("timeout", 10*time.Minute, "Timeout for --once")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rt, err := openRuntime(envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := rt.queue()
	orch := rt.orchestrator(q)
	pool := buildWorkerPool(rt, q, orch)

	if *once {
		runCtx, cancel := context.WithTimeout(ctx, *timeout)
		defer cancel()
		total := 0
		for _, topic := range pool.Topics() {
			n, err := pool.RunOnce(runCtx, topic)
			if err != nil {
				rt.logger.Error().Err(err).Str("topic", topic).Msg("worker pass failed")
				fmt.Fprintf(os.Stderr, "Worker pass failed for %s: %v\n", topic, err)
				return 1
			}
			total += n
			fmt.Printf("topic=%s processed=%d\n", topic, n)
		}
		fmt.Printf("processed=%d\n", total)
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	if !*noScheduler {
		err := orch.RegisterSchedules(ctx, orchestrator.Schedules{
			RSSCron:   rt.cfg.ScheduleRSSCron,
			VideoCron: rt.cfg.ScheduleVideoCron,
		})
		if err != nil {
			rt.logger.Error().Err(err).Msg("register schedules failed")
			fmt.Fprintf(os.Stderr, "Failed to register schedules: %v\n", err)
			return 1
		}
		scheduler := queue.NewScheduler(q, orch.FireSchedule, rt.logger)
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	g.Go(func() error { return pool.Run(gctx) })

	rt.logger.Info().
		Strs("topics", pool.Topics()).
		Int("concurrency", rt.cfg.WorkerConcurrency).
		Bool("scheduler", !*noScheduler).
		Msg("worker started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error().Err(err).Msg("worker stopped with error")
		fmt.Fprintf(os.Stderr, "Worker failed: %v\n", err)
		return 1
	}
	rt.logger.Info().Msg("worker stopped")
	return 0
}

// buildWorkerPool wires every pipeline stage to its queue topic.
func buildWorkerPool(rt *runtime, q queue.Queue, orch *orchestrator.Service) *worker.Pool {
	cfg := rt.cfg
	logger := rt.logger
	policy := retryPolicy(cfg)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	fetchers := []discovery.Fetcher{discovery.NewRSSFetcher(feeds.NewClient(httpClient))}
	if cfg.VideoDiscoveryEnabled() {
		yt := youtube.NewClient(youtube.Options{
			APIKey:            cfg.YouTubeAPIKey,
			RequestsPerSecond: cfg.YouTubeRequestsPerSecond,
			Doer:              retry.NewHTTPDoer(httpClient, policy),
		})
		fetchers = append(fetchers, discovery.NewChannelFetcher(yt), discovery.NewSearchFetcher(yt))
	}
	disc := discovery.NewService(rt.pool, orch, logging.Component(logger, "discovery"), fetchers...)

	tool := video.NewTool(video.Options{
		BinaryPath:      cfg.YTDLPPath,
		WorkDir:         cfg.VideoWorkDir,
		MetadataTimeout: cfg.VideoMetadataTimeout,
		AudioTimeout:    cfg.VideoAudioTimeout,
		RetryPolicy:     policy,
	}, logging.Component(logger, "video"))
	extractLogger := logging.Component(logger, "extract")
	extractor := extract.NewExtractor(rt.pool, story.NewResolver(rt.pool, extractLogger), orch, tool, extract.Options{
		FetchTimeout:       cfg.ExtractFetchTimeout,
		VideoIngestEnabled: cfg.VideoIngestEnabled,
	}, extractLogger)

	analysisLogger := logging.Component(logger, "analysis")
	analyzer := analysis.NewService(rt.pool, analysis.New(cfg, policy, analysisLogger), analysisLogger)

	pool := worker.NewPool(q, worker.Options{
		Concurrency:  cfg.WorkerConcurrency,
		BatchSize:    cfg.WorkerBatchSize,
		PollInterval: cfg.WorkerPollInterval,
		StaleAfter:   cfg.JobStaleAfter(),
	}, logging.Component(logger, "worker"))
	worker.RegisterHandlers(pool, disc, extractor, analyzer)
	return pool
}
