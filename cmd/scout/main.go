// Package main is the entry point for the scout discovery engine.
//
// Subcommands:
//
//	discover               run one discovery pass and print the result
//	refresh-volume-cache   rebuild the 20-day volume average cache
//	serve                  run the cron-driven discovery and refresh loop
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/corvid-labs/scout/internal/clients/learning"
	"github.com/corvid-labs/scout/internal/clients/polygon"
	"github.com/corvid-labs/scout/internal/config"
	"github.com/corvid-labs/scout/internal/database"
	"github.com/corvid-labs/scout/internal/domain"
	"github.com/corvid-labs/scout/internal/modules/discovery"
	"github.com/corvid-labs/scout/internal/modules/features"
	"github.com/corvid-labs/scout/internal/modules/session"
	"github.com/corvid-labs/scout/internal/modules/volume"
	"github.com/corvid-labs/scout/internal/scheduler"
	"github.com/corvid-labs/scout/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	switch os.Args[1] {
	case "discover":
		os.Exit(runDiscover(cfg, log, os.Args[2:]))
	case "refresh-volume-cache":
		os.Exit(runRefresh(cfg, log, os.Args[2:]))
	case "serve":
		os.Exit(runServe(cfg, log))
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: scout <discover|refresh-volume-cache|serve> [flags]")
}

// deps is the wired component set shared by the subcommands.
type deps struct {
	rdb       *redis.Client
	db        *database.DB
	market    *polygon.Client
	volumes   *volume.Repository
	cache     *features.Cache
	orch      *discovery.Orchestrator
	publisher *discovery.Publisher
	refresh   *volume.RefreshJob
	clock     *session.Clock
}

// wire builds the component graph. Handles are explicit; nothing hides in
// package globals.
func wire(cfg *config.Config, log zerolog.Logger) (*deps, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	db, err := database.New(filepath.Join(cfg.DataDir, "volume_cache.db"))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		return nil, err
	}

	clock, err := session.NewClock()
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange timezone: %w", err)
	}

	market := polygon.NewClient(cfg.PolygonAPIKey, log)
	volumes := volume.NewRepository(db.Conn(), log)
	cache := features.NewCache(rdb, log)
	builder := features.NewBuilder(cache, log)
	gate := features.NewGate(cfg.Calibration.Thresholds.MaxStaleFraction, log)
	adaptive := discovery.NewAdaptiveParams(learning.NewClient(cfg.LearningBaseURL, log), cfg.Calibration.Weights, log)
	matcher := discovery.NewPatternMatcher(nil)
	lock := discovery.NewJobLock(rdb, log)
	publisher := discovery.NewPublisher(rdb, cfg.Calibration.ResultTTL, true, log)

	orch := discovery.NewOrchestrator(cfg, market, volumes, builder, gate, adaptive, matcher, lock, publisher, clock, log)
	refresh := volume.NewRefreshJob(market, volumes, 5.0, log)

	return &deps{
		rdb:       rdb,
		db:        db,
		market:    market,
		volumes:   volumes,
		cache:     cache,
		orch:      orch,
		publisher: publisher,
		refresh:   refresh,
		clock:     clock,
	}, nil
}

func (d *deps) close() {
	d.cache.Drain()
	_ = d.db.Close()
	_ = d.rdb.Close()
}

// runDiscover executes one run and prints the outcome. Exit 1 when the
// lock is held or the run failed.
func runDiscover(cfg *config.Config, log zerolog.Logger, args []string) int {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	limit := fs.Int("limit", 0, "max candidates to publish (0 = config default)")
	relaxed := fs.Bool("relaxed", false, "lift the price cap to the relaxed maximum")
	showTrace := fs.Bool("trace", false, "print the per-stage trace")
	_ = fs.Parse(args)

	d, err := wire(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to wire components")
		return 1
	}
	defer d.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := d.orch.Run(ctx, discovery.Params{Limit: *limit, Relaxed: *relaxed})
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			log.Warn().Msg("Another discovery run holds the lock, exiting")
			return 1
		}
		log.Error().Err(err).Str("reason", result.Stats.Reason).Msg("Discovery run failed")
		printResult(result, *showTrace)
		return 1
	}

	printResult(result, *showTrace)
	return 0
}

func printResult(result domain.RunResult, showTrace bool) {
	fmt.Printf("\nrun %s: %d candidates (universe %d, %dms)\n",
		result.RunID, len(result.Candidates), result.Stats.UniverseSize, result.Stats.DurationMs)
	if result.Stats.Reason != "" {
		fmt.Printf("reason: %s\n", result.Stats.Reason)
	}

	if len(result.Candidates) > 0 {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("#", "Symbol", "Price", "Change%", "RVOL", "Momentum", "Pattern", "Prob", "Tag")
		for i, c := range result.Candidates {
			table.Append(
				fmt.Sprintf("%d", i+1),
				c.Symbol,
				fmt.Sprintf("$%.2f", c.Price),
				fmt.Sprintf("%+.2f", c.ChangePct),
				fmt.Sprintf("%.1fx", c.Rvol),
				fmt.Sprintf("%.1f", c.MomentumScore),
				c.PatternMatch,
				fmt.Sprintf("%.1f", c.ExplosionProbability),
				string(c.ActionTag),
			)
		}
		table.Render()
	}

	if showTrace {
		fmt.Println("\nstage trace:")
		stages, _ := result.Trace["stages"].([]string)
		countsIn, _ := result.Trace["counts_in"].(map[string]int)
		countsOut, _ := result.Trace["counts_out"].(map[string]int)
		rejections, _ := result.Trace["rejections"].(map[string]map[string]int)
		for _, stage := range stages {
			fmt.Printf("  %-18s %6d -> %-6d", stage, countsIn[stage], countsOut[stage])
			for reason, n := range rejections[stage] {
				fmt.Printf(" %s=%d", reason, n)
			}
			fmt.Println()
		}
	}
}

// runRefresh drives the volume cache refresh job.
func runRefresh(cfg *config.Config, log zerolog.Logger, args []string) int {
	mode := "all"
	if len(args) > 0 {
		mode = args[0]
	}

	d, err := wire(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to wire components")
		return 1
	}
	defer d.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var stats volume.RefreshStats
	switch mode {
	case "all":
		stats, err = d.refresh.RefreshAll(ctx, 100)
	case "stale":
		stats, err = d.refresh.RefreshStale(ctx, 24, 100)
	case "test":
		// Refreshes every cached entry older than the current second, in
		// batches of 10; the number of symbols is not capped.
		stats, err = d.refresh.RefreshStale(ctx, 0, 10)
	default:
		fmt.Fprintf(os.Stderr, "unknown refresh mode %q (want all|stale|test)\n", mode)
		return 1
	}
	if err != nil {
		log.Error().Err(err).Msg("Volume cache refresh failed")
		return 1
	}

	fmt.Printf("refreshed %d/%d symbols (%d skipped) in %s\n",
		stats.Updated, stats.Requested, stats.Skipped, stats.Duration.Round(time.Second))
	return 0
}

// runServe registers the recurring discovery and refresh jobs and blocks
// until interrupted.
func runServe(cfg *config.Config, log zerolog.Logger) int {
	d, err := wire(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to wire components")
		return 1
	}
	defer d.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Follow the current contenders on the live feed so their cached
	// quotes stay ahead of the freshness gate between runs.
	if candidates, err := d.publisher.ReadLatest(ctx, cfg.Strategy); err == nil && len(candidates) > 0 {
		symbols := make([]string, len(candidates))
		for i, c := range candidates {
			symbols[i] = c.Symbol
		}
		stream := polygon.NewStream(cfg.PolygonAPIKey, d.cache, log)
		stream.Start(ctx, symbols)
		defer stream.Stop()
	}

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	job := &discoveryJob{orch: d.orch, clock: d.clock, log: log}
	if err := sched.AddJob("0 */5 * * * MON-FRI", job); err != nil {
		log.Error().Err(err).Msg("Failed to register discovery job")
		return 1
	}
	// Nightly rebuild after the close.
	if err := sched.AddJob("0 0 17 * * MON-FRI", d.refresh); err != nil {
		log.Error().Err(err).Msg("Failed to register refresh job")
		return 1
	}

	log.Info().Str("strategy", cfg.Strategy).Msg("Scout serving")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	return 0
}

// discoveryJob adapts the orchestrator to the scheduler's Job interface.
// Runs during market sessions only; a held lock is a skip, not a failure.
type discoveryJob struct {
	orch  *discovery.Orchestrator
	clock *session.Clock
	log   zerolog.Logger
}

func (j *discoveryJob) Name() string { return "discovery" }

func (j *discoveryJob) Run() error {
	if j.clock.Current(time.Now()) == session.Closed {
		j.log.Debug().Msg("Market closed, skipping discovery")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	_, err := j.orch.Run(ctx, discovery.Params{})
	if errors.Is(err, domain.ErrLockHeld) {
		j.log.Debug().Msg("Lock held, skipping run")
		return nil
	}
	return err
}
