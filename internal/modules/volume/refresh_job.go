package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"

	"github.com/corvid-labs/scout/internal/domain"
)

const (
	// lookbackDays is the rolling window for the average.
	lookbackDays = 20

	// minBars is the minimum usable closes before an average is written.
	// Below this the symbol is skipped; a thin average is worse than none.
	minBars = 5
)

// BarFetcher is the slice of the market client the refresh job needs.
type BarFetcher interface {
	BulkSnapshot(ctx context.Context) map[string]domain.Snapshot
	HistoricalBars(ctx context.Context, symbol, timespan string, limit int) []domain.HistoricalBar
}

// RefreshJob rebuilds the 20-day average volume cache from historical
// bars. It only ever writes averages computed from real data: symbols with
// missing or insufficient history are skipped, never defaulted.
type RefreshJob struct {
	market  BarFetcher
	repo    *Repository
	limiter *rate.Limiter
	log     zerolog.Logger
}

// RefreshStats summarizes one refresh pass.
type RefreshStats struct {
	Requested int
	Updated   int
	Skipped   int
	Duration  time.Duration
}

// NewRefreshJob creates the refresh job. requestsPerSec bounds the
// per-symbol history fetch rate against the provider.
func NewRefreshJob(market BarFetcher, repo *Repository, requestsPerSec float64, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		market:  market,
		repo:    repo,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		log:     log.With().Str("component", "volume_refresh").Logger(),
	}
}

// Name implements the scheduler Job interface.
func (j *RefreshJob) Name() string { return "volume_cache_refresh" }

// Run implements the scheduler Job interface: a full refresh with the
// default batch size.
func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Minute)
	defer cancel()
	_, err := j.RefreshAll(ctx, 100)
	return err
}

// RefreshAll rebuilds averages for every symbol in the latest bulk
// snapshot, upserting in batches of batchSize.
func (j *RefreshJob) RefreshAll(ctx context.Context, batchSize int) (RefreshStats, error) {
	start := time.Now()

	snapshots := j.market.BulkSnapshot(ctx)
	if len(snapshots) == 0 {
		return RefreshStats{}, fmt.Errorf("%w: no snapshots available, cannot refresh", domain.ErrUpstreamUnavailable)
	}

	symbols := make([]string, 0, len(snapshots))
	for sym := range snapshots {
		symbols = append(symbols, sym)
	}

	stats, err := j.refreshSymbols(ctx, symbols, batchSize)
	stats.Duration = time.Since(start)
	j.log.Info().
		Int("requested", stats.Requested).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Dur("duration", stats.Duration).
		Msg("Volume cache refresh complete")
	return stats, err
}

// RefreshStale refreshes only symbols whose cached entry is older than
// maxAgeHours.
func (j *RefreshJob) RefreshStale(ctx context.Context, maxAgeHours, batchSize int) (RefreshStats, error) {
	start := time.Now()

	symbols, err := j.repo.StaleSymbols(maxAgeHours)
	if err != nil {
		return RefreshStats{}, err
	}
	if len(symbols) == 0 {
		j.log.Info().Msg("No stale volume averages")
		return RefreshStats{}, nil
	}

	stats, err := j.refreshSymbols(ctx, symbols, batchSize)
	stats.Duration = time.Since(start)
	j.log.Info().
		Int("requested", stats.Requested).
		Int("updated", stats.Updated).
		Int("skipped", stats.Skipped).
		Dur("duration", stats.Duration).
		Msg("Stale volume refresh complete")
	return stats, err
}

// refreshSymbols computes and upserts averages for the given symbols.
func (j *RefreshJob) refreshSymbols(ctx context.Context, symbols []string, batchSize int) (RefreshStats, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	stats := RefreshStats{Requested: len(symbols)}

	batch := make(map[string]float64, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		written, err := j.repo.UpsertBatch(batch)
		if err != nil {
			return err
		}
		stats.Updated += written
		batch = make(map[string]float64, batchSize)
		return nil
	}

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			// Flush what we have; a partial refresh of real averages is
			// still valid data.
			if ferr := flush(); ferr != nil {
				return stats, ferr
			}
			return stats, fmt.Errorf("%w: refresh cancelled", domain.ErrTimeout)
		}
		if err := j.limiter.Wait(ctx); err != nil {
			if ferr := flush(); ferr != nil {
				return stats, ferr
			}
			return stats, fmt.Errorf("%w: refresh cancelled", domain.ErrTimeout)
		}

		avg, ok := j.computeAverage(ctx, sym)
		if !ok {
			stats.Skipped++
			continue
		}
		batch[sym] = avg

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// computeAverage derives the 20-day average volume from real bars.
// Zero-volume bars (missing data days) are excluded; fewer than minBars
// usable bars means skip.
func (j *RefreshJob) computeAverage(ctx context.Context, symbol string) (float64, bool) {
	bars := j.market.HistoricalBars(ctx, symbol, "day", lookbackDays)
	if len(bars) == 0 {
		return 0, false
	}

	volumes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		if bar.Volume > 0 {
			volumes = append(volumes, bar.Volume)
		}
	}
	if len(volumes) < minBars {
		j.log.Debug().
			Str("symbol", symbol).
			Int("usable_bars", len(volumes)).
			Msg("Insufficient history, skipping")
		return 0, false
	}

	avg := stat.Mean(volumes, nil)
	if avg <= 0 {
		return 0, false
	}
	return avg, true
}
