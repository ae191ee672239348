package volume

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/scout/internal/domain"
)

type fakeBars struct {
	snapshots map[string]domain.Snapshot
	bars      map[string][]domain.HistoricalBar
}

func (f *fakeBars) BulkSnapshot(ctx context.Context) map[string]domain.Snapshot {
	return f.snapshots
}

func (f *fakeBars) HistoricalBars(ctx context.Context, symbol, timespan string, limit int) []domain.HistoricalBar {
	return f.bars[symbol]
}

func dailyBars(volumes ...float64) []domain.HistoricalBar {
	out := make([]domain.HistoricalBar, len(volumes))
	for i, v := range volumes {
		out[i] = domain.HistoricalBar{Time: int64(i), Close: 10, Volume: v}
	}
	return out
}

func TestRefreshAll_ComputesMeanOfPositiveVolumes(t *testing.T) {
	repo := newTestRepo(t)
	market := &fakeBars{
		snapshots: map[string]domain.Snapshot{
			"GOOD": {Symbol: "GOOD", Price: 10, Volume: 1},
			"GAPS": {Symbol: "GAPS", Price: 10, Volume: 1},
		},
		bars: map[string][]domain.HistoricalBar{
			"GOOD": dailyBars(100, 200, 300, 400, 500, 600),
			// Zero-volume bars are missing data days and are excluded.
			"GAPS": dailyBars(100, 0, 0, 200, 300, 400, 500),
		},
	}

	job := NewRefreshJob(market, repo, 1000, zerolog.Nop())
	stats, err := job.RefreshAll(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 0, stats.Skipped)

	got, err := repo.Get([]string{"GOOD", "GAPS"}, time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 350.0, got["GOOD"], 1e-9)
	assert.InDelta(t, 300.0, got["GAPS"], 1e-9)
}

func TestRefreshAll_SkipsInsufficientHistory(t *testing.T) {
	repo := newTestRepo(t)
	market := &fakeBars{
		snapshots: map[string]domain.Snapshot{
			"THIN":   {Symbol: "THIN", Price: 10, Volume: 1},
			"NODATA": {Symbol: "NODATA", Price: 10, Volume: 1},
			"ZEROES": {Symbol: "ZEROES", Price: 10, Volume: 1},
		},
		bars: map[string][]domain.HistoricalBar{
			"THIN":   dailyBars(100, 200), // under minBars
			"ZEROES": dailyBars(0, 0, 0, 0, 0, 0),
			// NODATA has no history at all.
		},
	}

	job := NewRefreshJob(market, repo, 1000, zerolog.Nop())
	stats, err := job.RefreshAll(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 3, stats.Skipped)

	// Nothing fabricated.
	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRefreshAll_EmptySnapshotFails(t *testing.T) {
	repo := newTestRepo(t)
	market := &fakeBars{snapshots: map[string]domain.Snapshot{}}

	job := NewRefreshJob(market, repo, 1000, zerolog.Nop())
	_, err := job.RefreshAll(context.Background(), 10)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestRefreshStale_OnlyTouchesStaleEntries(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.UpsertBatch(map[string]float64{"FRESH": 1_000_000})
	require.NoError(t, err)

	market := &fakeBars{
		bars: map[string][]domain.HistoricalBar{
			"FRESH": dailyBars(1, 2, 3, 4, 5, 6),
		},
	}
	job := NewRefreshJob(market, repo, 1000, zerolog.Nop())

	// Nothing is older than 24h, so nothing is refreshed.
	stats, err := job.RefreshStale(context.Background(), 24, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Requested)

	got, err := repo.Get([]string{"FRESH"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, got["FRESH"])
}

func TestRefreshAll_CancelledContextReturnsTimeout(t *testing.T) {
	repo := newTestRepo(t)
	market := &fakeBars{
		snapshots: map[string]domain.Snapshot{
			"ONLY": {Symbol: "ONLY", Price: 10, Volume: 1},
		},
		bars: map[string][]domain.HistoricalBar{
			"ONLY": dailyBars(100, 200, 300, 400, 500),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewRefreshJob(market, repo, 1000, zerolog.Nop())
	_, err := job.RefreshAll(ctx, 10)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}
