package features

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/scout/internal/domain"
	"github.com/corvid-labs/scout/internal/modules/session"
)

func TestBuilder_FreshSnapshotQuote(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	b := NewBuilder(cache, zerolog.Nop())

	snap := domain.Snapshot{
		Symbol: "AAPL", Price: 187.5, Volume: 1e6,
		High: 190, Low: 185, AsOf: time.Now(),
	}
	fs := b.Build(context.Background(), snap, session.Regular, RegularThresholds())

	assert.True(t, fs.IsFresh)
	assert.Empty(t, fs.FreshnessFailures)
	assert.Equal(t, 187.5, fs.Price)
	require.NotNil(t, fs.VWAP)
	assert.InDelta(t, (190+185+187.5)/3, *fs.VWAP, 1e-9)
	assert.Equal(t, SourceBatch, fs.Provenance["quote"].Source)
}

func TestBuilder_StaleSnapshotTripsQuote(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	b := NewBuilder(cache, zerolog.Nop())

	snap := domain.Snapshot{
		Symbol: "AAPL", Price: 187.5, Volume: 1e6,
		AsOf: time.Now().Add(-time.Hour),
	}
	fs := b.Build(context.Background(), snap, session.Regular, RegularThresholds())

	assert.False(t, fs.IsFresh)
	assert.Contains(t, fs.FreshnessFailures, failQuoteStale)
}

func TestBuilder_MissingAsOfIsQuoteMissing(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	b := NewBuilder(cache, zerolog.Nop())

	snap := domain.Snapshot{Symbol: "AAPL", Price: 187.5, Volume: 1e6}
	fs := b.Build(context.Background(), snap, session.Regular, RegularThresholds())

	assert.False(t, fs.IsFresh)
	assert.Contains(t, fs.FreshnessFailures, failQuoteMissing)
}

func TestBuilder_StreamQuotePreferred(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	b := NewBuilder(cache, zerolog.Nop())
	ctx := context.Background()

	cache.Put(ctx, "quote", "AAPL", 188.0, SourceStream, 0.8)

	snap := domain.Snapshot{Symbol: "AAPL", Price: 187.5, Volume: 1e6, AsOf: time.Now()}
	fs := b.Build(ctx, snap, session.Regular, RegularThresholds())

	assert.Equal(t, 188.0, fs.Price)
	assert.Equal(t, SourceStream, fs.Provenance["quote"].Source)
	assert.Equal(t, 1.0, fs.Provenance["quote"].Confidence) // 0.8 boosted, capped
}

func TestBuilder_OptionalsStayNilWithoutData(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	b := NewBuilder(cache, zerolog.Nop())

	snap := domain.Snapshot{Symbol: "AAPL", Price: 187.5, Volume: 1e6, AsOf: time.Now()}
	fs := b.Build(context.Background(), snap, session.Regular, RegularThresholds())

	assert.Nil(t, fs.ShortInterest)
	assert.Nil(t, fs.BorrowRate)
	assert.Nil(t, fs.FloatShares)
	assert.Nil(t, fs.ATMIV)
	// Absence of optional data is not a freshness failure.
	assert.True(t, fs.IsFresh)
}

func TestBuilder_CachedShortInterestLoaded(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	b := NewBuilder(cache, zerolog.Nop())
	ctx := context.Background()

	cache.Put(ctx, "short_interest", "GME", 22.5, SourceRest, 0.9)

	snap := domain.Snapshot{Symbol: "GME", Price: 25, Volume: 1e6, AsOf: time.Now()}
	fs := b.Build(ctx, snap, session.Regular, RegularThresholds())

	require.NotNil(t, fs.ShortInterest)
	assert.Equal(t, 22.5, *fs.ShortInterest)
}

func TestForSession_Multipliers(t *testing.T) {
	regular := ForSession(session.Regular)
	premarket := ForSession(session.Premarket)

	assert.Equal(t, regular.QuoteSec*3, premarket.QuoteSec)
	assert.Equal(t, regular.BarSec*3, premarket.BarSec)
	// Short interest ages in days and does not scale with session.
	assert.Equal(t, regular.ShortInterestDay, premarket.ShortInterestDay)
}

func TestComputeATRPct(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	b := NewBuilder(cache, zerolog.Nop())
	ctx := context.Background()

	bars := make([]domain.HistoricalBar, 20)
	for i := range bars {
		bars[i] = domain.HistoricalBar{
			Time: int64(i), Open: 10, High: 10.5, Low: 9.5, Close: 10, Volume: 1e6,
		}
	}

	ok := b.ComputeATRPct(ctx, "AAPL", bars, 14)
	require.True(t, ok)

	entry, found := cache.Get(ctx, "atr_pct", "AAPL")
	require.True(t, found)
	// Constant 1.0-wide true range on a $10 stock: ATR% = 0.10.
	assert.InDelta(t, 0.10, entry.Value, 1e-6)
	assert.Equal(t, SourceDerived, entry.Source)

	// Too little history: no write.
	assert.False(t, b.ComputeATRPct(ctx, "THIN", bars[:5], 14))
	_, found = cache.Get(ctx, "atr_pct", "THIN")
	assert.False(t, found)
}
