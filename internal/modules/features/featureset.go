package features

import (
	"context"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/corvid-labs/scout/internal/domain"
	"github.com/corvid-labs/scout/internal/modules/session"
)

// Freshness failure reason codes. The critical ones trip the gate.
const (
	failQuoteMissing       = "quotes_missing"
	failQuoteStale         = "quotes_stale"
	failBarStale           = "bars_stale"
	failOptionsStale       = "options_stale"
	failShortInterestStale = "short_interest_stale"
)

// FeatureSet is the assembled, provenance-aware view of one symbol for one
// session. Optional features are pointers; nil means "no real data" and is
// never defaulted.
type FeatureSet struct {
	Symbol  string
	Session session.Session

	Price  float64
	Volume float64
	VWAP   *float64
	RelVol *float64
	ATRPct *float64

	ATMIV        *float64
	IVPercentile *float64
	CallPutRatio *float64

	ShortInterest *float64
	BorrowRate    *float64
	FloatShares   *float64

	Provenance        map[string]Entry
	FreshnessFailures []string
	IsFresh           bool
}

// hasCritical reports whether any freshness failure is critical (missing
// or stale quote/bar).
func (fs *FeatureSet) hasCritical() bool {
	for _, f := range fs.FreshnessFailures {
		switch f {
		case failQuoteMissing, failQuoteStale, failBarStale:
			return true
		}
	}
	return false
}

// Thresholds are per-session freshness budgets, seconds unless noted.
type Thresholds struct {
	QuoteSec         float64
	BarSec           float64
	OptionsSec       float64
	ShortInterestDay float64
}

// RegularThresholds are the regular-session defaults; other sessions apply
// the session multiplier.
func RegularThresholds() Thresholds {
	return Thresholds{
		QuoteSec:         2,
		BarSec:           15,
		OptionsSec:       60,
		ShortInterestDay: 20,
	}
}

// ForSession scales the regular thresholds by the session multiplier.
// Short interest ages in days and does not scale.
func ForSession(s session.Session) Thresholds {
	base := RegularThresholds()
	m := s.FreshnessMultiplier()
	return Thresholds{
		QuoteSec:         base.QuoteSec * m,
		BarSec:           base.BarSec * m,
		OptionsSec:       base.OptionsSec * m,
		ShortInterestDay: base.ShortInterestDay,
	}
}

// Builder assembles FeatureSets from the bulk snapshot plus cached live
// features. It never synthesizes a value: features without a real source
// stay nil and the miss is recorded.
type Builder struct {
	cache *Cache
	log   zerolog.Logger
}

// NewBuilder creates a feature-set builder.
func NewBuilder(cache *Cache, log zerolog.Logger) *Builder {
	return &Builder{
		cache: cache,
		log:   log.With().Str("component", "feature_builder").Logger(),
	}
}

// Build assembles the feature set for one symbol.
func (b *Builder) Build(ctx context.Context, snap domain.Snapshot, sess session.Session, th Thresholds) FeatureSet {
	now := time.Now()
	fs := FeatureSet{
		Symbol:     snap.Symbol,
		Session:    sess,
		Price:      snap.Price,
		Volume:     snap.Volume,
		Provenance: make(map[string]Entry),
	}

	// Quote: prefer the live stream, fall back to the snapshot batch value.
	if quote, ok := b.cache.Get(ctx, "quote", snap.Symbol); ok {
		fs.Price = quote.Value
		fs.Provenance["quote"] = quote
		if quote.Age(now).Seconds() > th.QuoteSec {
			fs.FreshnessFailures = append(fs.FreshnessFailures, failQuoteStale)
		}
	} else {
		batchAge := now.Sub(snap.AsOf)
		fs.Provenance["quote"] = Entry{
			Value:      snap.Price,
			Source:     SourceBatch,
			WriteTime:  snap.AsOf,
			Confidence: 0.85,
		}
		if snap.AsOf.IsZero() {
			fs.FreshnessFailures = append(fs.FreshnessFailures, failQuoteMissing)
		} else if batchAge.Seconds() > th.QuoteSec {
			fs.FreshnessFailures = append(fs.FreshnessFailures, failQuoteStale)
		}
	}

	// Minute bar freshness rides on the cached bar feature when the stream
	// is up; without a cached bar no bar check is made and no failure is
	// recorded.
	if bar, ok := b.cache.Get(ctx, "bar_1m", snap.Symbol); ok {
		fs.Provenance["bar_1m"] = bar
		if bar.Age(now).Seconds() > th.BarSec {
			fs.FreshnessFailures = append(fs.FreshnessFailures, failBarStale)
		}
	}

	// VWAP: cached when the stream computed it, else derived from the day
	// bar's typical price.
	if vwap, ok := b.cache.Get(ctx, "vwap", snap.Symbol); ok {
		fs.VWAP = &vwap.Value
		fs.Provenance["vwap"] = vwap
	} else if snap.High > 0 && snap.Low > 0 {
		typical := (snap.High + snap.Low + snap.Price) / 3
		fs.VWAP = &typical
		fs.Provenance["vwap"] = Entry{Value: typical, Source: SourceDerived, WriteTime: now, Confidence: 0.6}
	}

	b.loadOptional(ctx, &fs, "atm_iv", &fs.ATMIV, th.OptionsSec, failOptionsStale, now)
	b.loadOptional(ctx, &fs, "iv_percentile", &fs.IVPercentile, th.OptionsSec, failOptionsStale, now)
	b.loadOptional(ctx, &fs, "call_put_ratio", &fs.CallPutRatio, th.OptionsSec, failOptionsStale, now)
	b.loadOptional(ctx, &fs, "short_interest", &fs.ShortInterest, th.ShortInterestDay*86400, failShortInterestStale, now)
	b.loadOptional(ctx, &fs, "borrow_rate", &fs.BorrowRate, th.ShortInterestDay*86400, failShortInterestStale, now)
	b.loadOptional(ctx, &fs, "float_shares", &fs.FloatShares, th.ShortInterestDay*86400, failShortInterestStale, now)

	if atr, ok := b.cache.Get(ctx, "atr_pct", snap.Symbol); ok {
		fs.ATRPct = &atr.Value
		fs.Provenance["atr_pct"] = atr
	}

	fs.IsFresh = !fs.hasCritical()
	return fs
}

// loadOptional pulls a non-critical feature from the cache, recording a
// staleness failure without tripping the set.
func (b *Builder) loadOptional(ctx context.Context, fs *FeatureSet, name string, dst **float64, maxAgeSec float64, failCode string, now time.Time) {
	entry, ok := b.cache.Peek(ctx, name, fs.Symbol)
	if !ok {
		return
	}
	if entry.Age(now).Seconds() > maxAgeSec {
		fs.FreshnessFailures = append(fs.FreshnessFailures, failCode)
		return
	}
	v := entry.Value
	*dst = &v
	fs.Provenance[name] = entry
}

// ComputeATRPct derives ATR as a fraction of the last close from daily
// bars and stores it as a derived feature. Needs at least period+1 bars;
// returns false otherwise.
func (b *Builder) ComputeATRPct(ctx context.Context, symbol string, bars []domain.HistoricalBar, period int) bool {
	if len(bars) < period+1 {
		return false
	}
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		highs[i] = bar.High
		lows[i] = bar.Low
		closes[i] = bar.Close
	}

	atr := talib.Atr(highs, lows, closes, period)
	last := atr[len(atr)-1]
	lastClose := closes[len(closes)-1]
	if last <= 0 || lastClose <= 0 {
		return false
	}

	b.cache.Put(ctx, "atr_pct", symbol, last/lastClose, SourceDerived, 0.8)
	return true
}
