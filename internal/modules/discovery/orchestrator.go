package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/corvid-labs/scout/internal/config"
	"github.com/corvid-labs/scout/internal/domain"
	"github.com/corvid-labs/scout/internal/modules/features"
	"github.com/corvid-labs/scout/internal/modules/session"
	"github.com/corvid-labs/scout/internal/modules/volume"
)

// Stage names, in pipeline order.
const (
	stageUniverse       = "universe"
	stageTypeFilter     = "type_filter"
	stagePriceBand      = "price_band"
	stageLiquidity      = "liquidity_floor"
	stageStealthBand    = "stealth_band"
	stagePostExplosion  = "post_explosion"
	stageMomentumRank   = "momentum_rank"
	stageVolumeLookup   = "volume_lookup"
	stageFreshness      = "freshness_gate"
	stageRvol           = "rvol_filter"
	stageScoring        = "scoring"
	stageRegime         = "regime_threshold"
	stageFinal          = "final_selection"
)

// Run failure reasons written into the status record.
const (
	reasonUpstreamUnavailable = "upstream_unavailable"
	reasonVolumeCacheEmpty    = "volume_cache_empty"
	reasonFailClosedStaleness = "fail_closed_staleness"
	reasonRunTimeout          = "run_timeout"
)

// fanOutLimit caps concurrent per-symbol history fetches.
const fanOutLimit = 20

// atrPeriod is the ATR lookback used for the derived atr_pct feature.
const atrPeriod = 14

// Params are the per-invocation knobs of a discovery run.
type Params struct {
	Limit   int  // max candidates to publish (0 = config default)
	Relaxed bool // lift the price cap to the relaxed maximum
}

// MarketClient is the slice of the market data provider the orchestrator
// consumes.
type MarketClient interface {
	BulkSnapshot(ctx context.Context) map[string]domain.Snapshot
	HistoricalBars(ctx context.Context, symbol, timespan string, limit int) []domain.HistoricalBar
}

// Orchestrator composes the pipeline into one deterministic staged run.
type Orchestrator struct {
	cfg       *config.Config
	market    MarketClient
	volumes   *volume.Repository
	builder   *features.Builder
	gate      *features.Gate
	adaptive  *AdaptiveParams
	matcher   *PatternMatcher
	lock      *JobLock
	publisher *Publisher
	clock     *session.Clock
	log       zerolog.Logger
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(
	cfg *config.Config,
	market MarketClient,
	volumes *volume.Repository,
	builder *features.Builder,
	gate *features.Gate,
	adaptive *AdaptiveParams,
	matcher *PatternMatcher,
	lock *JobLock,
	publisher *Publisher,
	clock *session.Clock,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		market:    market,
		volumes:   volumes,
		builder:   builder,
		gate:      gate,
		adaptive:  adaptive,
		matcher:   matcher,
		lock:      lock,
		publisher: publisher,
		clock:     clock,
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
}

// lockKey scopes the singleton discipline per strategy.
func (o *Orchestrator) lockKey() string {
	return "scout:discovery:lock:" + o.cfg.Strategy
}

// Run executes one discovery pass. Exactly one run per strategy executes
// at a time; a second caller gets ErrLockHeld and no published result.
// Whole-run failures publish an empty-but-explanatory RunResult so
// dashboards always see a reason, never a silent gap or fabricated data.
func (o *Orchestrator) Run(ctx context.Context, params Params) (domain.RunResult, error) {
	runID := uuid.NewString()
	start := time.Now()

	lockTTL := time.Duration(o.cfg.Calibration.LockTTLS) * time.Second
	acquired, err := o.lock.Acquire(ctx, o.lockKey(), runID, lockTTL)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if !acquired {
		return domain.RunResult{}, domain.ErrLockHeld
	}
	defer func() {
		// Release with a fresh context: the run context may already be
		// cancelled and a crashed release is covered by the TTL anyway.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.lock.Release(releaseCtx, o.lockKey(), runID); err != nil {
			o.log.Warn().Err(err).Msg("Lock release failed")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.MaxRunSeconds)*time.Second)
	defer cancel()

	// The emergency override widens the net like --relaxed does, and only
	// until its expiry; a forgotten flag ages out on its own.
	if o.cfg.EmergencyActive(start) {
		o.log.Warn().Time("until", o.cfg.EmergencyExpiry).Msg("Emergency override active, running relaxed")
		params.Relaxed = true
	}

	result, err := o.pipeline(runCtx, runID, params, start)
	result.RunID = runID
	result.Strategy = o.cfg.Strategy
	result.Timestamp = time.Now()
	result.Stats.DurationMs = time.Since(start).Milliseconds()
	if result.Candidates == nil {
		result.Candidates = []domain.Candidate{}
	}

	if pubErr := o.publisher.Publish(ctx, result); pubErr != nil {
		o.log.Error().Err(pubErr).Msg("Failed to publish run result")
		if err == nil {
			err = pubErr
		}
	}
	return result, err
}

// pipeline runs the staged filters and scoring. It returns a result even
// on error: the caller publishes whatever explanation we produced.
func (o *Orchestrator) pipeline(ctx context.Context, runID string, params Params, start time.Time) (domain.RunResult, error) {
	trace := NewStageTracer()
	th := o.cfg.Calibration.Thresholds
	sess := o.clock.Current(start)

	o.log.Info().
		Str("run_id", runID).
		Str("session", string(sess)).
		Bool("relaxed", params.Relaxed).
		Msg("Discovery run starting")

	// Stage 0: universe ingestion. One bulk call, never retried here.
	snapshots := o.market.BulkSnapshot(ctx)
	trace.Enter(stageUniverse, len(snapshots))
	trace.Exit(stageUniverse, len(snapshots), nil)
	if len(snapshots) == 0 {
		return o.emptyResult(trace, domain.RunStats{Reason: reasonUpstreamUnavailable}),
			domain.ErrUpstreamUnavailable
	}

	universe := make([]domain.Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		universe = append(universe, s)
	}
	stats := domain.RunStats{UniverseSize: len(universe)}

	// Stages 1-4: cheap snapshot-only filters.
	kept := o.applyStage(trace, stageTypeFilter, universe, func(in []domain.Snapshot) ([]domain.Snapshot, []Rejection) {
		return FilterTypes(in, th.ExcludedTypes)
	})

	maxPrice := th.MaxPrice
	if params.Relaxed {
		maxPrice = th.RelaxedMaxPrice
	}
	kept = o.applyStage(trace, stagePriceBand, kept, func(in []domain.Snapshot) ([]domain.Snapshot, []Rejection) {
		return FilterPriceBand(in, th.MinPrice, maxPrice)
	})
	kept = o.applyStage(trace, stageLiquidity, kept, func(in []domain.Snapshot) ([]domain.Snapshot, []Rejection) {
		return FilterLiquidity(in, th.MinVolume)
	})
	kept = o.applyStage(trace, stageStealthBand, kept, func(in []domain.Snapshot) ([]domain.Snapshot, []Rejection) {
		return FilterStealthBand(in, th.MinDailyChange, th.MaxDailyChange)
	})

	if err := ctx.Err(); err != nil {
		return o.emptyResult(trace, mergeStats(stats, domain.RunStats{Reason: reasonRunTimeout})), domain.ErrTimeout
	}

	// Stage 5: post-explosion gate over real history, fetched in a bounded
	// fan-out before the stage itself.
	lookbacks := o.fetchLookbacks(ctx, kept)
	kept = o.applyStage(trace, stagePostExplosion, kept, func(in []domain.Snapshot) ([]domain.Snapshot, []Rejection) {
		return FilterPostExplosion(in, lookbacks, th.MaxChange5d, th.MaxChange20d)
	})

	// Stage 6: deterministic momentum pre-rank, optional trim.
	trace.Enter(stageMomentumRank, len(kept))
	ranked := PreRank(kept, th.MomentumTopN)
	var trimRejects []Rejection
	if len(ranked) < len(kept) {
		inRanked := make(map[string]bool, len(ranked))
		for _, s := range ranked {
			inRanked[s.Symbol] = true
		}
		for _, s := range kept {
			if !inRanked[s.Symbol] {
				trimRejects = append(trimRejects, Rejection{Symbol: s.Symbol, Reason: ReasonBelowMomentumCut})
			}
		}
	}
	trace.Exit(stageMomentumRank, len(ranked), trimRejects)
	kept = ranked

	if err := ctx.Err(); err != nil {
		return o.emptyResult(trace, mergeStats(stats, domain.RunStats{Reason: reasonRunTimeout})), domain.ErrTimeout
	}

	// Stage 7: volume-average lookup. An empty cache is fatal; rvol cannot
	// be computed honestly without it.
	symbols := make([]string, len(kept))
	for i, s := range kept {
		symbols[i] = s.Symbol
	}
	staleness := time.Duration(th.StalenessDays) * 24 * time.Hour
	averages, err := o.volumes.Get(symbols, staleness)
	if err != nil {
		return o.emptyResult(trace, mergeStats(stats, domain.RunStats{Reason: reasonVolumeCacheEmpty})),
			fmt.Errorf("volume lookup failed: %w", err)
	}
	trace.Enter(stageVolumeLookup, len(kept))
	trace.Exit(stageVolumeLookup, len(kept), nil)
	if len(kept) > 0 && len(averages) == 0 {
		return o.emptyResult(trace, mergeStats(stats, domain.RunStats{Reason: reasonVolumeCacheEmpty})),
			domain.ErrCacheEmpty
	}

	// Stage 8: feature assembly and the fail-closed freshness gate.
	sets := make([]features.FeatureSet, 0, len(kept))
	fsBySymbol := make(map[string]features.FeatureSet, len(kept))
	fth := features.ForSession(sess)
	for _, s := range kept {
		fs := o.builder.Build(ctx, s, sess, fth)
		sets = append(sets, fs)
	}

	trace.Enter(stageFreshness, len(sets))
	gateResult, gateErr := o.gate.Apply(sets)
	var staleRejects []Rejection
	for _, fs := range gateResult.Dropped {
		staleRejects = append(staleRejects, Rejection{
			Symbol:  fs.Symbol,
			Reason:  ReasonStaleFeatures,
			Details: fmt.Sprintf("%v", fs.FreshnessFailures),
		})
	}
	if gateErr != nil {
		trace.Exit(stageFreshness, 0, append(staleRejects, Rejection{
			Reason:  ReasonFailClosed,
			Details: fmt.Sprintf("stale=%d threshold=%.2f", len(gateResult.Dropped), o.gate.MaxStaleFraction()),
		}))
		failStats := mergeStats(stats, domain.RunStats{
			Reason:    reasonFailClosedStaleness,
			Stale:     len(gateResult.Dropped),
			Threshold: o.gate.MaxStaleFraction(),
		})
		return o.emptyResult(trace, failStats), gateErr
	}
	trace.Exit(stageFreshness, len(gateResult.Fresh), staleRejects)

	fresh := make([]domain.Snapshot, 0, len(gateResult.Fresh))
	for _, fs := range gateResult.Fresh {
		fsBySymbol[fs.Symbol] = fs
		fresh = append(fresh, snapshots[fs.Symbol])
	}

	// Stage 9: true relative volume.
	trace.Enter(stageRvol, len(fresh))
	rvolKept, rvolRejected := FilterRvol(fresh, averages, th)
	trace.Exit(stageRvol, len(rvolKept), rvolRejected)

	if err := ctx.Err(); err != nil {
		return o.emptyResult(trace, mergeStats(stats, domain.RunStats{Reason: reasonRunTimeout})), domain.ErrTimeout
	}

	// Stage 10: scoring with adaptive weights.
	weights := o.adaptive.Weights(ctx)
	regime := o.adaptive.Regime(ctx)
	scorer := NewScorer(weights, o.matcher, o.cfg.Calibration.EntryRules)

	trace.Enter(stageScoring, len(rvolKept))
	candidates := make([]domain.Candidate, 0, len(rvolKept))
	for _, rv := range rvolKept {
		fs := fsBySymbol[rv.Snapshot.Symbol]
		in := ScoreInput{
			Symbol:        rv.Snapshot.Symbol,
			Price:         rv.Snapshot.Price,
			Volume:        rv.Snapshot.Volume,
			ChangePct:     rv.Snapshot.ChangePct,
			Rvol:          rv.Rvol,
			MomentumScore: MomentumScore(rv.Snapshot),
			ShortInterest: fs.ShortInterest,
			BorrowRate:    fs.BorrowRate,
			FloatShares:   fs.FloatShares,
		}
		candidates = append(candidates, scorer.Score(in))
	}
	trace.Exit(stageScoring, len(candidates), nil)

	// Stage 11: regime acceptance threshold, applied before tagging is
	// meaningful to consumers.
	trace.Enter(stageRegime, len(candidates))
	accepted := candidates[:0]
	var regimeRejects []Rejection
	for _, c := range candidates {
		if c.ExplosionProbability < regime.Threshold {
			regimeRejects = append(regimeRejects, Rejection{
				Symbol:  c.Symbol,
				Reason:  ReasonBelowRegimeCut,
				Details: fmt.Sprintf("probability=%.1f threshold=%.0f regime=%s", c.ExplosionProbability, regime.Threshold, regime.Name),
			})
			continue
		}
		accepted = append(accepted, c)
	}
	trace.Exit(stageRegime, len(accepted), regimeRejects)

	// Stage 12: deterministic rank and cut.
	SortCandidates(accepted)
	limit := params.Limit
	if limit <= 0 {
		limit = o.cfg.MaxCandidates
	}
	if len(accepted) > limit {
		accepted = accepted[:limit]
	}
	trace.Enter(stageFinal, len(accepted))
	trace.Exit(stageFinal, len(accepted), nil)

	stats.Candidates = len(accepted)
	o.log.Info().
		Str("run_id", runID).
		Int("universe", stats.UniverseSize).
		Int("candidates", len(accepted)).
		Str("regime", regime.Name).
		Msg("Discovery run complete")

	return domain.RunResult{
		Candidates: accepted,
		Stats:      stats,
		Trace:      trace.ToMap(),
	}, nil
}

// applyStage runs one snapshot filter with tracing.
func (o *Orchestrator) applyStage(
	trace *StageTracer,
	name string,
	in []domain.Snapshot,
	filter func([]domain.Snapshot) ([]domain.Snapshot, []Rejection),
) []domain.Snapshot {
	trace.Enter(name, len(in))
	kept, rejected := filter(in)
	trace.Exit(name, len(kept), rejected)
	return kept
}

// fetchLookbacks pulls daily history for the survivors in a bounded
// fan-out and computes the 5/20-day moves. Failures simply leave a symbol
// out of the map; the post-explosion gate treats missing history as allow.
// The same bars feed the derived ATR feature.
func (o *Orchestrator) fetchLookbacks(ctx context.Context, snaps []domain.Snapshot) map[string]Lookback {
	lookbacks := make(map[string]Lookback, len(snaps))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)

	for _, s := range snaps {
		sym := s.Symbol
		g.Go(func() error {
			bars := o.market.HistoricalBars(gctx, sym, "day", 21)
			if len(bars) == 0 {
				return nil
			}
			lb := ComputeLookback(bars)
			o.builder.ComputeATRPct(gctx, sym, bars, atrPeriod)

			mu.Lock()
			lookbacks[sym] = lb
			mu.Unlock()
			return nil
		})
	}
	// Workers only return nil; Wait is for the barrier.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		o.log.Warn().Err(err).Msg("History fan-out incomplete")
	}
	return lookbacks
}

// emptyResult builds the explanatory empty result for fatal-for-run
// failures.
func (o *Orchestrator) emptyResult(trace *StageTracer, stats domain.RunStats) domain.RunResult {
	return domain.RunResult{
		Candidates: []domain.Candidate{},
		Stats:      stats,
		Trace:      trace.ToMap(),
	}
}

func mergeStats(base, extra domain.RunStats) domain.RunStats {
	if extra.Reason != "" {
		base.Reason = extra.Reason
	}
	if extra.Stale != 0 {
		base.Stale = extra.Stale
	}
	if extra.Threshold != 0 {
		base.Threshold = extra.Threshold
	}
	return base
}
