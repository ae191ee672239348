package features

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/corvid-labs/scout/internal/domain"
)

// GateResult is the outcome of a freshness pass.
type GateResult struct {
	Fresh   []FeatureSet
	Dropped []FeatureSet
}

// Gate enforces the fail-closed freshness policy: symbols with critical
// freshness failures are dropped, and when too large a fraction of the
// input is stale the whole run refuses to produce output.
type Gate struct {
	maxStaleFraction float64
	log              zerolog.Logger
}

// NewGate creates a freshness gate. maxStaleFraction is the dropped-input
// fraction above which the gate fails closed (default 0.40).
func NewGate(maxStaleFraction float64, log zerolog.Logger) *Gate {
	return &Gate{
		maxStaleFraction: maxStaleFraction,
		log:              log.With().Str("component", "freshness_gate").Logger(),
	}
}

// Apply partitions the sets into fresh and dropped. When the dropped
// fraction exceeds the configured maximum it returns ErrStaleData and no
// sets at all: stale output is worse than no output.
func (g *Gate) Apply(sets []FeatureSet) (GateResult, error) {
	if len(sets) == 0 {
		return GateResult{}, nil
	}

	var result GateResult
	for _, fs := range sets {
		if fs.IsFresh {
			result.Fresh = append(result.Fresh, fs)
		} else {
			result.Dropped = append(result.Dropped, fs)
		}
	}

	staleFraction := float64(len(result.Dropped)) / float64(len(sets))
	if staleFraction > g.maxStaleFraction {
		g.log.Error().
			Int("total", len(sets)).
			Int("stale", len(result.Dropped)).
			Float64("fraction", staleFraction).
			Float64("max", g.maxStaleFraction).
			Msg("Freshness gate failed closed")
		return GateResult{Dropped: result.Dropped}, fmt.Errorf(
			"%w: %d/%d symbols stale (max fraction %.2f)",
			domain.ErrStaleData, len(result.Dropped), len(sets), g.maxStaleFraction)
	}

	if len(result.Dropped) > 0 {
		g.log.Warn().
			Int("dropped", len(result.Dropped)).
			Int("kept", len(result.Fresh)).
			Msg("Dropped stale symbols")
	}
	return result, nil
}

// MaxStaleFraction exposes the configured threshold for run stats.
func (g *Gate) MaxStaleFraction() float64 {
	return g.maxStaleFraction
}
