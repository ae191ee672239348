package discovery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/corvid-labs/scout/internal/clients/learning"
	"github.com/corvid-labs/scout/internal/config"
)

// Regime is the market-regime recommendation driving the acceptance
// threshold applied before tagging.
type Regime struct {
	Name          string  `json:"regime"`
	Confidence    float64 `json:"confidence"`
	Threshold     float64 `json:"threshold"`
	UsingDefaults bool    `json:"using_defaults"`
}

// DefaultRegime is the checked-in fallback: a balanced market with a 60
// point acceptance threshold.
func DefaultRegime() Regime {
	return Regime{
		Name:          "balanced",
		Confidence:    0.50,
		Threshold:     60,
		UsingDefaults: true,
	}
}

// AdaptiveParams resolves scoring weights and the regime threshold,
// preferring the learning service and degrading silently to defaults. The
// learning client already enforces the 2 s budget and the 0.60 confidence
// floor; this layer maps its payloads onto the config types.
type AdaptiveParams struct {
	client   *learning.Client
	defaults config.Weights
	log      zerolog.Logger
}

// NewAdaptiveParams creates the resolver. defaults must already be
// normalized.
func NewAdaptiveParams(client *learning.Client, defaults config.Weights, log zerolog.Logger) *AdaptiveParams {
	return &AdaptiveParams{
		client:   client,
		defaults: defaults,
		log:      log.With().Str("component", "adaptive_params").Logger(),
	}
}

// Weights returns the effective scoring weights for this run.
func (a *AdaptiveParams) Weights(ctx context.Context) config.Weights {
	resp, ok := a.client.AdaptiveWeights(ctx)
	if !ok {
		return a.defaults
	}

	// Unknown keys are ignored; missing keys keep their default so a
	// partial recommendation cannot zero out a component.
	w := a.defaults
	if v, ok := resp.Weights["momentum"]; ok {
		w.Momentum = v
	}
	if v, ok := resp.Weights["rvol"]; ok {
		w.Rvol = v
	}
	if v, ok := resp.Weights["catalyst"]; ok {
		w.Catalyst = v
	}
	if v, ok := resp.Weights["price"]; ok {
		w.Price = v
	}
	if v, ok := resp.Weights["change"]; ok {
		w.Change = v
	}
	if v, ok := resp.Weights["short_interest"]; ok {
		w.ShortInterest = v
	}
	if v, ok := resp.Weights["borrow_rate"]; ok {
		w.BorrowRate = v
	}
	if v, ok := resp.Weights["float"]; ok {
		w.Float = v
	}

	a.log.Info().Float64("confidence", resp.Confidence).Msg("Using adaptive weights from learning service")
	return w.Normalized()
}

// Regime returns the effective market regime for this run.
func (a *AdaptiveParams) Regime(ctx context.Context) Regime {
	resp, ok := a.client.MarketRegime(ctx)
	if !ok {
		return DefaultRegime()
	}
	a.log.Info().
		Str("regime", resp.Regime).
		Float64("confidence", resp.Confidence).
		Float64("threshold", resp.RecommendedThreshold).
		Msg("Using market regime from learning service")
	return Regime{
		Name:       resp.Regime,
		Confidence: resp.Confidence,
		Threshold:  resp.RecommendedThreshold,
	}
}

// Failures reports how many learning calls degraded to defaults.
func (a *AdaptiveParams) Failures() int64 {
	return a.client.Failures()
}
