package discovery

import (
	"math"
	"sort"

	"github.com/corvid-labs/scout/internal/config"
	"github.com/corvid-labs/scout/internal/domain"
)

// maxProbability caps the published explosion probability. Nothing is ever
// a 100.
const maxProbability = 95.0

// normEpsilon keeps the normalization denominator non-zero.
const normEpsilon = 1e-9

// ScoreInput is everything the scorer may use for one candidate. Optional
// inputs are pointers; nil contributes zero, never a synthesized default.
type ScoreInput struct {
	Symbol        string
	Price         float64
	Volume        float64
	ChangePct     float64
	Rvol          float64
	MomentumScore float64
	CatalystScore float64

	ShortInterest *float64 // percent of float
	BorrowRate    *float64 // percent annualized
	FloatShares   *float64
}

// Scorer computes the 8-factor explosion probability.
type Scorer struct {
	weights config.Weights
	matcher *PatternMatcher
	rules   config.EntryRules
}

// NewScorer creates a scorer with the given (already normalized) weights.
func NewScorer(weights config.Weights, matcher *PatternMatcher, rules config.EntryRules) *Scorer {
	return &Scorer{weights: weights, matcher: matcher, rules: rules}
}

// norm clamps (x-lo)/(hi-lo) into [0,1].
func norm(x, lo, hi float64) float64 {
	v := (x - lo) / (hi - lo + normEpsilon)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the candidate for one input: weighted base probability,
// pattern bonus, capped total and action tag. The tag depends only on the
// entry rules; the caller applies the regime threshold to the scored
// candidates and drops those below it.
func (s *Scorer) Score(in ScoreInput) domain.Candidate {
	w := s.weights

	base := w.Momentum * norm(in.MomentumScore, 0, 200)
	base += w.Rvol * norm(in.Rvol, 1, 50)
	base += w.Catalyst * norm(in.CatalystScore, 0, 100)
	base += w.Price * (1 - norm(in.Price, 0, 50))   // lower price scores higher
	base += w.Change * norm(math.Abs(in.ChangePct), 0, 100)

	// Optional inputs: absent means zero contribution.
	if in.ShortInterest != nil {
		base += w.ShortInterest * norm(*in.ShortInterest, 0, 40)
	}
	if in.BorrowRate != nil {
		base += w.BorrowRate * norm(*in.BorrowRate, 0, 100)
	}
	if in.FloatShares != nil {
		base += w.Float * (1 - norm(*in.FloatShares, 0, 5e7)) // smaller float scores higher
	}

	baseProbability := 100 * base

	match := s.matcher.Match(in.Rvol, in.Price, in.ChangePct)
	probability := math.Min(baseProbability+match.Bonus, maxProbability)
	probability = roundTo(probability, 1)

	return domain.Candidate{
		Symbol:               in.Symbol,
		Price:                in.Price,
		Volume:               in.Volume,
		ChangePct:            in.ChangePct,
		Rvol:                 in.Rvol,
		MomentumScore:        roundTo(in.MomentumScore, 2),
		PatternMatch:         match.Archetype,
		PatternSimilarity:    match.Similarity,
		PatternBonus:         match.Bonus,
		BaseProbability:      roundTo(baseProbability, 1),
		ExplosionProbability: probability,
		ActionTag:            s.tag(probability),
	}
}

// tag derives the action tag from the entry rules.
func (s *Scorer) tag(probability float64) domain.ActionTag {
	switch {
	case probability >= s.rules.TradeReadyMin:
		return domain.TagTradeReady
	case probability >= s.rules.MonitorMin:
		return domain.TagMonitor
	default:
		return domain.TagWatchlist
	}
}

// SortCandidates orders candidates by (explosionProbability desc,
// patternSimilarity desc, rvol desc), stably, with a symbol tiebreak so
// two identical runs produce identical lists.
func SortCandidates(candidates []domain.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ExplosionProbability != b.ExplosionProbability {
			return a.ExplosionProbability > b.ExplosionProbability
		}
		if a.PatternSimilarity != b.PatternSimilarity {
			return a.PatternSimilarity > b.PatternSimilarity
		}
		if a.Rvol != b.Rvol {
			return a.Rvol > b.Rvol
		}
		return a.Symbol < b.Symbol
	})
}
