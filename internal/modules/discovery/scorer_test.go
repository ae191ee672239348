package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/scout/internal/config"
	"github.com/corvid-labs/scout/internal/domain"
)

func newTestScorer() *Scorer {
	return NewScorer(
		config.DefaultWeights().Normalized(),
		NewPatternMatcher(nil),
		config.DefaultCalibration().EntryRules,
	)
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 0.0, norm(-5, 0, 100), 1e-9)
	assert.InDelta(t, 0.5, norm(50, 0, 100), 1e-6)
	assert.InDelta(t, 1.0, norm(150, 0, 100), 1e-9)
	// Degenerate range does not divide by zero.
	assert.NotPanics(t, func() { norm(1, 1, 1) })
}

func TestScorer_ProbabilityBounds(t *testing.T) {
	s := newTestScorer()

	// Max out every component; the cap still holds.
	si := 40.0
	br := 100.0
	fl := 1.0
	c := s.Score(ScoreInput{
		Symbol:        "MAX",
		Price:         0.10,
		Volume:        5e8,
		ChangePct:     100,
		Rvol:          50,
		MomentumScore: 200,
		CatalystScore: 100,
		ShortInterest: &si,
		BorrowRate:    &br,
		FloatShares:   &fl,
	})

	assert.LessOrEqual(t, c.ExplosionProbability, 95.0)
	assert.GreaterOrEqual(t, c.ExplosionProbability, 0.0)
}

func TestScorer_MissingOptionalsContributeZero(t *testing.T) {
	s := newTestScorer()

	base := ScoreInput{
		Symbol:        "X",
		Price:         3.00,
		Volume:        9e6,
		ChangePct:     0.4,
		Rvol:          3.0,
		MomentumScore: 16.8,
	}

	without := s.Score(base)

	si := 30.0
	withSI := base
	withSI.ShortInterest = &si
	with := s.Score(withSI)

	// Real short interest can only add; absence never turns into a
	// synthesized nonzero value.
	assert.Greater(t, with.ExplosionProbability, without.ExplosionProbability)
}

func TestScorer_LowerPriceScoresHigher(t *testing.T) {
	s := newTestScorer()

	cheap := s.Score(ScoreInput{Symbol: "CHEAP", Price: 1, Rvol: 2, MomentumScore: 10})
	dear := s.Score(ScoreInput{Symbol: "DEAR", Price: 49, Rvol: 2, MomentumScore: 10})

	assert.Greater(t, cheap.BaseProbability, dear.BaseProbability)
}

func TestScorer_ActionTags(t *testing.T) {
	s := newTestScorer()

	tests := []struct {
		probability float64
		tag         domain.ActionTag
	}{
		{75.0, domain.TagTradeReady},
		{74.9, domain.TagMonitor},
		{60.0, domain.TagMonitor},
		{59.9, domain.TagWatchlist},
		{0, domain.TagWatchlist},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.tag, s.tag(tt.probability), "probability=%v", tt.probability)
	}
}

func TestSortCandidates_DeterministicTuple(t *testing.T) {
	candidates := []domain.Candidate{
		{Symbol: "C", ExplosionProbability: 50, PatternSimilarity: 0.5, Rvol: 2},
		{Symbol: "A", ExplosionProbability: 70, PatternSimilarity: 0.5, Rvol: 2},
		{Symbol: "B", ExplosionProbability: 70, PatternSimilarity: 0.9, Rvol: 2},
		{Symbol: "D", ExplosionProbability: 70, PatternSimilarity: 0.9, Rvol: 5},
	}

	SortCandidates(candidates)

	want := []string{"D", "B", "A", "C"}
	got := make([]string, len(candidates))
	for i, c := range candidates {
		got[i] = c.Symbol
	}
	require.Equal(t, want, got)
}

func TestSortCandidates_StableAcrossRuns(t *testing.T) {
	mk := func() []domain.Candidate {
		return []domain.Candidate{
			{Symbol: "B", ExplosionProbability: 60, PatternSimilarity: 0.7, Rvol: 3},
			{Symbol: "A", ExplosionProbability: 60, PatternSimilarity: 0.7, Rvol: 3},
		}
	}
	first := mk()
	second := mk()
	SortCandidates(first)
	SortCandidates(second)
	assert.Equal(t, first, second)
	assert.Equal(t, "A", first[0].Symbol)
}
