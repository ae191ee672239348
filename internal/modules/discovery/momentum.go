package discovery

import (
	"math"
	"sort"

	"github.com/corvid-labs/scout/internal/domain"
)

// MomentumScore is the deterministic pre-rank score:
//
//	2*|changePct| + log1p(volume)
//
// Cheap to compute over the whole surviving universe, and stable: the same
// snapshot always produces the same score.
func MomentumScore(s domain.Snapshot) float64 {
	return 2*math.Abs(s.ChangePct) + math.Log1p(s.Volume)
}

// PreRank sorts snapshots by momentum score descending and optionally
// trims to the top N. topN <= 0 disables the trim; downstream stages are
// cheap once volume averages are cached, so the trim is off by default and
// stays a knob.
func PreRank(snaps []domain.Snapshot, topN int) []domain.Snapshot {
	ranked := make([]domain.Snapshot, len(snaps))
	copy(ranked, snaps)

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := MomentumScore(ranked[i]), MomentumScore(ranked[j])
		if si != sj {
			return si > sj
		}
		// Symbol tiebreak keeps the order deterministic across runs.
		return ranked[i].Symbol < ranked[j].Symbol
	})

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
