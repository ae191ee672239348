package discovery

import (
	"math"
)

// Archetype is a fixed historical winner feature vector. Archetypes are
// configuration, not input data: a deployment carries a small static set.
type Archetype struct {
	Name      string
	Rvol      float64
	Price     float64
	ChangePct float64
	Outcome   string
	Weight    float64
}

// DefaultArchetypes are the three reference winners the matcher ships
// with. Each is a stealth setup the day before a multi-hundred-percent
// move.
func DefaultArchetypes() []Archetype {
	return []Archetype{
		{Name: "VIGL", Rvol: 1.8, Price: 2.94, ChangePct: 0.4, Outcome: "+324%", Weight: 1.0},
		{Name: "CRWV", Rvol: 1.9, Price: 1.82, ChangePct: -0.2, Outcome: "+171%", Weight: 0.9},
		{Name: "AEVA", Rvol: 1.7, Price: 4.66, ChangePct: 1.1, Outcome: "+162%", Weight: 0.85},
	}
}

// PatternMatch is the best-archetype result for one candidate.
type PatternMatch struct {
	Archetype  string
	Outcome    string
	Similarity float64
	Bonus      float64
}

// PatternMatcher scores candidates against the archetype set.
type PatternMatcher struct {
	archetypes []Archetype
}

// NewPatternMatcher creates a matcher over the given archetypes; an empty
// slice falls back to the defaults.
func NewPatternMatcher(archetypes []Archetype) *PatternMatcher {
	if len(archetypes) == 0 {
		archetypes = DefaultArchetypes()
	}
	return &PatternMatcher{archetypes: archetypes}
}

// Match computes the weighted similarity of a candidate's (rvol, price,
// changePct) vector to each archetype and returns the best, with its bonus
// points.
//
// Relative volume dominates the composite (70%) because it is the most
// predictive feature; price gets 20% and daily change 10%.
func (m *PatternMatcher) Match(rvol, price, changePct float64) PatternMatch {
	best := PatternMatch{}
	for _, arch := range m.archetypes {
		sim := similarity(rvol, price, changePct, arch)
		if sim > best.Similarity {
			best = PatternMatch{
				Archetype:  arch.Name,
				Outcome:    arch.Outcome,
				Similarity: roundTo(sim, 2),
			}
		}
	}
	best.Bonus = bonusPoints(best.Similarity)
	return best
}

func similarity(rvol, price, changePct float64, arch Archetype) float64 {
	// Rvol: inverted relative distance, exponent 0.7 flattens the falloff.
	rvolSim := 0.0
	if denom := math.Max(rvol, arch.Rvol); denom > 0 {
		rvolSim = math.Pow(math.Max(0, 1-math.Abs(rvol-arch.Rvol)/denom), 0.7)
	}

	// Price: ratio of the smaller to the larger, square-rooted for a
	// broader match band.
	priceSim := 0.0
	if price > 0 && arch.Price > 0 {
		priceSim = math.Sqrt(math.Min(price, arch.Price) / math.Max(price, arch.Price))
	}

	// Change: distance normalized by 5 percentage points; both sides of a
	// stealth setup sit near flat.
	changeSim := math.Max(0, 1-math.Abs(changePct-arch.ChangePct)/5.0)

	return (0.70*rvolSim + 0.20*priceSim + 0.10*changeSim) * arch.Weight
}

// bonusPoints maps similarity to probability bonus points.
func bonusPoints(sim float64) float64 {
	switch {
	case sim >= 0.85:
		return 15
	case sim >= 0.75:
		return 10
	case sim >= 0.65:
		return 5
	default:
		return 0
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
