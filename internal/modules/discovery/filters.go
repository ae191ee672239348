package discovery

import (
	"fmt"
	"strings"

	"github.com/corvid-labs/scout/internal/config"
	"github.com/corvid-labs/scout/internal/domain"
)

// Rejection reason codes emitted by the filter stages. Every dropped
// symbol in the trace carries exactly one of these.
const (
	ReasonEtfOrFund          = "etf_or_fund"
	ReasonPriceTooLow        = "price_too_low"
	ReasonPriceCap           = "price_cap"
	ReasonVolumeTooLow       = "volume_too_low"
	ReasonAlreadyExploded    = "already_exploded_today"
	ReasonChangeTooNegative  = "change_too_negative"
	ReasonAlreadyRan5d       = "already_ran_5d"
	ReasonAlreadyRan20d      = "already_ran_20d"
	ReasonNoVolumeAverage    = "no_volume_average"
	ReasonRvolTooLow         = "rvol_too_low"
	ReasonRvolDataError      = "rvol_data_error"
	ReasonStaleFeatures      = "stale_features"
	ReasonBelowRegimeCut     = "below_regime_threshold"
	ReasonBelowMomentumCut   = "below_momentum_cutoff"
	ReasonFailClosed         = "fail_closed_staleness"
)

// FilterTypes drops symbols whose upper-cased ticker contains any of the
// excluded substrings (ETFs, funds, trusts and friends).
func FilterTypes(snaps []domain.Snapshot, excluded []string) (kept []domain.Snapshot, rejected []Rejection) {
	kept = make([]domain.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		upper := strings.ToUpper(s.Symbol)
		hit := ""
		for _, sub := range excluded {
			if strings.Contains(upper, sub) {
				hit = sub
				break
			}
		}
		if hit != "" {
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonEtfOrFund,
				Details: hit,
			})
			continue
		}
		kept = append(kept, s)
	}
	return kept, rejected
}

// FilterPriceBand keeps min <= price <= max, inclusive on both ends.
func FilterPriceBand(snaps []domain.Snapshot, min, max float64) (kept []domain.Snapshot, rejected []Rejection) {
	kept = make([]domain.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		switch {
		case s.Price < min:
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonPriceTooLow,
				Details: fmt.Sprintf("price=%.4f min=%.2f", s.Price, min),
			})
		case s.Price > max:
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonPriceCap,
				Details: fmt.Sprintf("price=%.2f max=%.2f", s.Price, max),
			})
		default:
			kept = append(kept, s)
		}
	}
	return kept, rejected
}

// FilterLiquidity keeps volume >= minVolume.
func FilterLiquidity(snaps []domain.Snapshot, minVolume float64) (kept []domain.Snapshot, rejected []Rejection) {
	kept = make([]domain.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.Volume < minVolume {
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonVolumeTooLow,
				Details: fmt.Sprintf("volume=%.0f min=%.0f", s.Volume, minVolume),
			})
			continue
		}
		kept = append(kept, s)
	}
	return kept, rejected
}

// FilterStealthBand keeps minChange <= changePct <= maxChange, inclusive.
// This is the pre-explosion filter: stocks that already ran today are out,
// as are ones in free fall.
func FilterStealthBand(snaps []domain.Snapshot, minChange, maxChange float64) (kept []domain.Snapshot, rejected []Rejection) {
	kept = make([]domain.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		switch {
		case s.ChangePct > maxChange:
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonAlreadyExploded,
				Details: fmt.Sprintf("change=%.2f max=%.2f", s.ChangePct, maxChange),
			})
		case s.ChangePct < minChange:
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonChangeTooNegative,
				Details: fmt.Sprintf("change=%.2f min=%.2f", s.ChangePct, minChange),
			})
		default:
			kept = append(kept, s)
		}
	}
	return kept, rejected
}

// Lookback holds the 5- and 20-day percentage moves computed from real
// history. Nil pointers mean the history was unavailable.
type Lookback struct {
	Change5d  *float64
	Change20d *float64
}

// ComputeLookback derives the 5/20-day moves from ascending daily bars.
// A window that reaches before the available history yields nil for that
// horizon; missing history is "unknown", never zero.
func ComputeLookback(bars []domain.HistoricalBar) Lookback {
	var lb Lookback
	n := len(bars)
	if n == 0 {
		return lb
	}
	last := bars[n-1].Close
	if last <= 0 {
		return lb
	}

	if n > 5 {
		base := bars[n-1-5].Close
		if base > 0 {
			v := (last - base) / base * 100
			lb.Change5d = &v
		}
	}
	if n > 20 {
		base := bars[n-1-20].Close
		if base > 0 {
			v := (last - base) / base * 100
			lb.Change20d = &v
		}
	}
	return lb
}

// FilterPostExplosion rejects symbols that already made their move:
// change5d above max5d or change20d above max20d. Missing history means
// allow; the gate only acts on real data.
func FilterPostExplosion(snaps []domain.Snapshot, lookbacks map[string]Lookback, max5d, max20d float64) (kept []domain.Snapshot, rejected []Rejection) {
	kept = make([]domain.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		lb := lookbacks[s.Symbol]
		if lb.Change5d != nil && *lb.Change5d > max5d {
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonAlreadyRan5d,
				Details: fmt.Sprintf("change_5d=%.1f max=%.1f", *lb.Change5d, max5d),
			})
			continue
		}
		if lb.Change20d != nil && *lb.Change20d > max20d {
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonAlreadyRan20d,
				Details: fmt.Sprintf("change_20d=%.1f max=%.1f", *lb.Change20d, max20d),
			})
			continue
		}
		kept = append(kept, s)
	}
	return kept, rejected
}

// RvolResult pairs a surviving snapshot with its true relative volume.
type RvolResult struct {
	Snapshot domain.Snapshot
	Rvol     float64
}

// FilterRvol computes rvol = todayVolume / avg20d and keeps
// minRvol <= rvol <= maxRvol. Symbols without a cached average are
// dropped; a missing denominator is a miss, not a 1.0.
func FilterRvol(snaps []domain.Snapshot, averages map[string]float64, th config.Thresholds) (kept []RvolResult, rejected []Rejection) {
	kept = make([]RvolResult, 0, len(snaps))
	for _, s := range snaps {
		avg, ok := averages[s.Symbol]
		if !ok || avg <= 0 {
			rejected = append(rejected, Rejection{
				Symbol: s.Symbol,
				Reason: ReasonNoVolumeAverage,
			})
			continue
		}

		rvol := s.Volume / avg
		switch {
		case rvol > th.MaxRvol:
			// A four-digit rvol is a data artifact, not a signal.
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonRvolDataError,
				Details: fmt.Sprintf("rvol=%.0f max=%.0f", rvol, th.MaxRvol),
			})
		case rvol < th.MinRvol:
			rejected = append(rejected, Rejection{
				Symbol:  s.Symbol,
				Reason:  ReasonRvolTooLow,
				Details: fmt.Sprintf("rvol=%.2f min=%.2f", rvol, th.MinRvol),
			})
		default:
			kept = append(kept, RvolResult{Snapshot: s, Rvol: rvol})
		}
	}
	return kept, rejected
}
