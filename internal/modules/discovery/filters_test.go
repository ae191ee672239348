package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/scout/internal/config"
	"github.com/corvid-labs/scout/internal/domain"
)

func snap(symbol string, price, volume, changePct float64) domain.Snapshot {
	return domain.Snapshot{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		ChangePct: changePct,
	}
}

func TestFilterTypes(t *testing.T) {
	excluded := []string{"ETF", "FUND", "INDEX", "TRUST", "REIT"}

	tests := []struct {
		name   string
		symbol string
		kept   bool
	}{
		{"plain ticker", "AAPL", true},
		{"etf substring", "SPETF", false},
		{"fund substring", "XFUND", false},
		{"trust substring", "ABCTRUST", false},
		{"reit substring", "NLREIT", false},
		{"lowercase input still matches", "spetf", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, rejected := FilterTypes([]domain.Snapshot{snap(tt.symbol, 5, 1e6, 0)}, excluded)
			if tt.kept {
				assert.Len(t, kept, 1)
				assert.Empty(t, rejected)
			} else {
				assert.Empty(t, kept)
				require.Len(t, rejected, 1)
				assert.Equal(t, ReasonEtfOrFund, rejected[0].Reason)
			}
		})
	}
}

func TestFilterPriceBand_Boundaries(t *testing.T) {
	const min, max = 0.10, 100.00

	tests := []struct {
		name   string
		price  float64
		kept   bool
		reason string
	}{
		{"exactly min is kept", 0.10, true, ""},
		{"just below min rejected", 0.0999, false, ReasonPriceTooLow},
		{"exactly max is kept", 100.00, true, ""},
		{"just above max rejected", 100.01, false, ReasonPriceCap},
		{"middle of band", 3.00, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, rejected := FilterPriceBand([]domain.Snapshot{snap("X", tt.price, 1e6, 0)}, min, max)
			if tt.kept {
				assert.Len(t, kept, 1)
			} else {
				require.Len(t, rejected, 1)
				assert.Equal(t, tt.reason, rejected[0].Reason)
			}
		})
	}
}

func TestFilterLiquidity(t *testing.T) {
	kept, rejected := FilterLiquidity([]domain.Snapshot{
		snap("A", 5, 100_000, 0),
		snap("B", 5, 99_999, 0),
	}, 100_000)

	require.Len(t, kept, 1)
	assert.Equal(t, "A", kept[0].Symbol)
	require.Len(t, rejected, 1)
	assert.Equal(t, ReasonVolumeTooLow, rejected[0].Reason)
}

func TestFilterStealthBand_Boundaries(t *testing.T) {
	const min, max = -10.0, 5.0

	tests := []struct {
		name   string
		change float64
		kept   bool
		reason string
	}{
		{"exactly max is kept", 5.0, true, ""},
		{"above max already exploded", 5.01, false, ReasonAlreadyExploded},
		{"exactly min is kept", -10.0, true, ""},
		{"below min too negative", -10.01, false, ReasonChangeTooNegative},
		{"flat", 0.0, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, rejected := FilterStealthBand([]domain.Snapshot{snap("X", 5, 1e6, tt.change)}, min, max)
			if tt.kept {
				assert.Len(t, kept, 1)
			} else {
				require.Len(t, rejected, 1)
				assert.Equal(t, tt.reason, rejected[0].Reason)
			}
		})
	}
}

func bars(closes ...float64) []domain.HistoricalBar {
	out := make([]domain.HistoricalBar, len(closes))
	for i, c := range closes {
		out[i] = domain.HistoricalBar{Time: int64(i), Close: c, Volume: 1e6}
	}
	return out
}

func TestComputeLookback(t *testing.T) {
	// 22 bars, flat at 10 until the last which closed at 14.5 -> +45% over
	// any window.
	closes := make([]float64, 22)
	for i := range closes {
		closes[i] = 10
	}
	closes[21] = 14.5

	lb := ComputeLookback(bars(closes...))
	require.NotNil(t, lb.Change5d)
	require.NotNil(t, lb.Change20d)
	assert.InDelta(t, 45.0, *lb.Change5d, 0.001)
	assert.InDelta(t, 45.0, *lb.Change20d, 0.001)
}

func TestComputeLookback_InsufficientHistory(t *testing.T) {
	lb := ComputeLookback(bars(10, 11, 12))
	assert.Nil(t, lb.Change5d)
	assert.Nil(t, lb.Change20d)

	lb = ComputeLookback(nil)
	assert.Nil(t, lb.Change5d)
}

func TestFilterPostExplosion(t *testing.T) {
	c5 := 45.0
	c20 := 10.0
	c5ok := 12.0
	c20bad := 55.0

	lookbacks := map[string]Lookback{
		"RAN5":  {Change5d: &c5, Change20d: &c20},
		"RAN20": {Change5d: &c5ok, Change20d: &c20bad},
		// NOHIST deliberately absent: missing history means allow.
	}

	snaps := []domain.Snapshot{snap("RAN5", 5, 1e6, 1), snap("RAN20", 5, 1e6, 1), snap("NOHIST", 5, 1e6, 1)}
	kept, rejected := FilterPostExplosion(snaps, lookbacks, 30, 50)

	require.Len(t, kept, 1)
	assert.Equal(t, "NOHIST", kept[0].Symbol)
	require.Len(t, rejected, 2)
	assert.Equal(t, ReasonAlreadyRan5d, rejected[0].Reason)
	assert.Equal(t, ReasonAlreadyRan20d, rejected[1].Reason)
}

func TestFilterRvol(t *testing.T) {
	th := config.DefaultCalibration().Thresholds

	averages := map[string]float64{
		"EXACT": 2_000_000, // volume 3M -> rvol 1.5 exactly
		"LOW":   2_100_000, // volume 3M -> rvol ~1.43
		"HUGE":  1_000,     // volume 3M -> rvol 3000, data trap
	}

	snaps := []domain.Snapshot{
		snap("EXACT", 5, 3_000_000, 1),
		snap("LOW", 5, 3_000_000, 1),
		snap("HUGE", 5, 3_000_000, 1),
		snap("NOAVG", 5, 3_000_000, 1),
	}

	kept, rejected := FilterRvol(snaps, averages, th)

	require.Len(t, kept, 1)
	assert.Equal(t, "EXACT", kept[0].Snapshot.Symbol)
	assert.InDelta(t, 1.5, kept[0].Rvol, 1e-9)

	reasons := map[string]string{}
	for _, r := range rejected {
		reasons[r.Symbol] = r.Reason
	}
	assert.Equal(t, ReasonRvolTooLow, reasons["LOW"])
	assert.Equal(t, ReasonRvolDataError, reasons["HUGE"])
	assert.Equal(t, ReasonNoVolumeAverage, reasons["NOAVG"])
}
