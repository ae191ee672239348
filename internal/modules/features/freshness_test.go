package features

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/scout/internal/domain"
)

func sets(fresh, stale int) []FeatureSet {
	out := make([]FeatureSet, 0, fresh+stale)
	for i := 0; i < fresh; i++ {
		out = append(out, FeatureSet{Symbol: "F", IsFresh: true})
	}
	for i := 0; i < stale; i++ {
		out = append(out, FeatureSet{
			Symbol:            "S",
			IsFresh:           false,
			FreshnessFailures: []string{failQuoteStale},
		})
	}
	return out
}

func TestGate_DropsStaleKeepsFresh(t *testing.T) {
	gate := NewGate(0.40, zerolog.Nop())

	result, err := gate.Apply(sets(8, 2))
	require.NoError(t, err)
	assert.Len(t, result.Fresh, 8)
	assert.Len(t, result.Dropped, 2)
}

func TestGate_FailsClosedAboveThreshold(t *testing.T) {
	gate := NewGate(0.40, zerolog.Nop())

	// 60/100 stale: well above the 40% budget.
	result, err := gate.Apply(sets(40, 60))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStaleData))
	assert.Empty(t, result.Fresh)
	assert.Len(t, result.Dropped, 60)
}

func TestGate_ExactThresholdDoesNotTrip(t *testing.T) {
	gate := NewGate(0.40, zerolog.Nop())

	// Exactly 40% stale: the gate trips only when the fraction exceeds the
	// budget.
	result, err := gate.Apply(sets(6, 4))
	require.NoError(t, err)
	assert.Len(t, result.Fresh, 6)
}

func TestGate_EmptyInput(t *testing.T) {
	gate := NewGate(0.40, zerolog.Nop())
	result, err := gate.Apply(nil)
	require.NoError(t, err)
	assert.Empty(t, result.Fresh)
	assert.Empty(t, result.Dropped)
}

func TestFeatureSet_CriticalFailures(t *testing.T) {
	tests := []struct {
		name     string
		failures []string
		critical bool
	}{
		{"no failures", nil, false},
		{"missing quote", []string{failQuoteMissing}, true},
		{"stale quote", []string{failQuoteStale}, true},
		{"stale bar", []string{failBarStale}, true},
		{"stale options only", []string{failOptionsStale}, false},
		{"stale short interest only", []string{failShortInterestStale}, false},
		{"mixed", []string{failOptionsStale, failBarStale}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := FeatureSet{FreshnessFailures: tt.failures}
			assert.Equal(t, tt.critical, fs.hasCritical())
		})
	}
}
