package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nyTime(t *testing.T, weekday time.Weekday, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 2025-06-09 is a Monday.
	base := time.Date(2025, 6, 9, hour, minute, 0, 0, loc)
	return base.AddDate(0, 0, int(weekday-time.Monday))
}

func TestClock_SessionBoundaries(t *testing.T) {
	clock, err := NewClock()
	require.NoError(t, err)

	tests := []struct {
		name    string
		weekday time.Weekday
		hour    int
		minute  int
		want    Session
	}{
		{"before premarket", time.Tuesday, 3, 59, Closed},
		{"premarket opens", time.Tuesday, 4, 0, Premarket},
		{"late premarket", time.Tuesday, 9, 29, Premarket},
		{"opening bell", time.Tuesday, 9, 30, Regular},
		{"midday", time.Tuesday, 12, 0, Regular},
		{"last regular minute", time.Tuesday, 15, 59, Regular},
		{"closing bell starts afterhours", time.Tuesday, 16, 0, Afterhours},
		{"late afterhours", time.Tuesday, 19, 59, Afterhours},
		{"evening closed", time.Tuesday, 20, 0, Closed},
		{"midnight", time.Tuesday, 0, 0, Closed},
		{"saturday midday", time.Saturday, 12, 0, Closed},
		{"sunday midday", time.Sunday, 12, 0, Closed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clock.Current(nyTime(t, tt.weekday, tt.hour, tt.minute))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClock_ConvertsFromOtherZones(t *testing.T) {
	clock, err := NewClock()
	require.NoError(t, err)

	// 14:30 UTC on a June Tuesday is 10:30 in New York: regular session.
	utc := time.Date(2025, 6, 10, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, Regular, clock.Current(utc))
}

func TestSession_FreshnessMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, Regular.FreshnessMultiplier())
	assert.Equal(t, 3.0, Premarket.FreshnessMultiplier())
	assert.Equal(t, 3.0, Afterhours.FreshnessMultiplier())
	assert.Equal(t, 20.0, Closed.FreshnessMultiplier())
}
