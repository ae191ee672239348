// Package session derives the current US equities market session from
// wall-clock time in the exchange timezone.
package session

import (
	"time"
)

// Session is a market session bucket.
type Session string

const (
	Premarket  Session = "premarket"
	Regular    Session = "regular"
	Afterhours Session = "afterhours"
	Closed     Session = "closed"
)

// exchangeTZ is the US equities exchange timezone.
const exchangeTZ = "America/New_York"

// Boundaries, exchange local time:
//
//	premarket  04:00–09:30
//	regular    09:30–16:00
//	afterhours 16:00–20:00
//	closed     otherwise, and all weekend
const (
	premarketOpenMin   = 4 * 60
	regularOpenMin     = 9*60 + 30
	regularCloseMin    = 16 * 60
	afterhoursCloseMin = 20 * 60
)

// Clock resolves sessions against a fixed location so every call within a
// run agrees on the timezone.
type Clock struct {
	loc *time.Location
}

// NewClock loads the exchange timezone. Fails only when the tzdata is
// unavailable on the host.
func NewClock() (*Clock, error) {
	loc, err := time.LoadLocation(exchangeTZ)
	if err != nil {
		return nil, err
	}
	return &Clock{loc: loc}, nil
}

// NewClockInLocation builds a clock in an explicit location. Used in tests.
func NewClockInLocation(loc *time.Location) *Clock {
	return &Clock{loc: loc}
}

// Current returns the session for the given instant.
func (c *Clock) Current(now time.Time) Session {
	local := now.In(c.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return Closed
	}

	minutes := local.Hour()*60 + local.Minute()
	switch {
	case minutes >= premarketOpenMin && minutes < regularOpenMin:
		return Premarket
	case minutes >= regularOpenMin && minutes < regularCloseMin:
		return Regular
	case minutes >= regularCloseMin && minutes < afterhoursCloseMin:
		return Afterhours
	default:
		return Closed
	}
}

// FreshnessMultiplier scales the regular-session freshness thresholds for
// thinner sessions, where quotes legitimately arrive slower.
func (s Session) FreshnessMultiplier() float64 {
	switch s {
	case Premarket, Afterhours:
		return 3.0
	case Closed:
		return 20.0
	default:
		return 1.0
	}
}
