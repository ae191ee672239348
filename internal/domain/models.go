// Package domain holds the core data types shared across the discovery
// pipeline. The domain layer is pure: no clients, no storage, no logging.
package domain

import (
	"time"
)

// Snapshot is one symbol's slice of the bulk market snapshot.
// Symbols with missing required fields never become Snapshots; the market
// client drops them at the source.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	ChangePct float64   `json:"change_pct"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Open      float64   `json:"open"`
	PrevClose float64   `json:"prev_close"`
	AsOf      time.Time `json:"as_of"`
}

// HistoricalBar is a single OHLCV aggregate. Bars are always delivered
// sorted ascending by timestamp.
type HistoricalBar struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"t"` // epoch milliseconds
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// VolumeAverage is a cached 20-day rolling average volume entry.
// Invariant: Avg20d > 0 and LastUpdated <= now.
type VolumeAverage struct {
	Symbol      string    `json:"symbol"`
	Avg20d      float64   `json:"avg_volume_20d"`
	LastUpdated time.Time `json:"last_updated"`
}

// ActionTag classifies a candidate by explosion probability.
type ActionTag string

const (
	TagTradeReady ActionTag = "TRADE_READY"
	TagMonitor    ActionTag = "MONITOR"
	TagWatchlist  ActionTag = "WATCHLIST"
)

// Candidate is a fully scored discovery survivor.
type Candidate struct {
	Symbol               string    `json:"symbol"`
	Price                float64   `json:"price"`
	Volume               float64   `json:"volume"`
	ChangePct            float64   `json:"change_pct"`
	Rvol                 float64   `json:"rvol"`
	MomentumScore        float64   `json:"momentum_score"`
	PatternMatch         string    `json:"pattern_match,omitempty"`
	PatternSimilarity    float64   `json:"pattern_similarity"`
	PatternBonus         float64   `json:"pattern_bonus"`
	BaseProbability      float64   `json:"base_probability"`
	ExplosionProbability float64   `json:"explosion_probability"`
	ActionTag            ActionTag `json:"action_tag"`
}

// RunStats summarizes a run for the status key and dashboards.
type RunStats struct {
	UniverseSize int     `json:"universe_size"`
	Candidates   int     `json:"candidates"`
	Reason       string  `json:"reason,omitempty"`
	Stale        int     `json:"stale,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	DurationMs   int64   `json:"duration_ms"`
}

// RunResult is the atomic output of one discovery run. Consumers observe
// either the previous run's result or this one, never a partial view.
type RunResult struct {
	RunID      string                 `json:"run_id"`
	Strategy   string                 `json:"strategy"`
	Candidates []Candidate            `json:"candidates"`
	Stats      RunStats               `json:"stats"`
	Trace      map[string]interface{} `json:"trace"`
	Timestamp  time.Time              `json:"timestamp"`
}
