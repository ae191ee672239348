// Package config provides configuration management functionality.
//
// Configuration comes from two places:
//  1. Environment variables (.env file supported via godotenv) for
//     connection strings, API keys and feature flags.
//  2. A YAML calibration file for scoring weights, filter thresholds,
//     presets and entry rules.
//
// The calibration file is resolved once at startup into an immutable
// Calibration record; scoring weights are normalized so they sum to 1.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	DataDir         string // Base directory for the sqlite volume cache (always absolute)
	RedisURL        string // Shared KV store (feature cache, job lock, published results)
	PolygonAPIKey   string // Market data provider API key
	LearningBaseURL string // Learning service base URL (optional)
	LogLevel        string // Log level (debug, info, warn, error)
	DevMode         bool   // Development mode flag

	// Feature flags
	Strategy        string    // Active scoring strategy name
	MaxCandidates   int       // Hard cap on published candidates
	MaxRunSeconds   int       // Global run deadline in seconds
	EmergencyExpiry time.Time // Emergency override active until this instant (zero = off)
	CalibrationPath string    // Calibration YAML path
	Calibration     *Calibration
}

// Load reads configuration from environment variables and the calibration
// file. The .env file is optional.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("SCOUT_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PolygonAPIKey:   getEnv("POLYGON_API_KEY", ""),
		LearningBaseURL: getEnv("LEARNING_BASE_URL", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		Strategy:        getEnv("SCOUT_STRATEGY", "legacy_v0"),
		MaxCandidates:   getEnvAsInt("SCOUT_MAX_CANDIDATES", 25),
		MaxRunSeconds:   getEnvAsInt("SCOUT_MAX_RUN_SECONDS", 120),
		CalibrationPath: getEnv("SCOUT_CALIBRATION_PATH", ""),
	}

	// Emergency override carries its own expiry so a forgotten flag cannot
	// relax the gates forever.
	if raw := getEnv("SCOUT_EMERGENCY_UNTIL", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SCOUT_EMERGENCY_UNTIL: %w", err)
		}
		cfg.EmergencyExpiry = t
	}

	cal, err := LoadCalibration(cfg.CalibrationPath)
	if err != nil {
		return nil, err
	}
	cfg.Calibration = cal

	return cfg, nil
}

// EmergencyActive reports whether the emergency override is currently in
// effect.
func (c *Config) EmergencyActive(now time.Time) bool {
	return !c.EmergencyExpiry.IsZero() && now.Before(c.EmergencyExpiry)
}

// ==========================================
// Calibration
// ==========================================

// Weights is the scoring weight allocation. Normalized to sum to 1 at load.
type Weights struct {
	Momentum      float64 `yaml:"momentum" json:"momentum"`
	Rvol          float64 `yaml:"rvol" json:"rvol"`
	Catalyst      float64 `yaml:"catalyst" json:"catalyst"`
	Price         float64 `yaml:"price" json:"price"`
	Change        float64 `yaml:"change" json:"change"`
	ShortInterest float64 `yaml:"short_interest" json:"short_interest"`
	BorrowRate    float64 `yaml:"borrow_rate" json:"borrow_rate"`
	Float         float64 `yaml:"float" json:"float"`
}

// DefaultWeights are the checked-in scoring defaults. Any override must be
// explicit (calibration file or learning service).
func DefaultWeights() Weights {
	return Weights{
		Momentum:      0.25,
		Rvol:          0.25,
		Catalyst:      0.20,
		Price:         0.10,
		Change:        0.10,
		ShortInterest: 0.05,
		BorrowRate:    0.05,
		Float:         0.05,
	}
}

// Sum returns the total weight mass.
func (w Weights) Sum() float64 {
	return w.Momentum + w.Rvol + w.Catalyst + w.Price + w.Change +
		w.ShortInterest + w.BorrowRate + w.Float
}

// Normalized returns a copy scaled so the weights sum to 1.
func (w Weights) Normalized() Weights {
	total := w.Sum()
	if total <= 0 {
		return DefaultWeights().Normalized()
	}
	return Weights{
		Momentum:      w.Momentum / total,
		Rvol:          w.Rvol / total,
		Catalyst:      w.Catalyst / total,
		Price:         w.Price / total,
		Change:        w.Change / total,
		ShortInterest: w.ShortInterest / total,
		BorrowRate:    w.BorrowRate / total,
		Float:         w.Float / total,
	}
}

// Thresholds are the filter-stage knobs.
type Thresholds struct {
	MinPrice         float64  `yaml:"min_price"`
	MaxPrice         float64  `yaml:"max_price"`
	RelaxedMaxPrice  float64  `yaml:"relaxed_max_price"`
	MinVolume        float64  `yaml:"min_volume"`
	MinDailyChange   float64  `yaml:"min_daily_change"`
	MaxDailyChange   float64  `yaml:"max_daily_change"`
	MinRvol          float64  `yaml:"min_rvol"`
	MaxRvol          float64  `yaml:"max_rvol"`
	MaxChange5d      float64  `yaml:"max_change_5d"`
	MaxChange20d     float64  `yaml:"max_change_20d"`
	ExcludedTypes    []string `yaml:"excluded_types"`
	MaxStaleFraction float64  `yaml:"max_stale_fraction"`
	StalenessDays    int      `yaml:"staleness_days"` // volume-average staleness window
	MomentumTopN     int      `yaml:"momentum_top_n"` // 0 disables the pre-rank trim
}

// EntryRules map explosion probability to action tags.
type EntryRules struct {
	TradeReadyMin float64 `yaml:"trade_ready_min"`
	MonitorMin    float64 `yaml:"monitor_min"`
}

// Calibration is the resolved, immutable per-run configuration record.
type Calibration struct {
	Weights    Weights               `yaml:"weights"`
	Thresholds Thresholds            `yaml:"thresholds"`
	EntryRules EntryRules            `yaml:"entry_rules"`
	Presets    map[string]Thresholds `yaml:"presets"`
	ResultTTL  time.Duration         `yaml:"-"`
	ResultTTLS int                   `yaml:"result_ttl_seconds"`
	LockTTLS   int                   `yaml:"lock_ttl_seconds"`
}

// DefaultCalibration returns the checked-in defaults used when no
// calibration file is supplied.
func DefaultCalibration() *Calibration {
	return &Calibration{
		Weights: DefaultWeights(),
		Thresholds: Thresholds{
			MinPrice:         0.10,
			MaxPrice:         100.00,
			RelaxedMaxPrice:  500.00,
			MinVolume:        100_000,
			MinDailyChange:   -10.0,
			MaxDailyChange:   5.0,
			MinRvol:          1.5,
			MaxRvol:          1000.0,
			MaxChange5d:      30.0,
			MaxChange20d:     50.0,
			ExcludedTypes:    []string{"ETF", "FUND", "INDEX", "TRUST", "REIT"},
			MaxStaleFraction: 0.40,
			StalenessDays:    7,
			MomentumTopN:     0,
		},
		EntryRules: EntryRules{
			TradeReadyMin: 75.0,
			MonitorMin:    60.0,
		},
		ResultTTLS: 600,
		ResultTTL:  600 * time.Second,
		LockTTLS:   240,
	}
}

// LoadCalibration reads the calibration YAML, overlays it on the defaults
// and normalizes the weights. An empty path returns the defaults.
func LoadCalibration(path string) (*Calibration, error) {
	cal := DefaultCalibration()
	if path == "" {
		cal.Weights = cal.Weights.Normalized()
		return cal, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cal); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	if cal.ResultTTLS <= 0 {
		cal.ResultTTLS = 600
	}
	cal.ResultTTL = time.Duration(cal.ResultTTLS) * time.Second
	if cal.LockTTLS <= 0 {
		cal.LockTTLS = 240
	}
	cal.Weights = cal.Weights.Normalized()

	// Presets overlay the resolved thresholds: each is decoded onto a copy
	// of them, so fields a preset omits keep their base values.
	var rawPresets struct {
		Presets map[string]yaml.Node `yaml:"presets"`
	}
	if err := yaml.Unmarshal(raw, &rawPresets); err != nil {
		return nil, fmt.Errorf("failed to parse calibration presets: %w", err)
	}
	for name, node := range rawPresets.Presets {
		merged := cal.Thresholds
		merged.ExcludedTypes = append([]string(nil), cal.Thresholds.ExcludedTypes...)
		if err := node.Decode(&merged); err != nil {
			return nil, fmt.Errorf("failed to parse preset %q: %w", name, err)
		}
		cal.Presets[name] = merged
	}

	return cal, nil
}

// ResolvePreset returns a named preset's thresholds, which LoadCalibration
// has already overlaid onto the calibration thresholds. Unknown presets
// return an error so a typo cannot silently fall back.
func (c *Calibration) ResolvePreset(name string) (Thresholds, error) {
	if name == "" {
		return c.Thresholds, nil
	}
	preset, ok := c.Presets[name]
	if !ok {
		return Thresholds{}, fmt.Errorf("unknown preset %q", name)
	}
	return preset, nil
}

// ==========================================
// Helper Functions
// ==========================================

// getEnv retrieves an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean with a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
