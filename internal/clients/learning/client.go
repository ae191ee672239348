// Package learning is the client for the optional learning service that
// recommends scoring weights and a market-regime acceptance threshold.
//
// Every call is bounded by a 2 second budget. Any failure (timeout,
// connection error, non-2xx, malformed payload, low confidence) yields
// the caller's defaults; a learning outage must never slow or abort a
// discovery run.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	callTimeout = 2 * time.Second

	// minConfidence is the floor below which recommendations are ignored.
	minConfidence = 0.60
)

// WeightsResponse is the adaptive-parameters payload.
type WeightsResponse struct {
	Weights    map[string]float64 `json:"weights"`
	Confidence float64            `json:"confidence"`
}

// RegimeResponse is the market-regime payload.
type RegimeResponse struct {
	Regime               string  `json:"regime"`
	Confidence           float64 `json:"confidence"`
	RecommendedThreshold float64 `json:"recommended_threshold"`
}

// Client calls the learning service.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	// failures counts degraded calls for observability.
	failures atomic.Int64
}

// NewClient creates a learning client. An empty baseURL produces a client
// whose every call reports unavailable, which callers treat as defaults.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: callTimeout},
		log:     log.With().Str("client", "learning").Logger(),
	}
}

// Failures reports how many calls degraded to defaults.
func (c *Client) Failures() int64 {
	return c.failures.Load()
}

// AdaptiveWeights fetches recommended weights. The boolean is false when
// the caller should use defaults.
func (c *Client) AdaptiveWeights(ctx context.Context) (WeightsResponse, bool) {
	var resp WeightsResponse
	if !c.get(ctx, "/learning-analytics/discovery/adaptive-parameters", &resp) {
		return WeightsResponse{}, false
	}
	if resp.Confidence < minConfidence {
		c.log.Warn().Float64("confidence", resp.Confidence).Msg("Learning confidence too low, using defaults")
		c.failures.Add(1)
		return WeightsResponse{}, false
	}
	if len(resp.Weights) == 0 {
		c.failures.Add(1)
		return WeightsResponse{}, false
	}
	return resp, true
}

// MarketRegime fetches the current regime recommendation. The boolean is
// false when the caller should use defaults.
func (c *Client) MarketRegime(ctx context.Context) (RegimeResponse, bool) {
	var resp RegimeResponse
	if !c.get(ctx, "/learning-analytics/market-regime/current", &resp) {
		return RegimeResponse{}, false
	}
	if resp.Confidence < minConfidence {
		c.log.Warn().
			Str("regime", resp.Regime).
			Float64("confidence", resp.Confidence).
			Msg("Regime confidence too low, using defaults")
		c.failures.Add(1)
		return RegimeResponse{}, false
	}
	return resp, true
}

// get performs a bounded GET; false means degrade to defaults.
func (c *Client) get(ctx context.Context, path string, out interface{}) bool {
	if c.baseURL == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.failures.Add(1)
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.failures.Add(1)
		c.log.Warn().Err(err).Str("path", path).Msg("Learning service unavailable, using defaults")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.failures.Add(1)
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("Learning service error, using defaults")
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.failures.Add(1)
		c.log.Warn().Err(err).Str("path", path).Msg("Malformed learning payload, using defaults")
		return false
	}
	return true
}

// SetBaseURL overrides the endpoint. Used in tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// String implements fmt.Stringer for debug logs.
func (c *Client) String() string {
	return fmt.Sprintf("learning(%s)", c.baseURL)
}
