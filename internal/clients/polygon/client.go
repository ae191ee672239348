// Package polygon is the market-data provider client. It exposes a one-shot
// bulk snapshot of all US stocks, per-symbol historical aggregates and the
// prev-day/last-minute helpers used by auxiliary consumers.
//
// The client never retries and never fabricates entries: on any HTTP error
// or malformed payload the bulk snapshot is an empty map, and per-symbol
// calls return nil. Callers decide what a miss means.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvid-labs/scout/internal/domain"
)

const (
	defaultBaseURL = "https://api.polygon.io"

	bulkTimeout      = 30 * time.Second
	perSymbolTimeout = 10 * time.Second
)

// Client is a Polygon REST API client.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger

	// Observability counters (atomic; read via Stats)
	droppedSymbols atomic.Int64
	requestErrors  atomic.Int64
}

// NewClient creates a new Polygon client.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: bulkTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        40,
				MaxIdleConnsPerHost: 40,
			},
		},
		log: log.With().Str("client", "polygon").Logger(),
	}
}

// NewClientWithBaseURL creates a client against a custom endpoint. Used in tests.
func NewClientWithBaseURL(apiKey, baseURL string, log zerolog.Logger) *Client {
	c := NewClient(apiKey, log)
	c.baseURL = baseURL
	return c
}

// Stats reports the client's observability counters.
func (c *Client) Stats() (dropped, requestErrors int64) {
	return c.droppedSymbols.Load(), c.requestErrors.Load()
}

// BulkSnapshot fetches the full US equities snapshot in exactly one call.
// Symbols missing price or volume are dropped with a counter; on failure the
// map is empty, never partial-with-defaults.
func (c *Client) BulkSnapshot(ctx context.Context) map[string]domain.Snapshot {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	var resp snapshotResponse
	path := "/v2/snapshot/locale/us/markets/stocks/tickers"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		c.requestErrors.Add(1)
		c.log.Error().Err(err).Msg("Bulk snapshot failed")
		return map[string]domain.Snapshot{}
	}

	snapshots := make(map[string]domain.Snapshot, len(resp.Tickers))
	dropped := 0
	for _, t := range resp.Tickers {
		snap, ok := c.toSnapshot(t)
		if !ok {
			dropped++
			continue
		}
		snapshots[t.Ticker] = snap
	}

	if dropped > 0 {
		c.droppedSymbols.Add(int64(dropped))
	}
	c.log.Info().
		Int("received", len(resp.Tickers)).
		Int("usable", len(snapshots)).
		Int("dropped", dropped).
		Msg("Bulk snapshot fetched")

	return snapshots
}

// toSnapshot converts a raw ticker to a Snapshot, rejecting entries with
// missing or non-positive required fields.
func (c *Client) toSnapshot(t snapshotTicker) (domain.Snapshot, bool) {
	if t.Ticker == "" || t.Day == nil {
		return domain.Snapshot{}, false
	}
	if t.Day.Close == nil || t.Day.Volume == nil || t.TodaysChangePerc == nil {
		return domain.Snapshot{}, false
	}
	price := *t.Day.Close
	volume := *t.Day.Volume
	if price <= 0 || volume < 0 {
		return domain.Snapshot{}, false
	}

	snap := domain.Snapshot{
		Symbol:    t.Ticker,
		Price:     price,
		Volume:    volume,
		ChangePct: *t.TodaysChangePerc,
		AsOf:      time.Unix(0, t.Updated),
	}
	if t.Day.High != nil {
		snap.High = *t.Day.High
	}
	if t.Day.Low != nil {
		snap.Low = *t.Day.Low
	}
	if t.Day.Open != nil {
		snap.Open = *t.Day.Open
	}
	if t.PrevDay != nil && t.PrevDay.Close != nil {
		snap.PrevClose = *t.PrevDay.Close
	}
	return snap, true
}

// HistoricalBars fetches up to limit daily (or other timespan) aggregates
// for a symbol, ascending by time. Returns nil on any failure.
func (c *Client) HistoricalBars(ctx context.Context, symbol, timespan string, limit int) []domain.HistoricalBar {
	ctx, cancel := context.WithTimeout(ctx, perSymbolTimeout)
	defer cancel()

	// Window sized generously so weekends and holidays still leave `limit`
	// trading bars inside it.
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(limit*2 + 10))
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/%s/%s/%s",
		url.PathEscape(symbol), timespan,
		start.Format("2006-01-02"), end.Format("2006-01-02"))

	var resp aggsResponse
	params := url.Values{}
	params.Set("adjusted", "true")
	params.Set("sort", "asc")
	params.Set("limit", fmt.Sprintf("%d", limit))
	if err := c.get(ctx, path, params, &resp); err != nil {
		c.requestErrors.Add(1)
		c.log.Debug().Err(err).Str("symbol", symbol).Msg("Historical bars fetch failed")
		return nil
	}
	if len(resp.Results) == 0 {
		return nil
	}

	bars := make([]domain.HistoricalBar, 0, len(resp.Results))
	for _, b := range resp.Results {
		bars = append(bars, domain.HistoricalBar{
			Symbol: symbol,
			Time:   b.Time,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	// Provider already sorts ascending when asked; enforce it anyway since
	// downstream lookbacks index from both ends.
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars
}

// PrevDay fetches the previous trading day's aggregate for a symbol.
// Returns nil on failure.
func (c *Client) PrevDay(ctx context.Context, symbol string) *domain.Snapshot {
	bars := c.HistoricalBars(ctx, symbol, "day", 2)
	if len(bars) == 0 {
		return nil
	}
	b := bars[len(bars)-1]
	return &domain.Snapshot{
		Symbol: symbol,
		Price:  b.Close,
		Volume: b.Volume,
		High:   b.High,
		Low:    b.Low,
		Open:   b.Open,
		AsOf:   time.UnixMilli(b.Time),
	}
}

// LastMinute fetches the most recent minute aggregate for a symbol.
// Returns nil on failure.
func (c *Client) LastMinute(ctx context.Context, symbol string) *domain.Snapshot {
	bars := c.HistoricalBars(ctx, symbol, "minute", 1)
	if len(bars) == 0 {
		return nil
	}
	b := bars[len(bars)-1]
	return &domain.Snapshot{
		Symbol: symbol,
		Price:  b.Close,
		Volume: b.Volume,
		High:   b.High,
		Low:    b.Low,
		Open:   b.Open,
		AsOf:   time.UnixMilli(b.Time),
	}
}

// get performs a GET with the API key appended and decodes JSON into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polygon returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
