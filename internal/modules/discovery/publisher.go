package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/corvid-labs/scout/internal/domain"
)

// Result key layout, strategy-scoped. All three are written with the same
// TTL; candidates land first so a reader that sees the fresh status always
// finds the fresh list behind it.
const (
	keyContenders = "scout:discovery:contenders.latest:%s"
	keyExplain    = "scout:discovery:explain.latest:%s"
	keyStatus     = "scout:discovery:status"

	alertChannel = "scout:alerts"
)

// Publisher writes RunResults to the shared store.
type Publisher struct {
	rdb      *redis.Client
	ttl      time.Duration
	alertsOn bool
	log      zerolog.Logger
}

// NewPublisher creates a result publisher. alertsOn enables the optional
// pub/sub fan-out of trade-ready candidates.
func NewPublisher(rdb *redis.Client, ttl time.Duration, alertsOn bool, log zerolog.Logger) *Publisher {
	return &Publisher{
		rdb:      rdb,
		ttl:      ttl,
		alertsOn: alertsOn,
		log:      log.With().Str("component", "result_publisher").Logger(),
	}
}

// statusPayload is the health-view record under the status key.
type statusPayload struct {
	Count    int       `json:"count"`
	LastRun  time.Time `json:"last_run"`
	Strategy string    `json:"strategy"`
	Reason   string    `json:"reason,omitempty"`
}

// explainPayload wraps the trace snapshot with its counters.
type explainPayload struct {
	Trace     map[string]interface{} `json:"trace"`
	Count     int                    `json:"count"`
	Stats     domain.RunStats        `json:"stats"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publish writes the candidate list, the explain snapshot and the status
// record under strategy-scoped keys, in that order, all with the same TTL.
// Last writer wins; an empty result is published the same way so
// dashboards see "0 candidates, reason=..." rather than vanished keys.
func (p *Publisher) Publish(ctx context.Context, result domain.RunResult) error {
	candidates, err := json.Marshal(result.Candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}
	explain, err := json.Marshal(explainPayload{
		Trace:     result.Trace,
		Count:     len(result.Candidates),
		Stats:     result.Stats,
		Timestamp: result.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to encode explain payload: %w", err)
	}
	status, err := json.Marshal(statusPayload{
		Count:    len(result.Candidates),
		LastRun:  result.Timestamp,
		Strategy: result.Strategy,
		Reason:   result.Stats.Reason,
	})
	if err != nil {
		return fmt.Errorf("failed to encode status payload: %w", err)
	}

	if err := p.rdb.Set(ctx, fmt.Sprintf(keyContenders, result.Strategy), candidates, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish candidates: %w", err)
	}
	if err := p.rdb.Set(ctx, fmt.Sprintf(keyExplain, result.Strategy), explain, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish explain payload: %w", err)
	}
	if err := p.rdb.Set(ctx, keyStatus, status, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}

	p.log.Info().
		Str("strategy", result.Strategy).
		Int("candidates", len(result.Candidates)).
		Str("reason", result.Stats.Reason).
		Msg("Run result published")

	if p.alertsOn {
		p.publishAlerts(ctx, result)
	}
	return nil
}

// publishAlerts fans trade-ready candidates out on the alert channel.
// Alerting is best-effort; failures are logged, never propagated.
func (p *Publisher) publishAlerts(ctx context.Context, result domain.RunResult) {
	for _, c := range result.Candidates {
		if c.ActionTag != domain.TagTradeReady {
			continue
		}
		payload, err := json.Marshal(c)
		if err != nil {
			continue
		}
		if err := p.rdb.Publish(ctx, alertChannel, payload).Err(); err != nil {
			p.log.Debug().Err(err).Str("symbol", c.Symbol).Msg("Alert publish failed")
		}
	}
}

// ReadLatest fetches the published candidate list for a strategy, nil
// when absent or expired. Used by the CLI and auxiliary consumers.
func (p *Publisher) ReadLatest(ctx context.Context, strategy string) ([]domain.Candidate, error) {
	raw, err := p.rdb.Get(ctx, fmt.Sprintf(keyContenders, strategy)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	var candidates []domain.Candidate
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	return candidates, nil
}
