package polygon

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/scout/internal/modules/features"
)

func TestStream_HandleTradeEvent(t *testing.T) {
	cache := features.NewCache(nil, zerolog.Nop())
	s := NewStream("test-key", cache, zerolog.Nop())
	ctx := context.Background()

	s.handleMessage(ctx, []byte(`[{"ev":"T","sym":"AAPL","p":187.52}]`))

	entry, ok := cache.Get(ctx, "quote", "AAPL")
	require.True(t, ok)
	assert.Equal(t, 187.52, entry.Value)
	assert.Equal(t, features.SourceStream, entry.Source)
	// Stream provenance carries the boosted confidence.
	assert.Equal(t, 1.0, entry.Confidence)
}

func TestStream_HandleMinuteAggregate(t *testing.T) {
	cache := features.NewCache(nil, zerolog.Nop())
	s := NewStream("test-key", cache, zerolog.Nop())
	ctx := context.Background()

	s.handleMessage(ctx, []byte(`[{"ev":"AM","sym":"TSLA","c":251.3,"vw":250.8,"v":120000}]`))

	bar, ok := cache.Get(ctx, "bar_1m", "TSLA")
	require.True(t, ok)
	assert.Equal(t, 251.3, bar.Value)

	vwap, ok := cache.Get(ctx, "vwap", "TSLA")
	require.True(t, ok)
	assert.Equal(t, 250.8, vwap.Value)
}

func TestStream_IgnoresBadFrames(t *testing.T) {
	cache := features.NewCache(nil, zerolog.Nop())
	s := NewStream("test-key", cache, zerolog.Nop())
	ctx := context.Background()

	s.handleMessage(ctx, []byte(`not json`))
	s.handleMessage(ctx, []byte(`[{"ev":"T","sym":"","p":10}]`))
	s.handleMessage(ctx, []byte(`[{"ev":"T","sym":"AAPL","p":0}]`))
	s.handleMessage(ctx, []byte(`[{"ev":"status","status":"connected"}]`))

	_, ok := cache.Get(ctx, "quote", "AAPL")
	assert.False(t, ok)
}

func TestStream_StopIsIdempotent(t *testing.T) {
	cache := features.NewCache(nil, zerolog.Nop())
	s := NewStream("test-key", cache, zerolog.Nop())

	s.Stop()
	s.Stop()
}
