package discovery

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTracer_CountsBalance(t *testing.T) {
	tr := NewStageTracer()

	tr.Enter("price_band", 10)
	tr.Exit("price_band", 7, []Rejection{
		{Symbol: "A", Reason: ReasonPriceTooLow},
		{Symbol: "B", Reason: ReasonPriceTooLow},
		{Symbol: "C", Reason: ReasonPriceCap},
	})

	// out + rejections = in, at every stage
	assert.Equal(t, tr.InCount("price_band"), tr.OutCount("price_band")+tr.RejectionCount("price_band"))

	m := tr.ToMap()
	rejections := m["rejections"].(map[string]map[string]int)
	assert.Equal(t, 2, rejections["price_band"][ReasonPriceTooLow])
	assert.Equal(t, 1, rejections["price_band"][ReasonPriceCap])
}

func TestStageTracer_SampleCap(t *testing.T) {
	tr := NewStageTracer()

	rejected := make([]Rejection, 100)
	for i := range rejected {
		rejected[i] = Rejection{Symbol: fmt.Sprintf("S%d", i), Reason: ReasonVolumeTooLow}
	}

	tr.Enter("liquidity_floor", 100)
	tr.Exit("liquidity_floor", 0, rejected)

	m := tr.ToMap()
	samples := m["samples"].(map[string][]Rejection)
	assert.Len(t, samples["liquidity_floor"], 25)
	// The histogram still counts every rejection.
	assert.Equal(t, 100, tr.RejectionCount("liquidity_floor"))
}

func TestStageTracer_StageOrder(t *testing.T) {
	tr := NewStageTracer()
	tr.Enter("universe", 5000)
	tr.Exit("universe", 5000, nil)
	tr.Enter("type_filter", 5000)
	tr.Exit("type_filter", 4800, nil)

	assert.Equal(t, []string{"universe", "type_filter"}, tr.Stages())
}

func TestStageTracer_UnspecifiedReason(t *testing.T) {
	tr := NewStageTracer()
	tr.Enter("s", 1)
	tr.Exit("s", 0, []Rejection{{Symbol: "X"}})

	m := tr.ToMap()
	rejections := m["rejections"].(map[string]map[string]int)
	require.Equal(t, 1, rejections["s"]["unspecified"])
}
