package experiment

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   RTStats
	}{
		{"empty", nil, RTStats{}},
		{"single", []float64{420}, RTStats{Mean: 420, StdDev: 0, Count: 1}},
		{"population sd", []float64{2, 4, 4, 4, 5, 5, 7, 9}, RTStats{Mean: 5, StdDev: 2, Count: 8}},
		{"rounded", []float64{100, 200, 250}, RTStats{Mean: 183.33, StdDev: 62.36, Count: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.values))
		})
	}
}

func TestSummarizeOrderIndependent(t *testing.T) {
	a := Summarize([]float64{1.1, 2.2, 3.3, 1e6})
	b := Summarize([]float64{1e6, 3.3, 1.1, 2.2})
	assert.Equal(t, a, b)
	assert.False(t, math.IsNaN(a.StdDev))
}

func TestAggregatorSkipsMissing(t *testing.T) {
	var agg Aggregator
	agg.Add(ReactionTimeOf(300 * time.Millisecond))
	agg.Add(ReactionTime{})
	agg.Add(ReactionTimeOf(500 * time.Millisecond))

	assert.Equal(t, 2, agg.Len())
	assert.Equal(t, RTStats{Mean: 400, StdDev: 100, Count: 2}, agg.Stats())
}

func TestReactionTimeJSON(t *testing.T) {
	b, err := json.Marshal(ReactionTimeOf(1234 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "1234", string(b))

	b, err = json.Marshal(ReactionTime{})
	require.NoError(t, err)
	assert.Equal(t, `"n/a"`, string(b))

	var rt ReactionTime
	require.NoError(t, json.Unmarshal([]byte(`"n/a"`), &rt))
	assert.False(t, rt.Valid)
	require.NoError(t, json.Unmarshal([]byte(`87`), &rt))
	assert.Equal(t, ReactionTime{Ms: 87, Valid: true}, rt)
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &rt))
}
