package experiment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestReactionTimeBSONShape(t *testing.T) {
	hit := TargetOutcome{Verdict: VerdictHit, ReactionTime: ReactionTimeOf(1500 * time.Millisecond)}
	miss := TargetOutcome{Verdict: VerdictOmission}

	raw, err := bson.Marshal(hit)
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, int64(1500), doc["reaction_time_ms"])

	raw, err = bson.Marshal(miss)
	require.NoError(t, err)
	doc = bson.M{}
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "n/a", doc["reaction_time_ms"])

	var back TargetOutcome
	require.NoError(t, bson.Unmarshal(raw, &back))
	assert.False(t, back.ReactionTime.Valid)
}

func TestReactionTimeBSONDecodesNumbers(t *testing.T) {
	for _, v := range []interface{}{int32(120), int64(120), 120.0} {
		raw, err := bson.Marshal(bson.M{"reaction_time_ms": v})
		require.NoError(t, err)
		var out TargetOutcome
		require.NoError(t, bson.Unmarshal(raw, &out))
		assert.Equal(t, ReactionTime{Ms: 120, Valid: true}, out.ReactionTime)
	}

	raw, err := bson.Marshal(bson.M{"reaction_time_ms": "soon"})
	require.NoError(t, err)
	var out TargetOutcome
	assert.Error(t, bson.Unmarshal(raw, &out))
}
