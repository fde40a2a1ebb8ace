package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"attentrack/internal/experiment"
	"attentrack/internal/storage"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server when ATTENTRACK_TEST_REDIS_ADDR is set.
func setupTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("ATTENTRACK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ATTENTRACK_TEST_REDIS_ADDR not set")
	}
	store := newStore(redis.NewClient(&redis.Options{Addr: addr, DB: 15}), nil)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() {
		store.client.FlushDB(context.Background())
		assert.NoError(t, store.Close())
	})
	return store
}

func TestRedisPhaseRecordsAppend(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	now := time.Now().UTC()

	for _, p := range []experiment.Phase{experiment.PhaseSustained, experiment.PhaseSelective} {
		require.NoError(t, store.PersistPhaseRecord(ctx, experiment.PhaseRecord{SessionID: id, Phase: p, RecordedAt: now}))
	}

	records, err := store.GetPhaseRecords(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, experiment.PhaseSelective, records[1].Phase)
}

func TestRedisAnalysisUpsertAndIndex(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.PersistAnalysis(ctx, experiment.Analysis{SessionID: "a", AnalyzedAt: base}))
	require.NoError(t, store.PersistAnalysis(ctx, experiment.Analysis{SessionID: "b", AnalyzedAt: base.Add(time.Second)}))
	require.NoError(t, store.PersistAnalysis(ctx, experiment.Analysis{
		SessionID:  "a",
		AnalyzedAt: base.Add(2 * time.Second),
		Summary:    experiment.Metrics{Hits: 3},
	}))

	got, err := store.GetAnalysis(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Summary.Hits)

	list, err := store.ListAnalyses(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].SessionID)

	_, err = store.GetAnalysis(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
