package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"attentrack/internal/experiment"
	"attentrack/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server when ATTENTRACK_TEST_MONGO_URI is set.
func setupTestStore(t *testing.T) storage.Storage {
	t.Helper()
	uri := os.Getenv("ATTENTRACK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("ATTENTRACK_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := "attentrack_test_" + uuid.NewString()[:8]
	store := NewMongoStore(uri, dbName, nil)
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() {
		ms := store.(*MongoStore)
		_ = ms.client.Database(dbName).Drop(context.Background())
		assert.NoError(t, store.Close())
	})
	return store
}

func TestMongoRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := experiment.PhaseRecord{
		SessionID:   "s1",
		Phase:       experiment.PhaseDivided,
		RecordedAt:  now,
		FocusEvents: []experiment.FocusEvent{{Phase: experiment.PhaseDivided, Side: experiment.SidePrimary, State: 1, At: now}},
	}
	require.NoError(t, store.PersistPhaseRecord(ctx, rec))

	records, err := store.GetPhaseRecords(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, experiment.PhaseDivided, records[0].Phase)
	assert.Equal(t, experiment.SidePrimary, records[0].FocusEvents[0].Side)

	a := experiment.Analysis{SessionID: "s1", AnalyzedAt: now, Summary: experiment.Metrics{Hits: 1}}
	require.NoError(t, store.PersistAnalysis(ctx, a))
	a.Summary.Hits = 4
	require.NoError(t, store.PersistAnalysis(ctx, a))

	got, err := store.GetAnalysis(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Summary.Hits)

	list, err := store.ListAnalyses(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = store.GetAnalysis(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
