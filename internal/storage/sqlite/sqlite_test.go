package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"attentrack/internal/experiment"
	"attentrack/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (storage.Storage, func()) {
	t.Helper()
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test_attentrack.db")
	store := NewSQLiteStore(dbPath, nil)
	ctx := context.Background()
	err := store.Init(ctx)
	require.NoError(t, err, "Failed to initialize test database")

	cleanup := func() {
		err := store.Close()
		assert.NoError(t, err, "Failed to close test database")
	}

	return store, cleanup
}

func testRecord(sessionID string, phase experiment.Phase, at time.Time) experiment.PhaseRecord {
	return experiment.PhaseRecord{
		SessionID:  sessionID,
		Phase:      phase,
		RecordedAt: at,
		FocusEvents: []experiment.FocusEvent{
			{Phase: phase, Target: 0, State: 1, At: at.Add(-4 * time.Second)},
			{Phase: phase, Target: 0, State: 0, At: at},
		},
		Attempts: []experiment.TargetAttempt{{
			Phase:     phase,
			Index:     0,
			StartedAt: at.Add(-5 * time.Second),
			EndedAt:   at,
			Reason:    experiment.ReasonFocusComplete,
		}},
	}
}

func TestPersistAndGetPhaseRecords(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.PersistPhaseRecord(ctx, testRecord("s1", experiment.PhaseSustained, now)))
	require.NoError(t, store.PersistPhaseRecord(ctx, testRecord("s2", experiment.PhaseSustained, now)))
	require.NoError(t, store.PersistPhaseRecord(ctx, testRecord("s1", experiment.PhaseSelective, now.Add(time.Minute))))

	records, err := store.GetPhaseRecords(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, experiment.PhaseSustained, records[0].Phase)
	assert.Equal(t, experiment.PhaseSelective, records[1].Phase)

	rec := records[0]
	require.Len(t, rec.FocusEvents, 2)
	assert.True(t, rec.FocusEvents[1].At.Equal(now))
	require.Len(t, rec.Attempts, 1)
	assert.Equal(t, experiment.ReasonFocusComplete, rec.Attempts[0].Reason)

	records, err = store.GetPhaseRecords(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPersistAnalysisUpserts(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	first := experiment.Analysis{
		SessionID:  "s1",
		AnalyzedAt: now,
		Summary:    experiment.Metrics{Hits: 1},
	}
	second := experiment.Analysis{
		SessionID:  "s1",
		AnalyzedAt: now.Add(time.Minute),
		Summary: experiment.Metrics{
			Hits:         2,
			Omissions:    1,
			ReactionTime: experiment.RTStats{Mean: 350.5, StdDev: 20.25, Count: 2},
		},
		Outcomes: []experiment.TargetOutcome{
			{Phase: experiment.PhaseSustained, Verdict: experiment.VerdictOmission, Reason: experiment.ReasonOmission},
		},
	}

	require.NoError(t, store.PersistAnalysis(ctx, first))
	require.NoError(t, store.PersistAnalysis(ctx, second))

	got, err := store.GetAnalysis(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Summary.Hits)
	assert.InDelta(t, 350.5, got.Summary.ReactionTime.Mean, 0.001)
	require.Len(t, got.Outcomes, 1)
	assert.False(t, got.Outcomes[0].ReactionTime.Valid)

	all, err := store.ListAnalyses(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetAnalysisNotFound(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := store.GetAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListAnalysesNewestFirst(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"old", "mid", "new"} {
		a := experiment.Analysis{SessionID: id, AnalyzedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.PersistAnalysis(ctx, a))
	}

	list, err := store.ListAnalyses(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].SessionID)
	assert.Equal(t, "mid", list[1].SessionID)
}
