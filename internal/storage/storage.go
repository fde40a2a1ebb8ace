package storage

import (
	"context"
	"errors"

	"attentrack/internal/experiment"
)

var ErrNotFound = errors.New("not found")

// Storage is the durable store for raw phase history and per-session
// analyses. Analyses are upserted by session id.
type Storage interface {
	Init(ctx context.Context) error
	PersistPhaseRecord(ctx context.Context, rec experiment.PhaseRecord) error
	PersistAnalysis(ctx context.Context, a experiment.Analysis) error
	GetAnalysis(ctx context.Context, sessionID string) (experiment.Analysis, error)
	// ListAnalyses returns the most recent analyses first. limit <= 0 means
	// no limit.
	ListAnalyses(ctx context.Context, limit int) ([]experiment.Analysis, error)
	GetPhaseRecords(ctx context.Context, sessionID string) ([]experiment.PhaseRecord, error)
	Close() error
}
