package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"attentrack/internal/experiment"
	"attentrack/internal/storage"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *zap.Logger
}

func NewSQLiteStore(dbPath string, log *zap.Logger) storage.Storage {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLiteStore{dbPath: dbPath, log: log.Named("sqlite")}
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS phase_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	phase TEXT NOT NULL,
	recorded_at DATETIME NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phase_records_session ON phase_records (session_id);

CREATE TABLE IF NOT EXISTS analyses (
	session_id TEXT PRIMARY KEY,
	analyzed_at DATETIME NOT NULL,
	hits INTEGER NOT NULL,
	commissions INTEGER NOT NULL,
	omissions INTEGER NOT NULL,
	mean_reaction_ms REAL NOT NULL,
	stddev_reaction_ms REAL NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_analyzed_at ON analyses (analyzed_at);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	s.log.Info("Initializing SQLite database", zap.String("path", s.dbPath))
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	// SQLite allows a single writer.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, createTablesSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}
	s.log.Info("Database initialized successfully")
	return nil
}

func (s *SQLiteStore) PersistPhaseRecord(ctx context.Context, rec experiment.PhaseRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode phase record: %w", err)
	}
	query := `INSERT INTO phase_records (session_id, phase, recorded_at, payload) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, rec.SessionID, rec.Phase.String(), rec.RecordedAt.UTC(), string(payload)); err != nil {
		return fmt.Errorf("failed to insert phase record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PersistAnalysis(ctx context.Context, a experiment.Analysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	query := `INSERT INTO analyses
	          (session_id, analyzed_at, hits, commissions, omissions, mean_reaction_ms, stddev_reaction_ms, payload)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(session_id) DO UPDATE SET
	            analyzed_at = excluded.analyzed_at,
	            hits = excluded.hits,
	            commissions = excluded.commissions,
	            omissions = excluded.omissions,
	            mean_reaction_ms = excluded.mean_reaction_ms,
	            stddev_reaction_ms = excluded.stddev_reaction_ms,
	            payload = excluded.payload`
	m := a.Summary
	_, err = s.db.ExecContext(ctx, query,
		a.SessionID, a.AnalyzedAt.UTC(), m.Hits, m.Commissions, m.Omissions,
		m.ReactionTime.Mean, m.ReactionTime.StdDev, string(payload))
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, sessionID string) (experiment.Analysis, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM analyses WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return experiment.Analysis{}, storage.ErrNotFound
	}
	if err != nil {
		return experiment.Analysis{}, fmt.Errorf("failed to query analysis: %w", err)
	}
	var a experiment.Analysis
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return experiment.Analysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, limit int) ([]experiment.Analysis, error) {
	query := `SELECT payload FROM analyses ORDER BY analyzed_at DESC, session_id ASC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []experiment.Analysis
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		var a experiment.Analysis
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("failed to decode analysis: %w", err)
		}
		out = append(out, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetPhaseRecords(ctx context.Context, sessionID string) ([]experiment.PhaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM phase_records WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase records: %w", err)
	}
	defer rows.Close()

	var out []experiment.PhaseRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan phase record row: %w", err)
		}
		var rec experiment.PhaseRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode phase record: %w", err)
		}
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase record rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		s.log.Info("Closing database connection")
		return s.db.Close()
	}
	return nil
}
