package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"attentrack/internal/experiment"
	"attentrack/internal/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "attentrack:"

func phaseRecordsKey(sessionID string) string { return keyPrefix + "phase_records:" + sessionID }
func analysisKey(sessionID string) string     { return keyPrefix + "analysis:" + sessionID }

// analysesIndexKey is a sorted set of session ids scored by analysis time.
const analysesIndexKey = keyPrefix + "analyses"

// RedisStore keeps phase records in a list per session and analyses as JSON
// values indexed by a sorted set.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisStore(addr, password string, db int, log *zap.Logger) storage.Storage {
	return newStore(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), log)
}

func newStore(client *redis.Client, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{client: client, log: log.Named("redis")}
}

func (s *RedisStore) Init(ctx context.Context) error {
	s.log.Info("Connecting to Redis", zap.String("addr", s.client.Options().Addr))
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) PersistPhaseRecord(ctx context.Context, rec experiment.PhaseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal phase record: %w", err)
	}
	if err := s.client.RPush(ctx, phaseRecordsKey(rec.SessionID), data).Err(); err != nil {
		return fmt.Errorf("failed to store phase record: %w", err)
	}
	return nil
}

func (s *RedisStore) PersistAnalysis(ctx context.Context, a experiment.Analysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, analysisKey(a.SessionID), data, 0)
		pipe.ZAdd(ctx, analysesIndexKey, redis.Z{
			Score:  float64(a.AnalyzedAt.UnixMilli()),
			Member: a.SessionID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store analysis: %w", err)
	}
	return nil
}

func (s *RedisStore) GetAnalysis(ctx context.Context, sessionID string) (experiment.Analysis, error) {
	data, err := s.client.Get(ctx, analysisKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return experiment.Analysis{}, storage.ErrNotFound
	}
	if err != nil {
		return experiment.Analysis{}, fmt.Errorf("failed to get analysis: %w", err)
	}
	var a experiment.Analysis
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return experiment.Analysis{}, fmt.Errorf("failed to unmarshal analysis: %w", err)
	}
	return a, nil
}

func (s *RedisStore) ListAnalyses(ctx context.Context, limit int) ([]experiment.Analysis, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, analysesIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = analysisKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get analyses: %w", err)
	}

	out := make([]experiment.Analysis, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			s.log.Warn("Analysis index entry without value", zap.String("session_id", ids[i]))
			continue
		}
		var a experiment.Analysis
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis %s: %w", ids[i], err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) GetPhaseRecords(ctx context.Context, sessionID string) ([]experiment.PhaseRecord, error) {
	items, err := s.client.LRange(ctx, phaseRecordsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get phase records: %w", err)
	}
	out := make([]experiment.PhaseRecord, 0, len(items))
	for _, item := range items {
		var rec experiment.PhaseRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal phase record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
