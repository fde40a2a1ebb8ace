package mongo

import (
	"context"
	"errors"
	"fmt"

	"attentrack/internal/experiment"
	"attentrack/internal/storage"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	phaseRecordsCollection = "experiment_data"
	analysesCollection     = "analysis_results"
)

// MongoStore keeps one document per completed phase and one analysis
// document per session.
type MongoStore struct {
	uri      string
	database string
	log      *zap.Logger

	client   *mongo.Client
	records  *mongo.Collection
	analyses *mongo.Collection
}

func NewMongoStore(uri, database string, log *zap.Logger) storage.Storage {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoStore{uri: uri, database: database, log: log.Named("mongo")}
}

func (s *MongoStore) Init(ctx context.Context) error {
	s.log.Info("Connecting to MongoDB", zap.String("database", s.database))
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(s.database)
	s.client = client
	s.records = db.Collection(phaseRecordsCollection)
	s.analyses = db.Collection(analysesCollection)

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.records, mongo.IndexModel{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "recorded_at", Value: 1}}}},
		{s.analyses, mongo.IndexModel{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{s.analyses, mongo.IndexModel{Keys: bson.D{{Key: "analyzed_at", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			_ = client.Disconnect(ctx)
			return fmt.Errorf("failed to create index on %s: %w", idx.coll.Name(), err)
		}
	}
	s.log.Info("MongoDB initialized successfully")
	return nil
}

func (s *MongoStore) PersistPhaseRecord(ctx context.Context, rec experiment.PhaseRecord) error {
	if _, err := s.records.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert phase record: %w", err)
	}
	return nil
}

func (s *MongoStore) PersistAnalysis(ctx context.Context, a experiment.Analysis) error {
	_, err := s.analyses.ReplaceOne(ctx,
		bson.M{"session_id": a.SessionID},
		a,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}
	return nil
}

func (s *MongoStore) GetAnalysis(ctx context.Context, sessionID string) (experiment.Analysis, error) {
	var a experiment.Analysis
	err := s.analyses.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return experiment.Analysis{}, storage.ErrNotFound
	}
	if err != nil {
		return experiment.Analysis{}, fmt.Errorf("failed to find analysis: %w", err)
	}
	return a, nil
}

func (s *MongoStore) ListAnalyses(ctx context.Context, limit int) ([]experiment.Analysis, error) {
	opts := options.Find().SetSort(bson.D{{Key: "analyzed_at", Value: -1}, {Key: "session_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.analyses.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	var out []experiment.Analysis
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode analyses: %w", err)
	}
	return out, nil
}

func (s *MongoStore) GetPhaseRecords(ctx context.Context, sessionID string) ([]experiment.PhaseRecord, error) {
	cur, err := s.records.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "recorded_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query phase records: %w", err)
	}
	var out []experiment.PhaseRecord
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode phase records: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	s.log.Info("Disconnecting from MongoDB")
	return s.client.Disconnect(context.Background())
}
