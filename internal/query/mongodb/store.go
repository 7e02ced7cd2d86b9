package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/querybridge/querybridge/internal/query"
)

type Config struct {
	URI             string
	Database        string
	AppName         string
	MaxPoolSize     int
	MinPoolSize     int
	ConnectTimeout  time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects to MongoDB and verifies the deployment is reachable.
func Open(ctx context.Context, cfg Config) (*mongo.Client, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(uint64(cfg.MinPoolSize))
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(cfg.MaxConnIdleTime)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

type Store struct {
	db *mongo.Database
}

func NewStore(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Find runs a read-only query. An absent filter matches every document.
// Unknown collections are not pre-checked; MongoDB returns an empty cursor.
func (s *Store) Find(ctx context.Context, collection string, filter json.RawMessage, opts query.FindOptions) (query.Batch, error) {
	predicate, err := decodeDocument(filter)
	if err != nil {
		return query.Batch{}, fmt.Errorf("decode filter: %w", err)
	}

	findOpts := options.Find()
	if opts.MaxDocuments > 0 {
		// one extra document tells a bounded result from an exact fit
		findOpts.SetLimit(int64(opts.MaxDocuments) + 1)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, predicate, findOpts)
	if err != nil {
		return query.Batch{}, fmt.Errorf("find: %w", err)
	}
	return drain(ctx, cursor, opts.MaxDocuments)
}

// Aggregate runs the stages in order. Stage operators are not inspected.
func (s *Store) Aggregate(ctx context.Context, collection string, stages []json.RawMessage, opts query.AggregateOptions) (query.Batch, error) {
	pipeline := make(mongo.Pipeline, 0, len(stages))
	for i, raw := range stages {
		stage, err := decodeDocument(raw)
		if err != nil {
			return query.Batch{}, fmt.Errorf("decode pipeline stage %d: %w", i, err)
		}
		pipeline = append(pipeline, stage)
	}

	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return query.Batch{}, fmt.Errorf("aggregate: %w", err)
	}
	return drain(ctx, cursor, opts.MaxDocuments)
}

// Replace drops the collection and inserts docs in its place.
func (s *Store) Replace(ctx context.Context, collection string, docs []any) (int, error) {
	coll := s.db.Collection(collection)
	if err := coll.Drop(ctx); err != nil {
		return 0, fmt.Errorf("drop collection %q: %w", collection, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	result, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", collection, err)
	}
	return len(result.InsertedIDs), nil
}

func drain(ctx context.Context, cursor *mongo.Cursor, maxDocuments int) (query.Batch, error) {
	defer func() { _ = cursor.Close(context.Background()) }()

	batch := query.Batch{Documents: make([]json.RawMessage, 0)}
	for cursor.Next(ctx) {
		if maxDocuments > 0 && len(batch.Documents) >= maxDocuments {
			batch.Truncated = true
			break
		}
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return query.Batch{}, fmt.Errorf("decode document: %w", err)
		}
		encoded, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return query.Batch{}, fmt.Errorf("encode document: %w", err)
		}
		batch.Documents = append(batch.Documents, encoded)
	}
	if err := cursor.Err(); err != nil {
		return query.Batch{}, fmt.Errorf("iterate cursor: %w", err)
	}
	return batch, nil
}

func decodeDocument(raw json.RawMessage) (bson.D, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(trimmed), false, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = bson.D{}
	}
	return doc, nil
}
