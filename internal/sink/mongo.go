package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dataharvest/reaper/internal/types"
)

// MongoSink emits one document per record into a run-tagged collection.
// A document store needs no close-time column reconciliation.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	count      int
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewMongo connects to the document store and targets the given
// collection. Callers tag the collection name with the run timestamp.
func NewMongo(uri, database, collection string, logger *slog.Logger) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &types.SinkError{Backend: "mongo", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, &types.SinkError{Backend: "mongo", Err: err}
	}

	return &MongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_sink"),
	}, nil
}

func (s *MongoSink) Name() string { return "mongo" }

// Append inserts one document.
func (s *MongoSink) Append(rec *types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := make(map[string]any, len(rec.Columns())+4)
	doc["_fingerprint"] = rec.Fingerprint
	doc["_partition"] = rec.PartitionID
	doc["_source_url"] = rec.URL
	doc["_scraped_at"] = time.Now()
	for _, col := range rec.Columns() {
		v, _ := rec.Get(col)
		doc[col] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return &types.SinkError{Backend: "mongo", Err: err}
	}
	s.count++
	return nil
}

// Flush is a no-op: inserts are durable per append.
func (s *MongoSink) Flush() error { return nil }

// Close disconnects from the document store.
func (s *MongoSink) Close() error {
	s.logger.Info("mongo sink closing", "documents", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Sink = (*MongoSink)(nil)
