package history

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection runs are stored in.
const CollectionName = "release_runs"

const connectTimeout = 10 * time.Second

// MongoRecorder stores runs in MongoDB.
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
	owned      bool
}

// NewMongoRecorder connects to uri and verifies the connection.
func NewMongoRecorder(ctx context.Context, uri, database string) (*MongoRecorder, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	rec := NewMongoRecorderFromClient(client, database)
	rec.owned = true
	if err := rec.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return rec, nil
}

// NewMongoRecorderFromClient uses an existing client. Close leaves the
// client connected.
func NewMongoRecorderFromClient(client *mongo.Client, database string) *MongoRecorder {
	return &MongoRecorder{
		client:     client,
		collection: client.Database(database).Collection(CollectionName),
	}
}

func (m *MongoRecorder) ensureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create history index: %w", err)
	}
	return nil
}

func (m *MongoRecorder) Record(ctx context.Context, run *Run) error {
	_, err := m.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: run.ID}},
		run,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (m *MongoRecorder) List(ctx context.Context, limit int) ([]*Run, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := m.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []*Run
	if err := cur.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	return runs, nil
}

func (m *MongoRecorder) Close(ctx context.Context) error {
	if !m.owned {
		return nil
	}
	return m.client.Disconnect(ctx)
}

var _ Recorder = (*MongoRecorder)(nil)
