package journal

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCloseTimeout = 5 * time.Second

// Mongo stores exchanges as documents in one collection.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		database = "fingpt"
	}
	if collection == "" {
		collection = defaultTable
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &Mongo{client: client, collection: coll}, nil
}

func (m *Mongo) Record(ctx context.Context, ex Exchange) error {
	if m == nil || m.collection == nil {
		return nil
	}
	_, err := m.collection.InsertOne(ctx, Stamp(ex))
	return err
}

func (m *Mongo) Recent(ctx context.Context, conversationID string, limit int) ([]Exchange, error) {
	if m == nil || m.collection == nil || limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := m.collection.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Exchange
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (m *Mongo) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
