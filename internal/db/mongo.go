package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/kid-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo connects to MongoDB at uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// Ping to verify connection
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoMessageCollection stores tracker messages and answers history queries.
type MongoMessageCollection struct {
	Collection *mongo.Collection
}

// EnsureIndexes creates the index history queries rely on.
func (c *MongoMessageCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "device_id", Value: 1},
			{Key: "source", Value: 1},
			{Key: "type", Value: 1},
			{Key: "timestamp", Value: -1},
		},
	})
	return err
}

// InsertMessage inserts a message record into the collection.
func (c *MongoMessageCollection) InsertMessage(ctx context.Context, message models.Message) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.InsertOne(ctx, message)
	return err
}

// Last returns, for each device of q, its newest matching message at or
// before q.Before.
func (c *MongoMessageCollection) Last(ctx context.Context, q models.HistoryQuery) ([]models.Message, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	cursor, err := c.Collection.Aggregate(ctx, lastPipeline(q))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Range returns matching messages within [q.Start, q.End), oldest first.
func (c *MongoMessageCollection) Range(ctx context.Context, q models.HistoryQuery) ([]models.Message, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !q.IsRange() {
		return nil, models.ErrInvalidRange
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := c.Collection.Find(ctx, rangeFilter(q), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []models.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func baseFilter(q models.HistoryQuery) bson.M {
	filter := bson.M{
		"device_id": bson.M{"$in": q.DeviceIDs},
		"type":      bson.M{"$in": q.Kinds},
	}
	if q.Source != "" {
		filter["source"] = q.Source
	}
	return filter
}

func lastFilter(q models.HistoryQuery) bson.M {
	filter := baseFilter(q)
	if !q.Before.IsZero() {
		filter["timestamp"] = bson.M{"$lte": q.Before}
	}
	return filter
}

func rangeFilter(q models.HistoryQuery) bson.M {
	filter := baseFilter(q)
	filter["timestamp"] = bson.M{"$gte": q.Start, "$lt": q.End}
	return filter
}

func lastPipeline(q models.HistoryQuery) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: lastFilter(q)}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$device_id"},
			{Key: "doc", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$doc"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "device_id", Value: 1}}}},
	}
}
