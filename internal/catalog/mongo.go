package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection("products"),
	}
}

// FindProduct accepts both string ids and ObjectID hex ids, so documents
// written by other tools with native ObjectIDs still resolve.
func (m *MongoStore) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	filter := bson.M{"_id": id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filter = bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}

	var product domain.Product
	err := m.collection.FindOne(ctx, filter).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &product, nil
}

func (m *MongoStore) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer cursor.Close(ctx)

	products := make([]*domain.Product, 0)
	if err := cursor.All(ctx, &products); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	return products, nil
}

func (m *MongoStore) UpsertProducts(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range products {
		prepare(&products[i], now)
	}
	if err := validateAll(products); err != nil {
		return err
	}

	models := make([]mongo.WriteModel, 0, len(products))
	for i := range products {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": products[i].ID}).
			SetReplacement(products[i]).
			SetUpsert(true))
	}

	_, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert products: %w", err)
	}
	return nil
}

func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "name", Value: "text"},
				{Key: "description", Value: "text"},
				{Key: "brand", Value: "text"},
				{Key: "category", Value: "text"},
			},
		},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "brand", Value: 1}}},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Close is a no-op: the mongo client is shared with the cart repository and
// disconnected by the caller that created it.
func (m *MongoStore) Close() error {
	return nil
}
