package repository

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

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&cart)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

func (m *MongoRepository) CreateCart(ctx context.Context, cart *domain.Cart) error {
	if err := cart.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := *cart
	if doc.ID == "" {
		doc.ID = primitive.NewObjectID().Hex()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Version = 1

	_, err := m.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to create cart: %w", err)
	}

	*cart = doc
	return nil
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	if err := cart.Validate(); err != nil {
		return err
	}

	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}

	now := time.Now().UTC()
	filter := bson.M{
		"user_id": cart.UserID,
		"version": cart.Version,
	}
	update := bson.M{
		"$set": bson.M{
			"items":       items,
			"total_price": cart.TotalPrice,
			"total_items": cart.TotalItems,
			"updated_at":  now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	cart.Version++
	cart.UpdatedAt = now
	return nil
}

func (m *MongoRepository) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{
			"items":       bson.A{},
			"total_price": 0,
			"total_items": 0,
			"updated_at":  time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
