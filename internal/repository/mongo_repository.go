package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoCartRepository struct {
	carts *mongo.Collection
	items *mongo.Collection
	now   func() time.Time
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{
		carts: db.Collection("carts"),
		items: db.Collection("cart_items"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MongoCartRepository) GetActiveCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart
	filter := bson.M{"user_id": userID, "status": domain.CartStatusActive}
	if err := m.carts.FindOne(ctx, filter).Decode(&cart); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	lines, err := m.ListLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Lines = lines
	return &cart, nil
}

// CreateActiveCart upserts the active cart. A cart created here carries no
// updated_at until its first mutation.
func (m *MongoCartRepository) CreateActiveCart(ctx context.Context, userID string) (*domain.Cart, error) {
	filter := bson.M{"user_id": userID, "status": domain.CartStatusActive}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":        uuid.NewString(),
			"created_at": m.now(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var cart domain.Cart
	err := m.carts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart)
	if mongo.IsDuplicateKeyError(err) {
		// lost the race against a concurrent upsert for the same user
		return m.GetActiveCart(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	lines, err := m.ListLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Lines = lines
	return &cart, nil
}

func (m *MongoCartRepository) ListLines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	return m.findLines(ctx, bson.M{"cart_id": cartID})
}

func (m *MongoCartRepository) FindLinesByProduct(ctx context.Context, cartID, productID string) ([]domain.CartLine, error) {
	return m.findLines(ctx, bson.M{"cart_id": cartID, "product_id": productID})
}

func (m *MongoCartRepository) findLines(ctx context.Context, filter bson.M) ([]domain.CartLine, error) {
	opts := options.Find().SetSort(bson.D{{Key: "added_at", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := m.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	defer cur.Close(ctx)

	lines := make([]domain.CartLine, 0)
	if err := cur.All(ctx, &lines); err != nil {
		return nil, fmt.Errorf("failed to decode cart items: %w", err)
	}
	return lines, nil
}

func (m *MongoCartRepository) InsertLine(ctx context.Context, cartID string, line domain.CartLine) (*domain.CartLine, error) {
	if err := checkQuantity(line.Quantity); err != nil {
		return nil, err
	}
	now := m.now()
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	line.CartID = cartID
	line.AddedAt = now
	line.UpdatedAt = now

	if _, err := m.items.InsertOne(ctx, line); err != nil {
		return nil, fmt.Errorf("failed to insert cart item: %w", err)
	}
	return &line, nil
}

func (m *MongoCartRepository) UpdateLineQuantity(ctx context.Context, cartID, lineID string, qty int) (*domain.CartLine, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	filter := bson.M{"_id": lineID, "cart_id": cartID}
	update := bson.M{
		"$set": bson.M{
			"quantity":   qty,
			"updated_at": m.now(),
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var line domain.CartLine
	if err := m.items.FindOneAndUpdate(ctx, filter, update, opts).Decode(&line); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to update item quantity: %w", err)
	}
	return &line, nil
}

func (m *MongoCartRepository) DeleteLines(ctx context.Context, cartID string, lineIDs []string) (int, error) {
	if len(lineIDs) == 0 {
		return 0, nil
	}
	filter := bson.M{"cart_id": cartID, "_id": bson.M{"$in": lineIDs}}
	res, err := m.items.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cart items: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (m *MongoCartRepository) ClearLines(ctx context.Context, cartID string) error {
	if _, err := m.items.DeleteMany(ctx, bson.M{"cart_id": cartID}); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (m *MongoCartRepository) TouchCart(ctx context.Context, cartID string) error {
	return m.updateCart(ctx, cartID, bson.M{"updated_at": m.now()})
}

func (m *MongoCartRepository) SetCartStatus(ctx context.Context, cartID string, status domain.CartStatus) error {
	return m.updateCart(ctx, cartID, bson.M{"status": status, "updated_at": m.now()})
}

func (m *MongoCartRepository) updateCart(ctx context.Context, cartID string, set bson.M) error {
	res, err := m.carts.UpdateOne(ctx, bson.M{"_id": cartID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	cartIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": domain.CartStatusActive}),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}
	if _, err := m.carts.Indexes().CreateMany(ctx, cartIndexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	itemIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "cart_id", Value: 1}, {Key: "product_id", Value: 1}}},
		{Keys: bson.D{{Key: "cart_id", Value: 1}, {Key: "added_at", Value: -1}}},
	}
	if _, err := m.items.Indexes().CreateMany(ctx, itemIndexes); err != nil {
		return fmt.Errorf("failed to create cart item indexes: %w", err)
	}
	return nil
}
