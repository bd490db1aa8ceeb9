package repository

import (
	"context"
	"testing"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/quantity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestMongo(t *testing.T) (*MongoCartRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, MongoOptions{URI: uri, Database: "testdb", MaxPoolSize: 10})
	require.NoError(t, err)

	repo := NewMongoCartRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return repo, cleanup
}

func testLine(productID string, qty int) domain.CartLine {
	return domain.CartLine{
		ProductID: productID,
		Quantity:  qty,
		BasePrice: 1000,
		UnitPrice: 1000,
		Product:   domain.ProductSnapshot{Name: "Product " + productID, Stock: 100},
	}
}

func TestMongo_GetActiveCart_NotFound(t *testing.T) {
	repo, cleanup := setupTestMongo(t)
	defer cleanup()

	cart, err := repo.GetActiveCart(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestMongo_CreateActiveCart_IsIdempotent(t *testing.T) {
	repo, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	first, err := repo.CreateActiveCart(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, first.UpdatedAt.IsZero(), "a new cart has no update timestamp")
	assert.Empty(t, first.Lines)

	second, err := repo.CreateActiveCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestMongo_LinesLifecycle(t *testing.T) {
	repo, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	cart, err := repo.CreateActiveCart(ctx, "user-1")
	require.NoError(t, err)

	a, err := repo.InsertLine(ctx, cart.ID, testLine("A", 2))
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	offered := testLine("A", 1)
	offered.OfferID = "offer-1"
	offered.OfferedPrice = 800
	_, err = repo.InsertLine(ctx, cart.ID, offered)
	require.NoError(t, err)

	b, err := repo.InsertLine(ctx, cart.ID, testLine("B", 1))
	require.NoError(t, err)

	byProduct, err := repo.FindLinesByProduct(ctx, cart.ID, "A")
	require.NoError(t, err)
	assert.Len(t, byProduct, 2)

	updated, err := repo.UpdateLineQuantity(ctx, cart.ID, a.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, updated.Quantity)
	assert.Equal(t, "Product A", updated.Product.Name)

	_, err = repo.UpdateLineQuantity(ctx, cart.ID, "missing", 3)
	assert.ErrorIs(t, err, ErrItemNotFound)

	n, err := repo.DeleteLines(ctx, cart.ID, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.GetActiveCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "offer-1", got.Lines[0].OfferID)

	require.NoError(t, repo.ClearLines(ctx, cart.ID))
	lines, err := repo.ListLines(ctx, cart.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestMongo_QuantityOutOfRange(t *testing.T) {
	repo, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	cart, err := repo.CreateActiveCart(ctx, "user-1")
	require.NoError(t, err)

	_, err = repo.InsertLine(ctx, cart.ID, testLine("A", 1<<40))
	assert.ErrorIs(t, err, ErrQuantityOutOfRange)
	assert.True(t, quantity.IsQuantityError(err))
}

func TestMongo_TouchAndStatus(t *testing.T) {
	repo, cleanup := setupTestMongo(t)
	defer cleanup()
	ctx := context.Background()

	cart, err := repo.CreateActiveCart(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, repo.TouchCart(ctx, cart.ID))
	got, err := repo.GetActiveCart(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, repo.SetCartStatus(ctx, cart.ID, domain.CartStatusPending))
	_, err = repo.GetActiveCart(ctx, "user-1")
	assert.ErrorIs(t, err, ErrCartNotFound, "a pending cart is no longer active")

	next, err := repo.CreateActiveCart(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, cart.ID, next.ID)

	assert.ErrorIs(t, repo.TouchCart(ctx, "missing"), ErrCartNotFound)
}
