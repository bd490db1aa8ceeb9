package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/quantity"
)

var (
	ErrCartNotFound  = errors.New("cart not found")
	ErrItemNotFound  = errors.New("item not found in cart")
	ErrOrderNotFound = errors.New("order not found")
	// ErrQuantityOutOfRange mirrors the integer column limit of cart_items.quantity.
	ErrQuantityOutOfRange = fmt.Errorf("cart_items.quantity: %w", quantity.ErrOutOfRange)
)

// CartRepository is the remote authoritative cart store: one active cart per
// user, lines stored separately from the cart header.
type CartRepository interface {
	// GetActiveCart returns the user's active cart with its lines, or ErrCartNotFound.
	GetActiveCart(ctx context.Context, userID string) (*domain.Cart, error)
	// CreateActiveCart returns the active cart, creating an empty one if needed.
	CreateActiveCart(ctx context.Context, userID string) (*domain.Cart, error)
	ListLines(ctx context.Context, cartID string) ([]domain.CartLine, error)
	FindLinesByProduct(ctx context.Context, cartID, productID string) ([]domain.CartLine, error)
	InsertLine(ctx context.Context, cartID string, line domain.CartLine) (*domain.CartLine, error)
	UpdateLineQuantity(ctx context.Context, cartID, lineID string, qty int) (*domain.CartLine, error)
	DeleteLines(ctx context.Context, cartID string, lineIDs []string) (int, error)
	ClearLines(ctx context.Context, cartID string) error
	TouchCart(ctx context.Context, cartID string) error
	SetCartStatus(ctx context.Context, cartID string, status domain.CartStatus) error
}

// ProfileRepository reads the profile sub-resources validated by the caches.
type ProfileRepository interface {
	GetBillingInfo(ctx context.Context, userID string) (*domain.BillingInfo, error)
	GetTransferInfo(ctx context.Context, userID string) (*domain.TransferInfo, error)
	GetShippingInfo(ctx context.Context, userID string) (*domain.ShippingInfo, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) (*domain.Order, error)
}

// IsAnswer reports errors that are a definite reply from the store rather
// than a failure of it.
func IsAnswer(err error) bool {
	return errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		quantity.IsQuantityError(err)
}

func checkQuantity(qty int) error {
	if qty < 1 || int64(qty) > maxInt32 {
		return fmt.Errorf("%w: %d", ErrQuantityOutOfRange, qty)
	}
	return nil
}

const maxInt32 = 1<<31 - 1
