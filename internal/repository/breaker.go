package repository

import (
	"context"

	"github.com/fjod/cartsync/internal/circuitbreaker"
	"github.com/fjod/cartsync/internal/domain"
)

// BreakerCartRepository guards a CartRepository with a circuit breaker so a
// failing store is not hammered by every session.
type BreakerCartRepository struct {
	next CartRepository
	cb   *circuitbreaker.Breaker
}

func NewBreakerCartRepository(next CartRepository, cb *circuitbreaker.Breaker) *BreakerCartRepository {
	return &BreakerCartRepository{next: next, cb: cb}
}

func (b *BreakerCartRepository) GetActiveCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return circuitbreaker.Do(b.cb, func() (*domain.Cart, error) {
		return b.next.GetActiveCart(ctx, userID)
	})
}

func (b *BreakerCartRepository) CreateActiveCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return circuitbreaker.Do(b.cb, func() (*domain.Cart, error) {
		return b.next.CreateActiveCart(ctx, userID)
	})
}

func (b *BreakerCartRepository) ListLines(ctx context.Context, cartID string) ([]domain.CartLine, error) {
	return circuitbreaker.Do(b.cb, func() ([]domain.CartLine, error) {
		return b.next.ListLines(ctx, cartID)
	})
}

func (b *BreakerCartRepository) FindLinesByProduct(ctx context.Context, cartID, productID string) ([]domain.CartLine, error) {
	return circuitbreaker.Do(b.cb, func() ([]domain.CartLine, error) {
		return b.next.FindLinesByProduct(ctx, cartID, productID)
	})
}

func (b *BreakerCartRepository) InsertLine(ctx context.Context, cartID string, line domain.CartLine) (*domain.CartLine, error) {
	return circuitbreaker.Do(b.cb, func() (*domain.CartLine, error) {
		return b.next.InsertLine(ctx, cartID, line)
	})
}

func (b *BreakerCartRepository) UpdateLineQuantity(ctx context.Context, cartID, lineID string, qty int) (*domain.CartLine, error) {
	return circuitbreaker.Do(b.cb, func() (*domain.CartLine, error) {
		return b.next.UpdateLineQuantity(ctx, cartID, lineID, qty)
	})
}

func (b *BreakerCartRepository) DeleteLines(ctx context.Context, cartID string, lineIDs []string) (int, error) {
	return circuitbreaker.Do(b.cb, func() (int, error) {
		return b.next.DeleteLines(ctx, cartID, lineIDs)
	})
}

func (b *BreakerCartRepository) ClearLines(ctx context.Context, cartID string) error {
	return b.cb.Exec(func() error { return b.next.ClearLines(ctx, cartID) })
}

func (b *BreakerCartRepository) TouchCart(ctx context.Context, cartID string) error {
	return b.cb.Exec(func() error { return b.next.TouchCart(ctx, cartID) })
}

func (b *BreakerCartRepository) SetCartStatus(ctx context.Context, cartID string, status domain.CartStatus) error {
	return b.cb.Exec(func() error { return b.next.SetCartStatus(ctx, cartID, status) })
}
