package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/cartsync/internal/circuitbreaker"
	"github.com/fjod/cartsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyRepo fails every call with err while it is set.
type flakyRepo struct {
	CartRepository
	mu    sync.Mutex
	err   error
	calls int
}

func (f *flakyRepo) GetActiveCart(context.Context, string) (*domain.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Cart{ID: "c1"}, nil
}

func (f *flakyRepo) TouchCart(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func TestBreakerCartRepository_OpensOnFailures(t *testing.T) {
	inner := &flakyRepo{err: errors.New("connection reset")}
	cb := circuitbreaker.New("carts", circuitbreaker.Options{ConsecutiveFailures: 3, Timeout: time.Hour, Ignore: IsAnswer}, nil)
	repo := NewBreakerCartRepository(inner, cb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.GetActiveCart(ctx, "u")
		require.Error(t, err)
	}
	err := repo.TouchCart(ctx, "c1")
	assert.True(t, circuitbreaker.IsOpen(err))
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerCartRepository_NotFoundDoesNotTrip(t *testing.T) {
	inner := &flakyRepo{err: ErrCartNotFound}
	cb := circuitbreaker.New("carts", circuitbreaker.Options{ConsecutiveFailures: 1, Timeout: time.Hour, Ignore: IsAnswer}, nil)
	repo := NewBreakerCartRepository(inner, cb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.GetActiveCart(ctx, "u")
		assert.ErrorIs(t, err, ErrCartNotFound)
	}

	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()
	cart, err := repo.GetActiveCart(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "c1", cart.ID)
}
