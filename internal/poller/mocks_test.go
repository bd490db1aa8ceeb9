package poller

import (
	"context"
	"sync"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/repository"
)

type mockOrders struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	err    error
}

func newMockOrders(orders ...domain.Order) *mockOrders {
	m := &mockOrders{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrders) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = *order
	return nil
}

func (m *mockOrders) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (m *mockOrders) UpdatePaymentStatus(_ context.Context, orderID string, status domain.PaymentStatus) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	o.PaymentStatus = status
	m.orders[orderID] = o
	return &o, nil
}

type mockCarts struct {
	mu   sync.Mutex
	paid []domain.Order
	err  error
}

func (m *mockCarts) ClearPaid(_ context.Context, order domain.Order) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.paid = append(m.paid, order)
	return 1, nil
}

func (m *mockCarts) cleared() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Order(nil), m.paid...)
}
