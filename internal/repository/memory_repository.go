package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/google/uuid"
)

// MemoryCartRepository keeps carts in process memory with the same
// semantics as the Mongo repository. Used when no remote store is
// configured and in tests.
type MemoryCartRepository struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
	lines map[string][]domain.CartLine
	now   func() time.Time
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{
		carts: make(map[string]domain.Cart),
		lines: make(map[string][]domain.CartLine),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryCartRepository) GetActiveCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.activeLocked(userID)
	if !ok {
		return nil, ErrCartNotFound
	}
	c.Lines = m.sortedLocked(c.ID, "")
	return &c, nil
}

func (m *MemoryCartRepository) CreateActiveCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.activeLocked(userID)
	if !ok {
		c = domain.Cart{
			ID:        uuid.NewString(),
			UserID:    userID,
			Status:    domain.CartStatusActive,
			CreatedAt: m.now(),
		}
		m.carts[c.ID] = c
	}
	c.Lines = m.sortedLocked(c.ID, "")
	return &c, nil
}

// Seed stores c and its lines as is. Lines without an id get one.
func (m *MemoryCartRepository) Seed(c domain.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := domain.CloneLines(c.Lines)
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
		lines[i].CartID = c.ID
	}
	c.Lines = nil
	m.carts[c.ID] = c
	m.lines[c.ID] = lines
}

func (m *MemoryCartRepository) ListLines(_ context.Context, cartID string) ([]domain.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked(cartID, ""), nil
}

func (m *MemoryCartRepository) FindLinesByProduct(_ context.Context, cartID, productID string) ([]domain.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked(cartID, productID), nil
}

func (m *MemoryCartRepository) InsertLine(_ context.Context, cartID string, line domain.CartLine) (*domain.CartLine, error) {
	if err := checkQuantity(line.Quantity); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	line.CartID = cartID
	line.AddedAt = now
	line.UpdatedAt = now
	line.PriceTiers = append([]domain.PriceTier(nil), line.PriceTiers...)
	m.lines[cartID] = append(m.lines[cartID], line)
	return &line, nil
}

func (m *MemoryCartRepository) UpdateLineQuantity(_ context.Context, cartID, lineID string, qty int) (*domain.CartLine, error) {
	if err := checkQuantity(qty); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.lines[cartID] {
		if l.ID == lineID {
			l.Quantity = qty
			l.UpdatedAt = m.now()
			m.lines[cartID][i] = l
			out := domain.CloneLines([]domain.CartLine{l})[0]
			return &out, nil
		}
	}
	return nil, ErrItemNotFound
}

func (m *MemoryCartRepository) DeleteLines(_ context.Context, cartID string, lineIDs []string) (int, error) {
	drop := make(map[string]struct{}, len(lineIDs))
	for _, id := range lineIDs {
		drop[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]domain.CartLine, 0, len(m.lines[cartID]))
	for _, l := range m.lines[cartID] {
		if _, ok := drop[l.ID]; !ok {
			kept = append(kept, l)
		}
	}
	n := len(m.lines[cartID]) - len(kept)
	m.lines[cartID] = kept
	return n, nil
}

func (m *MemoryCartRepository) ClearLines(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lines, cartID)
	return nil
}

func (m *MemoryCartRepository) TouchCart(_ context.Context, cartID string) error {
	return m.updateCart(cartID, func(c *domain.Cart) {})
}

func (m *MemoryCartRepository) SetCartStatus(_ context.Context, cartID string, status domain.CartStatus) error {
	return m.updateCart(cartID, func(c *domain.Cart) { c.Status = status })
}

// Cart returns the stored header of cartID.
func (m *MemoryCartRepository) Cart(cartID string) (domain.Cart, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.carts[cartID]
	return c, ok
}

func (m *MemoryCartRepository) updateCart(cartID string, fn func(*domain.Cart)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return ErrCartNotFound
	}
	fn(&c)
	c.UpdatedAt = m.now()
	m.carts[cartID] = c
	return nil
}

func (m *MemoryCartRepository) activeLocked(userID string) (domain.Cart, bool) {
	for _, c := range m.carts {
		if c.UserID == userID && c.Status == domain.CartStatusActive {
			return c, true
		}
	}
	return domain.Cart{}, false
}

// sortedLocked returns the lines of cartID newest first, optionally only
// those of productID.
func (m *MemoryCartRepository) sortedLocked(cartID, productID string) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(m.lines[cartID]))
	for _, l := range m.lines[cartID] {
		if productID == "" || l.ProductID == productID {
			out = append(out, l)
		}
	}
	out = domain.CloneLines(out)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.After(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
