package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/localcart"
	"github.com/fjod/cartsync/internal/pricing"
	"github.com/fjod/cartsync/internal/remotecart"
	"github.com/fjod/cartsync/internal/repository"
	"github.com/google/uuid"
)

// ErrNotSynced is returned by operations that need a signed-in cart.
var ErrNotSynced = remotecart.ErrNotSynced

// CartService is the single entry point of a session's cart. It sends each
// operation to the remote synchronizer once the session is synced, and to
// the local store before that.
type CartService struct {
	local  *localcart.Store
	remote *remotecart.Synchronizer
	orders repository.OrderRepository
	log    *slog.Logger

	// syncing is held exclusively by SyncOnLogin and shared by line
	// mutations, so no mutation lands on the local cart while its lines are
	// being moved to the remote one.
	syncing sync.RWMutex
}

// NewCartService wires the facade. orders may be nil when checkout does not
// record orders.
func NewCartService(local *localcart.Store, remote *remotecart.Synchronizer, orders repository.OrderRepository, log *slog.Logger) *CartService {
	if log == nil {
		log = slog.Default()
	}
	return &CartService{
		local:  local,
		remote: remote,
		orders: orders,
		log:    log.With("component", "cart_service"),
	}
}

func (s *CartService) Synced() bool {
	return s.remote.Synced()
}

func (s *CartService) CartID() string {
	return s.remote.CartID()
}

func (s *CartService) UserID() string {
	return s.remote.UserID()
}

// SyncOnLogin reconciles the local lines with the user's remote cart. After
// a successful first sync the local lines are dropped; coupons and the
// shipping choice stay with the session.
func (s *CartService) SyncOnLogin(ctx context.Context, userID string) (remotecart.Result, error) {
	if s.Synced() && s.UserID() == userID {
		return remotecart.Result{CartID: s.CartID(), Outcome: remotecart.OutcomeAlreadySync}, nil
	}
	s.syncing.Lock()
	defer s.syncing.Unlock()

	res, err := s.remote.Reconcile(ctx, userID, s.local.Lines())
	if err != nil {
		s.log.ErrorContext(ctx, "cart sync failed, staying on local cart", "user_id", userID, "error", err)
		return res, err
	}
	if res.Outcome != remotecart.OutcomeAlreadySync {
		s.local.DropLines(ctx)
	}
	return res, nil
}

func (s *CartService) Lines() []domain.CartLine {
	if s.Synced() {
		return s.remote.Lines()
	}
	return s.local.Lines()
}

// Refresh re-reads the remote lines. It does nothing before sync.
func (s *CartService) Refresh(ctx context.Context) ([]domain.CartLine, error) {
	if !s.Synced() {
		return s.local.Lines(), nil
	}
	return s.remote.Refresh(ctx)
}

func (s *CartService) AddItem(ctx context.Context, p domain.Product, qty int) (domain.CartLine, error) {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	if s.Synced() {
		return s.remote.AddItem(ctx, p, qty)
	}
	return s.local.AddItem(ctx, p, qty)
}

func (s *CartService) UpdateQuantity(ctx context.Context, lineID string, qty int) (domain.CartLine, error) {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	if s.Synced() {
		return s.remote.UpdateQuantity(ctx, lineID, qty)
	}
	return s.local.UpdateQuantity(ctx, lineID, qty)
}

func (s *CartService) RemoveItem(ctx context.Context, lineID string) error {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	if s.Synced() {
		return s.remote.RemoveItem(ctx, lineID)
	}
	return s.local.RemoveItem(ctx, lineID)
}

func (s *CartService) RemoveItemsBatch(ctx context.Context, lineIDs []string) (int, error) {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	if s.Synced() {
		return s.remote.RemoveItems(ctx, lineIDs)
	}
	return s.local.RemoveItems(ctx, lineIDs), nil
}

// ClearCart empties the cart and drops applied coupons.
func (s *CartService) ClearCart(ctx context.Context) error {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	if s.Synced() {
		if err := s.remote.Clear(ctx); err != nil {
			return err
		}
	}
	s.local.Clear(ctx)
	return nil
}

// Checkout marks the remote cart pending and records a pending order for its
// current total. The cart keeps its lines until the order is paid.
func (s *CartService) Checkout(ctx context.Context) (*domain.Order, error) {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	if !s.Synced() {
		return nil, ErrNotSynced
	}
	summary := s.Summary()
	cartID, err := s.remote.Checkout(ctx)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:            uuid.NewString(),
		CartID:        cartID,
		UserID:        s.remote.UserID(),
		PaymentStatus: domain.PaymentPending,
		TotalAmount:   summary.Total,
	}
	if s.orders != nil {
		if err := s.orders.CreateOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("record order for cart %s: %w", cartID, err)
		}
	}
	s.log.InfoContext(ctx, "checkout completed", "order_id", order.ID, "cart_id", cartID, "total", order.TotalAmount)
	return order, nil
}

// ClearCartIfPaid empties the cart when order is the paid order of the
// current cart.
func (s *CartService) ClearCartIfPaid(ctx context.Context, order domain.Order) (bool, error) {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	cleared, err := s.remote.ClearCartIfPaid(ctx, order)
	if err != nil || !cleared {
		return cleared, err
	}
	s.local.Clear(ctx)
	return true, nil
}

func (s *CartService) Summary() pricing.Summary {
	coupons, shipping := s.local.Adjustments()
	return pricing.Summarize(s.Lines(), shipping, coupons)
}

func (s *CartService) Subtotal() float64 {
	return pricing.Subtotal(s.Lines())
}

func (s *CartService) ShippingCost() float64 {
	return s.Summary().Shipping
}

func (s *CartService) Discount() float64 {
	return s.Summary().Discount
}

func (s *CartService) Total() float64 {
	return s.Summary().Total
}

func (s *CartService) ItemCount() int {
	return pricing.ItemCount(s.Lines())
}

func (s *CartService) Stats() pricing.Stats {
	return pricing.ComputeStats(s.Lines())
}

func (s *CartService) ApplyCoupon(ctx context.Context, code string) (pricing.Coupon, error) {
	return s.local.ApplyCoupon(ctx, code, s.Subtotal())
}

func (s *CartService) RemoveCoupon(ctx context.Context, code string) bool {
	return s.local.RemoveCoupon(ctx, code)
}

func (s *CartService) SetShippingOption(ctx context.Context, optionID string) (pricing.ShippingOption, error) {
	return s.local.SetShipping(ctx, optionID)
}

// Undo reverts the last local change. Once synced only coupon and shipping
// changes are in the history.
func (s *CartService) Undo(ctx context.Context) (localcart.Action, bool) {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	return s.local.Undo(ctx)
}

func (s *CartService) Redo(ctx context.Context) (localcart.Action, bool) {
	s.syncing.RLock()
	defer s.syncing.RUnlock()

	return s.local.Redo(ctx)
}

func (s *CartService) UndoInfo() localcart.HistoryInfo {
	return s.local.UndoInfo()
}

func (s *CartService) RedoInfo() localcart.HistoryInfo {
	return s.local.RedoInfo()
}

// Flush runs pending local saves and remote writes.
func (s *CartService) Flush() {
	s.local.Flush()
	s.remote.Flush()
}
