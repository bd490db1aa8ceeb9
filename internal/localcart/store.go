package localcart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/flight"
	"github.com/fjod/cartsync/internal/pricing"
	"github.com/fjod/cartsync/internal/quantity"
	"github.com/fjod/cartsync/internal/storage"
	"github.com/google/uuid"
)

// StorageVersion tags the persisted payload. A stored payload with another
// version is discarded on load.
const StorageVersion = "3.0"

var (
	ErrLineNotFound = errors.New("cart line not found")
	ErrBelowMinimum = domain.ErrBelowMinimum
)

type payload struct {
	Version      string            `json:"version"`
	Lines        []domain.CartLine `json:"items"`
	Coupons      []pricing.Coupon  `json:"applied_coupons,omitempty"`
	Shipping     string            `json:"selected_shipping,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

type Options struct {
	// Key is the storage key of this cart, usually derived from the session.
	Key          string
	PersistDelay time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Store is the client-resident cart used while no remote cart is synced.
// Every mutation is persisted through a debounced save and recorded in the
// undo history.
type Store struct {
	mu           sync.Mutex
	key          string
	storage      storage.Storage
	saver        *flight.Coalescer
	log          *slog.Logger
	now          func() time.Time
	lines        []domain.CartLine
	coupons      pricing.Coupons
	shipping     string
	lastModified time.Time
	hist         history
}

func New(st storage.Storage, opts Options) *Store {
	if opts.PersistDelay <= 0 {
		opts.PersistDelay = 300 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		key:      "cart:" + opts.Key,
		storage:  st,
		saver:    flight.NewCoalescer(opts.PersistDelay),
		log:      opts.Logger.With("component", "localcart", "key", opts.Key),
		now:      opts.Now,
		shipping: pricing.DefaultShipping,
	}
	s.hist.reset(s.stateLocked(Action{Type: "init"}))
	return s
}

// Load restores the persisted cart. A missing or foreign-version payload
// leaves the store empty; stored lines are re-validated before use.
func (s *Store) Load(ctx context.Context) error {
	var p payload
	err := storage.GetJSON(ctx, s.storage, s.key, &p)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.log.WarnContext(ctx, "discarding unreadable cart payload", "error", err)
		return s.storage.Delete(ctx, s.key)
	}
	if p.Version != StorageVersion {
		s.log.InfoContext(ctx, "discarding cart payload with old version", "version", p.Version)
		return s.storage.Delete(ctx, s.key)
	}

	res := quantity.Sanitize(p.Lines)
	if res.Removed > 0 || res.Corrected > 0 {
		s.log.WarnContext(ctx, "sanitized stored cart lines", "removed", res.Removed, "corrected", res.Corrected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = res.Valid
	for i := range s.lines {
		pricing.Reprice(&s.lines[i])
	}
	s.coupons = pricing.Coupons{Applied: p.Coupons}
	if p.Shipping != "" {
		s.shipping = p.Shipping
	}
	s.lastModified = p.LastModified
	s.hist.reset(s.stateLocked(Action{Type: "load", At: s.now()}))
	return nil
}

// Lines returns a copy of the current lines.
func (s *Store) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneLines(s.lines)
}

func (s *Store) Line(lineID string) (domain.CartLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(lineID); i >= 0 {
		return domain.CloneLines(s.lines[i : i+1])[0], true
	}
	return domain.CartLine{}, false
}

func (s *Store) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModified
}

// AddItem folds qty into the matching line for the product, or appends a new
// line built from the product snapshot.
func (s *Store) AddItem(ctx context.Context, p domain.Product, qty int) (domain.CartLine, error) {
	if p.IsOffered() && !p.OfferComplete() {
		return domain.CartLine{}, domain.ErrIncompleteOffer
	}
	qty = quantity.Validate(qty)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		l := &s.lines[i]
		if l.ProductID != p.ID || !l.MergesWith(p.IsOffered(), p.OfferID) {
			continue
		}
		lo, hi := l.QuantityBounds()
		l.Quantity = quantity.Clamp(l.Quantity+qty, lo, hi)
		l.UpdatedAt = s.now()
		pricing.Reprice(l)
		line := *l
		s.commitLocked(ctx, Action{Type: "addItem", Summary: fmt.Sprintf("%s x%d", p.Name, qty)})
		return line, nil
	}

	line := domain.NewLine(p, s.now())
	line.ID = uuid.NewString()
	lo, hi := line.QuantityBounds()
	if lo > hi {
		return domain.CartLine{}, ErrBelowMinimum
	}
	line.Quantity = quantity.Clamp(qty, lo, hi)
	pricing.Reprice(&line)
	s.lines = append(s.lines, line)
	s.commitLocked(ctx, Action{Type: "addItem", Summary: fmt.Sprintf("%s x%d", p.Name, line.Quantity)})
	return line, nil
}

// UpdateQuantity sets the quantity of a line within its bounds and reprices
// it. A quantity of zero or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, lineID string, qty int) (domain.CartLine, error) {
	if qty <= 0 {
		return domain.CartLine{}, s.RemoveItem(ctx, lineID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(lineID)
	if i < 0 {
		return domain.CartLine{}, ErrLineNotFound
	}
	l := &s.lines[i]
	lo, hi := l.QuantityBounds()
	if lo > hi {
		return *l, ErrBelowMinimum
	}
	prev := l.Quantity
	l.Quantity = quantity.Clamp(qty, lo, hi)
	if l.Quantity == prev {
		return *l, nil
	}
	l.UpdatedAt = s.now()
	pricing.Reprice(l)
	line := *l
	s.commitLocked(ctx, Action{Type: "updateQuantity", Summary: fmt.Sprintf("%s %d -> %d", l.Product.Name, prev, l.Quantity)})
	return line, nil
}

func (s *Store) RemoveItem(ctx context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(lineID)
	if i < 0 {
		return ErrLineNotFound
	}
	name := s.lines[i].Product.Name
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	s.commitLocked(ctx, Action{Type: "removeItem", Summary: name})
	return nil
}

// RemoveItems drops every listed line in one mutation and reports how many
// were present.
func (s *Store) RemoveItems(ctx context.Context, lineIDs []string) int {
	drop := make(map[string]struct{}, len(lineIDs))
	for _, id := range lineIDs {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.lines[:0]
	removed := 0
	for _, l := range s.lines {
		if _, ok := drop[l.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	s.lines = kept
	if removed > 0 {
		s.commitLocked(ctx, Action{Type: "removeItems", Summary: fmt.Sprintf("%d lines", removed)})
	}
	return removed
}

// Clear empties the cart and drops the applied coupons.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.coupons.Clear()
	s.commitLocked(ctx, Action{Type: "clearCart", Summary: "cart emptied"})
}

// DropLines forgets the lines and the history once they were migrated to a
// remote cart. Coupons and shipping selection stay.
func (s *Store) DropLines(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.lastModified = s.now()
	s.hist.reset(s.stateLocked(Action{Type: "synced", At: s.lastModified}))
	s.scheduleSaveLocked(ctx)
}

func (s *Store) ApplyCoupon(ctx context.Context, code string, subtotal float64) (pricing.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.coupons.Apply(code, subtotal, s.now())
	if err != nil {
		return pricing.Coupon{}, err
	}
	s.commitLocked(ctx, Action{Type: "applyCoupon", Summary: c.Code})
	return c, nil
}

func (s *Store) RemoveCoupon(ctx context.Context, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.coupons.Remove(code) {
		return false
	}
	s.commitLocked(ctx, Action{Type: "removeCoupon", Summary: code})
	return true
}

func (s *Store) SetShipping(ctx context.Context, optionID string) (pricing.ShippingOption, error) {
	opt, err := pricing.FindShipping(optionID)
	if err != nil {
		return opt, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shipping != optionID {
		s.shipping = optionID
		s.commitLocked(ctx, Action{Type: "setShipping", Summary: opt.Name})
	}
	return opt, nil
}

// Adjustments returns the applied coupons and the selected shipping option.
func (s *Store) Adjustments() (*pricing.Coupons, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &pricing.Coupons{Applied: append([]pricing.Coupon(nil), s.coupons.Applied...)}, s.shipping
}

// Undo restores the state before the last action and returns that action.
func (s *Store) Undo(ctx context.Context) (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, undone, ok := s.hist.undo()
	if !ok {
		return Action{}, false
	}
	s.restoreLocked(ctx, st)
	return undone, true
}

func (s *Store) Redo(ctx context.Context) (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.hist.redo()
	if !ok {
		return Action{}, false
	}
	s.restoreLocked(ctx, st)
	return st.action, true
}

func (s *Store) UndoInfo() HistoryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.undoInfo()
}

func (s *Store) RedoInfo() HistoryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.redoInfo()
}

// Flush writes any pending save immediately.
func (s *Store) Flush() {
	s.saver.Flush()
}

func (s *Store) indexLocked(lineID string) int {
	for i, l := range s.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (s *Store) stateLocked(a Action) state {
	return state{
		lines:    domain.CloneLines(s.lines),
		coupons:  append([]pricing.Coupon(nil), s.coupons.Applied...),
		shipping: s.shipping,
		action:   a,
	}
}

func (s *Store) restoreLocked(ctx context.Context, st state) {
	s.lines = domain.CloneLines(st.lines)
	s.coupons = pricing.Coupons{Applied: append([]pricing.Coupon(nil), st.coupons...)}
	s.shipping = st.shipping
	s.lastModified = s.now()
	s.scheduleSaveLocked(ctx)
}

func (s *Store) commitLocked(ctx context.Context, a Action) {
	a.At = s.now()
	s.lastModified = a.At
	s.hist.push(s.stateLocked(a))
	s.scheduleSaveLocked(ctx)
}

func (s *Store) scheduleSaveLocked(ctx context.Context) {
	s.saver.Submit(ctx, s.key, s.persist)
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	p := payload{
		Version:      StorageVersion,
		Lines:        domain.CloneLines(s.lines),
		Coupons:      append([]pricing.Coupon(nil), s.coupons.Applied...),
		Shipping:     s.shipping,
		LastModified: s.lastModified,
	}
	s.mu.Unlock()

	if err := storage.SetJSON(ctx, s.storage, s.key, p); err != nil {
		s.log.ErrorContext(ctx, "failed to persist cart", "error", err)
		return err
	}
	return nil
}
