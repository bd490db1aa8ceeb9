package remotecart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/cartsync/internal/auth"
	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/events"
	"github.com/fjod/cartsync/internal/flight"
	"github.com/fjod/cartsync/internal/pricing"
	"github.com/fjod/cartsync/internal/quantity"
	"github.com/fjod/cartsync/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotSynced        = errors.New("cart is not synced with the remote store")
	ErrIncompleteOffer  = domain.ErrIncompleteOffer
	ErrUnauthenticated  = errors.New("no authenticated user")
	ErrIdentityMismatch = errors.New("authenticated user does not own this cart")
	ErrEmptyCart        = errors.New("cart is empty")
)

const (
	DefaultRecentEmptyWindow = 10 * time.Minute
	DefaultTouchDelay        = 150 * time.Millisecond

	undoTimeout = 10 * time.Second
)

// Publisher receives cart notifications. *events.Bus satisfies it.
type Publisher interface {
	Publish(events.Event)
}

type Options struct {
	// RecentEmptyWindow: an empty remote cart updated more recently than
	// this was emptied on purpose and blocks migration of local lines.
	RecentEmptyWindow time.Duration
	// TouchDelay is the coalescing window of quantity writes and cart touches.
	TouchDelay time.Duration
	Session    string
	Publisher  Publisher
	Logger     *slog.Logger
	Now        func() time.Time
	Tracer     trace.Tracer
}

// Result describes how a reconciliation resolved.
type Result struct {
	CartID    string `json:"cart_id"`
	Outcome   string `json:"outcome"`
	Migrated  int    `json:"migrated"`
	Discarded int    `json:"discarded"`
	Sanitized int    `json:"sanitized"`
}

const (
	OutcomeRemoteWins  = "remote_wins"
	OutcomeRecentEmpty = "recent_empty"
	OutcomeMigrated    = "migrated"
	OutcomeAlreadySync = "already_synced"
	OutcomeRecovered   = "recovered"
)

// Synchronizer owns the remote-synced cart of one session. Reconcile runs
// once per login; every mutation afterwards goes to the remote store.
type Synchronizer struct {
	repo   repository.CartRepository
	auth   auth.Provider
	pub    Publisher
	writes *flight.Coalescer
	log    *slog.Logger
	now    func() time.Time
	tracer trace.Tracer
	window time.Duration
	sess   string

	carts flight.Group[*domain.Cart]
	lists flight.Group[[]domain.CartLine]
	syncs flight.Group[Result]

	mu     sync.Mutex
	synced bool
	userID string
	cartID string
	lines  []domain.CartLine
	// bursts tracks each pending coalesced quantity write, so a failed write
	// restores the value before the whole burst.
	bursts map[*flight.Pending]*burst
}

// burst is one coalesced quantity write: the line before its first update
// and after its latest one.
type burst struct {
	base    domain.CartLine
	applied domain.CartLine
}

func New(repo repository.CartRepository, provider auth.Provider, opts Options) *Synchronizer {
	if opts.RecentEmptyWindow <= 0 {
		opts.RecentEmptyWindow = DefaultRecentEmptyWindow
	}
	if opts.TouchDelay <= 0 {
		opts.TouchDelay = DefaultTouchDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/fjod/cartsync/internal/remotecart")
	}
	return &Synchronizer{
		repo:   repo,
		auth:   provider,
		pub:    opts.Publisher,
		writes: flight.NewCoalescer(opts.TouchDelay),
		log:    opts.Logger.With("component", "remotecart", "session", opts.Session),
		now:    opts.Now,
		tracer: opts.Tracer,
		window: opts.RecentEmptyWindow,
		sess:   opts.Session,
		bursts: make(map[*flight.Pending]*burst),
	}
}

func (s *Synchronizer) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

func (s *Synchronizer) CartID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartID
}

func (s *Synchronizer) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Synchronizer) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneLines(s.lines)
}

// Reconcile merges the anonymous local lines into the user's remote cart.
// A second call while one runs for the same user shares its result; a call
// after a completed sync for the same user does nothing.
func (s *Synchronizer) Reconcile(ctx context.Context, userID string, locals []domain.CartLine) (Result, error) {
	if userID == "" {
		return Result{}, ErrUnauthenticated
	}
	s.mu.Lock()
	if s.synced {
		owner, cartID := s.userID, s.cartID
		s.mu.Unlock()
		if owner != userID {
			return Result{}, ErrIdentityMismatch
		}
		return Result{CartID: cartID, Outcome: OutcomeAlreadySync}, nil
	}
	s.mu.Unlock()

	res, _, err := s.syncs.Do(ctx, userID, func(ctx context.Context) (Result, error) {
		s.mu.Lock()
		done, cartID := s.synced && s.userID == userID, s.cartID
		s.mu.Unlock()
		if done {
			// a flight for this user finished between the check above and Do
			return Result{CartID: cartID, Outcome: OutcomeAlreadySync}, nil
		}
		return s.reconcile(ctx, userID, domain.CloneLines(locals))
	})
	return res, err
}

func (s *Synchronizer) reconcile(ctx context.Context, userID string, locals []domain.CartLine) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "remotecart.Reconcile",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.Int("local.lines", len(locals))))
	defer span.End()

	res, cart, err := s.resolve(ctx, userID, locals)
	if err != nil && quantity.IsQuantityError(err) {
		// the local payload carries values the store rejects; start over without it
		s.log.WarnContext(ctx, "reconcile hit corrupted local data, retrying with an empty local cart", "user_id", userID, "error", err)
		res, cart, err = s.resolve(ctx, userID, nil)
		res.Outcome = OutcomeRecovered
		res.Discarded = len(locals)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return Result{}, fmt.Errorf("reconcile cart for %s: %w", userID, err)
	}

	s.mu.Lock()
	s.synced = true
	s.userID = userID
	s.cartID = cart.ID
	s.lines = cart.Lines
	s.mu.Unlock()

	span.SetAttributes(attribute.String("cart.id", cart.ID), attribute.String("outcome", res.Outcome))
	s.log.InfoContext(ctx, "cart synced",
		"user_id", userID, "cart_id", cart.ID, "outcome", res.Outcome,
		"migrated", res.Migrated, "discarded", res.Discarded, "sanitized", res.Sanitized)
	s.publish(events.CartSynced, res.Outcome)
	return res, nil
}

func (s *Synchronizer) resolve(ctx context.Context, userID string, locals []domain.CartLine) (Result, *domain.Cart, error) {
	clean := quantity.Sanitize(locals)
	res := Result{Sanitized: clean.Removed + clean.Corrected}
	if res.Sanitized > 0 {
		s.log.WarnContext(ctx, "sanitized local lines before sync", "removed", clean.Removed, "corrected", clean.Corrected)
	}

	cart, err := s.activeCart(ctx, userID)
	if err != nil {
		return res, nil, err
	}
	res.CartID = cart.ID

	switch {
	case !cart.IsEmpty():
		res.Outcome = OutcomeRemoteWins
		res.Discarded = len(clean.Valid)
		return res, cart, nil
	case !cart.UpdatedAt.IsZero() && s.now().Sub(cart.UpdatedAt) < s.window:
		res.Outcome = OutcomeRecentEmpty
		res.Discarded = len(clean.Valid)
		return res, cart, nil
	}

	res.Outcome = OutcomeMigrated
	migrated, err := s.migrate(ctx, cart, clean.Valid)
	if err != nil {
		return res, nil, err
	}
	res.Migrated = migrated
	if migrated > 0 {
		cart.Lines = s.listLines(ctx, cart.ID)
		s.touch(ctx, cart.ID)
	}
	return res, cart, nil
}

// migrate writes every local line to the remote cart, taking the greater of
// the local and remote quantity for lines already present. A failure undoes
// the writes of this attempt so the remote cart is left as it was found.
func (s *Synchronizer) migrate(ctx context.Context, cart *domain.Cart, locals []domain.CartLine) (int, error) {
	var (
		inserted []string
		raised   []domain.CartLine
	)
	for _, l := range locals {
		existing := findMatch(cart.Lines, l.ProductID, l.IsOffered(), l.OfferID)
		qty := l.Quantity
		if existing != nil && existing.Quantity > qty {
			qty = existing.Quantity
		}
		lo, hi := l.QuantityBounds()
		qty = quantity.Clamp(qty, lo, hi)

		row, err := s.writeMigrated(ctx, cart.ID, l, existing, qty)
		if err != nil && quantity.IsQuantityError(err) {
			s.log.WarnContext(ctx, "quantity rejected during migration, retrying at 1", "product_id", l.ProductID, "quantity", qty, "error", err)
			row, err = s.writeMigrated(ctx, cart.ID, l, existing, 1)
		}
		if err != nil {
			err = fmt.Errorf("migrate line for product %s: %w", l.ProductID, err)
			if rbErr := s.undoMigration(ctx, cart.ID, inserted, raised); rbErr != nil {
				return 0, errors.Join(err, rbErr)
			}
			return 0, err
		}
		if existing != nil {
			raised = append(raised, *existing)
		} else {
			inserted = append(inserted, row.ID)
		}
	}
	return len(inserted) + len(raised), nil
}

// undoMigration deletes the inserted lines and puts raised lines back to
// their former quantity. It runs even when ctx is already cancelled.
func (s *Synchronizer) undoMigration(ctx context.Context, cartID string, inserted []string, raised []domain.CartLine) error {
	if len(inserted) == 0 && len(raised) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), undoTimeout)
	defer cancel()

	var errs []error
	if len(inserted) > 0 {
		if _, err := s.repo.DeleteLines(ctx, cartID, inserted); err != nil {
			errs = append(errs, fmt.Errorf("undo migrated inserts: %w", err))
		}
	}
	for _, l := range raised {
		if _, err := s.repo.UpdateLineQuantity(ctx, cartID, l.ID, l.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("undo migrated quantity of line %s: %w", l.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.log.ErrorContext(ctx, "could not undo partial migration", "cart_id", cartID, "error", err)
		return err
	}
	s.log.WarnContext(ctx, "partial migration undone", "cart_id", cartID, "inserted", len(inserted), "raised", len(raised))
	return nil
}

func (s *Synchronizer) writeMigrated(ctx context.Context, cartID string, l domain.CartLine, existing *domain.CartLine, qty int) (*domain.CartLine, error) {
	if existing != nil {
		return s.repo.UpdateLineQuantity(ctx, cartID, existing.ID, qty)
	}
	l.ID = ""
	l.Quantity = qty
	pricing.Reprice(&l)
	return s.repo.InsertLine(ctx, cartID, l)
}

// AddItem adds qty of p to the remote cart and merges the stored row into
// the session lines.
func (s *Synchronizer) AddItem(ctx context.Context, p domain.Product, qty int) (domain.CartLine, error) {
	if p.IsOffered() && !p.OfferComplete() {
		return domain.CartLine{}, ErrIncompleteOffer
	}
	userID, err := s.verify(ctx)
	if err != nil {
		return domain.CartLine{}, err
	}
	cartID, err := s.resolveCartID(ctx, userID)
	if err != nil {
		return domain.CartLine{}, err
	}
	qty = quantity.Validate(qty)

	row, err := s.upsert(ctx, cartID, p, qty)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("add product %s: %w", p.ID, err)
	}
	pricing.Reprice(row)
	s.touch(ctx, cartID)

	s.mu.Lock()
	if i := s.indexLocked(row.ID); i >= 0 {
		s.lines[i] = *row
	} else {
		s.lines = append([]domain.CartLine{*row}, s.lines...)
	}
	s.mu.Unlock()

	s.publish(events.CartChanged, "addItem")
	return *row, nil
}

func (s *Synchronizer) upsert(ctx context.Context, cartID string, p domain.Product, qty int) (*domain.CartLine, error) {
	existing, err := s.repo.FindLinesByProduct(ctx, cartID, p.ID)
	if err != nil {
		s.log.WarnContext(ctx, "looking up existing lines failed, inserting a new line", "product_id", p.ID, "error", err)
		existing = nil
	}

	if m := findMatch(existing, p.ID, p.IsOffered(), p.OfferID); m != nil {
		lo, hi := m.QuantityBounds()
		row, err := s.repo.UpdateLineQuantity(ctx, cartID, m.ID, quantity.Clamp(m.Quantity+qty, lo, hi))
		if !errors.Is(err, repository.ErrItemNotFound) {
			return row, err
		}
		// the row vanished between read and write
		qty = m.Quantity + qty
	}

	line := domain.NewLine(p, s.now())
	lo, hi := line.QuantityBounds()
	if lo > hi {
		return nil, domain.ErrBelowMinimum
	}
	line.Quantity = quantity.Clamp(qty, lo, hi)
	pricing.Reprice(&line)
	return s.repo.InsertLine(ctx, cartID, line)
}

// UpdateQuantity applies the new quantity locally at once and confirms it
// with a coalesced remote write. A failed write restores the line as it was
// before the burst. A quantity of zero or less removes the line.
func (s *Synchronizer) UpdateQuantity(ctx context.Context, lineID string, qty int) (domain.CartLine, error) {
	if qty <= 0 {
		return domain.CartLine{}, s.RemoveItem(ctx, lineID)
	}
	if _, err := s.verify(ctx); err != nil {
		return domain.CartLine{}, err
	}

	// apply
	s.mu.Lock()
	i := s.indexLocked(lineID)
	if i < 0 {
		s.mu.Unlock()
		return domain.CartLine{}, repository.ErrItemNotFound
	}
	prev := s.lines[i]
	lo, hi := prev.QuantityBounds()
	if lo > hi {
		s.mu.Unlock()
		return prev, domain.ErrBelowMinimum
	}
	next := quantity.Clamp(qty, lo, hi)
	if next == prev.Quantity {
		s.mu.Unlock()
		return prev, nil
	}
	l := &s.lines[i]
	l.Quantity = next
	l.UpdatedAt = s.now()
	pricing.Reprice(l)
	applied := *l
	cartID := s.cartID
	pending := s.writes.Submit(ctx, "quantity:"+lineID, func(ctx context.Context) error {
		_, err := s.repo.UpdateLineQuantity(ctx, cartID, lineID, next)
		return err
	})
	if b, ok := s.bursts[pending]; ok {
		b.applied = applied
	} else {
		s.bursts[pending] = &burst{base: prev, applied: applied}
	}
	s.mu.Unlock()
	s.publish(events.CartChanged, "updateQuantity")

	// commit or roll back
	err := pending.Err()
	s.mu.Lock()
	b, owner := s.bursts[pending]
	delete(s.bursts, pending)
	if err != nil && owner {
		s.rollbackLocked(b)
	}
	s.mu.Unlock()

	if err != nil {
		if !owner {
			return prev, fmt.Errorf("update quantity of line %s: %w", lineID, err)
		}
		s.log.WarnContext(ctx, "quantity update failed, rolled back", "line_id", lineID, "quantity", next, "error", err)
		s.publish(events.CartChanged, "rollback")
		return b.base, fmt.Errorf("update quantity of line %s: %w", lineID, err)
	}
	s.touch(ctx, cartID)
	return applied, nil
}

// RemoveItem drops the line locally at once and restores it at its former
// position when the remote delete fails.
func (s *Synchronizer) RemoveItem(ctx context.Context, lineID string) error {
	if _, err := s.verify(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	i := s.indexLocked(lineID)
	if i < 0 {
		s.mu.Unlock()
		return repository.ErrItemNotFound
	}
	removed := s.lines[i]
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	cartID := s.cartID
	s.mu.Unlock()

	if _, err := s.repo.DeleteLines(ctx, cartID, []string{lineID}); err != nil {
		s.mu.Lock()
		if s.indexLocked(lineID) < 0 {
			if i > len(s.lines) {
				i = len(s.lines)
			}
			s.lines = append(s.lines[:i], append([]domain.CartLine{removed}, s.lines[i:]...)...)
		}
		s.mu.Unlock()
		s.log.WarnContext(ctx, "remove failed, rolled back", "line_id", lineID, "error", err)
		return fmt.Errorf("remove line %s: %w", lineID, err)
	}
	s.touch(ctx, cartID)
	s.publish(events.CartChanged, "removeItem")
	return nil
}

// RemoveItems deletes the listed lines with one remote call, then drops them
// locally together. Unknown ids are ignored.
func (s *Synchronizer) RemoveItems(ctx context.Context, lineIDs []string) (int, error) {
	if _, err := s.verify(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	known := make([]string, 0, len(lineIDs))
	for _, id := range lineIDs {
		if s.indexLocked(id) >= 0 {
			known = append(known, id)
		}
	}
	cartID := s.cartID
	s.mu.Unlock()
	if len(known) == 0 {
		return 0, nil
	}

	if _, err := s.repo.DeleteLines(ctx, cartID, known); err != nil {
		return 0, fmt.Errorf("remove %d lines: %w", len(known), err)
	}

	drop := make(map[string]struct{}, len(known))
	for _, id := range known {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	kept := s.lines[:0]
	for _, l := range s.lines {
		if _, ok := drop[l.ID]; !ok {
			kept = append(kept, l)
		}
	}
	s.lines = kept
	s.mu.Unlock()

	s.touch(ctx, cartID)
	s.publish(events.CartChanged, "removeItems")
	return len(known), nil
}

// Clear empties the remote cart and only then the session lines.
func (s *Synchronizer) Clear(ctx context.Context) error {
	if _, err := s.verify(ctx); err != nil {
		return err
	}
	cartID := s.CartID()
	if err := s.repo.ClearLines(ctx, cartID); err != nil {
		return fmt.Errorf("clear cart %s: %w", cartID, err)
	}
	s.touch(ctx, cartID)

	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
	s.publish(events.CartChanged, "clearCart")
	return nil
}

// Checkout marks the remote cart pending and returns its id. The lines stay
// until the order is paid.
func (s *Synchronizer) Checkout(ctx context.Context) (string, error) {
	if _, err := s.verify(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	cartID, empty := s.cartID, len(s.lines) == 0
	s.mu.Unlock()
	if empty {
		return "", fmt.Errorf("checkout cart %s: %w", cartID, ErrEmptyCart)
	}
	if err := s.repo.SetCartStatus(ctx, cartID, domain.CartStatusPending); err != nil {
		return "", fmt.Errorf("checkout cart %s: %w", cartID, err)
	}
	s.log.InfoContext(ctx, "cart checked out", "cart_id", cartID)
	return cartID, nil
}

// ClearCartIfPaid empties the cart once the order paying for it is paid. An
// order for any other cart is ignored. Afterwards the session moves to the
// user's new active cart.
func (s *Synchronizer) ClearCartIfPaid(ctx context.Context, order domain.Order) (bool, error) {
	if order.PaymentStatus != domain.PaymentPaid {
		return false, nil
	}
	s.mu.Lock()
	synced, cartID, userID := s.synced, s.cartID, s.userID
	s.mu.Unlock()
	if !synced {
		return false, ErrNotSynced
	}
	if order.CartID != cartID {
		s.log.InfoContext(ctx, "paid order belongs to another cart, not clearing",
			"order_id", order.ID, "order_cart_id", order.CartID, "cart_id", cartID)
		return false, nil
	}

	if err := s.repo.ClearLines(ctx, cartID); err != nil {
		return false, fmt.Errorf("clear paid cart %s: %w", cartID, err)
	}
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()

	if _, err := s.resolveCartID(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "could not open a new active cart after payment", "user_id", userID, "error", err)
	}
	s.log.InfoContext(ctx, "cart cleared after payment", "order_id", order.ID, "cart_id", cartID)
	s.publish(events.CartChanged, "paid")
	return true, nil
}

// Refresh reloads the session lines from the remote store. A failed read
// keeps the current lines.
func (s *Synchronizer) Refresh(ctx context.Context) ([]domain.CartLine, error) {
	s.mu.Lock()
	synced, cartID := s.synced, s.cartID
	s.mu.Unlock()
	if !synced {
		return nil, ErrNotSynced
	}
	shared, _, err := s.lists.Do(ctx, cartID, func(ctx context.Context) ([]domain.CartLine, error) {
		return s.repo.ListLines(ctx, cartID)
	})
	if err != nil {
		return s.Lines(), fmt.Errorf("refresh cart %s: %w", cartID, err)
	}
	lines := domain.CloneLines(shared)
	for i := range lines {
		pricing.Reprice(&lines[i])
	}
	s.mu.Lock()
	if s.cartID == cartID {
		s.lines = domain.CloneLines(lines)
	}
	s.mu.Unlock()
	return lines, nil
}

// Touch schedules a coalesced update of the cart timestamp.
func (s *Synchronizer) Touch(ctx context.Context) *flight.Pending {
	return s.touch(ctx, s.CartID())
}

// Flush runs every pending coalesced write now.
func (s *Synchronizer) Flush() {
	s.writes.Flush()
}

func (s *Synchronizer) touch(ctx context.Context, cartID string) *flight.Pending {
	return s.writes.Submit(ctx, "touch:"+cartID, func(ctx context.Context) error {
		if err := s.repo.TouchCart(ctx, cartID); err != nil {
			s.log.WarnContext(ctx, "cart touch failed", "cart_id", cartID, "error", err)
			return err
		}
		return nil
	})
}

// verify re-reads the live identity before a write. A missing or different
// user aborts the write and asks the client to sign in again.
func (s *Synchronizer) verify(ctx context.Context) (string, error) {
	s.mu.Lock()
	synced, owner := s.synced, s.userID
	s.mu.Unlock()
	if !synced {
		return "", ErrNotSynced
	}

	u, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	if u == nil {
		s.publish(events.ReauthRequired, "no session")
		return "", ErrUnauthenticated
	}
	if u.ID != owner {
		s.publish(events.ReauthRequired, "identity changed")
		return "", ErrIdentityMismatch
	}
	return u.ID, nil
}

// resolveCartID returns the user's active cart id. When it differs from the
// session's cart (the old one was checked out) the session adopts it.
func (s *Synchronizer) resolveCartID(ctx context.Context, userID string) (string, error) {
	cart, err := s.activeCart(ctx, userID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cartID != cart.ID {
		s.log.InfoContext(ctx, "switching to new active cart", "from", s.cartID, "to", cart.ID)
		s.cartID = cart.ID
		s.lines = cart.Lines
	}
	return cart.ID, nil
}

// activeCart returns the user's active cart, creating it when missing.
// Concurrent callers for one user share a single round trip.
func (s *Synchronizer) activeCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, _, err := s.carts.Do(ctx, userID, func(ctx context.Context) (*domain.Cart, error) {
		cart, err := s.repo.GetActiveCart(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			cart, err = s.repo.CreateActiveCart(ctx, userID)
		}
		if err != nil {
			return nil, err
		}
		for i := range cart.Lines {
			pricing.Reprice(&cart.Lines[i])
		}
		return cart, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get active cart: %w", err)
	}
	c := *cart
	c.Lines = domain.CloneLines(cart.Lines)
	return &c, nil
}

// listLines reads the cart lines, degrading to an empty list on failure.
func (s *Synchronizer) listLines(ctx context.Context, cartID string) []domain.CartLine {
	lines, _, err := s.lists.Do(ctx, cartID, func(ctx context.Context) ([]domain.CartLine, error) {
		return s.repo.ListLines(ctx, cartID)
	})
	if err != nil {
		s.log.WarnContext(ctx, "listing cart lines failed, using empty list", "cart_id", cartID, "error", err)
		return []domain.CartLine{}
	}
	out := domain.CloneLines(lines)
	for i := range out {
		pricing.Reprice(&out[i])
	}
	return out
}

func (s *Synchronizer) indexLocked(lineID string) int {
	for i, l := range s.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

// rollbackLocked undoes a failed burst. When a later burst already changed
// the line, the line keeps the later value and that burst inherits the base,
// so its own failure still restores the value from before both.
func (s *Synchronizer) rollbackLocked(failed *burst) {
	i := s.indexLocked(failed.base.ID)
	if i < 0 {
		return
	}
	cur := s.lines[i]
	if cur.Quantity == failed.applied.Quantity && cur.UpdatedAt.Equal(failed.applied.UpdatedAt) {
		s.lines[i] = failed.base
		return
	}
	for _, later := range s.bursts {
		if later.base.ID == failed.base.ID && later.base.Quantity == failed.applied.Quantity &&
			later.base.UpdatedAt.Equal(failed.applied.UpdatedAt) {
			later.base = failed.base
		}
	}
}

func (s *Synchronizer) publish(kind events.Kind, detail string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(events.Event{Kind: kind, Session: s.sess, Detail: detail, At: s.now()})
}

func findMatch(lines []domain.CartLine, productID string, offered bool, offerID string) *domain.CartLine {
	for i := range lines {
		if lines[i].ProductID == productID && lines[i].MergesWith(offered, offerID) {
			return &lines[i]
		}
	}
	return nil
}
