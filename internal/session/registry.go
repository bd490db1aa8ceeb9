package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/cartsync/internal/auth"
	"github.com/fjod/cartsync/internal/cache"
	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/events"
	"github.com/fjod/cartsync/internal/flight"
	"github.com/fjod/cartsync/internal/localcart"
	"github.com/fjod/cartsync/internal/profile"
	"github.com/fjod/cartsync/internal/remotecart"
	"github.com/fjod/cartsync/internal/repository"
	"github.com/fjod/cartsync/internal/service"
	"github.com/fjod/cartsync/internal/storage"
)

var ErrNoSessionID = errors.New("session id is required")

type Config struct {
	RecentEmptyWindow time.Duration
	TouchDelay        time.Duration
	PersistDelay      time.Duration
	BillingTTL        time.Duration
	TransferTTL       time.Duration
	ShippingTTL       time.Duration
	SyncTimeout       time.Duration
}

type Deps struct {
	Carts    repository.CartRepository
	Orders   repository.OrderRepository
	Profiles repository.ProfileRepository
	Storage  storage.Storage
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Session is one client: its identity, its cart and its profile caches.
type Session struct {
	ID       string
	Auth     *auth.MemoryProvider
	Cart     *service.CartService
	Billing  *cache.ProfileLoader[domain.BillingInfo]
	Transfer *cache.ProfileLoader[domain.TransferInfo]
	Shipping *cache.ProfileLoader[domain.ShippingInfo]

	log         *slog.Logger
	syncTimeout time.Duration
	unsubscribe []func()

	mu       sync.Mutex
	lastSync *remotecart.Result
	lastSeen time.Time
}

// Login signs the session in as userID. The sign-in notifies the auth
// subscription, which reconciles the cart; a failed earlier attempt is
// retried here.
func (s *Session) Login(ctx context.Context, userID string) (remotecart.Result, error) {
	s.Auth.SignIn(auth.User{ID: userID})
	res, err := s.Cart.SyncOnLogin(ctx, userID)
	if err != nil {
		return res, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Outcome == remotecart.OutcomeAlreadySync && s.lastSync != nil {
		return *s.lastSync, nil
	}
	s.lastSync = &res
	return res, nil
}

// InvalidateProfile drops the cached profile of kind billing, transfer or shipping.
func (s *Session) InvalidateProfile(kind string) bool {
	switch kind {
	case "billing":
		s.Billing.Invalidate()
	case "transfer":
		s.Transfer.Invalidate()
	case "shipping":
		s.Shipping.Invalidate()
	default:
		return false
	}
	return true
}

func (s *Session) onAuthChange(c auth.Change) {
	if c.Kind != auth.SignedIn || c.User == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.syncTimeout)
	defer cancel()
	res, err := s.Cart.SyncOnLogin(ctx, c.User.ID)
	if err != nil {
		s.log.Error("sync on sign-in failed", "user_id", c.User.ID, "error", err)
		return
	}
	s.mu.Lock()
	s.lastSync = &res
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.Cart.Flush()
}

// Registry creates sessions on first use and keeps them until they idle out.
type Registry struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	now  func() time.Time

	create flight.Group[*Session]

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Storage == nil {
		deps.Storage = storage.NewMemory()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 30 * time.Second
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.With("component", "session"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session id, creating it and loading its stored local cart
// on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSessionID
	}
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.touch(r.now())
		return s, nil
	}

	s, _, err := r.create.Do(ctx, id, func(ctx context.Context) (*Session, error) {
		r.mu.RLock()
		existing, ok := r.sessions[id]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}
		s, err := r.build(ctx, id)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[id] = s
		r.mu.Unlock()
		r.log.InfoContext(ctx, "session created", "session", id)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s.touch(r.now())
	return s, nil
}

func (r *Registry) build(ctx context.Context, id string) (*Session, error) {
	log := r.log.With("session", id)
	provider := auth.NewMemoryProvider()

	local := localcart.New(r.deps.Storage, localcart.Options{
		Key:          id,
		PersistDelay: r.cfg.PersistDelay,
		Logger:       r.deps.Logger,
	})
	if err := local.Load(ctx); err != nil {
		log.WarnContext(ctx, "could not load stored cart, starting empty", "error", err)
	}

	var pub remotecart.Publisher
	if r.deps.Bus != nil {
		pub = r.deps.Bus
	}
	remote := remotecart.New(r.deps.Carts, provider, remotecart.Options{
		RecentEmptyWindow: r.cfg.RecentEmptyWindow,
		TouchDelay:        r.cfg.TouchDelay,
		Session:           id,
		Publisher:         pub,
		Logger:            r.deps.Logger,
	})

	s := &Session{
		ID:          id,
		Auth:        provider,
		Cart:        service.NewCartService(local, remote, r.deps.Orders, r.deps.Logger),
		log:         log,
		syncTimeout: r.cfg.SyncTimeout,
	}

	var billing cache.Fetcher[domain.BillingInfo]
	var transfer cache.Fetcher[domain.TransferInfo]
	var shipping cache.Fetcher[domain.ShippingInfo]
	if r.deps.Profiles != nil {
		billing = r.deps.Profiles.GetBillingInfo
		transfer = r.deps.Profiles.GetTransferInfo
		shipping = r.deps.Profiles.GetShippingInfo
	}
	s.Billing = cache.NewProfileLoader(r.profileOptions("billing", r.cfg.BillingTTL, provider), billing, profile.Billing)
	s.Transfer = cache.NewProfileLoader(r.profileOptions("transfer", r.cfg.TransferTTL, provider), transfer, profile.Transfer)
	s.Shipping = cache.NewProfileLoader(r.profileOptions("shipping", r.cfg.ShippingTTL, provider), shipping, profile.Shipping)

	s.unsubscribe = append(s.unsubscribe,
		provider.Subscribe(s.onAuthChange),
		s.Billing.OnInvalidate(r.invalidated(id, "billing")),
		s.Transfer.OnInvalidate(r.invalidated(id, "transfer")),
		s.Shipping.OnInvalidate(r.invalidated(id, "shipping")),
	)
	return s, nil
}

func (r *Registry) profileOptions(name string, ttl time.Duration, provider *auth.MemoryProvider) cache.ProfileOptions {
	return cache.ProfileOptions{
		Name:     name,
		TTL:      ttl,
		Identity: provider.UserID,
		Logger:   r.deps.Logger,
	}
}

func (r *Registry) invalidated(id, kind string) func() {
	return func() {
		if r.deps.Bus != nil {
			r.deps.Bus.Publish(events.Event{Kind: events.CacheInvalidated, Session: id, Detail: kind})
		}
	}
}

// ForUser returns every session whose cart is synced for userID.
func (r *Registry) ForUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.Cart.Synced() && s.Cart.UserID() == userID {
			out = append(out, s)
		}
	}
	return out
}

// ClearPaid empties the cart paid for by order in every session of its user.
// When no live session holds that cart the stored lines are cleared directly.
func (r *Registry) ClearPaid(ctx context.Context, order domain.Order) (int, error) {
	if order.PaymentStatus != domain.PaymentPaid {
		return 0, nil
	}
	cleared := 0
	var errs []error
	for _, s := range r.ForUser(order.UserID) {
		ok, err := s.Cart.ClearCartIfPaid(ctx, order)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, err))
			continue
		}
		if ok {
			cleared++
		}
	}
	if cleared == 0 && len(errs) == 0 && order.CartID != "" {
		if err := r.deps.Carts.ClearLines(ctx, order.CartID); err != nil {
			return 0, fmt.Errorf("clear paid cart %s: %w", order.CartID, err)
		}
		r.log.InfoContext(ctx, "cleared paid cart without a live session", "order_id", order.ID, "cart_id", order.CartID)
	}
	return cleared, errors.Join(errs...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Evict closes sessions unused for longer than idle and reports how many.
func (r *Registry) Evict(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	var gone []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			gone = append(gone, s)
		}
	}
	r.mu.Unlock()

	for _, s := range gone {
		s.close()
	}
	return len(gone)
}

// Run evicts idle sessions every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.Evict(idle); n > 0 {
				r.log.Info("evicted idle sessions", "count", n, "remaining", r.Len())
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close flushes and drops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		delete(r.sessions, id)
		all = append(all, s)
	}
	r.mu.Unlock()
	for _, s := range all {
		s.close()
	}
}
