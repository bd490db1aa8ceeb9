package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSession is returned by providers that cannot resolve any session.
var ErrNoSession = errors.New("no authenticated session")

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type ChangeKind string

const (
	SignedIn  ChangeKind = "signed_in"
	SignedOut ChangeKind = "signed_out"
)

// Change is delivered to subscribers whenever the signed-in user changes.
type Change struct {
	Kind ChangeKind
	User *User
}

// Provider is the session provider consulted before every remote write.
type Provider interface {
	// CurrentUser returns the live identity, or nil when signed out.
	CurrentUser(ctx context.Context) (*User, error)
	// Subscribe registers fn for auth changes and returns its unsubscribe.
	Subscribe(fn func(Change)) (unsubscribe func())
}

// MemoryProvider is a Provider whose identity is set by the caller, used by
// the HTTP surface (one provider per client session) and by tests.
type MemoryProvider struct {
	mu     sync.RWMutex
	user   *User
	subs   map[uint64]func(Change)
	nextID uint64
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{subs: make(map[uint64]func(Change))}
}

func (p *MemoryProvider) CurrentUser(ctx context.Context) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return nil, nil
	}
	u := *p.user
	return &u, nil
}

// UserID returns the signed-in user id or "". It satisfies cache identity
// sources.
func (p *MemoryProvider) UserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return ""
	}
	return p.user.ID
}

// SignIn switches the identity to u. Signing in again as the same user does
// not notify subscribers.
func (p *MemoryProvider) SignIn(u User) {
	p.mu.Lock()
	if p.user != nil && p.user.ID == u.ID {
		p.mu.Unlock()
		return
	}
	p.user = &u
	subs := p.snapshotLocked()
	p.mu.Unlock()

	c := Change{Kind: SignedIn, User: &User{ID: u.ID, Email: u.Email}}
	for _, fn := range subs {
		fn(c)
	}
}

func (p *MemoryProvider) SignOut() {
	p.mu.Lock()
	if p.user == nil {
		p.mu.Unlock()
		return
	}
	p.user = nil
	subs := p.snapshotLocked()
	p.mu.Unlock()

	for _, fn := range subs {
		fn(Change{Kind: SignedOut})
	}
}

func (p *MemoryProvider) Subscribe(fn func(Change)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *MemoryProvider) snapshotLocked() []func(Change) {
	out := make([]func(Change), 0, len(p.subs))
	for _, fn := range p.subs {
		out = append(out, fn)
	}
	return out
}
