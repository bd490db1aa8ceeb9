package remotecart

import (
	"context"
	"sync"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/events"
	"github.com/fjod/cartsync/internal/repository"
)

// faultyRepo wraps the in-memory repository with call counters, injectable
// failures and gates that hold a call until released.
type faultyRepo struct {
	*repository.MemoryCartRepository

	mu         sync.Mutex
	calls      map[string]int
	insertErr  func(domain.CartLine) error
	updateErr  func(lineID string, qty int) error
	deleteErr  error
	clearErr   error
	getGate    chan struct{}
	updateGate chan struct{}
}

func newFaultyRepo() *faultyRepo {
	return &faultyRepo{
		MemoryCartRepository: repository.NewMemoryCartRepository(),
		calls:                make(map[string]int),
	}
}

func (f *faultyRepo) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *faultyRepo) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *faultyRepo) set(fn func(f *faultyRepo)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *faultyRepo) GetActiveCart(ctx context.Context, userID string) (*domain.Cart, error) {
	f.count("GetActiveCart")
	f.mu.Lock()
	gate := f.getGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.MemoryCartRepository.GetActiveCart(ctx, userID)
}

func (f *faultyRepo) CreateActiveCart(ctx context.Context, userID string) (*domain.Cart, error) {
	f.count("CreateActiveCart")
	return f.MemoryCartRepository.CreateActiveCart(ctx, userID)
}

func (f *faultyRepo) InsertLine(ctx context.Context, cartID string, line domain.CartLine) (*domain.CartLine, error) {
	f.count("InsertLine")
	f.mu.Lock()
	fail := f.insertErr
	f.mu.Unlock()
	if fail != nil {
		if err := fail(line); err != nil {
			return nil, err
		}
	}
	return f.MemoryCartRepository.InsertLine(ctx, cartID, line)
}

func (f *faultyRepo) UpdateLineQuantity(ctx context.Context, cartID, lineID string, qty int) (*domain.CartLine, error) {
	f.count("UpdateLineQuantity")
	f.mu.Lock()
	fail, gate := f.updateErr, f.updateGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail != nil {
		if err := fail(lineID, qty); err != nil {
			return nil, err
		}
	}
	return f.MemoryCartRepository.UpdateLineQuantity(ctx, cartID, lineID, qty)
}

func (f *faultyRepo) DeleteLines(ctx context.Context, cartID string, lineIDs []string) (int, error) {
	f.count("DeleteLines")
	f.mu.Lock()
	err := f.deleteErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.MemoryCartRepository.DeleteLines(ctx, cartID, lineIDs)
}

func (f *faultyRepo) ClearLines(ctx context.Context, cartID string) error {
	f.count("ClearLines")
	f.mu.Lock()
	err := f.clearErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryCartRepository.ClearLines(ctx, cartID)
}

func (f *faultyRepo) TouchCart(ctx context.Context, cartID string) error {
	f.count("TouchCart")
	return f.MemoryCartRepository.TouchCart(ctx, cartID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}
