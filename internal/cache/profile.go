package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/cartsync/internal/flight"
)

type State string

const (
	StateLoading    State = "loading"
	StateComplete   State = "complete"
	StateIncomplete State = "incomplete"
	StateError      State = "error"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validation is the completeness verdict for one profile sub-resource.
type Validation struct {
	Complete        bool         `json:"complete"`
	Missing         []string     `json:"missing"`
	OptionalMissing []string     `json:"optional_missing,omitempty"`
	Errors          []FieldError `json:"errors,omitempty"`
}

type Validator[T any] func(*T) Validation

type Fetcher[T any] func(ctx context.Context, userID string) (*T, error)

// Status is what consumers see: never a bare boolean, so "still fetching"
// and "fetched and empty" stay distinguishable.
type Status[T any] struct {
	State    State        `json:"state"`
	Data     *T           `json:"data,omitempty"`
	Missing  []string     `json:"missing,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
	Err      error        `json:"-"`
	LoadedAt time.Time    `json:"loaded_at"`
}

type profileEntry[T any] struct {
	data       *T
	validation Validation
	fetchedAt  time.Time
}

type ProfileOptions struct {
	Name     string
	TTL      time.Duration
	Identity IdentitySource
	Now      func() time.Time
	Logger   *slog.Logger
}

// ProfileLoader caches one profile sub-resource per user and validates its
// completeness. Concurrent loads for the same user share one fetch.
type ProfileLoader[T any] struct {
	name     string
	cache    *TTLCache[profileEntry[T]]
	fetch    Fetcher[T]
	validate Validator[T]
	group    flight.Group[profileEntry[T]]
	now      func() time.Time
	log      *slog.Logger

	mu     sync.Mutex
	failed map[string]error
}

func NewProfileLoader[T any](opts ProfileOptions, fetch Fetcher[T], validate Validator[T]) *ProfileLoader[T] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &ProfileLoader[T]{
		name: opts.Name,
		cache: NewTTLCache[profileEntry[T]](Options{
			TTL:      opts.TTL,
			Identity: opts.Identity,
			Now:      now,
		}),
		fetch:    fetch,
		validate: validate,
		now:      now,
		log:      log.With("cache", opts.Name),
		failed:   make(map[string]error),
	}
}

// Load returns the cached status for userID or fetches it. force skips the
// cache but still joins a fetch that is already in flight.
func (p *ProfileLoader[T]) Load(ctx context.Context, userID string, force bool) Status[T] {
	if !force {
		if e, ok := p.cache.Get(userID); ok {
			p.log.DebugContext(ctx, "profile cache hit", "user_id", userID)
			return statusOf(e)
		}
	}
	if p.fetch == nil {
		return Status[T]{State: StateError, Err: ErrNoFetcher}
	}

	e, _, err := p.group.Do(ctx, userID, func(ctx context.Context) (profileEntry[T], error) {
		started := p.now()
		data, err := p.fetch(ctx, userID)
		if err != nil {
			return profileEntry[T]{}, err
		}
		e := profileEntry[T]{data: data, validation: p.validate(data), fetchedAt: started}
		if p.cache.WasInvalidatedSince(started) {
			// the row may predate the invalidation; hand it out but do not keep it
			p.log.InfoContext(ctx, "profile invalidated during fetch, not caching", "user_id", userID)
			return e, nil
		}
		p.cache.Set(userID, e)
		return e, nil
	})

	p.mu.Lock()
	if err != nil {
		p.failed[userID] = err
	} else {
		delete(p.failed, userID)
	}
	p.mu.Unlock()

	if err != nil {
		p.log.WarnContext(ctx, "profile fetch failed", "user_id", userID, "error", err)
		return Status[T]{State: StateError, Err: err}
	}
	return statusOf(e)
}

// Status reports the current state without fetching.
func (p *ProfileLoader[T]) Status(userID string) Status[T] {
	if e, ok := p.cache.Get(userID); ok {
		return statusOf(e)
	}
	p.mu.Lock()
	err, failed := p.failed[userID]
	p.mu.Unlock()
	if failed {
		return Status[T]{State: StateError, Err: err}
	}
	return Status[T]{State: StateLoading}
}

func (p *ProfileLoader[T]) Invalidate() {
	p.cache.Invalidate()
}

func (p *ProfileLoader[T]) OnInvalidate(fn func()) func() {
	return p.cache.OnInvalidate(fn)
}

// NeedsRefresh tells a consumer that loaded at loadedAt whether a sibling
// invalidated the profile since, even if the cache was refilled meanwhile.
func (p *ProfileLoader[T]) NeedsRefresh(loadedAt time.Time) bool {
	return p.cache.WasInvalidatedSince(loadedAt)
}

func (p *ProfileLoader[T]) Name() string {
	return p.name
}

func statusOf[T any](e profileEntry[T]) Status[T] {
	st := StateIncomplete
	if e.validation.Complete {
		st = StateComplete
	}
	return Status[T]{
		State:    st,
		Data:     e.data,
		Missing:  e.validation.Missing,
		Errors:   e.validation.Errors,
		LoadedAt: e.fetchedAt,
	}
}
