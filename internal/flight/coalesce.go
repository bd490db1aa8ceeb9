package flight

import (
	"context"
	"sync"
	"time"
)

// Pending is one scheduled write. Every caller that submits the same key
// before the write fires receives the same Pending.
type Pending struct {
	ScheduledAt time.Time

	done  chan struct{}
	err   error
	fn    func(context.Context) error
	ctx   context.Context
	timer *time.Timer
}

// Done is closed once the write has run.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the write result. Only meaningful after Done is closed.
func (p *Pending) Err() error {
	<-p.done
	return p.err
}

// Wait blocks until the write has run or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MaxWaitFactor bounds how long a write keeps being postponed: it fires at
// the latest MaxWaitFactor*delay after the first submission of its burst.
const MaxWaitFactor = 4

// Coalescer collapses bursts of writes for the same key into a single write
// fired once the key has been quiet for delay. The most recently submitted
// writer is the one that runs.
type Coalescer struct {
	mu      sync.Mutex
	delay   time.Duration
	maxWait time.Duration
	pending map[string]*Pending
}

func NewCoalescer(delay time.Duration) *Coalescer {
	return &Coalescer{
		delay:   delay,
		maxWait: MaxWaitFactor * delay,
		pending: make(map[string]*Pending),
	}
}

// Submit schedules fn for key, or replaces the writer of the write already
// pending for key and postpones it by another delay.
func (c *Coalescer) Submit(ctx context.Context, key string, fn func(context.Context) error) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[key]; ok {
		p.fn = fn
		wait := c.delay
		if left := time.Until(p.ScheduledAt.Add(c.maxWait)); left < wait {
			wait = max(left, 0)
		}
		// if the old timer already fired, fire runs p and the reset one finds it gone
		p.timer.Reset(wait)
		return p
	}

	p := &Pending{
		ScheduledAt: time.Now(),
		done:        make(chan struct{}),
		fn:          fn,
		ctx:         context.WithoutCancel(ctx),
	}
	c.pending[key] = p
	p.timer = time.AfterFunc(c.delay, func() { c.fire(key, p) })
	return p
}

// Do submits fn and waits for the coalesced write.
func (c *Coalescer) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	return c.Submit(ctx, key, fn).Wait(ctx)
}

// Flush runs every pending write now, on the calling goroutine.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	due := make([]*Pending, 0, len(c.pending))
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
		due = append(due, p)
	}
	c.mu.Unlock()

	for _, p := range due {
		run(p)
	}
}

// Len is the number of writes waiting to fire.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer) fire(key string, p *Pending) {
	c.mu.Lock()
	if c.pending[key] != p {
		// flushed concurrently
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()
	run(p)
}

func run(p *Pending) {
	// p is no longer in the map, so fn cannot be swapped anymore.
	p.err = p.fn(p.ctx)
	close(p.done)
}
