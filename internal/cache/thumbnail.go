package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/flight"
)

// ThumbnailSource reads the current thumbnail row of products.
type ThumbnailSource interface {
	GetThumbnail(ctx context.Context, productID string) (*domain.Thumbnail, error)
	GetThumbnails(ctx context.Context, productIDs []string) ([]domain.Thumbnail, error)
}

type ThumbnailStats struct {
	Size          int     `json:"size"`
	TotalRequests int64   `json:"total_requests"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Errors        int64   `json:"errors"`
	HitRatio      float64 `json:"hit_ratio"`
	TTLSeconds    float64 `json:"ttl_seconds"`
}

// ThumbnailCache keeps product thumbnails fresh by signature: a caller that
// knows the current signature gets a hit on match and a refetch on mismatch,
// whatever the entry's age. Without a known signature the TTL short-circuits,
// and past it the stored signature is compared with the row's.
type ThumbnailCache struct {
	cache *TTLCache[domain.Thumbnail]
	src   ThumbnailSource
	group flight.Group[*domain.Thumbnail]
	ttl   time.Duration
	log   *slog.Logger

	total  atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

func NewThumbnailCache(src ThumbnailSource, opts Options, log *slog.Logger) *ThumbnailCache {
	if log == nil {
		log = slog.Default()
	}
	opts.Identity = nil
	return &ThumbnailCache{
		cache: NewTTLCache[domain.Thumbnail](opts),
		src:   src,
		ttl:   opts.TTL,
		log:   log.With("cache", "thumbnail"),
	}
}

// Get returns the thumbnail of productID. knownSignature may be empty.
func (c *ThumbnailCache) Get(ctx context.Context, productID, knownSignature string) (*domain.Thumbnail, error) {
	c.total.Add(1)

	cached, have := c.cache.Peek(productID)
	if knownSignature != "" {
		if have && cached.Payload.Signature == knownSignature {
			c.cache.Touch(productID)
			c.hits.Add(1)
			return clone(cached.Payload), nil
		}
	} else if _, fresh := c.cache.Lookup(productID); fresh {
		c.hits.Add(1)
		return clone(cached.Payload), nil
	}

	fetched, _, err := c.group.Do(ctx, productID, func(ctx context.Context) (*domain.Thumbnail, error) {
		return c.src.GetThumbnail(ctx, productID)
	})
	if err != nil {
		c.errors.Add(1)
		if have {
			c.log.WarnContext(ctx, "thumbnail fetch failed, serving stale entry", "product_id", productID, "error", err)
			return clone(cached.Payload), nil
		}
		return nil, fmt.Errorf("fetch thumbnail %s: %w", productID, err)
	}
	if fetched == nil {
		c.misses.Add(1)
		c.cache.Delete(productID)
		return nil, nil
	}

	if have && knownSignature == "" && cached.Payload.Signature == fetched.Signature {
		// Lookup already dropped the expired entry; put it back with a new timestamp.
		c.cache.Set(productID, cached.Payload)
		c.hits.Add(1)
		c.log.DebugContext(ctx, "thumbnail signature unchanged", "product_id", productID)
		return clone(cached.Payload), nil
	}

	c.cache.Set(productID, *fetched)
	c.misses.Add(1)
	return clone(*fetched), nil
}

// FetchMany fills the cache for several products with one batch read.
// Products still fresh in the cache are not requested.
func (c *ThumbnailCache) FetchMany(ctx context.Context, productIDs []string) (map[string]domain.Thumbnail, error) {
	out := make(map[string]domain.Thumbnail, len(productIDs))
	need := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		c.total.Add(1)
		if t, ok := c.cache.Get(id); ok {
			c.hits.Add(1)
			out[id] = t
			continue
		}
		need = append(need, id)
	}
	if len(need) == 0 {
		return out, nil
	}

	rows, err := c.src.GetThumbnails(ctx, need)
	if err != nil {
		c.errors.Add(int64(len(need)))
		return out, fmt.Errorf("fetch thumbnails: %w", err)
	}
	for _, t := range rows {
		c.cache.Set(t.ProductID, t)
		c.misses.Add(1)
		out[t.ProductID] = t
	}
	return out, nil
}

// Invalidate drops one product.
func (c *ThumbnailCache) Invalidate(productID string) bool {
	return c.cache.Delete(productID)
}

func (c *ThumbnailCache) Clear() int {
	return c.cache.Clear()
}

func (c *ThumbnailCache) Stats() ThumbnailStats {
	s := ThumbnailStats{
		Size:          c.cache.Len(),
		TotalRequests: c.total.Load(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Errors:        c.errors.Load(),
		TTLSeconds:    c.ttl.Seconds(),
	}
	if s.TotalRequests > 0 {
		s.HitRatio = float64(s.Hits) / float64(s.TotalRequests)
	}
	return s
}

// Run prunes expired and excess entries every interval.
func (c *ThumbnailCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			expired, evicted := c.cache.Prune()
			if expired > 0 || evicted > 0 {
				c.log.Info("thumbnail cache pruned", "expired", expired, "evicted", evicted, "remaining", c.cache.Len())
			}
		case <-ctx.Done():
			return
		}
	}
}

func clone(t domain.Thumbnail) *domain.Thumbnail {
	if t.Variants != nil {
		v := make(map[string]string, len(t.Variants))
		for k, s := range t.Variants {
			v[k] = s
		}
		t.Variants = v
	}
	return &t
}
