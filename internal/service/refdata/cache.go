package refdata

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"FuseGate/internal/domain/models"
	drepo "FuseGate/internal/domain/repository"
	"FuseGate/pkg/cache"
	"FuseGate/pkg/logger"
)

// Cache memoizes reference series per instrument with a freshness window.
// Refetch is single-flighted: concurrent callers during a cold or expired
// entry share one in-flight remote call instead of issuing their own.
//
// On remote failure the last known series is returned marked stale, so
// fusion can keep running in local-only mode. With no prior series the
// failure surfaces as ErrReferenceUnavailable.
type Cache struct {
	source    drepo.ReferenceSource
	staleness time.Duration
	log       *logger.Logger

	mu      sync.RWMutex
	entries map[string]*models.ReferenceSeries
	group   singleflight.Group

	// optional L2 (memory/redis layered store) surviving restarts
	store cache.Service
}

// CacheOption configures Cache.
type CacheOption func(*Cache)

// WithStaleness sets the freshness window.
func WithStaleness(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.staleness = d
		}
	}
}

// WithStore attaches a byte-level backing store used as a second layer.
func WithStore(s cache.Service) CacheOption {
	return func(c *Cache) {
		c.store = s
	}
}

// NewCache creates a reference cache around source.
func NewCache(source drepo.ReferenceSource, log *logger.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		source:    source,
		staleness: 60 * time.Second,
		log:       log,
		entries:   make(map[string]*models.ReferenceSeries),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a usable series for instrument at time now, refetching when
// the cached one is past the freshness window.
func (c *Cache) Get(ctx context.Context, instrument string, now time.Time) (*models.ReferenceSeries, error) {
	if series, ok := c.fresh(instrument, now); ok {
		return series, nil
	}

	v, err, _ := c.group.Do(instrument, func() (interface{}, error) {
		// another caller may have completed the refetch while this one
		// waited on the flight
		if series, ok := c.fresh(instrument, now); ok {
			return series, nil
		}
		return c.refetch(ctx, instrument, now)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ReferenceSeries), nil
}

func (c *Cache) fresh(instrument string, now time.Time) (*models.ReferenceSeries, bool) {
	c.mu.RLock()
	series, ok := c.entries[instrument]
	c.mu.RUnlock()
	if ok && !series.Stale && now.Sub(series.FetchedAt) < c.staleness {
		return series, true
	}
	return nil, false
}

func (c *Cache) refetch(ctx context.Context, instrument string, now time.Time) (*models.ReferenceSeries, error) {
	series, err := c.source.Fetch(ctx, instrument, now)
	if err == nil {
		c.put(ctx, instrument, series)
		return series, nil
	}

	c.log.Warn("reference refetch failed, falling back",
		logger.String("instrument", instrument), logger.Error(err))

	if last := c.lastKnown(ctx, instrument); last != nil {
		stale := *last
		stale.Stale = true
		c.mu.Lock()
		c.entries[instrument] = &stale
		c.mu.Unlock()
		return &stale, nil
	}
	return nil, drepo.ErrReferenceUnavailable
}

func (c *Cache) put(ctx context.Context, instrument string, series *models.ReferenceSeries) {
	c.mu.Lock()
	c.entries[instrument] = series
	c.mu.Unlock()

	if c.store != nil {
		// keep the L2 copy well beyond the freshness window: it is the
		// stale-but-usable fallback after a restart
		if err := c.store.Set(ctx, cache.GenerateKey("refseries", instrument), series, 24*time.Hour); err != nil {
			c.log.Warn("reference store write failed", logger.Error(err))
		}
	}
}

func (c *Cache) lastKnown(ctx context.Context, instrument string) *models.ReferenceSeries {
	c.mu.RLock()
	series, ok := c.entries[instrument]
	c.mu.RUnlock()
	if ok {
		return series
	}
	if c.store != nil {
		var stored models.ReferenceSeries
		if err := c.store.Get(ctx, cache.GenerateKey("refseries", instrument), &stored); err == nil {
			return &stored
		}
	}
	return nil
}
