// Package enrich caches asset metadata fetched from an external provider.
//
// Metadata is kept in three tiers with their own TTL: the full record, the price (short lived) and the logo (long
// lived). Concurrent lookups of the same asset share one fetch. Failed fetches are retried with a doubling delay and
// are never cached.
package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

var logger = loggo.GetLogger("pulsetrack.enrich")

// Default configuration values.
const (
	DefaultFullTTL          = 5 * time.Minute
	DefaultPriceTTL         = time.Minute
	DefaultLogoTTL          = 24 * time.Hour
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = 500 * time.Millisecond
	DefaultMaxRetryDelay    = 5 * time.Second
	DefaultSweepInterval    = time.Minute
	DefaultFetchTimeout     = 10 * time.Second
	DefaultBatchConcurrency = 8
)

// Fetcher retrieves the metadata of one asset from the provider.
type Fetcher interface {
	Fetch(ctx context.Context, assetID string) (*model.AssetMetadata, error)
}

// Config of the cache. Zero values take the defaults.
type Config struct {
	FullTTL          time.Duration `json:"fullTtl" yaml:"fullTtl"`
	PriceTTL         time.Duration `json:"priceTtl" yaml:"priceTtl"`
	LogoTTL          time.Duration `json:"logoTtl" yaml:"logoTtl"`
	MaxRetries       int           `json:"maxRetries" yaml:"maxRetries"`
	RetryDelay       time.Duration `json:"retryDelay" yaml:"retryDelay"`
	MaxRetryDelay    time.Duration `json:"maxRetryDelay" yaml:"maxRetryDelay"`
	SweepInterval    time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
	FetchTimeout     time.Duration `json:"fetchTimeout" yaml:"fetchTimeout"`
	BatchConcurrency int           `json:"batchConcurrency" yaml:"batchConcurrency"`
}

func (c *Config) init() {
	set := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}

	set(&c.FullTTL, DefaultFullTTL)
	set(&c.PriceTTL, DefaultPriceTTL)
	set(&c.LogoTTL, DefaultLogoTTL)
	set(&c.RetryDelay, DefaultRetryDelay)
	set(&c.MaxRetryDelay, DefaultMaxRetryDelay)
	set(&c.SweepInterval, DefaultSweepInterval)
	set(&c.FetchTimeout, DefaultFetchTimeout)

	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
}

// Stats are the cache counters since creation.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Fetches       uint64 `json:"fetches"`
	FetchFailures uint64 `json:"fetchFailures"`
	Entries       int    `json:"entries"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for TTLs, retry delays and the sweep.
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

// WithErrorHandler is called once per failed fetch, after all retries.
func WithErrorHandler(f func(assetID string, err error)) Option {
	return func(c *Cache) { c.onError = f }
}

// Cache is the enrichment cache. It is safe for concurrent use.
type Cache struct {
	cfg     Config
	fetcher Fetcher
	clock   clock.Clock
	onError func(string, error)
	flight  singleflight.Group

	mu    sync.Mutex
	full  *tier[*model.AssetMetadata]
	price *tier[decimal.Decimal]
	logo  *tier[string]

	hits, misses, fetches, failures atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New returns an empty cache.
func New(cfg Config, fetcher Fetcher, opts ...Option) *Cache {
	cfg.init()

	c := &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		clock:   clock.WallClock,
		full:    newTier[*model.AssetMetadata](cfg.FullTTL),
		price:   newTier[decimal.Decimal](cfg.PriceTTL),
		logo:    newTier[string](cfg.LogoTTL),
		stop:    make(chan struct{}),
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Get returns the metadata of assetID, fetching it when it is not cached or when its cached price outlived the
// price TTL. It returns nil when the metadata is unavailable; callers carry on without it. A record whose price could
// not be refreshed is returned without price.
//
// Callers sharing a fetch wait for it on their own context: one of them giving up does not fail the others.
func (c *Cache) Get(ctx context.Context, assetID string) *model.AssetMetadata {
	md, fresh := c.cached(assetID)
	if fresh {
		c.hits.Add(1)

		return md
	}

	c.misses.Add(1)

	if v := c.load(ctx, assetID); v != nil {
		return v
	}

	return md
}

func (c *Cache) load(ctx context.Context, assetID string) *model.AssetMetadata {
	if ctx.Err() != nil {
		return nil
	}

	ch := c.flight.DoChan(assetID, func() (interface{}, error) {
		// A flight that finished just before this one started may have filled the tiers.
		if md, fresh := c.cached(assetID); fresh {
			return md, nil
		}

		fctx, cancel := c.flightContext(ctx)
		defer cancel()

		md, err := c.fetch(fctx, assetID)
		if err != nil {
			if fctx.Err() != nil {
				logger.Debugf("[%s] fetch abandoned: %v", assetID, err)

				return nil, err
			}

			c.failures.Add(1)
			logger.Warningf("[%s] metadata unavailable: %v", assetID, err)

			if c.onError != nil {
				c.onError(assetID, err)
			}

			return nil, err
		}

		c.store(md)

		return md, nil
	})

	select {
	case <-ctx.Done():
		logger.Tracef("[%s] caller left before the fetch landed", assetID)

		return nil
	case res := <-ch:
		if res.Err != nil {
			return nil
		}

		if res.Shared {
			logger.Tracef("[%s] joined in-flight fetch", assetID)
		}

		return copyOf(res.Val.(*model.AssetMetadata))
	}
}

// flightContext detaches a shared fetch from the caller that started it. Only Stop cuts it short; every attempt is
// still bounded by FetchTimeout.
func (c *Cache) flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-fctx.Done():
		}
	}()

	return fctx, cancel
}

// GetBatch looks up several assets, fetching the uncached ones concurrently. Assets whose metadata is unavailable are
// absent from the result.
func (c *Cache) GetBatch(ctx context.Context, assetIDs []string) map[string]*model.AssetMetadata {
	out := make(map[string]*model.AssetMetadata, len(assetIDs))

	var missing []string

	for _, id := range assetIDs {
		if _, ok := out[id]; ok {
			continue
		}

		if md, fresh := c.cached(id); fresh {
			c.hits.Add(1)
			out[id] = md

			continue
		}

		out[id] = nil
		missing = append(missing, id)
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)

	g.SetLimit(c.cfg.BatchConcurrency)

	for _, id := range missing {
		g.Go(func() error {
			md := c.Get(ctx, id)

			mu.Lock()
			out[id] = md
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	for id, md := range out {
		if md == nil {
			delete(out, id)
		}
	}

	return out
}

// GetPrice returns the USD price of assetID. The price tier is consulted first; once it expired the asset is fetched
// again.
func (c *Cache) GetPrice(ctx context.Context, assetID string) (decimal.Decimal, bool) {
	c.mu.Lock()
	p, ok := c.price.get(assetID, c.clock.Now())
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)

		return p, true
	}

	md := c.Get(ctx, assetID)
	if md == nil || !md.HasPrice {
		return decimal.Zero, false
	}

	return md.PriceUSD, true
}

// GetLogo returns the logo URL of assetID. The logo tier is consulted first.
func (c *Cache) GetLogo(ctx context.Context, assetID string) (string, bool) {
	c.mu.Lock()
	l, ok := c.logo.get(assetID, c.clock.Now())
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)

		return l, true
	}

	md := c.Get(ctx, assetID)
	if md == nil || md.LogoURL == "" {
		return "", false
	}

	return md.LogoURL, true
}

// Sweep removes expired entries from every tier and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	return c.full.sweep(now) + c.price.sweep(now) + c.logo.sweep(now)
}

// Start launches the periodic sweep.
func (c *Cache) Start() {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for {
			select {
			case <-c.stop:
				return
			case <-c.clock.After(c.cfg.SweepInterval):
				if n := c.Sweep(); n > 0 {
					logger.Debugf("swept %d expired entries", n)
				}
			}
		}
	}()
}

// Stop ends the periodic sweep. It is idempotent.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.full.items)
	c.mu.Unlock()

	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Fetches:       c.fetches.Load(),
		FetchFailures: c.failures.Load(),
		Entries:       n,
	}
}

// cached returns a copy of the full record of assetID, if any. fresh is false when there is no record or when its price
// expired, in which case the copy comes without price.
func (c *Cache) cached(assetID string) (md *model.AssetMetadata, fresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	rec, ok := c.full.get(assetID, now)
	if !ok {
		return nil, false
	}

	md = copyOf(rec)

	if md.HasPrice {
		if _, ok := c.price.get(assetID, now); !ok {
			md.HasPrice = false
			md.PriceUSD = decimal.Zero

			return md, false
		}
	}

	return md, true
}

func (c *Cache) store(md *model.AssetMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	c.full.put(md.AssetID, md, now)

	if md.HasPrice {
		c.price.put(md.AssetID, md.PriceUSD, now)
	}

	if md.LogoURL != "" {
		c.logo.put(md.AssetID, md.LogoURL, now)
	}
}

func (c *Cache) fetch(ctx context.Context, assetID string) (*model.AssetMetadata, error) {
	var md *model.AssetMetadata

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			c.fetches.Add(1)

			fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
			defer cancel()

			var err error

			md, err = c.fetcher.Fetch(fctx, assetID)
			if err == nil && md == nil {
				err = errors.NotFoundf("metadata of %q", assetID)
			}

			return err
		},
		IsFatalError: func(error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("[%s] fetch attempt %d failed: %v", assetID, attempt, err)
		},
		Attempts:    c.cfg.MaxRetries,
		Delay:       c.cfg.RetryDelay,
		MaxDelay:    c.cfg.MaxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) || retry.IsDurationExceeded(err) || retry.IsRetryStopped(err) {
			err = retry.LastError(err)
		}

		return nil, errors.Annotatef(err, "fetching %q", assetID)
	}

	cp := *md
	cp.AssetID = assetID
	cp.FetchedAt = c.clock.Now()

	return &cp, nil
}

func copyOf(md *model.AssetMetadata) *model.AssetMetadata {
	cp := *md

	return &cp
}
