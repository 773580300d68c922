package keyset

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/keyset"

// DefaultTTL is how long a fetched key set is served without refetching.
const DefaultTTL = 5 * time.Minute

// Snapshot is a key set together with the instant it was fetched.
type Snapshot struct {
	Set       *KeySet
	FetchedAt time.Time
}

// Cache is a time-boxed, shared cache of one remote key set.
//
// Reads within the TTL take only a read lock. A refresh fetches with no
// lock held and then swaps the snapshot pointer under the write lock.
// Concurrent refreshes of the same kind share one in-flight fetch unless an
// Invalidate happened in between, in which case the later caller starts its
// own. Every caller waits under its own context, so a cancelled request gives up its
// wait without disturbing the others. Fetch failures are returned to the
// caller and are never retried here.
type Cache struct {
	source       Source
	store        Store
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer

	group singleflight.Group

	mu         sync.RWMutex
	current    *Snapshot
	generation uint64
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithTTL sets the freshness window. Non-positive values are ignored.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRefreshTimeout bounds a shared refresh independently of the callers
// waiting on it.
func WithRefreshTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for store warnings and refresh events.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStore adds a shared snapshot tier consulted before the source on
// non-forced refreshes and written after every successful fetch.
func WithStore(s Store) CacheOption {
	return func(c *Cache) { c.store = s }
}

// NewCache returns an empty cache backed by source.
func NewCache(source Source, opts ...CacheOption) *Cache {
	c := &Cache{
		source:       source,
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached key set while it is younger than the TTL and
// forceRefresh is false. Otherwise it refreshes and returns the new set.
// Refresh failures carry [sserr.CodeUnavailableKeySet].
func (c *Cache) Get(ctx context.Context, forceRefresh bool) (*KeySet, error) {
	if !forceRefresh {
		if set, ok := c.fresh(); ok {
			return set, nil
		}
	}

	key, gen := c.flightKey(forceRefresh)
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.refresh(fetchCtx, forceRefresh, gen)
	})

	select {
	case <-ctx.Done():
		return nil, sserr.Wrap(ctx.Err(), sserr.CodeUnavailableKeySet, "keyset: refresh abandoned by caller")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

// Invalidate drops the current snapshot so the next Get refetches. A Get
// after Invalidate never joins a fetch that started before it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.generation++
	c.mu.Unlock()
}

// flightKey names the shared fetch a Get may join and returns the
// generation that fetch belongs to.
func (c *Cache) flightKey(force bool) (string, uint64) {
	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()
	kind := "load/"
	if force {
		kind = "force/"
	}
	return kind + strconv.FormatUint(gen, 10), gen
}

// Snapshot returns the current snapshot, fresh or not.
func (c *Cache) Snapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Snapshot{}, false
	}
	return *c.current, true
}

func (c *Cache) fresh() (*KeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil || c.now().Sub(c.current.FetchedAt) >= c.ttl {
		return nil, false
	}
	return c.current.Set, true
}

func (c *Cache) refresh(ctx context.Context, force bool, gen uint64) (_ *KeySet, err error) {
	ctx, span := startSpan(ctx, c.tracer, "keyset.Refresh")
	span.SetAttributes(attribute.Bool("keyset.forced", force))
	defer func() { finishSpan(span, err) }()

	if !force {
		// Another flight may have completed between the caller's fast-path
		// check and this one starting.
		if set, ok := c.fresh(); ok {
			return set, nil
		}
		if snap, ok := c.loadShared(ctx); ok {
			c.swap(snap, gen)
			span.SetAttributes(attribute.String("keyset.origin", "store"))
			return snap.Set, nil
		}
	}

	set, err := c.source.Fetch(ctx)
	if err != nil {
		if _, coded := sserr.AsError(err); !coded {
			err = sserr.Wrap(err, sserr.CodeUnavailableKeySet, "keyset: fetch failed")
		}
		c.logger.WarnContext(ctx, "key set fetch failed", "forced", force, "error", err)
		return nil, err
	}
	if set == nil {
		return nil, sserr.New(sserr.CodeUnavailableKeySet, "keyset: source returned no key set")
	}

	snap := Snapshot{Set: set, FetchedAt: c.now()}
	c.swap(snap, gen)
	span.SetAttributes(attribute.String("keyset.origin", "source"), attribute.Int("keyset.size", set.Len()))
	c.logger.DebugContext(ctx, "key set refreshed", "forced", force, "keys", set.Len())

	if c.store != nil {
		if serr := c.store.Save(ctx, snap); serr != nil {
			c.logger.WarnContext(ctx, "failed to save key set snapshot", "error", serr)
		}
	}
	return set, nil
}

// loadShared returns the store's snapshot when it is still within the TTL.
// Store failures are logged and treated as a miss.
func (c *Cache) loadShared(ctx context.Context) (Snapshot, bool) {
	if c.store == nil {
		return Snapshot{}, false
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			c.logger.WarnContext(ctx, "failed to load key set snapshot", "error", err)
		}
		return Snapshot{}, false
	}
	now := c.now()
	if snap.Set == nil || now.Sub(snap.FetchedAt) >= c.ttl {
		return Snapshot{}, false
	}
	if snap.FetchedAt.After(now) {
		snap.FetchedAt = now
	}
	return snap, true
}

// swap installs snap unless the cache was invalidated after the fetch
// producing it began, or a newer snapshot is already in place.
func (c *Cache) swap(snap Snapshot, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	if c.current != nil && snap.FetchedAt.Before(c.current.FetchedAt) {
		return
	}
	c.current = &snap
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
