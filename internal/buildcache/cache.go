// Package buildcache maps resolved revision ids to compiled builds and keeps
// the number of builds bounded.
package buildcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/dyluth/cstar/pkg/cluster"
)

// BuildFunc compiles a revision and returns where the build lives.
type BuildFunc func(ctx context.Context, revision string) (location string, err error)

// RemoveFunc deletes an evicted build's files.
type RemoveFunc func(ctx context.Context, a Artifact) error

// VerifyFunc reports whether a cached build's files are still in place.
type VerifyFunc func(ctx context.Context, a Artifact) (bool, error)

// DefaultLeaseTTL bounds how long a lease recorded in a shared store
// protects an artifact if its holder dies without releasing it.
const DefaultLeaseTTL = 6 * time.Hour

// Cache serializes builds per revision and evicts oldest-first. Artifacts
// held by a Lease are never evicted.
type Cache struct {
	store    Store
	max      int
	remove   RemoveFunc
	verify   VerifyFunc
	leaseTTL time.Duration
	now      func() time.Time
	metrics  *Metrics
	logger   logrus.FieldLogger

	mu      sync.Mutex
	leases  map[string]int
	overdue bool // Retention was blocked by leases

	sf singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithRemover sets the function that deletes evicted builds.
func WithRemover(fn RemoveFunc) Option {
	return func(c *Cache) { c.remove = fn }
}

// WithVerifier checks every cache hit. A hit whose files are gone is
// dropped from the index and rebuilt.
func WithVerifier(fn VerifyFunc) Option {
	return func(c *Cache) { c.verify = fn }
}

// WithLeaseTTL sets the expiry of leases recorded in a LeaseStore.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *Cache) { c.leaseTTL = d }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records cache activity.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache holding at most max builds.
func New(store Store, max int, opts ...Option) (*Cache, error) {
	if max < 1 {
		return nil, fmt.Errorf("cache size must be >= 1, got %d", max)
	}
	c := &Cache{
		store:    store,
		max:      max,
		leaseTTL: DefaultLeaseTTL,
		now:      time.Now,
		leases:   make(map[string]int),
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics, _ = NewMetrics(nil)
	}
	c.logger = c.logger.WithField("component", "buildcache")
	return c, nil
}

// Lease pins an artifact until Release is called.
type Lease struct {
	Artifact Artifact

	once    sync.Once
	release func()
}

// Release unpins the artifact. Calling it more than once is harmless.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Acquire returns the artifact for revision, building it on a miss, and
// pins it until the lease is released. Concurrent calls for one revision
// share a single build. A failed build is not cached. When the store is a
// LeaseStore the pin is visible to other processes sharing the index.
func (c *Cache) Acquire(ctx context.Context, revision string, build BuildFunc) (*Lease, error) {
	id := uuid.NewString()
	if err := c.pin(ctx, revision, id); err != nil {
		return nil, err
	}

	a, err := c.lookupOrBuild(ctx, revision, build)
	if err != nil {
		c.unpin(context.WithoutCancel(ctx), revision, id)
		return nil, err
	}
	return &Lease{
		Artifact: a,
		release:  func() { c.unpin(context.WithoutCancel(ctx), revision, id) },
	}, nil
}

// GetOrBuild returns the artifact location for revision without holding a lease.
func (c *Cache) GetOrBuild(ctx context.Context, revision string, build BuildFunc) (string, error) {
	lease, err := c.Acquire(ctx, revision, build)
	if err != nil {
		return "", err
	}
	defer lease.Release()
	return lease.Artifact.Location, nil
}

// List returns the cached artifacts oldest first.
func (c *Cache) List(ctx context.Context) ([]Artifact, error) {
	return c.store.List(ctx)
}

// cached returns the indexed artifact for revision. An entry whose files
// are gone is removed from the index and reported as ErrNotFound.
func (c *Cache) cached(ctx context.Context, revision string) (Artifact, error) {
	a, err := c.store.Get(ctx, revision)
	if err != nil || c.verify == nil {
		return a, err
	}

	present, err := c.verify(ctx, a)
	if err != nil {
		return Artifact{}, err
	}
	if present {
		return a, nil
	}

	c.metrics.Stale.Inc()
	c.logger.WithFields(logrus.Fields{"event_type": "cache_stale", "revision": revision, "location": a.Location}).
		Warn("cached build is missing on the build host; rebuilding")
	if err := c.store.Delete(ctx, revision); err != nil {
		return Artifact{}, err
	}
	return Artifact{}, ErrNotFound
}

func (c *Cache) lookupOrBuild(ctx context.Context, revision string, build BuildFunc) (Artifact, error) {
	a, err := c.cached(ctx, revision)
	if err == nil {
		c.metrics.Hits.Inc()
		c.logger.WithFields(logrus.Fields{"event_type": "cache_hit", "revision": revision}).Info("reusing cached build")
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Artifact{}, err
	}

	v, err, _ := c.sf.Do(revision, func() (interface{}, error) {
		if a, err := c.cached(ctx, revision); err == nil {
			c.metrics.Hits.Inc()
			return a, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		c.metrics.Misses.Inc()
		c.logger.WithFields(logrus.Fields{"event_type": "cache_miss", "revision": revision}).Info("building revision")

		location, err := build(ctx, revision)
		if err != nil {
			c.metrics.BuildFailures.Inc()
			return nil, &cluster.BuildError{Revision: revision, Err: err}
		}

		a := Artifact{Revision: revision, Location: location, CreatedAt: c.now()}
		if err := c.store.Put(ctx, a); err != nil {
			return nil, err
		}
		if err := c.enforceRetention(ctx); err != nil {
			c.logger.WithError(err).WithField("event_type", "retention_failed").Warn("failed to enforce build retention")
		}
		return a, nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return v.(Artifact), nil
}

func (c *Cache) pin(ctx context.Context, revision, id string) error {
	c.mu.Lock()
	c.leases[revision]++
	c.mu.Unlock()

	if ls, ok := c.store.(LeaseStore); ok {
		if err := ls.AddLease(ctx, revision, id, c.now(), c.leaseTTL); err != nil {
			c.mu.Lock()
			c.dropLocalLease(revision)
			c.mu.Unlock()
			return err
		}
	}
	return nil
}

func (c *Cache) unpin(ctx context.Context, revision, id string) {
	if ls, ok := c.store.(LeaseStore); ok {
		if err := ls.RemoveLease(ctx, revision, id); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{"event_type": "lease_release_failed", "revision": revision}).
				Warn("failed to release shared lease; it expires on its own")
		}
	}

	c.mu.Lock()
	c.dropLocalLease(revision)
	retry := c.overdue && len(c.leases) == 0
	c.mu.Unlock()

	if retry {
		if err := c.enforceRetention(ctx); err != nil {
			c.logger.WithError(err).WithField("event_type", "retention_failed").Warn("failed to enforce build retention")
		}
	}
}

// dropLocalLease must be called with mu held.
func (c *Cache) dropLocalLease(revision string) {
	c.leases[revision]--
	if c.leases[revision] <= 0 {
		delete(c.leases, revision)
	}
}

// leased reports whether revision is pinned here or, for a LeaseStore,
// by another process. Must be called with mu held.
func (c *Cache) leased(ctx context.Context, revision string) (bool, error) {
	if c.leases[revision] > 0 {
		return true, nil
	}
	if ls, ok := c.store.(LeaseStore); ok {
		return ls.Leased(ctx, revision, c.now())
	}
	return false, nil
}

// enforceRetention evicts the oldest unleased artifacts until the cache is
// back at its limit. It holds the lease lock throughout so no artifact can
// be pinned while it is being removed.
func (c *Cache) enforceRetention(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.store.List(ctx)
	if err != nil {
		return err
	}

	excess := len(all) - c.max
	for _, a := range all {
		if excess <= 0 {
			break
		}
		held, err := c.leased(ctx, a.Revision)
		if err != nil {
			return err
		}
		if held {
			continue
		}
		if c.remove != nil {
			if err := c.remove(ctx, a); err != nil {
				return fmt.Errorf("failed to remove build %s: %w", a.Revision, err)
			}
		}
		if err := c.store.Delete(ctx, a.Revision); err != nil {
			return err
		}
		c.metrics.Evictions.Inc()
		c.logger.WithFields(logrus.Fields{"event_type": "cache_evict", "revision": a.Revision}).Info("evicted cached build")
		excess--
	}

	c.overdue = excess > 0
	return nil
}
