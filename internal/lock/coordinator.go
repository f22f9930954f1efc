// Package lock provides per-resource mutual exclusion between tasks.
//
// Locks are held in memory, keyed by resource (usually a content file path),
// and expire after a TTL. Expiry is checked lazily on every read and
// proactively by a periodic sweep.
package lock

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTTL is the age after which a lock is stale and reclaimable.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepInterval is how often Run purges stale locks.
	DefaultSweepInterval = 60 * time.Second
)

// Lock is a single held resource.
type Lock struct {
	// Resource is the key the lock guards.
	Resource string
	// Owner is the task ID holding the lock.
	Owner string
	// AcquiredAt is when the lock was taken.
	AcquiredAt time.Time
	// TTL is the lifetime of the lock.
	TTL time.Duration
}

// ExpiresAt returns when the lock becomes stale.
func (l Lock) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.TTL)
}

// BatchResult reports the outcome of AcquireBatch.
type BatchResult struct {
	// Acquired lists resources held by the owner after the call. Empty when any key failed.
	Acquired []string
	// Failed lists every resource that could not be acquired.
	Failed []string
}

// Success reports whether every requested resource was acquired.
func (r BatchResult) Success() bool {
	return len(r.Failed) == 0
}

// Options configures a Coordinator.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Coordinator tracks which task owns which resource.
// It ensures at most one live lock exists per resource.
type Coordinator struct {
	// locks maps resource keys to their current lock.
	locks map[string]*Lock
	// ttl is the lifetime of new locks.
	ttl time.Duration
	// sweepInterval is the period of the Run loop.
	sweepInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
	// mu protects locks.
	mu sync.Mutex
}

// NewCoordinator creates a Coordinator with the given options.
func NewCoordinator(opts Options) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		locks:         make(map[string]*Lock),
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		logger:        opts.Logger.With("component", "lock_coordinator"),
	}
}

// TTL returns the configured lock lifetime.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// Acquire takes the lock on resource for owner.
// It succeeds if the resource is free, if the existing lock is stale, or if
// owner already holds it. It returns false if another owner holds a live lock.
func (c *Coordinator) Acquire(resource, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok, _ := c.acquireLocked(resource, owner)
	return ok
}

// acquireLocked returns (acquired, reentrant). Must hold mu.
func (c *Coordinator) acquireLocked(resource, owner string) (bool, bool) {
	now := c.now()
	if existing, ok := c.locks[resource]; ok {
		if !c.expired(existing, now) {
			if existing.Owner == owner {
				return true, true
			}
			return false, false
		}
		c.logger.Warn("replacing stale lock",
			"resource", resource,
			"previous_owner", existing.Owner,
			"owner", owner,
			"age", now.Sub(existing.AcquiredAt))
	}

	c.locks[resource] = &Lock{
		Resource:   resource,
		Owner:      owner,
		AcquiredAt: now,
		TTL:        c.ttl,
	}
	c.logger.Debug("lock acquired", "resource", resource, "owner", owner)
	return true, false
}

// AcquireBatch attempts every resource in order. If any fails, every lock
// newly taken during this call is released again; locks the owner already
// held before the call are kept. The result lists every failed resource.
func (c *Coordinator) AcquireBatch(resources []string, owner string) BatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result BatchResult
	var taken []string
	for _, r := range resources {
		ok, reentrant := c.acquireLocked(r, owner)
		if !ok {
			result.Failed = append(result.Failed, r)
			continue
		}
		result.Acquired = append(result.Acquired, r)
		if !reentrant {
			taken = append(taken, r)
		}
	}

	if len(result.Failed) > 0 {
		for _, r := range taken {
			if l, ok := c.locks[r]; ok && l.Owner == owner {
				delete(c.locks, r)
			}
		}
		c.logger.Debug("batch lock failed, rolled back",
			"owner", owner,
			"failed", result.Failed,
			"rolled_back", len(taken))
		result.Acquired = nil
	}
	return result
}

// Release drops the lock on resource if owner holds it.
func (c *Coordinator) Release(resource, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[resource]
	if !ok || l.Owner != owner {
		return false
	}
	delete(c.locks, resource)
	c.logger.Debug("lock released", "resource", resource, "owner", owner)
	return true
}

// ReleaseAll drops every lock held by owner and returns how many were released.
func (c *Coordinator) ReleaseAll(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	released := 0
	for resource, l := range c.locks {
		if l.Owner == owner {
			delete(c.locks, resource)
			released++
		}
	}
	if released > 0 {
		c.logger.Debug("released all locks", "owner", owner, "count", released)
	}
	return released
}

// IsLocked reports whether a live lock exists on resource. Stale locks are evicted.
func (c *Coordinator) IsLocked(resource string) bool {
	_, ok := c.Info(resource)
	return ok
}

// Info returns the live lock on resource. Stale locks are evicted.
func (c *Coordinator) Info(resource string) (Lock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[resource]
	if !ok {
		return Lock{}, false
	}
	if c.expired(l, c.now()) {
		delete(c.locks, resource)
		return Lock{}, false
	}
	return *l, true
}

// Held returns the resources owner currently holds, sorted.
func (c *Coordinator) Held(owner string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var out []string
	for resource, l := range c.locks {
		if l.Owner == owner && !c.expired(l, now) {
			out = append(out, resource)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns every live lock, sorted by resource.
func (c *Coordinator) Snapshot() []Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]Lock, 0, len(c.locks))
	for _, l := range c.locks {
		if !c.expired(l, now) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// Sweep removes every stale lock and returns how many were purged.
func (c *Coordinator) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for resource, l := range c.locks {
		if c.expired(l, now) {
			delete(c.locks, resource)
			purged++
		}
	}
	if purged > 0 {
		c.logger.Info("swept stale locks", "count", purged)
	}
	return purged
}

// Run sweeps stale locks every SweepInterval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Coordinator) expired(l *Lock, now time.Time) bool {
	return now.Sub(l.AcquiredAt) >= l.TTL
}
