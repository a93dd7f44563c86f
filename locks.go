package reprivileger

import (
	"context"
	"sync"
	"time"
)

// Coordinator provides reentrant read/write mutual exclusion for one logical
// entity (a class, an authority table, a pick-path store). Any number of
// readers may hold it together; a writer excludes everyone. Waiters are
// served in arrival order.
//
// Reentrancy is scoped to the call: a guarded operation records the held
// lock on its context, and a nested operation against the same coordinator
// runs its work directly instead of re-acquiring.
type Coordinator struct {
	name           string
	acquireTimeout time.Duration

	mu      sync.Mutex
	readers int
	writer  bool
	queue   []*lockWaiter

	monitor *lockMonitor
}

type lockWaiter struct {
	write     bool
	ready     chan struct{}
	granted   bool
	abandoned bool
}

// NewCoordinator creates a Coordinator for the named scope with no
// acquisition timeout.
func NewCoordinator(name string) *Coordinator {
	return &Coordinator{
		name:    name,
		monitor: newLockMonitor(),
	}
}

// WithAcquireTimeout bounds how long callers wait for the lock. The timeout
// covers acquisition only, never in-flight work. Zero means wait forever.
func (c *Coordinator) WithAcquireTimeout(timeout time.Duration) *Coordinator {
	c.acquireTimeout = timeout
	return c
}

// Name returns the scope name this coordinator protects.
func (c *Coordinator) Name() string {
	return c.name
}

// WithReadLock runs work while holding the lock in shared mode. The lock is
// released on both success and failure. If the calling scope already holds
// this coordinator, work runs directly.
func (c *Coordinator) WithReadLock(ctx context.Context, work func(ctx context.Context) error) error {
	return c.withLock(ctx, false, work)
}

// WithWriteLock runs work while holding the lock exclusively. The lock is
// released on both success and failure. If the calling scope already holds
// this coordinator, work runs directly.
func (c *Coordinator) WithWriteLock(ctx context.Context, work func(ctx context.Context) error) error {
	return c.withLock(ctx, true, work)
}

func (c *Coordinator) withLock(ctx context.Context, write bool, work func(ctx context.Context) error) error {
	if lockHeld(ctx, c.name) {
		return work(ctx)
	}
	start := time.Now()
	if err := c.acquire(ctx, write); err != nil {
		c.monitor.record(time.Since(start), false)
		return err
	}
	c.monitor.record(time.Since(start), true)
	defer c.release(write)
	return work(withHeldLock(ctx, c.name))
}

func (c *Coordinator) acquire(ctx context.Context, write bool) error {
	c.mu.Lock()
	if c.grantableLocked(write) {
		c.grantLocked(write)
		c.mu.Unlock()
		return nil
	}
	w := &lockWaiter{write: write, ready: make(chan struct{})}
	c.queue = append(c.queue, w)
	c.mu.Unlock()

	var timeout <-chan time.Time
	if c.acquireTimeout > 0 {
		timer := time.NewTimer(c.acquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-w.ready:
		return nil
	case <-timeout:
		return c.abandon(w, NewError(ErrLockTimeout, "lock not granted in time").WithField(c.name))
	case <-ctx.Done():
		return c.abandon(w, wrapStoreErr(ctx.Err(), "lock wait canceled"))
	}
}

// abandon withdraws a waiter after a timeout or cancellation. If the grant
// raced in anyway, the freshly granted lock is released unused; the granted
// flag guarantees work never runs twice for one request.
func (c *Coordinator) abandon(w *lockWaiter, cause error) error {
	c.mu.Lock()
	if w.granted {
		c.mu.Unlock()
		c.release(w.write)
		return cause
	}
	w.abandoned = true
	for i, queued := range c.queue {
		if queued == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	return cause
}

// grantableLocked reports whether an arriving request could be granted
// immediately. Arrivals never overtake queued waiters.
func (c *Coordinator) grantableLocked(write bool) bool {
	if len(c.queue) > 0 {
		return false
	}
	if write {
		return !c.writer && c.readers == 0
	}
	return !c.writer
}

func (c *Coordinator) grantLocked(write bool) {
	if write {
		c.writer = true
	} else {
		c.readers++
	}
}

func (c *Coordinator) release(write bool) {
	c.mu.Lock()
	if write {
		c.writer = false
	} else {
		c.readers--
	}
	c.promoteLocked()
	c.mu.Unlock()
}

// promoteLocked grants queued waiters in order: either the leading writer
// once the lock is free, or every leading reader.
func (c *Coordinator) promoteLocked() {
	for len(c.queue) > 0 {
		head := c.queue[0]
		if head.abandoned {
			c.queue = c.queue[1:]
			continue
		}
		if head.write {
			if c.writer || c.readers > 0 {
				return
			}
			c.writer = true
			head.granted = true
			close(head.ready)
			c.queue = c.queue[1:]
			return
		}
		if c.writer {
			return
		}
		c.readers++
		head.granted = true
		close(head.ready)
		c.queue = c.queue[1:]
	}
}

// Metrics returns the coordinator's acquisition statistics.
func (c *Coordinator) Metrics() LockMetrics {
	return c.monitor.getMetrics()
}

// ResetMetrics resets the coordinator's acquisition statistics.
func (c *Coordinator) ResetMetrics() {
	c.monitor.reset()
}

// ============================================================================
// LOCK METRICS
// ============================================================================

// LockMetrics provides lock acquisition performance and failure statistics.
type LockMetrics struct {
	TotalAcquisitions  int64         `json:"total_acquisitions"`
	FailedAcquisitions int64         `json:"failed_acquisitions"`
	AverageWait        time.Duration `json:"average_wait"`
	MaxWait            time.Duration `json:"max_wait"`
	LastReset          time.Time     `json:"last_reset"`
}

type lockMonitor struct {
	mu           sync.Mutex
	totalCount   int64
	failureCount int64
	totalWait    time.Duration
	maxWait      time.Duration
	lastReset    time.Time
}

func newLockMonitor() *lockMonitor {
	return &lockMonitor{lastReset: time.Now()}
}

func (lm *lockMonitor) record(wait time.Duration, success bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.totalCount++
	lm.totalWait += wait
	if !success {
		lm.failureCount++
	}
	if wait > lm.maxWait {
		lm.maxWait = wait
	}
}

func (lm *lockMonitor) getMetrics() LockMetrics {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var avg time.Duration
	if lm.totalCount > 0 {
		avg = lm.totalWait / time.Duration(lm.totalCount)
	}
	return LockMetrics{
		TotalAcquisitions:  lm.totalCount,
		FailedAcquisitions: lm.failureCount,
		AverageWait:        avg,
		MaxWait:            lm.maxWait,
		LastReset:          lm.lastReset,
	}
}

func (lm *lockMonitor) reset() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.totalCount = 0
	lm.failureCount = 0
	lm.totalWait = 0
	lm.maxWait = 0
	lm.lastReset = time.Now()
}
