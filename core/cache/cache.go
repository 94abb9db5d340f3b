package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/meigma/pyramid/core/fetch"
	"github.com/meigma/pyramid/core/loader"
)

const numShards = 64

var (
	// ErrNotReady is returned by non-blocking strategies when the block has
	// not been loaded yet. Callers should draw a placeholder.
	ErrNotReady = errors.New("cache: block not ready")

	// ErrCleared is returned to waiters whose pending entry was dropped by
	// Clear.
	ErrCleared = errors.New("cache: cleared")
)

// Key identifies one cell of one image.
type Key struct {
	Setup     int
	Timepoint int
	Level     int
	Grid      [3]int64
}

func (k Key) hash() uint64 {
	var buf [48]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(k.Setup))     //nolint:gosec // hash input only
	binary.LittleEndian.PutUint64(buf[8:], uint64(k.Timepoint)) //nolint:gosec // hash input only
	binary.LittleEndian.PutUint64(buf[16:], uint64(k.Level))    //nolint:gosec // hash input only
	for i, g := range k.Grid {
		binary.LittleEndian.PutUint64(buf[24+8*i:], uint64(g)) //nolint:gosec // hash input only
	}
	return xxhash.Sum64(buf[:])
}

// Strategy selects how Get treats a miss.
type Strategy uint8

// Loading strategies.
const (
	// Blocking loads the block at top priority and waits for it.
	Blocking Strategy = iota
	// Budgeted queues the block at its priority and returns ErrNotReady.
	Budgeted
	// DontLoad returns ErrNotReady without queueing anything.
	DontLoad
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case Blocking:
		return "blocking"
	case Budgeted:
		return "budgeted"
	case DontLoad:
		return "dontload"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

// ParseStrategy maps a strategy name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range []Strategy{Blocking, Budgeted, DontLoad} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("cache: unknown strategy %q", name)
}

// LoadFunc loads the block of one cell. It must not fail; degraded loads
// return an empty block.
type LoadFunc func(ctx context.Context) *loader.Block

// Submitter accepts fetch jobs. *fetch.Scheduler implements it.
type Submitter interface {
	Submit(job fetch.Job, priority int, front bool) error
}

// Observer receives one call per Get that reached the map.
type Observer func(strategy Strategy, hit bool)

// Stats reports cache counters.
type Stats struct {
	// Entries counts resolved blocks.
	Entries int
	// Pending counts cells queued or loading.
	Pending int
	Hits    int64
	Misses  int64
	// Refreshes counts failed blocks queued for another load.
	Refreshes int64
}

type entry struct {
	block *loader.Block
	err   error
	done  chan struct{}

	running  bool
	blocking bool
	refresh  bool
	// queued and refreshed hold the frame generation plus one of the last
	// Budgeted submission; zero means never.
	queued    uint64
	refreshed uint64
}

func (e *entry) resolved() bool {
	return e.block != nil
}

type shard struct {
	mu sync.RWMutex
	m  map[Key]*entry
}

// Cache is a concurrent block cache. It is safe for concurrent use.
type Cache struct {
	shards      [numShards]shard
	submit      Submitter
	retryFailed bool
	logger      *slog.Logger
	observer    Observer

	generation atomic.Uint64
	hits       atomic.Int64
	misses     atomic.Int64
	refreshes  atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithRetryFailed makes Budgeted hits on failed blocks queue another load,
// at most once per frame.
func WithRetryFailed(enabled bool) Option {
	return func(c *Cache) {
		c.retryFailed = enabled
	}
}

// WithLogger sets the logger for cache events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithObserver sets a callback invoked on every hit or miss.
func WithObserver(fn Observer) Option {
	return func(c *Cache) {
		c.observer = fn
	}
}

// New creates an empty cache handing misses to submit.
func New(submit Submitter, opts ...Option) *Cache {
	c := &Cache{submit: submit}
	for i := range c.shards {
		c.shards[i].m = make(map[Key]*entry)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) shard(k Key) *shard {
	return &c.shards[k.hash()%numShards]
}

// Get returns the block of key.
//
// A hit returns immediately. On a miss, Blocking queues the load at the front
// of priority 0 and waits for this key only; Budgeted queues it at priority
// once per frame and returns ErrNotReady; DontLoad returns ErrNotReady.
func (c *Cache) Get(ctx context.Context, key Key, strategy Strategy, load LoadFunc, priority int) (*loader.Block, error) {
	s := c.shard(key)

	s.mu.RLock()
	e := s.m[key]
	var b *loader.Block
	if e != nil {
		b = e.block
	}
	s.mu.RUnlock()

	if b != nil {
		c.observe(strategy, true)
		if strategy == Budgeted && c.retryFailed && b.Origin == loader.OriginFailed {
			c.refreshFailed(s, key, load, priority)
		}
		return b, nil
	}
	c.observe(strategy, false)
	if strategy == DontLoad {
		return nil, ErrNotReady
	}

	s.mu.Lock()
	e = s.m[key]
	if e == nil {
		e = &entry{done: make(chan struct{})}
		s.m[key] = e
	}
	if e.resolved() {
		b := e.block
		s.mu.Unlock()
		return b, nil
	}

	if strategy == Budgeted {
		frame := c.frame()
		enqueue := e.queued != frame
		e.queued = frame
		s.mu.Unlock()
		if enqueue {
			c.enqueue(s, key, e, load, priority, false)
		}
		return nil, ErrNotReady
	}

	enqueue := !e.blocking
	e.blocking = true
	done := e.done
	s.mu.Unlock()
	if enqueue {
		c.enqueue(s, key, e, load, 0, true)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.block, nil
}

// refreshFailed queues another load of a failed block, once per frame.
func (c *Cache) refreshFailed(s *shard, key Key, load LoadFunc, priority int) {
	frame := c.frame()
	s.mu.Lock()
	e := s.m[key]
	if e == nil || e.refresh || e.refreshed == frame {
		s.mu.Unlock()
		return
	}
	e.refresh = true
	e.refreshed = frame
	s.mu.Unlock()

	c.refreshes.Add(1)
	c.log().Debug("retrying failed block", "key", key)
	c.enqueue(s, key, e, load, priority, false)
}

func (c *Cache) enqueue(s *shard, key Key, e *entry, load LoadFunc, priority int, front bool) {
	job := fetch.Job{
		Run:  func(ctx context.Context) { c.run(ctx, s, key, e, load) },
		Drop: func() { c.drop(s, key, e, load) },
		// Blocking requests have a waiter and must not be demoted.
		Pinned: front,
	}
	if err := c.submit.Submit(job, priority, front); err != nil {
		c.abandon(s, key, e, err)
	}
}

func (c *Cache) run(ctx context.Context, s *shard, key Key, e *entry, load LoadFunc) {
	s.mu.Lock()
	if s.m[key] != e || e.running || (e.resolved() && !e.refresh) {
		s.mu.Unlock()
		return
	}
	e.running = true
	s.mu.Unlock()

	b := load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.running = false
	if s.m[key] != e {
		return
	}
	e.refresh = false
	first := !e.resolved()
	e.block = b
	if first {
		close(e.done)
	}
}

// drop handles a job the queue discarded. Blocking waiters get their job
// back at the front; otherwise the pending entry is forgotten so a later
// request queues it again.
func (c *Cache) drop(s *shard, key Key, e *entry, load LoadFunc) {
	s.mu.Lock()
	if s.m[key] != e || e.running {
		s.mu.Unlock()
		return
	}
	if e.resolved() {
		e.refresh = false
		s.mu.Unlock()
		return
	}
	if !e.blocking {
		delete(s.m, key)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	c.enqueue(s, key, e, load, 0, true)
}

// abandon releases the waiters of an entry whose job could not be queued.
func (c *Cache) abandon(s *shard, key Key, e *entry, err error) {
	c.log().Debug("block not queued", "key", key, "error", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[key] != e {
		return
	}
	if e.resolved() {
		e.refresh = false
		return
	}
	delete(s.m, key)
	e.err = fmt.Errorf("%w: %w", ErrCleared, err)
	close(e.done)
}

func (c *Cache) frame() uint64 {
	return c.generation.Load() + 1
}

// NextFrame starts a new frame generation. Budgeted misses are queued again
// once per generation.
func (c *Cache) NextFrame() {
	c.generation.Add(1)
}

// Clear drops every entry. Waiters of pending entries receive ErrCleared.
func (c *Cache) Clear() {
	var released int
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, e := range s.m {
			if !e.resolved() {
				e.err = ErrCleared
				close(e.done)
				released++
			}
		}
		s.m = make(map[Key]*entry)
		s.mu.Unlock()
	}
	c.log().Debug("cache cleared", "released", released)
}

// Len returns the number of resolved blocks.
func (c *Cache) Len() int {
	return c.Stats().Entries
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	st := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Refreshes: c.refreshes.Load(),
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, e := range s.m {
			if e.resolved() {
				st.Entries++
			} else {
				st.Pending++
			}
		}
		s.mu.RUnlock()
	}
	return st
}

func (c *Cache) observe(strategy Strategy, hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observer != nil {
		c.observer(strategy, hit)
	}
}

func (c *Cache) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.DiscardHandler)
}
