// Package disk keeps remote chunk objects on local disk so they survive
// process restarts. [Cache.Wrap] puts a cache in front of any [store.Store].
package disk

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/pyramid/core/store"
)

// ErrConfig is returned by New for invalid settings.
var ErrConfig = errors.New("disk: invalid configuration")

// Cache is a size-bounded directory of chunk objects. Each object is a file
// named by the digest of its store name and key, fanned out into
// subdirectories by the leading hex characters of the digest.
// A Cache is safe for concurrent use and may be shared by several stores.
type Cache struct {
	root   string
	fanout int
	perm   os.FileMode
	limit  int64
	logger *slog.Logger

	used    atomic.Int64
	evictMu sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
	fills  atomic.Int64
}

// Stats reports cache counters.
type Stats struct {
	// Bytes is the size of all committed objects.
	Bytes  int64
	Hits   int64
	Misses int64
	// Fills counts objects written after a miss.
	Fills int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxBytes bounds the total object size. The least recently read
// objects are evicted to make room. 0, the default, means unbounded.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.limit = n
	}
}

// WithFanout sets how many leading hex characters of the digest name the
// subdirectory of an object. 0 keeps every object in the root. The default
// is 2.
func WithFanout(n int) Option {
	return func(c *Cache) {
		c.fanout = n
	}
}

// WithLogger sets the logger for read and write failures. Such failures
// never fail a Get; the object is read from the inner store instead.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New opens the cache rooted at dir, creating it if needed. Objects left by
// an earlier process are kept and counted.
func New(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{root: dir, fanout: 2, perm: 0o700}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case dir == "":
		return nil, errors.Join(ErrConfig, errors.New("empty directory"))
	case c.fanout < 0:
		return nil, errors.Join(ErrConfig, errors.New("negative fanout"))
	case c.limit < 0:
		return nil, errors.Join(ErrConfig, errors.New("negative max bytes"))
	}
	if err := os.MkdirAll(dir, c.perm); err != nil {
		return nil, err
	}
	objects, err := c.scan()
	if err != nil {
		return nil, err
	}
	var used int64
	for _, o := range objects {
		used += o.size
	}
	c.used.Store(used)
	return c, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Bytes:  c.used.Load(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Fills:  c.fills.Load(),
	}
}

// Wrap returns a store that reads through the cache to inner. Only
// successful reads are kept: not-found and transient errors reach the
// caller unchanged and are asked for again next time.
func (c *Cache) Wrap(inner store.Store) *Store {
	return &Store{inner: inner, cache: c}
}

func (c *Cache) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Store is a [store.Store] backed by a Cache.
type Store struct {
	inner   store.Store
	cache   *Cache
	flights singleflight.Group
}

var _ store.Store = (*Store)(nil)

// Name returns the inner store's name.
func (s *Store) Name() string {
	return s.inner.Name()
}

// Get returns the object for key from disk, or from the inner store on a
// miss. Concurrent misses of one key share a single inner read. The shared
// read ignores the cancellation of whichever caller started it; each caller
// stops waiting when its own ctx is done.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	id := objectID(s.inner.Name(), key)
	shared := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(id.Encoded(), func() (any, error) {
		path := s.cache.pathOf(id)
		if data, ok := s.cache.read(path); ok {
			return data, nil
		}
		data, err := s.inner.Get(shared, key)
		if err != nil {
			return nil, err
		}
		if err := s.cache.fill(path, data); err != nil {
			s.cache.log().Debug("disk cache fill failed", "store", s.inner.Name(), "key", key, "error", err)
		}
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, &store.TransientError{Store: s.inner.Name(), Key: key, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil //nolint:errcheck // the closure returns []byte when err is nil
	}
}

// objectID names the object of key in the store called name. Keys are
// canonicalized first so "a/b" and "/a/b" share an entry.
func objectID(name, key string) digest.Digest {
	return digest.FromString(name + "\x00" + store.Join(key))
}
