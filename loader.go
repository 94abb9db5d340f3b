package pyramid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/pyramid/core/cache"
	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/core/fetch"
	"github.com/meigma/pyramid/core/loader"
	"github.com/meigma/pyramid/core/store"
	"github.com/meigma/pyramid/core/store/disk"
	"github.com/meigma/pyramid/internal/metrics"
)

// Block is a loaded cell.
type Block = loader.Block

// Origin records where a block's data came from.
type Origin = loader.Origin

// Block origins.
const (
	OriginStore  = loader.OriginStore
	OriginAbsent = loader.OriginAbsent
	OriginFailed = loader.OriginFailed
)

type state int32

const (
	stateClosed state = iota
	stateOpening
	stateOpen
)

// attempt is one in-progress open that other callers wait on.
type attempt struct {
	done chan struct{}
	err  error
}

// Loader is the entry point for one dataset. It opens lazily on first use,
// and any use after Close opens it again. It is safe for concurrent use.
type Loader struct {
	location string

	fetchers          int
	fetchTimeout      time.Duration
	maxPrefetch       *int
	retryFailed       bool
	logger            *slog.Logger
	registerer        prometheus.Registerer
	diskCacheDir      string
	diskCacheMaxBytes int64
	storeOpts         store.OpenOptions
	maxBlockBytes     *uint64
	store             store.Store

	metrics *metrics.Metrics

	state   atomic.Int32
	mu      sync.Mutex
	attempt *attempt
	session atomic.Pointer[session]
	opens   atomic.Int64
}

// New creates a closed loader for location: a local path, file://, s3:// or
// http(s):// URL of the dataset root. Nothing is read until first use.
func New(location string, opts ...Option) (*Loader, error) {
	l := &Loader{
		location: location,
		fetchers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		if _, err := store.ParseLocation(location); err != nil {
			return nil, err
		}
	}
	m, err := metrics.New(l.registerer, l.queueDepth)
	if err != nil {
		return nil, fmt.Errorf("pyramid: register metrics: %w", err)
	}
	l.metrics = m
	return l, nil
}

// Location returns the dataset location.
func (l *Loader) Location() string {
	return l.location
}

// IsOpen reports whether the loader is open.
func (l *Loader) IsOpen() bool {
	return state(l.state.Load()) == stateOpen
}

// Open reads the dataset metadata and starts the fetchers. Concurrent calls
// share one initialization; calling Open on an open loader is a no-op.
func (l *Loader) Open(ctx context.Context) error {
	_, err := l.acquire(ctx)
	return err
}

// acquire returns the open session, opening it if needed.
func (l *Loader) acquire(ctx context.Context) (*session, error) {
	for {
		if state(l.state.Load()) == stateOpen {
			if s := l.session.Load(); s != nil {
				return s, nil
			}
		}

		l.mu.Lock()
		switch state(l.state.Load()) {
		case stateOpen:
			s := l.session.Load()
			l.mu.Unlock()
			return s, nil

		case stateOpening:
			a := l.attempt
			l.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-a.done:
			}
			if a.err == nil {
				continue
			}
			// the opener gave up on its own context; try again on ours
			if isContextErr(a.err) && ctx.Err() == nil {
				continue
			}
			return nil, a.err

		default:
			l.state.CompareAndSwap(int32(stateClosed), int32(stateOpening))
			a := &attempt{done: make(chan struct{})}
			l.attempt = a
			l.mu.Unlock()

			s, err := l.open(ctx)

			l.mu.Lock()
			if err != nil {
				l.state.Store(int32(stateClosed))
			} else {
				l.session.Store(s)
				l.state.Store(int32(stateOpen))
			}
			a.err = err
			close(a.done)
			l.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
}

func (l *Loader) open(ctx context.Context) (*session, error) {
	start := time.Now()

	s, err := l.openStore(ctx)
	if err != nil {
		return nil, err
	}
	var codecOpts []codec.Option
	if l.maxBlockBytes != nil {
		codecOpts = append(codecOpts, codec.WithMaxBlockBytes(*l.maxBlockBytes))
	}
	reader, err := detectFormat(ctx, s, codec.New(codecOpts...))
	if err != nil {
		return nil, err
	}
	setups, err := buildSetups(ctx, reader)
	if err != nil {
		return nil, err
	}

	maxLevels := 1
	for _, st := range setups {
		maxLevels = max(maxLevels, st.desc.NumLevels())
	}
	var queueOpts []fetch.QueueOption
	if l.maxPrefetch != nil {
		queueOpts = append(queueOpts, fetch.WithMaxPrefetch(*l.maxPrefetch))
	}
	sched := fetch.NewScheduler(fetch.NewQueue(maxLevels, queueOpts...),
		fetch.WithFetchers(l.fetchers),
		fetch.WithTimeout(l.fetchTimeout),
		fetch.WithLogger(l.logger),
	)
	sess := &session{
		store:  s,
		reader: reader,
		setups: setups,
		sched:  sched,
		loader: loader.New(reader,
			loader.WithLogger(l.logger),
			loader.WithObserver(func(o loader.Origin, elapsed time.Duration) {
				l.metrics.Load(o.String(), elapsed)
			}),
		),
		cache: cache.New(sched,
			cache.WithRetryFailed(l.retryFailed),
			cache.WithLogger(l.logger),
			cache.WithObserver(func(st cache.Strategy, hit bool) {
				l.metrics.Request(st.String(), hit)
			}),
		),
	}
	sched.Start()

	l.opens.Add(1)
	l.metrics.Open()
	l.log().Debug("pyramid opened",
		"location", l.location,
		"store", s.Name(),
		"format", reader.Format(),
		"setups", len(setups),
		"levels", maxLevels,
		"fetchers", sched.Fetchers(),
		"elapsed", time.Since(start),
	)
	return sess, nil
}

func (l *Loader) openStore(ctx context.Context) (store.Store, error) {
	s := l.store
	if s == nil {
		var err error
		s, err = store.Open(ctx, l.location, l.storeOpts)
		if err != nil {
			return nil, err
		}
	}
	if l.diskCacheDir == "" {
		return s, nil
	}
	if _, local := s.(*store.FileStore); local {
		return s, nil
	}
	dc, err := disk.New(l.diskCacheDir, disk.WithMaxBytes(l.diskCacheMaxBytes), disk.WithLogger(l.logger))
	if err != nil {
		return nil, fmt.Errorf("pyramid: disk cache: %w", err)
	}
	return dc.Wrap(s), nil
}

// Close stops the fetchers and drops every cached block. Pending blocking
// requests are retried on a fresh open. Closing a closed loader is a no-op.
func (l *Loader) Close() error {
	for {
		l.mu.Lock()
		switch state(l.state.Load()) {
		case stateClosed:
			l.mu.Unlock()
			return nil
		case stateOpening:
			a := l.attempt
			l.mu.Unlock()
			<-a.done
		default:
			s := l.session.Swap(nil)
			l.state.Store(int32(stateClosed))
			l.mu.Unlock()
			s.close()
			l.log().Debug("pyramid closed", "location", l.location)
			return nil
		}
	}
}

// ClearCache drops every cached block without closing the loader.
func (l *Loader) ClearCache() {
	if s := l.session.Load(); s != nil {
		s.cache.Clear()
	}
}

// PrepareNextFrame starts a new frame: queued loads of the previous frame
// are demoted behind new requests, and volatile misses are queued again.
func (l *Loader) PrepareNextFrame() {
	if s := l.session.Load(); s != nil {
		s.cache.NextFrame()
		s.sched.Queue().ClearToPrefetch()
	}
}

// PauseFetchers keeps the fetchers from starting new loads for d, e.g.
// while the render thread needs the CPU.
func (l *Loader) PauseFetchers(d time.Duration) {
	if s := l.session.Load(); s != nil {
		s.sched.PauseFor(d)
	}
}

// Setups returns a loader per setup. A setup is one channel of one image.
func (l *Loader) Setups(ctx context.Context) ([]*SetupLoader, error) {
	s, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*SetupLoader, len(s.setups))
	for i, st := range s.setups {
		out[i] = &SetupLoader{loader: l, setup: st}
	}
	return out, nil
}

// Setup returns the loader of setup id.
func (l *Loader) Setup(ctx context.Context, id int) (*SetupLoader, error) {
	s, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(s.setups) {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnknownSetup, id, len(s.setups))
	}
	return &SetupLoader{loader: l, setup: s.setups[id]}, nil
}

// Stats reports loader counters.
type Stats struct {
	// Opens counts completed initializations.
	Opens int64
	Open  bool
	Cache cache.Stats
	// QueueDepth counts queued fetch jobs.
	QueueDepth int
	// ActiveFetches counts loads in progress.
	ActiveFetches int
}

// Stats returns a snapshot of the loader counters.
func (l *Loader) Stats() Stats {
	st := Stats{Opens: l.opens.Load()}
	if s := l.session.Load(); s != nil {
		st.Open = true
		st.Cache = s.cache.Stats()
		st.QueueDepth = s.sched.Queue().Len()
		st.ActiveFetches = s.sched.Active()
	}
	return st
}

func (l *Loader) queueDepth() float64 {
	if s := l.session.Load(); s != nil {
		return float64(s.sched.Queue().Len())
	}
	return 0
}

func (l *Loader) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.New(slog.DiscardHandler)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
