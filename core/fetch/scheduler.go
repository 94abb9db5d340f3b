package fetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs queued jobs on a fixed number of fetcher goroutines.
type Scheduler struct {
	queue    *Queue
	fetchers int
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	active atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFetchers sets the number of fetcher goroutines. Values < 1 mean 1.
func WithFetchers(n int) Option {
	return func(s *Scheduler) {
		s.fetchers = n
	}
}

// WithTimeout bounds every job with a deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// WithLogger sets the logger for fetcher lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler creates a stopped scheduler draining q.
func NewScheduler(q *Queue, opts ...Option) *Scheduler {
	s := &Scheduler{queue: q, fetchers: 1}
	for _, opt := range opts {
		opt(s)
	}
	s.fetchers = max(s.fetchers, 1)
	return s
}

// Queue returns the queue the scheduler drains.
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// Fetchers returns the number of fetcher goroutines.
func (s *Scheduler) Fetchers() int {
	return s.fetchers
}

// Active returns the number of jobs currently running.
func (s *Scheduler) Active() int {
	return int(s.active.Load())
}

// Start launches the fetchers. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := range s.fetchers {
		s.wg.Go(func() { s.fetch(ctx, i) })
	}
	s.log().Debug("fetchers started", "count", s.fetchers)
}

// Stop closes the queue and waits for the fetchers to exit. Jobs already
// running finish; queued jobs are dropped. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.queue.Close()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.queue.Close()
	s.wg.Wait()
	s.log().Debug("fetchers stopped")
}

// Submit enqueues job. See [Queue.Put].
func (s *Scheduler) Submit(job Job, priority int, front bool) error {
	return s.queue.Put(job, priority, front)
}

// PauseFor keeps the fetchers from starting new jobs for d. See
// [Queue.PauseFor].
func (s *Scheduler) PauseFor(d time.Duration) {
	s.queue.PauseFor(d)
}

func (s *Scheduler) fetch(ctx context.Context, id int) {
	for {
		job, err := s.queue.Take(ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				s.log().Warn("fetcher stopped", "fetcher", id, "error", err)
			}
			return
		}
		s.run(job)
	}
}

// run executes job detached from the fetcher's lifetime so a Stop lets it
// complete.
func (s *Scheduler) run(job Job) {
	s.active.Add(1)
	defer s.active.Add(-1)

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	job.Run(ctx)
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.New(slog.DiscardHandler)
}
