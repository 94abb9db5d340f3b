package fetch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultMaxPrefetch bounds the prefetch deque.
const DefaultMaxPrefetch = 1024

// ErrClosed is returned by a closed Queue.
var ErrClosed = errors.New("fetch: queue closed")

// Job is one unit of fetch work.
type Job struct {
	// Run performs the fetch.
	Run func(ctx context.Context)
	// Drop, when set, is called instead of Run if the queue discards the
	// job: when it falls off the prefetch deque or the queue closes.
	Drop func()
	// Pinned jobs stay at their priority through ClearToPrefetch.
	Pinned bool
}

func (j Job) drop() {
	if j.Drop != nil {
		j.Drop()
	}
}

// deque holds jobs pushed at either end. Front pushes live on a stack so
// both ends are amortized O(1).
type deque struct {
	front []Job
	back  []Job
	head  int
}

func (d *deque) len() int {
	return len(d.front) + len(d.back) - d.head
}

func (d *deque) pushFront(j Job) {
	d.front = append(d.front, j)
}

func (d *deque) pushBack(j Job) {
	d.back = append(d.back, j)
}

func (d *deque) popFront() (Job, bool) {
	if n := len(d.front); n > 0 {
		j := d.front[n-1]
		d.front[n-1] = Job{}
		d.front = d.front[:n-1]
		return j, true
	}
	if d.head < len(d.back) {
		j := d.back[d.head]
		d.back[d.head] = Job{}
		d.head++
		if d.head == len(d.back) {
			d.back, d.head = d.back[:0], 0
		}
		return j, true
	}
	return Job{}, false
}

// drain removes every job in pop order.
func (d *deque) drain() []Job {
	out := make([]Job, 0, d.len())
	for {
		j, ok := d.popFront()
		if !ok {
			return out
		}
		out = append(out, j)
	}
}

// Queue is a multi-priority job queue. It is safe for concurrent use.
type Queue struct {
	mu          sync.Mutex
	levels      []deque
	prefetch    deque
	maxPrefetch int
	closed      bool
	pausedUntil time.Time

	ready chan struct{}
	done  chan struct{}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithMaxPrefetch bounds the prefetch deque. Values <= 0 disable
// prefetching: demoted jobs are dropped.
func WithMaxPrefetch(n int) QueueOption {
	return func(q *Queue) {
		q.maxPrefetch = max(n, 0)
	}
}

// NewQueue creates a queue with priorities 0..priorities-1.
func NewQueue(priorities int, opts ...QueueOption) *Queue {
	q := &Queue{
		levels:      make([]deque, max(priorities, 1)),
		maxPrefetch: DefaultMaxPrefetch,
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Priorities returns the number of priority deques.
func (q *Queue) Priorities() int {
	return len(q.levels)
}

// Put enqueues job at priority, clamped to the valid range. front puts it
// ahead of every job already waiting at that priority.
func (q *Queue) Put(job Job, priority int, front bool) error {
	priority = min(max(priority, 0), len(q.levels)-1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if front {
		q.levels[priority].pushFront(job)
	} else {
		q.levels[priority].pushBack(job)
	}
	q.mu.Unlock()

	q.signal()
	return nil
}

// Take removes and returns the next job, blocking until one is available
// and no pause is in effect, ctx is done or the queue closes.
func (q *Queue) Take(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Job{}, ErrClosed
		}
		if wait := time.Until(q.pausedUntil); wait > 0 {
			q.mu.Unlock()
			if err := q.sleep(ctx, wait); err != nil {
				return Job{}, err
			}
			continue
		}
		job, ok := q.pop()
		more := q.lenLocked() > 0
		q.mu.Unlock()

		if ok {
			if more {
				// pass the wakeup on to the next taker
				q.signal()
			}
			return job, nil
		}

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.done:
			return Job{}, ErrClosed
		case <-q.ready:
		}
	}
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case <-t.C:
		return nil
	}
}

// PauseFor holds back every Take for d. Pauses extend but never shorten an
// earlier pause.
func (q *Queue) PauseFor(d time.Duration) {
	until := time.Now().Add(d)
	q.mu.Lock()
	defer q.mu.Unlock()
	if until.After(q.pausedUntil) {
		q.pausedUntil = until
	}
}

func (q *Queue) pop() (Job, bool) {
	for i := range q.levels {
		if j, ok := q.levels[i].popFront(); ok {
			return j, true
		}
	}
	return q.prefetch.popFront()
}

// ClearToPrefetch moves every queued job that is not pinned to the prefetch
// deque, in the order they would have run. When the deque overflows the
// oldest prefetch jobs are dropped.
func (q *Queue) ClearToPrefetch() {
	q.mu.Lock()
	for i := range q.levels {
		for _, j := range q.levels[i].drain() {
			if j.Pinned {
				q.levels[i].pushBack(j)
				continue
			}
			q.prefetch.pushBack(j)
		}
	}
	var dropped []Job
	for q.prefetch.len() > q.maxPrefetch {
		j, _ := q.prefetch.popFront()
		dropped = append(dropped, j)
	}
	q.mu.Unlock()

	for _, j := range dropped {
		j.drop()
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *Queue) lenLocked() int {
	n := q.prefetch.len()
	for i := range q.levels {
		n += q.levels[i].len()
	}
	return n
}

// Close wakes every Take and drops the queued jobs. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	var dropped []Job
	for i := range q.levels {
		dropped = append(dropped, q.levels[i].drain()...)
	}
	dropped = append(dropped, q.prefetch.drain()...)
	q.mu.Unlock()

	for _, j := range dropped {
		j.drop()
	}
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
