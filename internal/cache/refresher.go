package cache

import (
	"errors"
	"sync"
)

var (
	ErrRefreshPending = errors.New("cache: refresh already pending")
	ErrQueueFull      = errors.New("cache: refresh queue full")
	ErrClosed         = errors.New("cache: refresher closed")
)

type refreshJob struct {
	key string
	run func()
}

// Refresher runs background refreshes on a fixed pool of workers fed by a
// bounded queue. At most one refresh per key is queued or running.
type Refresher struct {
	jobs chan refreshJob

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool

	workers sync.WaitGroup
	active  sync.WaitGroup
}

func NewRefresher(workers, queue int) *Refresher {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	r := &Refresher{
		jobs:    make(chan refreshJob, queue),
		pending: make(map[string]struct{}),
	}
	for i := 0; i < workers; i++ {
		r.workers.Add(1)
		go r.loop()
	}
	return r
}

// Schedule enqueues run for key without blocking.
func (r *Refresher) Schedule(key string, run func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.pending[key]; ok {
		return ErrRefreshPending
	}
	r.active.Add(1)
	select {
	case r.jobs <- refreshJob{key: key, run: run}:
		r.pending[key] = struct{}{}
		return nil
	default:
		r.active.Done()
		return ErrQueueFull
	}
}

func (r *Refresher) loop() {
	defer r.workers.Done()
	for job := range r.jobs {
		job.run()
		r.mu.Lock()
		delete(r.pending, job.key)
		r.mu.Unlock()
		r.active.Done()
	}
}

// Pending reports the number of queued or running refreshes.
func (r *Refresher) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Wait blocks until every scheduled refresh has finished.
func (r *Refresher) Wait() { r.active.Wait() }

// Close stops accepting work and waits for queued refreshes to drain.
func (r *Refresher) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.workers.Wait()
}
