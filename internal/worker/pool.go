// Package worker provides the fixed-size delivery pool streams use to
// parallelize per-session work. Tasks are routed by key to a fixed worker,
// so tasks sharing a key always run in submission order.
package worker

import (
	"errors"
	"sync"
)

// taskQueueSize bounds each worker's queue. A full queue drops the task
// rather than blocking the submitter: a slow session must never stall
// ingest.
const taskQueueSize = 256

var (
	// ErrAlreadyProvisioned is returned by Provision on a live pool.
	ErrAlreadyProvisioned = errors.New("worker: pool already provisioned")

	// ErrBadSize is returned by Provision for a non-positive worker count.
	ErrBadSize = errors.New("worker: pool size must be positive")
)

type worker struct {
	tasks chan func()
}

// Pool is a fixed-size worker pool with keyed submission.
type Pool struct {
	mu      sync.Mutex
	workers []*worker
	wg      sync.WaitGroup
	closed  bool
}

// NewPool creates an unprovisioned pool. Submit fails until Provision.
func NewPool() *Pool {
	return &Pool{}
}

// Provision starts n workers. It fails on a pool that is already
// provisioned or shut down.
func (p *Pool) Provision(n int) error {
	if n <= 0 {
		return ErrBadSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.workers != nil {
		return ErrAlreadyProvisioned
	}

	for i := 0; i < n; i++ {
		w := &worker{tasks: make(chan func(), taskQueueSize)}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range w.tasks {
				task()
			}
		}()
	}
	return nil
}

// Size returns the number of workers, zero when unprovisioned.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Submit routes task to the worker that owns key and reports whether it
// was accepted. It never blocks: a full queue, an unprovisioned pool, or
// a shut-down pool all return false.
func (p *Pool) Submit(key uint64, task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.workers) == 0 {
		return false
	}

	w := p.workers[key%uint64(len(p.workers))]
	select {
	case w.tasks <- task:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks, drains everything already queued, and
// waits for the workers to exit. Safe to call at any time, including
// concurrently with Submit; idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
