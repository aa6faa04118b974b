// Package worker provides a generic worker pool for concurrent task execution.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBackpressure is returned when a job cannot be enqueued because the
// queue is full.
var ErrBackpressure = errors.New("worker pool queue is full")

// DropPolicy controls what Submit does when the queue is full.
type DropPolicy int

const (
	// DropPolicyBlock makes Submit wait until queue space is available.
	DropPolicyBlock DropPolicy = iota
	// DropPolicyNewest makes Submit reject the incoming job with
	// ErrBackpressure when the queue is full.
	DropPolicyNewest
)

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID is an optional identifier for the job (useful for logging/debugging)
	ID string
	// Execute is the function to run. It receives a context and returns a result and error.
	Execute func(ctx context.Context) (interface{}, error)
}

// Result represents the outcome of a job execution.
type Result struct {
	// JobID is the ID of the job that produced this result
	JobID string
	// Value is the result of the job execution (nil if error)
	Value interface{}
	// Err is the error from job execution (nil if successful)
	Err error
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	DropPolicy DropPolicy
}

// PoolStats is a snapshot of the pool's counters.
type PoolStats struct {
	JobsSubmitted int64
	JobsCompleted int64
	JobsDropped   int64
}

// Pool is a worker pool that processes jobs concurrently.
// It maintains a fixed number of worker goroutines that pull jobs from a queue.
type Pool struct {
	workers    int
	dropPolicy DropPolicy
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	dropped   atomic.Int64
}

// NewPool creates a new worker pool with the default blocking drop policy.
// The pool starts immediately and workers begin waiting for jobs.
//
// Example:
//
//	pool := worker.NewPool(ctx, 4, 100)
//	defer pool.Close()
//	pool.Submit(worker.Job{ID: "job1", Execute: func(ctx) (interface{}, error) { ... }})
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	return NewPoolWithConfig(ctx, PoolConfig{
		Workers:   workers,
		QueueSize: queueSize,
	})
}

// NewPoolWithConfig creates and starts a pool. Zero or negative workers
// defaults to 1, a negative queue size to unbuffered.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	resultBuf := cfg.QueueSize
	if resultBuf < 1 {
		resultBuf = 1
	}

	p := &Pool{
		workers:    cfg.Workers,
		dropPolicy: cfg.DropPolicy,
		jobQueue:   make(chan Job, cfg.QueueSize),
		results:    make(chan Result, resultBuf),
		ctx:        poolCtx,
		cancel:     cancel,
	}

	// Start workers
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// worker is the main worker goroutine loop.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return // Queue closed
			}
			value, err := job.Execute(p.ctx)
			p.completed.Add(1)
			// Send result (non-blocking if channel full, result is dropped)
			select {
			case p.results <- Result{JobID: job.ID, Value: value, Err: err}:
			default:
				// Results channel full, drop result
			}
		}
	}
}

// Submit adds a job to the pool's queue.
// Under DropPolicyBlock it blocks until space is available or the context
// is cancelled. Under DropPolicyNewest a full queue returns ErrBackpressure.
func (p *Pool) Submit(job Job) error {
	if p.closed.Load() {
		return errors.New("worker pool is closed")
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	default:
	}

	if p.dropPolicy == DropPolicyNewest {
		select {
		case p.jobQueue <- job:
			p.submitted.Add(1)
			return nil
		default:
			p.dropped.Add(1)
			return ErrBackpressure
		}
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return nil
	}
}

// TrySubmit adds a job without blocking. A full queue returns
// ErrBackpressure regardless of the drop policy.
func (p *Pool) TrySubmit(job Job) error {
	if p.closed.Load() {
		return errors.New("worker pool is closed")
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrBackpressure
	}
}

// SubmitAndWait submits multiple jobs and waits for all results.
// Returns results in the order they complete (not submission order).
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	results := make([]Result, 0, len(jobs))

	var collect sync.WaitGroup
	collect.Add(1)
	go func() {
		defer collect.Done()
		for i := 0; i < len(jobs); i++ {
			select {
			case <-p.ctx.Done():
				return
			case result := <-p.results:
				results = append(results, result)
			}
		}
	}()

	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			// The collector would otherwise wait on a result that never
			// arrives; surface the submit failure in its place.
			select {
			case p.results <- Result{JobID: job.ID, Err: err}:
			case <-p.ctx.Done():
			}
		}
	}

	collect.Wait()
	return results
}

// Results returns the results channel for consuming job results.
// Callers should read from this channel to receive job outcomes.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		JobsSubmitted: p.submitted.Load(),
		JobsCompleted: p.completed.Load(),
		JobsDropped:   p.dropped.Load(),
	}
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// QueueLen returns the current number of jobs waiting in the queue.
func (p *Pool) QueueLen() int {
	return len(p.jobQueue)
}

// DropPolicy returns the configured drop policy.
func (p *Pool) DropPolicy() DropPolicy {
	return p.dropPolicy
}

// Close gracefully shuts down the pool.
// It stops accepting new jobs and waits for all workers to finish.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.wg.Wait()
}
