// Package background runs fire-and-forget tasks triggered from request
// handlers (on-demand collector fetches) without blocking the response.
// A fixed worker pool consuming a bounded queue keeps concurrency and
// memory bounded and allows a graceful drain on shutdown.
package background

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrQueueFull is returned by Submit when the task queue is at capacity.
var ErrQueueFull = errors.New("background: task queue is full")

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("background: pool is shutting down")

// Task is a named unit of background work.
type Task struct {
	Name string
	Run  func()
}

// Pool executes submitted tasks on a fixed set of workers.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines consuming a queue of queueSize tasks.
func NewPool(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{tasks: make(chan Task, queueSize)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.runTask(task)
	}
}

func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Background task %s panicked: %v", task.Name, r)
		}
	}()
	task.Run()
}

// Submit enqueues a task without blocking. A full queue is an error the
// caller can surface (HTTP 503) rather than unbounded goroutine growth.
// The mutex is held across the send so Shutdown cannot close the channel
// between the closed check and the send.
func (p *Pool) Submit(name string, fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShuttingDown
	}

	select {
	case p.tasks <- Task{Name: name, Run: fn}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued work to drain,
// or returns early when ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
