package background

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// TaskError records a failed background task.
type TaskError struct {
	Task string
	Err  error
	At   time.Time
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// Collector runs background tasks and keeps their failures until someone drains them.
// Failures are never retried and never reach the caller of Go.
type Collector struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	errors []TaskError
}

// NewCollector creates a collector whose tasks get a context derived from parent.
// The context is canceled by Stop.
func NewCollector(parent context.Context) *Collector {
	ctx, cancel := context.WithCancel(parent)
	return &Collector{ctx: ctx, cancel: cancel}
}

// Go runs fn on its own goroutine. A returned error or a panic is recorded under name.
func (c *Collector) Go(name string, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.record(name, fmt.Errorf("panic: %v", r))
			}
		}()

		if err := fn(c.ctx); err != nil {
			c.record(name, err)
		}
	}()
}

// Errors returns a snapshot of the recorded failures.
func (c *Collector) Errors() []TaskError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TaskError, len(c.errors))
	copy(out, c.errors)
	return out
}

// Drain returns the recorded failures and forgets them.
func (c *Collector) Drain() []TaskError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.errors
	c.errors = nil
	return out
}

// Wait blocks until every task started with Go has returned.
func (c *Collector) Wait() {
	c.wg.Wait()
}

// Stop cancels the tasks' context and waits for them to return.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Collector) record(name string, err error) {
	log.Printf("Background: task %s failed: %v", name, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, TaskError{Task: name, Err: err, At: time.Now()})
}
