// Package shutdown provides a one-shot stop signal that also closes every
// resource registered with it.
package shutdown

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Coordinator broadcasts a stop signal to loops and closes tracked resources
// exactly once. The zero value is not usable; call New.
type Coordinator struct {
	done     chan struct{}
	finished chan struct{}
	once     sync.Once

	mu      sync.Mutex
	nextID  uint64
	closers map[uint64]io.Closer
	err     error
}

// New returns a running Coordinator.
func New() *Coordinator {
	return &Coordinator{
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		closers:  make(map[uint64]io.Closer),
	}
}

// Done is closed when Stop is first called.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Stopping reports whether Stop has been called.
func (c *Coordinator) Stopping() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Context returns a child of parent that is cancelled when Stop is called.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Track registers r to be closed by Stop. The returned function unregisters
// it without closing. Track returns false, and registers nothing, once Stop
// has begun; the caller still owns r.
func (c *Coordinator) Track(r io.Closer) (untrack func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Stopping() {
		return func() {}, false
	}
	id := c.nextID
	c.nextID++
	c.closers[id] = r

	return func() {
		c.mu.Lock()
		delete(c.closers, id)
		c.mu.Unlock()
	}, true
}

// Tracked returns the number of registered resources.
func (c *Coordinator) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.closers)
}

// Stop signals Done and closes every tracked resource concurrently, waiting
// for all of them. Later calls wait for the first one to finish, or for ctx.
// The returned error joins the close errors.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		close(c.done)
		closers := make([]io.Closer, 0, len(c.closers))
		for id, r := range c.closers {
			closers = append(closers, r)
			delete(c.closers, id)
		}
		c.mu.Unlock()

		go c.closeAll(closers)
	})

	select {
	case <-c.finished:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) closeAll(closers []io.Closer) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range closers {
		wg.Add(1)
		go func(r io.Closer) {
			defer wg.Done()
			if err := r.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	c.mu.Lock()
	c.err = errors.Join(errs...)
	c.mu.Unlock()
	close(c.finished)
}
