package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(cfg Config) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := New(cfg)
	tr.timeNow = clock.Now
	return tr, clock
}

func TestIsRateLimited(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(Config{MaxRequests: 5})

	for i := 0; i < 5; i++ {
		if tr.IsRateLimited("10.0.0.1:1000") {
			t.Fatalf("request %d limited, want allowed", i+1)
		}
	}
	if !tr.IsRateLimited("10.0.0.1:1000") {
		t.Fatalf("request 6 allowed, want limited")
	}
	if !tr.IsBlocked("10.0.0.1:1000") {
		t.Errorf("IsBlocked() = false after exceeding the limit")
	}
	if tr.IsRateLimited("10.0.0.2:1000") {
		t.Errorf("second address affected by the first one's limit")
	}
}

func TestBlockExpires(t *testing.T) {
	t.Parallel()

	tr, clock := newTestTracker(Config{MaxRequests: 1, Window: time.Second, BlockDuration: 2 * time.Second})
	addr := "10.0.0.1:1000"

	tr.IsRateLimited(addr)
	if !tr.IsRateLimited(addr) {
		t.Fatalf("second request allowed")
	}

	clock.Advance(time.Second)
	if !tr.IsBlocked(addr) || !tr.IsRateLimited(addr) {
		t.Fatalf("block lifted early")
	}

	clock.Advance(1500 * time.Millisecond)
	if tr.IsBlocked(addr) {
		t.Fatalf("block did not expire")
	}
	if tr.IsRateLimited(addr) {
		t.Errorf("request after block and window expiry was limited")
	}
}

func TestBlockedRequestsNotRecorded(t *testing.T) {
	t.Parallel()

	tr, clock := newTestTracker(Config{MaxRequests: 2, Window: 10 * time.Second, BlockDuration: time.Second})
	addr := "10.0.0.1:1000"

	for i := 0; i < 3; i++ {
		tr.IsRateLimited(addr)
	}
	for i := 0; i < 50; i++ {
		tr.IsRateLimited(addr)
	}

	// The window still holds the three pre-block requests, so the next one
	// trips the limit again. The blocked calls above must not have added to it.
	clock.Advance(2 * time.Second)
	if !tr.IsRateLimited(addr) {
		t.Fatalf("window lost its requests")
	}

	clock.Advance(11 * time.Second)
	if tr.IsRateLimited(addr) {
		t.Errorf("limited after the window passed")
	}
}

func TestIsBlockedIsPure(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(Config{MaxRequests: 1})
	addr := "10.0.0.1:1000"

	for i := 0; i < 10; i++ {
		if tr.IsBlocked(addr) {
			t.Fatalf("IsBlocked() = true for a fresh address")
		}
	}
	if tr.IsRateLimited(addr) {
		t.Errorf("IsBlocked() consumed request budget")
	}
}

func TestConnectionSlots(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(Config{MaxConnections: 1})
	a, b := "10.0.0.1:1000", "10.0.0.2:1000"

	if !tr.CanConnect(a) {
		t.Fatalf("CanConnect() = false with no sessions")
	}
	tr.Authenticate(a)
	tr.Authenticate(a)
	if got := tr.ActiveConnections(); got != 1 {
		t.Fatalf("ActiveConnections() = %d after repeated Authenticate, want 1", got)
	}
	if tr.CanConnect(b) {
		t.Fatalf("CanConnect() = true for a second address")
	}

	tr.Disconnect(a)
	tr.Disconnect(a)
	if got := tr.ActiveConnections(); got != 0 {
		t.Fatalf("ActiveConnections() = %d after Disconnect, want 0", got)
	}
	if !tr.CanConnect(b) {
		t.Errorf("CanConnect() = false after the first address disconnected")
	}

	tr.Disconnect("10.9.9.9:1")
	if got := tr.ActiveConnections(); got != 0 {
		t.Errorf("Disconnect() of an unknown address changed the count to %d", got)
	}
}

func TestAcquire(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(Config{MaxConnections: 1})
	a, b := "10.0.0.1:1000", "10.0.0.2:1000"

	if !tr.Acquire(a) {
		t.Fatalf("Acquire() = false with a free slot")
	}
	if !tr.Acquire(a) {
		t.Fatalf("Acquire() = false for the slot holder")
	}
	if tr.Acquire(b) {
		t.Fatalf("Acquire() = true with no free slot")
	}
	if got := tr.ActiveConnections(); got != 1 {
		t.Fatalf("ActiveConnections() = %d, want 1", got)
	}

	tr.Disconnect(a)
	if !tr.Acquire(b) {
		t.Errorf("Acquire() = false after the slot was released")
	}
}

func TestAcquireRace(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(Config{MaxConnections: 1})

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if tr.Acquire(fmt.Sprintf("10.0.0.%d:1000", i)) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("%d goroutines acquired the single slot", won)
	}
}

func TestIdlePurge(t *testing.T) {
	t.Parallel()

	tr, clock := newTestTracker(Config{MaxConnections: 1})
	a, b := "10.0.0.1:1000", "10.0.0.2:1000"

	tr.Authenticate(a)
	clock.Advance(4 * time.Minute)
	tr.Touch(a)
	clock.Advance(4 * time.Minute)
	if tr.CanConnect(b) {
		t.Fatalf("touched session purged early")
	}

	clock.Advance(2 * time.Minute)
	if !tr.CanConnect(b) {
		t.Fatalf("idle session not purged")
	}
	if tr.Tracked() != 0 {
		t.Errorf("Tracked() = %d after purge, want 0", tr.Tracked())
	}
}

func TestPurgeOnEveryCheck(t *testing.T) {
	t.Parallel()

	tr, clock := newTestTracker(Config{MaxConnections: 1})
	a, b := "10.0.0.1:1000", "10.0.0.2:1000"

	tr.Authenticate(a)
	clock.Advance(5*time.Minute - time.Second)
	if tr.CanConnect(b) {
		t.Fatalf("session purged before the idle timeout")
	}

	clock.Advance(2 * time.Second)
	if !tr.CanConnect(b) {
		t.Fatalf("idle session survived a check two seconds after the previous one")
	}
	if tr.Tracked() != 0 {
		t.Errorf("Tracked() = %d, want 0", tr.Tracked())
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTracker(Config{MaxConnections: 1, MaxRequests: 1_000_000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("10.0.0.%d:1000", i)
			for j := 0; j < 100; j++ {
				tr.IsRateLimited(addr)
				tr.Authenticate(addr)
				tr.Disconnect(addr)
			}
		}(i)
	}
	wg.Wait()

	if got := tr.ActiveConnections(); got != 0 {
		t.Errorf("ActiveConnections() = %d, want 0", got)
	}
}
