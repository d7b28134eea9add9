package metrics

import (
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing atomic counter.
type Counter struct {
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add increments the counter by n.
func (c *Counter) Add(n int64) {
	c.value.Add(n)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.value.Load()
}

// Gauge is an atomic value that moves both ways.
type Gauge struct {
	value atomic.Int64
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Set sets the gauge to v.
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// Load returns the current value.
func (g *Gauge) Load() int64 {
	return g.value.Load()
}

// Timestamp holds the last time an event happened.
type Timestamp struct {
	nanos atomic.Int64
}

// Mark records t.
func (s *Timestamp) Mark(t time.Time) {
	s.nanos.Store(t.UnixNano())
}

// Load returns the recorded time, or the zero time if none.
func (s *Timestamp) Load() time.Time {
	n := s.nanos.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
