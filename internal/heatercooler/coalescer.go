package heatercooler

import (
	"sync"
	"time"
)

// DefaultWriteDebounce is the quiet period after the last write request.
const DefaultWriteDebounce = 100 * time.Millisecond

// Coalescer collapses bursts of write requests into one write cycle.
//
// Each Request restarts the debounce timer. When the timer fires without an
// intervening Request, the write function runs once. Write cycles never
// overlap; a cycle triggered while another runs waits for it.
type Coalescer struct {
	window time.Duration
	write  func()

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64 // incremented by every Request
	inFlight bool
	stopped  bool

	// runMu serialises write cycles.
	runMu sync.Mutex
}

// NewCoalescer creates a Coalescer that calls write after window of quiet.
// A window of zero selects DefaultWriteDebounce.
func NewCoalescer(window time.Duration, write func()) *Coalescer {
	if window <= 0 {
		window = DefaultWriteDebounce
	}
	return &Coalescer{window: window, write: write}
}

// Request schedules a write cycle, absorbing any cycle not yet started.
// The in-flight flag is raised immediately.
func (c *Coalescer) Request() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.gen++
	c.inFlight = true
	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.gen
	c.timer = time.AfterFunc(c.window, func() { c.fire(gen) })
}

// InFlight reports whether a write cycle is pending or executing.
func (c *Coalescer) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Stop cancels a pending cycle and rejects further requests.
// A cycle already executing is waited for.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.inFlight = false
	c.mu.Unlock()

	c.runMu.Lock()
	defer c.runMu.Unlock()
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	// A newer Request replaced this timer after it had already fired.
	if gen != c.gen || c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.runMu.Lock()
	c.write()
	c.runMu.Unlock()

	c.mu.Lock()
	if gen == c.gen {
		c.inFlight = false
	}
	c.mu.Unlock()
}
