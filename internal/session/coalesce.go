package session

import "sync"

// coalescer runs fn on a background goroutine. Triggers that arrive while a run
// is in progress collapse into one follow-up run.
type coalescer struct {
	fn func()

	mu      sync.Mutex
	running bool
	pending bool
	idle    chan struct{}
}

func newCoalescer(fn func()) *coalescer {
	return &coalescer{fn: fn}
}

func (c *coalescer) Trigger() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.pending = true
		return
	}
	c.running = true
	c.idle = make(chan struct{})
	go c.loop()
}

func (c *coalescer) loop() {
	for {
		c.fn()

		c.mu.Lock()
		if !c.pending {
			c.running = false
			close(c.idle)
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()
	}
}

// Wait blocks until no run is in progress.
func (c *coalescer) Wait() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	idle := c.idle
	c.mu.Unlock()
	<-idle
}
