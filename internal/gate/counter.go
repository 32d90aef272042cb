package gate

import "sync"

// Counter tracks how many workers are active in one conversation.
//
// The exclusive flag lives here rather than on Gate so that Enter can check it
// and increment the count under one lock. Checking and incrementing under
// separate locks would let a worker start between "no session held" and
// "count++" and run next to a session that believes it is alone.
type Counter struct {
	mu      sync.Mutex
	changed *sync.Cond

	active     int
	contenders int
	exclusive  bool
}

// NewCounter returns an idle counter.
func NewCounter() *Counter {
	c := &Counter{}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Enter blocks while an exclusive session is held, then counts the caller as
// active.
func (c *Counter) Enter() {
	c.mu.Lock()
	for c.exclusive {
		c.changed.Wait()
	}
	c.active++
	c.mu.Unlock()
}

// Exit counts the caller as no longer active and wakes any drain waiter.
func (c *Counter) Exit() {
	c.mu.Lock()
	if c.active == 0 {
		c.mu.Unlock()
		panic("gate: Exit without matching Enter")
	}
	c.active--
	c.mu.Unlock()
	c.changed.Broadcast()
}

// DrainToOne blocks until the caller is the only active worker, not counting
// workers that are mid-attempt at exclusivity. The caller must have entered.
func (c *Counter) DrainToOne() {
	c.mu.Lock()
	for c.active-c.contenders > 1 {
		c.changed.Wait()
	}
	c.mu.Unlock()
}

// Active returns the number of workers currently entered.
func (c *Counter) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Counter) beginAttempt() {
	c.mu.Lock()
	c.contenders++
	c.mu.Unlock()
}

func (c *Counter) endAttempt() {
	c.mu.Lock()
	c.contenders--
	c.mu.Unlock()
	c.changed.Broadcast()
}

// tryHold sets the exclusive flag if it is clear.
func (c *Counter) tryHold() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exclusive {
		return false
	}
	c.exclusive = true
	return true
}

// release clears the exclusive flag. It reports whether the flag was set.
func (c *Counter) release() bool {
	c.mu.Lock()
	was := c.exclusive
	c.exclusive = false
	c.mu.Unlock()
	if was {
		c.changed.Broadcast()
	}
	return was
}

func (c *Counter) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Active: c.active, Contenders: c.contenders, Held: c.exclusive}
}
