// Package dedupe drops inbound chat events that a transport delivers more
// than once within a time window.
package dedupe

import (
	"container/list"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/convoy/internal/chat"
)

const defaultMaxSize = 10_000

type entry struct {
	seen    time.Time
	element *list.Element
}

// Cache remembers event keys for ttl, evicting the oldest key once maxSize
// is reached.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts its background sweeper. A non-positive ttl
// disables deduplication.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.sweep()
	}
	return c
}

// Key derives the dedupe key of ev from its timestamp, conversation, sender
// and text.
func Key(ev chat.Event) string {
	h := blake3.New()
	for _, part := range []string{
		strconv.FormatInt(ev.Timestamp.UnixNano(), 10),
		ev.Conversation.String(),
		ev.Sender,
		ev.Text,
	} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Seen reports whether ev was already seen within the window, and marks it
// seen otherwise.
func (c *Cache) Seen(ev chat.Event) bool {
	return c.CheckAndMark(Key(ev))
}

// CheckAndMark reports whether key is a live duplicate and marks it if not.
func (c *Cache) CheckAndMark(key string) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[key]; ok {
		if now.Sub(e.seen) < c.ttl {
			return true
		}
		e.seen = now
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(string))
		}
	}
	c.seen[key] = &entry{seen: now, element: c.order.PushBack(key)}
	return false
}

// Len returns the number of remembered keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.expire()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.seen[key].seen) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
