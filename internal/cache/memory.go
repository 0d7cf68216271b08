package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is a fixed-size in-process Cache. When the entry count reaches the
// capacity the least recently used entry is evicted. Used by tests and as a
// fallback when Redis is not configured.
type Memory struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemory creates a Memory cache holding at most max entries.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 1024
	}
	return &Memory{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeLocked(el)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	val := make([]byte, len(entry.value))
	copy(val, entry.value)
	return val, true, nil
}

func (c *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	for len(c.entries) >= c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}

	el := c.order.PushFront(&memoryEntry{key: key, value: stored, expiresAt: expiresAt})
	c.entries[key] = el
	return nil
}

func (c *Memory) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

func (c *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
}
