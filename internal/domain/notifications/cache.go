package notifications

import "sync"

// queryCache holds query results for one session. Entries are a convenience
// only; any of them may be dropped and reloaded from the store.
type queryCache struct {
	mu      sync.Mutex
	entries map[string]any
}

func newQueryCache() *queryCache {
	return &queryCache{entries: map[string]any{}}
}

func (c *queryCache) invalidate() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

func (c *queryCache) drop(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func cached[T any](c *queryCache, key string, load func() (T, error)) (T, error) {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v.(T), nil
	}
	c.mu.Unlock()

	v, err := load()
	if err != nil {
		return v, err
	}
	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
	return v, nil
}

func feedKey(userID string) string     { return "feed:" + userID }
func receiptsKey(userID string) string { return "receipts:" + userID }
