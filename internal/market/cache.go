package market

// Cache memoizes values for the lifetime of one weekly tick. When it grows
// past its limit it is emptied instead of evicting single entries.
type Cache[K comparable, V any] struct {
	max    int
	store  map[K]V
	hits   int
	misses int
	resets int
}

func NewCache[K comparable, V any](max int) *Cache[K, V] {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache[K, V]{max: max, store: make(map[K]V)}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.store[key]
	return v, ok
}

func (c *Cache[K, V]) Put(key K, value V) {
	if _, ok := c.store[key]; !ok && len(c.store) >= c.max {
		c.store = make(map[K]V)
		c.resets++
	}
	c.store[key] = value
}

// GetOrCompute returns the cached value or stores the result of fn. Errors
// are not cached.
func (c *Cache[K, V]) GetOrCompute(key K, fn func() (V, error)) (V, error) {
	if v, ok := c.store[key]; ok {
		c.hits++
		return v, nil
	}
	c.misses++
	v, err := fn()
	if err != nil {
		return v, err
	}
	c.Put(key, v)
	return v, nil
}

func (c *Cache[K, V]) Clear() {
	c.store = make(map[K]V)
	c.hits, c.misses = 0, 0
}

func (c *Cache[K, V]) Len() int {
	return len(c.store)
}

type CacheStats struct {
	Hits   int
	Misses int
	Resets int
}

func (c *Cache[K, V]) Stats() CacheStats {
	return CacheStats{Hits: c.hits, Misses: c.misses, Resets: c.resets}
}
