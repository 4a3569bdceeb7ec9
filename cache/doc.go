// Package cache provides an in-memory cache with adaptive TTLs.
//
// Entries that are hit often live longer: each hit recomputes the entry TTL
// from its hit rate, growing it from the base TTL toward a bounded maximum,
// and an entry's expiry never moves earlier because of an access. When the
// cache is full, the oldest fifth of the entries is evicted in one batch to
// avoid evicting on every subsequent insert.
//
// Expired entries are purged lazily on access and by a periodic sweeper:
//
//	c := cache.New[string](cache.Config{Name: "responses"})
//	c.Start()
//	defer c.Stop()
//
//	c.Set("prompt", "completion")
//	if v, ok := c.Get("prompt"); ok {
//	    use(v)
//	}
package cache
