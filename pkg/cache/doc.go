// Package cache provides a Redis-backed cache for extraction pages.
//
// Extracting addresses from a page is expensive on the service side (scraping,
// address extraction and geocoding), so the poll transport can keep each page
// body for a while and answer repeated runs on the same URL locally.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{URL: "https://example.com/venues?page=2"}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the service
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp, cache.DefaultTTL)
//	if err != nil {
//		return err
//	}
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// The entry lifetime comes from Cache-Control max-age, then Expires, then the
// default TTL passed by the caller. Responses marked no-store are never cached.
//
// # Metrics
//
//   - locmap_page_cache_hits_total - Cache hits
//   - locmap_page_cache_misses_total - Cache misses
//   - locmap_page_cache_stored_bytes_total - Bytes written to Redis
//   - locmap_page_cache_errors_total{operation} - Cache operation errors
package cache
