// Package cache provides an optional Redis-backed response cache for
// page requests, built around HTTP validators.
//
// The cache stores successful GET responses together with their ETag and
// Last-Modified headers. On a later run the transport sends conditional
// requests (If-None-Match / If-Modified-Since); a 304 Not Modified is
// answered from the cached body without re-downloading the page. Against
// APIs that emit validators this makes incremental and update runs cheap:
// unchanged pages cost one header exchange instead of a full body.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Method: "GET",
//		URL:    "https://api.example.org/items",
//		Params: url.Values{"page": []string{"3"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from origin
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// origin returns 304 when the page is unchanged
//	}
//
// # Metrics
//
//   - apibackuper_cache_hits_total{layer="redis"} - Cache hits
//   - apibackuper_cache_misses_total - Cache misses
//   - apibackuper_cache_size_bytes{layer="redis"} - Cache size
//   - apibackuper_304_responses_total - Conditional request successes
//   - apibackuper_cache_errors_total{operation} - Cache operation errors
//
// The cache is strictly optional: every error degrades to a direct
// request, never to a failed page.
package cache
