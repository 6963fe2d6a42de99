package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks page cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locmap_page_cache_hits_total",
			Help: "Total number of extraction page cache hits",
		},
	)

	// CacheMisses tracks page cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locmap_page_cache_misses_total",
			Help: "Total number of extraction page cache misses",
		},
	)

	// CacheStoredBytes tracks bytes written to the cache
	CacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "locmap_page_cache_stored_bytes_total",
			Help: "Total bytes of extraction pages written to the cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locmap_page_cache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
