package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(prometheus.CounterOpts{
		Name: "collabdocs_cache_hits_total",
		Help: "Total document cache hits.",
	}, []string{"backend"})
	cacheMisses = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(prometheus.CounterOpts{
		Name: "collabdocs_cache_misses_total",
		Help: "Total document cache misses.",
	}, []string{"backend"})
	cacheWrites = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(prometheus.CounterOpts{
		Name: "collabdocs_cache_writes_total",
		Help: "Total document cache writes.",
	}, []string{"backend"})
	cacheInvalidations = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(prometheus.CounterOpts{
		Name: "collabdocs_cache_invalidations_total",
		Help: "Total document cache invalidations.",
	}, []string{"backend"})
)

// Stats tracks hit/miss/write/invalidation counts for one cache backend and
// exposes them to Prometheus, per spec §4.6's observability note. A nil
// *Stats is valid and records nothing, so callers don't need a guard.
type Stats struct {
	hits         prometheus.Counter
	misses       prometheus.Counter
	writes       prometheus.Counter
	invalidation prometheus.Counter
}

// NewStats returns the counter set for a cache backend identified by name
// (e.g. "memory", "redis").
func NewStats(backend string) *Stats {
	return &Stats{
		hits:         cacheHits.WithLabelValues(backend),
		misses:       cacheMisses.WithLabelValues(backend),
		writes:       cacheWrites.WithLabelValues(backend),
		invalidation: cacheInvalidations.WithLabelValues(backend),
	}
}

func (s *Stats) Hit() {
	if s == nil {
		return
	}
	s.hits.Inc()
}

func (s *Stats) Miss() {
	if s == nil {
		return
	}
	s.misses.Inc()
}

func (s *Stats) Write() {
	if s == nil {
		return
	}
	s.writes.Inc()
}

func (s *Stats) Invalidate() {
	if s == nil {
		return
	}
	s.invalidation.Inc()
}
