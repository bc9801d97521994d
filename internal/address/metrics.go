package address

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "safetransfer",
		Name:      "derivation_cache_hits_total",
		Help:      "Program address derivations served from cache.",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "safetransfer",
		Name:      "derivation_cache_misses_total",
		Help:      "Program address derivations that ran the bump search.",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses)
}
