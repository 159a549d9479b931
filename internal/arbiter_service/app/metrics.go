package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	claimsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "claims_processed_total",
			Help:      "Per-number claim arbitration outcomes.",
		},
		[]string{"outcome"}, // "allowed", "denied"
	)

	escalationsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "token_escalations_total",
			Help:      "Capability tokens escalated after a won claim.",
		},
	)

	unregistersCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "unregisters_processed_total",
			Help:      "Per-number unregister outcomes.",
		},
		[]string{"outcome"}, // "unregistered", "not_owner"
	)

	bearerCacheCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "bearer_cache_requests_total",
			Help:      "Credential cache lookups by result.",
		},
		[]string{"result"}, // "hit", "miss"
	)

	upstreamFetchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "upstream_token_fetches_total",
			Help:      "Upstream vendor token fetches by outcome.",
		},
		[]string{"outcome"}, // "success", "auth_error", "transient_error"
	)
)
