package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_signed_url_cache_hits_total",
		Help: "Signed-URL requests served from the cache without a mint.",
	})
	signerCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_signed_url_cache_misses_total",
		Help: "Signed-URL requests that minted a fresh URL.",
	})
	signerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_signed_url_failures_total",
		Help: "Presign attempts that failed; the affected item degrades, the page still renders.",
	})
	listingCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_listing_cache_hits_total",
		Help: "Bucket enumerations served from the short-window listing cache.",
	})
	listingCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_listing_cache_misses_total",
		Help: "Bucket enumerations that hit the blob store.",
	})
	worksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_works_ingested_total",
		Help: "Work rows created by the ingestion endpoint.",
	})
	worksReverified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_works_reverified_total",
		Help: "Ingestion upserts that matched an existing (agent, ordinal) row.",
	})
)
