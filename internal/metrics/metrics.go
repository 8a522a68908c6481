// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts pages returned by the remote source by edge kind.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkgraph_pages_fetched_total",
		Help: "Pages fetched from the remote source by edge kind",
	}, []string{"kind"})

	// NullEntriesDropped counts tombstoned entries removed from pages.
	NullEntriesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkgraph_null_entries_dropped_total",
		Help: "Null or deleted entries filtered out of fetched pages",
	}, []string{"kind"})

	// FetchRetries counts retried remote calls by reason.
	FetchRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkgraph_fetch_retries_total",
		Help: "Remote calls retried by reason (secondary, primary, transient)",
	}, []string{"reason"})

	// ItemsMerged counts records merged into the graph by edge kind.
	ItemsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkgraph_items_merged_total",
		Help: "Records merged into the graph by edge kind",
	}, []string{"kind"})

	// MergeConflicts counts records skipped because of store constraint violations.
	MergeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkgraph_merge_conflicts_total",
		Help: "Records skipped because of store constraint violations",
	}, []string{"kind"})

	// SyncRounds counts pagination rounds by result.
	SyncRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkgraph_sync_rounds_total",
		Help: "Pagination rounds by result",
	}, []string{"result"})

	// SyncDuration tracks whole repository syncs.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forkgraph_sync_duration_seconds",
		Help:    "Repository sync duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1s to ~4.5h
	}, []string{"result"})

	// PatchResolutions counts per-fork patch resolutions by outcome.
	PatchResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forkgraph_patch_resolutions_total",
		Help: "Fork patch resolutions by outcome (patched, unpatched, error)",
	}, []string{"outcome"})
)
