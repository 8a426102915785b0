package partitionflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommittedOffset = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "keyflow",
		Subsystem: "partitionflow",
		Name:      "committed_offset",
		Help:      "The last offset committed for a partition.",
	}, []string{"partition"})
	// metricCommitDelta is CurrentOffset-CommittedOffset: how many offsets
	// of lag a live hold is currently imposing on the commit point.
	metricCommitDelta = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "keyflow",
		Subsystem: "partitionflow",
		Name:      "commit_delta",
		Help:      "Difference between the current and committed offset for a partition.",
	}, []string{"partition"})
	// metricPartitionLag is how far behind the broker's high watermark this
	// partition's consumption currently sits.
	metricPartitionLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "keyflow",
		Subsystem: "partitionflow",
		Name:      "partition_lag",
		Help:      "Number of records not yet consumed for a partition, per the last PollFetches high watermark.",
	}, []string{"partition"})
	metricKeysCached = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "keyflow",
		Subsystem: "partitionflow",
		Name:      "keys_cached",
		Help:      "Number of keys currently live in a partition's cache.",
	}, []string{"partition"})
	metricPollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                   "keyflow",
		Subsystem:                   "partitionflow",
		Name:                        "poll_duration_seconds",
		Help:                        "Time spent in one poll-and-apply cycle for a partition.",
		NativeHistogramBucketFactor: 1.1,
	}, []string{"partition"})
	metricFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyflow",
		Subsystem: "partitionflow",
		Name:      "fetch_errors_total",
		Help:      "Total number of errors returned by PollFetches.",
	}, []string{"partition"})
	metricCommitErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyflow",
		Subsystem: "partitionflow",
		Name:      "commit_errors_total",
		Help:      "Total number of errors committing an offset.",
	}, []string{"partition"})
	metricFlowFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyflow",
		Subsystem: "partitionflow",
		Name:      "flow_failures_total",
		Help:      "Total number of Apply calls that failed because a key's flow returned an error.",
	}, []string{"partition"})
)
