// Package metrics exposes Prometheus counters for index loading and sequence
// and track reads.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IndexBuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_index_builds_total",
		Help: "Total number of archives built by parsing .fai and .gzi files",
	})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_cache_hits_total",
		Help: "Total number of archives loaded from a disk cache file",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_cache_misses_total",
		Help: "Total number of disk cache lookups that found no usable archive",
	})

	SegmentsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_segments_created_total",
		Help: "Total number of shared memory segments published by this process",
	})

	SegmentsAttached = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_segments_attached_total",
		Help: "Total number of shared memory segment attaches",
	})

	BlocksDecompressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_blocks_decompressed_total",
		Help: "Total number of compressed blocks decoded for sequence and track reads",
	})

	CompressedBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_compressed_bytes_read_total",
		Help: "Total number of compressed bytes fetched from sources",
	})

	SequenceReads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_sequence_reads_total",
		Help: "Total number of sequence read requests served",
	})

	TrackReads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fastar_track_reads_total",
		Help: "Total number of track value read requests served",
	})

	ReadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fastar_sequence_read_seconds",
		Help:    "Histogram of sequence and track read latency",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
	})
)
