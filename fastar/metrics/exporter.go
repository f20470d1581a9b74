package metrics

import (
	"errors"
	"net/http"

	"github.com/Turakar/fastar-loader/fastar/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(IndexBuilds, CacheHits, CacheMisses)
	prometheus.MustRegister(SegmentsCreated, SegmentsAttached)
	prometheus.MustRegister(BlocksDecompressed, CompressedBytesRead, SequenceReads, TrackReads, ReadLatency)
}

// StartMetricsServer serves /metrics on addr in the background. The returned
// server can be shut down by the caller.
func StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("Prometheus exporter listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return srv
}

// ObserveBlockFetch records one compressed span fetch of n blocks.
func ObserveBlockFetch(blocks int, compressedBytes int64) {
	BlocksDecompressed.Add(float64(blocks))
	CompressedBytesRead.Add(float64(compressedBytes))
}
