package metrics_test

import (
	"testing"

	"github.com/Turakar/fastar-loader/fastar/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func TestObserveBlockFetch(t *testing.T) {
	initialBlocks := getCounterValue(metrics.BlocksDecompressed)
	initialBytes := getCounterValue(metrics.CompressedBytesRead)

	metrics.ObserveBlockFetch(2, 1000)
	metrics.ObserveBlockFetch(1, 24)

	if got := getCounterValue(metrics.BlocksDecompressed); got != initialBlocks+3 {
		t.Fatalf("BlocksDecompressed expected %v, got %v", initialBlocks+3, got)
	}
	if got := getCounterValue(metrics.CompressedBytesRead); got != initialBytes+1024 {
		t.Fatalf("CompressedBytesRead expected %v, got %v", initialBytes+1024, got)
	}
}

func TestCollectorsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"fastar_index_builds_total",
		"fastar_cache_hits_total",
		"fastar_segments_created_total",
		"fastar_sequence_reads_total",
		"fastar_track_reads_total",
	} {
		if !names[want] {
			t.Errorf("metric %s is not registered", want)
		}
	}
}
