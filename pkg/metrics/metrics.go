// Package metrics exposes prometheus collectors for the sync engine.
//
// Collectors are registered on the default prometheus registry at init time
// and served by the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "volsync"

var (
	blobsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cafs",
		Name:      "blobs_written_total",
		Help:      "Number of blobs written to the content store.",
	})
	blobsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cafs",
		Name:      "blobs_deduplicated_total",
		Help:      "Number of blob writes skipped because the content was already stored.",
	})
	blobBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cafs",
		Name:      "written_bytes_total",
		Help:      "Bytes written to the content store backend.",
	})
	writeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "core",
		Name:      "writes_total",
		Help:      "File writes, by outcome (created, fast-forward, overwrite, conflicted).",
	}, []string{"outcome"})
	operations = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "core",
		Name:      "operation_duration_seconds",
		Help:      "Duration of volume operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "result"})
	openVolumes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "provision",
		Name:      "open_volumes",
		Help:      "Number of volume handles currently open.",
	})
)

func init() {
	prometheus.MustRegister(
		blobsWritten,
		blobsDuplicate,
		blobBytes,
		writeOutcomes,
		operations,
		openVolumes,
	)
}

// BlobWritten records a new blob
func BlobWritten(size int64) {
	blobsWritten.Inc()
	blobBytes.Add(float64(size))
}

// BlobDuplicate records a deduplicated blob
func BlobDuplicate() {
	blobsDuplicate.Inc()
}

// WriteOutcome records the outcome of a file write
func WriteOutcome(outcome string) {
	writeOutcomes.WithLabelValues(outcome).Inc()
}

// Since observes the duration of an operation started at some time
func Since(start time.Time, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operations.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

// VolumeOpened tracks open volume handles
func VolumeOpened() {
	openVolumes.Inc()
}

// VolumeClosed tracks open volume handles
func VolumeClosed() {
	openVolumes.Dec()
}
