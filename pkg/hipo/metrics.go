package hipo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level metric vectors, grounded on pkg/engine/metrics.go's
// promauto.New*Vec style: declared once at import time, labeled per call
// site rather than threaded through as dependencies.
var (
	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hipo_records_written_total",
		Help: "Number of data records written to disk, by stream.",
	}, []string{"stream_id"})

	RecordsCompressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hipo_records_compressed_total",
		Help: "Number of records compressed by a compressor worker, by stream.",
	}, []string{"stream_id"})

	BytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hipo_bytes_written_total",
		Help: "Bytes written to disk across all files, by stream.",
	}, []string{"stream_id"})

	CompressionRatio = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hipo_compression_ratio",
		Help:    "compressedLength / uncompressedLength per record, by codec.",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"compression_type"})

	RingFillLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hipo_ring_fill_level",
		Help: "Published-but-unreleased ring slots, by stream.",
	}, []string{"stream_id"})

	DiskFullEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hipo_disk_full_events_total",
		Help: "Number of times the writer entered the disk-full holding protocol.",
	}, []string{"stream_id"})

	SplitEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hipo_split_events_total",
		Help: "Number of file splits performed.",
	}, []string{"stream_id"})
)
