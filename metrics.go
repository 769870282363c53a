package cardiod

// Prometheus instrumentation for the pipeline, served on /metrics.

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	metricSamplesAcquired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiod_samples_acquired_total",
			Help: "Samples read from the data source and pushed into the pipeline",
		},
	)

	metricSamplesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiod_samples_dropped_total",
			Help: "Cadence slots lost to transient data source read failures",
		},
	)

	metricAcquisitionResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiod_acquisition_resyncs_total",
			Help: "Times the acquisition loop realigned its cadence after running late",
		},
	)

	metricBeatsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiod_beats_detected_total",
			Help: "R peaks detected by the analyzer",
		},
	)

	metricSamplesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiod_samples_written_total",
			Help: "Classified samples persisted to the output files",
		},
	)

	metricFilesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardiod_files_served_total",
			Help: "Files pushed to a TCP client",
		},
	)

	metricRingDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cardiod_ring_depth",
			Help: "Unread elements currently held in each ring buffer",
		},
		[]string{"buffer"},
	)
)

// counterValue reads a counter back out of the registry. Prometheus counters
// are the single source of truth for the run totals reported in heartbeats.
func counterValue(c prometheus.Counter) int64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

// StartMetricsServer serves /metrics on the given port until the returned
// server is shut down.
func StartMetricsServer(port int) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ProblemLogger.Printf("metrics server failed: %v", err)
		}
	}()
	return srv
}
