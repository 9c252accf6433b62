package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsBuffered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "searchsift_events_buffered_total",
			Help: "Capture events accepted into the delivery queue",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchsift_events_dropped_total",
			Help: "Capture events dropped before buffering",
		},
		[]string{"reason"}, // stale, duplicate
	)

	BatchesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchsift_batches_sent_total",
			Help: "Delivery batches by terminal outcome",
		},
		[]string{"result"}, // delivered, auth_rejected, failed, requeued
	)

	SendRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "searchsift_send_retries_total",
			Help: "Retry attempts across all delivery batches",
		},
	)

	IngestRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchsift_ingest_requests_total",
			Help: "Ingest requests received by the backend",
		},
		[]string{"status"},
	)

	RecordsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "searchsift_records_inserted_total",
			Help: "Persisted records written by the ingestion endpoint",
		},
	)
)

// Server exposes /metrics for Prometheus scraping.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
