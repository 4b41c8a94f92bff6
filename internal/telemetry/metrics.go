// Package telemetry provides opt-in Prometheus instrumentation for shelf
// stores and allocators. All record functions are cheap and safe to call
// whether or not a metrics endpoint is exposed.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics — global only (no unbounded label cardinality).
var (
	storeReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shelf_store_reads_total",
		Help: "Total full-document reads performed by shelf stores",
	})
	storeWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shelf_store_writes_total",
		Help: "Total full-document writes performed by shelf stores",
	})
	allocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shelf_allocations_total",
		Help: "Total counterbalance allocation calls by outcome",
	}, []string{"outcome"}) // outcome: assigned | exhausted
	slotRefillsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shelf_slot_refills_total",
		Help: "Total times a counterbalancer refilled group slots for a new repetition",
	})
)

func init() {
	// Register eagerly. If no Prometheus endpoint is exposed, the
	// registration is harmless.
	prometheus.MustRegister(storeReadsTotal, storeWritesTotal, allocationsTotal, slotRefillsTotal)
}

// RecordStoreRead counts one full-document read.
func RecordStoreRead() { storeReadsTotal.Inc() }

// RecordStoreWrite counts one full-document write.
func RecordStoreWrite() { storeWritesTotal.Inc() }

// RecordAllocation counts one allocation call and its outcome.
func RecordAllocation(exhausted bool) {
	if exhausted {
		allocationsTotal.WithLabelValues("exhausted").Inc()
		return
	}
	allocationsTotal.WithLabelValues("assigned").Inc()
}

// RecordSlotRefill counts one repetition refill.
func RecordSlotRefill() { slotRefillsTotal.Inc() }

// Serve exposes /metrics on addr in a background goroutine and returns the
// server so the caller can shut it down. If you already expose Prometheus
// elsewhere, don't call this and register promhttp yourself.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		// ErrServerClosed is the normal shutdown path; anything else is
		// a misconfigured addr and the process keeps running without
		// metrics.
		_ = srv.ListenAndServe()
	}()
	return srv
}
