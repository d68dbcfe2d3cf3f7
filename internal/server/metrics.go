package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	getRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yesqueldb_get_requests_total",
			Help: "Total number of GET requests served",
		},
	)

	prepareRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yesqueldb_prepare_requests_total",
			Help: "Total number of PREPARE requests by outcome",
		},
		[]string{"outcome"},
	)

	commitRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yesqueldb_commit_requests_total",
			Help: "Total number of COMMIT requests served",
		},
	)

	abortRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yesqueldb_abort_requests_total",
			Help: "Total number of ABORT requests served",
		},
	)

	splitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yesqueldb_splits_total",
			Help: "Total number of node splits performed",
		},
	)

	pendingTxGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yesqueldb_pending_transactions",
			Help: "Number of transactions currently holding a prepare vote",
		},
	)

	staleReadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yesqueldb_stale_reads_total",
			Help: "Total number of reads that failed with StaleRead",
		},
	)
)

func init() {
	prometheus.MustRegister(getRequestsTotal)
	prometheus.MustRegister(prepareRequestsTotal)
	prometheus.MustRegister(commitRequestsTotal)
	prometheus.MustRegister(abortRequestsTotal)
	prometheus.MustRegister(splitsTotal)
	prometheus.MustRegister(pendingTxGauge)
	prometheus.MustRegister(staleReadsTotal)
}

// MetricsHandler exposes the server's Prometheus metrics for scraping.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
