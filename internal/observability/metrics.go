package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	transferCounter        *prometheus.CounterVec
	txRetryCounter         prometheus.Counter
	ledgerImbalanceCounter *prometheus.CounterVec
	notificationCounter    *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transferCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transfers_total",
			Help: "Processed transfer outcomes by purpose",
		}, []string{"purpose", "outcome"})

		txRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_tx_retries_total",
			Help: "Database transactions retried after serialization conflicts",
		})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_ledger_imbalance_total",
			Help: "Number of times ledger integrity checks found a violation",
		}, []string{"check"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_notifications_total",
			Help: "Balance-updated notification outcomes",
		}, []string{"result"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transferCounter,
			txRetryCounter,
			ledgerImbalanceCounter,
			notificationCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransfer(purpose, outcome string) {
	if transferCounter == nil {
		return
	}
	transferCounter.WithLabelValues(purpose, outcome).Inc()
}

func IncrementTxRetry() {
	if txRetryCounter == nil {
		return
	}
	txRetryCounter.Inc()
}

func IncrementLedgerImbalance(check string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(check).Inc()
}

func IncrementNotification(result string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(result).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
