package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OperationsTotal        *prometheus.CounterVec
	OperationsInFlight     *prometheus.GaugeVec
	OperationDuration      *prometheus.HistogramVec
	SlowOperationsTotal    *prometheus.CounterVec
	QueriesTotal           *prometheus.CounterVec
	ReportedErrorsTotal    *prometheus.CounterVec
	StoreTransactionsTotal *prometheus.CounterVec
	HttpRequestsTotal      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_total",
			Help: "total number of wrapped sdk operations",
		}, []string{"name", "status"}),
		OperationsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "operations_in_flight",
			Help: "number of in flight sdk operations",
		}, []string{"name"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "operation_duration_seconds",
			Help:    "duration of settled sdk operations",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"name"}),
		SlowOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operations_slow_total",
			Help: "total number of sdk operations over the slow threshold",
		}, []string{"name"}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queries_total",
			Help: "total number of query cache fetches and mutations",
		}, []string{"kind", "status"}),
		ReportedErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reported_errors_total",
			Help: "total number of errors sent to diagnostics",
		}, []string{"kind"}),
		StoreTransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_transactions_total",
			Help: "total number of store transactions",
		}, []string{"kind", "status"}),
		HttpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "total number of http requests",
		}, []string{"route", "status"}),
	}

	metrics.Enable(reg)
	return metrics
}

func (m *Metrics) Enable(reg prometheus.Registerer) {
	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.OperationsInFlight)
	reg.MustRegister(m.OperationDuration)
	reg.MustRegister(m.SlowOperationsTotal)
	reg.MustRegister(m.QueriesTotal)
	reg.MustRegister(m.ReportedErrorsTotal)
	reg.MustRegister(m.StoreTransactionsTotal)
	reg.MustRegister(m.HttpRequestsTotal)
}

func (m *Metrics) Disable(reg prometheus.Registerer) {
	reg.Unregister(m.OperationsTotal)
	reg.Unregister(m.OperationsInFlight)
	reg.Unregister(m.OperationDuration)
	reg.Unregister(m.SlowOperationsTotal)
	reg.Unregister(m.QueriesTotal)
	reg.Unregister(m.ReportedErrorsTotal)
	reg.Unregister(m.StoreTransactionsTotal)
	reg.Unregister(m.HttpRequestsTotal)
}
